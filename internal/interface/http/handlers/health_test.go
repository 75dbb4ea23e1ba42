package handlers

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestCompositeHealthChecker_NoChecks(t *testing.T) {
	status := NewCompositeHealthChecker("test").Check(context.Background())
	assert.True(t, status.Healthy)
	assert.Equal(t, "No health checks registered", status.Message)
}

func TestCompositeHealthChecker_AllPass(t *testing.T) {
	hc := NewCompositeHealthChecker("1.0.0")
	hc.AddCheck("store", NewStoreCheck(pingFunc(func(context.Context) error { return nil })))
	hc.AddCheck("cache", NewCacheCheck(pingFunc(func(context.Context) error { return nil })))

	status := hc.Check(context.Background())
	assert.True(t, status.Healthy)
	assert.True(t, status.Ready)
	assert.Equal(t, "1.0.0", status.Version)
	require.Len(t, status.Checks, 2)
	assert.Equal(t, "OK", status.Checks["store"].Message)
}

func TestCompositeHealthChecker_Failure(t *testing.T) {
	hc := NewCompositeHealthChecker("1.0.0")
	hc.AddCheck("store", NewStoreCheck(pingFunc(func(context.Context) error { return nil })))
	hc.AddCheck("cache", NewCacheCheck(pingFunc(func(context.Context) error { return errors.New("connection refused") })))

	status := hc.Check(context.Background())
	assert.False(t, status.Healthy)
	assert.False(t, status.Ready)
	assert.Equal(t, "Some checks failed: cache", status.Message)
	assert.Equal(t, "connection refused", status.Checks["cache"].Message)
	assert.True(t, status.Checks["store"].Healthy)
}

func TestCompositeHealthChecker_Timeout(t *testing.T) {
	hc := NewCompositeHealthChecker("1.0.0")
	hc.SetTimeout(20 * time.Millisecond)
	hc.AddCheck("slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	status := hc.Check(context.Background())
	assert.False(t, status.Healthy)
	assert.Equal(t, context.DeadlineExceeded.Error(), status.Checks["slow"].Message)
}

func TestCompositeHealthChecker_RemoveCheck(t *testing.T) {
	hc := NewCompositeHealthChecker("1.0.0")
	hc.AddCheck("broken", func(context.Context) error { return errors.New("down") })
	hc.RemoveCheck("broken")

	assert.True(t, hc.Check(context.Background()).Healthy)
}
