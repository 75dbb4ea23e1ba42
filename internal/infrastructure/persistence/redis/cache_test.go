package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unilingo/progress-engine/internal/infrastructure/cache"
)

func newTestTier(t *testing.T, now *time.Time) (*Tier, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewTierFromClient(client, "", func() time.Time { return *now }), mr
}

func TestTier_SetGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tier, mr := newTestTier(t, &now)

	e, err := cache.NewEntry(map[string]int{"streak": 4}, now, 2*time.Minute)
	require.NoError(t, err)
	require.NoError(t, tier.Set(ctx, "streak_u1", e))

	assert.True(t, mr.Exists("progress_cache_streak_u1"))
	assert.Equal(t, 2*time.Minute, mr.TTL("progress_cache_streak_u1"))

	got, err := tier.Get(ctx, "streak_u1")
	require.NoError(t, err)
	assert.Equal(t, e.WrittenAt, got.WrittenAt)
	assert.Equal(t, e.ExpiresAt, got.ExpiresAt)
	assert.JSONEq(t, `{"streak":4}`, string(got.Data))
}

func TestTier_ExpiredEnvelopeIsEvictedOnRead(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tier, mr := newTestTier(t, &now)

	e, _ := cache.NewEntry(1, now, time.Minute)
	require.NoError(t, tier.Set(ctx, "k", e))

	now = now.Add(time.Minute)
	_, err := tier.Get(ctx, "k")
	assert.ErrorIs(t, err, cache.ErrMiss)
	assert.False(t, mr.Exists("progress_cache_k"))
}

func TestTier_SkipsAlreadyExpiredWrites(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tier, mr := newTestTier(t, &now)

	e, _ := cache.NewEntry(1, now.Add(-time.Hour), time.Minute)
	require.NoError(t, tier.Set(ctx, "k", e))
	assert.False(t, mr.Exists("progress_cache_k"))
}

func TestTier_CorruptEntry(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	tier, mr := newTestTier(t, &now)

	require.NoError(t, mr.Set("progress_cache_k", "{not json"))

	_, err := tier.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrCacheCorrupt)
	assert.False(t, mr.Exists("progress_cache_k"))
}

func TestTier_ClearOnlyTouchesPrefix(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	tier, mr := newTestTier(t, &now)

	for _, k := range []string{"a", "b", "c"} {
		e, _ := cache.NewEntry(k, now, time.Minute)
		require.NoError(t, tier.Set(ctx, k, e))
	}
	require.NoError(t, mr.Set("unrelated", "x"))

	require.NoError(t, tier.Clear(ctx))

	assert.Equal(t, []string{"unrelated"}, mr.Keys())
}

func TestEscapePattern(t *testing.T) {
	assert.Equal(t, `a\*b\?c\[d\]`, escapePattern("a*b?c[d]"))
}
