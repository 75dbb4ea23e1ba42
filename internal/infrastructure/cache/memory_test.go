package cache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestMemoryTier_GetEvictsExpired(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	m := NewMemoryTier(0, WithMemoryClock(clock.Now))

	e, err := NewEntry("v", clock.Now(), time.Minute)
	require.NoError(t, err)
	require.NoError(t, m.Set(ctx, "k", e))

	got, err := m.Get(ctx, "k")
	require.NoError(t, err)
	assert.JSONEq(t, `"v"`, string(got.Data))

	clock.Advance(time.Minute)
	_, err = m.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrMiss)
	assert.Equal(t, 0, m.Len(), "expired entry is removed on read")
}

func TestMemoryTier_MaxTTLCapsResidency(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	m := NewMemoryTier(10*time.Second, WithMemoryClock(clock.Now))

	e, _ := NewEntry(1, clock.Now(), time.Hour)
	require.NoError(t, m.Set(ctx, "k", e))

	clock.Advance(9 * time.Second)
	_, err := m.Get(ctx, "k")
	require.NoError(t, err)

	clock.Advance(time.Second)
	_, err = m.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrMiss)
}

func TestMemoryTier_Sweep(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	m := NewMemoryTier(0, WithMemoryClock(clock.Now))

	short, _ := NewEntry(1, clock.Now(), time.Minute)
	long, _ := NewEntry(2, clock.Now(), time.Hour)
	require.NoError(t, m.Set(ctx, "short", short))
	require.NoError(t, m.Set(ctx, "long", long))

	clock.Advance(2 * time.Minute)

	assert.Equal(t, 1, m.Sweep())
	assert.Equal(t, 1, m.Len())
	_, err := m.Get(ctx, "long")
	assert.NoError(t, err)
}

func TestMemoryTier_JanitorLifecycle(t *testing.T) {
	m := NewMemoryTier(0)

	assert.Error(t, m.StartJanitor(0))
	require.NoError(t, m.StartJanitor(time.Hour))
	require.NoError(t, m.StartJanitor(time.Hour), "second start is a no-op")

	m.Close()
	assert.Equal(t, 0, m.Len())
}

func TestEntry_FreshnessVersusExpiry(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	policy := Policy{Default: 300 * time.Second, Freshness: 60 * time.Second}
	c := New(NewMemoryTier(0, WithMemoryClock(clock.Now)), policy, WithClock(clock.Now))

	require.NoError(t, c.Set(ctx, KindInsights, "u1", map[string]int{"n": 1}))
	key := Key(KindInsights, "u1")

	checks := []struct {
		at      time.Duration
		present bool
		fresh   bool
	}{
		{0, true, true},
		{59 * time.Second, true, true},
		{60 * time.Second, true, false},
		{299 * time.Second, true, false},
		{300 * time.Second, false, false},
	}

	start := clock.Now()
	for _, chk := range checks {
		clock.mu.Lock()
		clock.now = start.Add(chk.at)
		clock.mu.Unlock()

		var v map[string]int
		fresh, err := c.Get(ctx, key, &v)
		if !chk.present {
			assert.ErrorIs(t, err, ErrMiss, "at %s", chk.at)
			continue
		}
		require.NoError(t, err, "at %s", chk.at)
		assert.Equal(t, chk.fresh, fresh, "at %s", chk.at)
		assert.Equal(t, chk.fresh, c.IsFresh(ctx, key), "at %s", chk.at)
		assert.Equal(t, 1, v["n"])
	}
}

func TestPolicy_TTL(t *testing.T) {
	p := DefaultPolicy()

	assert.Equal(t, time.Minute, p.TTL(KindRecentActivities))
	assert.Equal(t, 30*time.Minute, p.TTL(KindMonthlyProgress))
	assert.Equal(t, p.Default, p.TTL(Kind("unknown")))
	assert.Less(t, p.TTL(KindRecentActivities), p.TTL(KindWeeklyProgress))
}

func TestUserKeys(t *testing.T) {
	keys := UserKeys("u1")

	assert.Len(t, keys, len(Kinds))
	assert.Contains(t, keys, "progress_insights_u1")
	assert.Contains(t, keys, "study_dates_u1")
}
