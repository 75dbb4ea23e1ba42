package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/unilingo/progress-engine/pkg/logger"
	"github.com/unilingo/progress-engine/pkg/timeutil"
)

// Cache layers a MemoryTier over an optional persistent Tier.
//
// Reads check memory first, then the persistent tier, and promote persistent
// hits into memory with their original write time. Persistent-tier failures
// are logged and treated as misses so the cache never fails a read.
type Cache struct {
	memory     *MemoryTier
	persistent Tier
	policy     Policy
	now        timeutil.Clock
	log        *logger.Logger
}

// Option configures a Cache.
type Option func(*Cache)

// WithPersistent attaches the persistent tier.
func WithPersistent(t Tier) Option {
	return func(c *Cache) { c.persistent = t }
}

// WithClock overrides the clock.
func WithClock(clock timeutil.Clock) Option {
	return func(c *Cache) { c.now = clock }
}

// WithLogger sets the logger.
func WithLogger(l *logger.Logger) Option {
	return func(c *Cache) { c.log = l }
}

// New builds a Cache over memory.
func New(memory *MemoryTier, policy Policy, opts ...Option) *Cache {
	c := &Cache{
		memory: memory,
		policy: policy,
		now:    timeutil.SystemClock,
		log:    logger.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.With(logger.Component("cache"))
	return c
}

// Policy returns the TTL policy in use.
func (c *Cache) Policy() Policy {
	return c.policy
}

// Lookup returns the entry for key from the nearest tier holding it.
func (c *Cache) Lookup(ctx context.Context, key string) (*Entry, error) {
	if key == "" {
		return nil, ErrKeyEmpty
	}
	if e, err := c.memory.Get(ctx, key); err == nil {
		return e, nil
	}
	if c.persistent == nil {
		return nil, ErrMiss
	}

	e, err := c.persistent.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrMiss) {
			c.log.Warn("persistent tier read failed", logger.CacheKey(key), logger.Err(err))
		}
		return nil, ErrMiss
	}
	_ = c.memory.Set(ctx, key, e)
	return e, nil
}

// Get decodes the value at key into dest and reports whether it is fresh.
func (c *Cache) Get(ctx context.Context, key string, dest any) (fresh bool, err error) {
	e, err := c.Lookup(ctx, key)
	if err != nil {
		return false, err
	}
	if err := e.Decode(dest); err != nil {
		c.log.Warn("dropping undecodable entry", logger.CacheKey(key), logger.Err(err))
		_ = c.Delete(ctx, key)
		return false, ErrMiss
	}
	return e.Fresh(c.now(), c.policy.Freshness), nil
}

// IsFresh reports whether key holds an entry written within the freshness window.
func (c *Cache) IsFresh(ctx context.Context, key string) bool {
	e, err := c.Lookup(ctx, key)
	if err != nil {
		return false
	}
	return e.Fresh(c.now(), c.policy.Freshness)
}

// Set writes value under key in both tiers with the given kind's TTL.
func (c *Cache) Set(ctx context.Context, kind Kind, userID string, value any) error {
	return c.SetKey(ctx, Key(kind, userID), value, c.policy.TTL(kind))
}

// SetKey writes value under an explicit key and TTL.
func (c *Cache) SetKey(ctx context.Context, key string, value any, ttl time.Duration) error {
	if key == "" {
		return ErrKeyEmpty
	}
	e, err := NewEntry(value, c.now(), ttl)
	if err != nil {
		return err
	}
	return c.SetEntry(ctx, key, e)
}

// SetEntry stores a prepared entry in both tiers. A persistent-tier failure is
// logged and does not fail the write, since the memory copy is still usable.
func (c *Cache) SetEntry(ctx context.Context, key string, e *Entry) error {
	if err := c.memory.Set(ctx, key, e); err != nil {
		return err
	}
	if c.persistent != nil {
		if err := c.persistent.Set(ctx, key, e); err != nil {
			c.log.Warn("persistent tier write failed", logger.CacheKey(key), logger.Err(err))
		}
	}
	return nil
}

// Delete removes keys from both tiers.
func (c *Cache) Delete(ctx context.Context, keys ...string) error {
	_ = c.memory.Delete(ctx, keys...)
	if c.persistent == nil {
		return nil
	}
	if err := c.persistent.Delete(ctx, keys...); err != nil {
		return fmt.Errorf("cache: delete from persistent tier: %w", err)
	}
	return nil
}

// InvalidateUser deletes every kind of cached data for userID from both tiers.
func (c *Cache) InvalidateUser(ctx context.Context, userID string) error {
	return c.Delete(ctx, UserKeys(userID)...)
}

// ClearAll empties both tiers.
func (c *Cache) ClearAll(ctx context.Context) error {
	_ = c.memory.Clear(ctx)
	if c.persistent == nil {
		return nil
	}
	if err := c.persistent.Clear(ctx); err != nil {
		return fmt.Errorf("cache: clear persistent tier: %w", err)
	}
	return nil
}
