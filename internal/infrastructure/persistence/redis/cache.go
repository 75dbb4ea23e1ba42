// Package redis implements the persistent progress-cache tier on Redis.
//
// Entries are stored as JSON envelopes carrying their write time and logical
// expiry under "progress_cache_<key>". Redis expires the key at the same
// instant, and reads re-check the envelope so an injected clock is honored.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/unilingo/progress-engine/internal/infrastructure/cache"
	"github.com/unilingo/progress-engine/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// Config holds Redis connection configuration.
type Config struct {
	// Addr is "host:port".
	Addr string

	// Password is the Redis authentication password (empty if no auth).
	Password string

	// DB is the Redis database number (0-15).
	DB int

	// PoolSize is the maximum number of socket connections.
	PoolSize int

	// MinIdleConns is the minimum number of idle connections.
	MinIdleConns int

	// MaxRetries is the maximum number of retries before giving up.
	MaxRetries int

	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// KeyPrefix namespaces every key written by the tier.
	KeyPrefix string
}

// DefaultConfig returns a sensible default configuration.
func DefaultConfig() Config {
	return Config{
		Addr:         "localhost:6379",
		PoolSize:     10,
		MinIdleConns: 2,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		KeyPrefix:    DefaultKeyPrefix,
	}
}

// DefaultKeyPrefix is the namespace for persisted progress cache entries.
const DefaultKeyPrefix = "progress_cache_"

// ══════════════════════════════════════════════════════════════════════════════
// ERRORS
// ══════════════════════════════════════════════════════════════════════════════

var (
	// ErrCacheConnection is returned when Redis connection fails.
	ErrCacheConnection = errors.New("cache: connection failed")

	// ErrCacheCorrupt is returned when a stored envelope cannot be decoded.
	ErrCacheCorrupt = errors.New("cache: corrupt entry")
)

// ══════════════════════════════════════════════════════════════════════════════
// TIER
// ══════════════════════════════════════════════════════════════════════════════

// Tier is the persistent cache level. It implements cache.Tier.
type Tier struct {
	client *redis.Client
	prefix string
	now    timeutil.Clock
}

var _ cache.Tier = (*Tier)(nil)

// NewTier connects to Redis and verifies the connection.
func NewTier(cfg Config) (*Tier, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		MaxRetries:   cfg.MaxRetries,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: %v", ErrCacheConnection, err)
	}

	return NewTierFromClient(client, cfg.KeyPrefix, nil), nil
}

// NewTierFromClient wraps an existing client. A nil clock uses the wall clock.
func NewTierFromClient(client *redis.Client, prefix string, clock timeutil.Clock) *Tier {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	if clock == nil {
		clock = timeutil.SystemClock
	}
	return &Tier{client: client, prefix: prefix, now: clock}
}

// Close closes the Redis connection.
func (t *Tier) Close() error {
	return t.client.Close()
}

// Ping checks if Redis is reachable.
func (t *Tier) Ping(ctx context.Context) error {
	return t.client.Ping(ctx).Err()
}

func (t *Tier) key(k string) string {
	return t.prefix + k
}

// Get loads an entry. Expired envelopes are deleted and reported as a miss.
func (t *Tier) Get(ctx context.Context, key string) (*cache.Entry, error) {
	if key == "" {
		return nil, cache.ErrKeyEmpty
	}

	data, err := t.client.Get(ctx, t.key(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, cache.ErrMiss
		}
		return nil, fmt.Errorf("redis get %s: %w", key, err)
	}

	var e cache.Entry
	if err := json.Unmarshal(data, &e); err != nil {
		_ = t.client.Del(ctx, t.key(key)).Err()
		return nil, fmt.Errorf("%w: %s: %v", ErrCacheCorrupt, key, err)
	}

	if e.Expired(t.now()) {
		if err := t.client.Del(ctx, t.key(key)).Err(); err != nil {
			return nil, fmt.Errorf("redis evict %s: %w", key, err)
		}
		return nil, cache.ErrMiss
	}
	return &e, nil
}

// Set stores e with a Redis TTL matching its remaining lifetime.
func (t *Tier) Set(ctx context.Context, key string, e *cache.Entry) error {
	if key == "" {
		return cache.ErrKeyEmpty
	}
	ttl := e.ExpiresAt.Sub(t.now())
	if ttl <= 0 {
		return nil
	}

	data, err := json.Marshal(e)
	if err != nil {
		return errors.Join(cache.ErrSerialization, err)
	}
	if err := t.client.Set(ctx, t.key(key), data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// Delete removes keys.
func (t *Tier) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = t.key(k)
	}
	return t.client.Del(ctx, full...).Err()
}

// Clear removes every key under the tier's prefix.
func (t *Tier) Clear(ctx context.Context) error {
	return t.DeleteByPattern(ctx, escapePattern(t.prefix)+"*")
}

// DeleteByPattern deletes all keys matching a pattern with SCAN and batched DEL.
// Use with caution in production as SCAN can be slow on large datasets.
func (t *Tier) DeleteByPattern(ctx context.Context, pattern string) error {
	if pattern == "" {
		return cache.ErrKeyEmpty
	}

	iter := t.client.Scan(ctx, 0, pattern, 100).Iterator()
	var keys []string

	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
		if len(keys) >= 100 {
			if err := t.client.Del(ctx, keys...).Err(); err != nil {
				return err
			}
			keys = keys[:0]
		}
	}

	if err := iter.Err(); err != nil {
		return err
	}

	if len(keys) > 0 {
		return t.client.Del(ctx, keys...).Err()
	}

	return nil
}

var patternEscaper = strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)

func escapePattern(s string) string {
	return patternEscaper.Replace(s)
}
