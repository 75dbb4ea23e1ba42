// Package cache implements the two-level progress cache: a short-lived
// in-process map in front of a longer-lived persistent tier.
//
// Every entry carries its write time and expiry. An entry is usable until it
// expires, but only "fresh" during a shorter window after it was written;
// readers serve stale entries and schedule a refresh.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// ERRORS
// ══════════════════════════════════════════════════════════════════════════════

var (
	// ErrMiss is returned when a key is absent or expired.
	ErrMiss = errors.New("cache: key not found")

	// ErrKeyEmpty is returned when an empty key is provided.
	ErrKeyEmpty = errors.New("cache: key cannot be empty")

	// ErrInvalidTTL is returned for non-positive TTLs.
	ErrInvalidTTL = errors.New("cache: invalid TTL")

	// ErrSerialization wraps JSON encode/decode failures.
	ErrSerialization = errors.New("cache: serialization failed")
)

// ══════════════════════════════════════════════════════════════════════════════
// ENTRY
// ══════════════════════════════════════════════════════════════════════════════

// Entry is an immutable cached value. Data holds the JSON encoding of the
// cached object, so callers always decode a private copy.
type Entry struct {
	Data      json.RawMessage `json:"data"`
	WrittenAt time.Time       `json:"written_at"`
	ExpiresAt time.Time       `json:"expires_at"`
}

// NewEntry encodes value into an entry written at now and expiring after ttl.
func NewEntry(value any, now time.Time, ttl time.Duration) (*Entry, error) {
	if ttl <= 0 {
		return nil, ErrInvalidTTL
	}
	data, err := json.Marshal(value)
	if err != nil {
		return nil, errors.Join(ErrSerialization, err)
	}
	return &Entry{Data: data, WrittenAt: now.UTC(), ExpiresAt: now.UTC().Add(ttl)}, nil
}

// Expired reports whether now is past the entry's expiry.
func (e *Entry) Expired(now time.Time) bool {
	return !now.Before(e.ExpiresAt)
}

// Fresh reports whether the entry was written less than window ago.
func (e *Entry) Fresh(now time.Time, window time.Duration) bool {
	return now.Sub(e.WrittenAt) < window
}

// Decode unmarshals the entry's data into dest.
func (e *Entry) Decode(dest any) error {
	if err := json.Unmarshal(e.Data, dest); err != nil {
		return errors.Join(ErrSerialization, err)
	}
	return nil
}

// Tier is one cache level. Get returns ErrMiss for absent or expired keys and
// removes an expired entry as a side effect.
type Tier interface {
	Get(ctx context.Context, key string) (*Entry, error)
	Set(ctx context.Context, key string, e *Entry) error
	Delete(ctx context.Context, keys ...string) error
	Clear(ctx context.Context) error
}
