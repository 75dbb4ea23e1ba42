package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-co-op/gocron"

	"github.com/unilingo/progress-engine/pkg/logger"
	"github.com/unilingo/progress-engine/pkg/timeutil"
)

type memEntry struct {
	entry   *Entry
	evictAt time.Time
}

// MemoryTier is the in-process tier. Access never blocks on I/O.
// Each entry is held for at most MaxTTL even when its logical expiry is later.
type MemoryTier struct {
	mu      sync.Mutex
	entries map[string]memEntry
	maxTTL  time.Duration
	now     timeutil.Clock
	log     *logger.Logger

	janitor *gocron.Scheduler
}

// MemoryOption configures a MemoryTier.
type MemoryOption func(*MemoryTier)

// WithMemoryClock overrides the clock.
func WithMemoryClock(clock timeutil.Clock) MemoryOption {
	return func(m *MemoryTier) { m.now = clock }
}

// WithMemoryLogger sets the logger.
func WithMemoryLogger(l *logger.Logger) MemoryOption {
	return func(m *MemoryTier) { m.log = l }
}

// NewMemoryTier creates an empty in-process tier. maxTTL <= 0 disables the cap.
func NewMemoryTier(maxTTL time.Duration, opts ...MemoryOption) *MemoryTier {
	m := &MemoryTier{
		entries: make(map[string]memEntry),
		maxTTL:  maxTTL,
		now:     timeutil.SystemClock,
		log:     logger.Nop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Get returns the entry for key, evicting it if it has expired.
func (m *MemoryTier) Get(_ context.Context, key string) (*Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	me, ok := m.entries[key]
	if !ok {
		return nil, ErrMiss
	}
	now := m.now()
	if !now.Before(me.evictAt) || me.entry.Expired(now) {
		delete(m.entries, key)
		return nil, ErrMiss
	}
	return me.entry, nil
}

// Set stores e under key.
func (m *MemoryTier) Set(_ context.Context, key string, e *Entry) error {
	if key == "" {
		return ErrKeyEmpty
	}
	evictAt := e.ExpiresAt
	if m.maxTTL > 0 {
		if capAt := m.now().Add(m.maxTTL); capAt.Before(evictAt) {
			evictAt = capAt
		}
	}

	m.mu.Lock()
	m.entries[key] = memEntry{entry: e, evictAt: evictAt}
	m.mu.Unlock()
	return nil
}

// Delete removes keys. Missing keys are ignored.
func (m *MemoryTier) Delete(_ context.Context, keys ...string) error {
	m.mu.Lock()
	for _, k := range keys {
		delete(m.entries, k)
	}
	m.mu.Unlock()
	return nil
}

// Clear drops every entry.
func (m *MemoryTier) Clear(_ context.Context) error {
	m.mu.Lock()
	m.entries = make(map[string]memEntry)
	m.mu.Unlock()
	return nil
}

// Len returns the number of held entries, expired ones included.
func (m *MemoryTier) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// Sweep removes every expired entry and returns how many were removed.
func (m *MemoryTier) Sweep() int {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for k, me := range m.entries {
		if !now.Before(me.evictAt) || me.entry.Expired(now) {
			delete(m.entries, k)
			removed++
		}
	}
	return removed
}

// ══════════════════════════════════════════════════════════════════════════════
// JANITOR
// ══════════════════════════════════════════════════════════════════════════════

// StartJanitor runs Sweep every interval until Close is called.
func (m *MemoryTier) StartJanitor(interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("cache: janitor interval must be positive, got %s", interval)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.janitor != nil {
		return nil
	}

	s := gocron.NewScheduler(time.UTC)
	s.SingletonModeAll()
	s.WaitForScheduleAll()
	if _, err := s.Every(interval).Do(m.sweepJob); err != nil {
		return fmt.Errorf("cache: schedule sweep: %w", err)
	}
	s.StartAsync()
	m.janitor = s

	m.log.Info("cache janitor started", logger.Component("memory_tier"), logger.Duration("interval", interval))
	return nil
}

func (m *MemoryTier) sweepJob() {
	start := time.Now()
	removed := m.Sweep()
	if removed > 0 {
		m.log.Debug("cache sweep",
			logger.Component("memory_tier"),
			logger.Int("removed", removed),
			logger.Latency(time.Since(start)),
		)
	}
}

// Close stops the janitor and drops all entries.
func (m *MemoryTier) Close() {
	m.mu.Lock()
	janitor := m.janitor
	m.janitor = nil
	m.entries = make(map[string]memEntry)
	m.mu.Unlock()

	if janitor != nil {
		janitor.Stop()
	}
}
