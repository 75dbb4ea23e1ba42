package query

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/unilingo/progress-engine/internal/domain/activity"
	"github.com/unilingo/progress-engine/internal/infrastructure/cache"
	"github.com/unilingo/progress-engine/pkg/keylock"
	"github.com/unilingo/progress-engine/pkg/logger"
	"github.com/unilingo/progress-engine/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// PROGRESS SERVICE
// Cache-first reads of a user's insights and study dates:
//
//	fresh hit  → return it
//	stale hit  → return it and refresh in a detached goroutine
//	miss       → recompute, store, return
//
// Recomputes for the same user and generation share one upstream fetch. Every
// clear or forced refresh bumps the user's generation, and a recompute that
// started under an older generation is not written back.
// Public reads never return errors: failures are logged and the last known
// value (or nil) is returned.
// ══════════════════════════════════════════════════════════════════════════════

// stamp identifies the cache state a recompute started from.
type stamp struct {
	epoch uint64 // bumped by ClearAll
	gen   uint64 // bumped per user
}

// DefaultFallbackLimit is how many users keep a last known snapshot.
const DefaultFallbackLimit = 10000

// knownInsights is a last known snapshot and when it was remembered.
type knownInsights struct {
	ins *ProgressInsights
	at  time.Time
}

// ServiceOption configures a ProgressService.
type ServiceOption func(*ProgressService)

// WithFallbackLimit caps how many users keep a last known snapshot. When the
// cap is reached the oldest tenth is dropped.
func WithFallbackLimit(n int) ServiceOption {
	return func(s *ProgressService) {
		if n > 0 {
			s.fallbackLimit = n
		}
	}
}

// ProgressService is the single read entry point over the progress engine.
type ProgressService struct {
	cache      *cache.Cache
	builder    *SnapshotBuilder
	activities activity.Repository

	flight      singleflight.Group
	writeLocks  *keylock.Locker
	mu          sync.Mutex
	epoch       uint64
	generations map[string]uint64
	lastKnown   map[string]knownInsights
	inflight    map[string]struct{}
	closed      bool

	fallbackLimit int

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	now timeutil.Clock
	log *logger.Logger
}

// NewProgressService wires the facade. Call Close to stop background refreshes.
func NewProgressService(c *cache.Cache, builder *SnapshotBuilder, activities activity.Repository, log *logger.Logger, clock timeutil.Clock, opts ...ServiceOption) *ProgressService {
	if clock == nil {
		clock = timeutil.SystemClock
	}
	if log == nil {
		log = logger.Nop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &ProgressService{
		cache:         c,
		builder:       builder,
		activities:    activities,
		writeLocks:    keylock.New(),
		generations:   make(map[string]uint64),
		lastKnown:     make(map[string]knownInsights),
		inflight:      make(map[string]struct{}),
		fallbackLimit: DefaultFallbackLimit,
		baseCtx:       ctx,
		cancel:        cancel,
		now:           clock,
		log:           log.With(logger.Component("progress_service")),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ══════════════════════════════════════════════════════════════════════════════
// INSIGHTS
// ══════════════════════════════════════════════════════════════════════════════

// GetInsights returns the user's insights, or nil when none could be computed
// and nothing was cached before. force skips the cache and recomputes.
func (s *ProgressService) GetInsights(ctx context.Context, userID string, force bool) *ProgressInsights {
	if strings.TrimSpace(userID) == "" {
		s.log.Warn("insights requested without user id")
		return nil
	}
	if force {
		return s.ForceRefresh(ctx, userID)
	}

	var cached ProgressInsights
	fresh, err := s.cache.Get(ctx, cache.Key(cache.KindInsights, userID), &cached)
	if err == nil {
		s.remember(userID, &cached)
		if !fresh {
			s.refreshAsync(cache.KindInsights, userID)
		}
		return &cached
	}

	ins, err := s.recomputeInsights(ctx, userID, false)
	if err != nil {
		s.log.Error("insights recompute failed", logger.UserID(userID), logger.Err(err))
		return s.fallback(userID)
	}
	return ins
}

// ForceRefresh recomputes the user's insights from the store, ignoring every
// cached part. A background refresh already running for the user will not
// overwrite the result.
func (s *ProgressService) ForceRefresh(ctx context.Context, userID string) *ProgressInsights {
	if strings.TrimSpace(userID) == "" {
		return nil
	}
	s.bump(userID)

	ins, err := s.recomputeInsights(ctx, userID, true)
	if err != nil {
		s.log.Error("forced refresh failed", logger.UserID(userID), logger.Err(err))
		return s.fallback(userID)
	}
	return ins
}

// recomputeInsights builds and stores a snapshot. Concurrent callers for the
// same user and generation share one build.
func (s *ProgressService) recomputeInsights(ctx context.Context, userID string, force bool) (*ProgressInsights, error) {
	st := s.stamp(userID)
	key := fmt.Sprintf("insights/%s/%d/%d", userID, st.epoch, st.gen)

	v, err, _ := s.flight.Do(key, func() (any, error) {
		ctx, cancel := s.detach(ctx)
		defer cancel()

		if !force {
			var cached ProgressInsights
			if fresh, err := s.cache.Get(ctx, cache.Key(cache.KindInsights, userID), &cached); err == nil && fresh {
				return &cached, nil
			}
		}

		start := time.Now()
		ins, parts, err := s.builder.build(ctx, userID, !force)
		if err != nil {
			return nil, err
		}
		s.storeInsights(ctx, userID, st, ins, parts)
		s.log.Debug("insights recomputed", logger.UserID(userID), logger.Bool("forced", force), logger.Latency(time.Since(start)))
		return ins, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*ProgressInsights), nil
}

// storeInsights writes the snapshot and its parts unless the user's cache was
// cleared after the build started.
func (s *ProgressService) storeInsights(ctx context.Context, userID string, st stamp, ins *ProgressInsights, parts *snapshotParts) {
	unlock := s.writeLocks.Lock(userID)
	defer unlock()

	if !s.current(userID, st) {
		s.log.Debug("discarding stale insights write", logger.UserID(userID))
		return
	}

	for kind, v := range parts.cacheable() {
		if err := s.cache.Set(ctx, kind, userID, v); err != nil {
			s.log.Warn("cache part write failed", logger.UserID(userID), logger.CacheKey(cache.Key(kind, userID)), logger.Err(err))
		}
	}
	if err := s.cache.Set(ctx, cache.KindInsights, userID, ins); err != nil {
		s.log.Warn("insights cache write failed", logger.UserID(userID), logger.Err(err))
	}
	s.remember(userID, ins)
}

// ══════════════════════════════════════════════════════════════════════════════
// STUDY DATES
// ══════════════════════════════════════════════════════════════════════════════

// GetStudyDates returns the distinct days the user studied on, newest first.
// It returns nil when the store fails and nothing is cached.
func (s *ProgressService) GetStudyDates(ctx context.Context, userID string) []timeutil.Date {
	if strings.TrimSpace(userID) == "" {
		return nil
	}

	var cached []timeutil.Date
	fresh, err := s.cache.Get(ctx, cache.Key(cache.KindStudyDates, userID), &cached)
	if err == nil {
		if !fresh {
			s.refreshAsync(cache.KindStudyDates, userID)
		}
		return cached
	}

	dates, err := s.recomputeStudyDates(ctx, userID)
	if err != nil {
		s.log.Error("study dates recompute failed", logger.UserID(userID), logger.Err(err))
		return nil
	}
	return dates
}

func (s *ProgressService) recomputeStudyDates(ctx context.Context, userID string) ([]timeutil.Date, error) {
	st := s.stamp(userID)
	key := fmt.Sprintf("dates/%s/%d/%d", userID, st.epoch, st.gen)

	v, err, _ := s.flight.Do(key, func() (any, error) {
		ctx, cancel := s.detach(ctx)
		defer cancel()
		records, err := s.activities.QueryActivities(ctx, userID, activity.Filter{})
		if err != nil {
			return nil, err
		}
		dates := activity.StudyDates(records)

		unlock := s.writeLocks.Lock(userID)
		defer unlock()
		if s.current(userID, st) {
			if err := s.cache.Set(ctx, cache.KindStudyDates, userID, dates); err != nil {
				s.log.Warn("study dates cache write failed", logger.UserID(userID), logger.Err(err))
			}
		}
		return dates, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]timeutil.Date), nil
}

// ══════════════════════════════════════════════════════════════════════════════
// INVALIDATION AND LIFECYCLE
// ══════════════════════════════════════════════════════════════════════════════

// ClearUserCache drops every cached view of the user. Recomputes that started
// before the call will not write their results.
func (s *ProgressService) ClearUserCache(ctx context.Context, userID string) {
	unlock := s.writeLocks.Lock(userID)
	defer unlock()

	s.mu.Lock()
	s.generations[userID]++
	delete(s.lastKnown, userID)
	s.mu.Unlock()

	if err := s.cache.InvalidateUser(ctx, userID); err != nil {
		s.log.Warn("cache invalidation failed", logger.UserID(userID), logger.Err(err))
	}
}

// ClearAll drops every cached view of every user.
func (s *ProgressService) ClearAll(ctx context.Context) {
	s.mu.Lock()
	s.epoch++
	s.lastKnown = make(map[string]knownInsights)
	s.mu.Unlock()

	if err := s.cache.ClearAll(ctx); err != nil {
		s.log.Warn("cache clear failed", logger.Err(err))
	}
}

// Prefetch warms the user's insights and study dates in the background when
// they are not fresh. It does not block.
func (s *ProgressService) Prefetch(ctx context.Context, userID string) {
	if strings.TrimSpace(userID) == "" {
		return
	}
	if !s.cache.IsFresh(ctx, cache.Key(cache.KindInsights, userID)) {
		s.refreshAsync(cache.KindInsights, userID)
	}
	if !s.cache.IsFresh(ctx, cache.Key(cache.KindStudyDates, userID)) {
		s.refreshAsync(cache.KindStudyDates, userID)
	}
}

// Close cancels background refreshes and waits for them to return.
func (s *ProgressService) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
}

// refreshAsync starts a detached recompute unless one is already running
// for the same kind and user.
func (s *ProgressService) refreshAsync(kind cache.Kind, userID string) {
	marker := cache.Key(kind, userID)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if _, busy := s.inflight[marker]; busy {
		s.mu.Unlock()
		return
	}
	s.inflight[marker] = struct{}{}
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		defer func() {
			s.mu.Lock()
			delete(s.inflight, marker)
			s.mu.Unlock()
		}()
		defer func() {
			if r := recover(); r != nil {
				s.log.Error("background refresh panicked", logger.UserID(userID), logger.Any("panic", r))
			}
		}()

		var err error
		switch kind {
		case cache.KindStudyDates:
			_, err = s.recomputeStudyDates(s.baseCtx, userID)
		default:
			_, err = s.recomputeInsights(s.baseCtx, userID, false)
		}
		if err != nil && !errors.Is(err, context.Canceled) {
			s.log.Warn("background refresh failed", logger.UserID(userID), logger.String("kind", string(kind)), logger.Err(err))
		}
	}()
}

// RefreshInFlight reports whether a background refresh of kind is running for userID.
func (s *ProgressService) RefreshInFlight(kind cache.Kind, userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.inflight[cache.Key(kind, userID)]
	return ok
}

// detach returns a context that ignores the caller's cancellation and ends
// on Close.
func (s *ProgressService) detach(ctx context.Context) (context.Context, context.CancelFunc) {
	c, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stop := context.AfterFunc(s.baseCtx, cancel)
	return c, func() {
		stop()
		cancel()
	}
}

func (s *ProgressService) stamp(userID string) stamp {
	s.mu.Lock()
	defer s.mu.Unlock()
	return stamp{epoch: s.epoch, gen: s.generations[userID]}
}

func (s *ProgressService) current(userID string, st stamp) bool {
	return s.stamp(userID) == st
}

func (s *ProgressService) bump(userID string) {
	s.mu.Lock()
	s.generations[userID]++
	s.mu.Unlock()
}

func (s *ProgressService) remember(userID string, ins *ProgressInsights) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.lastKnown[userID]; !ok && len(s.lastKnown) >= s.fallbackLimit {
		s.evictOldestLocked()
	}
	s.lastKnown[userID] = knownInsights{ins: ins, at: s.now()}
}

// evictOldestLocked drops the oldest tenth of the last known snapshots.
func (s *ProgressService) evictOldestLocked() {
	type aged struct {
		userID string
		at     time.Time
	}
	all := make([]aged, 0, len(s.lastKnown))
	for id, k := range s.lastKnown {
		all = append(all, aged{userID: id, at: k.at})
	}
	sort.Slice(all, func(i, j int) bool { return all[i].at.Before(all[j].at) })

	n := len(all)/10 + 1
	for _, a := range all[:n] {
		delete(s.lastKnown, a.userID)
	}
	s.log.Debug("evicted last known insights", logger.Int("count", n))
}

// FallbackSize returns how many users have a last known snapshot.
func (s *ProgressService) FallbackSize() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.lastKnown)
}

func (s *ProgressService) fallback(userID string) *ProgressInsights {
	s.mu.Lock()
	defer s.mu.Unlock()
	if k, ok := s.lastKnown[userID]; ok {
		s.log.Info("serving last known insights", logger.UserID(userID))
		return k.ins
	}
	return nil
}
