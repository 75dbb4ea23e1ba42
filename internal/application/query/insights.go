package query

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/unilingo/progress-engine/internal/domain/achievement"
	"github.com/unilingo/progress-engine/internal/domain/activity"
	"github.com/unilingo/progress-engine/internal/domain/goal"
	"github.com/unilingo/progress-engine/internal/domain/level"
	"github.com/unilingo/progress-engine/internal/domain/shared"
	"github.com/unilingo/progress-engine/internal/domain/streak"
	"github.com/unilingo/progress-engine/internal/domain/topic"
	"github.com/unilingo/progress-engine/internal/infrastructure/cache"
	"github.com/unilingo/progress-engine/pkg/logger"
	"github.com/unilingo/progress-engine/pkg/timeutil"
)

// Snapshot sizes.
const (
	RecentActivitiesLimit = 10
	RecentAchievements    = 5
	WeeklyDays            = 7
	MonthlyDays           = 30
)

// ProgressInsights is the composed, cached view of a user's progress.
// It is always rebuilt whole and never patched in place.
type ProgressInsights struct {
	UserID           string                     `json:"user_id"`
	CurrentStreak    int                        `json:"current_streak"`
	LongestStreak    int                        `json:"longest_streak"`
	StreakAtRisk     bool                       `json:"streak_at_risk"`
	TodayGoals       goal.Progress              `json:"today_goals"`
	WeeklyProgress   []activity.DailySummary    `json:"weekly_progress"`
	MonthlyProgress  []activity.DailySummary    `json:"monthly_progress"`
	RecentActivities []*activity.Record         `json:"recent_activities"`
	Achievements     []*achievement.Achievement `json:"achievements"`
	LevelProgress    level.Progress             `json:"level_progress"`
	LearningStats    *activity.LearningStats    `json:"learning_stats,omitempty"`
	FlashcardStats   topic.FlashcardStats       `json:"flashcard_stats"`
	GeneratedAt      time.Time                  `json:"generated_at"`
}

// Stores is the slice of the activity store the snapshot reads from.
type Stores struct {
	Activities   activity.Repository
	Stats        activity.StatsRepository
	Streaks      streak.Repository
	Goals        goal.Repository
	Achievements achievement.Repository
	Flashcards   topic.Repository
}

// SnapshotBuilder composes ProgressInsights from the store.
//
// Independent parts load concurrently. Parts with their own cache kind are
// read from the cache when allowed and still fresh; anything older comes from
// the store, so a refresh never rebuilds a snapshot from stale parts.
type SnapshotBuilder struct {
	stores Stores
	cache  *cache.Cache
	now    timeutil.Clock
	log    *logger.Logger
}

// NewSnapshotBuilder creates a SnapshotBuilder. c may be nil.
func NewSnapshotBuilder(stores Stores, c *cache.Cache, log *logger.Logger, clock timeutil.Clock) *SnapshotBuilder {
	if clock == nil {
		clock = timeutil.SystemClock
	}
	if log == nil {
		log = logger.Nop()
	}
	return &SnapshotBuilder{stores: stores, cache: c, now: clock, log: log.With(logger.Component("snapshot"))}
}

// snapshotParts holds what Build loaded, keyed for write-back.
type snapshotParts struct {
	streak     *streak.State
	goals      []*goal.DailyGoal
	weekly     []activity.DailySummary
	monthly    []activity.DailySummary
	recent     []*activity.Record
	stats      *activity.LearningStats
	earned     []*achievement.Achievement
	flashcards topic.FlashcardStats

	mu     sync.Mutex
	cached map[cache.Kind]bool
}

func (p *snapshotParts) markCached(kind cache.Kind) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cached == nil {
		p.cached = make(map[cache.Kind]bool)
	}
	p.cached[kind] = true
}

// cacheable returns the parts that have a cache kind of their own and were
// loaded from the store. Parts served from the cache keep their entry as is.
func (p *snapshotParts) cacheable() map[cache.Kind]any {
	all := map[cache.Kind]any{
		cache.KindStreak:           p.streak,
		cache.KindTodayGoals:       p.goals,
		cache.KindWeeklyProgress:   p.weekly,
		cache.KindMonthlyProgress:  p.monthly,
		cache.KindRecentActivities: p.recent,
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for kind := range p.cached {
		delete(all, kind)
	}
	return all
}

// Build loads every part and composes the snapshot. Failing to load the
// streak, stats or activity parts fails the build; goals, achievements and
// flashcard parts degrade to defaults.
func (b *SnapshotBuilder) Build(ctx context.Context, userID string, useCache bool) (*ProgressInsights, error) {
	ins, _, err := b.build(ctx, userID, useCache)
	return ins, err
}

func (b *SnapshotBuilder) build(ctx context.Context, userID string, useCache bool) (*ProgressInsights, *snapshotParts, error) {
	now := b.now().UTC()
	today := timeutil.DateOf(now)
	parts := &snapshotParts{}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return loadPart(gctx, b, parts, useCache, cache.KindStreak, userID, &parts.streak, func(ctx context.Context) (*streak.State, error) {
			st, err := b.stores.Streaks.GetStreak(ctx, userID, streak.TypeDailyStudy)
			if shared.IsNotFound(err) {
				return nil, nil
			}
			return st, err
		})
	})

	g.Go(func() error {
		st, err := b.stores.Stats.GetLearningStats(gctx, userID)
		if shared.IsNotFound(err) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("learning stats: %w", err)
		}
		parts.stats = st
		return nil
	})

	g.Go(func() error {
		return loadPart(gctx, b, parts, useCache, cache.KindWeeklyProgress, userID, &parts.weekly, func(ctx context.Context) ([]activity.DailySummary, error) {
			return b.summaries(ctx, userID, today, WeeklyDays, true)
		})
	})

	g.Go(func() error {
		return loadPart(gctx, b, parts, useCache, cache.KindMonthlyProgress, userID, &parts.monthly, func(ctx context.Context) ([]activity.DailySummary, error) {
			return b.summaries(ctx, userID, today, MonthlyDays, false)
		})
	})

	g.Go(func() error {
		return loadPart(gctx, b, parts, useCache, cache.KindRecentActivities, userID, &parts.recent, func(ctx context.Context) ([]*activity.Record, error) {
			return b.stores.Activities.QueryActivities(ctx, userID, activity.Filter{Limit: RecentActivitiesLimit})
		})
	})

	g.Go(func() error {
		err := loadPart(gctx, b, parts, useCache, cache.KindTodayGoals, userID, &parts.goals, func(ctx context.Context) ([]*goal.DailyGoal, error) {
			return b.stores.Goals.GetDailyGoals(ctx, userID, today)
		})
		if err != nil {
			b.log.Warn("daily goals unavailable", logger.UserID(userID), logger.Err(err))
			parts.goals = nil
		}
		return nil
	})

	g.Go(func() error {
		list, err := b.stores.Achievements.GetAchievements(gctx, userID)
		if err != nil {
			b.log.Warn("achievements unavailable", logger.UserID(userID), logger.Err(err))
			return nil
		}
		if len(list) > RecentAchievements {
			list = list[:RecentAchievements]
		}
		parts.earned = list
		return nil
	})

	g.Go(func() error {
		parts.flashcards = b.flashcardStats(gctx, userID, today)
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	return b.compose(userID, now, parts), parts, nil
}

func (b *SnapshotBuilder) compose(userID string, now time.Time, p *snapshotParts) *ProgressInsights {
	today := timeutil.DateOf(now)

	xp := 0
	if p.stats != nil {
		xp = p.stats.ExperiencePoints
	}
	lvl := level.Of(xp)

	goals := p.goals
	if len(goals) == 0 {
		goals = goal.NewDefaultGoals(userID, today, goal.ProficiencyFor(lvl.CurrentLevel))
	}
	todayGoals := goal.Summarize(goals)

	weekly := withTodayGoals(p.weekly, today, todayGoals)
	monthly := withTodayGoals(p.monthly, today, todayGoals)

	ins := &ProgressInsights{
		UserID:           userID,
		CurrentStreak:    p.streak.Effective(today),
		StreakAtRisk:     p.streak.IsAtRisk(today),
		TodayGoals:       todayGoals,
		WeeklyProgress:   nonNil(weekly),
		MonthlyProgress:  nonNil(monthly),
		RecentActivities: nonNil(p.recent),
		Achievements:     nonNil(p.earned),
		LevelProgress:    lvl,
		LearningStats:    p.stats,
		FlashcardStats:   p.flashcards,
		GeneratedAt:      now,
	}
	if p.streak != nil {
		ins.LongestStreak = p.streak.LongestStreak
	}
	return ins
}

func (b *SnapshotBuilder) summaries(ctx context.Context, userID string, today timeutil.Date, days int, fillEmpty bool) ([]activity.DailySummary, error) {
	window := timeutil.LastNDays(today, days)
	records, err := b.stores.Activities.QueryActivities(ctx, userID, activity.Filter{
		Since: window[0].Time(),
		Until: today.End(),
	})
	if err != nil {
		return nil, err
	}
	return activity.Summarize(records, window, fillEmpty), nil
}

func (b *SnapshotBuilder) flashcardStats(ctx context.Context, userID string, today timeutil.Date) topic.FlashcardStats {
	if b.stores.Flashcards == nil {
		return topic.EmptyFlashcardStats()
	}

	items, err := b.stores.Flashcards.ListFlashcards(ctx, userID)
	if err != nil {
		b.log.Warn("flashcards unavailable", logger.UserID(userID), logger.Err(err))
		return topic.EmptyFlashcardStats()
	}
	progress, err := b.stores.Flashcards.GetFlashcardProgress(ctx, userID)
	if err != nil {
		b.log.Warn("flashcard progress unavailable", logger.UserID(userID), logger.Err(err))
		return topic.EmptyFlashcardStats()
	}

	dayStreak := 0
	st, err := b.stores.Streaks.GetStreak(ctx, userID, streak.TypeDailyFlashcards)
	switch {
	case err == nil:
		dayStreak = st.Effective(today)
	case !shared.IsNotFound(err):
		b.log.Warn("flashcard streak unavailable", logger.UserID(userID), logger.Err(err))
	}

	return topic.BuildFlashcardStats(items, progress, dayStreak)
}

// loadPart reads one part from the cache when allowed and the entry is fresh,
// and from the store otherwise.
func loadPart[T any](ctx context.Context, b *SnapshotBuilder, parts *snapshotParts, useCache bool, kind cache.Kind, userID string, dest *T, fetch func(ctx context.Context) (T, error)) error {
	if useCache && b.cache != nil {
		var v T
		fresh, err := b.cache.Get(ctx, cache.Key(kind, userID), &v)
		if err == nil && fresh {
			*dest = v
			parts.markCached(kind)
			return nil
		}
		if err != nil && !errors.Is(err, cache.ErrMiss) {
			b.log.Debug("cache part read failed", logger.CacheKey(cache.Key(kind, userID)), logger.Err(err))
		}
	}

	v, err := fetch(ctx)
	if err != nil {
		return fmt.Errorf("%s: %w", kind, err)
	}
	*dest = v
	return nil
}

// withTodayGoals copies summaries and sets today's goal counts.
func withTodayGoals(in []activity.DailySummary, today timeutil.Date, p goal.Progress) []activity.DailySummary {
	out := make([]activity.DailySummary, len(in))
	copy(out, in)
	for i := range out {
		if out[i].Date.Equal(today) {
			out[i].GoalsAchieved = p.GoalsAchieved
			out[i].TotalGoals = p.TotalGoals
		}
	}
	return out
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
