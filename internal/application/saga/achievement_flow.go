// Package saga contains multi-step business processes that coordinate
// several repositories.
package saga

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/unilingo/progress-engine/internal/domain/achievement"
	"github.com/unilingo/progress-engine/internal/domain/activity"
	"github.com/unilingo/progress-engine/internal/domain/shared"
	"github.com/unilingo/progress-engine/internal/domain/streak"
	"github.com/unilingo/progress-engine/pkg/keylock"
	"github.com/unilingo/progress-engine/pkg/logger"
	"github.com/unilingo/progress-engine/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// ACHIEVEMENT FLOW
// Load Facts → Load Existing → Check Rules → Grant (insert if absent) → Invalidate
//
// The flow reads authoritative state from the store and never from the cache.
// The store's (user, name) uniqueness is the real guard against duplicates;
// the existing-name check only saves round trips.
// ══════════════════════════════════════════════════════════════════════════════

// AchievementFlowStep names a step of the flow.
type AchievementFlowStep string

const (
	StepLoadFacts           AchievementFlowStep = "load_facts"
	StepLoadExisting        AchievementFlowStep = "load_existing_achievements"
	StepCheckAchievements   AchievementFlowStep = "check_achievements"
	StepGrantAchievements   AchievementFlowStep = "grant_achievements"
	StepInvalidateCache     AchievementFlowStep = "invalidate_cache"
	StepAchievementComplete AchievementFlowStep = "complete"
)

// Invalidator drops a user's cached views.
type Invalidator interface {
	ClearUserCache(ctx context.Context, userID string)
}

// AchievementFlowResult lists what one evaluation granted.
type AchievementFlowResult struct {
	UserID          string
	NewAchievements []*achievement.Achievement
	ProcessedAt     time.Time
}

// HasNewAchievements returns true if any achievements were granted.
func (r *AchievementFlowResult) HasNewAchievements() bool {
	return len(r.NewAchievements) > 0
}

type achievementFlowState struct {
	CurrentStep AchievementFlowStep
	UserID      string
	Facts       achievement.Facts
	Existing    map[string]bool
	Candidates  []achievement.Candidate
	Granted     []*achievement.Achievement
}

// AchievementFlowConfig contains configuration for the flow.
type AchievementFlowConfig struct {
	Rules []achievement.Rule

	// MaxAchievementsPerRun caps grants per evaluation.
	MaxAchievementsPerRun int
}

// DefaultAchievementFlowConfig returns default configuration.
func DefaultAchievementFlowConfig() AchievementFlowConfig {
	return AchievementFlowConfig{
		Rules:                 achievement.DefaultRules(),
		MaxAchievementsPerRun: 5,
	}
}

// AchievementFlow evaluates achievement rules for one user at a time.
type AchievementFlow struct {
	stats        activity.StatsRepository
	streaks      streak.Repository
	achievements achievement.Repository
	invalidator  Invalidator

	rules  []achievement.Rule
	maxRun int
	locks  *keylock.Locker
	now    timeutil.Clock
	log    *logger.Logger
}

// NewAchievementFlow creates the flow. invalidator may be nil.
func NewAchievementFlow(
	stats activity.StatsRepository,
	streaks streak.Repository,
	achievements achievement.Repository,
	invalidator Invalidator,
	config AchievementFlowConfig,
	log *logger.Logger,
	clock timeutil.Clock,
) *AchievementFlow {
	if len(config.Rules) == 0 {
		config.Rules = achievement.DefaultRules()
	}
	if config.MaxAchievementsPerRun <= 0 {
		config.MaxAchievementsPerRun = DefaultAchievementFlowConfig().MaxAchievementsPerRun
	}
	if clock == nil {
		clock = timeutil.SystemClock
	}
	if log == nil {
		log = logger.Nop()
	}
	return &AchievementFlow{
		stats:        stats,
		streaks:      streaks,
		achievements: achievements,
		invalidator:  invalidator,
		rules:        config.Rules,
		maxRun:       config.MaxAchievementsPerRun,
		locks:        keylock.New(),
		now:          clock,
		log:          log.With(logger.Component("achievement_flow")),
	}
}

// SetInvalidator attaches the cache invalidator after construction, for
// wiring where the facade is built after the flow.
func (f *AchievementFlow) SetInvalidator(inv Invalidator) {
	f.invalidator = inv
}

// Execute evaluates every rule for userID and returns the newly granted
// achievements. Evaluating unchanged state twice grants nothing the second time.
// When an insert fails, the result still lists the grants written before it.
func (f *AchievementFlow) Execute(ctx context.Context, userID string) (*AchievementFlowResult, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, shared.ErrUserIDRequired
	}

	// Per-user serialization keeps two in-process evaluations from racing
	// past the existing-name check together.
	unlock := f.locks.Lock(userID)
	defer unlock()

	state := &achievementFlowState{CurrentStep: StepLoadFacts, UserID: userID}

	if err := f.stepLoadFacts(ctx, state); err != nil {
		return nil, f.wrapError(state, err)
	}

	state.CurrentStep = StepLoadExisting
	if err := f.stepLoadExisting(ctx, state); err != nil {
		return nil, f.wrapError(state, err)
	}

	state.CurrentStep = StepCheckAchievements
	state.Candidates = achievement.Candidates(f.rules, state.Facts, state.Existing)
	if len(state.Candidates) > f.maxRun {
		state.Candidates = state.Candidates[:f.maxRun]
	}

	var grantErr error
	if len(state.Candidates) > 0 {
		state.CurrentStep = StepGrantAchievements
		if err := f.stepGrant(ctx, state); err != nil {
			grantErr = f.wrapError(state, err)
		}
	}

	// Grants written before a failed insert are kept, so the cache is
	// invalidated and they are reported either way.
	if len(state.Granted) > 0 && f.invalidator != nil {
		state.CurrentStep = StepInvalidateCache
		f.invalidator.ClearUserCache(ctx, userID)
	}

	result := &AchievementFlowResult{
		UserID:          userID,
		NewAchievements: state.Granted,
		ProcessedAt:     f.now().UTC(),
	}
	if result.NewAchievements == nil {
		result.NewAchievements = []*achievement.Achievement{}
	}
	if grantErr != nil {
		return result, grantErr
	}

	state.CurrentStep = StepAchievementComplete
	return result, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// FLOW STEPS
// ══════════════════════════════════════════════════════════════════════════════

// stepLoadFacts loads stats and the effective daily streak. A user with no
// stats or no streak yet is evaluated with empty facts.
func (f *AchievementFlow) stepLoadFacts(ctx context.Context, state *achievementFlowState) error {
	stats, err := f.stats.GetLearningStats(ctx, state.UserID)
	switch {
	case shared.IsNotFound(err):
		stats = nil
	case err != nil:
		return fmt.Errorf("failed to load learning stats: %w", err)
	}

	st, err := f.streaks.GetStreak(ctx, state.UserID, streak.TypeDailyStudy)
	switch {
	case shared.IsNotFound(err):
		st = nil
	case err != nil:
		return fmt.Errorf("failed to load streak: %w", err)
	}

	state.Facts = achievement.Facts{
		CurrentStreak: st.Effective(timeutil.Today(f.now)),
		Stats:         stats,
	}
	return nil
}

func (f *AchievementFlow) stepLoadExisting(ctx context.Context, state *achievementFlowState) error {
	list, err := f.achievements.GetAchievements(ctx, state.UserID)
	if err != nil {
		return fmt.Errorf("failed to load existing achievements: %w", err)
	}
	state.Existing = make(map[string]bool, len(list))
	for _, a := range list {
		state.Existing[a.Name] = true
	}
	return nil
}

// stepGrant inserts each candidate. A candidate another evaluator inserted
// first is skipped without error.
func (f *AchievementFlow) stepGrant(ctx context.Context, state *achievementFlowState) error {
	now := f.now().UTC()
	for _, c := range state.Candidates {
		a, inserted, err := f.achievements.InsertAchievementIfAbsent(ctx, &achievement.Achievement{
			UserID:      state.UserID,
			Type:        c.Type,
			Name:        c.Name,
			Description: c.Description,
			EarnedAt:    now,
		})
		if err != nil {
			return fmt.Errorf("failed to save achievement %q: %w", c.Name, err)
		}
		if !inserted {
			continue
		}
		state.Granted = append(state.Granted, a)
		f.log.Info("achievement granted",
			logger.UserID(state.UserID),
			logger.String("achievement", a.Name),
			logger.String("achievement_type", string(a.Type)),
		)
	}
	return nil
}

func (f *AchievementFlow) wrapError(state *achievementFlowState, err error) error {
	f.log.Warn("achievement flow failed",
		logger.UserID(state.UserID),
		logger.Operation(string(state.CurrentStep)),
		logger.Err(err),
	)
	if errors.Is(err, shared.ErrServiceUnavailable) {
		return shared.WrapError("achievement", string(state.CurrentStep), shared.ErrServiceUnavailable, "achievement flow aborted", err)
	}
	return fmt.Errorf("achievement_flow: step %s: %w", state.CurrentStep, err)
}
