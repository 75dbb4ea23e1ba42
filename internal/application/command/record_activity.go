// Package command contains write operations (CQRS - Commands).
package command

import (
	"context"
	"fmt"
	"time"

	"github.com/unilingo/progress-engine/internal/application/saga"
	"github.com/unilingo/progress-engine/internal/domain/activity"
	"github.com/unilingo/progress-engine/internal/domain/goal"
	"github.com/unilingo/progress-engine/internal/domain/level"
	"github.com/unilingo/progress-engine/internal/domain/shared"
	"github.com/unilingo/progress-engine/internal/domain/streak"
	"github.com/unilingo/progress-engine/pkg/keylock"
	"github.com/unilingo/progress-engine/pkg/logger"
	"github.com/unilingo/progress-engine/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// RECORD ACTIVITY COMMAND
// Appends a completed activity and awards XP for it:
// Append → Stats + XP → Streaks → Daily Goals → Achievements → Invalidate Cache
//
// Only the append and the stats write are fatal. Streak, goal and achievement
// failures are logged; the activity is already recorded at that point.
// ══════════════════════════════════════════════════════════════════════════════

// RecordActivityCommand contains the data to record an activity.
type RecordActivityCommand struct {
	UserID          string
	Type            activity.Type
	Name            string
	DurationSeconds int
	Score           int
	MaxScore        int

	// Accuracy in percent. Nil derives it from Score/MaxScore.
	Accuracy *float64

	// CompletedAt defaults to now if zero.
	CompletedAt time.Time
}

// RecordActivityResult contains the result of recording an activity.
type RecordActivityResult struct {
	Activity *activity.Record
	XP       activity.XPBreakdown
	Level    level.Progress

	// LeveledUp is set when the award crossed a level threshold.
	LeveledUp bool

	Streak          *streak.State
	StreakOutcome   streak.Outcome
	GoalsCompleted  []goal.Type
	NewAchievements []string

	RecordedAt time.Time
}

// AchievementEvaluator grants achievements for a user's current state.
type AchievementEvaluator interface {
	Execute(ctx context.Context, userID string) (*saga.AchievementFlowResult, error)
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// RecordActivityHandler handles the RecordActivityCommand.
type RecordActivityHandler struct {
	activities   activity.Repository
	stats        activity.StatsRepository
	streaks      streak.Repository
	streakCmd    *UpdateStreakHandler
	goalCmd      *UpdateGoalProgressHandler
	achievements AchievementEvaluator
	invalidator  saga.Invalidator

	locks *keylock.Locker
	now   timeutil.Clock
	log   *logger.Logger
}

// RecordActivityDeps groups the handler's collaborators.
type RecordActivityDeps struct {
	Activities   activity.Repository
	Stats        activity.StatsRepository
	Streaks      streak.Repository
	StreakCmd    *UpdateStreakHandler
	GoalCmd      *UpdateGoalProgressHandler
	Achievements AchievementEvaluator
	Invalidator  saga.Invalidator
}

// NewRecordActivityHandler creates a new RecordActivityHandler.
// Achievements and Invalidator may be nil.
func NewRecordActivityHandler(deps RecordActivityDeps, log *logger.Logger, clock timeutil.Clock) *RecordActivityHandler {
	if clock == nil {
		clock = timeutil.SystemClock
	}
	if log == nil {
		log = logger.Nop()
	}
	return &RecordActivityHandler{
		activities:   deps.Activities,
		stats:        deps.Stats,
		streaks:      deps.Streaks,
		streakCmd:    deps.StreakCmd,
		goalCmd:      deps.GoalCmd,
		achievements: deps.Achievements,
		invalidator:  deps.Invalidator,
		locks:        keylock.New(),
		now:          clock,
		log:          log.With(logger.Component("record_activity")),
	}
}

// SetInvalidator attaches the cache invalidator after construction.
func (h *RecordActivityHandler) SetInvalidator(inv saga.Invalidator) {
	h.invalidator = inv
}

// Handle executes the record activity command.
func (h *RecordActivityHandler) Handle(ctx context.Context, cmd RecordActivityCommand) (*RecordActivityResult, error) {
	completedAt := cmd.CompletedAt
	if completedAt.IsZero() {
		completedAt = h.now().UTC()
	}

	rec, err := activity.NewRecord(cmd.UserID, cmd.Type, cmd.Name, cmd.DurationSeconds,
		cmd.Score, cmd.MaxScore, cmd.Accuracy, completedAt)
	if err == nil {
		err = activity.CheckCompletedAt(rec.CompletedAt, h.now())
	}
	if err != nil {
		return nil, fmt.Errorf("record_activity: validation failed: %w", err)
	}

	// Stats are read-modify-write; one award per user at a time.
	unlock := h.locks.Lock(rec.UserID)
	defer unlock()

	start := time.Now()
	day := rec.Date()

	// Step 1: append
	stored, err := h.activities.AppendActivity(ctx, rec)
	if err != nil {
		return nil, fmt.Errorf("record_activity: failed to append activity: %w", err)
	}

	// Step 2: stats and XP. The streak bonus uses the streak before this activity.
	stats, err := h.stats.GetLearningStats(ctx, rec.UserID)
	switch {
	case shared.IsNotFound(err):
		stats = activity.NewLearningStats(rec.UserID, level.Beginner)
	case err != nil:
		return nil, fmt.Errorf("record_activity: failed to get learning stats: %w", err)
	}

	currentStreak := 0
	if st, err := h.streaks.GetStreak(ctx, rec.UserID, streak.TypeDailyStudy); err == nil {
		currentStreak = st.Effective(day)
	} else if !shared.IsNotFound(err) {
		h.log.Warn("streak unavailable for bonus",
			logger.UserID(rec.UserID), logger.Operation("streak_bonus"), logger.Err(err))
	}

	xp := activity.CalculateXP(stored, currentStreak)
	previousLevel := stats.CurrentLevel
	stats.Apply(stored, xp.Total, h.now())
	progress := level.Of(stats.ExperiencePoints)
	stats.CurrentLevel = progress.CurrentLevel

	if err := h.stats.SaveLearningStats(ctx, stats); err != nil {
		return nil, fmt.Errorf("record_activity: failed to save learning stats: %w", err)
	}

	result := &RecordActivityResult{
		Activity:   stored,
		XP:         xp,
		Level:      progress,
		LeveledUp:  previousLevel != "" && level.Rank(progress.CurrentLevel) > level.Rank(previousLevel),
		RecordedAt: h.now().UTC(),
	}

	// Step 3: streaks
	h.updateStreaks(ctx, stored, day, result)

	// Step 4: daily goals
	h.updateGoals(ctx, stored, day, stats.CurrentLevel, result)

	// Step 5: achievements
	if h.achievements != nil {
		flow, err := h.achievements.Execute(ctx, rec.UserID)
		if err != nil {
			h.log.Warn("achievement evaluation failed",
				logger.UserID(rec.UserID), logger.Operation("evaluate_achievements"), logger.Err(err))
		}
		if flow != nil {
			for _, a := range flow.NewAchievements {
				result.NewAchievements = append(result.NewAchievements, a.Name)
			}
		}
	}

	// Step 6: cached views are stale now
	if h.invalidator != nil {
		h.invalidator.ClearUserCache(ctx, rec.UserID)
	}

	h.log.Info("activity recorded",
		logger.UserID(rec.UserID),
		logger.String("activity_type", string(rec.Type)),
		logger.XPAmount(xp.Total),
		logger.String("level", progress.CurrentLevel),
		logger.Latency(time.Since(start)),
	)

	return result, nil
}

func (h *RecordActivityHandler) updateStreaks(ctx context.Context, rec *activity.Record, day timeutil.Date, result *RecordActivityResult) {
	types := []streak.Type{streak.TypeDailyStudy}
	if rec.Type == activity.TypeFlashcard {
		types = append(types, streak.TypeDailyFlashcards)
	}

	for _, typ := range types {
		res, err := h.streakCmd.Handle(ctx, UpdateStreakCommand{UserID: rec.UserID, StreakType: typ, Date: day})
		if err != nil {
			h.log.Warn("streak update failed",
				logger.UserID(rec.UserID), logger.Operation("update_streak"), logger.StreakType(string(typ)), logger.Err(err))
			continue
		}
		if typ == streak.TypeDailyStudy {
			result.Streak = res.State
			result.StreakOutcome = res.Outcome
		}
	}
}

func (h *RecordActivityHandler) updateGoals(ctx context.Context, rec *activity.Record, day timeutil.Date, levelName string, result *RecordActivityResult) {
	res, err := h.goalCmd.Handle(ctx, UpdateGoalProgressCommand{
		UserID:      rec.UserID,
		Date:        day,
		Increments:  goal.Contributions(rec),
		Proficiency: goal.ProficiencyFor(levelName),
	})
	if err != nil {
		h.log.Warn("goal update failed",
			logger.UserID(rec.UserID), logger.Operation("update_goals"), logger.Err(err))
		return
	}
	result.GoalsCompleted = res.NewlyCompleted
}
