package command

import (
	"context"
	"fmt"
	"strings"

	"github.com/unilingo/progress-engine/internal/application/saga"
	"github.com/unilingo/progress-engine/internal/domain/goal"
	"github.com/unilingo/progress-engine/internal/domain/shared"
	"github.com/unilingo/progress-engine/pkg/logger"
	"github.com/unilingo/progress-engine/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// SET DAILY GOAL COMMAND
// Replaces the target of one of today's goals. Runs under the same per-user
// lock as goal progress updates.
// ══════════════════════════════════════════════════════════════════════════════

// SetDailyGoalCommand sets one goal's target for a day.
type SetDailyGoalCommand struct {
	UserID      string
	GoalType    goal.Type
	TargetValue int

	// CurrentValue raises the goal's progress to this value when it is
	// higher than what is stored. Progress never moves backwards.
	CurrentValue *int

	// Date of the goal. Zero means today.
	Date timeutil.Date

	// Proficiency selects targets for the day's other goals when the set
	// does not exist yet.
	Proficiency string
}

// Validate validates the command.
func (c SetDailyGoalCommand) Validate() error {
	if strings.TrimSpace(c.UserID) == "" {
		return shared.ErrUserIDRequired
	}
	if !c.GoalType.IsValid() {
		return shared.ErrUnknownGoalType
	}
	if c.TargetValue <= 0 {
		return shared.ErrInvalidGoalTarget
	}
	if c.CurrentValue != nil && *c.CurrentValue < 0 {
		return shared.NewDomainError("goal", "Validate", shared.ErrNegativeValue, "current value cannot be negative")
	}
	return nil
}

// SetDailyGoalResult is the updated goal.
type SetDailyGoalResult struct {
	Goal *goal.DailyGoal

	// NewlyCompleted is true when this update completed the goal.
	NewlyCompleted bool

	// Created is true when the day's goal set was created by this call.
	Created bool
}

// SetDailyGoalHandler handles SetDailyGoalCommand.
type SetDailyGoalHandler struct {
	goals       *UpdateGoalProgressHandler
	invalidator saga.Invalidator
	log         *logger.Logger
}

// NewSetDailyGoalHandler creates a handler that shares goals' repository,
// lock and clock. invalidator may be nil.
func NewSetDailyGoalHandler(goals *UpdateGoalProgressHandler, invalidator saga.Invalidator, log *logger.Logger) *SetDailyGoalHandler {
	if log == nil {
		log = logger.Nop()
	}
	return &SetDailyGoalHandler{
		goals:       goals,
		invalidator: invalidator,
		log:         log.With(logger.Component("set_daily_goal")),
	}
}

// Handle executes the command.
func (h *SetDailyGoalHandler) Handle(ctx context.Context, cmd SetDailyGoalCommand) (*SetDailyGoalResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, fmt.Errorf("set_daily_goal: validation failed: %w", err)
	}
	g := h.goals
	date := cmd.Date
	if date.IsZero() {
		date = timeutil.Today(g.now)
	}

	unlock := g.locks.Lock(cmd.UserID)
	defer unlock()

	goals, err := g.repo.GetDailyGoals(ctx, cmd.UserID, date)
	if err != nil {
		return nil, fmt.Errorf("set_daily_goal: failed to get goals: %w", err)
	}

	result := &SetDailyGoalResult{}
	if len(goals) == 0 {
		goals = goal.NewDefaultGoals(cmd.UserID, date, cmd.Proficiency)
		result.Created = true
	}

	now := g.now().UTC()
	for _, dg := range goals {
		if dg.GoalType != cmd.GoalType {
			if result.Created {
				if err := g.repo.UpsertGoalProgress(ctx, dg); err != nil {
					return nil, fmt.Errorf("set_daily_goal: failed to save %s goal: %w", dg.GoalType, err)
				}
			}
			continue
		}

		wasCompleted := dg.Completed
		if cmd.CurrentValue != nil {
			dg.AddProgress(*cmd.CurrentValue-dg.CurrentValue, now)
		}
		dg.SetTarget(cmd.TargetValue, now)
		if err := g.repo.UpsertGoalProgress(ctx, dg); err != nil {
			return nil, fmt.Errorf("set_daily_goal: failed to save %s goal: %w", dg.GoalType, err)
		}
		result.Goal = dg
		result.NewlyCompleted = dg.Completed && !wasCompleted
	}

	if h.invalidator != nil {
		h.invalidator.ClearUserCache(ctx, cmd.UserID)
	}

	h.log.Debug("daily goal set",
		logger.UserID(cmd.UserID),
		logger.String("goal_type", string(cmd.GoalType)),
		logger.Int("target", cmd.TargetValue),
	)
	return result, nil
}
