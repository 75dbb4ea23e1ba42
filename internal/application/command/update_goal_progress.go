package command

import (
	"context"
	"fmt"
	"strings"

	"github.com/unilingo/progress-engine/internal/domain/goal"
	"github.com/unilingo/progress-engine/internal/domain/shared"
	"github.com/unilingo/progress-engine/pkg/keylock"
	"github.com/unilingo/progress-engine/pkg/logger"
	"github.com/unilingo/progress-engine/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// UPDATE GOAL PROGRESS COMMAND
// Adds progress to a user's goals for one day. The day's goal set is created
// with default targets on the first update.
// ══════════════════════════════════════════════════════════════════════════════

// UpdateGoalProgressCommand carries per-goal increments.
type UpdateGoalProgressCommand struct {
	UserID string

	// Date of the goals. Zero means today.
	Date timeutil.Date

	// Increments by goal type. Non-positive values are ignored.
	Increments map[goal.Type]int

	// Proficiency selects default targets when the day's goals do not exist yet.
	Proficiency string
}

// Validate validates the command.
func (c UpdateGoalProgressCommand) Validate() error {
	if strings.TrimSpace(c.UserID) == "" {
		return shared.ErrUserIDRequired
	}
	return nil
}

// UpdateGoalProgressResult is the day's goal set after the update.
type UpdateGoalProgressResult struct {
	Goals []*goal.DailyGoal

	// NewlyCompleted lists goal types that completed during this update.
	NewlyCompleted []goal.Type

	Created bool
}

// UpdateGoalProgressHandler handles UpdateGoalProgressCommand.
type UpdateGoalProgressHandler struct {
	repo  goal.Repository
	locks *keylock.Locker
	now   timeutil.Clock
	log   *logger.Logger
}

// NewUpdateGoalProgressHandler creates a new UpdateGoalProgressHandler.
func NewUpdateGoalProgressHandler(repo goal.Repository, log *logger.Logger, clock timeutil.Clock) *UpdateGoalProgressHandler {
	if clock == nil {
		clock = timeutil.SystemClock
	}
	if log == nil {
		log = logger.Nop()
	}
	return &UpdateGoalProgressHandler{
		repo:  repo,
		locks: keylock.New(),
		now:   clock,
		log:   log.With(logger.Component("update_goal_progress")),
	}
}

// Handle executes the command.
func (h *UpdateGoalProgressHandler) Handle(ctx context.Context, cmd UpdateGoalProgressCommand) (*UpdateGoalProgressResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, fmt.Errorf("update_goal_progress: validation failed: %w", err)
	}
	date := cmd.Date
	if date.IsZero() {
		date = timeutil.Today(h.now)
	}

	unlock := h.locks.Lock(cmd.UserID)
	defer unlock()

	goals, err := h.repo.GetDailyGoals(ctx, cmd.UserID, date)
	if err != nil {
		return nil, fmt.Errorf("update_goal_progress: failed to get goals: %w", err)
	}

	result := &UpdateGoalProgressResult{}
	if len(goals) == 0 {
		goals = goal.NewDefaultGoals(cmd.UserID, date, cmd.Proficiency)
		result.Created = true
	}

	now := h.now().UTC()
	for _, g := range goals {
		delta := cmd.Increments[g.GoalType]
		wasCompleted := g.Completed
		g.AddProgress(delta, now)

		if delta <= 0 && !result.Created {
			continue
		}
		if err := h.repo.UpsertGoalProgress(ctx, g); err != nil {
			return nil, fmt.Errorf("update_goal_progress: failed to save %s goal: %w", g.GoalType, err)
		}
		if g.Completed && !wasCompleted {
			result.NewlyCompleted = append(result.NewlyCompleted, g.GoalType)
		}
	}

	if len(result.NewlyCompleted) > 0 {
		h.log.Info("daily goals completed",
			logger.UserID(cmd.UserID),
			logger.Any("goal_types", result.NewlyCompleted),
		)
	}

	result.Goals = goals
	return result, nil
}
