package goal

import (
	"context"

	"github.com/unilingo/progress-engine/pkg/timeutil"
)

// Repository persists daily goals.
type Repository interface {
	// GetDailyGoals returns the user's goals for date, ordered by goal type.
	// An empty slice means none were created yet.
	GetDailyGoals(ctx context.Context, userID string, date timeutil.Date) ([]*DailyGoal, error)

	// UpsertGoalProgress creates or replaces the goal keyed by
	// (UserID, GoalType, GoalDate). A stored Completed=true is never reverted.
	UpsertGoalProgress(ctx context.Context, g *DailyGoal) error
}
