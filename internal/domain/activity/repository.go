package activity

import "context"

// Repository is the activity-log side of the activity store.
type Repository interface {
	// AppendActivity persists r and returns it with its ID assigned.
	AppendActivity(ctx context.Context, r *Record) (*Record, error)

	// QueryActivities returns the user's records matching f, newest first.
	QueryActivities(ctx context.Context, userID string, f Filter) ([]*Record, error)
}

// StatsRepository persists LearningStats.
type StatsRepository interface {
	// GetLearningStats returns shared.ErrStatsNotFound when the user has none yet.
	GetLearningStats(ctx context.Context, userID string) (*LearningStats, error)

	// SaveLearningStats creates or replaces the user's stats.
	SaveLearningStats(ctx context.Context, s *LearningStats) error
}
