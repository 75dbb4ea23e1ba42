package streak

import "context"

// Repository persists streak state.
type Repository interface {
	// GetStreak returns shared.ErrStreakNotFound when no record exists yet.
	GetStreak(ctx context.Context, userID string, typ Type) (*State, error)

	// UpsertStreak creates or replaces the record for (UserID, StreakType).
	UpsertStreak(ctx context.Context, s *State) error
}
