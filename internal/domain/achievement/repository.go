package achievement

import "context"

// Repository persists achievements.
type Repository interface {
	// GetAchievements returns the user's achievements, most recent first.
	GetAchievements(ctx context.Context, userID string) ([]*Achievement, error)

	// InsertAchievementIfAbsent inserts a unless (UserID, Name) already exists.
	// It returns the stored achievement and true when inserted, nil and false
	// when it was already present. Implementations must make this atomic.
	InsertAchievementIfAbsent(ctx context.Context, a *Achievement) (*Achievement, bool, error)
}
