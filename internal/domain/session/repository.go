package session

import "context"

// Repository persists study sessions.
type Repository interface {
	// CreateSession persists s and returns it with its ID assigned.
	CreateSession(ctx context.Context, s *Session) (*Session, error)

	// GetSession returns shared.ErrSessionNotFound when no session with id
	// belongs to userID.
	GetSession(ctx context.Context, userID, id string) (*Session, error)

	// EndSession stores the end-of-session fields of s. It returns
	// shared.ErrSessionEnded when the stored row is already closed.
	EndSession(ctx context.Context, s *Session) error
}
