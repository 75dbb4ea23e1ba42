package command

import (
	"context"
	"fmt"
	"strings"

	"github.com/unilingo/progress-engine/internal/domain/session"
	"github.com/unilingo/progress-engine/internal/domain/shared"
	"github.com/unilingo/progress-engine/pkg/logger"
	"github.com/unilingo/progress-engine/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// STUDY SESSION COMMANDS
// A session is opened with its type and the learner's starting energy, and
// closed once with a summary. Start and end times both come from the
// handler's clock.
// ══════════════════════════════════════════════════════════════════════════════

// StartSessionCommand opens a session.
type StartSessionCommand struct {
	UserID      string
	Type        session.Type
	Environment string
	EnergyLevel *int
}

// EndSessionCommand closes a session.
type EndSessionCommand struct {
	UserID    string
	SessionID string
	Summary   session.Summary
}

// Validate validates the command.
func (c EndSessionCommand) Validate() error {
	if strings.TrimSpace(c.UserID) == "" {
		return shared.ErrUserIDRequired
	}
	if strings.TrimSpace(c.SessionID) == "" {
		return shared.NewDomainError("session", "Validate", shared.ErrInvalidID, "session id is required")
	}
	return nil
}

// StudySessionHandler handles both session commands.
type StudySessionHandler struct {
	repo session.Repository
	now  timeutil.Clock
	log  *logger.Logger
}

// NewStudySessionHandler creates a new StudySessionHandler.
func NewStudySessionHandler(repo session.Repository, log *logger.Logger, clock timeutil.Clock) *StudySessionHandler {
	if clock == nil {
		clock = timeutil.SystemClock
	}
	if log == nil {
		log = logger.Nop()
	}
	return &StudySessionHandler{
		repo: repo,
		now:  clock,
		log:  log.With(logger.Component("study_session")),
	}
}

// Start opens a session starting now.
func (h *StudySessionHandler) Start(ctx context.Context, cmd StartSessionCommand) (*session.Session, error) {
	s, err := session.Start(cmd.UserID, cmd.Type, cmd.Environment, cmd.EnergyLevel, h.now())
	if err != nil {
		return nil, fmt.Errorf("start_session: validation failed: %w", err)
	}
	created, err := h.repo.CreateSession(ctx, s)
	if err != nil {
		return nil, fmt.Errorf("start_session: failed to create session: %w", err)
	}
	h.log.Debug("study session started",
		logger.UserID(cmd.UserID),
		logger.String("session_id", created.ID),
		logger.String("session_type", string(created.Type)),
	)
	return created, nil
}

// End closes the session now. Ending a closed session returns
// shared.ErrSessionEnded and leaves the stored summary untouched.
func (h *StudySessionHandler) End(ctx context.Context, cmd EndSessionCommand) (*session.Session, error) {
	if err := cmd.Validate(); err != nil {
		return nil, fmt.Errorf("end_session: validation failed: %w", err)
	}

	s, err := h.repo.GetSession(ctx, cmd.UserID, cmd.SessionID)
	if err != nil {
		return nil, fmt.Errorf("end_session: failed to get session: %w", err)
	}
	if err := s.End(cmd.Summary, h.now()); err != nil {
		return nil, fmt.Errorf("end_session: %w", err)
	}
	if err := h.repo.EndSession(ctx, s); err != nil {
		return nil, fmt.Errorf("end_session: failed to save session: %w", err)
	}

	h.log.Info("study session ended",
		logger.UserID(cmd.UserID),
		logger.String("session_id", s.ID),
		logger.Int("duration_seconds", s.TotalDurationSeconds),
		logger.Int("activities_completed", s.ActivitiesCompleted),
	)
	return s, nil
}
