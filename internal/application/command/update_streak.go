package command

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/unilingo/progress-engine/internal/domain/shared"
	"github.com/unilingo/progress-engine/internal/domain/streak"
	"github.com/unilingo/progress-engine/pkg/keylock"
	"github.com/unilingo/progress-engine/pkg/logger"
	"github.com/unilingo/progress-engine/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// UPDATE STREAK COMMAND
// Advances a (user, streak type) counter for an activity completed today.
// Repeating the command on the same day leaves the stored state unchanged.
// ══════════════════════════════════════════════════════════════════════════════

// UpdateStreakCommand signals one completed activity.
type UpdateStreakCommand struct {
	UserID     string
	StreakType streak.Type

	// Date of the activity. Zero means today.
	Date timeutil.Date
}

// Validate validates the command.
func (c UpdateStreakCommand) Validate() error {
	if strings.TrimSpace(c.UserID) == "" {
		return shared.ErrUserIDRequired
	}
	switch c.StreakType {
	case streak.TypeDailyStudy, streak.TypeDailyFlashcards:
		return nil
	default:
		return shared.NewDomainError("streak", "Validate", shared.ErrInvalidInput,
			fmt.Sprintf("unknown streak type %q", c.StreakType))
	}
}

// UpdateStreakResult reports the stored state after the update.
type UpdateStreakResult struct {
	State   *streak.State
	Outcome streak.Outcome

	// PreviousStreak is the stored value before a reset.
	PreviousStreak int
}

// UpdateStreakHandler handles UpdateStreakCommand.
type UpdateStreakHandler struct {
	repo  streak.Repository
	locks *keylock.Locker
	now   timeutil.Clock
	log   *logger.Logger
}

// NewUpdateStreakHandler creates a new UpdateStreakHandler.
func NewUpdateStreakHandler(repo streak.Repository, log *logger.Logger, clock timeutil.Clock) *UpdateStreakHandler {
	if clock == nil {
		clock = timeutil.SystemClock
	}
	if log == nil {
		log = logger.Nop()
	}
	return &UpdateStreakHandler{
		repo:  repo,
		locks: keylock.New(),
		now:   clock,
		log:   log.With(logger.Component("update_streak")),
	}
}

// Handle executes the command. Updates for the same user are serialized so
// two same-day activities cannot both extend the streak.
func (h *UpdateStreakHandler) Handle(ctx context.Context, cmd UpdateStreakCommand) (*UpdateStreakResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, fmt.Errorf("update_streak: validation failed: %w", err)
	}
	date := cmd.Date
	if date.IsZero() {
		date = timeutil.Today(h.now)
	}

	unlock := h.locks.Lock(cmd.UserID + "/" + string(cmd.StreakType))
	defer unlock()

	start := time.Now()
	st, err := h.repo.GetStreak(ctx, cmd.UserID, cmd.StreakType)
	switch {
	case shared.IsNotFound(err):
		st = &streak.State{UserID: cmd.UserID, StreakType: cmd.StreakType}
	case err != nil:
		return nil, fmt.Errorf("update_streak: failed to get streak: %w", err)
	}

	previous := st.CurrentStreak
	outcome := st.Advance(date)
	if outcome == streak.OutcomeUnchanged {
		return &UpdateStreakResult{State: st, Outcome: outcome}, nil
	}

	if err := h.repo.UpsertStreak(ctx, st); err != nil {
		return nil, fmt.Errorf("update_streak: failed to save streak: %w", err)
	}

	h.log.Debug("streak advanced",
		logger.UserID(cmd.UserID),
		logger.StreakType(string(cmd.StreakType)),
		logger.String("outcome", outcome.String()),
		logger.Int("current_streak", st.CurrentStreak),
		logger.Latency(time.Since(start)),
	)

	result := &UpdateStreakResult{State: st, Outcome: outcome}
	if outcome == streak.OutcomeReset {
		result.PreviousStreak = previous
	}
	return result, nil
}
