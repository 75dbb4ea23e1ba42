// Package query contains read operations (CQRS - Queries).
package query

import (
	"context"
	"fmt"
	"strings"

	"github.com/unilingo/progress-engine/internal/domain/shared"
	"github.com/unilingo/progress-engine/internal/domain/streak"
	"github.com/unilingo/progress-engine/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET STREAK QUERY
// Reports a streak as it should be displayed today. The stored counter is not
// rewritten here; a streak whose last activity is older than yesterday reads
// as zero until the next activity resets it.
// ══════════════════════════════════════════════════════════════════════════════

// GetStreakQuery selects one streak.
type GetStreakQuery struct {
	UserID     string
	StreakType streak.Type
}

// Validate fills defaults and checks the query.
func (q *GetStreakQuery) Validate() error {
	if strings.TrimSpace(q.UserID) == "" {
		return shared.ErrUserIDRequired
	}
	if q.StreakType == "" {
		q.StreakType = streak.TypeDailyStudy
	}
	return nil
}

// StreakDTO is the displayed streak.
type StreakDTO struct {
	UserID     string      `json:"user_id"`
	StreakType streak.Type `json:"streak_type"`

	// CurrentStreak is the effective value for today.
	CurrentStreak int `json:"current_streak"`

	// StoredStreak is the persisted counter, which may still hold a broken streak.
	StoredStreak int `json:"stored_streak"`

	LongestStreak    int           `json:"longest_streak"`
	LastActivityDate timeutil.Date `json:"last_activity_date"`
	StartDate        timeutil.Date `json:"start_date"`
	AtRisk           bool          `json:"at_risk"`
}

// NewStreakDTO builds the view of st on today. A nil st yields nil.
func NewStreakDTO(st *streak.State, today timeutil.Date) *StreakDTO {
	if st == nil {
		return nil
	}
	return &StreakDTO{
		UserID:           st.UserID,
		StreakType:       st.StreakType,
		CurrentStreak:    st.Effective(today),
		StoredStreak:     st.CurrentStreak,
		LongestStreak:    st.LongestStreak,
		LastActivityDate: st.LastActivityDate,
		StartDate:        st.StartDate,
		AtRisk:           st.IsAtRisk(today),
	}
}

// GetStreakHandler handles GetStreakQuery.
type GetStreakHandler struct {
	repo streak.Repository
	now  timeutil.Clock
}

// NewGetStreakHandler creates a new GetStreakHandler.
func NewGetStreakHandler(repo streak.Repository, clock timeutil.Clock) *GetStreakHandler {
	if clock == nil {
		clock = timeutil.SystemClock
	}
	return &GetStreakHandler{repo: repo, now: clock}
}

// Handle returns (nil, nil) when the user has no streak yet, and an error
// when the store cannot answer, so callers never mistake an outage for a
// broken streak.
func (h *GetStreakHandler) Handle(ctx context.Context, q GetStreakQuery) (*StreakDTO, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	st, err := h.repo.GetStreak(ctx, q.UserID, q.StreakType)
	if shared.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get_streak: %w", err)
	}
	return NewStreakDTO(st, timeutil.Today(h.now)), nil
}
