// Package streak implements the per-user, per-type continuity counter.
//
// A streak is a count of consecutive UTC calendar days with at least one
// qualifying activity. The stored counter is only rewritten when an activity
// arrives; readers use Effective to get the displayed value.
package streak

import (
	"github.com/unilingo/progress-engine/pkg/timeutil"
)

// Type identifies an independent streak counter for the same user.
type Type string

const (
	// TypeDailyStudy is advanced by any completed activity.
	TypeDailyStudy Type = "daily_study"

	// TypeDailyFlashcards is advanced by flashcard reviews only.
	TypeDailyFlashcards Type = "daily_flashcards"
)

// Outcome describes what an Advance call did to the state.
type Outcome int

const (
	OutcomeStarted Outcome = iota
	OutcomeUnchanged
	OutcomeExtended
	OutcomeReset
)

func (o Outcome) String() string {
	switch o {
	case OutcomeStarted:
		return "started"
	case OutcomeUnchanged:
		return "unchanged"
	case OutcomeExtended:
		return "extended"
	case OutcomeReset:
		return "reset"
	default:
		return "unknown"
	}
}

// State is the persisted streak record.
// Invariant: LongestStreak >= CurrentStreak >= 0, and LongestStreak never decreases.
type State struct {
	UserID           string        `json:"user_id"`
	StreakType       Type          `json:"streak_type"`
	CurrentStreak    int           `json:"current_streak"`
	LongestStreak    int           `json:"longest_streak"`
	LastActivityDate timeutil.Date `json:"last_activity_date"`
	StartDate        timeutil.Date `json:"start_date"`
}

// Start returns the state of a streak whose first activity is today.
func Start(userID string, typ Type, today timeutil.Date) *State {
	return &State{
		UserID:           userID,
		StreakType:       typ,
		CurrentStreak:    1,
		LongestStreak:    1,
		LastActivityDate: today,
		StartDate:        today,
	}
}

// Advance records an activity on today and reports the transition taken.
// Activity dated before LastActivityDate leaves the state untouched.
func (s *State) Advance(today timeutil.Date) Outcome {
	if s.LastActivityDate.IsZero() {
		*s = *Start(s.UserID, s.StreakType, today)
		return OutcomeStarted
	}

	switch delta := timeutil.DaysBetween(s.LastActivityDate, today); {
	case delta <= 0:
		return OutcomeUnchanged
	case delta == 1:
		s.CurrentStreak++
		if s.CurrentStreak > s.LongestStreak {
			s.LongestStreak = s.CurrentStreak
		}
		s.LastActivityDate = today
		return OutcomeExtended
	default:
		s.CurrentStreak = 1
		s.StartDate = today
		s.LastActivityDate = today
		return OutcomeReset
	}
}

// Effective returns the streak as it should be displayed on today: zero once
// more than one day has passed since the last activity, even though the
// stored CurrentStreak is only corrected on the next Advance.
func (s *State) Effective(today timeutil.Date) int {
	if s == nil || s.LastActivityDate.IsZero() {
		return 0
	}
	if timeutil.DaysBetween(s.LastActivityDate, today) > 1 {
		return 0
	}
	return s.CurrentStreak
}

// IsAtRisk reports whether the streak breaks unless there is activity today.
func (s *State) IsAtRisk(today timeutil.Date) bool {
	if s == nil || s.CurrentStreak == 0 {
		return false
	}
	return timeutil.DaysBetween(s.LastActivityDate, today) == 1
}
