// Package session models a study session: a timed block of learning that
// groups several activities and carries the learner's self-reported state.
package session

import (
	"strings"
	"time"

	"github.com/unilingo/progress-engine/internal/domain/shared"
)

// Type is the main kind of work done in a session.
type Type string

const (
	TypeLesson    Type = "lesson"
	TypeFlashcard Type = "flashcard"
	TypeGame      Type = "game"
	TypeMixed     Type = "mixed"
)

// IsValid reports whether t is a known session type.
func (t Type) IsValid() bool {
	switch t {
	case TypeLesson, TypeFlashcard, TypeGame, TypeMixed:
		return true
	}
	return false
}

// Self-reported ratings are on a 1..10 scale.
const (
	MinRating = 1
	MaxRating = 10
)

// Session is one study session. EndTime is nil while it is open.
type Session struct {
	ID                   string     `json:"id"`
	UserID               string     `json:"user_id"`
	Type                 Type       `json:"session_type"`
	StartTime            time.Time  `json:"start_time"`
	EndTime              *time.Time `json:"end_time,omitempty"`
	TotalDurationSeconds int        `json:"total_duration_seconds"`
	ActivitiesCompleted  int        `json:"activities_completed"`
	TotalScore           int        `json:"total_score"`
	AverageAccuracy      *float64   `json:"average_accuracy,omitempty"`
	Environment          string     `json:"study_environment,omitempty"`
	EnergyLevel          *int       `json:"energy_level,omitempty"`
	FocusLevel           *int       `json:"focus_level,omitempty"`
}

// Start validates its input and returns an open Session without an ID.
func Start(userID string, typ Type, environment string, energy *int, now time.Time) (*Session, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, shared.ErrUserIDRequired
	}
	if !typ.IsValid() {
		return nil, shared.ErrUnknownSessionType
	}
	if err := checkRating(energy); err != nil {
		return nil, err
	}
	return &Session{
		UserID:      userID,
		Type:        typ,
		StartTime:   now.UTC(),
		Environment: strings.TrimSpace(environment),
		EnergyLevel: energy,
	}, nil
}

// IsOpen reports whether the session has not ended yet.
func (s *Session) IsOpen() bool {
	return s.EndTime == nil
}

// Summary is what the client reports when a session ends. Nil ratings
// and accuracy leave the stored values alone.
type Summary struct {
	ActivitiesCompleted int
	TotalScore          int
	AverageAccuracy     *float64
	EnergyLevel         *int
	FocusLevel          *int
}

// End closes the session at now. The duration is measured from StartTime
// and is zero when the clock reads earlier than the start.
func (s *Session) End(sum Summary, now time.Time) error {
	if !s.IsOpen() {
		return shared.ErrSessionEnded
	}
	if sum.ActivitiesCompleted < 0 || sum.TotalScore < 0 {
		return shared.NewDomainError("session", "End", shared.ErrNegativeValue, "counts cannot be negative")
	}
	if sum.AverageAccuracy != nil && (*sum.AverageAccuracy < 0 || *sum.AverageAccuracy > 100) {
		return shared.ErrInvalidScore
	}
	if err := checkRating(sum.EnergyLevel); err != nil {
		return err
	}
	if err := checkRating(sum.FocusLevel); err != nil {
		return err
	}

	end := now.UTC()
	s.EndTime = &end
	if d := end.Sub(s.StartTime); d > 0 {
		s.TotalDurationSeconds = int(d / time.Second)
	}
	s.ActivitiesCompleted = sum.ActivitiesCompleted
	s.TotalScore = sum.TotalScore
	if sum.AverageAccuracy != nil {
		s.AverageAccuracy = sum.AverageAccuracy
	}
	if sum.EnergyLevel != nil {
		s.EnergyLevel = sum.EnergyLevel
	}
	if sum.FocusLevel != nil {
		s.FocusLevel = sum.FocusLevel
	}
	return nil
}

func checkRating(v *int) error {
	if v != nil && (*v < MinRating || *v > MaxRating) {
		return shared.ErrInvalidRating
	}
	return nil
}
