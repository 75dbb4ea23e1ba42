// Package activity contains the immutable activity log entry, the per-user
// learning statistics it feeds, and the daily summaries derived from it.
package activity

import (
	"math"
	"strings"
	"time"

	"github.com/unilingo/progress-engine/internal/domain/shared"
	"github.com/unilingo/progress-engine/pkg/timeutil"
)

// Type is the kind of learning activity.
type Type string

const (
	TypeLesson    Type = "lesson"
	TypeFlashcard Type = "flashcard"
	TypeGame      Type = "game"
	TypeExercise  Type = "exercise"
)

// IsValid reports whether t is a known activity type.
func (t Type) IsValid() bool {
	switch t {
	case TypeLesson, TypeFlashcard, TypeGame, TypeExercise:
		return true
	}
	return false
}

// ══════════════════════════════════════════════════════════════════════════════
// ACTIVITY RECORD
// ══════════════════════════════════════════════════════════════════════════════

// Record is one completed activity. Immutable once appended to the store.
type Record struct {
	ID              string    `json:"id"`
	UserID          string    `json:"user_id"`
	Type            Type      `json:"activity_type"`
	Name            string    `json:"activity_name"`
	DurationSeconds int       `json:"duration_seconds"`
	Score           int       `json:"score"`
	MaxScore        int       `json:"max_score"`
	Accuracy        *float64  `json:"accuracy_percentage,omitempty"`
	CompletedAt     time.Time `json:"completed_at"`
}

// NewRecord validates its input and returns a Record without an ID.
// The store assigns the ID on append.
func NewRecord(userID string, typ Type, name string, durationSeconds, score, maxScore int, accuracy *float64, completedAt time.Time) (*Record, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, shared.ErrUserIDRequired
	}
	if !typ.IsValid() {
		return nil, shared.ErrUnknownActivityType
	}
	if durationSeconds < 0 {
		return nil, shared.ErrNegativeDuration
	}
	if score < 0 || maxScore < 0 || (maxScore > 0 && score > maxScore) {
		return nil, shared.ErrInvalidScore
	}
	if accuracy != nil && (*accuracy < 0 || *accuracy > 100) {
		return nil, shared.ErrInvalidScore
	}

	return &Record{
		UserID:          userID,
		Type:            typ,
		Name:            name,
		DurationSeconds: durationSeconds,
		Score:           score,
		MaxScore:        maxScore,
		Accuracy:        accuracy,
		CompletedAt:     completedAt.UTC(),
	}, nil
}

// MaxClockSkew is how far past the server clock a completion time may be.
const MaxClockSkew = 5 * time.Minute

// CheckCompletedAt rejects completion times later than now plus MaxClockSkew.
// A future day would become the streak's last activity date and freeze it.
func CheckCompletedAt(completedAt, now time.Time) error {
	if completedAt.After(now.Add(MaxClockSkew)) {
		return shared.ErrInvalidTimestamp
	}
	return nil
}

// Date returns the UTC calendar day the activity was completed on.
func (r *Record) Date() timeutil.Date {
	return timeutil.DateOf(r.CompletedAt)
}

// EffectiveAccuracy returns the reported accuracy, or score/maxScore as a
// percentage when none was reported.
func (r *Record) EffectiveAccuracy() float64 {
	if r.Accuracy != nil {
		return *r.Accuracy
	}
	if r.MaxScore <= 0 {
		return 0
	}
	return float64(r.Score) / float64(r.MaxScore) * 100
}

// Filter narrows a query over the activity log. Zero fields are unbounded.
type Filter struct {
	Type  Type
	Since time.Time // inclusive
	Until time.Time // exclusive
	Limit int
}

// ══════════════════════════════════════════════════════════════════════════════
// LEARNING STATS
// ══════════════════════════════════════════════════════════════════════════════

// LearningStats are the per-user running totals.
type LearningStats struct {
	UserID                  string    `json:"user_id"`
	TotalStudyTimeHours     float64   `json:"total_study_time_hours"`
	TotalLessonsCompleted   int       `json:"total_lessons_completed"`
	TotalFlashcardsReviewed int       `json:"total_flashcards_reviewed"`
	TotalGamesPlayed        int       `json:"total_games_played"`
	TotalExercisesCompleted int       `json:"total_exercises_completed"`
	TotalScoreEarned        int       `json:"total_score_earned"`
	AverageLessonAccuracy   float64   `json:"average_lesson_accuracy"`
	ExperiencePoints        int       `json:"experience_points"`
	CurrentLevel            string    `json:"current_level"`
	UpdatedAt               time.Time `json:"updated_at"`
}

// NewLearningStats returns zeroed stats for a first-time user.
func NewLearningStats(userID, level string) *LearningStats {
	return &LearningStats{UserID: userID, CurrentLevel: level}
}

// Apply folds one activity and its awarded XP into the totals.
func (s *LearningStats) Apply(r *Record, xp int, at time.Time) {
	s.ExperiencePoints += xp
	s.TotalScoreEarned += r.Score
	s.TotalStudyTimeHours = roundTo(s.TotalStudyTimeHours+float64(r.DurationSeconds)/3600, 2)

	switch r.Type {
	case TypeLesson:
		prev := s.TotalLessonsCompleted
		s.TotalLessonsCompleted++
		s.AverageLessonAccuracy = roundTo(
			(s.AverageLessonAccuracy*float64(prev)+r.EffectiveAccuracy())/float64(s.TotalLessonsCompleted), 2)
	case TypeFlashcard:
		s.TotalFlashcardsReviewed++
	case TypeGame:
		s.TotalGamesPlayed++
	case TypeExercise:
		s.TotalExercisesCompleted++
	}
	s.UpdatedAt = at.UTC()
}

func roundTo(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
