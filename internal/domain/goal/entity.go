// Package goal models per-day learning targets.
package goal

import (
	"math"
	"time"

	"github.com/unilingo/progress-engine/internal/domain/activity"
	"github.com/unilingo/progress-engine/internal/domain/level"
	"github.com/unilingo/progress-engine/pkg/timeutil"
)

// Type is the metric a goal tracks.
type Type string

const (
	TypeStudyTime          Type = "study_time" // minutes
	TypeLessonsCompleted   Type = "lessons_completed"
	TypeFlashcardsReviewed Type = "flashcards_reviewed"
	TypeGamesPlayed        Type = "games_played"
)

// Types lists every goal type in display order.
var Types = []Type{TypeStudyTime, TypeLessonsCompleted, TypeFlashcardsReviewed, TypeGamesPlayed}

// IsValid reports whether t is a known goal type.
func (t Type) IsValid() bool {
	switch t {
	case TypeStudyTime, TypeLessonsCompleted, TypeFlashcardsReviewed, TypeGamesPlayed:
		return true
	}
	return false
}

// DailyGoal is one target for one user on one day.
// Completed latches: once true it stays true for the same GoalDate.
type DailyGoal struct {
	ID           string        `json:"id,omitempty"`
	UserID       string        `json:"user_id"`
	GoalType     Type          `json:"goal_type"`
	TargetValue  int           `json:"target_value"`
	CurrentValue int           `json:"current_value"`
	GoalDate     timeutil.Date `json:"goal_date"`
	Completed    bool          `json:"completed"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

// AddProgress increases CurrentValue by delta and latches Completed.
// Non-positive deltas are ignored.
func (g *DailyGoal) AddProgress(delta int, at time.Time) {
	if delta <= 0 {
		return
	}
	g.CurrentValue += delta
	if g.CurrentValue >= g.TargetValue {
		g.Completed = true
	}
	g.UpdatedAt = at.UTC()
}

// SetTarget replaces TargetValue. Lowering the target below CurrentValue
// completes the goal; raising it never clears Completed.
func (g *DailyGoal) SetTarget(target int, at time.Time) {
	g.TargetValue = target
	if g.CurrentValue >= g.TargetValue {
		g.Completed = true
	}
	g.UpdatedAt = at.UTC()
}

// ══════════════════════════════════════════════════════════════════════════════
// DEFAULTS
// ══════════════════════════════════════════════════════════════════════════════

// Proficiency buckets pick the default targets.
const (
	ProficiencyBeginner     = "beginner"
	ProficiencyIntermediate = "intermediate"
	ProficiencyAdvanced     = "advanced"
)

// ProficiencyFor buckets an XP level name into a proficiency.
func ProficiencyFor(levelName string) string {
	switch levelName {
	case level.Beginner, level.Elementary:
		return ProficiencyBeginner
	case level.Intermediate:
		return ProficiencyIntermediate
	case level.Advanced, level.Expert, level.Master:
		return ProficiencyAdvanced
	default:
		return ""
	}
}

// DefaultTargets returns the targets for a proficiency.
func DefaultTargets(proficiency string) map[Type]int {
	switch proficiency {
	case ProficiencyBeginner:
		return map[Type]int{TypeStudyTime: 15, TypeLessonsCompleted: 1, TypeFlashcardsReviewed: 10, TypeGamesPlayed: 1}
	case ProficiencyIntermediate:
		return map[Type]int{TypeStudyTime: 30, TypeLessonsCompleted: 2, TypeFlashcardsReviewed: 20, TypeGamesPlayed: 2}
	case ProficiencyAdvanced:
		return map[Type]int{TypeStudyTime: 45, TypeLessonsCompleted: 3, TypeFlashcardsReviewed: 30, TypeGamesPlayed: 3}
	default:
		return map[Type]int{TypeStudyTime: 20, TypeLessonsCompleted: 1, TypeFlashcardsReviewed: 15, TypeGamesPlayed: 1}
	}
}

// NewDefaultGoals builds the zero-progress goal set for one day.
func NewDefaultGoals(userID string, date timeutil.Date, proficiency string) []*DailyGoal {
	targets := DefaultTargets(proficiency)
	goals := make([]*DailyGoal, 0, len(Types))
	for _, t := range Types {
		goals = append(goals, &DailyGoal{
			UserID:      userID,
			GoalType:    t,
			TargetValue: targets[t],
			GoalDate:    date,
		})
	}
	return goals
}

// Contributions maps one activity onto goal increments.
func Contributions(r *activity.Record) map[Type]int {
	c := make(map[Type]int, 2)
	if minutes := r.DurationSeconds / 60; minutes > 0 {
		c[TypeStudyTime] = minutes
	}
	switch r.Type {
	case activity.TypeLesson:
		c[TypeLessonsCompleted] = 1
	case activity.TypeFlashcard:
		c[TypeFlashcardsReviewed] = 1
	case activity.TypeGame:
		c[TypeGamesPlayed] = 1
	}
	return c
}

// ══════════════════════════════════════════════════════════════════════════════
// PROGRESS VIEW
// ══════════════════════════════════════════════════════════════════════════════

// Item is the display form of one goal.
type Item struct {
	Target    int  `json:"target"`
	Current   int  `json:"current"`
	Completed bool `json:"completed"`
}

// Progress is the display form of a day's goals.
type Progress struct {
	StudyTime          Item `json:"study_time"`
	LessonsCompleted   Item `json:"lessons_completed"`
	FlashcardsReviewed Item `json:"flashcards_reviewed"`
	GamesPlayed        Item `json:"games_played"`
	OverallProgress    int  `json:"overall_progress"`
	GoalsAchieved      int  `json:"goals_achieved"`
	TotalGoals         int  `json:"total_goals"`
}

// Summarize builds the Progress view. OverallProgress is the percentage of
// goals completed.
func Summarize(goals []*DailyGoal) Progress {
	var p Progress
	for _, g := range goals {
		item := Item{Target: g.TargetValue, Current: g.CurrentValue, Completed: g.Completed}
		switch g.GoalType {
		case TypeStudyTime:
			p.StudyTime = item
		case TypeLessonsCompleted:
			p.LessonsCompleted = item
		case TypeFlashcardsReviewed:
			p.FlashcardsReviewed = item
		case TypeGamesPlayed:
			p.GamesPlayed = item
		}
		if g.Completed {
			p.GoalsAchieved++
		}
	}
	p.TotalGoals = len(goals)
	if p.TotalGoals > 0 {
		p.OverallProgress = int(math.Round(float64(p.GoalsAchieved) / float64(p.TotalGoals) * 100))
	}
	return p
}
