// Package achievement defines write-once achievements and the rules that grant them.
package achievement

import (
	"fmt"
	"time"

	"github.com/unilingo/progress-engine/internal/domain/activity"
)

// Type groups achievements for display.
type Type string

const (
	TypeStreak     Type = "streak"
	TypeAccuracy   Type = "accuracy"
	TypeTime       Type = "time"
	TypeCompletion Type = "completion"
)

// Achievement is unique per (UserID, Name) for the lifetime of the user.
type Achievement struct {
	ID          string    `json:"id,omitempty"`
	UserID      string    `json:"user_id"`
	Type        Type      `json:"achievement_type"`
	Name        string    `json:"achievement_name"`
	Description string    `json:"description"`
	EarnedAt    time.Time `json:"earned_at"`
}

// Facts is the authoritative state rules are evaluated against.
type Facts struct {
	CurrentStreak int
	Stats         *activity.LearningStats
}

// Candidate is an achievement a rule would grant. Name is a pure function of
// the facts, so re-evaluating unchanged state yields the same name.
type Candidate struct {
	Type        Type
	Name        string
	Description string
}

// Rule yields a candidate when its threshold is met.
type Rule interface {
	Evaluate(f Facts) (Candidate, bool)
}

// RuleFunc adapts a function to Rule.
type RuleFunc func(f Facts) (Candidate, bool)

func (fn RuleFunc) Evaluate(f Facts) (Candidate, bool) { return fn(f) }

// ══════════════════════════════════════════════════════════════════════════════
// RULES
// ══════════════════════════════════════════════════════════════════════════════

// Thresholds used by DefaultRules.
const (
	StreakWeek          = 7
	AccuracyMasterPct   = 90.0
	LessonChampionCount = 10
	DedicatedHours      = 10.0
)

// StreakMilestone grants one achievement per completed week of streak.
func StreakMilestone() Rule {
	return RuleFunc(func(f Facts) (Candidate, bool) {
		s := f.CurrentStreak
		if s < StreakWeek || s%StreakWeek != 0 {
			return Candidate{}, false
		}
		return Candidate{
			Type:        TypeStreak,
			Name:        fmt.Sprintf("7-Day Streak #%d", s/StreakWeek),
			Description: fmt.Sprintf("Maintained a %d-day study streak!", s),
		}, true
	})
}

// AccuracyMaster grants when average lesson accuracy is at least 90%.
func AccuracyMaster() Rule {
	return RuleFunc(func(f Facts) (Candidate, bool) {
		if f.Stats == nil || f.Stats.TotalLessonsCompleted == 0 || f.Stats.AverageLessonAccuracy < AccuracyMasterPct {
			return Candidate{}, false
		}
		return Candidate{
			Type:        TypeAccuracy,
			Name:        "Accuracy Master",
			Description: "Achieved 90%+ average accuracy in lessons!",
		}, true
	})
}

// LessonChampion grants after ten completed lessons.
func LessonChampion() Rule {
	return RuleFunc(func(f Facts) (Candidate, bool) {
		if f.Stats == nil || f.Stats.TotalLessonsCompleted < LessonChampionCount {
			return Candidate{}, false
		}
		return Candidate{
			Type:        TypeCompletion,
			Name:        "Lesson Champion",
			Description: "Completed 10 lessons!",
		}, true
	})
}

// DedicatedLearner grants after ten cumulative study hours.
func DedicatedLearner() Rule {
	return RuleFunc(func(f Facts) (Candidate, bool) {
		if f.Stats == nil || f.Stats.TotalStudyTimeHours < DedicatedHours {
			return Candidate{}, false
		}
		return Candidate{
			Type:        TypeTime,
			Name:        "Dedicated Learner",
			Description: "Studied for 10+ hours total!",
		}, true
	})
}

// DefaultRules returns the standard rule set in evaluation order.
func DefaultRules() []Rule {
	return []Rule{StreakMilestone(), AccuracyMaster(), LessonChampion(), DedicatedLearner()}
}

// Candidates evaluates rules against f and drops names present in existing.
func Candidates(rules []Rule, f Facts, existing map[string]bool) []Candidate {
	out := make([]Candidate, 0, len(rules))
	for _, r := range rules {
		c, ok := r.Evaluate(f)
		if !ok || existing[c.Name] {
			continue
		}
		out = append(out, c)
	}
	return out
}
