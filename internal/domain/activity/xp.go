package activity

import "math"

var baseXP = map[Type]int{
	TypeLesson:    15,
	TypeFlashcard: 3,
	TypeGame:      8,
	TypeExercise:  5,
}

var typeBonus = map[Type]int{
	TypeLesson:    8,
	TypeFlashcard: 5,
	TypeGame:      6,
	TypeExercise:  3,
}

// MaxStreakBonus caps the XP a streak can add to a single activity.
const MaxStreakBonus = 3

// XPBreakdown itemizes the experience awarded for one activity.
type XPBreakdown struct {
	Base          int `json:"base_xp"`
	AccuracyBonus int `json:"accuracy_bonus"`
	TypeBonus     int `json:"type_bonus"`
	StreakBonus   int `json:"streak_bonus"`
	Total         int `json:"total_xp"`
}

// CalculateXP scores an activity. The base value is scaled by score/maxScore,
// accuracy adds a tiered bonus, and every full week of streak adds one point
// up to MaxStreakBonus.
func CalculateXP(r *Record, currentStreak int) XPBreakdown {
	b := XPBreakdown{
		Base:          scaledBase(r),
		AccuracyBonus: accuracyBonus(r.EffectiveAccuracy()),
		TypeBonus:     typeBonus[r.Type],
	}
	if currentStreak > 0 {
		b.StreakBonus = min(MaxStreakBonus, currentStreak/7)
	}
	b.Total = b.Base + b.AccuracyBonus + b.TypeBonus + b.StreakBonus
	return b
}

func scaledBase(r *Record) int {
	base := baseXP[r.Type]
	if r.MaxScore <= 0 {
		return base
	}
	return int(math.Round(float64(r.Score) / float64(r.MaxScore) * float64(base)))
}

func accuracyBonus(accuracy float64) int {
	switch {
	case accuracy >= 90:
		return 6
	case accuracy >= 80:
		return 4
	case accuracy >= 70:
		return 3
	default:
		return 1
	}
}
