package activity

import (
	"math"

	"github.com/unilingo/progress-engine/pkg/timeutil"
)

// DailySummary aggregates one calendar day of activity.
type DailySummary struct {
	Date                  timeutil.Date `json:"date"`
	TotalStudyTimeMinutes int           `json:"total_study_time_minutes"`
	LessonsCompleted      int           `json:"lessons_completed"`
	FlashcardsReviewed    int           `json:"flashcards_reviewed"`
	GamesPlayed           int           `json:"games_played"`
	TotalScore            int           `json:"total_score"`
	AverageAccuracy       float64       `json:"average_accuracy"`
	StreakMaintained      bool          `json:"streak_maintained"`
	GoalsAchieved         int           `json:"goals_achieved"`
	TotalGoals            int           `json:"total_goals"`
}

type dayAccumulator struct {
	summary  DailySummary
	seconds  int
	accSum   float64
	accCount int
}

// Summarize groups records by UTC day for the given days, in the order given.
// With fillEmpty a day without records yields a zero summary; otherwise it is
// omitted.
func Summarize(records []*Record, days []timeutil.Date, fillEmpty bool) []DailySummary {
	index := make(map[timeutil.Date]*dayAccumulator, len(days))
	for _, d := range days {
		index[d] = &dayAccumulator{summary: DailySummary{Date: d}}
	}

	for _, r := range records {
		acc, ok := index[r.Date()]
		if !ok {
			continue
		}
		acc.seconds += r.DurationSeconds
		acc.summary.TotalScore += r.Score
		acc.summary.StreakMaintained = true
		switch r.Type {
		case TypeLesson:
			acc.summary.LessonsCompleted++
		case TypeFlashcard:
			acc.summary.FlashcardsReviewed++
		case TypeGame:
			acc.summary.GamesPlayed++
		}
		if r.Accuracy != nil {
			acc.accSum += *r.Accuracy
			acc.accCount++
		}
	}

	out := make([]DailySummary, 0, len(days))
	for _, d := range days {
		acc := index[d]
		if !acc.summary.StreakMaintained && !fillEmpty {
			continue
		}
		acc.summary.TotalStudyTimeMinutes = acc.seconds / 60
		if acc.accCount > 0 {
			acc.summary.AverageAccuracy = math.Round(acc.accSum/float64(acc.accCount)*100) / 100
		}
		out = append(out, acc.summary)
	}
	return out
}

// StudyDates returns the distinct UTC days present in records, newest first.
// Records are expected newest first, as the store returns them.
func StudyDates(records []*Record) []timeutil.Date {
	seen := make(map[timeutil.Date]struct{})
	dates := make([]timeutil.Date, 0)
	for _, r := range records {
		d := r.Date()
		if _, ok := seen[d]; ok {
			continue
		}
		seen[d] = struct{}{}
		dates = append(dates, d)
	}
	return dates
}
