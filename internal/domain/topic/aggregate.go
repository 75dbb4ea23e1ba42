// Package topic ranks study topics by the mean retention score of their items.
package topic

import (
	"context"
	"math"
)

// None is reported when no topic has a recorded score.
const None = "None"

// Item is a studyable unit (a flashcard) tagged with a topic.
type Item struct {
	ID    string `json:"id"`
	Topic string `json:"topic"`
}

// ItemProgress is the learner's state on one item.
// RetentionScore is nil until the item has been reviewed.
type ItemProgress struct {
	ItemID         string   `json:"item_id"`
	RetentionScore *float64 `json:"retention_score,omitempty"`
	IsMastered     bool     `json:"is_mastered"`
}

// Score is the aggregate for one topic.
type Score struct {
	Topic   string  `json:"topic"`
	Average float64 `json:"average"`
	Count   int     `json:"count"`
}

// Performance is the result of Aggregate.
type Performance struct {
	BestTopic    string  `json:"best_topic"`
	WeakestTopic string  `json:"weakest_topic"`
	Topics       []Score `json:"topics"`
}

// Aggregate groups scored items by topic and picks the topics with the
// strictly highest and strictly lowest mean. Ties go to the topic seen first
// in items. Topics without any scored item are left out of the ranking.
func Aggregate(items []Item, scoreByItemID map[string]float64) Performance {
	type acc struct {
		total float64
		count int
	}

	order := make([]string, 0)
	byTopic := make(map[string]*acc)
	for _, it := range items {
		score, ok := scoreByItemID[it.ID]
		if !ok {
			continue
		}
		a, seen := byTopic[it.Topic]
		if !seen {
			a = &acc{}
			byTopic[it.Topic] = a
			order = append(order, it.Topic)
		}
		a.total += score
		a.count++
	}

	perf := Performance{BestTopic: None, WeakestTopic: None, Topics: make([]Score, 0, len(order))}
	best, worst := math.Inf(-1), math.Inf(1)
	for _, name := range order {
		a := byTopic[name]
		avg := a.total / float64(a.count)
		perf.Topics = append(perf.Topics, Score{Topic: name, Average: math.Round(avg*100) / 100, Count: a.count})
		if avg > best {
			best, perf.BestTopic = avg, name
		}
		if avg < worst {
			worst, perf.WeakestTopic = avg, name
		}
	}
	return perf
}

// ScoresByItem indexes the recorded retention scores.
func ScoresByItem(progress []ItemProgress) map[string]float64 {
	out := make(map[string]float64, len(progress))
	for _, p := range progress {
		if p.RetentionScore != nil {
			out[p.ItemID] = *p.RetentionScore
		}
	}
	return out
}

// ══════════════════════════════════════════════════════════════════════════════
// FLASHCARD STATS
// ══════════════════════════════════════════════════════════════════════════════

// FlashcardStats summarizes the learner's flashcard deck.
type FlashcardStats struct {
	TotalCards      int     `json:"total_cards"`
	MasteredCards   int     `json:"mastered_cards"`
	DayStreak       int     `json:"day_streak"`
	AverageAccuracy int     `json:"average_accuracy"`
	BestTopic       string  `json:"best_topic"`
	WeakestTopic    string  `json:"weakest_topic"`
	Topics          []Score `json:"topics"`
}

// EmptyFlashcardStats is the default shape when nothing can be loaded.
func EmptyFlashcardStats() FlashcardStats {
	return FlashcardStats{BestTopic: None, WeakestTopic: None, Topics: []Score{}}
}

// BuildFlashcardStats combines the deck, the progress rows and the flashcard
// streak into FlashcardStats.
func BuildFlashcardStats(items []Item, progress []ItemProgress, dayStreak int) FlashcardStats {
	stats := EmptyFlashcardStats()
	stats.TotalCards = len(items)
	stats.DayStreak = dayStreak

	var sum float64
	var scored int
	for _, p := range progress {
		if p.IsMastered {
			stats.MasteredCards++
		}
		if p.RetentionScore != nil {
			sum += *p.RetentionScore
			scored++
		}
	}
	if scored > 0 {
		stats.AverageAccuracy = int(math.Round(sum / float64(scored)))
	}

	perf := Aggregate(items, ScoresByItem(progress))
	stats.BestTopic = perf.BestTopic
	stats.WeakestTopic = perf.WeakestTopic
	stats.Topics = perf.Topics
	return stats
}

// Repository reads the flashcard deck and per-card progress.
type Repository interface {
	ListFlashcards(ctx context.Context, userID string) ([]Item, error)
	GetFlashcardProgress(ctx context.Context, userID string) ([]ItemProgress, error)
}
