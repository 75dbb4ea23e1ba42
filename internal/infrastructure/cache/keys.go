package cache

import (
	"fmt"
	"time"
)

// Kind names a category of cached data. Keys are "<kind>_<userID>".
type Kind string

const (
	KindInsights         Kind = "progress_insights"
	KindStudyDates       Kind = "study_dates"
	KindRecentActivities Kind = "recent_activities"
	KindTodayGoals       Kind = "today_goals"
	KindStreak           Kind = "streak"
	KindWeeklyProgress   Kind = "weekly_progress"
	KindMonthlyProgress  Kind = "monthly_progress"
)

// Kinds lists every per-user kind. InvalidateUser deletes one key per kind.
var Kinds = []Kind{
	KindInsights,
	KindStudyDates,
	KindRecentActivities,
	KindTodayGoals,
	KindStreak,
	KindWeeklyProgress,
	KindMonthlyProgress,
}

// Key builds the cache key for a user's data of the given kind.
func Key(kind Kind, userID string) string {
	return fmt.Sprintf("%s_%s", kind, userID)
}

// UserKeys returns every key that may hold data for userID.
func UserKeys(userID string) []string {
	keys := make([]string, 0, len(Kinds))
	for _, k := range Kinds {
		keys = append(keys, Key(k, userID))
	}
	return keys
}

// ══════════════════════════════════════════════════════════════════════════════
// TTL POLICY
// ══════════════════════════════════════════════════════════════════════════════

// Policy holds per-kind TTLs. Volatile data gets short TTLs, slow aggregates
// long ones.
type Policy struct {
	TTLs map[Kind]time.Duration

	// Default applies to kinds missing from TTLs.
	Default time.Duration

	// Freshness is the window after a write during which an entry needs no refresh.
	Freshness time.Duration

	// MemoryTTL caps how long an entry stays in the in-process tier.
	MemoryTTL time.Duration
}

// DefaultPolicy returns the production TTL table.
func DefaultPolicy() Policy {
	return Policy{
		TTLs: map[Kind]time.Duration{
			KindRecentActivities: 1 * time.Minute,
			KindStreak:           2 * time.Minute,
			KindTodayGoals:       2 * time.Minute,
			KindInsights:         5 * time.Minute,
			KindStudyDates:       5 * time.Minute,
			KindWeeklyProgress:   15 * time.Minute,
			KindMonthlyProgress:  30 * time.Minute,
		},
		Default:   5 * time.Minute,
		Freshness: 60 * time.Second,
		MemoryTTL: 30 * time.Second,
	}
}

// TTL returns the TTL for kind.
func (p Policy) TTL(kind Kind) time.Duration {
	if ttl, ok := p.TTLs[kind]; ok && ttl > 0 {
		return ttl
	}
	return p.Default
}
