package achievement

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unilingo/progress-engine/internal/domain/activity"
)

func TestStreakMilestone(t *testing.T) {
	rule := StreakMilestone()

	for _, s := range []int{0, 1, 6, 8, 13, 15} {
		_, ok := rule.Evaluate(Facts{CurrentStreak: s})
		assert.False(t, ok, "streak %d", s)
	}

	c, ok := rule.Evaluate(Facts{CurrentStreak: 14})
	require.True(t, ok)
	assert.Equal(t, "7-Day Streak #2", c.Name)
	assert.Equal(t, "Maintained a 14-day study streak!", c.Description)
	assert.Equal(t, TypeStreak, c.Type)
}

func TestStatsRules(t *testing.T) {
	stats := &activity.LearningStats{
		TotalLessonsCompleted: 10,
		AverageLessonAccuracy: 90,
		TotalStudyTimeHours:   9.99,
	}

	got := Candidates(DefaultRules(), Facts{Stats: stats}, nil)

	names := make([]string, 0, len(got))
	for _, c := range got {
		names = append(names, c.Name)
	}
	assert.Equal(t, []string{"Accuracy Master", "Lesson Champion"}, names)
}

func TestCandidates_SkipsExisting(t *testing.T) {
	stats := &activity.LearningStats{TotalLessonsCompleted: 12, TotalStudyTimeHours: 11}
	existing := map[string]bool{"Lesson Champion": true}

	got := Candidates(DefaultRules(), Facts{CurrentStreak: 7, Stats: stats}, existing)

	require.Len(t, got, 2)
	assert.Equal(t, "7-Day Streak #1", got[0].Name)
	assert.Equal(t, "Dedicated Learner", got[1].Name)
}

func TestCandidates_NoStats(t *testing.T) {
	assert.Empty(t, Candidates(DefaultRules(), Facts{}, nil))
}
