package memstore

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unilingo/progress-engine/internal/domain/achievement"
	"github.com/unilingo/progress-engine/internal/domain/activity"
	"github.com/unilingo/progress-engine/internal/domain/goal"
	"github.com/unilingo/progress-engine/internal/domain/session"
	"github.com/unilingo/progress-engine/internal/domain/shared"
	"github.com/unilingo/progress-engine/internal/domain/streak"
	"github.com/unilingo/progress-engine/internal/domain/topic"
	"github.com/unilingo/progress-engine/pkg/timeutil"
)

func TestQueryActivities_NewestFirstWithFilter(t *testing.T) {
	s := New()
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	for i, typ := range []activity.Type{activity.TypeLesson, activity.TypeGame, activity.TypeLesson, activity.TypeLesson} {
		s.Seed(activity.Record{UserID: "u1", Type: typ, CompletedAt: base.AddDate(0, 0, i)})
	}
	s.Seed(activity.Record{UserID: "u2", Type: activity.TypeLesson, CompletedAt: base})

	got, err := s.QueryActivities(ctx, "u1", activity.Filter{Type: activity.TypeLesson, Limit: 2})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, base.AddDate(0, 0, 3), got[0].CompletedAt)
	assert.Equal(t, base.AddDate(0, 0, 2), got[1].CompletedAt)

	got, err = s.QueryActivities(ctx, "u1", activity.Filter{Since: base.AddDate(0, 0, 1), Until: base.AddDate(0, 0, 3)})
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestUpsertStreak_NeverLowersLongest(t *testing.T) {
	s := New()
	ctx := context.Background()
	st := &streak.State{UserID: "u1", StreakType: streak.TypeDailyStudy, CurrentStreak: 5, LongestStreak: 9,
		LastActivityDate: timeutil.MustParseDate("2026-03-01"), StartDate: timeutil.MustParseDate("2026-02-25")}
	require.NoError(t, s.UpsertStreak(ctx, st))

	stale := *st
	stale.LongestStreak = 5
	require.NoError(t, s.UpsertStreak(ctx, &stale))

	got, err := s.GetStreak(ctx, "u1", streak.TypeDailyStudy)
	require.NoError(t, err)
	assert.Equal(t, 9, got.LongestStreak)

	_, err = s.GetStreak(ctx, "u1", streak.TypeDailyFlashcards)
	assert.ErrorIs(t, err, shared.ErrStreakNotFound)
}

func TestUpsertGoalProgress_CompletedLatches(t *testing.T) {
	s := New()
	ctx := context.Background()
	day := timeutil.MustParseDate("2026-03-01")
	g := &goal.DailyGoal{UserID: "u1", GoalType: goal.TypeGamesPlayed, TargetValue: 1, CurrentValue: 1, GoalDate: day, Completed: true}
	require.NoError(t, s.UpsertGoalProgress(ctx, g))

	g2 := *g
	g2.Completed = false
	require.NoError(t, s.UpsertGoalProgress(ctx, &g2))

	goals, err := s.GetDailyGoals(ctx, "u1", day)
	require.NoError(t, err)
	require.Len(t, goals, 1)
	assert.True(t, goals[0].Completed)

	goals, err = s.GetDailyGoals(ctx, "u1", day.AddDays(1))
	require.NoError(t, err)
	assert.Empty(t, goals)
}

func TestInsertAchievementIfAbsent_ConcurrentSingleWinner(t *testing.T) {
	s := New()
	ctx := context.Background()

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, inserted, err := s.InsertAchievementIfAbsent(ctx, &achievement.Achievement{UserID: "u1", Name: "Lesson Champion"})
			assert.NoError(t, err)
			if inserted {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
	list, err := s.GetAchievements(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestSessions_ScopedToOwnerAndClosedOnce(t *testing.T) {
	s := New()
	ctx := context.Background()
	start := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

	created, err := s.CreateSession(ctx, &session.Session{UserID: "u1", Type: session.TypeMixed, StartTime: start})
	require.NoError(t, err)
	require.NotEmpty(t, created.ID)

	_, err = s.GetSession(ctx, "u2", created.ID)
	assert.ErrorIs(t, err, shared.ErrSessionNotFound)

	got, err := s.GetSession(ctx, "u1", created.ID)
	require.NoError(t, err)
	require.NoError(t, got.End(session.Summary{ActivitiesCompleted: 3}, start.Add(10*time.Minute)))
	require.NoError(t, s.EndSession(ctx, got))

	stored, err := s.GetSession(ctx, "u1", created.ID)
	require.NoError(t, err)
	assert.False(t, stored.IsOpen())
	assert.Equal(t, 600, stored.TotalDurationSeconds)

	assert.ErrorIs(t, s.EndSession(ctx, got), shared.ErrSessionEnded)
}

func TestListFlashcards_OwnThenShared(t *testing.T) {
	s := New()
	s.AddFlashcard("", topic.Item{ID: "shared-1", Topic: "Food"})
	s.AddFlashcard("u1", topic.Item{ID: "own-1", Topic: "Travel"})
	s.AddFlashcard("u2", topic.Item{ID: "other", Topic: "Work"})

	items, err := s.ListFlashcards(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, []topic.Item{{ID: "own-1", Topic: "Travel"}, {ID: "shared-1", Topic: "Food"}}, items)
}

func TestSetFailure(t *testing.T) {
	s := New()
	s.SetFailure(errors.New("connection refused"))

	_, err := s.GetLearningStats(context.Background(), "u1")
	assert.ErrorIs(t, err, shared.ErrServiceUnavailable)
	assert.True(t, shared.IsRetryable(err))

	s.SetFailure(nil)
	_, err = s.GetLearningStats(context.Background(), "u1")
	assert.ErrorIs(t, err, shared.ErrStatsNotFound)
}
