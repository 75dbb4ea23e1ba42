package command

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unilingo/progress-engine/internal/application/saga"
	"github.com/unilingo/progress-engine/internal/domain/activity"
	"github.com/unilingo/progress-engine/internal/domain/goal"
	"github.com/unilingo/progress-engine/internal/domain/level"
	"github.com/unilingo/progress-engine/internal/domain/shared"
	"github.com/unilingo/progress-engine/internal/domain/streak"
	"github.com/unilingo/progress-engine/internal/infrastructure/persistence/memstore"
	"github.com/unilingo/progress-engine/pkg/timeutil"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time { return c.t }

func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

type countingInvalidator struct{ users []string }

func (c *countingInvalidator) ClearUserCache(_ context.Context, userID string) {
	c.users = append(c.users, userID)
}

type fixture struct {
	store   *memstore.Store
	clock   *fakeClock
	inv     *countingInvalidator
	handler *RecordActivityHandler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store: memstore.New(),
		clock: &fakeClock{t: time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)},
		inv:   &countingInvalidator{},
	}
	f.store.SetClock(f.clock.Now)
	flow := saga.NewAchievementFlow(f.store, f.store, f.store, nil, saga.DefaultAchievementFlowConfig(), nil, f.clock.Now)
	f.handler = NewRecordActivityHandler(RecordActivityDeps{
		Activities:   f.store,
		Stats:        f.store,
		Streaks:      f.store,
		StreakCmd:    NewUpdateStreakHandler(f.store, nil, f.clock.Now),
		GoalCmd:      NewUpdateGoalProgressHandler(f.store, nil, f.clock.Now),
		Achievements: flow,
		Invalidator:  f.inv,
	}, nil, f.clock.Now)
	return f
}

func lesson(userID string) RecordActivityCommand {
	return RecordActivityCommand{
		UserID: userID, Type: activity.TypeLesson, Name: "Greetings",
		DurationSeconds: 900, Score: 10, MaxScore: 10,
	}
}

func TestRecordActivity_FirstActivity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.handler.Handle(ctx, lesson("u1"))
	require.NoError(t, err)

	assert.NotEmpty(t, res.Activity.ID)
	assert.Equal(t, activity.XPBreakdown{Base: 15, AccuracyBonus: 6, TypeBonus: 8, Total: 29}, res.XP)
	assert.Equal(t, level.Beginner, res.Level.CurrentLevel)
	assert.Equal(t, 29, res.Level.ProgressPercentage)
	assert.False(t, res.LeveledUp)
	require.NotNil(t, res.Streak)
	assert.Equal(t, 1, res.Streak.CurrentStreak)
	assert.Equal(t, streak.OutcomeStarted, res.StreakOutcome)
	assert.ElementsMatch(t, []goal.Type{goal.TypeStudyTime, goal.TypeLessonsCompleted}, res.GoalsCompleted)
	assert.Equal(t, []string{"u1"}, f.inv.users)

	stats, err := f.store.GetLearningStats(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 29, stats.ExperiencePoints)
	assert.Equal(t, 1, stats.TotalLessonsCompleted)
	assert.Equal(t, 0.25, stats.TotalStudyTimeHours)
	assert.Equal(t, 100.0, stats.AverageLessonAccuracy)

	goals, err := f.store.GetDailyGoals(ctx, "u1", timeutil.DateOf(f.clock.t))
	require.NoError(t, err)
	assert.Len(t, goals, len(goal.Types))
	for _, g := range goals {
		if g.GoalType == goal.TypeStudyTime {
			assert.Equal(t, 15, g.CurrentValue)
			assert.Equal(t, 15, g.TargetValue, "beginner target")
			assert.True(t, g.Completed)
		}
	}
}

func TestRecordActivity_SameDayDoesNotExtendStreak(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.handler.Handle(ctx, lesson("u1"))
	require.NoError(t, err)
	f.clock.Advance(2 * time.Hour)
	res, err := f.handler.Handle(ctx, lesson("u1"))
	require.NoError(t, err)

	assert.Equal(t, streak.OutcomeUnchanged, res.StreakOutcome)
	assert.Equal(t, 1, res.Streak.CurrentStreak)
	assert.Empty(t, res.GoalsCompleted, "lesson goal already completed earlier today")
}

func TestRecordActivity_FlashcardAdvancesBothStreaks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.handler.Handle(ctx, RecordActivityCommand{UserID: "u1", Type: activity.TypeFlashcard, Score: 1, MaxScore: 1})
	require.NoError(t, err)

	for _, typ := range []streak.Type{streak.TypeDailyStudy, streak.TypeDailyFlashcards} {
		st, err := f.store.GetStreak(ctx, "u1", typ)
		require.NoError(t, err, typ)
		assert.Equal(t, 1, st.CurrentStreak)
	}
}

func TestRecordActivity_WeekOfStudyGrantsStreakAchievementAndBonus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var last *RecordActivityResult
	for day := 0; day < 8; day++ {
		res, err := f.handler.Handle(ctx, lesson("u1"))
		require.NoError(t, err)
		if day == 6 {
			assert.Contains(t, res.NewAchievements, "7-Day Streak #1")
		}
		last = res
		f.clock.Advance(24 * time.Hour)
	}

	assert.Equal(t, 8, last.Streak.CurrentStreak)
	assert.Equal(t, 1, last.XP.StreakBonus, "bonus uses the 7-day streak held before the activity")
}

func TestRecordActivity_LevelUp(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.SaveLearningStats(ctx, &activity.LearningStats{
		UserID: "u1", ExperiencePoints: 90, CurrentLevel: level.Beginner,
	}))

	res, err := f.handler.Handle(ctx, lesson("u1"))
	require.NoError(t, err)
	assert.True(t, res.LeveledUp)
	assert.Equal(t, level.Elementary, res.Level.CurrentLevel)
}

func TestRecordActivity_ValidationAndStoreErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.handler.Handle(ctx, RecordActivityCommand{UserID: "u1", Type: "essay"})
	assert.True(t, shared.IsValidation(err))

	_, err = f.handler.Handle(ctx, RecordActivityCommand{UserID: "u1", Type: activity.TypeGame, Score: 11, MaxScore: 10})
	assert.ErrorIs(t, err, shared.ErrInvalidScore)

	f.store.SetFailure(errors.New("db down"))
	_, err = f.handler.Handle(ctx, lesson("u1"))
	require.Error(t, err)
	assert.True(t, shared.IsRetryable(err))
	assert.Empty(t, f.inv.users)
}

func TestRecordActivity_RejectsFutureCompletion(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	future := lesson("u1")
	future.CompletedAt = f.clock.Now().AddDate(1, 0, 0)
	_, err := f.handler.Handle(ctx, future)
	require.ErrorIs(t, err, shared.ErrInvalidTimestamp)
	assert.True(t, shared.IsValidation(err))

	_, err = f.store.GetStreak(ctx, "u1", streak.TypeDailyStudy)
	assert.True(t, shared.IsNotFound(err), "nothing was written")
	stored, err := f.store.QueryActivities(ctx, "u1", activity.Filter{})
	require.NoError(t, err)
	assert.Empty(t, stored)

	// Within the allowed skew is fine.
	skewed := lesson("u1")
	skewed.CompletedAt = f.clock.Now().Add(activity.MaxClockSkew)
	_, err = f.handler.Handle(ctx, skewed)
	require.NoError(t, err)

	// Real daily activity keeps the streak moving.
	var last *RecordActivityResult
	for day := 0; day < 3; day++ {
		f.clock.Advance(24 * time.Hour)
		last, err = f.handler.Handle(ctx, lesson("u1"))
		require.NoError(t, err)
	}
	assert.Equal(t, 4, last.Streak.CurrentStreak)
	assert.Equal(t, timeutil.Today(f.clock.Now).String(), last.Streak.LastActivityDate.String())
}
