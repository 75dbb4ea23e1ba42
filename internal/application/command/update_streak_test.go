package command

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unilingo/progress-engine/internal/domain/goal"
	"github.com/unilingo/progress-engine/internal/domain/shared"
	"github.com/unilingo/progress-engine/internal/domain/streak"
	"github.com/unilingo/progress-engine/internal/infrastructure/persistence/memstore"
	"github.com/unilingo/progress-engine/pkg/timeutil"
)

func TestUpdateStreak_Transitions(t *testing.T) {
	store := memstore.New()
	h := NewUpdateStreakHandler(store, nil, nil)
	ctx := context.Background()
	d := timeutil.MustParseDate("2026-03-01")
	cmd := func(date timeutil.Date) UpdateStreakCommand {
		return UpdateStreakCommand{UserID: "u1", StreakType: streak.TypeDailyStudy, Date: date}
	}

	res, err := h.Handle(ctx, cmd(d))
	require.NoError(t, err)
	assert.Equal(t, streak.OutcomeStarted, res.Outcome)

	res, err = h.Handle(ctx, cmd(d.AddDays(1)))
	require.NoError(t, err)
	assert.Equal(t, streak.OutcomeExtended, res.Outcome)
	assert.Equal(t, 2, res.State.CurrentStreak)

	res, err = h.Handle(ctx, cmd(d.AddDays(5)))
	require.NoError(t, err)
	assert.Equal(t, streak.OutcomeReset, res.Outcome)
	assert.Equal(t, 2, res.PreviousStreak)
	assert.Equal(t, 1, res.State.CurrentStreak)
	assert.Equal(t, 2, res.State.LongestStreak)

	stored, err := store.GetStreak(ctx, "u1", streak.TypeDailyStudy)
	require.NoError(t, err)
	assert.Equal(t, res.State, stored)
}

func TestUpdateStreak_ConcurrentSameDayIsIdempotent(t *testing.T) {
	store := memstore.New()
	h := NewUpdateStreakHandler(store, nil, func() time.Time { return time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC) })
	ctx := context.Background()
	require.NoError(t, store.UpsertStreak(ctx, &streak.State{
		UserID: "u1", StreakType: streak.TypeDailyStudy, CurrentStreak: 4, LongestStreak: 4,
		LastActivityDate: timeutil.MustParseDate("2026-03-01"), StartDate: timeutil.MustParseDate("2026-02-26"),
	}))

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.Handle(ctx, UpdateStreakCommand{UserID: "u1", StreakType: streak.TypeDailyStudy})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	st, err := store.GetStreak(ctx, "u1", streak.TypeDailyStudy)
	require.NoError(t, err)
	assert.Equal(t, 5, st.CurrentStreak)
}

func TestUpdateStreak_Validation(t *testing.T) {
	h := NewUpdateStreakHandler(memstore.New(), nil, nil)
	_, err := h.Handle(context.Background(), UpdateStreakCommand{UserID: "u1", StreakType: "weekly"})
	assert.True(t, shared.IsValidation(err))
}

func TestUpdateGoalProgress_LazyDefaultsAndLatch(t *testing.T) {
	store := memstore.New()
	h := NewUpdateGoalProgressHandler(store, nil, nil)
	ctx := context.Background()
	day := timeutil.MustParseDate("2026-03-01")

	res, err := h.Handle(ctx, UpdateGoalProgressCommand{
		UserID: "u1", Date: day, Proficiency: goal.ProficiencyIntermediate,
		Increments: map[goal.Type]int{goal.TypeGamesPlayed: 2},
	})
	require.NoError(t, err)
	assert.True(t, res.Created)
	assert.Equal(t, []goal.Type{goal.TypeGamesPlayed}, res.NewlyCompleted)

	goals, err := store.GetDailyGoals(ctx, "u1", day)
	require.NoError(t, err)
	require.Len(t, goals, 4)
	byType := map[goal.Type]*goal.DailyGoal{}
	for _, g := range goals {
		byType[g.GoalType] = g
	}
	assert.Equal(t, 30, byType[goal.TypeStudyTime].TargetValue)
	assert.True(t, byType[goal.TypeGamesPlayed].Completed)

	res, err = h.Handle(ctx, UpdateGoalProgressCommand{
		UserID: "u1", Date: day, Increments: map[goal.Type]int{goal.TypeGamesPlayed: 1},
	})
	require.NoError(t, err)
	assert.False(t, res.Created)
	assert.Empty(t, res.NewlyCompleted)
}
