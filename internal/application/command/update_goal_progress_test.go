package command

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unilingo/progress-engine/internal/domain/goal"
	"github.com/unilingo/progress-engine/internal/domain/shared"
	"github.com/unilingo/progress-engine/internal/infrastructure/persistence/memstore"
	"github.com/unilingo/progress-engine/pkg/timeutil"
)

func goalsByType(goals []*goal.DailyGoal) map[goal.Type]*goal.DailyGoal {
	out := make(map[goal.Type]*goal.DailyGoal, len(goals))
	for _, g := range goals {
		out[g.GoalType] = g
	}
	return out
}

func TestUpdateGoalProgress_CreatesDefaultsLazily(t *testing.T) {
	store := memstore.New()
	clock := &fakeClock{t: time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)}
	h := NewUpdateGoalProgressHandler(store, nil, clock.Now)
	ctx := context.Background()

	res, err := h.Handle(ctx, UpdateGoalProgressCommand{
		UserID:      "u1",
		Increments:  map[goal.Type]int{goal.TypeFlashcardsReviewed: 4},
		Proficiency: goal.ProficiencyIntermediate,
	})
	require.NoError(t, err)
	assert.True(t, res.Created)
	assert.Empty(t, res.NewlyCompleted)

	byType := goalsByType(res.Goals)
	require.Len(t, byType, 4)
	assert.Equal(t, 20, byType[goal.TypeFlashcardsReviewed].TargetValue)
	assert.Equal(t, 4, byType[goal.TypeFlashcardsReviewed].CurrentValue)
	assert.Equal(t, 30, byType[goal.TypeStudyTime].TargetValue)

	// Every default goal was persisted, not only the one that moved.
	stored, err := store.GetDailyGoals(ctx, "u1", timeutil.Today(clock.Now))
	require.NoError(t, err)
	assert.Len(t, stored, 4)
}

func TestUpdateGoalProgress_CompletesOnceAndLatches(t *testing.T) {
	store := memstore.New()
	clock := &fakeClock{t: time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)}
	h := NewUpdateGoalProgressHandler(store, nil, clock.Now)
	ctx := context.Background()

	inc := func(n int) *UpdateGoalProgressResult {
		res, err := h.Handle(ctx, UpdateGoalProgressCommand{
			UserID:      "u1",
			Increments:  map[goal.Type]int{goal.TypeGamesPlayed: n},
			Proficiency: goal.ProficiencyBeginner,
		})
		require.NoError(t, err)
		return res
	}

	first := inc(1)
	assert.Equal(t, []goal.Type{goal.TypeGamesPlayed}, first.NewlyCompleted)

	second := inc(1)
	assert.False(t, second.Created)
	assert.Empty(t, second.NewlyCompleted, "a completed goal is reported once")
	games := goalsByType(second.Goals)[goal.TypeGamesPlayed]
	assert.True(t, games.Completed)
	assert.Equal(t, 2, games.CurrentValue)
}

func TestUpdateGoalProgress_SeparateDays(t *testing.T) {
	store := memstore.New()
	clock := &fakeClock{t: time.Date(2026, 3, 10, 23, 30, 0, 0, time.UTC)}
	h := NewUpdateGoalProgressHandler(store, nil, clock.Now)
	ctx := context.Background()

	cmd := UpdateGoalProgressCommand{
		UserID:      "u1",
		Increments:  map[goal.Type]int{goal.TypeLessonsCompleted: 1},
		Proficiency: goal.ProficiencyBeginner,
	}
	_, err := h.Handle(ctx, cmd)
	require.NoError(t, err)

	clock.Advance(time.Hour)
	res, err := h.Handle(ctx, cmd)
	require.NoError(t, err)
	assert.True(t, res.Created, "a new UTC day starts a new goal set")
	assert.Equal(t, []goal.Type{goal.TypeLessonsCompleted}, res.NewlyCompleted)
}

func TestUpdateGoalProgress_Errors(t *testing.T) {
	store := memstore.New()
	h := NewUpdateGoalProgressHandler(store, nil, nil)
	ctx := context.Background()

	_, err := h.Handle(ctx, UpdateGoalProgressCommand{})
	assert.ErrorIs(t, err, shared.ErrUserIDRequired)

	store.SetFailure(errors.New("connection reset"))
	_, err = h.Handle(ctx, UpdateGoalProgressCommand{UserID: "u1"})
	assert.ErrorIs(t, err, shared.ErrServiceUnavailable)
}
