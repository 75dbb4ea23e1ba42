package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unilingo/progress-engine/internal/domain/achievement"
	"github.com/unilingo/progress-engine/internal/domain/activity"
	"github.com/unilingo/progress-engine/internal/domain/goal"
	"github.com/unilingo/progress-engine/internal/domain/session"
	"github.com/unilingo/progress-engine/internal/domain/shared"
	"github.com/unilingo/progress-engine/internal/domain/streak"
	"github.com/unilingo/progress-engine/pkg/circuitbreaker"
	"github.com/unilingo/progress-engine/pkg/timeutil"
)

func newMockStore(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	s := NewStore(mock, time.Second)
	s.retry.InitialDelay = time.Millisecond
	s.retry.MaxDelay = time.Millisecond
	s.now = func() time.Time { return time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC) }
	return s, mock
}

func TestStore_AppendActivity(t *testing.T) {
	s, mock := newMockStore(t)
	acc := 88.0
	rec, err := activity.NewRecord("u1", activity.TypeLesson, "Greetings", 600, 8, 10, &acc,
		time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO user_activities").
		WithArgs(pgxmock.AnyArg(), "u1", "lesson", "Greetings", 600, 8, 10, &acc, rec.CompletedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	out, err := s.AppendActivity(context.Background(), rec)
	require.NoError(t, err)
	assert.NotEmpty(t, out.ID)
	assert.Empty(t, rec.ID, "input record is not mutated")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_QueryActivities_BuildsFilter(t *testing.T) {
	s, mock := newMockStore(t)
	since := time.Date(2026, 3, 4, 0, 0, 0, 0, time.UTC)
	done := time.Date(2026, 3, 9, 8, 0, 0, 0, time.UTC)
	acc := 75.0

	rows := pgxmock.NewRows([]string{"id", "user_id", "activity_type", "activity_name", "duration_seconds",
		"score", "max_score", "accuracy_percentage", "completed_at"}).
		AddRow("a1", "u1", "game", "Match", 120, 5, 10, &acc, done)

	mock.ExpectQuery(`activity_type = \$2 AND completed_at >= \$3 ORDER BY completed_at DESC LIMIT \$4`).
		WithArgs("u1", "game", since, 10).
		WillReturnRows(rows)

	got, err := s.QueryActivities(context.Background(), "u1", activity.Filter{Type: activity.TypeGame, Since: since, Limit: 10})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, activity.TypeGame, got[0].Type)
	assert.Equal(t, done, got[0].CompletedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_QueryActivities_RetriesTransient(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery("FROM user_activities").
		WithArgs("u1").
		WillReturnError(&pgconn.PgError{Code: "40001"})
	mock.ExpectQuery("FROM user_activities").
		WithArgs("u1").
		WillReturnRows(pgxmock.NewRows([]string{"id", "user_id", "activity_type", "activity_name", "duration_seconds",
			"score", "max_score", "accuracy_percentage", "completed_at"}))

	got, err := s.QueryActivities(context.Background(), "u1", activity.Filter{})
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.NotNil(t, got)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_QueryActivities_Unavailable(t *testing.T) {
	s, mock := newMockStore(t)
	for i := 0; i < 3; i++ {
		mock.ExpectQuery("FROM user_activities").WillReturnError(&pgconn.PgError{Code: "57P01"})
	}

	_, err := s.QueryActivities(context.Background(), "u1", activity.Filter{})
	require.Error(t, err)
	assert.ErrorIs(t, err, shared.ErrServiceUnavailable)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_BreakerFailsFastDuringOutage(t *testing.T) {
	s, mock := newMockStore(t)
	s.retry.MaxAttempts = 1

	var opened bool
	s.breaker = NewBreaker(func(_ string, _, to circuitbreaker.State) {
		opened = opened || to == circuitbreaker.StateOpen
	})

	threshold := circuitbreaker.DefaultConfig("").FailureThreshold
	for i := 0; i < threshold; i++ {
		mock.ExpectQuery("FROM user_activities").WillReturnError(&pgconn.PgError{Code: "57P01"})
	}
	for i := 0; i < threshold; i++ {
		_, err := s.QueryActivities(context.Background(), "u1", activity.Filter{})
		require.ErrorIs(t, err, shared.ErrServiceUnavailable)
	}
	require.True(t, opened)

	// No query reaches the pool while the breaker is open.
	_, err := s.QueryActivities(context.Background(), "u1", activity.Filter{})
	assert.ErrorIs(t, err, shared.ErrServiceUnavailable)
	assert.ErrorIs(t, err, circuitbreaker.ErrOpen)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_BreakerIgnoresMissingRows(t *testing.T) {
	s, mock := newMockStore(t)
	threshold := circuitbreaker.DefaultConfig("").FailureThreshold
	for i := 0; i < threshold+1; i++ {
		mock.ExpectQuery("FROM user_learning_stats").WithArgs("u1").WillReturnError(pgx.ErrNoRows)
	}
	for i := 0; i < threshold+1; i++ {
		_, err := s.GetLearningStats(context.Background(), "u1")
		require.True(t, shared.IsNotFound(err))
	}
	assert.Equal(t, circuitbreaker.StateClosed, s.breaker.State())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_GetLearningStats_NotFound(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery("FROM user_learning_stats").WithArgs("u1").WillReturnError(pgx.ErrNoRows)

	_, err := s.GetLearningStats(context.Background(), "u1")
	assert.ErrorIs(t, err, shared.ErrStatsNotFound)
	assert.True(t, shared.IsNotFound(err))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_GetStreak(t *testing.T) {
	s, mock := newMockStore(t)
	last := time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC)
	start := time.Date(2026, 3, 3, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery("FROM user_streaks").
		WithArgs("u1", "daily_study").
		WillReturnRows(pgxmock.NewRows([]string{"current_streak", "longest_streak", "last_activity_date", "start_date"}).
			AddRow(7, 12, last, start))

	st, err := s.GetStreak(context.Background(), "u1", streak.TypeDailyStudy)
	require.NoError(t, err)
	assert.Equal(t, 7, st.CurrentStreak)
	assert.Equal(t, 12, st.LongestStreak)
	assert.Equal(t, "2026-03-09", st.LastActivityDate.String())
	assert.Equal(t, "2026-03-03", st.StartDate.String())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_GetStreak_NotFound(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery("FROM user_streaks").WillReturnError(pgx.ErrNoRows)

	_, err := s.GetStreak(context.Background(), "u1", streak.TypeDailyFlashcards)
	assert.ErrorIs(t, err, shared.ErrStreakNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_UpsertStreak_KeepsLongest(t *testing.T) {
	s, mock := newMockStore(t)
	st := streak.Start("u1", streak.TypeDailyStudy, timeutil.MustParseDate("2026-03-10"))

	mock.ExpectExec(`GREATEST\(user_streaks.longest_streak, EXCLUDED.longest_streak\)`).
		WithArgs("u1", "daily_study", 1, 1, st.LastActivityDate.Time(), st.StartDate.Time()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, s.UpsertStreak(context.Background(), st))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_UpsertGoalProgress_LatchesCompleted(t *testing.T) {
	s, mock := newMockStore(t)
	date := timeutil.MustParseDate("2026-03-10")
	g := &goal.DailyGoal{UserID: "u1", GoalType: goal.TypeLessonsCompleted, TargetValue: 1, CurrentValue: 1, GoalDate: date, Completed: true}

	mock.ExpectExec(`completed = user_daily_goals.completed OR EXCLUDED.completed`).
		WithArgs(pgxmock.AnyArg(), "u1", "lessons_completed", 1, 1, date.Time(), true, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, s.UpsertGoalProgress(context.Background(), g))
	assert.NotEmpty(t, g.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_InsertAchievementIfAbsent(t *testing.T) {
	ctx := context.Background()
	a := &achievement.Achievement{UserID: "u1", Type: achievement.TypeStreak, Name: "7-Day Streak #1", Description: "Maintained a 7-day study streak!"}

	t.Run("inserted", func(t *testing.T) {
		s, mock := newMockStore(t)
		mock.ExpectQuery(`ON CONFLICT \(user_id, achievement_name\) DO NOTHING`).
			WithArgs(pgxmock.AnyArg(), "u1", "streak", "7-Day Streak #1", a.Description, pgxmock.AnyArg()).
			WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow("ach-1"))

		got, inserted, err := s.InsertAchievementIfAbsent(ctx, a)
		require.NoError(t, err)
		assert.True(t, inserted)
		assert.Equal(t, "ach-1", got.ID)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("already present", func(t *testing.T) {
		s, mock := newMockStore(t)
		mock.ExpectQuery("INSERT INTO user_achievements").WillReturnError(pgx.ErrNoRows)

		got, inserted, err := s.InsertAchievementIfAbsent(ctx, a)
		require.NoError(t, err)
		assert.False(t, inserted)
		assert.Nil(t, got)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("store failure", func(t *testing.T) {
		s, mock := newMockStore(t)
		mock.ExpectQuery("INSERT INTO user_achievements").WillReturnError(errors.New("disk full"))

		_, _, err := s.InsertAchievementIfAbsent(ctx, a)
		require.Error(t, err)
		require.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestStore_Flashcards(t *testing.T) {
	s, mock := newMockStore(t)
	r1, r2 := 80.0, 40.0

	mock.ExpectQuery(`user_id = \$1 OR user_id IS NULL`).
		WithArgs("u1").
		WillReturnRows(pgxmock.NewRows([]string{"id", "topic"}).
			AddRow("c1", "Food").
			AddRow("c2", "Travel"))
	mock.ExpectQuery("FROM user_flashcard_progress").
		WithArgs("u1").
		WillReturnRows(pgxmock.NewRows([]string{"flashcard_id", "retention_score", "is_mastered"}).
			AddRow("c1", &r1, true).
			AddRow("c2", &r2, false))

	items, err := s.ListFlashcards(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "Travel", items[1].Topic)

	progress, err := s.GetFlashcardProgress(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, progress, 2)
	require.NotNil(t, progress[0].RetentionScore)
	assert.Equal(t, 80.0, *progress[0].RetentionScore)
	assert.True(t, progress[0].IsMastered)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrator_Status(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	applied := time.Date(2026, 1, 5, 10, 0, 0, 0, time.UTC)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS schema_migrations").
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectQuery("SELECT version, applied_at FROM schema_migrations").
		WillReturnRows(pgxmock.NewRows([]string{"version", "applied_at"}).AddRow(1, applied))

	status, err := NewMigrator(mock).Status(context.Background())
	require.NoError(t, err)
	require.Len(t, status, len(GetMigrations()))

	assert.True(t, status[0].IsApplied)
	assert.Equal(t, applied, status[0].AppliedAt)
	for _, mig := range status[1:] {
		assert.False(t, mig.IsApplied, "version %d", mig.Version)
	}
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_Sessions(t *testing.T) {
	ctx := context.Background()
	start := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	energy := 6

	t.Run("create", func(t *testing.T) {
		s, mock := newMockStore(t)
		mock.ExpectExec("INSERT INTO study_sessions").
			WithArgs(pgxmock.AnyArg(), "u1", "mixed", start, "kitchen", &energy).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))

		got, err := s.CreateSession(ctx, &session.Session{UserID: "u1", Type: session.TypeMixed, StartTime: start, Environment: "kitchen", EnergyLevel: &energy})
		require.NoError(t, err)
		assert.NotEmpty(t, got.ID)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("get scoped to owner", func(t *testing.T) {
		s, mock := newMockStore(t)
		id := "3f0c1a8e-5b7d-4c2a-9e61-0d4b8f2a7c13"
		mock.ExpectQuery("FROM study_sessions WHERE id = \\$1 AND user_id = \\$2").
			WithArgs(id, "u2").
			WillReturnError(pgx.ErrNoRows)

		_, err := s.GetSession(ctx, "u2", id)
		assert.ErrorIs(t, err, shared.ErrSessionNotFound)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("malformed id is not found", func(t *testing.T) {
		s, mock := newMockStore(t)
		_, err := s.GetSession(ctx, "u1", "not-a-uuid")
		assert.ErrorIs(t, err, shared.ErrSessionNotFound)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("second end loses", func(t *testing.T) {
		s, mock := newMockStore(t)
		end := start.Add(20 * time.Minute)
		sess := &session.Session{ID: "sess-1", UserID: "u1", Type: session.TypeGame, StartTime: start, EndTime: &end, TotalDurationSeconds: 1200}
		mock.ExpectExec("UPDATE study_sessions SET").
			WithArgs("sess-1", "u1", &end, 1200, 0, 0, pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
			WillReturnResult(pgxmock.NewResult("UPDATE", 0))

		err := s.EndSession(ctx, sess)
		assert.ErrorIs(t, err, shared.ErrSessionEnded)
		assert.Equal(t, circuitbreaker.StateClosed, s.breaker.State())
		require.NoError(t, mock.ExpectationsWereMet())
	})
}
