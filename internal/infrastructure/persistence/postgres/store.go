package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/unilingo/progress-engine/internal/domain/achievement"
	"github.com/unilingo/progress-engine/internal/domain/activity"
	"github.com/unilingo/progress-engine/internal/domain/goal"
	"github.com/unilingo/progress-engine/internal/domain/session"
	"github.com/unilingo/progress-engine/internal/domain/shared"
	"github.com/unilingo/progress-engine/internal/domain/streak"
	"github.com/unilingo/progress-engine/internal/domain/topic"
	"github.com/unilingo/progress-engine/pkg/circuitbreaker"
	"github.com/unilingo/progress-engine/pkg/retry"
	"github.com/unilingo/progress-engine/pkg/timeutil"
)

// Store is the activity store backed by PostgreSQL.
// Reads are retried on transient errors; writes are not, since none of them
// is guaranteed idempotent across a dropped connection. Every call goes
// through one circuit breaker, so an outage fails fast instead of paying the
// retry backoff on each call.
type Store struct {
	db           Querier
	retry        retry.Policy
	breaker      *circuitbreaker.Breaker
	queryTimeout time.Duration
	now          timeutil.Clock
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithBreaker replaces the default breaker.
func WithBreaker(b *circuitbreaker.Breaker) StoreOption {
	return func(s *Store) {
		if b != nil {
			s.breaker = b
		}
	}
}

// NewBreaker returns a breaker that only counts store outages, not missing
// rows or constraint violations.
func NewBreaker(onStateChange func(name string, from, to circuitbreaker.State)) *circuitbreaker.Breaker {
	cfg := circuitbreaker.DefaultConfig("postgres")
	cfg.IsFailure = func(err error) bool {
		return IsTransient(err) || errors.Is(err, context.DeadlineExceeded)
	}
	cfg.OnStateChange = onStateChange
	return circuitbreaker.New(cfg)
}

var (
	_ activity.Repository      = (*Store)(nil)
	_ activity.StatsRepository = (*Store)(nil)
	_ streak.Repository        = (*Store)(nil)
	_ goal.Repository          = (*Store)(nil)
	_ achievement.Repository   = (*Store)(nil)
	_ topic.Repository         = (*Store)(nil)
	_ session.Repository       = (*Store)(nil)
)

// NewStore creates a Store over db.
func NewStore(db Querier, queryTimeout time.Duration, opts ...StoreOption) *Store {
	p := retry.DefaultPolicy()
	p.RetryIf = IsTransient
	s := &Store{db: db, retry: p, breaker: NewBreaker(nil), queryTimeout: queryTimeout, now: timeutil.SystemClock}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.queryTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.queryTimeout)
}

// read runs a query under the timeout and retry policy and classifies the
// final error.
func (s *Store) read(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return classify(op, s.breaker.Execute(ctx, func(ctx context.Context) error {
		return s.retry.Do(ctx, fn)
	}))
}

func (s *Store) write(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return classify(op, s.breaker.Execute(ctx, fn))
}

func classify(op string, err error) error {
	if err == nil || shared.IsNotFound(err) {
		return err
	}
	if errors.Is(err, circuitbreaker.ErrOpen) || errors.Is(err, circuitbreaker.ErrTrialInFlight) {
		return shared.WrapError("store", op, shared.ErrServiceUnavailable, "activity store is unavailable", err)
	}
	if IsTransient(err) || errors.Is(err, context.DeadlineExceeded) {
		return shared.WrapError("store", op, shared.ErrServiceUnavailable, "activity store is unavailable", err)
	}
	return fmt.Errorf("failed to %s: %w", op, err)
}

// ══════════════════════════════════════════════════════════════════════════════
// ACTIVITIES
// ══════════════════════════════════════════════════════════════════════════════

const activityColumns = `id, user_id, activity_type, activity_name, duration_seconds, score, max_score, accuracy_percentage, completed_at`

// AppendActivity inserts r with a fresh UUID.
func (s *Store) AppendActivity(ctx context.Context, r *activity.Record) (*activity.Record, error) {
	out := *r
	out.ID = uuid.NewString()
	if out.CompletedAt.IsZero() {
		out.CompletedAt = s.now().UTC()
	}

	query := `INSERT INTO user_activities (` + activityColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	err := s.write(ctx, "append activity", func(ctx context.Context) error {
		_, err := s.db.Exec(ctx, query,
			out.ID, out.UserID, string(out.Type), out.Name, out.DurationSeconds,
			out.Score, out.MaxScore, out.Accuracy, out.CompletedAt,
		)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// QueryActivities returns the user's records matching f, newest first.
func (s *Store) QueryActivities(ctx context.Context, userID string, f activity.Filter) ([]*activity.Record, error) {
	var b strings.Builder
	b.WriteString(`SELECT ` + activityColumns + ` FROM user_activities WHERE user_id = $1`)
	args := []any{userID}

	if f.Type != "" {
		args = append(args, string(f.Type))
		fmt.Fprintf(&b, " AND activity_type = $%d", len(args))
	}
	if !f.Since.IsZero() {
		args = append(args, f.Since)
		fmt.Fprintf(&b, " AND completed_at >= $%d", len(args))
	}
	if !f.Until.IsZero() {
		args = append(args, f.Until)
		fmt.Fprintf(&b, " AND completed_at < $%d", len(args))
	}
	b.WriteString(" ORDER BY completed_at DESC")
	if f.Limit > 0 {
		args = append(args, f.Limit)
		fmt.Fprintf(&b, " LIMIT $%d", len(args))
	}

	var records []*activity.Record
	err := s.read(ctx, "query activities", func(ctx context.Context) error {
		rows, err := s.db.Query(ctx, b.String(), args...)
		if err != nil {
			return err
		}
		defer rows.Close()

		records = records[:0]
		for rows.Next() {
			var (
				r   activity.Record
				typ string
			)
			if err := rows.Scan(&r.ID, &r.UserID, &typ, &r.Name, &r.DurationSeconds,
				&r.Score, &r.MaxScore, &r.Accuracy, &r.CompletedAt); err != nil {
				return err
			}
			r.Type = activity.Type(typ)
			r.CompletedAt = r.CompletedAt.UTC()
			records = append(records, &r)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	if records == nil {
		records = []*activity.Record{}
	}
	return records, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// LEARNING STATS
// ══════════════════════════════════════════════════════════════════════════════

// GetLearningStats returns shared.ErrStatsNotFound for a first-time user.
func (s *Store) GetLearningStats(ctx context.Context, userID string) (*activity.LearningStats, error) {
	query := `
		SELECT user_id, total_study_time_hours, total_lessons_completed, total_flashcards_reviewed,
		       total_games_played, total_exercises_completed, total_score_earned,
		       average_lesson_accuracy, experience_points, current_level, updated_at
		FROM user_learning_stats
		WHERE user_id = $1
	`

	var st activity.LearningStats
	err := s.read(ctx, "get learning stats", func(ctx context.Context) error {
		err := s.db.QueryRow(ctx, query, userID).Scan(
			&st.UserID, &st.TotalStudyTimeHours, &st.TotalLessonsCompleted, &st.TotalFlashcardsReviewed,
			&st.TotalGamesPlayed, &st.TotalExercisesCompleted, &st.TotalScoreEarned,
			&st.AverageLessonAccuracy, &st.ExperiencePoints, &st.CurrentLevel, &st.UpdatedAt,
		)
		if IsNoRows(err) {
			return retry.Permanent(shared.ErrStatsNotFound)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return &st, nil
}

// SaveLearningStats upserts the user's stats.
func (s *Store) SaveLearningStats(ctx context.Context, st *activity.LearningStats) error {
	query := `
		INSERT INTO user_learning_stats (
			user_id, total_study_time_hours, total_lessons_completed, total_flashcards_reviewed,
			total_games_played, total_exercises_completed, total_score_earned,
			average_lesson_accuracy, experience_points, current_level, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (user_id) DO UPDATE SET
			total_study_time_hours = EXCLUDED.total_study_time_hours,
			total_lessons_completed = EXCLUDED.total_lessons_completed,
			total_flashcards_reviewed = EXCLUDED.total_flashcards_reviewed,
			total_games_played = EXCLUDED.total_games_played,
			total_exercises_completed = EXCLUDED.total_exercises_completed,
			total_score_earned = EXCLUDED.total_score_earned,
			average_lesson_accuracy = EXCLUDED.average_lesson_accuracy,
			experience_points = EXCLUDED.experience_points,
			current_level = EXCLUDED.current_level,
			updated_at = EXCLUDED.updated_at
	`

	return s.write(ctx, "save learning stats", func(ctx context.Context) error {
		_, err := s.db.Exec(ctx, query,
			st.UserID, st.TotalStudyTimeHours, st.TotalLessonsCompleted, st.TotalFlashcardsReviewed,
			st.TotalGamesPlayed, st.TotalExercisesCompleted, st.TotalScoreEarned,
			st.AverageLessonAccuracy, st.ExperiencePoints, st.CurrentLevel, st.UpdatedAt,
		)
		return err
	})
}

// ══════════════════════════════════════════════════════════════════════════════
// STREAKS
// ══════════════════════════════════════════════════════════════════════════════

// GetStreak returns shared.ErrStreakNotFound when no record exists.
func (s *Store) GetStreak(ctx context.Context, userID string, typ streak.Type) (*streak.State, error) {
	query := `
		SELECT current_streak, longest_streak, last_activity_date, start_date
		FROM user_streaks
		WHERE user_id = $1 AND streak_type = $2
	`

	st := streak.State{UserID: userID, StreakType: typ}
	err := s.read(ctx, "get streak", func(ctx context.Context) error {
		var last, start time.Time
		err := s.db.QueryRow(ctx, query, userID, string(typ)).Scan(&st.CurrentStreak, &st.LongestStreak, &last, &start)
		if IsNoRows(err) {
			return retry.Permanent(shared.ErrStreakNotFound)
		}
		if err != nil {
			return err
		}
		st.LastActivityDate = timeutil.DateOf(last)
		st.StartDate = timeutil.DateOf(start)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &st, nil
}

// UpsertStreak writes st. longest_streak is kept at its maximum so a
// concurrent writer holding an older state cannot lower it.
func (s *Store) UpsertStreak(ctx context.Context, st *streak.State) error {
	query := `
		INSERT INTO user_streaks (user_id, streak_type, current_streak, longest_streak, last_activity_date, start_date, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		ON CONFLICT (user_id, streak_type) DO UPDATE SET
			current_streak = EXCLUDED.current_streak,
			longest_streak = GREATEST(user_streaks.longest_streak, EXCLUDED.longest_streak),
			last_activity_date = EXCLUDED.last_activity_date,
			start_date = EXCLUDED.start_date,
			updated_at = NOW()
	`

	return s.write(ctx, "upsert streak", func(ctx context.Context) error {
		_, err := s.db.Exec(ctx, query,
			st.UserID, string(st.StreakType), st.CurrentStreak, st.LongestStreak,
			st.LastActivityDate.Time(), st.StartDate.Time(),
		)
		return err
	})
}

// ══════════════════════════════════════════════════════════════════════════════
// DAILY GOALS
// ══════════════════════════════════════════════════════════════════════════════

// GetDailyGoals returns the user's goals for date ordered by goal type.
func (s *Store) GetDailyGoals(ctx context.Context, userID string, date timeutil.Date) ([]*goal.DailyGoal, error) {
	query := `
		SELECT id, goal_type, target_value, current_value, completed, updated_at
		FROM user_daily_goals
		WHERE user_id = $1 AND goal_date = $2
		ORDER BY goal_type
	`

	var goals []*goal.DailyGoal
	err := s.read(ctx, "get daily goals", func(ctx context.Context) error {
		rows, err := s.db.Query(ctx, query, userID, date.Time())
		if err != nil {
			return err
		}
		defer rows.Close()

		goals = goals[:0]
		for rows.Next() {
			g := goal.DailyGoal{UserID: userID, GoalDate: date}
			var typ string
			if err := rows.Scan(&g.ID, &typ, &g.TargetValue, &g.CurrentValue, &g.Completed, &g.UpdatedAt); err != nil {
				return err
			}
			g.GoalType = goal.Type(typ)
			goals = append(goals, &g)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	if goals == nil {
		goals = []*goal.DailyGoal{}
	}
	return goals, nil
}

// UpsertGoalProgress writes g. A stored completed flag is never cleared.
func (s *Store) UpsertGoalProgress(ctx context.Context, g *goal.DailyGoal) error {
	if g.ID == "" {
		g.ID = uuid.NewString()
	}
	if g.UpdatedAt.IsZero() {
		g.UpdatedAt = s.now().UTC()
	}

	query := `
		INSERT INTO user_daily_goals (id, user_id, goal_type, target_value, current_value, goal_date, completed, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (user_id, goal_type, goal_date) DO UPDATE SET
			target_value = EXCLUDED.target_value,
			current_value = EXCLUDED.current_value,
			completed = user_daily_goals.completed OR EXCLUDED.completed,
			updated_at = EXCLUDED.updated_at
	`

	return s.write(ctx, "upsert goal progress", func(ctx context.Context) error {
		_, err := s.db.Exec(ctx, query,
			g.ID, g.UserID, string(g.GoalType), g.TargetValue, g.CurrentValue,
			g.GoalDate.Time(), g.Completed, g.UpdatedAt,
		)
		return err
	})
}

// ══════════════════════════════════════════════════════════════════════════════
// STUDY SESSIONS
// ══════════════════════════════════════════════════════════════════════════════

const sessionColumns = `id, user_id, session_type, start_time, end_time, total_duration_seconds,
	activities_completed, total_score, average_accuracy, study_environment, energy_level, focus_level`

// CreateSession inserts an open session with a fresh UUID.
func (s *Store) CreateSession(ctx context.Context, sess *session.Session) (*session.Session, error) {
	out := *sess
	out.ID = uuid.NewString()
	if out.StartTime.IsZero() {
		out.StartTime = s.now().UTC()
	}

	query := `INSERT INTO study_sessions (id, user_id, session_type, start_time, study_environment, energy_level)
		VALUES ($1, $2, $3, $4, $5, $6)`

	err := s.write(ctx, "create study session", func(ctx context.Context) error {
		_, err := s.db.Exec(ctx, query,
			out.ID, out.UserID, string(out.Type), out.StartTime, out.Environment, out.EnergyLevel,
		)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// GetSession returns shared.ErrSessionNotFound when id does not belong to userID.
func (s *Store) GetSession(ctx context.Context, userID, id string) (*session.Session, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, shared.ErrSessionNotFound
	}
	query := `SELECT ` + sessionColumns + ` FROM study_sessions WHERE id = $1 AND user_id = $2`

	var out session.Session
	err := s.read(ctx, "get study session", func(ctx context.Context) error {
		var typ string
		err := s.db.QueryRow(ctx, query, id, userID).Scan(
			&out.ID, &out.UserID, &typ, &out.StartTime, &out.EndTime, &out.TotalDurationSeconds,
			&out.ActivitiesCompleted, &out.TotalScore, &out.AverageAccuracy, &out.Environment,
			&out.EnergyLevel, &out.FocusLevel,
		)
		if IsNoRows(err) {
			return retry.Permanent(shared.ErrSessionNotFound)
		}
		if err != nil {
			return err
		}
		out.Type = session.Type(typ)
		out.StartTime = out.StartTime.UTC()
		if out.EndTime != nil {
			end := out.EndTime.UTC()
			out.EndTime = &end
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// EndSession writes the end-of-session fields. Only the first close of a
// session matches the end_time IS NULL guard.
func (s *Store) EndSession(ctx context.Context, sess *session.Session) error {
	query := `
		UPDATE study_sessions SET
			end_time = $3,
			total_duration_seconds = $4,
			activities_completed = $5,
			total_score = $6,
			average_accuracy = $7,
			energy_level = $8,
			focus_level = $9
		WHERE id = $1 AND user_id = $2 AND end_time IS NULL
	`

	return s.write(ctx, "end study session", func(ctx context.Context) error {
		tag, err := s.db.Exec(ctx, query,
			sess.ID, sess.UserID, sess.EndTime, sess.TotalDurationSeconds, sess.ActivitiesCompleted,
			sess.TotalScore, sess.AverageAccuracy, sess.EnergyLevel, sess.FocusLevel,
		)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return shared.ErrSessionEnded
		}
		return nil
	})
}

// ══════════════════════════════════════════════════════════════════════════════
// ACHIEVEMENTS
// ══════════════════════════════════════════════════════════════════════════════

// GetAchievements returns the user's achievements, most recent first.
func (s *Store) GetAchievements(ctx context.Context, userID string) ([]*achievement.Achievement, error) {
	query := `
		SELECT id, achievement_type, achievement_name, description, earned_at
		FROM user_achievements
		WHERE user_id = $1
		ORDER BY earned_at DESC, achievement_name
	`

	var list []*achievement.Achievement
	err := s.read(ctx, "get achievements", func(ctx context.Context) error {
		rows, err := s.db.Query(ctx, query, userID)
		if err != nil {
			return err
		}
		defer rows.Close()

		list = list[:0]
		for rows.Next() {
			a := achievement.Achievement{UserID: userID}
			var typ string
			if err := rows.Scan(&a.ID, &typ, &a.Name, &a.Description, &a.EarnedAt); err != nil {
				return err
			}
			a.Type = achievement.Type(typ)
			list = append(list, &a)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	if list == nil {
		list = []*achievement.Achievement{}
	}
	return list, nil
}

// InsertAchievementIfAbsent relies on the (user_id, achievement_name) unique
// constraint, so concurrent evaluators insert at most one row.
func (s *Store) InsertAchievementIfAbsent(ctx context.Context, a *achievement.Achievement) (*achievement.Achievement, bool, error) {
	out := *a
	out.ID = uuid.NewString()
	if out.EarnedAt.IsZero() {
		out.EarnedAt = s.now().UTC()
	}

	query := `
		INSERT INTO user_achievements (id, user_id, achievement_type, achievement_name, description, earned_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (user_id, achievement_name) DO NOTHING
		RETURNING id
	`

	inserted := true
	err := s.write(ctx, "insert achievement", func(ctx context.Context) error {
		err := s.db.QueryRow(ctx, query,
			out.ID, out.UserID, string(out.Type), out.Name, out.Description, out.EarnedAt,
		).Scan(&out.ID)
		if IsNoRows(err) || IsUniqueViolation(err) {
			inserted = false
			return nil
		}
		return err
	})
	if err != nil {
		return nil, false, err
	}
	if !inserted {
		return nil, false, nil
	}
	return &out, true, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// FLASHCARDS
// ══════════════════════════════════════════════════════════════════════════════

// ListFlashcards returns the user's own cards followed by the shared deck.
func (s *Store) ListFlashcards(ctx context.Context, userID string) ([]topic.Item, error) {
	query := `
		SELECT id, topic
		FROM flashcards
		WHERE user_id = $1 OR user_id IS NULL
		ORDER BY (user_id IS NULL), created_at, id
	`

	var items []topic.Item
	err := s.read(ctx, "list flashcards", func(ctx context.Context) error {
		rows, err := s.db.Query(ctx, query, userID)
		if err != nil {
			return err
		}
		items, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (topic.Item, error) {
			var it topic.Item
			err := row.Scan(&it.ID, &it.Topic)
			return it, err
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return items, nil
}

// GetFlashcardProgress returns the user's per-card progress.
func (s *Store) GetFlashcardProgress(ctx context.Context, userID string) ([]topic.ItemProgress, error) {
	query := `
		SELECT flashcard_id, retention_score, is_mastered
		FROM user_flashcard_progress
		WHERE user_id = $1
		ORDER BY flashcard_id
	`

	var progress []topic.ItemProgress
	err := s.read(ctx, "get flashcard progress", func(ctx context.Context) error {
		rows, err := s.db.Query(ctx, query, userID)
		if err != nil {
			return err
		}
		progress, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (topic.ItemProgress, error) {
			var p topic.ItemProgress
			err := row.Scan(&p.ItemID, &p.RetentionScore, &p.IsMastered)
			return p, err
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return progress, nil
}
