package postgres

// GetMigrations returns all embedded migrations.
func GetMigrations() []Migration {
	return []Migration{
		{
			Version: 1,
			Name:    "create_activity_log",
			UpSQL:   migration001Up,
			DownSQL: migration001Down,
		},
		{
			Version: 2,
			Name:    "create_progress_state",
			UpSQL:   migration002Up,
			DownSQL: migration002Down,
		},
		{
			Version: 3,
			Name:    "create_flashcards",
			UpSQL:   migration003Up,
			DownSQL: migration003Down,
		},
		{
			Version: 4,
			Name:    "create_study_sessions",
			UpSQL:   migration004Up,
			DownSQL: migration004Down,
		},
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 001: ACTIVITY LOG
// ══════════════════════════════════════════════════════════════════════════════

const migration001Up = `
CREATE TABLE IF NOT EXISTS user_activities (
    id UUID PRIMARY KEY,
    user_id TEXT NOT NULL,
    activity_type VARCHAR(20) NOT NULL,
    activity_name TEXT NOT NULL DEFAULT '',
    duration_seconds INTEGER NOT NULL DEFAULT 0,
    score INTEGER NOT NULL DEFAULT 0,
    max_score INTEGER NOT NULL DEFAULT 0,
    accuracy_percentage NUMERIC(5,2),
    completed_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    CONSTRAINT valid_activity_type CHECK (activity_type IN ('lesson', 'flashcard', 'game', 'exercise')),
    CONSTRAINT valid_duration CHECK (duration_seconds >= 0),
    CONSTRAINT valid_score CHECK (score >= 0 AND max_score >= 0),
    CONSTRAINT valid_accuracy CHECK (accuracy_percentage IS NULL OR (accuracy_percentage >= 0 AND accuracy_percentage <= 100))
);

CREATE INDEX IF NOT EXISTS idx_user_activities_user_completed ON user_activities(user_id, completed_at DESC);
CREATE INDEX IF NOT EXISTS idx_user_activities_user_type ON user_activities(user_id, activity_type);

CREATE TABLE IF NOT EXISTS user_learning_stats (
    user_id TEXT PRIMARY KEY,
    total_study_time_hours NUMERIC(10,2) NOT NULL DEFAULT 0,
    total_lessons_completed INTEGER NOT NULL DEFAULT 0,
    total_flashcards_reviewed INTEGER NOT NULL DEFAULT 0,
    total_games_played INTEGER NOT NULL DEFAULT 0,
    total_exercises_completed INTEGER NOT NULL DEFAULT 0,
    total_score_earned INTEGER NOT NULL DEFAULT 0,
    average_lesson_accuracy NUMERIC(5,2) NOT NULL DEFAULT 0,
    experience_points INTEGER NOT NULL DEFAULT 0,
    current_level VARCHAR(20) NOT NULL DEFAULT 'Beginner',
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    CONSTRAINT valid_experience CHECK (experience_points >= 0)
);
`

const migration001Down = `
DROP TABLE IF EXISTS user_learning_stats;
DROP TABLE IF EXISTS user_activities;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 002: STREAKS, GOALS, ACHIEVEMENTS
// ══════════════════════════════════════════════════════════════════════════════

const migration002Up = `
CREATE TABLE IF NOT EXISTS user_streaks (
    user_id TEXT NOT NULL,
    streak_type VARCHAR(30) NOT NULL,
    current_streak INTEGER NOT NULL DEFAULT 0,
    longest_streak INTEGER NOT NULL DEFAULT 0,
    last_activity_date DATE NOT NULL,
    start_date DATE NOT NULL,
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    PRIMARY KEY (user_id, streak_type),
    CONSTRAINT valid_streak CHECK (current_streak >= 0 AND longest_streak >= current_streak)
);

CREATE TABLE IF NOT EXISTS user_daily_goals (
    id UUID PRIMARY KEY,
    user_id TEXT NOT NULL,
    goal_type VARCHAR(30) NOT NULL,
    target_value INTEGER NOT NULL,
    current_value INTEGER NOT NULL DEFAULT 0,
    goal_date DATE NOT NULL,
    completed BOOLEAN NOT NULL DEFAULT FALSE,
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    CONSTRAINT unique_daily_goal UNIQUE (user_id, goal_type, goal_date),
    CONSTRAINT valid_goal_type CHECK (goal_type IN ('study_time', 'lessons_completed', 'flashcards_reviewed', 'games_played')),
    CONSTRAINT valid_goal_values CHECK (target_value > 0 AND current_value >= 0)
);

CREATE INDEX IF NOT EXISTS idx_user_daily_goals_user_date ON user_daily_goals(user_id, goal_date);

-- (user_id, achievement_name) uniqueness is the authoritative duplicate guard.
CREATE TABLE IF NOT EXISTS user_achievements (
    id UUID PRIMARY KEY,
    user_id TEXT NOT NULL,
    achievement_type VARCHAR(20) NOT NULL,
    achievement_name TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    earned_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    CONSTRAINT unique_user_achievement UNIQUE (user_id, achievement_name),
    CONSTRAINT valid_achievement_type CHECK (achievement_type IN ('streak', 'accuracy', 'time', 'completion'))
);

CREATE INDEX IF NOT EXISTS idx_user_achievements_user_earned ON user_achievements(user_id, earned_at DESC);
`

const migration002Down = `
DROP TABLE IF EXISTS user_achievements;
DROP TABLE IF EXISTS user_daily_goals;
DROP TABLE IF EXISTS user_streaks;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 003: FLASHCARDS
// ══════════════════════════════════════════════════════════════════════════════

const migration003Up = `
-- user_id NULL marks a card from the shared deck.
CREATE TABLE IF NOT EXISTS flashcards (
    id TEXT PRIMARY KEY,
    user_id TEXT,
    topic TEXT NOT NULL,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_flashcards_user ON flashcards(user_id);

CREATE TABLE IF NOT EXISTS user_flashcard_progress (
    user_id TEXT NOT NULL,
    flashcard_id TEXT NOT NULL REFERENCES flashcards(id) ON DELETE CASCADE,
    retention_score NUMERIC(5,2),
    is_mastered BOOLEAN NOT NULL DEFAULT FALSE,
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    PRIMARY KEY (user_id, flashcard_id)
);
`

const migration003Down = `
DROP TABLE IF EXISTS user_flashcard_progress;
DROP TABLE IF EXISTS flashcards;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 004: STUDY SESSIONS
// ══════════════════════════════════════════════════════════════════════════════

const migration004Up = `
CREATE TABLE IF NOT EXISTS study_sessions (
    id UUID PRIMARY KEY,
    user_id TEXT NOT NULL,
    session_type VARCHAR(20) NOT NULL,
    start_time TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    end_time TIMESTAMP WITH TIME ZONE,
    total_duration_seconds INTEGER NOT NULL DEFAULT 0,
    activities_completed INTEGER NOT NULL DEFAULT 0,
    total_score INTEGER NOT NULL DEFAULT 0,
    average_accuracy NUMERIC(5,2),
    study_environment TEXT NOT NULL DEFAULT '',
    energy_level SMALLINT,
    focus_level SMALLINT,

    CONSTRAINT valid_session_type CHECK (session_type IN ('lesson', 'flashcard', 'game', 'mixed')),
    CONSTRAINT valid_session_counts CHECK (total_duration_seconds >= 0 AND activities_completed >= 0 AND total_score >= 0),
    CONSTRAINT valid_session_ratings CHECK (
        (energy_level IS NULL OR energy_level BETWEEN 1 AND 10) AND
        (focus_level IS NULL OR focus_level BETWEEN 1 AND 10)
    )
);

CREATE INDEX IF NOT EXISTS idx_study_sessions_user_start ON study_sessions(user_id, start_time DESC);
`

const migration004Down = `
DROP TABLE IF EXISTS study_sessions;
`
