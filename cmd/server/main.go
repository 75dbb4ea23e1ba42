// Package main is the entry point of the progress engine API server.
//
// The server owns every component explicitly: it builds the store, the two
// cache tiers, the progress facade and the command handlers, serves them over
// HTTP, and tears them down in reverse order on SIGINT or SIGTERM.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/unilingo/progress-engine/config"
	"github.com/unilingo/progress-engine/internal/application/command"
	"github.com/unilingo/progress-engine/internal/application/query"
	"github.com/unilingo/progress-engine/internal/application/saga"
	"github.com/unilingo/progress-engine/internal/domain/achievement"
	"github.com/unilingo/progress-engine/internal/domain/activity"
	"github.com/unilingo/progress-engine/internal/domain/goal"
	"github.com/unilingo/progress-engine/internal/domain/session"
	"github.com/unilingo/progress-engine/internal/domain/streak"
	"github.com/unilingo/progress-engine/internal/domain/topic"
	"github.com/unilingo/progress-engine/internal/infrastructure/cache"
	"github.com/unilingo/progress-engine/internal/infrastructure/persistence/memstore"
	"github.com/unilingo/progress-engine/internal/infrastructure/persistence/postgres"
	"github.com/unilingo/progress-engine/internal/infrastructure/persistence/redis"
	httpapi "github.com/unilingo/progress-engine/internal/interface/http"
	"github.com/unilingo/progress-engine/internal/interface/http/handlers"
	"github.com/unilingo/progress-engine/pkg/circuitbreaker"
	"github.com/unilingo/progress-engine/pkg/logger"
	"github.com/unilingo/progress-engine/pkg/timeutil"
)

// activityStore is every repository the engine reads and writes.
// Both the Postgres store and the in-memory store implement it.
type activityStore interface {
	activity.Repository
	activity.StatsRepository
	streak.Repository
	goal.Repository
	achievement.Repository
	topic.Repository
	session.Repository
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	// ─────────────────────────────────────────────────────────────────────────
	// 1. CONFIGURATION
	// ─────────────────────────────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 2. LOGGING
	// ─────────────────────────────────────────────────────────────────────────
	log, err := logger.New(logger.Options{
		Level:       logger.ParseLevel(cfg.Log.Level),
		Development: cfg.Log.Format == "console",
		AddCaller:   true,
	})
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	log.Info("starting progress engine",
		logger.String("env", string(cfg.App.Environment)),
		logger.String("version", cfg.App.Version),
	)

	health := handlers.NewCompositeHealthChecker(cfg.App.Version)

	// ─────────────────────────────────────────────────────────────────────────
	// 3. ACTIVITY STORE (PostgreSQL, or in-memory without DATABASE_URL)
	// ─────────────────────────────────────────────────────────────────────────
	var store activityStore
	if cfg.Database.URL != "" {
		log.Info("connecting to database...")
		dbConn, err := postgres.NewConnection(ctx, postgresConfig(cfg.Database))
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		defer func() {
			log.Info("closing database connection...")
			dbConn.Close()
		}()

		migrator := postgres.NewMigrator(dbConn)
		if cfg.Database.MigrateOnStart {
			log.Info("checking database migrations...")
			if err := migrator.Migrate(ctx); err != nil {
				return fmt.Errorf("failed to run migrations: %w", err)
			}
		}
		if err := logMigrationStatus(ctx, migrator, log); err != nil {
			return fmt.Errorf("failed to read migration status: %w", err)
		}
		log.Info("database connection established")

		breaker := postgres.NewBreaker(func(name string, from, to circuitbreaker.State) {
			log.Warn("store circuit breaker changed state",
				logger.String("breaker", name),
				logger.String("from", from.String()),
				logger.String("to", to.String()),
			)
		})
		store = postgres.NewStore(dbConn, cfg.Database.QueryTimeout, postgres.WithBreaker(breaker))
		health.AddCheck("database", handlers.NewStoreCheck(dbConn))
	} else {
		log.Warn("DATABASE_URL is empty, using the in-memory activity store")
		store = memstore.New()
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 4. CACHE TIERS (in-process, plus Redis when enabled)
	// ─────────────────────────────────────────────────────────────────────────
	policy := cachePolicy(cfg.Cache)
	memory := cache.NewMemoryTier(policy.MemoryTTL, cache.WithMemoryLogger(log))
	if err := memory.StartJanitor(cfg.Cache.SweepInterval); err != nil {
		return fmt.Errorf("failed to start cache janitor: %w", err)
	}
	defer memory.Close()

	cacheOpts := []cache.Option{cache.WithLogger(log)}
	if cfg.Redis.Enabled {
		log.Info("connecting to Redis...")
		tier, err := redis.NewTier(redisConfig(cfg.Redis))
		if err != nil {
			log.Warn("failed to connect to Redis, persistent cache disabled", logger.Err(err))
		} else {
			defer func() { _ = tier.Close() }()
			cacheOpts = append(cacheOpts, cache.WithPersistent(tier))
			health.AddCheck("cache", handlers.NewCacheCheck(tier))
			log.Info("Redis connection established")
		}
	}
	progressCache := cache.New(memory, policy, cacheOpts...)

	// ─────────────────────────────────────────────────────────────────────────
	// 5. PROGRESS FACADE
	// ─────────────────────────────────────────────────────────────────────────
	clock := timeutil.Clock(timeutil.SystemClock)
	builder := query.NewSnapshotBuilder(query.Stores{
		Activities:   store,
		Stats:        store,
		Streaks:      store,
		Goals:        store,
		Achievements: store,
		Flashcards:   store,
	}, progressCache, log.Named("snapshot"), clock)
	progress := query.NewProgressService(progressCache, builder, store, log.Named("progress"), clock,
		query.WithFallbackLimit(cfg.Cache.FallbackLimit))
	defer func() {
		log.Info("stopping background refreshes...")
		progress.Close()
	}()

	// ─────────────────────────────────────────────────────────────────────────
	// 6. COMMAND HANDLERS
	// ─────────────────────────────────────────────────────────────────────────
	goals := command.NewUpdateGoalProgressHandler(store, log.Named("goals"), clock)
	achievements := saga.NewAchievementFlow(store, store, store, progress, saga.DefaultAchievementFlowConfig(), log.Named("achievements"), clock)
	recordActivity := command.NewRecordActivityHandler(command.RecordActivityDeps{
		Activities:   store,
		Stats:        store,
		Streaks:      store,
		StreakCmd:    command.NewUpdateStreakHandler(store, log.Named("streak"), clock),
		GoalCmd:      goals,
		Achievements: achievements,
		Invalidator:  progress,
	}, log.Named("activity"), clock)

	// ─────────────────────────────────────────────────────────────────────────
	// 7. HTTP SERVER
	// ─────────────────────────────────────────────────────────────────────────
	server := httpapi.NewServer(httpConfig(cfg), httpapi.Dependencies{
		Progress:       progress,
		GetStreak:      query.NewGetStreakHandler(store, clock),
		RecordActivity: recordActivity,
		SetDailyGoal:   command.NewSetDailyGoalHandler(goals, progress, log.Named("goals")),
		Sessions:       command.NewStudySessionHandler(store, log.Named("sessions"), clock),
		HealthChecker:  health,
		Logger:         log,
	})
	errCh := server.StartAsync()

	log.Info("progress engine is running", logger.String("address", cfg.HTTP.Address()))

	// ─────────────────────────────────────────────────────────────────────────
	// 8. GRACEFUL SHUTDOWN
	// ─────────────────────────────────────────────────────────────────────────
	select {
	case <-ctx.Done():
		log.Info("received shutdown signal")
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	log.Info("starting graceful shutdown...",
		logger.Duration("timeout", cfg.App.ShutdownTimeout),
		logger.Duration("uptime", server.Uptime()),
	)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown failed", logger.Err(err))
	}
	// Deferred closers run next: facade, Redis, janitor, database.
	log.Info("shutdown completed")
	return nil
}

// logMigrationStatus warns about migrations that are known but not applied,
// which happens when database.migrate_on_start is off.
func logMigrationStatus(ctx context.Context, m *postgres.Migrator, log *logger.Logger) error {
	status, err := m.Status(ctx)
	if err != nil {
		return err
	}
	pending := 0
	for _, mig := range status {
		if !mig.IsApplied {
			pending++
			log.Warn("migration not applied", logger.Int("version", mig.Version), logger.String("name", mig.Name))
		}
	}
	log.Info("database schema checked", logger.Int("migrations", len(status)), logger.Int("pending", pending))
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// CONFIG MAPPING
// ══════════════════════════════════════════════════════════════════════════════

func postgresConfig(c config.DatabaseConfig) postgres.Config {
	pg := postgres.DefaultConfig()
	pg.URL = c.URL
	pg.MaxConns = c.MaxConns
	pg.MinConns = c.MinConns
	pg.MaxConnLifetime = c.MaxConnLifetime
	pg.MaxConnIdleTime = c.MaxConnIdleTime
	pg.QueryTimeout = c.QueryTimeout
	return pg
}

func redisConfig(c config.RedisConfig) redis.Config {
	rc := redis.DefaultConfig()
	rc.Addr = c.Addr
	rc.Password = c.Password
	rc.DB = c.DB
	rc.PoolSize = c.PoolSize
	rc.MinIdleConns = c.MinIdleConns
	rc.DialTimeout = c.DialTimeout
	rc.ReadTimeout = c.ReadTimeout
	rc.WriteTimeout = c.WriteTimeout
	rc.KeyPrefix = c.KeyPrefix
	return rc
}

func cachePolicy(c config.CacheConfig) cache.Policy {
	return cache.Policy{
		TTLs: map[cache.Kind]time.Duration{
			cache.KindRecentActivities: c.TTL.RecentActivities,
			cache.KindStreak:           c.TTL.Streak,
			cache.KindTodayGoals:       c.TTL.TodayGoals,
			cache.KindInsights:         c.TTL.Insights,
			cache.KindStudyDates:       c.TTL.StudyDates,
			cache.KindWeeklyProgress:   c.TTL.WeeklyProgress,
			cache.KindMonthlyProgress:  c.TTL.MonthlyProgress,
		},
		Default:   c.DefaultTTL,
		Freshness: c.FreshnessWindow,
		MemoryTTL: c.MemoryTTL,
	}
}

func httpConfig(cfg *config.Config) httpapi.Config {
	hc := httpapi.DefaultConfig()
	hc.Host = cfg.HTTP.Host
	hc.Port = cfg.HTTP.Port
	hc.ReadTimeout = cfg.HTTP.ReadTimeout
	hc.WriteTimeout = cfg.HTTP.WriteTimeout
	hc.IdleTimeout = cfg.HTTP.IdleTimeout
	hc.AllowedOrigins = cfg.HTTP.AllowedOrigins
	hc.RateLimitPerMinute = cfg.HTTP.RateLimitPerMinute
	hc.Debug = cfg.IsDevelopment() && cfg.Log.Level == "debug"
	return hc
}
