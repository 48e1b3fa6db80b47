// Package main is the entry point of the FollowMe progression API.
//
// The server accepts training sessions over HTTP, advances each user's
// journey along the route and serves progress, reports, leaderboards and
// challenges. Storage is selected by configuration (memory, SQLite or
// PostgreSQL); Redis is optional and adds the progress cache, the global
// distance board, a cross-instance user lock and event fan-out. A small
// scheduler rebuilds the board and rolls recurring challenges forward.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/followme/followme-hub/config"
	"github.com/followme/followme-hub/internal/application/command"
	"github.com/followme/followme-hub/internal/application/eventhandler"
	"github.com/followme/followme-hub/internal/application/query"
	"github.com/followme/followme-hub/internal/domain/challenge"
	"github.com/followme/followme-hub/internal/domain/progression"
	"github.com/followme/followme-hub/internal/domain/shared"
	"github.com/followme/followme-hub/internal/domain/training"
	"github.com/followme/followme-hub/internal/infrastructure/catalog"
	"github.com/followme/followme-hub/internal/infrastructure/messaging"
	"github.com/followme/followme-hub/internal/infrastructure/persistence/memory"
	"github.com/followme/followme-hub/internal/infrastructure/persistence/postgres"
	"github.com/followme/followme-hub/internal/infrastructure/persistence/redis"
	"github.com/followme/followme-hub/internal/infrastructure/persistence/sqlite"
	"github.com/followme/followme-hub/internal/infrastructure/scheduler"
	"github.com/followme/followme-hub/internal/infrastructure/scheduler/jobs"
	httpapi "github.com/followme/followme-hub/internal/interface/http"
	"github.com/followme/followme-hub/pkg/logger"
	"github.com/followme/followme-hub/pkg/retry"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *configPath); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath string) error {
	// ─────────────────────────────────────────────────────────────────────────
	// 1. CONFIGURATION AND LOGGING
	// ─────────────────────────────────────────────────────────────────────────
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log := logger.New(logger.Config{
		Level:     cfg.Observability.LogLevel,
		Format:    cfg.Observability.LogFormat,
		AddSource: cfg.IsDevelopment(),
	})
	slog.SetDefault(log)
	log.Info("starting followme-hub",
		"env", cfg.App.Environment,
		"version", cfg.App.Version,
		"storage", cfg.Storage.Driver,
		"redis", cfg.Redis.Enabled,
	)

	engineCfg, err := cfg.EngineConfig()
	if err != nil {
		return fmt.Errorf("invalid progression config: %w", err)
	}

	health := httpapi.NewHealthChecker(cfg.App.Version)

	// ─────────────────────────────────────────────────────────────────────────
	// 2. STORAGE
	// ─────────────────────────────────────────────────────────────────────────
	store, err := openStorage(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer store.close()
	health.AddCheck("storage", store.ping)

	// ─────────────────────────────────────────────────────────────────────────
	// 3. CATALOG
	// ─────────────────────────────────────────────────────────────────────────
	cat, err := catalog.Load(cfg.Catalog.Path)
	if err != nil {
		return fmt.Errorf("failed to load catalog: %w", err)
	}
	seeder := catalog.NewSeeder(store.catalog, store.challenges, log)
	if err := seeder.Seed(ctx, cat); err != nil {
		return fmt.Errorf("failed to seed catalog: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 4. REDIS AND EVENT BUS
	// ─────────────────────────────────────────────────────────────────────────
	var (
		bus      eventBus
		locker   command.Locker = command.NewKeyedLocker()
		cache    query.ProgressCache
		evict    command.ProgressInvalidator
		board    query.DistanceBoard
		recorder eventhandler.BoardRecorder
		rebuild  jobs.BoardWriter
	)

	if cfg.Redis.Enabled {
		rc, err := connectRedis(ctx, cfg, log)
		if err != nil {
			return err
		}
		defer rc.Close()
		health.AddCheck("redis", rc.Ping)

		progressCache := redis.NewProgressCache(rc, cfg.Redis.ProgressTTL)
		// Views cached before the reseed may name destinations that changed.
		if err := progressCache.InvalidateAll(ctx); err != nil {
			log.Warn("failed to clear cached progress views", "error", err)
		}
		distanceBoard := redis.NewDistanceBoard(rc)
		cache, evict, board, recorder, rebuild = progressCache, progressCache, distanceBoard, distanceBoard, distanceBoard
		locker = command.ChainLocker{
			locker,
			redis.NewUserLock(rc, cfg.Redis.LockTTL, cfg.Redis.LockWait, log),
		}

		bus, err = messaging.NewRedisEventBus(messaging.RedisEventBusConfig{
			Client:         messaging.NewGoRedisClient(rc.Client()),
			ChannelName:    cfg.Redis.EventChannel,
			InstanceID:     uuid.NewString(),
			LocalBusConfig: busConfig(log),
			Logger:         log,
		})
		if err != nil {
			return fmt.Errorf("failed to start event bus: %w", err)
		}
	} else {
		bus = messaging.NewInMemoryEventBus(busConfig(log))
	}
	defer bus.Close()

	if cache != nil || recorder != nil {
		if err := eventhandler.NewOnProgressUpdatedHandler(cache, recorder, log).Subscribe(bus); err != nil {
			return fmt.Errorf("failed to subscribe progress handler: %w", err)
		}
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 5. APPLICATION
	// ─────────────────────────────────────────────────────────────────────────
	coordCfg := command.DefaultCoordinatorConfig()
	coordCfg.Engine = engineCfg
	coordCfg.Logger = log
	coordCfg.ConflictRetries = cfg.Progression.ConflictRetries
	coordCfg.Invalidator = evict
	coordinator := command.NewProgressionCoordinator(store.uow, locker, bus, coordCfg)

	aggregator, err := progression.NewDistanceAggregator(engineCfg.Weights)
	if err != nil {
		return fmt.Errorf("invalid weights: %w", err)
	}
	sessions := training.NewSessionLog(store.uow, uuid.NewString)

	server := httpapi.NewServer(httpapi.Config{
		Addr:         cfg.HTTP.Addr,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
		BodyLimit:    cfg.HTTP.BodyLimit,
		Version:      cfg.App.Version,
	}, httpapi.Dependencies{
		Coordinator:  coordinator,
		Memberships:  command.NewChallengeMembershipHandler(store.challenges, bus, log),
		Progress:     query.NewGetProgressHandler(store.uow, cache, engineCfg, log),
		Destinations: query.NewGetUnlockedDestinationsHandler(store.uow, engineCfg),
		Entries:      query.NewEntriesInRangeHandler(sessions),
		Report:       query.NewGetReportHandler(sessions, aggregator),
		Leaderboard:  query.NewGetLeaderboardHandler(store.uow, board, log),
		Challenges:   query.NewGetChallengesHandler(store.challenges, store.uow),
		Health:       health,
		Logger:       log,
	})

	// ─────────────────────────────────────────────────────────────────────────
	// 6. MAINTENANCE JOBS
	// ─────────────────────────────────────────────────────────────────────────
	if cfg.Scheduler.Enabled {
		sched := scheduler.New(scheduler.Config{
			Logger:     log,
			Tick:       cfg.Scheduler.Tick,
			RunOnStart: true,
		})
		if rebuild != nil && cfg.Scheduler.BoardRebuild > 0 {
			job := jobs.NewRebuildBoardJob(store.standings, rebuild, cfg.Scheduler.BoardTimeout, log)
			if err := sched.Register(job, scheduler.Every(cfg.Scheduler.BoardRebuild)); err != nil {
				return err
			}
		}
		if cfg.Scheduler.ChallengeRollover > 0 {
			job := jobs.NewRolloverChallengesJob(seeder, cat, log)
			if err := sched.Register(job, scheduler.Every(cfg.Scheduler.ChallengeRollover)); err != nil {
				return err
			}
		}
		if err := sched.Start(ctx); err != nil {
			return fmt.Errorf("failed to start scheduler: %w", err)
		}
		defer func() { _ = sched.Stop() }()
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 7. SERVE UNTIL SIGNALLED
	// ─────────────────────────────────────────────────────────────────────────
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown incomplete", logger.Err(err))
	}
	log.Info("followme-hub stopped")
	return nil
}

// eventBus is what the server needs from either bus implementation.
type eventBus interface {
	shared.EventBus
	Close() error
}

func busConfig(log *slog.Logger) messaging.InMemoryEventBusConfig {
	c := messaging.DefaultInMemoryEventBusConfig()
	c.Logger = log
	return c
}

// ══════════════════════════════════════════════════════════════════════════════
// STORAGE WIRING
// ══════════════════════════════════════════════════════════════════════════════

type storage struct {
	uow        progression.UnitOfWork
	standings  progression.StandingsReader
	catalog    progression.CatalogWriter
	challenges challenge.Repository
	ping       httpapi.HealthCheckFunc
	close      func()
}

func openStorage(ctx context.Context, cfg *config.Config, log *slog.Logger) (*storage, error) {
	switch cfg.Storage.Driver {
	case config.DriverMemory:
		log.Warn("using in-memory storage, data is lost on exit")
		s := memory.NewStore()
		return &storage{
			uow:        s,
			standings:  s,
			catalog:    s,
			challenges: s,
			ping:       func(context.Context) error { return nil },
			close:      func() {},
		}, nil

	case config.DriverSQLite:
		db, err := sqlite.Open(ctx, cfg.Storage.SQLitePath)
		if err != nil {
			return nil, err
		}
		log.Info("sqlite database ready", "path", cfg.Storage.SQLitePath)
		s := sqlite.NewStore(db)
		return &storage{
			uow:        s,
			standings:  s,
			catalog:    s,
			challenges: s,
			ping:       db.PingContext,
			close:      func() { _ = db.Close() },
		}, nil

	case config.DriverPostgres:
		pgCfg := postgres.DefaultConfig()
		pgCfg.URL = cfg.Database.URL
		pgCfg.MaxConns = cfg.Database.MaxConns
		pgCfg.MinConns = cfg.Database.MinConns
		pgCfg.MaxConnLifetime = cfg.Database.ConnMaxLifetime
		pgCfg.MaxConnIdleTime = cfg.Database.ConnMaxIdleTime

		r := retry.StartupRetrier(func(attempt int, err error, delay time.Duration) {
			log.Warn("postgres not reachable, retrying", "attempt", attempt, "delay", delay, logger.Err(err))
		})
		conn, err := retry.DoWithData(ctx, r, func(ctx context.Context) (*postgres.Connection, error) {
			return postgres.NewConnection(ctx, pgCfg)
		})
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		if err := postgres.NewMigrator(conn.Pool()).Migrate(ctx); err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
		log.Info("postgres database ready")

		s := postgres.NewStore(conn.Pool())
		return &storage{
			uow:        s,
			standings:  s,
			catalog:    s,
			challenges: postgres.NewChallengeRepository(conn.Pool()),
			ping:       conn.Ping,
			close:      conn.Close,
		}, nil
	}
	return nil, errors.New("unknown storage driver " + cfg.Storage.Driver)
}

func connectRedis(ctx context.Context, cfg *config.Config, log *slog.Logger) (*redis.Cache, error) {
	rcfg := redis.DefaultConfig()
	rcfg.Host = cfg.Redis.Host
	rcfg.Port = cfg.Redis.Port
	rcfg.Password = cfg.Redis.Password
	rcfg.DB = cfg.Redis.DB
	rcfg.PoolSize = cfg.Redis.PoolSize
	rcfg.MinIdleConns = cfg.Redis.MinIdleConns
	rcfg.DialTimeout = cfg.Redis.DialTimeout
	rcfg.ReadTimeout = cfg.Redis.ReadTimeout
	rcfg.WriteTimeout = cfg.Redis.WriteTimeout

	r := retry.StartupRetrier(func(attempt int, err error, delay time.Duration) {
		log.Warn("redis not reachable, retrying", "addr", cfg.RedisAddr(), "attempt", attempt, "delay", delay, logger.Err(err))
	})
	rc, err := retry.DoWithData(ctx, r, func(context.Context) (*redis.Cache, error) {
		return redis.NewCache(rcfg)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	log.Info("redis connection established", "addr", cfg.RedisAddr())
	return rc, nil
}
