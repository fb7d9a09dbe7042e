package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/kursadbilgin/batch-coordinator/internal/config"
	"github.com/kursadbilgin/batch-coordinator/internal/coordinator"
	"github.com/kursadbilgin/batch-coordinator/internal/handler"
	"github.com/kursadbilgin/batch-coordinator/internal/infra/postgresql"
	"github.com/kursadbilgin/batch-coordinator/internal/infra/postgresql/migrations"
	infraredis "github.com/kursadbilgin/batch-coordinator/internal/infra/redis"
	"github.com/kursadbilgin/batch-coordinator/internal/lock"
	"github.com/kursadbilgin/batch-coordinator/internal/observability"
	"github.com/kursadbilgin/batch-coordinator/internal/provider"
	"github.com/kursadbilgin/batch-coordinator/internal/queue"
	"github.com/kursadbilgin/batch-coordinator/internal/ratelimit"
	"github.com/kursadbilgin/batch-coordinator/internal/repository"
	"github.com/kursadbilgin/batch-coordinator/internal/service"
	"github.com/kursadbilgin/batch-coordinator/internal/session"
	"github.com/kursadbilgin/batch-coordinator/internal/transport"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	serviceName     = "batch-coordinator"
	startupTimeout  = 15 * time.Second
	shutdownTimeout = 10 * time.Second
)

type payload = json.RawMessage

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("failed to load config", zap.Error(err))
	}

	logger, err := observability.NewLogger(cfg.LogLevel, serviceName)
	if err != nil {
		log.Fatal("failed to initialize logger", zap.Error(err))
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("batch-coordinator stopped with error", zap.Error(err))
	}
	logger.Info("batch-coordinator stopped")
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	metrics := observability.NewMetrics()

	startupCtx, cancelStartup := context.WithTimeout(ctx, startupTimeout)
	defer cancelStartup()

	var (
		rdb          *goredis.Client
		sharedStore  session.Store
		sharedLocker lock.Locker
		limiter      ratelimit.RateLimiter = ratelimit.NewLocalRateLimiter(cfg.NotifyRateLimitPerSec)
	)
	if cfg.RedisURL != "" {
		client, err := infraredis.NewRedis(cfg.RedisURL)
		if err != nil {
			return err
		}
		defer client.Close()
		rdb = client

		if err := infraredis.Ping(startupCtx, client); err != nil {
			// Batches registered now live in the local store until Redis recovers.
			logger.Warn("redis unreachable at startup, starting degraded", zap.Error(err))
		}

		store, err := infraredis.NewSessionStore(client, cfg.SessionTTL(), cfg.StoreOpTimeout())
		if err != nil {
			return err
		}
		locker, err := infraredis.NewLocker(client, cfg.StoreOpTimeout())
		if err != nil {
			return err
		}
		redisLimiter, err := infraredis.NewRedisRateLimiter(client, cfg.NotifyRateLimitPerSec, limiter)
		if err != nil {
			return err
		}
		sharedStore, sharedLocker, limiter = store, locker, redisLimiter
	}

	memory := session.NewMemoryStore(cfg.FallbackMaxAge())
	store, err := session.NewFailoverStore(sharedStore, memory, logger)
	if err != nil {
		return err
	}
	store.OnFallback(func(op string) { metrics.IncStoreFallback("session", op) })

	locker, err := lock.NewFailoverLocker(sharedLocker, lock.NewLocalLocker(), logger)
	if err != nil {
		return err
	}
	locker.OnFallback(func() { metrics.IncStoreFallback("lock", "acquire") })

	acquirer, err := lock.NewAcquirer(locker, lock.Config{
		TTL:         cfg.LockTTL(),
		MaxAttempts: cfg.LockMaxAttempts,
		RetryBase:   cfg.LockRetryBase(),
	})
	if err != nil {
		return err
	}

	audit := coordinator.AuditSinks{coordinator.NewLogAuditSink(logger)}
	var (
		sqlDB       *sql.DB
		completions handler.CompletionLister
	)
	if cfg.DatabaseDSN != "" {
		db, err := postgresql.NewPostgres(startupCtx, cfg.DatabaseDSN)
		if err != nil {
			return fmt.Errorf("postgres initialization failed: %w", err)
		}
		if err := migrations.Migrate(db); err != nil {
			return fmt.Errorf("database migrations failed: %w", err)
		}
		sqlDB, err = db.DB()
		if err != nil {
			return fmt.Errorf("postgres underlying db init failed: %w", err)
		}
		defer sqlDB.Close()

		repo := repository.NewGormCompletionRepo(db)
		audit = append(audit, repo)
		completions = repo
	}

	var notifiers coordinator.MultiNotifier[payload]
	var broker *queue.RabbitMQ
	if cfg.RabbitMQURL != "" {
		broker, err = queue.NewRabbitMQ(startupCtx, cfg.RabbitMQURL)
		if err != nil {
			return fmt.Errorf("rabbitmq initialization failed: %w", err)
		}
		defer broker.Close()

		publisher := queue.NewRabbitMQPublisher(broker)
		defer publisher.Close()

		queueNotifier, err := queue.NewNotificationNotifier[payload](publisher, limiter)
		if err != nil {
			return err
		}
		notifiers = append(notifiers, queueNotifier)
	}
	if cfg.NotifyWebhookURL != "" {
		webhook, err := provider.NewWebhookNotifier[payload](cfg.NotifyWebhookURL, limiter)
		if err != nil {
			return err
		}
		notifiers = append(notifiers, webhook)
	}
	if len(notifiers) == 0 {
		logger.Warn("no notification sink configured, completed groups are only audited")
	}

	trigger, err := coordinator.NewTrigger[payload](notifiers, audit, logger)
	if err != nil {
		return err
	}
	coord, err := coordinator.New[payload](store, acquirer, trigger, logger)
	if err != nil {
		return err
	}
	coord.SetMetrics(metrics)

	sweeper, err := service.NewFallbackSweeper(map[string]service.Sweeper{
		"memory":   memory,
		"failover": store,
	}, cfg.FallbackSweepInterval(), logger)
	if err != nil {
		return err
	}

	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ErrorHandler:          transport.ErrorHandler(logger),
	})
	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(metrics.HTTPMiddleware())
	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))

	deps := handler.Dependencies{SQL: sqlDB, Redis: rdb}
	if broker != nil {
		deps.Broker = broker
	}
	handler.RegisterHealthRoutes(app, deps)
	if err := handler.RegisterBatchRoutes(app, coord, completions); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("batch-coordinator api started", zap.Int("port", cfg.APIPort))
		if err := app.Listen(fmt.Sprintf(":%d", cfg.APIPort)); err != nil {
			return fmt.Errorf("api server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return app.ShutdownWithContext(shutdownCtx)
	})

	g.Go(func() error {
		return sweeper.Start(gctx)
	})

	if broker != nil {
		consumer := queue.NewRabbitMQConsumer(broker, cfg.WorkerConcurrency, logger)
		defer consumer.Close()

		worker, err := service.NewCompletionWorker(coord, consumer, cfg.WorkerConcurrency, logger)
		if err != nil {
			return err
		}
		worker.SetMetrics(metrics)

		g.Go(func() error {
			return worker.Start(gctx)
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
