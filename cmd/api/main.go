package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/dialware/dialer-engine/internal/config"
	"github.com/dialware/dialer-engine/internal/domain"
	"github.com/dialware/dialer-engine/internal/handler"
	"github.com/dialware/dialer-engine/internal/infra/postgresql"
	"github.com/dialware/dialer-engine/internal/infra/postgresql/migrations"
	infraredis "github.com/dialware/dialer-engine/internal/infra/redis"
	"github.com/dialware/dialer-engine/internal/observability"
	"github.com/dialware/dialer-engine/internal/queue"
	"github.com/dialware/dialer-engine/internal/repository"
	"github.com/dialware/dialer-engine/internal/service"
	"github.com/dialware/dialer-engine/internal/signaling"
	"github.com/dialware/dialer-engine/internal/transport"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("failed to load config", zap.Error(err))
	}

	logger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatal("failed to initialize logger", zap.Error(err))
	}
	defer logger.Sync() //nolint:errcheck

	db, err := postgresql.NewPostgres(cfg.DatabaseDSN)
	if err != nil {
		logger.Fatal("postgres initialization failed", zap.Error(err))
	}

	if err := migrations.Migrate(db); err != nil {
		logger.Fatal("database migrations failed", zap.Error(err))
	}

	sqlDB, err := db.DB()
	if err != nil {
		logger.Fatal("postgres underlying db init failed", zap.Error(err))
	}
	defer sqlDB.Close()

	rdb, err := infraredis.NewRedis(cfg.RedisURL)
	if err != nil {
		logger.Fatal("redis initialization failed", zap.Error(err))
	}
	defer rdb.Close()

	rabbit, err := queue.NewRabbitMQ(cfg.RabbitMQURL)
	if err != nil {
		logger.Fatal("rabbitmq initialization failed", zap.Error(err))
	}
	defer rabbit.Close()

	metrics := observability.NewMetrics()

	attemptRepo := repository.NewGormAttemptRepo(db)
	eventRepo := repository.NewGormEventRepo(db)
	timerRepo := repository.NewGormTimerRepo(db)
	leadRepo := repository.NewGormLeadRepo(db)
	campaignRepo := repository.NewGormCampaignRepo(db)
	trunkRepo := repository.NewGormTrunkRepo(db)
	qualityRepo := repository.NewGormQualityRepo(db)

	limiter, err := infraredis.NewTrunkBucketLimiter(rdb, func(ctx context.Context, trunkID string) (float64, error) {
		trunk, err := trunkRepo.GetByID(ctx, trunkID)
		if err != nil {
			return 0, err
		}
		if !trunk.Enabled {
			return 0, fmt.Errorf("trunk %s is disabled", trunkID)
		}
		return trunk.MaxCPS, nil
	})
	if err != nil {
		logger.Fatal("trunk limiter initialization failed", zap.Error(err))
	}

	gateway, err := signaling.NewHTTPGateway(cfg.SignalingGatewayURL)
	if err != nil {
		logger.Fatal("signaling gateway initialization failed", zap.Error(err))
	}

	publisher := queue.NewRabbitMQPublisher(rabbit)
	consumer := queue.NewRabbitMQConsumer(rabbit, cfg.WorkerPrefetch, logger)

	attemptService, err := service.NewAttemptService(attemptRepo, eventRepo, timerRepo, cfg.MaxCallDuration(), metrics, logger)
	if err != nil {
		logger.Fatal("attempt service initialization failed", zap.Error(err))
	}

	timerService, err := service.NewTimerService(timerRepo, eventRepo, attemptService, metrics, logger)
	if err != nil {
		logger.Fatal("timer service initialization failed", zap.Error(err))
	}

	qualityService, err := service.NewQualityService(qualityRepo, domain.DefaultThresholds(), metrics, logger)
	if err != nil {
		logger.Fatal("quality service initialization failed", zap.Error(err))
	}

	orchestrator, err := service.NewOrchestrator(
		campaignRepo,
		leadRepo,
		trunkRepo,
		attemptService,
		timerService,
		limiter,
		publisher,
		service.RatioPacingAdvisor{MaxPerTick: cfg.MaxDialsPerTick},
		service.OrchestratorConfig{
			Tick:         cfg.OrchestratorTick(),
			ReserveBatch: cfg.ReserveBatch,
			RingTimeout:  cfg.RingTimeout(),
		},
		metrics,
		logger,
	)
	if err != nil {
		logger.Fatal("orchestrator initialization failed", zap.Error(err))
	}

	sweeper, err := service.NewTimerSweeper(timerService, cfg.TimerSweepInterval(), cfg.TimerSweepLimit, logger)
	if err != nil {
		logger.Fatal("timer sweeper initialization failed", zap.Error(err))
	}

	worker, err := service.NewDialWorker(trunkRepo, consumer, gateway, attemptService, cfg.WorkerConcurrency, metrics, logger)
	if err != nil {
		logger.Fatal("dial worker initialization failed", zap.Error(err))
	}

	app := fiber.New(fiber.Config{
		ErrorHandler: transport.ErrorHandler(logger),
	})
	app.Use(recover.New())
	app.Use(metrics.HTTPMiddleware())

	// Probes and metrics stay open; everything else requires the shared key.
	handler.RegisterHealthRoutes(app, sqlDB, rdb)
	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))

	app.Use(transport.APIKeyAuth(cfg.APIKey))

	if err := handler.RegisterAttemptRoutes(app, attemptService); err != nil {
		logger.Fatal("attempt routes registration failed", zap.Error(err))
	}
	if err := handler.RegisterDialerRoutes(app, orchestrator, timerService, trunkRepo, limiter); err != nil {
		logger.Fatal("dialer routes registration failed", zap.Error(err))
	}
	if err := handler.RegisterQualityRoutes(app, qualityService); err != nil {
		logger.Fatal("quality routes registration failed", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error { return sweeper.Start(groupCtx) })
	group.Go(func() error { return orchestrator.Start(groupCtx) })
	group.Go(func() error { return worker.Start(groupCtx) })
	group.Go(func() error {
		return app.Listen(fmt.Sprintf(":%d", cfg.APIPort))
	})
	group.Go(func() error {
		<-groupCtx.Done()
		return app.ShutdownWithTimeout(shutdownTimeout)
	})

	logger.Info("dialer-engine api started", zap.Int("port", cfg.APIPort))

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal("dialer-engine terminated", zap.Error(err))
	}
	logger.Info("dialer-engine stopped")
}
