package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"labreserve/internal/api"
	"labreserve/internal/config"
	"labreserve/internal/database"
	"labreserve/internal/domain"
	"labreserve/internal/events"
	"labreserve/internal/lock"
	"labreserve/internal/logging"
	"labreserve/internal/metrics"
	"labreserve/internal/payment"
	"labreserve/internal/repository"
	"labreserve/internal/service"
	"labreserve/internal/worker"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	cfg, baseLogger, closer, err := loadConfigAndLogger()
	if err != nil {
		return err
	}
	if closer != nil {
		defer (func() { _ = closer.Close() })()
	}
	logger := logging.Component(baseLogger, "api-main")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.NewDB(cfg.Database.Path, logging.Component(baseLogger, "database"))
	if err != nil {
		logger.Error().Err(err).Str("db_path", cfg.Database.Path).Msg("init database")
		return err
	}
	defer db.Close()

	if err := applySeed(ctx, cfg, db, logger); err != nil {
		return err
	}

	redisClient := initRedis(ctx, cfg, logger)
	if redisClient != nil {
		defer redisClient.Close()
	}

	locker, closeLocker, err := initLocker(ctx, cfg, redisClient, logger)
	if err != nil {
		return err
	}
	defer closeLocker()

	var idem domain.IdempotencyStore = repository.NewMemoryIdempotencyStore()
	if redisClient != nil {
		idem = repository.NewFailoverIdempotencyStore(repository.NewRedisIdempotencyStore(redisClient), idem, logging.Component(baseLogger, "idempotency"))
	}

	bus := events.NewEventBus()
	svcLogger := logging.Component(baseLogger, "service")
	notifier := service.NewNotificationService(db, bus, svcLogger)
	bookings := service.NewBookingService(
		db,
		locker,
		service.NewHourlyPricing(cfg.Pricing),
		notifier,
		bus,
		service.PolicyFromConfig(cfg.Booking, cfg.Pricing),
		svcLogger,
	)

	provider, err := payment.NewProvider(cfg.Payment, cfg.Pricing.Currency, logging.Component(baseLogger, "payment"))
	if err != nil {
		return err
	}
	payments := service.NewPaymentService(bookings, provider, svcLogger)

	svc := api.Services{
		Users:         service.NewUserService(db, cfg.Auth.BcryptCost, svcLogger),
		Labs:          service.NewLabService(db, svcLogger),
		Availability:  service.NewAvailabilityService(db),
		Bookings:      bookings,
		Payments:      payments,
		Notifications: notifier,
		Reports:       service.NewReportService(db, cfg.Pricing.Currency, svcLogger),
	}

	startMetrics(ctx, cfg, logger)
	startBackground(ctx, cfg, db, redisClient, bus, bookings, payments, baseLogger)

	httpServer := api.NewHTTPServer(cfg.API, svc, api.NewTokenIssuer(cfg.Auth), idem, logging.Component(baseLogger, "http"))
	return serve(ctx, httpServer, logger)
}

func loadConfigAndLogger() (*config.Config, *zerolog.Logger, io.Closer, error) {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load config: %w", err)
	}

	baseLogger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("init logger: %w", err)
	}
	return cfg, baseLogger, closer, nil
}

func applySeed(ctx context.Context, cfg *config.Config, db *database.DB, logger *zerolog.Logger) error {
	if cfg.Seed.Path == "" {
		return nil
	}
	seed, err := service.LoadSeed(cfg.Seed.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logger.Warn().Str("seed_path", cfg.Seed.Path).Msg("seed file not found, skipping")
			return nil
		}
		logger.Error().Err(err).Str("seed_path", cfg.Seed.Path).Msg("load seed")
		return err
	}
	if _, err := service.ApplySeed(ctx, db, seed, cfg.Auth.BcryptCost, logger); err != nil {
		logger.Error().Err(err).Msg("apply seed")
		return err
	}
	return nil
}

func initRedis(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) *redis.Client {
	if cfg.Redis.Address == "" {
		return nil
	}

	client := repository.NewRedisClient(cfg.Redis)
	if err := repository.Ping(ctx, client); err != nil {
		logger.Warn().Err(err).Msg("redis connection failed, continuing without redis")
		_ = client.Close()
		return nil
	}

	logger.Info().Str("addr", cfg.Redis.Address).Msg("redis connected")
	return client
}

// initLocker picks the slot lock backend. Redis and PostgreSQL locks are
// needed when several API instances share the database.
func initLocker(ctx context.Context, cfg *config.Config, redisClient *redis.Client, logger *zerolog.Logger) (domain.Locker, func(), error) {
	switch cfg.Booking.LockBackend {
	case "redis":
		if redisClient == nil {
			return nil, nil, errors.New("redis lock backend requires a reachable redis")
		}
		logger.Info().Msg("using redis slot locks")
		return lock.NewRedisLocker(redisClient, cfg.Booking.LockTTL), func() {}, nil
	case "postgres":
		pg, err := lock.NewPostgresLocker(ctx, cfg.Database.Postgres.DSN())
		if err != nil {
			return nil, nil, fmt.Errorf("init postgres locker: %w", err)
		}
		logger.Info().Str("host", cfg.Database.Postgres.Host).Msg("using postgres advisory locks")
		return pg, pg.Close, nil
	default:
		return lock.NewMemoryLocker(), func() {}, nil
	}
}

func startBackground(
	ctx context.Context,
	cfg *config.Config,
	db *database.DB,
	redisClient *redis.Client,
	bus *events.EventBus,
	bookings *service.BookingService,
	payments *service.PaymentService,
	baseLogger *zerolog.Logger,
) {
	if cfg.Delivery.Enabled {
		workerLogger := logging.Component(baseLogger, "delivery-worker")
		var sink domain.NotificationSink = worker.NewLogSink(workerLogger)
		if cfg.Delivery.AMQP.URL != "" {
			amqpSink, err := worker.NewAMQPSink(cfg.Delivery.AMQP)
			if err != nil {
				workerLogger.Warn().Err(err).Msg("rabbitmq unavailable, delivering notifications to the log")
			} else {
				sink = amqpSink
				go func() {
					<-ctx.Done()
					_ = amqpSink.Close()
				}()
			}
		}

		retry := worker.RetryPolicy{
			MaxRetries:    cfg.Delivery.MaxRetries,
			InitialDelay:  cfg.Delivery.InitialDelay,
			MaxDelay:      cfg.Delivery.MaxDelay,
			BackoffFactor: cfg.Delivery.BackoffFactor,
		}
		w := worker.NewDeliveryWorker(db, sink, payments, redisClient, retry, cfg.Delivery.PollInterval, workerLogger)
		w.Subscribe(bus)
		go w.Start(ctx)
	}

	if cfg.Booking.SweepEnabled {
		go service.NewCompletionSweeper(bookings, cfg.Booking.SweepInterval, logging.Component(baseLogger, "sweeper")).Start(ctx)
	}

	backupLogger := logging.Component(baseLogger, "backup")
	backup := database.NewBackupService(db, cfg.Backup, backupLogger)
	if cfg.Backup.Enabled && cfg.Backup.S3.Enabled() {
		uploader, err := database.NewS3Uploader(ctx, cfg.Backup.S3)
		if err != nil {
			backupLogger.Warn().Err(err).Msg("s3 uploader init failed, keeping backups local")
		} else {
			backup.WithUploader(uploader)
		}
	}
	go backup.Start(ctx)
}

func startMetrics(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) {
	if !cfg.Monitoring.PrometheusEnabled {
		return
	}

	metrics.Register()
	port := cfg.Monitoring.PrometheusPort
	if port == 0 {
		port = 9090
	}
	go startMetricsServer(ctx, port, logger)
}

func serve(ctx context.Context, httpServer *api.HTTPServer, logger *zerolog.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.Start()
	}()

	select {
	case err := <-errCh:
		if err != nil {
			logger.Error().Err(err).Msg("http server stopped")
			return err
		}
		return nil
	case <-ctx.Done():
	}
	logger.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http shutdown")
	}

	logger.Info().Msg("API server stopped")
	return nil
}

func startMetricsServer(ctx context.Context, port int, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error().Err(err).Msg("metrics server error")
	}
}
