package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"roadbook/internal/api"
	"roadbook/internal/config"
	"roadbook/internal/database"
	"roadbook/internal/domain"
	"roadbook/internal/events"
	"roadbook/internal/export"
	"roadbook/internal/logging"
	"roadbook/internal/mail"
	"roadbook/internal/metrics"
	"roadbook/internal/notify"
	"roadbook/internal/payment"
	"roadbook/internal/repository"
	"roadbook/internal/service"
	"roadbook/internal/worker"

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
	cfg, logger, closer, err := loadConfigAndLogger()
	if err != nil {
		return err
	}
	if closer != nil {
		defer (func() { _ = closer.Close() })()
	}

	db, err := database.NewDB(cfg.Database.Path, logging.Component(logger, "database"))
	if err != nil {
		logger.Error().Err(err).Str("db_path", cfg.Database.Path).Msg("init database")
		return err
	}
	defer db.Close()

	if !cfg.API.Enabled {
		logger.Warn().Msg("API is disabled in config, but starting API application. Check your config.")
	}

	redisClient := initRedis(cfg, logger)
	defer func() {
		if err := repository.Close(redisClient); err != nil {
			logger.Warn().Err(err).Msg("failed to close redis")
		}
	}()
	cache := initCache(redisClient, logger)

	gateway, err := initGateway(cfg, logger)
	if err != nil {
		return err
	}

	eventBus := events.NewEventBus()
	initTelegram(cfg, eventBus, logger)

	checkout := service.NewCheckoutService(db, gateway, eventBus, cfg.Booking, cfg.Stripe, logging.Component(logger, "checkout"))
	processor := service.NewPaymentProcessor(db, eventBus, logging.Component(logger, "payments"))
	membership := service.NewMembershipService(db, eventBus, logging.Component(logger, "membership"))
	resolver := service.NewAccessResolverService(db, db, cache, cfg.Booking.CacheTTL,
		service.NewRevealGate(cfg.Booking.RevealDaysBefore), logging.Component(logger, "access"))

	httpServer := api.NewHTTPServer(cfg.API, cfg.Booking, api.Services{
		Checkout:   checkout,
		Payments:   processor,
		Gateway:    gateway,
		Membership: membership,
		Resolver:   resolver,
		Roster:     export.NewRosterExporter(db, logging.Component(logger, "export")),
		Admin:      db,
		Cache:      cache,
		Health:     db.PingContext,
	}, logging.Component(logger, "http"))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	startMetrics(ctx, cfg, logger)
	startWorkers(ctx, cfg, db, redisClient, logger)

	return startServer(ctx, httpServer, cfg, logger)
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

	return cfg, logging.Component(baseLogger, "api-main"), closer, nil
}

func initRedis(cfg *config.Config, logger *zerolog.Logger) *redis.Client {
	if cfg.Redis.Address == "" {
		return nil
	}

	redisClient := repository.NewRedisClient(cfg.Redis)
	if err := repository.Ping(context.Background(), redisClient); err != nil {
		logger.Warn().Err(err).Msg("redis connection failed, continuing without redis")
		_ = repository.Close(redisClient)
		return nil
	}

	logger.Info().Str("addr", cfg.Redis.Address).Msg("redis connected")
	return redisClient
}

// initCache prefers Redis and falls back to process memory when it is absent or flaps.
func initCache(redisClient *redis.Client, logger *zerolog.Logger) domain.CacheRepository {
	memory := repository.NewMemoryCacheRepository()
	if redisClient == nil {
		return memory
	}
	return repository.NewFailoverCacheRepository(repository.NewRedisCacheRepository(redisClient), memory, logging.Component(logger, "cache"))
}

func initGateway(cfg *config.Config, logger *zerolog.Logger) (domain.PaymentGateway, error) {
	if !cfg.Stripe.Enabled {
		logger.Warn().Msg("stripe is disabled, checkout will fail")
		return payment.DisabledGateway{}, nil
	}

	gateway, err := payment.NewStripeGateway(cfg.Stripe, logging.Component(logger, "stripe"))
	if err != nil {
		return nil, fmt.Errorf("init stripe: %w", err)
	}
	return gateway, nil
}

func initTelegram(cfg *config.Config, bus *events.EventBus, logger *zerolog.Logger) {
	if !cfg.Telegram.Enabled {
		return
	}

	bot, err := notify.NewBotAPI(cfg.Telegram)
	if err != nil {
		logger.Warn().Err(err).Msg("telegram init failed, continuing without admin alerts")
		return
	}

	notify.NewAdminNotifier(bot, cfg.Telegram.AdminChatIDs, logging.Component(logger, "telegram")).Subscribe(bus)
	logger.Info().Str("bot", bot.Self.UserName).Int("chats", len(cfg.Telegram.AdminChatIDs)).Msg("telegram admin alerts enabled")
}

func startWorkers(ctx context.Context, cfg *config.Config, db *database.DB, redisClient *redis.Client, logger *zerolog.Logger) {
	mailer := mail.New(cfg.Mail, logging.Component(logger, "mail"))
	notifications := worker.NewNotificationWorker(db, mailer, redisClient, worker.RetryPolicy{
		MaxRetries:   cfg.Worker.MaxRetries,
		InitialDelay: cfg.Worker.BaseDelay,
		MaxDelay:     cfg.Worker.MaxDelay,
	}, cfg.Booking.BaseURL, logging.Component(logger, "notifications")).
		WithPolling(cfg.Worker.PollInterval, cfg.Worker.BatchSize)
	go notifications.Start(ctx)

	if cfg.Backup.Enabled {
		backup := database.NewBackupService(db, cfg.Database.Path, cfg.Backup, logging.Component(logger, "backup"))
		go backup.Start(ctx)
	}
}

func startMetrics(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) {
	metrics.Register()
	if !cfg.Monitoring.PrometheusEnabled {
		return
	}

	port := cfg.Monitoring.PrometheusPort
	if port == 0 {
		port = 9090
	}
	go startMetricsServer(ctx, port, logger)
}

func startServer(ctx context.Context, httpServer *api.HTTPServer, cfg *config.Config, logger *zerolog.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		if !cfg.API.HTTP.Enabled {
			return
		}
		errCh <- httpServer.Start()
	}()

	logger.Info().Int("http_port", cfg.API.HTTP.Port).Msg("API server started")

	select {
	case <-ctx.Done():
		logger.Info().Msg("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			logger.Error().Err(err).Msg("http server stopped")
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = httpServer.Shutdown(shutdownCtx)

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
