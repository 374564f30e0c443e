package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/redis/go-redis/v9"

	"dispatch/internal/app"
	"dispatch/internal/config"
	"dispatch/internal/events"
	"dispatch/internal/handler"
	"dispatch/internal/logging"
	"dispatch/internal/middleware"
	"dispatch/internal/realtime"
	internalRedis "dispatch/internal/redis"
	"dispatch/internal/repository"
	"dispatch/internal/repository/memory"
	"dispatch/internal/repository/postgres"
	"dispatch/internal/service"
)

func main() {
	// Load configuration.
	cfg := config.Load()
	logger := logging.NewLogger(cfg.Log.Level)
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", slog.Any("error", err))
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Initialize New Relic FIRST (before database so we can instrument DB).
	var nrApp *newrelic.Application
	var err error
	if cfg.NewRelic.Enabled && cfg.NewRelic.LicenseKey != "" {
		nrApp, err = newrelic.NewApplication(
			newrelic.ConfigAppName(cfg.NewRelic.AppName),
			newrelic.ConfigLicense(cfg.NewRelic.LicenseKey),
			newrelic.ConfigDistributedTracerEnabled(true),
			newrelic.ConfigAppLogForwardingEnabled(true),
		)
		if err != nil {
			logger.Warn("failed to initialize New Relic", slog.Any("error", err))
		} else {
			logger.Info("New Relic enabled", slog.String("app", cfg.NewRelic.AppName))
		}
	}

	var db *sql.DB
	if cfg.Store.Backend == config.StorePostgres {
		db, err = app.NewDatabase(ctx, cfg.Database, nrApp)
		if err != nil {
			fatal(logger, "failed to connect to database", err)
		}
		defer db.Close()
		logger.Info("connected to PostgreSQL")
	}

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient, err = app.NewRedisClient(ctx, cfg.Redis, nrApp)
		if err != nil {
			fatal(logger, "failed to connect to redis", err)
		}
		defer redisClient.Close()
		logger.Info("connected to Redis", slog.String("addr", cfg.Redis.Addr))
	}

	publisher := newPublisher(cfg, logger)
	if publisher != nil {
		defer publisher.Close()
	}

	runCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var workers sync.WaitGroup
	server := wireServer(runCtx, &workers, db, redisClient, nrApp, publisher, cfg, logger)

	// Start server in goroutine.
	go func() {
		logger.Info("starting server", slog.String("port", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			fatal(logger, "server error", err)
		}
	}()

	// Graceful shutdown.
	<-runCtx.Done()
	logger.Info("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", slog.Any("error", err))
	}
	workers.Wait()

	logger.Info("server exited")
}

// wireServer wires all dependencies, starts background workers on ctx and
// returns the HTTP server.
func wireServer(
	ctx context.Context,
	workers *sync.WaitGroup,
	db *sql.DB,
	redisClient *redis.Client,
	nrApp *newrelic.Application,
	publisher events.Publisher,
	cfg *config.Config,
	logger *slog.Logger,
) *http.Server {
	// Initialize repositories.
	var (
		userRepo     repository.UserRepository
		presenceRepo repository.PresenceRepository
		rideRepo     repository.RideRepository
	)
	if db != nil {
		userRepo = postgres.NewUserRepository(db)
		presenceRepo = postgres.NewPresenceRepository(db)
		rideRepo = postgres.NewRideRepository(db)
	} else {
		presence := memory.NewPresenceRepository()
		users := memory.NewUserRepository(presence)
		userRepo, presenceRepo = users, presence
		rideRepo = memory.NewRideRepository(users.Exists)
	}

	// Initialize Redis stores. Without Redis the geo index lives in process
	// and the expiry sweep runs unlocked.
	var (
		locationStore internalRedis.LocationStoreInterface = memory.NewLocationIndex()
		lockStore     internalRedis.LockStoreInterface
	)
	if redisClient != nil {
		locationStore = internalRedis.NewLocationStore(redisClient)
		lockStore = internalRedis.NewLockStore(redisClient)
	}

	// Realtime delivery.
	hub := realtime.NewHub(logger)
	var broadcaster service.Broadcaster = hub
	if cfg.Realtime.Fanout == config.FanoutRedis {
		bus := internalRedis.NewEventBus(redisClient, hub, logger)
		broadcaster = bus
		workers.Add(1)
		go func() {
			defer workers.Done()
			if err := bus.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("realtime bus stopped", slog.Any("error", err))
			}
		}()
	}

	// Initialize services.
	notificationService := service.NewNotificationService(broadcaster, publisher, logger)
	matchingService := service.NewMatchingService(rideRepo, presenceRepo, locationStore, cfg.Dispatch.RadiusKm)
	driverService := service.NewDriverService(presenceRepo, locationStore, notificationService, logger)
	rideService := service.NewRideService(rideRepo, userRepo, matchingService, notificationService, logger)
	userService := service.NewUserService(userRepo)

	if n, err := driverService.RebuildIndex(ctx); err != nil {
		logger.Warn("failed to rebuild location index", slog.Any("error", err))
	} else {
		logger.Info("location index rebuilt", slog.Int("drivers", n))
	}

	if cfg.Dispatch.PendingTTL > 0 {
		expirer := service.NewPendingRideExpirer(rideRepo, lockStore, matchingService, notificationService,
			cfg.Dispatch.PendingTTL, cfg.Dispatch.ExpiryInterval, logger)
		workers.Add(1)
		go func() {
			defer workers.Done()
			expirer.Run(ctx)
		}()
	}

	gateway := realtime.NewGateway(hub, driverService, realtime.ClientConfig{
		WriteTimeout: cfg.Realtime.WriteTimeout,
		PongWait:     cfg.Realtime.PongWait,
		SendBuffer:   cfg.Realtime.SendBuffer,
	}, cfg.Dispatch.LocationPushInterval, logger)

	// Initialize handlers.
	router := app.NewRouter(app.RouterDeps{
		RideHandler:   handler.NewRideHandler(rideService),
		DriverHandler: handler.NewDriverHandler(driverService, cfg.Dispatch.LocationPushInterval),
		UserHandler:   handler.NewUserHandler(userService),
		WSHandler:     handler.NewWSHandler(gateway, logger),
		Authenticator: middleware.NewAuthenticator(cfg.Auth.JWTSecret),
		RedisClient:   redisClient,
		NewRelicApp:   nrApp,
		Logger:        logger,
	})

	// No WriteTimeout: it would cut long-lived websocket connections.
	return &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           router,
		ReadHeaderTimeout: cfg.Server.ReadTimeout,
	}
}

// newPublisher builds the durable event sinks behind a bounded queue, or
// returns nil when none is configured. A sink that cannot connect at startup
// is logged and skipped.
func newPublisher(cfg *config.Config, logger *slog.Logger) events.Publisher {
	var sinks events.Fanout
	if len(cfg.Kafka.Brokers) > 0 {
		sinks = append(sinks, events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.RideEventsTopic))
		logger.Info("kafka ride events enabled", slog.String("topic", cfg.Kafka.RideEventsTopic))
	}
	if cfg.RabbitMQ.URL != "" {
		p, err := events.NewAMQPPublisher(cfg.RabbitMQ.URL, cfg.RabbitMQ.Exchange, logger)
		if err != nil {
			logger.Warn("rabbitmq notifications disabled", slog.Any("error", err))
		} else {
			sinks = append(sinks, p)
			logger.Info("rabbitmq notifications enabled", slog.String("exchange", cfg.RabbitMQ.Exchange))
		}
	}
	if len(sinks) == 0 {
		return nil
	}
	return events.NewAsyncPublisher(sinks, cfg.Events.QueueSize, logger)
}

func fatal(logger *slog.Logger, msg string, err error) {
	logger.Error(msg, slog.Any("error", err))
	os.Exit(1)
}
