// Command location-consumer applies driver location pings from Kafka to the
// presence registry and the geo index shared with the API servers.
package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"dispatch/internal/app"
	"dispatch/internal/config"
	"dispatch/internal/ingest"
	"dispatch/internal/logging"
	internalRedis "dispatch/internal/redis"
	"dispatch/internal/repository/postgres"
	"dispatch/internal/service"
)

func main() {
	cfg := config.Load()
	logger := logging.NewLogger(cfg.Log.Level)

	// The consumer shares state with the API servers, so it needs the
	// durable store and the Redis geo index.
	if len(cfg.Kafka.Brokers) == 0 || cfg.Store.Backend != config.StorePostgres || cfg.Redis.Addr == "" {
		logger.Error("location consumer requires KAFKA_BROKERS, STORE_BACKEND=postgres and REDIS_ADDR")
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	db, err := app.NewDatabase(ctx, cfg.Database, nil)
	if err != nil {
		logger.Error("failed to connect to database", slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	redisClient, err := app.NewRedisClient(ctx, cfg.Redis, nil)
	if err != nil {
		logger.Error("failed to connect to redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer redisClient.Close()

	// Presence changes made here reach connected clients through the bus.
	notifier := service.NewNotificationService(internalRedis.NewEventBus(redisClient, nil, logger), nil, logger)
	drivers := service.NewDriverService(
		postgres.NewPresenceRepository(db),
		internalRedis.NewLocationStore(redisClient),
		notifier,
		logger,
	)

	reader := ingest.NewKafkaReader(cfg.Kafka.Brokers, cfg.Kafka.LocationTopic, cfg.Kafka.Group)
	defer reader.Close()

	runCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("consuming driver locations",
		slog.String("topic", cfg.Kafka.LocationTopic),
		slog.String("group", cfg.Kafka.Group))

	consumer := ingest.NewLocationConsumer(reader, drivers, ingest.DefaultBackoff, logger)
	if err := consumer.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("consumer stopped", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("consumer exited")
}
