// Package ingest applies driver location pings streamed through Kafka.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"dispatch/internal/domain"
	"dispatch/internal/observability"
	"dispatch/internal/repository"
	"dispatch/internal/service"
)

// LocationPing is one message on the location topic.
type LocationPing struct {
	DriverID string  `json:"driver_id"`
	Lat      float64 `json:"lat"`
	Lng      float64 `json:"lng"`
}

// Reader is the subset of kafka.Reader the consumer uses.
type Reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// LocationUpdater applies a location to the presence registry.
type LocationUpdater interface {
	UpdateLocation(ctx context.Context, driverID string, c domain.Coordinate) (*domain.DriverPresence, error)
}

// Backoff bounds the delay between retries.
type Backoff struct {
	Min time.Duration
	Max time.Duration
}

// DefaultBackoff retries after 1s, doubling up to 30s.
var DefaultBackoff = Backoff{Min: time.Second, Max: 30 * time.Second}

func (b Backoff) next(d time.Duration) time.Duration {
	if d <= 0 {
		return b.Min
	}
	d *= 2
	if d > b.Max {
		return b.Max
	}
	return d
}

// LocationConsumer reads pings and applies them until its context ends.
type LocationConsumer struct {
	reader   Reader
	updater  LocationUpdater
	backoff  Backoff
	attempts int
	logger   *slog.Logger
}

// NewLocationConsumer creates a new LocationConsumer.
func NewLocationConsumer(reader Reader, updater LocationUpdater, backoff Backoff, logger *slog.Logger) *LocationConsumer {
	return &LocationConsumer{
		reader:   reader,
		updater:  updater,
		backoff:  backoff,
		attempts: 3,
		logger:   logger.With(slog.String("component", "location_consumer")),
	}
}

// NewKafkaReader creates a consumer-group reader for the location topic.
func NewKafkaReader(brokers []string, topic, group string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  group,
		MinBytes: 1,
		MaxBytes: 10e6,
		MaxWait:  time.Second,
	})
}

// Run consumes until ctx is done. Read errors back off exponentially;
// invalid pings are committed and skipped.
func (c *LocationConsumer) Run(ctx context.Context) error {
	var delay time.Duration
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			delay = c.backoff.next(delay)
			c.logger.Warn("fetch failed", slog.Any("error", err), slog.Duration("retry_in", delay))
			if !sleep(ctx, delay) {
				return nil
			}
			continue
		}
		delay = 0

		if err := c.handle(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			// The ping is lost: the next commit moves the offset past it. The
			// driver's following ping overwrites the position anyway.
			c.logger.Error("apply failed", slog.Any("error", err), slog.Int64("offset", msg.Offset))
			continue
		}
		if err := c.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			c.logger.Warn("commit failed", slog.Any("error", err))
		}
	}
}

func (c *LocationConsumer) handle(ctx context.Context, msg kafka.Message) error {
	var ping LocationPing
	if err := json.Unmarshal(msg.Value, &ping); err != nil || ping.DriverID == "" {
		observability.LocationPings.WithLabelValues("invalid").Inc()
		c.logger.Debug("skipping invalid ping", slog.String("key", string(msg.Key)))
		return nil
	}

	err := c.applyWithRetry(ctx, ping)
	switch {
	case err == nil:
		observability.LocationPings.WithLabelValues("applied").Inc()
		return nil
	case errors.Is(err, service.ErrInvalidLocation), errors.Is(err, repository.ErrNotFound):
		observability.LocationPings.WithLabelValues("invalid").Inc()
		c.logger.Debug("rejected ping", slog.String("driver_id", ping.DriverID), slog.Any("error", err))
		return nil
	default:
		observability.LocationPings.WithLabelValues("failed").Inc()
		return err
	}
}

func (c *LocationConsumer) applyWithRetry(ctx context.Context, ping LocationPing) error {
	coord := domain.Coordinate{Lat: ping.Lat, Lng: ping.Lng}
	var delay time.Duration
	var err error
	for i := 0; i < c.attempts; i++ {
		_, err = c.updater.UpdateLocation(ctx, ping.DriverID, coord)
		if err == nil || !errors.Is(err, service.ErrStoreUnavailable) {
			return err
		}
		if i == c.attempts-1 {
			break
		}
		delay = c.backoff.next(delay)
		if !sleep(ctx, delay) {
			return ctx.Err()
		}
	}
	return err
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
