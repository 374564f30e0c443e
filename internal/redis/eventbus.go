package redis

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"dispatch/internal/events"
)

const realtimeChannel = "dispatch:realtime"

// LocalDelivery hands an envelope to this instance's connections.
type LocalDelivery interface {
	Broadcast(ctx context.Context, env events.Envelope) error
}

// EventBus relays realtime envelopes between service instances over Redis
// pub/sub. Every instance, including the publisher, delivers what it receives
// to its own hub.
type EventBus struct {
	client *redis.Client
	local  LocalDelivery
	logger *slog.Logger
}

// NewEventBus creates a new EventBus.
func NewEventBus(client *redis.Client, local LocalDelivery, logger *slog.Logger) *EventBus {
	return &EventBus{
		client: client,
		local:  local,
		logger: logger.With(slog.String("component", "eventbus")),
	}
}

// Broadcast publishes env to every instance.
func (b *EventBus) Broadcast(ctx context.Context, env events.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return b.client.Publish(ctx, realtimeChannel, data).Err()
}

// Run subscribes and delivers envelopes until ctx is done.
func (b *EventBus) Run(ctx context.Context) error {
	sub := b.client.Subscribe(ctx, realtimeChannel)
	defer sub.Close()

	// Wait for the subscription to be confirmed before reporting ready.
	if _, err := sub.Receive(ctx); err != nil {
		return err
	}
	b.logger.Info("subscribed", slog.String("channel", realtimeChannel))

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var env events.Envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				b.logger.Warn("dropping malformed envelope", slog.Any("error", err))
				continue
			}
			if err := b.local.Broadcast(ctx, env); err != nil {
				b.logger.Warn("local delivery failed", slog.Any("error", err))
			}
		}
	}
}
