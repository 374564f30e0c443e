package events

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"dispatch/internal/observability"
)

const (
	// DefaultQueueSize bounds the events waiting for the durable sinks.
	DefaultQueueSize = 1024

	asyncDrainTimeout = 5 * time.Second
)

var (
	// ErrQueueFull is returned when the sinks fall behind and an event is
	// dropped.
	ErrQueueFull = errors.New("event queue full")
	// ErrPublisherClosed is returned after Close.
	ErrPublisherClosed = errors.New("publisher closed")
)

type queuedEvent struct {
	key string
	msg Message
}

// AsyncPublisher hands events to a background worker so the caller never
// waits on a broker. The worker publishes in order; failures are logged and
// counted.
type AsyncPublisher struct {
	next   Publisher
	queue  chan queuedEvent
	done   chan struct{}
	logger *slog.Logger

	mu     sync.RWMutex
	closed bool
}

// NewAsyncPublisher starts the worker. A non-positive size uses
// DefaultQueueSize.
func NewAsyncPublisher(next Publisher, size int, logger *slog.Logger) *AsyncPublisher {
	if size <= 0 {
		size = DefaultQueueSize
	}
	p := &AsyncPublisher{
		next:   next,
		queue:  make(chan queuedEvent, size),
		done:   make(chan struct{}),
		logger: logger.With(slog.String("component", "event_sink")),
	}
	go p.run()
	return p
}

// Publish enqueues msg without blocking. ctx is not carried to the worker,
// since the request it belongs to is usually over by the time it runs.
func (p *AsyncPublisher) Publish(_ context.Context, key string, msg Message) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPublisherClosed
	}
	select {
	case p.queue <- queuedEvent{key: key, msg: msg}:
		return nil
	default:
		observability.EventsDropped.Inc()
		return ErrQueueFull
	}
}

func (p *AsyncPublisher) run() {
	defer close(p.done)
	for ev := range p.queue {
		if err := p.next.Publish(context.Background(), ev.key, ev.msg); err != nil {
			observability.EventPublishFailures.WithLabelValues("stream").Inc()
			p.logger.Warn("event publish failed",
				slog.String("key", ev.key),
				slog.String("type", string(ev.msg.Type)),
				slog.Any("error", err),
			)
		}
	}
}

// Close stops accepting events, waits for the queue to drain and closes the
// sinks. Events still queued after the drain timeout are lost.
func (p *AsyncPublisher) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()

	select {
	case <-p.done:
	case <-time.After(asyncDrainTimeout):
		p.logger.Warn("event queue not drained before shutdown", slog.Int("pending", len(p.queue)))
	}
	return p.next.Close()
}
