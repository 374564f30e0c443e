package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	// DefaultExchange is the topic exchange external notifiers bind to.
	DefaultExchange = "ride_topic"

	amqpPublishTimeout = 3 * time.Second
	amqpReconnectDelay = 5 * time.Second
)

var (
	errAMQPClosed = errors.New("amqp connection closed")
	errAMQPNacked = errors.New("amqp broker nacked publish")
)

// confirmation is the broker's answer to one publish.
type confirmation interface {
	WaitContext(ctx context.Context) (bool, error)
}

type amqpChannel interface {
	PublishConfirmed(ctx context.Context, exchange, key string, msg amqp.Publishing) (confirmation, error)
	IsClosed() bool
	Close() error
}

// confirmChannel is an amqp channel in confirm mode.
type confirmChannel struct {
	*amqp.Channel
}

func (c confirmChannel) PublishConfirmed(ctx context.Context, exchange, key string, msg amqp.Publishing) (confirmation, error) {
	dc, err := c.PublishWithDeferredConfirmWithContext(ctx, exchange, key, false, false, msg)
	if err != nil {
		return nil, err
	}
	return dc, nil
}

// dialFunc opens a connection and a confirm-mode channel with the exchange
// declared.
type dialFunc func() (amqpChannel, func() error, error)

// AMQPPublisher publishes lifecycle events to a topic exchange, routed by
// event name. A closed channel triggers a background reconnect and the
// publish fails.
type AMQPPublisher struct {
	exchange string
	dial     dialFunc
	logger   *slog.Logger

	mu           sync.Mutex
	ch           amqpChannel
	closeConn    func() error
	reconnecting bool
	closed       bool
}

// NewAMQPPublisher dials url and declares exchange.
func NewAMQPPublisher(url, exchange string, logger *slog.Logger) (*AMQPPublisher, error) {
	if exchange == "" {
		exchange = DefaultExchange
	}
	dial := func() (amqpChannel, func() error, error) {
		conn, err := amqp.Dial(url)
		if err != nil {
			return nil, nil, err
		}
		ch, err := conn.Channel()
		if err != nil {
			_ = conn.Close()
			return nil, nil, err
		}
		if err := ch.Confirm(false); err != nil {
			_ = ch.Close()
			_ = conn.Close()
			return nil, nil, err
		}
		if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
			_ = ch.Close()
			_ = conn.Close()
			return nil, nil, err
		}
		return confirmChannel{ch}, conn.Close, nil
	}
	return newAMQPPublisher(exchange, dial, logger)
}

func newAMQPPublisher(exchange string, dial dialFunc, logger *slog.Logger) (*AMQPPublisher, error) {
	p := &AMQPPublisher{
		exchange: exchange,
		dial:     dial,
		logger:   logger.With(slog.String("component", "amqp_publisher")),
	}
	ch, closeConn, err := dial()
	if err != nil {
		return nil, fmt.Errorf("rabbit connect: %w", err)
	}
	p.ch, p.closeConn = ch, closeConn
	return p, nil
}

func (p *AMQPPublisher) Publish(ctx context.Context, _ string, msg Message) error {
	p.mu.Lock()
	ch := p.ch
	alive := ch != nil && !ch.IsClosed()
	if !alive && !p.reconnecting && !p.closed {
		p.reconnecting = true
		go p.reconnect()
	}
	p.mu.Unlock()

	if !alive {
		return errAMQPClosed
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	pubCtx, cancel := context.WithTimeout(ctx, amqpPublishTimeout)
	defer cancel()

	conf, err := ch.PublishConfirmed(pubCtx, p.exchange, string(msg.Type), amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
		Body:         body,
	})
	if err != nil {
		return err
	}
	acked, err := conf.WaitContext(pubCtx)
	if err != nil {
		return fmt.Errorf("await confirm: %w", err)
	}
	if !acked {
		return errAMQPNacked
	}
	return nil
}

func (p *AMQPPublisher) reconnect() {
	for {
		p.mu.Lock()
		if p.closed {
			p.reconnecting = false
			p.mu.Unlock()
			return
		}
		p.mu.Unlock()

		ch, closeConn, err := p.dial()
		if err == nil {
			p.mu.Lock()
			if p.closeConn != nil {
				_ = p.closeConn()
			}
			p.ch, p.closeConn = ch, closeConn
			p.reconnecting = false
			p.mu.Unlock()
			p.logger.Info("reconnected")
			return
		}

		p.logger.Warn("reconnect failed", slog.Any("error", err))
		time.Sleep(amqpReconnectDelay)
	}
}

func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.closed = true
	var errs []error
	if p.ch != nil && !p.ch.IsClosed() {
		if err := p.ch.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close channel: %w", err))
		}
	}
	if p.closeConn != nil {
		if err := p.closeConn(); err != nil {
			errs = append(errs, fmt.Errorf("close connection: %w", err))
		}
		p.closeConn = nil
	}
	return errors.Join(errs...)
}
