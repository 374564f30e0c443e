package events

import (
	"context"
	"errors"
)

// Publisher sends lifecycle events to a durable sink. key orders events
// belonging to the same ride.
type Publisher interface {
	Publish(ctx context.Context, key string, msg Message) error
	Close() error
}

// Fanout publishes to every sink and joins their errors.
type Fanout []Publisher

func (f Fanout) Publish(ctx context.Context, key string, msg Message) error {
	var errs []error
	for _, p := range f {
		if err := p.Publish(ctx, key, msg); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (f Fanout) Close() error {
	var errs []error
	for _, p := range f {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
