package service

import (
	"context"
	"log/slog"

	"dispatch/internal/domain"
	"dispatch/internal/events"
	"dispatch/internal/observability"
)

// Broadcaster delivers envelopes to connected clients, either through the
// local hub or the cross-instance bus.
type Broadcaster interface {
	Broadcast(ctx context.Context, env events.Envelope) error
}

// NotificationService emits lifecycle events after they are committed.
// Delivery is best effort: failures are logged and counted, never returned.
type NotificationService struct {
	broadcaster Broadcaster
	publisher   events.Publisher
	logger      *slog.Logger
}

// NewNotificationService creates a new NotificationService. publisher may be
// nil when no durable sink is configured.
func NewNotificationService(broadcaster Broadcaster, publisher events.Publisher, logger *slog.Logger) *NotificationService {
	return &NotificationService{
		broadcaster: broadcaster,
		publisher:   publisher,
		logger:      logger.With(slog.String("component", "notification")),
	}
}

// NotifyRideCreated offers a new ride to the eligible drivers.
func (s *NotificationService) NotifyRideCreated(ctx context.Context, ride *domain.Ride, driverIDs []string) {
	s.emit(ctx, ride.ID, events.RideCreated{
		RideID:      ride.ID,
		RiderID:     ride.RiderID,
		Pickup:      ride.Pickup,
		Dropoff:     ride.Dropoff,
		Fare:        ride.Fare,
		RequestedAt: ride.RequestedAt,
	}, events.Target{UserIDs: driverIDs})
}

// NotifyRideAccepted tells the rider, and retracts the offer from the other
// drivers it was offered to.
func (s *NotificationService) NotifyRideAccepted(ctx context.Context, ride *domain.Ride, offeredTo []string) {
	s.emit(ctx, ride.ID, events.RideAccepted{
		RideID:   ride.ID,
		RiderID:  ride.RiderID,
		DriverID: ride.DriverID,
	}, events.Target{
		UserIDs: append([]string{ride.RiderID}, offeredTo...),
		Exclude: []string{ride.DriverID},
	})
}

// NotifyRideCompleted tells both parties.
func (s *NotificationService) NotifyRideCompleted(ctx context.Context, ride *domain.Ride) {
	s.emit(ctx, ride.ID, events.RideCompleted{
		RideID:   ride.ID,
		RiderID:  ride.RiderID,
		DriverID: ride.DriverID,
	}, events.Target{UserIDs: []string{ride.RiderID, ride.DriverID}})
}

// NotifyRideCancelled tells the rider and the assigned driver. offeredTo
// lists the drivers still holding the offer of a ride that was pending.
func (s *NotificationService) NotifyRideCancelled(ctx context.Context, ride *domain.Ride, offeredTo []string) {
	target := events.Target{UserIDs: []string{ride.RiderID}}
	if ride.DriverID != "" {
		target.UserIDs = append(target.UserIDs, ride.DriverID)
	}
	target.UserIDs = append(target.UserIDs, offeredTo...)
	s.emit(ctx, ride.ID, events.RideCancelled{
		RideID:   ride.ID,
		RiderID:  ride.RiderID,
		DriverID: ride.DriverID,
		Reason:   ride.CancelReason,
	}, target)
}

// NotifyPresenceChanged moves the driver in or out of the online group.
func (s *NotificationService) NotifyPresenceChanged(ctx context.Context, driverID string, online bool) {
	env := events.Envelope{Membership: &events.Membership{
		UserID: driverID,
		Group:  events.GroupOnlineDrivers,
		Join:   online,
	}}
	if err := s.broadcaster.Broadcast(ctx, env); err != nil {
		observability.EventPublishFailures.WithLabelValues("realtime").Inc()
		s.logger.Warn("membership broadcast failed",
			slog.String("driver_id", driverID),
			slog.Any("error", err),
		)
	}
}

func (s *NotificationService) emit(ctx context.Context, rideID string, p events.Payload, target events.Target) {
	msg, err := events.Encode(p)
	if err != nil {
		s.logger.Error("encode event", slog.String("ride_id", rideID), slog.Any("error", err))
		return
	}

	if len(target.UserIDs) > 0 || target.Group != "" {
		if err := s.broadcaster.Broadcast(ctx, events.Envelope{Target: target, Message: &msg}); err != nil {
			observability.EventPublishFailures.WithLabelValues("realtime").Inc()
			s.logger.Warn("realtime broadcast failed",
				slog.String("ride_id", rideID),
				slog.String("type", string(msg.Type)),
				slog.Any("error", err),
			)
		}
	}

	if s.publisher != nil {
		if err := s.publisher.Publish(ctx, rideID, msg); err != nil {
			observability.EventPublishFailures.WithLabelValues("stream").Inc()
			s.logger.Warn("event publish failed",
				slog.String("ride_id", rideID),
				slog.String("type", string(msg.Type)),
				slog.Any("error", err),
			)
		}
	}
}
