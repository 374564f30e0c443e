package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"dispatch/internal/domain"
	"dispatch/internal/observability"
	"dispatch/internal/redis"
	"dispatch/internal/repository"
)

const (
	expiryLockName  = "dispatch:expiry"
	expiryBatchSize = 100
	// ExpiredReason is recorded on rides cancelled by the sweep.
	ExpiredReason = "expired"
)

// PendingRideExpirer cancels requested rides nobody accepted within ttl.
// With a lock store only one instance sweeps at a time.
type PendingRideExpirer struct {
	rideRepo  repository.RideRepository
	lockStore redis.LockStoreInterface
	matching  *MatchingService
	notifier  *NotificationService
	ttl       time.Duration
	interval  time.Duration
	logger    *slog.Logger
	now       func() time.Time
}

// NewPendingRideExpirer creates a new PendingRideExpirer. lockStore may be
// nil for a single instance.
func NewPendingRideExpirer(
	rideRepo repository.RideRepository,
	lockStore redis.LockStoreInterface,
	matching *MatchingService,
	notifier *NotificationService,
	ttl, interval time.Duration,
	logger *slog.Logger,
) *PendingRideExpirer {
	return &PendingRideExpirer{
		rideRepo:  rideRepo,
		lockStore: lockStore,
		matching:  matching,
		notifier:  notifier,
		ttl:       ttl,
		interval:  interval,
		logger:    logger.With(slog.String("component", "expiry")),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Run sweeps every interval until ctx is done.
func (e *PendingRideExpirer) Run(ctx context.Context) {
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := e.Sweep(ctx); err != nil {
				e.logger.Warn("sweep failed", slog.Any("error", err))
			} else if n > 0 {
				e.logger.Info("expired pending rides", slog.Int("count", n))
			}
		}
	}
}

// Sweep cancels one batch of expired rides and returns how many it
// cancelled. Rides accepted in the meantime are skipped.
func (e *PendingRideExpirer) Sweep(ctx context.Context) (int, error) {
	if e.lockStore != nil {
		token, ok, err := e.lockStore.TryLock(ctx, expiryLockName, e.interval)
		if err != nil {
			return 0, err
		}
		if !ok {
			return 0, nil
		}
		defer func() {
			if err := e.lockStore.Unlock(context.WithoutCancel(ctx), expiryLockName, token); err != nil {
				e.logger.Warn("unlock failed", slog.Any("error", err))
			}
		}()
	}

	now := e.now()
	rides, err := e.rideRepo.ListPendingBefore(ctx, now.Add(-e.ttl), expiryBatchSize)
	if err != nil {
		return 0, storeErr(err)
	}

	n := 0
	for _, ride := range rides {
		cancelled, err := e.rideRepo.TryTransition(ctx, ride.ID, domain.Transition{
			From:    domain.RideStatusRequested,
			To:      domain.RideStatusCancelled,
			At:      now,
			Reason:  ExpiredReason,
			ActorID: "system",
		})
		if err != nil {
			if errors.Is(err, repository.ErrStale) || errors.Is(err, repository.ErrNotFound) {
				continue
			}
			return n, storeErr(err)
		}
		n++
		observability.RidesExpired.Inc()
		observability.RideTransitions.WithLabelValues(string(cancelled.Status)).Inc()
		e.notifier.NotifyRideCancelled(ctx, cancelled, e.matching.offeredDrivers(ctx, cancelled, e.logger))
	}
	return n, nil
}
