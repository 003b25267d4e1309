// README: Janitor scheduler: periodic, leased sweeps that enforce order timeouts.
package janitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"platter/internal/modules/order"
	"platter/internal/modules/sysconfig"
	"platter/internal/types"
)

type Orders interface {
	AbandonedGatewayOrders(ctx context.Context, cutoff time.Time, limit int) ([]types.ID, error)
	PendingOrdersBefore(ctx context.Context, cutoff time.Time, limit int) ([]types.ID, error)
	UnassignedPreparingBefore(ctx context.Context, cutoff time.Time, limit int) ([]types.ID, error)
	DeliveredUnsettled(ctx context.Context, limit int) ([]types.ID, error)
	DeleteAbandoned(ctx context.Context, id types.ID) (bool, error)
	Cancel(ctx context.Context, cmd order.CancelCommand) (*order.Order, error)
	Resettle(ctx context.Context, id types.ID) error
}

type Settings interface {
	Minutes(ctx context.Context, key string, def int) time.Duration
}

// Rejections is cleared for orders the janitor cancels.
type Rejections interface {
	ClearRejections(ctx context.Context, orderID types.ID) error
}

type Deps struct {
	Orders     Orders
	Settings   Settings
	Locker     Locker
	Rejections Rejections
	Log        *slog.Logger
}

type Service struct {
	orders     Orders
	settings   Settings
	locker     Locker
	rejections Rejections
	cfg        Config
	log        *slog.Logger
	now        func() time.Time
}

func NewService(d Deps, cfg Config) *Service {
	if d.Log == nil {
		d.Log = slog.Default()
	}
	if d.Locker == nil {
		d.Locker = NewLocalLocker()
	}
	return &Service{
		orders:     d.Orders,
		settings:   d.Settings,
		locker:     d.Locker,
		rejections: d.Rejections,
		cfg:        cfg.withDefaults(),
		log:        d.Log,
		now:        time.Now,
	}
}

// RunScheduler sweeps every interval until ctx is done. A tick that finds the
// lease taken is skipped.
func (s *Service) RunScheduler(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	s.log.Info("janitor started", "interval", s.cfg.Interval.String())
	for {
		select {
		case <-ctx.Done():
			s.log.Info("janitor stopped")
			return
		case <-ticker.C:
			if _, err := s.SweepOnce(ctx); err != nil && !errors.Is(err, ErrLeaseHeld) && ctx.Err() == nil {
				s.log.Error("janitor sweep failed", "err", err)
			}
		}
	}
}

// SweepOnce runs all sweeps concurrently under the lease. Each sweep isolates
// per-order failures; the returned error only reports sweeps that could not list work.
func (s *Service) SweepOnce(ctx context.Context) (Report, error) {
	release, ok, err := s.locker.TryLock(ctx, sweepLockKey, s.cfg.LockTTL)
	if err != nil {
		return Report{}, fmt.Errorf("acquire janitor lease: %w", err)
	}
	if !ok {
		s.log.Debug("janitor lease held elsewhere, skipping tick")
		return Report{}, ErrLeaseHeld
	}
	defer release()

	now := s.now()
	rep := Report{StartedAt: now}
	restaurantTimeout := s.minutes(ctx, sysconfig.KeyRestaurantResponseTimeout, DefaultRestaurantTimeoutMinutes)
	driverTimeout := s.minutes(ctx, sysconfig.KeyDriverAssignmentTimeout, DefaultDriverTimeoutMinutes)

	var g errgroup.Group
	g.Go(func() (err error) {
		rep.AbandonedGateway, err = s.sweepAbandoned(ctx, now.Add(-s.cfg.AbandonWindow))
		return err
	})
	g.Go(func() (err error) {
		rep.RestaurantTimeout, err = s.sweepCancel(ctx, "restaurant_timeout", s.orders.PendingOrdersBefore, now.Add(-restaurantTimeout), ReasonRestaurantTimeout)
		return err
	})
	g.Go(func() (err error) {
		rep.DriverTimeout, err = s.sweepCancel(ctx, "driver_timeout", s.orders.UnassignedPreparingBefore, now.Add(-driverTimeout), ReasonNoDriver)
		return err
	})
	g.Go(func() (err error) {
		rep.Resettled, err = s.sweepUnsettled(ctx)
		return err
	})
	err = g.Wait()
	rep.Duration = s.now().Sub(now)

	s.log.Info("janitor sweep done",
		"abandoned_deleted", rep.AbandonedGateway.Applied,
		"pending_cancelled", rep.RestaurantTimeout.Applied,
		"unassigned_cancelled", rep.DriverTimeout.Applied,
		"resettled", rep.Resettled.Applied,
		"failed", rep.AbandonedGateway.Failed+rep.RestaurantTimeout.Failed+rep.DriverTimeout.Failed+rep.Resettled.Failed,
		"duration", rep.Duration.String(),
	)
	return rep, err
}

func (s *Service) minutes(ctx context.Context, key string, def int) time.Duration {
	if s.settings == nil {
		return time.Duration(def) * time.Minute
	}
	return s.settings.Minutes(ctx, key, def)
}

func (s *Service) sweepAbandoned(ctx context.Context, cutoff time.Time) (SweepResult, error) {
	var res SweepResult
	ids, err := s.orders.AbandonedGatewayOrders(ctx, cutoff, s.cfg.BatchSize)
	if err != nil {
		return res, fmt.Errorf("list abandoned gateway orders: %w", err)
	}
	res.Scanned = len(ids)
	for _, id := range ids {
		deleted, err := s.orders.DeleteAbandoned(ctx, id)
		switch {
		case err != nil:
			res.Failed++
			s.log.Error("delete abandoned order failed", "order_id", string(id), "err", err)
		case deleted:
			res.Applied++
		default:
			// paid or delivered in the meantime
			res.Skipped++
		}
	}
	return res, nil
}

type lister func(ctx context.Context, cutoff time.Time, limit int) ([]types.ID, error)

func (s *Service) sweepCancel(ctx context.Context, name string, list lister, cutoff time.Time, reason string) (SweepResult, error) {
	var res SweepResult
	ids, err := list(ctx, cutoff, s.cfg.BatchSize)
	if err != nil {
		return res, fmt.Errorf("list %s orders: %w", name, err)
	}
	res.Scanned = len(ids)
	for _, id := range ids {
		_, err := s.orders.Cancel(ctx, order.CancelCommand{
			OrderID:   id,
			ActorType: order.ActorJanitor,
			Reason:    reason,
		})
		switch {
		case err == nil:
			res.Applied++
		case errors.Is(err, order.ErrInvalidState), errors.Is(err, order.ErrNotFound):
			res.Skipped++
			continue
		case errors.Is(err, order.ErrRefundFailed):
			// cancelled; the refund error is already logged by the order service
			res.Applied++
		default:
			res.Failed++
			s.log.Error("janitor cancel failed", "sweep", name, "order_id", string(id), "err", err)
			continue
		}
		if s.rejections != nil {
			if err := s.rejections.ClearRejections(ctx, id); err != nil {
				s.log.Warn("clear rejections failed", "order_id", string(id), "err", err)
			}
		}
	}
	return res, nil
}

func (s *Service) sweepUnsettled(ctx context.Context) (SweepResult, error) {
	var res SweepResult
	ids, err := s.orders.DeliveredUnsettled(ctx, s.cfg.BatchSize)
	if err != nil {
		return res, fmt.Errorf("list unsettled orders: %w", err)
	}
	res.Scanned = len(ids)
	for _, id := range ids {
		err := s.orders.Resettle(ctx, id)
		switch {
		case err == nil:
			res.Applied++
		case errors.Is(err, types.ErrAlreadyExists):
			res.Skipped++
		default:
			res.Failed++
			s.log.Error("resettle failed", "order_id", string(id), "err", err)
		}
	}
	return res, nil
}
