// README: Rejection tracker service used by dispatch to skip drivers who declined an order.
package matching

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"sort"

	"platter/internal/types"
)

type Repository interface {
	Add(ctx context.Context, orderID, driverID types.ID) error
	Members(ctx context.Context, orderID types.ID) ([]types.ID, error)
	IsMember(ctx context.Context, orderID, driverID types.ID) (bool, error)
	Count(ctx context.Context, orderID types.ID) (int64, error)
	Clear(ctx context.Context, orderID types.ID) error
}

type Service struct {
	store Repository
	log   *slog.Logger
}

func NewService(store Repository, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{store: store, log: log}
}

func (s *Service) AddRejection(ctx context.Context, orderID, driverID types.ID) error {
	if orderID == "" || driverID == "" {
		return ErrBadRequest
	}
	if err := s.store.Add(ctx, orderID, driverID); err != nil {
		return err
	}
	s.log.Debug("driver rejected order", "order_id", string(orderID), "driver_id", string(driverID))
	return nil
}

// Rejections lists the drivers who declined the order, sorted.
func (s *Service) Rejections(ctx context.Context, orderID types.ID) ([]types.ID, error) {
	ids, err := s.store.Members(ctx, orderID)
	if err != nil {
		return nil, err
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (s *Service) HasRejected(ctx context.Context, orderID, driverID types.ID) (bool, error) {
	return s.store.IsMember(ctx, orderID, driverID)
}

func (s *Service) RejectionCount(ctx context.Context, orderID types.ID) (int64, error) {
	return s.store.Count(ctx, orderID)
}

func (s *Service) ClearRejections(ctx context.Context, orderID types.ID) error {
	return s.store.Clear(ctx, orderID)
}

// Candidates drops drivers who rejected the order and samples up to n of the rest.
func (s *Service) Candidates(ctx context.Context, orderID types.ID, pool []types.ID, n int) ([]types.ID, error) {
	rejected, err := s.store.Members(ctx, orderID)
	if err != nil {
		return nil, err
	}
	skip := make(map[types.ID]struct{}, len(rejected))
	for _, id := range rejected {
		skip[id] = struct{}{}
	}
	eligible := make([]types.ID, 0, len(pool))
	for _, id := range pool {
		if _, ok := skip[id]; !ok {
			eligible = append(eligible, id)
		}
	}
	return PickRandomDrivers(eligible, n), nil
}

// PickRandomDrivers returns up to n distinct drivers from pool without modifying it.
func PickRandomDrivers(pool []types.ID, n int) []types.ID {
	if n <= 0 || len(pool) == 0 {
		return nil
	}
	cp := make([]types.ID, len(pool))
	copy(cp, pool)
	rand.Shuffle(len(cp), func(i, j int) { cp[i], cp[j] = cp[j], cp[i] })
	if n > len(cp) {
		n = len(cp)
	}
	return cp[:n]
}
