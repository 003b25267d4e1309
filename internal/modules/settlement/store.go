// README: Earnings summary persistence; the primary key makes creation idempotent.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"platter/internal/types"
)

type Store struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

// Insert returns ErrAlreadyExists when a summary for the order is already recorded.
func (s *Store) Insert(ctx context.Context, e *EarningsSummary) error {
	err := s.db.QueryRow(ctx, `
		INSERT INTO order_earnings_summaries (
			order_id, subtotal, delivery_fee,
			restaurant_commission_rate, restaurant_commission_amount, restaurant_net_earning,
			driver_commission_rate, driver_commission_amount, driver_net_earning,
			platform_total_earning
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (order_id) DO NOTHING
		RETURNING created_at`,
		string(e.OrderID), e.Subtotal, e.DeliveryFee,
		e.RestaurantCommissionRate, e.RestaurantCommissionAmount, e.RestaurantNetEarning,
		e.DriverCommissionRate, e.DriverCommissionAmount, e.DriverNetEarning,
		e.PlatformTotalEarning,
	).Scan(&e.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrAlreadyExists
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23503" {
		return fmt.Errorf("order %s: %w", e.OrderID, types.ErrReferenceNotFound)
	}
	return err
}

func (s *Store) Get(ctx context.Context, orderID types.ID) (*EarningsSummary, error) {
	var e EarningsSummary
	err := s.db.QueryRow(ctx, `
		SELECT order_id, subtotal, delivery_fee,
			restaurant_commission_rate, restaurant_commission_amount, restaurant_net_earning,
			driver_commission_rate, driver_commission_amount, driver_net_earning,
			platform_total_earning, paid_out_at, created_at
		FROM order_earnings_summaries WHERE order_id = $1`, string(orderID)).
		Scan(&e.OrderID, &e.Subtotal, &e.DeliveryFee,
			&e.RestaurantCommissionRate, &e.RestaurantCommissionAmount, &e.RestaurantNetEarning,
			&e.DriverCommissionRate, &e.DriverCommissionAmount, &e.DriverNetEarning,
			&e.PlatformTotalEarning, &e.PaidOutAt, &e.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (s *Store) Exists(ctx context.Context, orderID types.ID) (bool, error) {
	var ok bool
	err := s.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM order_earnings_summaries WHERE order_id = $1)`, string(orderID)).
		Scan(&ok)
	return ok, err
}

// MarkPaidOut stamps the payout time once; later calls leave the first stamp.
func (s *Store) MarkPaidOut(ctx context.Context, orderID types.ID, at time.Time) error {
	_, err := s.db.Exec(ctx, `
		UPDATE order_earnings_summaries
		SET paid_out_at = $2
		WHERE order_id = $1 AND paid_out_at IS NULL`,
		string(orderID), at)
	return err
}
