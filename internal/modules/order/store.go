// README: Order store backed by PostgreSQL (optimistic status CAS, items, state events).
package order

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"platter/internal/types"
)

type Store struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

// StatusUpdate is a compare-and-set on (status, status_version).
type StatusUpdate struct {
	ID       types.ID
	From     Status
	To       Status
	Version  int
	DriverID *types.ID
	Reason   *string
	At       time.Time
}

const orderColumns = `id, customer_id, restaurant_id, driver_id, status, status_version,
	subtotal, delivery_fee, discount, total_amount, surge_multiplier, distance_km,
	payment_method, payment_status, delivery_lat, delivery_lng, delivery_address, note,
	cancellation_reason, rejection_reason,
	created_at, confirmed_at, preparing_at, assigned_at, delivered_at, cancelled_at, paid_at`

func (s *Store) Create(ctx context.Context, o *Order) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
		INSERT INTO orders (
			id, customer_id, restaurant_id, status, status_version,
			subtotal, delivery_fee, discount, total_amount, surge_multiplier, distance_km,
			payment_method, payment_status, delivery_lat, delivery_lng, delivery_address, note,
			created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9, $10, $11,
			$12, $13, $14, $15, $16, $17,
			$18, $18
		)`,
		string(o.ID), string(o.CustomerID), string(o.RestaurantID), string(o.Status), o.StatusVersion,
		o.Subtotal, o.DeliveryFee, o.Discount, o.TotalAmount, o.SurgeMultiplier, o.DistanceKm,
		string(o.PaymentMethod), string(o.PaymentStatus), o.DeliveryPoint.Lat, o.DeliveryPoint.Lng, o.DeliveryAddress, o.Note,
		o.CreatedAt,
	)
	if err != nil {
		return err
	}

	batch := &pgx.Batch{}
	for _, it := range o.Items {
		opts := make([]string, len(it.OptionIDs))
		for i, id := range it.OptionIDs {
			opts[i] = string(id)
		}
		batch.Queue(`
			INSERT INTO order_items (order_id, dish_id, quantity, unit_price, option_ids, line_total)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			string(o.ID), string(it.DishID), it.Quantity, it.UnitPrice, opts, it.LineTotal,
		)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *Store) Get(ctx context.Context, id types.ID) (*Order, error) {
	o, err := scanOrder(s.db.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, string(id)))
	if err != nil {
		return nil, err
	}

	rows, err := s.db.Query(ctx, `
		SELECT dish_id, quantity, unit_price, option_ids, line_total
		FROM order_items WHERE order_id = $1 ORDER BY id`, string(id))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var it Item
		var opts []string
		if err := rows.Scan(&it.DishID, &it.Quantity, &it.UnitPrice, &opts, &it.LineTotal); err != nil {
			return nil, err
		}
		for _, v := range opts {
			it.OptionIDs = append(it.OptionIDs, types.ID(v))
		}
		o.Items = append(o.Items, it)
	}
	return o, rows.Err()
}

// UpdateStatus applies u only if the order still has u.From at u.Version.
// preparing_at and delivered_at are stamped once and never overwritten.
func (s *Store) UpdateStatus(ctx context.Context, u StatusUpdate) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE orders
		SET status = $1,
			status_version = status_version + 1,
			driver_id = COALESCE($2, driver_id),
			confirmed_at = CASE WHEN $1 = 'CONFIRMED' THEN COALESCE(confirmed_at, $3) ELSE confirmed_at END,
			preparing_at = CASE WHEN $1 = 'PREPARING' THEN COALESCE(preparing_at, $3) ELSE preparing_at END,
			assigned_at = CASE WHEN $1 = 'ASSIGNED' THEN $3 ELSE assigned_at END,
			delivered_at = CASE WHEN $1 = 'DELIVERED' THEN COALESCE(delivered_at, $3) ELSE delivered_at END,
			cancelled_at = CASE WHEN $1 = 'CANCELLED' THEN $3 ELSE cancelled_at END,
			cancellation_reason = CASE WHEN $1 = 'CANCELLED' THEN $4 ELSE cancellation_reason END,
			rejection_reason = CASE WHEN $1 = 'REJECTED' THEN $4 ELSE rejection_reason END,
			updated_at = $3
		WHERE id = $5 AND status = $6 AND status_version = $7`,
		string(u.To),
		toStringPtr(u.DriverID),
		u.At,
		u.Reason,
		string(u.ID),
		string(u.From),
		u.Version,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// MarkPaid flips UNPAID to PAID; false means the order was already paid or is gone.
func (s *Store) MarkPaid(ctx context.Context, id types.ID, at time.Time) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE orders
		SET payment_status = 'PAID', paid_at = $1, updated_at = $1
		WHERE id = $2 AND payment_status = 'UNPAID'`,
		at, string(id),
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// DeleteUnpaidGateway removes an unpaid gateway order that never completed delivery.
func (s *Store) DeleteUnpaidGateway(ctx context.Context, id types.ID) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		DELETE FROM orders
		WHERE id = $1
		  AND payment_method = 'GATEWAY'
		  AND payment_status = 'UNPAID'
		  AND status <> 'DELIVERED'`, string(id))
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) AppendEvent(ctx context.Context, e *Event) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO order_state_events (
			order_id, from_status, to_status, actor_type, actor_id, note, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		string(e.OrderID),
		string(e.FromStatus),
		string(e.ToStatus),
		e.ActorType,
		toStringPtr(e.ActorID),
		e.Note,
		e.CreatedAt,
	)
	return err
}

func (s *Store) ListEvents(ctx context.Context, orderID types.ID) ([]Event, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, order_id, from_status, to_status, actor_type, actor_id, note, created_at
		FROM order_state_events
		WHERE order_id = $1
		ORDER BY id`, string(orderID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var e Event
		var actorID *string
		if err := rows.Scan(&e.ID, &e.OrderID, &e.FromStatus, &e.ToStatus, &e.ActorType, &actorID, &e.Note, &e.CreatedAt); err != nil {
			return nil, err
		}
		if actorID != nil {
			id := types.ID(*actorID)
			e.ActorID = &id
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) ListAbandonedGateway(ctx context.Context, cutoff time.Time, limit int) ([]types.ID, error) {
	return s.listIDs(ctx, `
		SELECT id FROM orders
		WHERE payment_method = 'GATEWAY' AND payment_status = 'UNPAID'
		  AND status <> 'DELIVERED'
		  AND created_at <= $1
		ORDER BY created_at
		LIMIT $2`, cutoff, limit)
}

func (s *Store) ListPendingBefore(ctx context.Context, cutoff time.Time, limit int) ([]types.ID, error) {
	return s.listIDs(ctx, `
		SELECT id FROM orders
		WHERE status = 'PENDING' AND created_at <= $1
		ORDER BY created_at
		LIMIT $2`, cutoff, limit)
}

func (s *Store) ListPreparingUnassignedBefore(ctx context.Context, cutoff time.Time, limit int) ([]types.ID, error) {
	return s.listIDs(ctx, `
		SELECT id FROM orders
		WHERE status = 'PREPARING' AND driver_id IS NULL AND preparing_at <= $1
		ORDER BY preparing_at
		LIMIT $2`, cutoff, limit)
}

// ListDeliveredUnsettled finds delivered orders whose settlement never completed:
// no earnings summary yet, or captured money (or COD cash still to capture) that
// was never paid out.
func (s *Store) ListDeliveredUnsettled(ctx context.Context, limit int) ([]types.ID, error) {
	return s.listIDs(ctx, `
		SELECT o.id FROM orders o
		LEFT JOIN order_earnings_summaries e ON e.order_id = o.id
		WHERE o.status = 'DELIVERED'
		  AND (e.order_id IS NULL
		       OR (e.paid_out_at IS NULL AND (o.payment_status = 'PAID' OR o.payment_method = 'COD')))
		ORDER BY o.delivered_at
		LIMIT $1`, limit)
}

func (s *Store) listIDs(ctx context.Context, query string, args ...any) ([]types.ID, error) {
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.ID
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, types.ID(id))
	}
	return out, rows.Err()
}

func scanOrder(row pgx.Row) (*Order, error) {
	var o Order
	var driverID *string
	err := row.Scan(
		&o.ID, &o.CustomerID, &o.RestaurantID, &driverID, &o.Status, &o.StatusVersion,
		&o.Subtotal, &o.DeliveryFee, &o.Discount, &o.TotalAmount, &o.SurgeMultiplier, &o.DistanceKm,
		&o.PaymentMethod, &o.PaymentStatus, &o.DeliveryPoint.Lat, &o.DeliveryPoint.Lng, &o.DeliveryAddress, &o.Note,
		&o.CancellationReason, &o.RejectionReason,
		&o.CreatedAt, &o.ConfirmedAt, &o.PreparingAt, &o.AssignedAt, &o.DeliveredAt, &o.CancelledAt, &o.PaidAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if driverID != nil {
		d := types.ID(*driverID)
		o.DriverID = &d
	}
	return &o, nil
}

func toStringPtr(v *types.ID) *string {
	if v == nil {
		return nil
	}
	s := string(*v)
	return &s
}
