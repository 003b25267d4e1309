// README: Reference data lookups backed by PostgreSQL.
package catalog

import (
	"context"
	"errors"
	"fmt"

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

func (s *Store) Customer(ctx context.Context, id types.ID) (*Customer, error) {
	var c Customer
	err := s.db.QueryRow(ctx, `SELECT id, name FROM customers WHERE id = $1`, string(id)).
		Scan(&c.ID, &c.Name)
	if err != nil {
		return nil, notFound(err, "customer", id)
	}
	return &c, nil
}

func (s *Store) Restaurant(ctx context.Context, id types.ID) (*Restaurant, error) {
	var r Restaurant
	err := s.db.QueryRow(ctx, `
		SELECT id, owner_id, name, lat, lng, commission_rate
		FROM restaurants WHERE id = $1`, string(id)).
		Scan(&r.ID, &r.OwnerID, &r.Name, &r.Location.Lat, &r.Location.Lng, &r.CommissionRate)
	if err != nil {
		return nil, notFound(err, "restaurant", id)
	}
	return &r, nil
}

func (s *Store) Driver(ctx context.Context, id types.ID) (*Driver, error) {
	var d Driver
	err := s.db.QueryRow(ctx, `SELECT id, name, status, cod_limit FROM drivers WHERE id = $1`, string(id)).
		Scan(&d.ID, &d.Name, &d.Status, &d.CODLimit)
	if err != nil {
		return nil, notFound(err, "driver", id)
	}
	return &d, nil
}

func (s *Store) Dish(ctx context.Context, id types.ID) (*Dish, error) {
	var d Dish
	err := s.db.QueryRow(ctx, `
		SELECT id, restaurant_id, name, price, available
		FROM dishes WHERE id = $1`, string(id)).
		Scan(&d.ID, &d.RestaurantID, &d.Name, &d.Price, &d.Available)
	if err != nil {
		return nil, notFound(err, "dish", id)
	}
	return &d, nil
}

func (s *Store) MenuOption(ctx context.Context, id types.ID) (*MenuOption, error) {
	var o MenuOption
	err := s.db.QueryRow(ctx, `
		SELECT id, dish_id, name, extra_price
		FROM menu_options WHERE id = $1`, string(id)).
		Scan(&o.ID, &o.DishID, &o.Name, &o.ExtraPrice)
	if err != nil {
		return nil, notFound(err, "menu option", id)
	}
	return &o, nil
}

// CountDriversByStatus counts drivers in any of the given statuses.
func (s *Store) CountDriversByStatus(ctx context.Context, statuses ...DriverStatus) (int, error) {
	vals := make([]string, len(statuses))
	for i, st := range statuses {
		vals[i] = string(st)
	}
	var n int
	err := s.db.QueryRow(ctx, `SELECT COUNT(*) FROM drivers WHERE status = ANY($1)`, vals).Scan(&n)
	return n, err
}

func notFound(err error, kind string, id types.ID) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
	}
	return err
}
