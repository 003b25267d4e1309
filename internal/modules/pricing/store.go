// README: Demand signal queries backed by PostgreSQL.
package pricing

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Store struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

// PendingOrders counts orders waiting for a driver.
func (s *Store) PendingOrders(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRow(ctx, `
		SELECT COUNT(*) FROM orders
		WHERE status IN ('CONFIRMED','PREPARING','READY')
		  AND driver_id IS NULL`).Scan(&n)
	return n, err
}
