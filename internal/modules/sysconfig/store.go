// README: System configuration store backed by PostgreSQL.
package sysconfig

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Store struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

func (s *Store) List(ctx context.Context) ([]Entry, error) {
	rows, err := s.db.Query(ctx, `
		SELECT key, value, description, last_updated_by, updated_at
		FROM system_configurations`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.Key, &e.Value, &e.Description, &e.LastUpdatedBy, &e.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) Upsert(ctx context.Context, key, value, updatedBy string) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO system_configurations (key, value, last_updated_by, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (key) DO UPDATE
		SET value = EXCLUDED.value,
		    last_updated_by = EXCLUDED.last_updated_by,
		    updated_at = EXCLUDED.updated_at`,
		key, value, updatedBy, time.Now(),
	)
	return err
}
