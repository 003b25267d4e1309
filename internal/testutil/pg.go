// README: Test helpers for DB/Redis-backed tests (env-gated connections and migration applier).
package testutil

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"platter/internal/infra"
)

// Tables in truncation order; children first.
var allTables = []string{
	"order_earnings_summaries",
	"wallet_transactions",
	"wallets",
	"order_state_events",
	"order_items",
	"orders",
	"menu_options",
	"dishes",
	"drivers",
	"restaurants",
	"customers",
}

// DB connects to PLATTER_TEST_DSN, applies migrations and truncates every table.
// The test is skipped when the variable is unset.
func DB(t *testing.T) *pgxpool.Pool {
	t.Helper()

	dsn := os.Getenv("PLATTER_TEST_DSN")
	if dsn == "" {
		t.Skip("PLATTER_TEST_DSN not set; skipping DB-backed test")
	}

	ctx := context.Background()
	db, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connect db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := ApplyMigrations(ctx, db); err != nil {
		t.Fatalf("apply migration: %v", err)
	}
	if _, err := db.Exec(ctx, "TRUNCATE TABLE "+strings.Join(allTables, ", ")+" CASCADE"); err != nil {
		t.Fatalf("truncate tables: %v", err)
	}
	return db
}

// Redis connects to PLATTER_TEST_REDIS_ADDR and flushes the selected database.
func Redis(t *testing.T) *redis.Client {
	t.Helper()

	addr := os.Getenv("PLATTER_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("PLATTER_TEST_REDIS_ADDR not set; skipping Redis-backed test")
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = rdb.Close() })
	if err := rdb.FlushDB(context.Background()).Err(); err != nil {
		t.Fatalf("flush redis: %v", err)
	}
	return rdb
}

func ApplyMigrations(ctx context.Context, db *pgxpool.Pool) error {
	root, err := repoRoot()
	if err != nil {
		return err
	}
	return infra.ApplyMigrations(ctx, db, filepath.Join(root, "migrations"))
}

// Seed inserts the minimal reference rows most order tests need.
func Seed(t *testing.T, db *pgxpool.Pool) {
	t.Helper()
	ctx := context.Background()
	stmts := []string{
		`INSERT INTO customers (id, name) VALUES ('c1', 'Alice')`,
		`INSERT INTO restaurants (id, owner_id, name, lat, lng) VALUES ('r1', 'owner1', 'Pho 24', 10.7769, 106.7009)`,
		`INSERT INTO drivers (id, name, status) VALUES ('d1', 'Bob', 'AVAILABLE'), ('d2', 'Carl', 'ONLINE')`,
		`INSERT INTO dishes (id, restaurant_id, name, price) VALUES ('dish1', 'r1', 'Pho bo', 50000)`,
		`INSERT INTO menu_options (id, dish_id, name, extra_price) VALUES ('opt1', 'dish1', 'Extra beef', 15000)`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(ctx, s); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
}

func repoRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}
	for i := 0; i < 6; i++ {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", os.ErrNotExist
}
