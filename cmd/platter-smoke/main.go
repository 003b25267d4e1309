// README: Smoke runner against a live deployment; checks infra, drives order flows and prints results.
package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
)

func main() {
	_ = godotenv.Load()
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
	defer cancel()

	runner := NewRunner(cfg)
	results := runner.RunAll(ctx)

	fmt.Println("\n== Summary ==")
	pass, fail, skipped := 0, 0, 0
	for _, r := range results {
		switch r.Status {
		case StatusPass:
			pass++
		case StatusFail:
			fail++
		case StatusSkip:
			skipped++
		}
	}
	fmt.Printf("PASS=%d FAIL=%d SKIP=%d\n", pass, fail, skipped)
	if fail > 0 || (cfg.Strict && skipped > 0) {
		os.Exit(1)
	}
}

type Config struct {
	BaseURL        string
	DSN            string
	RedisAddr      string
	MigrationPath  string
	ApplyMigration bool
	Strict         bool
	Timeout        time.Duration
	Concurrency    int
	Duration       time.Duration

	// seeded reference data used by the order flows
	CustomerID   string
	RestaurantID string
	DishID       string
	DriverID     string
}

func loadConfig() (Config, error) {
	var cfg Config
	fs := pflag.NewFlagSet("platter-smoke", pflag.ContinueOnError)
	fs.StringVar(&cfg.BaseURL, "base-url", envOrDefault("PLATTER_SMOKE_BASE_URL", "http://localhost:8080"), "API base URL")
	fs.StringVar(&cfg.DSN, "dsn", envOrDefault("PLATTER_DB_DSN", ""), "Postgres DSN")
	fs.StringVar(&cfg.RedisAddr, "redis", envOrDefault("PLATTER_REDIS_ADDR", "localhost:6379"), "Redis address")
	fs.StringVar(&cfg.MigrationPath, "migration", "migrations/0001_init.sql", "migration SQL path")
	fs.BoolVar(&cfg.ApplyMigration, "apply-migration", false, "apply migration SQL before the checks")
	fs.BoolVar(&cfg.Strict, "strict", false, "fail when any case is skipped")
	fs.DurationVar(&cfg.Timeout, "timeout", 60*time.Second, "total timeout")
	fs.IntVar(&cfg.Concurrency, "concurrency", 16, "goroutines for race and load cases")
	fs.DurationVar(&cfg.Duration, "duration", 5*time.Second, "duration of the load case")
	fs.StringVar(&cfg.CustomerID, "customer", "", "seeded customer id")
	fs.StringVar(&cfg.RestaurantID, "restaurant", "", "seeded restaurant id")
	fs.StringVar(&cfg.DishID, "dish", "", "seeded available dish id of the restaurant")
	fs.StringVar(&cfg.DriverID, "driver", "", "seeded driver id")
	if err := fs.Parse(os.Args[1:]); err != nil {
		return cfg, err
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return cfg, nil
}

func (c Config) seeded() bool {
	return c.CustomerID != "" && c.RestaurantID != "" && c.DishID != "" && c.DriverID != ""
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
