// README: Janitor sweep configuration, cancellation reasons and per-run report.
package janitor

import (
	"errors"
	"time"
)

const (
	ReasonRestaurantTimeout = "restaurant did not respond in time"
	ReasonNoDriver          = "no driver available"

	DefaultRestaurantTimeoutMinutes = 15
	DefaultDriverTimeoutMinutes     = 30

	sweepLockKey     = "janitor:sweep"
	defaultBatchSize = 200
)

var ErrLeaseHeld = errors.New("janitor lease held by another instance")

type Config struct {
	Interval      time.Duration
	AbandonWindow time.Duration
	LockTTL       time.Duration
	BatchSize     int
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = 5 * time.Minute
	}
	if c.AbandonWindow <= 0 {
		c.AbandonWindow = 15 * time.Minute
	}
	if c.LockTTL <= 0 {
		c.LockTTL = c.Interval - c.Interval/5
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaultBatchSize
	}
	return c
}

// SweepResult counts what one sweep did. Skipped orders had already left the
// state the sweep observed by the time it acted.
type SweepResult struct {
	Scanned int `json:"scanned"`
	Applied int `json:"applied"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
}

type Report struct {
	StartedAt         time.Time     `json:"started_at"`
	Duration          time.Duration `json:"duration"`
	AbandonedGateway  SweepResult   `json:"abandoned_gateway"`
	RestaurantTimeout SweepResult   `json:"restaurant_timeout"`
	DriverTimeout     SweepResult   `json:"driver_timeout"`
	Resettled         SweepResult   `json:"resettled"`
}
