package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Janitor.Interval != 5*time.Minute {
		t.Errorf("janitor interval = %s, want 5m", cfg.Janitor.Interval)
	}
	if cfg.Janitor.AbandonWindow != 15*time.Minute {
		t.Errorf("abandon window = %s, want 15m", cfg.Janitor.AbandonWindow)
	}
	if cfg.Weather.CacheTTL != 10*time.Minute {
		t.Errorf("weather cache ttl = %s, want 10m", cfg.Weather.CacheTTL)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PLATTER_JANITOR_INTERVAL", "90s")
	t.Setenv("PLATTER_KAFKA_BROKERS", "k1:9092, k2:9092,,")
	t.Setenv("PLATTER_PER_KM_FEE", "not-a-number")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Janitor.Interval != 90*time.Second {
		t.Errorf("janitor interval = %s, want 90s", cfg.Janitor.Interval)
	}
	if len(cfg.Events.KafkaBrokers) != 2 || cfg.Events.KafkaBrokers[1] != "k2:9092" {
		t.Errorf("brokers = %v", cfg.Events.KafkaBrokers)
	}
	if cfg.Pricing.PerKmFee != 5000 {
		t.Errorf("unparseable fee should fall back to default, got %v", cfg.Pricing.PerKmFee)
	}
}

func TestJanitorEmbeddedFlag(t *testing.T) {
	cfg, _ := Load()
	if !cfg.Janitor.Embedded {
		t.Error("janitor should run embedded by default")
	}
	t.Setenv("PLATTER_JANITOR_EMBEDDED", "false")
	cfg, _ = Load()
	if cfg.Janitor.Embedded {
		t.Error("PLATTER_JANITOR_EMBEDDED=false should disable the embedded janitor")
	}
}
