// README: Typed, TTL-cached read access to system configuration.
package sysconfig

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"
)

var ErrBadRequest = errors.New("bad config request")

type Repository interface {
	List(ctx context.Context) ([]Entry, error)
	Upsert(ctx context.Context, key, value, updatedBy string) error
}

// Provider serves configuration from an in-memory snapshot of the whole table.
// The snapshot is reloaded after ttl; a failed reload keeps the stale snapshot.
type Provider struct {
	store Repository
	ttl   time.Duration
	now   func() time.Time
	log   *slog.Logger

	mu       sync.RWMutex
	values   map[string]string
	loadedAt time.Time
	group    singleflight.Group
}

func NewProvider(store Repository, ttl time.Duration, log *slog.Logger) *Provider {
	if log == nil {
		log = slog.Default()
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Provider{store: store, ttl: ttl, now: time.Now, log: log}
}

// Get returns the raw value for key, or def when unset.
func (p *Provider) Get(ctx context.Context, key, def string) string {
	if p == nil {
		return def
	}
	values := p.snapshot(ctx)
	if v, ok := values[key]; ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return def
}

func (p *Provider) Float(ctx context.Context, key string, def float64) float64 {
	v := p.Get(ctx, key, "")
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		p.log.Warn("unparseable config value, using default", "key", key, "value", v)
		return def
	}
	return f
}

func (p *Provider) Int(ctx context.Context, key string, def int) int {
	v := p.Get(ctx, key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		p.log.Warn("unparseable config value, using default", "key", key, "value", v)
		return def
	}
	return n
}

func (p *Provider) Decimal(ctx context.Context, key string, def decimal.Decimal) decimal.Decimal {
	v := p.Get(ctx, key, "")
	if v == "" {
		return def
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		p.log.Warn("unparseable config value, using default", "key", key, "value", v)
		return def
	}
	return d
}

// Minutes reads an integer minute count as a duration.
func (p *Provider) Minutes(ctx context.Context, key string, def int) time.Duration {
	n := p.Int(ctx, key, def)
	if n <= 0 {
		n = def
	}
	return time.Duration(n) * time.Minute
}

func (p *Provider) Set(ctx context.Context, key, value, updatedBy string) error {
	if strings.TrimSpace(key) == "" || updatedBy == "" {
		return ErrBadRequest
	}
	if err := p.store.Upsert(ctx, key, value, updatedBy); err != nil {
		return err
	}
	p.Invalidate()
	return nil
}

// Invalidate forces the next read to reload from the store.
func (p *Provider) Invalidate() {
	p.mu.Lock()
	p.loadedAt = time.Time{}
	p.mu.Unlock()
}

func (p *Provider) snapshot(ctx context.Context) map[string]string {
	p.mu.RLock()
	values, loadedAt := p.values, p.loadedAt
	p.mu.RUnlock()
	if values != nil && !loadedAt.IsZero() && p.now().Sub(loadedAt) < p.ttl {
		return values
	}

	v, err, _ := p.group.Do("reload", func() (any, error) {
		entries, err := p.store.List(ctx)
		if err != nil {
			return nil, err
		}
		fresh := make(map[string]string, len(entries))
		for _, e := range entries {
			fresh[e.Key] = e.Value
		}
		p.mu.Lock()
		p.values = fresh
		p.loadedAt = p.now()
		p.mu.Unlock()
		return fresh, nil
	})
	if err != nil {
		p.log.Warn("config reload failed, serving cached values", "err", err)
		return values
	}
	return v.(map[string]string)
}
