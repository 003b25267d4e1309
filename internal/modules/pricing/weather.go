// README: OpenWeatherMap client with a Redis-backed 10 minute cache.
package pricing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"platter/internal/types"
)

const weatherKeyTemplate = "weather:%.2f:%.2f"

type WeatherClient struct {
	http    *http.Client
	baseURL string
	apiKey  string
	rdb     *redis.Client
	ttl     time.Duration
	group   singleflight.Group
}

func NewWeatherClient(baseURL, apiKey string, timeout, ttl time.Duration, rdb *redis.Client) *WeatherClient {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &WeatherClient{
		http:    &http.Client{Timeout: timeout},
		baseURL: baseURL,
		apiKey:  apiKey,
		rdb:     rdb,
		ttl:     ttl,
	}
}

type owmResponse struct {
	Weather []struct {
		ID          int    `json:"id"`
		Description string `json:"description"`
	} `json:"weather"`
}

// Current returns the weather at p. Coordinates are bucketed to two decimals so
// nearby restaurants share a cache entry.
func (c *WeatherClient) Current(ctx context.Context, p types.Point) (Weather, error) {
	key := fmt.Sprintf(weatherKeyTemplate, p.Lat, p.Lng)
	if w, ok := c.cached(ctx, key); ok {
		return w, nil
	}
	ch := c.group.DoChan(key, func() (any, error) {
		// shared by every waiter, so it must outlive the caller that started it
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.http.Timeout)
		defer cancel()
		w, err := c.fetch(fctx, p)
		if err != nil {
			return Weather{}, err
		}
		if c.rdb != nil {
			if b, err := json.Marshal(w); err == nil {
				_ = c.rdb.Set(fctx, key, b, c.ttl).Err()
			}
		}
		return w, nil
	})
	select {
	case <-ctx.Done():
		return Weather{}, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return Weather{}, r.Err
		}
		return r.Val.(Weather), nil
	}
}

func (c *WeatherClient) cached(ctx context.Context, key string) (Weather, bool) {
	if c.rdb == nil {
		return Weather{}, false
	}
	b, err := c.rdb.Get(ctx, key).Bytes()
	if err != nil {
		return Weather{}, false
	}
	var w Weather
	if err := json.Unmarshal(b, &w); err != nil {
		return Weather{}, false
	}
	return w, true
}

func (c *WeatherClient) fetch(ctx context.Context, p types.Point) (Weather, error) {
	if c.apiKey == "" {
		return Weather{}, fmt.Errorf("weather api key not configured: %w", types.ErrExternalProvider)
	}
	q := url.Values{}
	q.Set("lat", strconv.FormatFloat(p.Lat, 'f', 4, 64))
	q.Set("lon", strconv.FormatFloat(p.Lng, 'f', 4, 64))
	q.Set("appid", c.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return Weather{}, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return Weather{}, fmt.Errorf("weather request: %v: %w", err, types.ErrExternalProvider)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Weather{}, fmt.Errorf("weather status %d: %w", resp.StatusCode, types.ErrExternalProvider)
	}
	var body owmResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return Weather{}, fmt.Errorf("weather decode: %v: %w", err, types.ErrExternalProvider)
	}
	if len(body.Weather) == 0 {
		return Weather{}, errors.Join(errors.New("weather response has no conditions"), types.ErrExternalProvider)
	}
	return Weather{ConditionCode: body.Weather[0].ID, Description: body.Weather[0].Description}, nil
}
