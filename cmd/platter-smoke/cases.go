// README: Smoke cases: infra reachability, order lifecycle, payment, settlement races and quote load.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"regexp"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"platter/internal/infra"
)

const (
	StatusPass = "PASS"
	StatusFail = "FAIL"
	StatusSkip = "SKIP"
)

type Runner struct {
	cfg   Config
	httpc *http.Client
	db    *pgxpool.Pool
	redis *redis.Client
}

type Result struct {
	Status  string
	Latency time.Duration
	Note    string
}

type TestCase struct {
	Name string
	Run  func(ctx context.Context, r *Runner) Result
}

func NewRunner(cfg Config) *Runner {
	return &Runner{
		cfg:   cfg,
		httpc: &http.Client{Timeout: 10 * time.Second},
	}
}

func (r *Runner) RunAll(ctx context.Context) []Result {
	if r.cfg.DSN != "" {
		if db, err := pgxpool.New(ctx, r.cfg.DSN); err == nil {
			r.db = db
			defer db.Close()
		}
	}
	if r.cfg.RedisAddr != "" {
		r.redis = redis.NewClient(&redis.Options{Addr: r.cfg.RedisAddr})
		defer r.redis.Close()
	}

	tests := r.cases()
	results := make([]Result, 0, len(tests))
	for _, tc := range tests {
		res := tc.Run(ctx, r)
		results = append(results, res)
		fmt.Printf("%-5s %s", res.Status, tc.Name)
		if res.Latency > 0 {
			fmt.Printf(" (%s)", res.Latency.Round(time.Millisecond))
		}
		if res.Note != "" {
			fmt.Printf(" - %s", res.Note)
		}
		fmt.Println()
	}
	return results
}

func (r *Runner) cases() []TestCase {
	return []TestCase{
		{Name: "Env: Postgres connect", Run: func(ctx context.Context, r *Runner) Result {
			if r.db == nil {
				return skip("dsn not configured")
			}
			ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
			defer cancel()
			return fromErr(r.db.Ping(ctx))
		}},
		{Name: "Env: Redis connect", Run: func(ctx context.Context, r *Runner) Result {
			if r.redis == nil {
				return skip("redis not configured")
			}
			ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
			defer cancel()
			return fromErr(r.redis.Ping(ctx).Err())
		}},
		{Name: "Migration: apply", Run: func(ctx context.Context, r *Runner) Result {
			if !r.cfg.ApplyMigration || r.db == nil {
				return skip("apply-migration=false")
			}
			content, err := os.ReadFile(r.cfg.MigrationPath)
			if err != nil {
				return fail(err.Error())
			}
			for _, stmt := range infra.SplitSQL(string(content)) {
				if _, err := r.db.Exec(ctx, stmt); err != nil {
					return fail(err.Error())
				}
			}
			return Result{Status: StatusPass}
		}},
		{Name: "Migration: tables exist", Run: checkTables},
		{Name: "API: health", Run: func(ctx context.Context, r *Runner) Result {
			return r.expect(ctx, http.MethodGet, "/health", nil, http.StatusOK)
		}},
		{Name: "Order: missing fields -> 400", Run: func(ctx context.Context, r *Runner) Result {
			return r.expect(ctx, http.MethodPost, "/api/orders", map[string]any{}, http.StatusBadRequest)
		}},
		{Name: "Order: unknown id -> 404", Run: func(ctx context.Context, r *Runner) Result {
			return r.expect(ctx, http.MethodGet, "/api/orders/does-not-exist", nil, http.StatusNotFound)
		}},
		{Name: "Order: COD lifecycle settles", Run: codLifecycle},
		{Name: "Order: concurrent DELIVERED settles once", Run: concurrentDelivery},
		{Name: "Payment: wallet pay then cancel refunds", Run: walletPayAndRefund},
		{Name: "Dispatch: rejection set carries a TTL", Run: rejectionTTL},
		{Name: "Perf: quote throughput", Run: quoteLoad},
	}
}

func checkTables(ctx context.Context, r *Runner) Result {
	if r.db == nil {
		return skip("dsn not configured")
	}
	b, err := os.ReadFile(r.cfg.MigrationPath)
	if err != nil {
		return fail(err.Error())
	}
	re := regexp.MustCompile(`(?i)create\s+table\s+if\s+not\s+exists\s+([a-zA-Z0-9_]+)`)
	for _, m := range re.FindAllStringSubmatch(string(b), -1) {
		var exists bool
		err := r.db.QueryRow(ctx,
			"SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name=$1)", m[1],
		).Scan(&exists)
		if err != nil {
			return fail(err.Error())
		}
		if !exists {
			return fail("missing table: " + m[1])
		}
	}
	return Result{Status: StatusPass}
}

func codLifecycle(ctx context.Context, r *Runner) Result {
	if !r.cfg.seeded() {
		return skip("seed ids not provided")
	}
	start := time.Now()
	id, err := r.createOrder(ctx, "COD")
	if err != nil {
		return fail(err.Error())
	}
	if err := r.advance(ctx, id, "CONFIRMED", "PREPARING"); err != nil {
		return fail(err.Error())
	}
	if err := r.assign(ctx, id); err != nil {
		return fail(err.Error())
	}
	if err := r.advance(ctx, id, "DELIVERED"); err != nil {
		return fail(err.Error())
	}
	code, body, err := r.call(ctx, http.MethodGet, "/api/orders/"+id+"/earnings", nil)
	if err != nil {
		return fail(err.Error())
	}
	if code != http.StatusOK {
		return fail(fmt.Sprintf("earnings status=%d", code))
	}
	code, _, err = r.call(ctx, http.MethodPost, "/api/orders/"+id+"/status", map[string]any{"status": "CANCELLED"})
	if err != nil {
		return fail(err.Error())
	}
	if code != http.StatusConflict {
		return fail(fmt.Sprintf("cancel after delivery status=%d, want 409", code))
	}
	return Result{Status: StatusPass, Latency: time.Since(start), Note: fmt.Sprintf("platform=%v", body["platform_total_earning"])}
}

func concurrentDelivery(ctx context.Context, r *Runner) Result {
	if !r.cfg.seeded() {
		return skip("seed ids not provided")
	}
	id, err := r.createOrder(ctx, "COD")
	if err != nil {
		return fail(err.Error())
	}
	if err := r.advance(ctx, id, "CONFIRMED", "PREPARING"); err != nil {
		return fail(err.Error())
	}
	if err := r.assign(ctx, id); err != nil {
		return fail(err.Error())
	}

	var wins, conflicts atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < r.cfg.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			code, _, err := r.call(ctx, http.MethodPost, "/api/orders/"+id+"/status", map[string]any{"status": "DELIVERED"})
			if err != nil {
				return
			}
			switch code {
			case http.StatusOK:
				wins.Add(1)
			case http.StatusConflict:
				conflicts.Add(1)
			}
		}()
	}
	wg.Wait()
	if wins.Load() != 1 {
		return fail(fmt.Sprintf("wins=%d conflicts=%d", wins.Load(), conflicts.Load()))
	}
	if r.db != nil {
		var n int
		if err := r.db.QueryRow(ctx, "SELECT count(*) FROM order_earnings_summaries WHERE order_id=$1", id).Scan(&n); err != nil {
			return fail(err.Error())
		}
		if n != 1 {
			return fail(fmt.Sprintf("summaries=%d", n))
		}
	}
	return Result{Status: StatusPass, Note: fmt.Sprintf("conflicts=%d", conflicts.Load())}
}

func walletPayAndRefund(ctx context.Context, r *Runner) Result {
	if !r.cfg.seeded() {
		return skip("seed ids not provided")
	}
	id, err := r.createOrder(ctx, "WALLET")
	if err != nil {
		return fail(err.Error())
	}
	_, o, err := r.call(ctx, http.MethodGet, "/api/orders/"+id, nil)
	if err != nil {
		return fail(err.Error())
	}
	total, _ := o["total_amount"].(string)
	code, _, err := r.call(ctx, http.MethodPost, "/api/wallets/"+r.cfg.CustomerID+"/deposit", map[string]any{"amount": total})
	if err != nil || code != http.StatusOK {
		return fail(fmt.Sprintf("deposit status=%d err=%v", code, err))
	}
	before, err := r.balance(ctx, r.cfg.CustomerID)
	if err != nil {
		return fail(err.Error())
	}
	code, _, err = r.call(ctx, http.MethodPost, "/api/orders/"+id+"/pay/wallet", nil)
	if err != nil || code != http.StatusOK {
		return fail(fmt.Sprintf("pay status=%d err=%v", code, err))
	}
	code, _, err = r.call(ctx, http.MethodPost, "/api/orders/"+id+"/cancel", map[string]any{"reason": "smoke"})
	if err != nil || code != http.StatusOK {
		return fail(fmt.Sprintf("cancel status=%d err=%v", code, err))
	}
	after, err := r.balance(ctx, r.cfg.CustomerID)
	if err != nil {
		return fail(err.Error())
	}
	if after != before {
		return fail(fmt.Sprintf("balance %s before pay, %s after refund", before, after))
	}
	return Result{Status: StatusPass, Note: "balance " + after}
}

func rejectionTTL(ctx context.Context, r *Runner) Result {
	if r.redis == nil {
		return skip("redis not configured")
	}
	id := fmt.Sprintf("smoke-%d", time.Now().UnixNano())
	code, _, err := r.call(ctx, http.MethodPost, "/api/orders/"+id+"/rejections", map[string]any{"driver_id": "smoke-driver"})
	if err != nil || code != http.StatusCreated {
		return fail(fmt.Sprintf("status=%d err=%v", code, err))
	}
	ttl, err := r.redis.TTL(ctx, "rejections:order:"+id).Result()
	if err != nil {
		return fail(err.Error())
	}
	if ttl <= 0 {
		return fail("rejection set has no expiry")
	}
	return Result{Status: StatusPass, Note: "ttl=" + ttl.Round(time.Minute).String()}
}

func quoteLoad(ctx context.Context, r *Runner) Result {
	path := "/api/pricing/quote?from_lat=10.7769&from_lng=106.7009&to_lat=10.8231&to_lng=106.6297"
	end := time.Now().Add(r.cfg.Duration)
	var count, errCount atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < r.cfg.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for time.Now().Before(end) && ctx.Err() == nil {
				code, _, err := r.call(ctx, http.MethodGet, path, nil)
				if err != nil || code != http.StatusOK {
					errCount.Add(1)
					continue
				}
				count.Add(1)
			}
		}()
	}
	wg.Wait()
	if count.Load() == 0 {
		return fail("no requests completed")
	}
	rps := float64(count.Load()) / r.cfg.Duration.Seconds()
	return Result{Status: StatusPass, Note: fmt.Sprintf("rps=%.1f errors=%d", rps, errCount.Load())}
}

func (r *Runner) createOrder(ctx context.Context, method string) (string, error) {
	code, body, err := r.call(ctx, http.MethodPost, "/api/orders", map[string]any{
		"customer_id":      r.cfg.CustomerID,
		"restaurant_id":    r.cfg.RestaurantID,
		"payment_method":   method,
		"delivery_lat":     10.8231,
		"delivery_lng":     106.6297,
		"delivery_address": "smoke test",
		"items":            []map[string]any{{"dish_id": r.cfg.DishID, "quantity": 1}},
	})
	if err != nil {
		return "", err
	}
	if code != http.StatusCreated {
		return "", fmt.Errorf("create order status=%d body=%v", code, body)
	}
	id, _ := body["id"].(string)
	return id, nil
}

func (r *Runner) advance(ctx context.Context, id string, statuses ...string) error {
	for _, st := range statuses {
		code, body, err := r.call(ctx, http.MethodPost, "/api/orders/"+id+"/status", map[string]any{"status": st, "actor_type": "restaurant"})
		if err != nil {
			return err
		}
		if code != http.StatusOK {
			return fmt.Errorf("%s: status=%d body=%v", st, code, body)
		}
	}
	return nil
}

func (r *Runner) assign(ctx context.Context, id string) error {
	code, body, err := r.call(ctx, http.MethodPost, "/api/orders/"+id+"/assign", map[string]any{"driver_id": r.cfg.DriverID})
	if err != nil {
		return err
	}
	if code != http.StatusOK {
		return fmt.Errorf("assign: status=%d body=%v", code, body)
	}
	return nil
}

func (r *Runner) balance(ctx context.Context, owner string) (string, error) {
	code, body, err := r.call(ctx, http.MethodGet, "/api/wallets/"+owner, nil)
	if err != nil {
		return "", err
	}
	if code != http.StatusOK {
		return "", fmt.Errorf("wallet status=%d", code)
	}
	w, _ := body["wallet"].(map[string]any)
	bal, _ := w["balance"].(string)
	return bal, nil
}

func (r *Runner) expect(ctx context.Context, method, path string, body any, want int) Result {
	start := time.Now()
	code, _, err := r.call(ctx, method, path, body)
	if err != nil {
		return fail(err.Error())
	}
	res := Result{Status: StatusPass, Latency: time.Since(start), Note: fmt.Sprintf("status=%d", code)}
	if code != want {
		res.Status = StatusFail
	}
	return res
}

func (r *Runner) call(ctx context.Context, method, path string, body any) (int, map[string]any, error) {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return 0, nil, err
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, r.cfg.BaseURL+path, reader)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := r.httpc.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp.StatusCode, out, nil
}

func fromErr(err error) Result {
	if err != nil {
		return fail(err.Error())
	}
	return Result{Status: StatusPass}
}

func fail(note string) Result { return Result{Status: StatusFail, Note: note} }

func skip(note string) Result { return Result{Status: StatusSkip, Note: note} }
