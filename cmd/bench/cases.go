// README: Benchmark cases for the bid pipeline: submission, intake, the approval race and throughput.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"drivebid/internal/infra"
	"drivebid/migrations"
)

type Runner struct {
	cfg   Config
	httpc *http.Client
	db    *pgxpool.Pool
	redis *redis.Client

	runID     string
	ownerID   string
	vehicleID string
	renters   []string
	bookings  []string
}

type Result struct {
	Name    string
	Status  string
	Latency time.Duration
	Note    string
}

type TestCase struct {
	Name  string
	Focus string
	Run   func(ctx context.Context, r *Runner) Result
}

func NewRunner(cfg Config) *Runner {
	runID := fmt.Sprintf("%d", time.Now().UnixNano())
	r := &Runner{
		cfg:       cfg,
		httpc:     &http.Client{Timeout: 10 * time.Second},
		runID:     runID,
		ownerID:   "bench-owner-" + runID,
		vehicleID: "bench-vehicle-" + runID,
	}
	for i := 0; i < cfg.Concurrency; i++ {
		r.renters = append(r.renters, fmt.Sprintf("bench-renter-%s-%d", runID, i))
	}
	return r
}

func (r *Runner) RunAll(ctx context.Context) []Result {
	if r.cfg.DSN != "" {
		if db, err := pgxpool.New(ctx, r.cfg.DSN); err == nil {
			r.db = db
		}
	}
	if r.cfg.RedisAddr != "" {
		r.redis = redis.NewClient(&redis.Options{Addr: r.cfg.RedisAddr})
	}

	tests := r.cases()
	results := make([]Result, 0, len(tests))

	for _, tc := range tests {
		res := tc.Run(ctx, r)
		results = append(results, res)
		fmt.Printf("%-7s %s", res.Status, tc.Name)
		if res.Latency > 0 {
			fmt.Printf(" (%s)", res.Latency)
		}
		if res.Note != "" {
			fmt.Printf(" - %s", res.Note)
		}
		fmt.Println()
	}

	if r.db != nil {
		r.db.Close()
	}
	if r.redis != nil {
		_ = r.redis.Close()
	}

	return results
}

func (r *Runner) cases() []TestCase {
	base := r.cfg.BaseURL
	bidURL := base + "/bids/" + r.vehicleID
	validBid := map[string]any{
		"amount":    1000,
		"startDate": "2031-03-01",
		"endDate":   "2031-03-05",
	}
	return []TestCase{
		{
			Name:  "Env: Postgres connect",
			Focus: "database reachable",
			Run: func(ctx context.Context, r *Runner) Result {
				if r.db == nil {
					return Result{Status: "FAIL", Note: "db not configured"}
				}
				ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
				defer cancel()
				if err := r.db.Ping(ctx); err != nil {
					return Result{Status: "FAIL", Note: err.Error()}
				}
				return Result{Status: "PASS"}
			},
		},
		{
			Name:  "Env: Redis connect",
			Focus: "queue backend reachable",
			Run: func(ctx context.Context, r *Runner) Result {
				if r.redis == nil {
					return Result{Status: "FAIL", Note: "redis not configured"}
				}
				ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
				defer cancel()
				if err := r.redis.Ping(ctx).Err(); err != nil {
					return Result{Status: "FAIL", Note: err.Error()}
				}
				return Result{Status: "PASS"}
			},
		},
		{
			Name:  "Migration: apply (optional)",
			Focus: "optionally run migrations up",
			Run: func(ctx context.Context, r *Runner) Result {
				if !r.cfg.ApplyMigration {
					return Result{Status: "SKIP", Note: "apply-migration=false"}
				}
				if err := infra.MigrateUp(r.cfg.DSN); err != nil {
					return Result{Status: "FAIL", Note: err.Error()}
				}
				return Result{Status: "PASS"}
			},
		},
		{
			Name:  "Migration: tables exist",
			Focus: "every table from the embedded migrations exists",
			Run: func(ctx context.Context, r *Runner) Result {
				if r.db == nil {
					return Result{Status: "FAIL", Note: "db not configured"}
				}
				tables, err := extractTables(migrations.FS)
				if err != nil {
					return Result{Status: "FAIL", Note: err.Error()}
				}
				for _, t := range tables {
					var exists bool
					err := r.db.QueryRow(ctx,
						"SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name=$1)",
						t,
					).Scan(&exists)
					if err != nil {
						return Result{Status: "FAIL", Note: err.Error()}
					}
					if !exists {
						return Result{Status: "FAIL", Note: "missing table: " + t}
					}
				}
				return Result{Status: "PASS", Note: fmt.Sprintf("tables=%d", len(tables))}
			},
		},
		{
			Name:  "Seed: directory fixtures",
			Focus: "owner, renters and a fresh vehicle",
			Run:   seedDirectory,
		},
		{
			Name:  "API: health",
			Focus: "server reachable",
			Run: func(ctx context.Context, r *Runner) Result {
				start := time.Now()
				resp, err := r.httpc.Get(base + "/health")
				if err != nil {
					return Result{Status: "FAIL", Note: err.Error()}
				}
				_ = resp.Body.Close()
				if resp.StatusCode != http.StatusOK {
					return Result{Status: "FAIL", Note: fmt.Sprintf("status=%d", resp.StatusCode)}
				}
				return Result{Status: "PASS", Latency: time.Since(start)}
			},
		},

		// Submission
		httpCase("Bid: missing token -> 401", http.MethodPost, bidURL, "", validBid, []int{401}),
		httpCase("Bid: end before start -> 400", http.MethodPost, bidURL, r.renters[0], map[string]any{
			"amount":    1000,
			"startDate": "2031-03-05",
			"endDate":   "2031-03-01",
		}, []int{400}),
		httpCase("Bid: owner bids on own vehicle -> 400", http.MethodPost, bidURL, r.ownerID, validBid, []int{400}),
		httpCase("Bid: unknown vehicle -> 404", http.MethodPost, base+"/bids/bench-missing-"+r.runID, r.renters[0], validBid, []int{404}),
		{
			Name:  "Bid: overlapping bids accepted",
			Focus: "every renter bids on the same window",
			Run: func(ctx context.Context, r *Runner) Result {
				start := time.Now()
				for i, renter := range r.renters {
					status, err := r.do(ctx, http.MethodPost, bidURL, renter, validBid, map[string]string{
						"Idempotency-Key": fmt.Sprintf("bench-%s-%d", r.runID, i),
					})
					if err != nil {
						return Result{Status: "FAIL", Note: err.Error()}
					}
					if status != http.StatusAccepted {
						return Result{Status: "FAIL", Note: fmt.Sprintf("renter %d status=%d", i, status)}
					}
				}
				return Result{Status: "PASS", Latency: time.Since(start), Note: fmt.Sprintf("bids=%d", len(r.renters))}
			},
		},
		{
			Name:  "Bid: resubmit with same Idempotency-Key",
			Focus: "redelivered bid must not create a second booking",
			Run: func(ctx context.Context, r *Runner) Result {
				status, err := r.do(ctx, http.MethodPost, bidURL, r.renters[0], validBid, map[string]string{
					"Idempotency-Key": fmt.Sprintf("bench-%s-%d", r.runID, 0),
				})
				if err != nil {
					return Result{Status: "FAIL", Note: err.Error()}
				}
				if status != http.StatusAccepted {
					return Result{Status: "FAIL", Note: fmt.Sprintf("status=%d", status)}
				}
				return Result{Status: "PASS"}
			},
		},

		// Intake
		{
			Name:  "Intake: bids become pending bookings",
			Focus: "worker persists exactly one booking per bid",
			Run:   waitForIntake,
		},

		// Approval
		{
			Name:  "Approve: concurrent approvals of overlapping bids",
			Focus: "exactly one approval wins",
			Run:   concurrentApprove,
		},
		{
			Name:  "Approve: overlapping bids auto-rejected",
			Focus: "losers are rejected in the same transaction",
			Run: func(ctx context.Context, r *Runner) Result {
				if r.db == nil || len(r.bookings) == 0 {
					return Result{Status: "SKIP", Note: "no bookings"}
				}
				var approved, rejected, pending int
				err := r.db.QueryRow(ctx, `
					SELECT count(*) FILTER (WHERE status = 'approved'),
					       count(*) FILTER (WHERE status = 'rejected'),
					       count(*) FILTER (WHERE status = 'pending')
					FROM bookings WHERE vehicle_id = $1`, r.vehicleID).Scan(&approved, &rejected, &pending)
				if err != nil {
					return Result{Status: "FAIL", Note: err.Error()}
				}
				note := fmt.Sprintf("approved=%d rejected=%d pending=%d", approved, rejected, pending)
				if approved != 1 || pending != 0 || rejected != len(r.bookings)-1 {
					return Result{Status: "FAIL", Note: note}
				}
				return Result{Status: "PASS", Note: note}
			},
		},
		httpCase("Approve: late bid on booked window -> 202", http.MethodPost, bidURL, r.renters[1], validBid, []int{202}),

		// Performance
		{
			Name:  "Perf: bid submission throughput",
			Focus: "enqueue path under load",
			Run: func(ctx context.Context, r *Runner) Result {
				return perfLoad(ctx, r, bidURL, map[string]any{
					"amount":    800,
					"startDate": "2032-01-10",
					"endDate":   "2032-01-12",
				})
			},
		},
	}
}

func seedDirectory(ctx context.Context, r *Runner) Result {
	if r.db == nil {
		return Result{Status: "FAIL", Note: "db not configured"}
	}
	users := append([]string{r.ownerID}, r.renters...)
	for _, id := range users {
		_, err := r.db.Exec(ctx, `
			INSERT INTO users (id, username, email, name, city)
			VALUES ($1, $1, $1 || '@bench.local', $1, 'Bench')
			ON CONFLICT (id) DO NOTHING`, id)
		if err != nil {
			return Result{Status: "FAIL", Note: err.Error()}
		}
	}
	_, err := r.db.Exec(ctx, `
		INSERT INTO vehicles (id, owner_id, name, company, model_year, price, city, status)
		VALUES ($1, $2, 'Bench Sedan', 'Bench', 2024, 1000, 'Bench', 'available')
		ON CONFLICT (id) DO NOTHING`, r.vehicleID, r.ownerID)
	if err != nil {
		return Result{Status: "FAIL", Note: err.Error()}
	}
	return Result{Status: "PASS", Note: "vehicle=" + r.vehicleID}
}

func waitForIntake(ctx context.Context, r *Runner) Result {
	if r.db == nil {
		return Result{Status: "FAIL", Note: "db not configured"}
	}
	want := len(r.renters)
	start := time.Now()
	deadline := start.Add(r.cfg.IntakeWait)
	for {
		rows, err := r.db.Query(ctx, `SELECT id::text FROM bookings WHERE vehicle_id = $1 ORDER BY created_at`, r.vehicleID)
		if err != nil {
			return Result{Status: "FAIL", Note: err.Error()}
		}
		var ids []string
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return Result{Status: "FAIL", Note: err.Error()}
			}
			ids = append(ids, id)
		}
		rows.Close()
		if len(ids) > want {
			return Result{Status: "FAIL", Note: fmt.Sprintf("duplicate bookings: got %d want %d", len(ids), want)}
		}
		if len(ids) == want {
			r.bookings = ids
			return Result{Status: "PASS", Latency: time.Since(start), Note: fmt.Sprintf("bookings=%d", want)}
		}
		if time.Now().After(deadline) {
			return Result{Status: "PENDING", Note: fmt.Sprintf("bookings=%d/%d; is a worker running?", len(ids), want)}
		}
		select {
		case <-ctx.Done():
			return Result{Status: "FAIL", Note: ctx.Err().Error()}
		case <-time.After(200 * time.Millisecond):
		}
	}
}

func concurrentApprove(ctx context.Context, r *Runner) Result {
	if len(r.bookings) == 0 {
		return Result{Status: "SKIP", Note: "no bookings"}
	}
	var (
		wg                    sync.WaitGroup
		mu                    sync.Mutex
		succ, conflict, other int
	)
	start := time.Now()
	for _, id := range r.bookings {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			status, err := r.do(ctx, http.MethodPatch, r.cfg.BaseURL+"/bookings/"+id+"/status", r.ownerID,
				map[string]any{"status": "approved"}, nil)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				other++
			case status == http.StatusOK:
				succ++
			case status == http.StatusConflict:
				conflict++
			default:
				other++
			}
		}(id)
	}
	wg.Wait()

	note := fmt.Sprintf("success=%d conflict=%d other=%d", succ, conflict, other)
	if succ != 1 || other != 0 {
		return Result{Status: "FAIL", Latency: time.Since(start), Note: note}
	}
	return Result{Status: "PASS", Latency: time.Since(start), Note: note}
}

func perfLoad(ctx context.Context, r *Runner, url string, payload any) Result {
	end := time.Now().Add(r.cfg.Duration)
	var count, errCount int64
	var mu sync.Mutex
	wg := sync.WaitGroup{}

	for i := 0; i < r.cfg.Concurrency; i++ {
		wg.Add(1)
		go func(renter string) {
			defer wg.Done()
			for time.Now().Before(end) {
				status, err := r.do(ctx, http.MethodPost, url, renter, payload, nil)
				mu.Lock()
				if err != nil || status != http.StatusAccepted {
					errCount++
				} else {
					count++
				}
				mu.Unlock()
			}
		}(r.renters[i%len(r.renters)])
	}
	wg.Wait()

	if count == 0 {
		return Result{Status: "FAIL", Note: "no requests completed"}
	}
	rps := float64(count) / r.cfg.Duration.Seconds()
	return Result{Status: "PASS", Note: fmt.Sprintf("rps=%.1f errors=%d", rps, errCount)}
}

func httpCase(name, method, url, uid string, body any, okStatuses []int) TestCase {
	return TestCase{
		Name:  name,
		Focus: "HTTP API",
		Run: func(ctx context.Context, r *Runner) Result {
			start := time.Now()
			status, err := r.do(ctx, method, url, uid, body, nil)
			if err != nil {
				return Result{Status: "FAIL", Note: err.Error()}
			}
			latency := time.Since(start)
			if contains(okStatuses, status) {
				return Result{Status: "PASS", Latency: latency, Note: fmt.Sprintf("status=%d", status)}
			}
			return Result{Status: "FAIL", Latency: latency, Note: fmt.Sprintf("status=%d", status)}
		},
	}
}

// do sends body as JSON, authenticated as uid through the dev verifier when uid is set.
func (r *Runner) do(ctx context.Context, method, url, uid string, body any, headers map[string]string) (int, error) {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return 0, err
		}
		reader = strings.NewReader(string(b))
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	if uid != "" {
		req.Header.Set("Authorization", "Bearer dev:"+uid)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := r.httpc.Do(req)
	if err != nil {
		return 0, err
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
	return resp.StatusCode, nil
}

func contains(list []int, v int) bool {
	for _, i := range list {
		if i == v {
			return true
		}
	}
	return false
}

var createTableRe = regexp.MustCompile(`(?i)create\s+table\s+if\s+not\s+exists\s+([a-zA-Z0-9_]+)`)

func extractTables(fsys fs.FS) ([]string, error) {
	files, err := fs.Glob(fsys, "*.up.sql")
	if err != nil {
		return nil, err
	}
	var tables []string
	for _, f := range files {
		b, err := fs.ReadFile(fsys, f)
		if err != nil {
			return nil, err
		}
		for _, m := range createTableRe.FindAllStringSubmatch(string(b), -1) {
			tables = append(tables, m[1])
		}
	}
	return tables, nil
}
