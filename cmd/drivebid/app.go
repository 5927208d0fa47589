// README: Shared wiring for the CLI subcommands.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"drivebid/internal/config"
	"drivebid/internal/infra"
	"drivebid/internal/modules/bid"
	"drivebid/internal/modules/bidqueue"
	"drivebid/internal/modules/booking"
	"drivebid/internal/modules/directory"
	"drivebid/internal/modules/intake"
	"drivebid/internal/modules/notify"
	"drivebid/internal/modules/pricing"
)

type app struct {
	cfg     config.Config
	log     *slog.Logger
	pool    *pgxpool.Pool
	redis   *redis.Client
	closers []func()
}

func newApp(configPath string) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel()}))
	slog.SetDefault(logger)
	return &app{cfg: cfg, log: logger}, nil
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func (a *app) db(ctx context.Context) (*pgxpool.Pool, error) {
	if a.pool != nil {
		return a.pool, nil
	}
	pool, err := infra.NewDB(ctx, a.cfg.DB.DSN, a.cfg.DB.MaxConns)
	if err != nil {
		return nil, err
	}
	a.pool = pool
	a.closers = append(a.closers, pool.Close)
	return pool, nil
}

// sharedQueue returns the queue for subcommands that only see messages
// produced by another process; the in-process memory queue cannot serve them.
func (a *app) sharedQueue(ctx context.Context, command string) (bidqueue.Queue, error) {
	if a.cfg.Queue.Backend == "memory" {
		return nil, fmt.Errorf("%s needs a shared queue; queue.backend=memory only works with serve --with-worker", command)
	}
	return a.queue(ctx)
}

func (a *app) queue(ctx context.Context) (bidqueue.Queue, error) {
	if a.cfg.Queue.Backend == "memory" {
		a.log.Warn("using in-process bid queue; messages are lost on restart")
		return bidqueue.NewMemoryQueue(a.cfg.Queue.Name), nil
	}
	if a.redis == nil {
		client, err := infra.NewRedis(ctx, a.cfg.Redis.Addr, a.cfg.Redis.Password, a.cfg.Redis.DB)
		if err != nil {
			return nil, err
		}
		a.redis = client
		a.closers = append(a.closers, func() { _ = client.Close() })
	}
	return bidqueue.NewStore(a.redis, a.cfg.Queue.Name), nil
}

func (a *app) notifier() *notify.Dispatcher {
	var sink notify.Sink
	if len(a.cfg.Kafka.Brokers) > 0 {
		ks := notify.NewKafkaSink(infra.NewKafkaWriter(a.cfg.Kafka.Brokers, a.cfg.Kafka.Topic))
		a.closers = append(a.closers, func() { _ = ks.Close() })
		sink = ks
	} else {
		a.log.Info("no kafka brokers configured; notifications are logged only")
		sink = notify.NewLogSink(a.log)
	}
	d := notify.NewDispatcher(sink, a.log,
		notify.WithRetries(a.cfg.Notify.Retries),
		notify.WithBackoff(a.cfg.Notify.Backoff),
	)
	// the sink is closed after in-flight deliveries finish
	a.closers = append(a.closers, d.Close)
	return d
}

func (a *app) pricing(pool *pgxpool.Pool) *pricing.Service {
	return pricing.NewService(pricing.NewStore(pool), pricing.Config{
		PlatformFeePct: a.cfg.Pricing.PlatformFeePct,
		FreeDistance:   a.cfg.Pricing.FreeDistance,
		ExcessRate:     a.cfg.Pricing.ExcessRate,
	})
}

func (a *app) bookings(pool *pgxpool.Pool, n booking.Notifier) *booking.Service {
	return booking.NewService(booking.NewStore(pool), a.pricing(pool), booking.WithNotifier(n))
}

func (a *app) bids(pool *pgxpool.Pool, q bidqueue.Queue) *bid.Service {
	return bid.NewService(directory.NewStore(pool), q)
}

func (a *app) worker(q bidqueue.Queue, bookings intake.Persister, n intake.Notifier) *intake.Worker {
	return intake.NewWorker(q, bookings, n, intake.Config{
		Concurrency:       a.cfg.Intake.Concurrency,
		BatchSize:         a.cfg.Queue.Batch,
		WaitTime:          a.cfg.Queue.Wait,
		VisibilityTimeout: a.cfg.Queue.Visibility,
		HandleTimeout:     a.cfg.Intake.HandleTimeout,
		MaxReceives:       a.cfg.Intake.MaxReceives,
	}, a.log)
}

func (a *app) verifier(ctx context.Context) (infra.TokenVerifier, error) {
	if a.cfg.Auth.Mode == "dev" {
		a.log.Warn("dev auth enabled; bearer tokens are not verified")
		return infra.NewDevVerifier(), nil
	}
	if a.cfg.Firebase.ProjectID == "" {
		return nil, fmt.Errorf("DRIVEBID_FIREBASE_PROJECT_ID is required when auth mode is firebase")
	}
	v, err := infra.NewFirebaseVerifier(ctx, a.cfg.Firebase.ProjectID, a.cfg.Firebase.CredentialsFile)
	if err != nil {
		return nil, fmt.Errorf("firebase init: %w", err)
	}
	return v, nil
}
