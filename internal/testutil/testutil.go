// README: Helpers for tests that need a real Postgres or Redis.
package testutil

import (
	"context"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"drivebid/internal/infra"
)

const (
	EnvTestDSN   = "DRIVEBID_TEST_DSN"
	EnvTestRedis = "DRIVEBID_TEST_REDIS"
)

// NewTestPool connects to DRIVEBID_TEST_DSN, migrates the schema and empties
// every table. The test is skipped when the variable is unset.
func NewTestPool(t *testing.T) *pgxpool.Pool {
	t.Helper()

	dsn := os.Getenv(EnvTestDSN)
	if dsn == "" {
		t.Skipf("%s not set; skipping DB-backed test", EnvTestDSN)
	}
	if err := infra.MigrateUp(dsn); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}

	ctx := context.Background()
	db, err := infra.NewDB(ctx, dsn, 20)
	if err != nil {
		t.Fatalf("connect db: %v", err)
	}
	t.Cleanup(db.Close)

	if _, err := db.Exec(ctx, `TRUNCATE TABLE booking_state_events, bookings, vehicles, users, taxes, platform_settings RESTART IDENTITY CASCADE`); err != nil {
		t.Fatalf("truncate tables: %v", err)
	}
	return db
}

// NewTestRedis connects to DRIVEBID_TEST_REDIS (host:port). The test is
// skipped when the variable is unset.
func NewTestRedis(t *testing.T) *redis.Client {
	t.Helper()

	addr := os.Getenv(EnvTestRedis)
	if addr == "" {
		t.Skipf("%s not set; skipping Redis-backed test", EnvTestRedis)
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Fatalf("ping redis: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return client
}
