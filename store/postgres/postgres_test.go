//go:build integration

package postgres_test

import (
	"context"
	"fmt"
	"os"
	"sync/atomic"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ineyio/creditgate"
	storepg "github.com/ineyio/creditgate/store/postgres"
	"github.com/ineyio/creditgate/store/storetest"
)

var tableSeq atomic.Int64

func newTestPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		dsn = "postgres://localhost:5432/creditgate_test?sslmode=disable"
	}
	pool, err := pgxpool.New(context.Background(), dsn)
	if err != nil {
		t.Fatalf("pgxpool: %v", err)
	}
	if err := pool.Ping(context.Background()); err != nil {
		t.Fatalf("postgres not available: %v", err)
	}
	t.Cleanup(func() { pool.Close() })
	return pool
}

func newTestStore(t *testing.T, pool *pgxpool.Pool) *storepg.Store {
	t.Helper()
	// Subtest names contain '/', so number the tables instead.
	prefix := fmt.Sprintf("test_%d_%d_", os.Getpid(), tableSeq.Add(1))
	s := storepg.New(pool, storepg.WithTablePrefix(prefix))

	ctx := context.Background()
	if err := s.EnsureSchema(ctx); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}
	t.Cleanup(func() {
		pool.Exec(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %sentitlements", prefix))
	})
	return s
}

func TestStore(t *testing.T) {
	pool := newTestPool(t)
	storetest.Run(t, func(t *testing.T) creditgate.DocumentStore {
		return newTestStore(t, pool)
	})
}

func TestEnsureSchemaIdempotent(t *testing.T) {
	pool := newTestPool(t)
	store := newTestStore(t, pool)

	if err := store.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("second ensure schema: %v", err)
	}
}

func TestLegacyRowReadsAbsentFields(t *testing.T) {
	pool := newTestPool(t)
	prefix := fmt.Sprintf("test_%d_%d_", os.Getpid(), tableSeq.Add(1))
	store := storepg.New(pool, storepg.WithTablePrefix(prefix))
	ctx := context.Background()
	if err := store.EnsureSchema(ctx); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}
	t.Cleanup(func() {
		pool.Exec(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %sentitlements", prefix))
	})

	// A row written before the daily pool and key slot existed.
	_, err := pool.Exec(ctx,
		fmt.Sprintf(`INSERT INTO %sentitlements (user_id, plan, monthly_credits) VALUES ($1, $2, $3)`, prefix),
		"legacy", "Basic", 42,
	)
	if err != nil {
		t.Fatalf("insert legacy row: %v", err)
	}

	doc, err := store.Get(ctx, "legacy")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if doc.DailyCredits != nil || doc.KeySlot != nil || doc.LastDailyResetAt != nil {
		t.Fatalf("expected absent fields, got %+v", doc)
	}
	if *doc.MonthlyCredits != 42 {
		t.Fatalf("expected monthly 42, got %d", *doc.MonthlyCredits)
	}
}
