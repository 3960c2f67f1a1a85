//go:build integration

package postgres_test

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	pgmodule "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/xraph/paysched/lease"
	"github.com/xraph/paysched/store"
	"github.com/xraph/paysched/store/postgres"
	"github.com/xraph/paysched/store/storetest"
)

// setupTestStore starts a Postgres container and returns a migrated Store.
func setupTestStore(t *testing.T) *postgres.Store {
	t.Helper()

	ctx := context.Background()

	container, err := pgmodule.Run(ctx,
		"postgres:16-alpine",
		pgmodule.WithDatabase("paysched_test"),
		pgmodule.WithUsername("test"),
		pgmodule.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("start postgres container: %v", err)
	}
	t.Cleanup(func() {
		if termErr := container.Terminate(ctx); termErr != nil {
			t.Logf("terminate container: %v", termErr)
		}
	})

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("get connection string: %v", err)
	}

	s, err := postgres.New(ctx, connStr, postgres.WithLogger(slog.Default()))
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	if migErr := s.Migrate(ctx); migErr != nil {
		t.Fatalf("migrate: %v", migErr)
	}
	return s
}

// truncate empties every table so each subtest starts clean.
func truncate(t *testing.T, s *postgres.Store) {
	t.Helper()
	_, err := s.Pool().Exec(context.Background(), `
		TRUNCATE paysched_adjustments, paysched_executions, paysched_contracts, paysched_leases`)
	if err != nil {
		t.Fatalf("truncate: %v", err)
	}
}

func TestConformance(t *testing.T) {
	s := setupTestStore(t)
	storetest.Run(t, func(t *testing.T) store.Store {
		truncate(t, s)
		return s
	})
}

func TestLeaseConformance(t *testing.T) {
	s := setupTestStore(t)
	storetest.RunLease(t, func(t *testing.T) lease.Store {
		truncate(t, s)
		return s
	})
}

func TestMigrateRecordsFiles(t *testing.T) {
	s := setupTestStore(t)
	var n int
	if err := s.Pool().QueryRow(context.Background(),
		`SELECT COUNT(*) FROM paysched_migrations`).Scan(&n); err != nil {
		t.Fatalf("count migrations: %v", err)
	}
	if n != 1 {
		t.Errorf("recorded migrations = %d, want 1", n)
	}
}
