// Package testutil provides shared test infrastructure, most importantly
// a real Postgres instance with pgvector for store integration tests.
package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/lodestone-ai/lodestone/db"
	"github.com/lodestone-ai/lodestone/internal/store"
)

// TestDB wraps a pgvector-enabled Postgres container with a ready
// connection pool. The schema is migrated and vector types are
// registered on every connection.
type TestDB struct {
	Container *postgres.PostgresContainer
	Pool      *pgxpool.Pool
	ConnStr   string
}

// SetupTestDB starts a throwaway Postgres container with the pgvector
// extension and the full schema applied. Skipped under -short; requires
// a working container runtime.
//
//	tdb := testutil.SetupTestDB(t)
//	s := store.New(tdb.Pool, log.NewNop())
func SetupTestDB(t *testing.T) *TestDB {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping container-backed test in short mode")
	}

	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"pgvector/pgvector:pg16",
		postgres.WithDatabase("lodestone_test"),
		postgres.WithUsername("lodestone_test"),
		postgres.WithPassword("test_password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	if err != nil {
		t.Fatalf("failed to start PostgreSQL container: %v", err)
	}
	t.Cleanup(func() {
		_ = pgContainer.Terminate(context.Background())
	})

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("failed to get connection string: %v", err)
	}

	if err := db.Migrate(connStr); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}

	pool, err := store.NewPool(ctx, connStr)
	if err != nil {
		t.Fatalf("failed to create connection pool: %v", err)
	}
	t.Cleanup(pool.Close)

	return &TestDB{Container: pgContainer, Pool: pool, ConnStr: connStr}
}
