// Package testutil provides test helpers shared by the ctxbudget packages.
package testutil

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// CheckpointTable is the table the PostgreSQL backend stores records in.
const CheckpointTable = "ctxbudget_checkpoints"

// RequireIntegration skips the test unless DATABASE_URL points at a
// PostgreSQL server.
func RequireIntegration(t *testing.T) string {
	t.Helper()
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		t.Skip("Skipping integration test: DATABASE_URL not set")
	}
	return dbURL
}

// Postgres connects to DATABASE_URL and closes the pool when the test ends.
// Tests are skipped when DATABASE_URL is not set.
func Postgres(t *testing.T) *pgxpool.Pool {
	t.Helper()
	dbURL := RequireIntegration(t)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		t.Fatalf("Failed to connect to database: %v", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		t.Fatalf("Failed to ping database: %v", err)
	}
	t.Cleanup(pool.Close)

	return pool
}

// ResetCheckpoints empties the checkpoint table. The schema must exist.
func ResetCheckpoints(t *testing.T, pool *pgxpool.Pool) {
	t.Helper()
	if _, err := pool.Exec(context.Background(), "TRUNCATE TABLE "+CheckpointTable); err != nil {
		t.Fatalf("Failed to truncate %s: %v", CheckpointTable, err)
	}
}

// TempPath returns a path for a file inside a per-test temporary directory.
func TempPath(t *testing.T, name string) string {
	t.Helper()
	return filepath.Join(t.TempDir(), name)
}

// WriteFile writes content to a fresh temporary file named name and returns
// its path.
func WriteFile(t *testing.T, name, content string) string {
	t.Helper()
	path := TempPath(t, name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}
