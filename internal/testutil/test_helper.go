// Package testutil provisions a throwaway Postgres schema for
// store-level tests. Tests call Skip when TEST_DB_URL is not set.
package testutil

import (
	"context"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	"github.com/pressly/goose/v3"
)

func ProjectRoot() string {
	_, file, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(file), "../../")
}

// DBInit connects to TEST_DB_URL and resets the schema to a clean,
// fully migrated state. Skips the calling test when no test database is
// configured.
func DBInit(t *testing.T) *pgxpool.Pool {
	t.Helper()

	root := ProjectRoot()
	if err := godotenv.Load(filepath.Join(root, ".env")); err != nil {
		log.Printf("failed to load .env file: %+v", err)
	}

	testURL := os.Getenv("TEST_DB_URL")
	if testURL == "" {
		t.Skip("TEST_DB_URL is not set; skipping database test")
	}

	migDir := filepath.Join(root, "sql", "schema")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	pool, err := pgxpool.New(ctx, testURL)
	if err != nil {
		t.Fatalf("could not connect to the postgresql database: %v", err)
	}

	if err := goose.SetDialect("postgres"); err != nil {
		t.Fatalf("goose.SetDialect() error = %+v", err)
	}

	db := stdlib.OpenDBFromPool(pool)
	if err := goose.Reset(db, migDir); err != nil {
		db.Close()
		t.Fatalf("goose.Reset() error = %+v", err)
	}
	if err := goose.Up(db, migDir); err != nil {
		db.Close()
		t.Fatalf("goose.Up() error = %+v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("db.Close() error = %+v", err)
	}

	t.Cleanup(pool.Close)
	return pool
}
