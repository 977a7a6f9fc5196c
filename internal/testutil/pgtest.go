// Package testutil provides shared test infrastructure for integration tests.
package testutil

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/pressly/goose/v3"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// PGTest provisions a throwaway PostgreSQL container, applies all goose
// migrations, and returns the *sql.DB plus a cleanup function.
//
// Tests should call this at the top:
//
//	db, cleanup := testutil.PGTest(t)
//	defer cleanup()
//
// Set POSTGRES_URL to reuse an existing database instead of starting a
// container. Without Docker and without POSTGRES_URL, the test is skipped.
func PGTest(t *testing.T) (*sql.DB, func()) {
	t.Helper()
	ctx := context.Background()

	if dbURL := os.Getenv("POSTGRES_URL"); dbURL != "" {
		db := openAndMigrate(t, dbURL)
		return db, func() { _ = db.Close() }
	}

	container, err := startContainer(func() (*tcpostgres.PostgresContainer, error) {
		return tcpostgres.Run(ctx, "postgres:16-alpine",
			tcpostgres.WithDatabase("riskd_test"),
			tcpostgres.WithUsername("riskd"),
			tcpostgres.WithPassword("riskd"),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(time.Minute),
			),
		)
	})
	if err != nil {
		t.Skipf("pgtest: cannot start postgres container (no docker?): %v", err)
	}

	dbURL, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = container.Terminate(ctx)
		t.Fatalf("pgtest: connection string: %v", err)
	}

	db := openAndMigrate(t, dbURL)
	cleanup := func() {
		_ = db.Close()
		_ = container.Terminate(ctx)
	}
	return db, cleanup
}

// startContainer converts panics from the container runtime into
// errors. testcontainers panics while probing for a Docker host before
// it can return an error, which would otherwise kill the test instead
// of letting it skip.
func startContainer(run func() (*tcpostgres.PostgresContainer, error)) (container *tcpostgres.PostgresContainer, err error) {
	defer func() {
		if r := recover(); r != nil {
			container, err = nil, fmt.Errorf("container start panicked: %v", r)
		}
	}()
	return run()
}

func openAndMigrate(t *testing.T, dbURL string) *sql.DB {
	t.Helper()

	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		t.Fatalf("pgtest: open database: %v", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		t.Fatalf("pgtest: connect to database: %v", err)
	}

	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect("postgres"); err != nil {
		_ = db.Close()
		t.Fatalf("pgtest: set dialect: %v", err)
	}
	if err := goose.RunContext(context.Background(), "up", db, findMigrationsDir(t)); err != nil {
		_ = db.Close()
		t.Fatalf("pgtest: run migrations: %v", err)
	}
	return db
}

// findMigrationsDir walks up from the test working directory to find
// the project-level migrations/ directory.
func findMigrationsDir(t *testing.T) string {
	t.Helper()

	dir, err := os.Getwd()
	if err != nil {
		t.Fatalf("pgtest: getwd: %v", err)
	}

	for {
		candidate := filepath.Join(dir, "migrations")
		if info, err := os.Stat(candidate); err == nil && info.IsDir() {
			return candidate
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			t.Fatalf("pgtest: could not find migrations/ directory walking up from cwd")
		}
		dir = parent
	}
}
