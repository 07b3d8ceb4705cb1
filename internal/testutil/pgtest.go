// Package testutil provides shared test infrastructure for integration tests.
package testutil

import (
	"context"
	"database/sql"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/mbd888/zapshift/migrations"
)

var (
	containerOnce sync.Once
	containerURL  string
	containerErr  error
)

// PGTest opens a test database, applies the goose migrations and returns
// the *sql.DB plus a cleanup function that truncates application tables.
//
//	db, cleanup := testutil.PGTest(t)
//	defer cleanup()
//
// POSTGRES_URL selects an existing database. Otherwise a postgres container
// is started once per test binary; if that fails the test is skipped.
func PGTest(t *testing.T) (*sql.DB, func()) {
	t.Helper()

	dbURL := os.Getenv("POSTGRES_URL")
	if dbURL == "" {
		dbURL = startContainer(t)
	}

	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		t.Fatalf("pgtest: open database: %v", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		t.Fatalf("pgtest: connect to database: %v", err)
	}

	ctx := context.Background()
	if err := migrations.Up(ctx, db); err != nil {
		_ = db.Close()
		t.Fatalf("pgtest: run migrations: %v", err)
	}
	truncateAll(ctx, db)

	cleanup := func() {
		truncateAll(ctx, db)
		_ = db.Close()
	}
	return db, cleanup
}

// startContainer launches a shared postgres container. It is never
// terminated explicitly; the testcontainers reaper removes it when the
// test binary exits.
func startContainer(t *testing.T) string {
	t.Helper()

	containerOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()

		var c *postgres.PostgresContainer
		c, containerErr = postgres.Run(ctx, "postgres:16-alpine",
			postgres.WithDatabase("zapshift"),
			postgres.WithUsername("zapshift"),
			postgres.WithPassword("zapshift"),
			postgres.BasicWaitStrategies(),
		)
		if containerErr != nil {
			if c != nil {
				_ = testcontainers.TerminateContainer(c)
			}
			return
		}
		containerURL, containerErr = c.ConnectionString(ctx, "sslmode=disable")
	})

	if containerErr != nil {
		t.Skipf("pgtest: POSTGRES_URL not set and container unavailable: %v", containerErr)
	}
	return containerURL
}

// truncateAll empties every application table, leaving goose's version table.
func truncateAll(ctx context.Context, db *sql.DB) {
	rows, err := db.QueryContext(ctx, `
		SELECT tablename FROM pg_tables
		WHERE schemaname = 'public'
		  AND tablename <> 'goose_db_version'
	`)
	if err != nil {
		return
	}
	defer func() { _ = rows.Close() }()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err == nil {
			tables = append(tables, name)
		}
	}

	if len(tables) > 0 {
		stmt := "TRUNCATE " + strings.Join(tables, ", ") + " CASCADE" // #nosec G202 -- names from pg_tables
		_, _ = db.ExecContext(ctx, stmt)
	}
}
