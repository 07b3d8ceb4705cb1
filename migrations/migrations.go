// Package migrations embeds the goose SQL migrations for the service schema.
package migrations

import (
	"context"
	"database/sql"
	"embed"

	"github.com/pressly/goose/v3"
)

// FS holds the SQL migration files.
//
//go:embed *.sql
var FS embed.FS

// Setup points goose at the embedded files and the postgres dialect.
func Setup() error {
	goose.SetBaseFS(FS)
	return goose.SetDialect("postgres")
}

// Up applies all pending migrations.
func Up(ctx context.Context, db *sql.DB) error {
	if err := Setup(); err != nil {
		return err
	}
	return goose.UpContext(ctx, db, ".")
}
