// Package migrations embeds the goose SQL migrations and applies them.
package migrations

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"sync"

	"github.com/pressly/goose/v3"
)

// FS holds every migration file.
//
//go:embed *.sql
var FS embed.FS

var setupOnce sync.Once

// setup points goose at the embedded files. goose keeps this in package
// state, so it is done once per process.
func setup() error {
	var err error
	setupOnce.Do(func() {
		goose.SetBaseFS(FS)
		err = goose.SetDialect("postgres")
	})
	return err
}

// Up applies all pending migrations.
func Up(ctx context.Context, db *sql.DB) error {
	return Run(ctx, db, "up")
}

// Run executes a goose command (up, down, status, version, redo, ...).
func Run(ctx context.Context, db *sql.DB, command string, args ...string) error {
	if err := setup(); err != nil {
		return fmt.Errorf("configure goose: %w", err)
	}
	if err := goose.RunContext(ctx, command, db, ".", args...); err != nil {
		return fmt.Errorf("goose %s: %w", command, err)
	}
	return nil
}
