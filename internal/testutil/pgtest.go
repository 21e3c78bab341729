// Package testutil provides shared infrastructure for integration tests.
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
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/remoteprojobs/wallet/migrations"
)

var (
	pgOnce sync.Once
	pgURL  string
	pgErr  error
)

// PGTest returns a migrated, empty database. Tables are truncated when the
// test ends.
//
//	db := testutil.PGTest(t)
//
// POSTGRES_URL selects an existing server. Without it a postgres container
// is started once per test binary; if Docker is unavailable the test is skipped.
func PGTest(t *testing.T) *sql.DB {
	t.Helper()

	url := postgresURL(t)
	db, err := sql.Open("postgres", url)
	if err != nil {
		t.Fatalf("pgtest: open database: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		t.Fatalf("pgtest: connect to database: %v", err)
	}
	if err := migrations.Up(ctx, db); err != nil {
		_ = db.Close()
		t.Fatalf("pgtest: run migrations: %v", err)
	}
	truncateAll(ctx, db)

	t.Cleanup(func() {
		truncateAll(context.Background(), db)
		_ = db.Close()
	})
	return db
}

func postgresURL(t *testing.T) string {
	t.Helper()
	if url := os.Getenv("POSTGRES_URL"); url != "" {
		return url
	}

	pgOnce.Do(func() {
		ctx := context.Background()
		ctr, err := tcpostgres.Run(ctx, "postgres:16-alpine",
			tcpostgres.WithDatabase("wallet_test"),
			tcpostgres.WithUsername("wallet"),
			tcpostgres.WithPassword("wallet"),
			tcpostgres.BasicWaitStrategies(),
		)
		if err != nil {
			pgErr = err
			return
		}
		// Shared by every test in the binary; the reaper removes it on exit.
		pgURL, pgErr = ctr.ConnectionString(ctx, "sslmode=disable")
	})
	if pgErr != nil {
		t.Skipf("pgtest: POSTGRES_URL not set and postgres container unavailable: %v", pgErr)
	}
	return pgURL
}

// truncateAll empties every application table. goose's version table is kept.
func truncateAll(ctx context.Context, db *sql.DB) {
	rows, err := db.QueryContext(ctx, `
		SELECT tablename FROM pg_tables
		WHERE schemaname = 'public' AND tablename <> 'goose_db_version'
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
		// Table names come from pg_tables, not user input.
		_, _ = db.ExecContext(ctx, "TRUNCATE "+strings.Join(tables, ", ")+" CASCADE") // #nosec G202
	}
}

// terminate is used by RedisTest for containers owned by a single test.
func terminate(t *testing.T, ctr testcontainers.Container) {
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(ctr); err != nil {
			t.Logf("testutil: terminate container: %v", err)
		}
	})
}
