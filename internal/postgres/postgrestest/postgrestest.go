// Package postgrestest provides a migrated test database for store tests.
package postgrestest

import (
	"context"
	"database/sql"
	"os"
	"strings"
	"testing"

	"github.com/whisper/polyglot/internal/postgres"
)

// EnvURL names the variable holding the test database URL.
const EnvURL = "TEST_DATABASE_URL"

// Open connects to $TEST_DATABASE_URL, applies migrations and truncates the
// given tables before and after the test. The test is skipped when no
// database is reachable.
func Open(t *testing.T, tables ...string) *sql.DB {
	t.Helper()
	url := os.Getenv(EnvURL)
	if url == "" {
		t.Skipf("%s not set", EnvURL)
	}
	ctx := context.Background()
	db, err := postgres.Open(ctx, url)
	if err != nil {
		t.Skipf("postgres not available: %v", err)
	}
	if err := postgres.MigrateUp(db, nil); err != nil {
		db.Close()
		t.Fatalf("migrate: %v", err)
	}
	truncate := func() {
		if len(tables) == 0 {
			return
		}
		if _, err := db.ExecContext(ctx, "TRUNCATE "+strings.Join(tables, ", ")); err != nil {
			t.Errorf("truncate: %v", err)
		}
	}
	truncate()
	t.Cleanup(func() {
		truncate()
		db.Close()
	})
	return db
}
