package migrate

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"testing/fstest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmbeddedMigrationsAreValid(t *testing.T) {
	require.NoError(t, Validate(Migrations()))
}

func TestEmbeddedMigrationsMatchSourceDir(t *testing.T) {
	embeddedNames, err := fs.Glob(Migrations(), "*.sql")
	require.NoError(t, err)
	onDisk, err := filepath.Glob(filepath.Join("migrations", "*.sql"))
	require.NoError(t, err)
	require.Len(t, embeddedNames, len(onDisk))
	for i, path := range onDisk {
		assert.Equal(t, filepath.Base(path), embeddedNames[i])
	}
}

func TestSchemaMigrationsContainConstraints(t *testing.T) {
	cases := map[string][]string{
		"*_create_transactions.sql": {
			"CREATE TABLE IF NOT EXISTS transactions",
			"id text PRIMARY KEY",
			"CHECK (amount_minor_units > 0)",
			"payment_method payment_method_enum NOT NULL",
			"items jsonb NOT NULL",
			"DROP TABLE IF EXISTS transactions",
		},
		"*_create_outbox_events.sql": {
			"CREATE TABLE IF NOT EXISTS outbox_events",
			"aggregate_id text NOT NULL",
			"CREATE TABLE IF NOT EXISTS outbox_dlqs",
			"payload_json jsonb NOT NULL",
		},
		"*_unique_transaction_attempt.sql": {
			"CREATE UNIQUE INDEX IF NOT EXISTS uq_transactions_attempt_id ON transactions (attempt_id)",
			"DROP INDEX IF EXISTS uq_transactions_attempt_id",
		},
	}
	for pattern, fragments := range cases {
		body := readEmbedded(t, pattern)
		for _, f := range fragments {
			assert.Contains(t, body, f, "%s missing %q", pattern, f)
		}
	}
}

func TestValidateRejectsBadFiles(t *testing.T) {
	up := "-- +goose Up\nSELECT 1;\n-- +goose Down\nSELECT 1;\n"
	cases := map[string]fstest.MapFS{
		"bad name": {"add_refunds.sql": {Data: []byte(up)}},
		"duplicate version": {
			"20260105120000_a.sql": {Data: []byte(up)},
			"20260105120000_b.sql": {Data: []byte(up)},
		},
		"missing down": {"20260105120000_a.sql": {Data: []byte("-- +goose Up\nSELECT 1;\n")}},
	}
	for name, fsys := range cases {
		t.Run(name, func(t *testing.T) {
			assert.Error(t, Validate(fsys))
		})
	}
}

func TestCreateWritesTemplate(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)

	path, err := Create(dir, "Add Refunds Table", now)
	require.NoError(t, err)
	assert.Equal(t, "20260301093000_add_refunds_table.sql", filepath.Base(path))
	require.NoError(t, Validate(os.DirFS(dir)))

	_, err = Create(dir, "add refunds table", now)
	assert.Error(t, err, "same version must not overwrite")

	_, err = Create(dir, "!!!", now)
	assert.Error(t, err)
}

func readEmbedded(t *testing.T, pattern string) string {
	t.Helper()
	matches, err := fs.Glob(Migrations(), pattern)
	require.NoError(t, err)
	require.NotEmpty(t, matches, "no migration matching %s", pattern)
	body, err := fs.ReadFile(Migrations(), matches[0])
	require.NoError(t, err)
	return strings.TrimSpace(string(body))
}
