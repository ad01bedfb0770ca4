package migrate_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/angelmondragon/ledgerd/pkg/migrate"
)

func TestMigrationDirIsValid(t *testing.T) {
	if err := migrate.ValidateDir("migrations"); err != nil {
		t.Fatalf("validate migrations: %v", err)
	}
}

func TestCreatedMigrationPassesValidation(t *testing.T) {
	dir := t.TempDir()
	path, err := migrate.CreateSQLMigration(dir, "Add payout holds!")
	if err != nil {
		t.Fatalf("create migration: %v", err)
	}
	if !strings.HasSuffix(path, "_add_payout_holds.sql") {
		t.Fatalf("unexpected migration path %q", path)
	}
	if err := migrate.ValidateDir(dir); err != nil {
		t.Fatalf("validate created migration: %v", err)
	}
	if _, err := migrate.CreateSQLMigration(dir, "!!!"); err == nil {
		t.Fatal("expected error for a name with no usable characters")
	}
}

func TestValidateDirRejectsBadMigrations(t *testing.T) {
	cases := map[string]string{
		"20250401000000_purge.sql": "-- +goose Up\nDELETE FROM transaction_records WHERE status = 'failure';\n-- +goose Down\n",
		"20250401000000_fix.sql":   "-- +goose Up\nUPDATE transaction_records SET amount = 0;\n-- +goose Down\n",
		"20250401000000_flip.sql":  "-- +goose Down\nSELECT 1;\n-- +goose Up\nSELECT 1;\n",
		"20250401000000_open.sql":  "-- +goose Up\n-- +goose StatementBegin\nSELECT 1;\n-- +goose Down\n",
		"add_column.sql":           "-- +goose Up\nSELECT 1;\n-- +goose Down\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			dir := t.TempDir()
			if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
				t.Fatalf("write migration: %v", err)
			}
			if err := migrate.ValidateDir(dir); err == nil {
				t.Fatalf("expected %s to fail validation", name)
			}
		})
	}

	dir := t.TempDir()
	allowed := "-- +goose Up\nALTER TABLE transaction_records ADD COLUMN memo TEXT;\n-- +goose Down\nDROP TABLE IF EXISTS transaction_records;\n"
	if err := os.WriteFile(filepath.Join(dir, "20250401000000_memo.sql"), []byte(allowed), 0o644); err != nil {
		t.Fatalf("write migration: %v", err)
	}
	if err := migrate.ValidateDir(dir); err != nil {
		t.Fatalf("down-only drop should validate: %v", err)
	}
}

func readMigration(t *testing.T, suffix string) string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join("migrations", "*_"+suffix+".sql"))
	if err != nil {
		t.Fatalf("glob migrations: %v", err)
	}
	if len(matches) == 0 {
		t.Fatalf("no %s migration file found", suffix)
	}
	data, err := os.ReadFile(matches[0])
	if err != nil {
		t.Fatalf("read migration file: %v", err)
	}
	return string(data)
}

func TestTransactionRecordsMigrationContainsConstraints(t *testing.T) {
	content := readMigration(t, "create_transaction_records")

	checks := []string{
		"CREATE TABLE IF NOT EXISTS transaction_records",
		"amount NUMERIC(20,4) NOT NULL CHECK (amount >= 0)",
		"CHECK (source <> destination)",
		"CREATE UNIQUE INDEX IF NOT EXISTS ux_transaction_records_reversal_of",
		"AND (status <> 'failure' OR finalized_on IS NULL)",
		"FOREIGN KEY (transaction_id) REFERENCES transaction_records(id) ON DELETE CASCADE",
		"DROP TABLE IF EXISTS transaction_records",
	}
	for _, sub := range checks {
		if !strings.Contains(content, sub) {
			t.Errorf("missing expected statement %q", sub)
		}
	}
}

func TestWebhookEventsMigrationDedupesDeliveries(t *testing.T) {
	content := readMigration(t, "create_webhook_events")

	checks := []string{
		"CREATE UNIQUE INDEX IF NOT EXISTS ux_webhook_events_provider_event ON webhook_events (provider, event_id)",
		"WHERE processed_at IS NULL",
		"DROP TABLE IF EXISTS webhook_events",
	}
	for _, sub := range checks {
		if !strings.Contains(content, sub) {
			t.Errorf("missing expected statement %q", sub)
		}
	}
}
