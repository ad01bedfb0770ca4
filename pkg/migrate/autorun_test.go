package migrate

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/angelmondragon/ledgerd/pkg/config"
)

func TestAutoRunSkipsOutsideDev(t *testing.T) {
	cases := []*config.Config{
		nil,
		{App: config.AppConfig{Env: "prod"}, FeatureFlags: config.FeatureFlagsConfig{AutoMigrate: true}},
		{App: config.AppConfig{Env: "dev"}},
	}
	for _, cfg := range cases {
		if err := autoRun(context.Background(), cfg, nil, nil, "does-not-exist"); err != nil {
			t.Fatalf("expected no-op for %+v, got %v", cfg, err)
		}
	}
}

func TestAutoRunRefusesLedgerRewrite(t *testing.T) {
	dir := t.TempDir()
	body := "-- +goose Up\nTRUNCATE transaction_targets;\n-- +goose Down\n"
	if err := os.WriteFile(filepath.Join(dir, "20250401000000_reset.sql"), []byte(body), 0o644); err != nil {
		t.Fatalf("write migration: %v", err)
	}
	cfg := &config.Config{
		App:          config.AppConfig{Env: "dev"},
		FeatureFlags: config.FeatureFlagsConfig{AutoMigrate: true},
	}
	err := autoRun(context.Background(), cfg, nil, nil, dir)
	if err == nil || !strings.Contains(err.Error(), "validate migrations") {
		t.Fatalf("expected validation failure, got %v", err)
	}
}

func TestRunRefusesImplicitRollback(t *testing.T) {
	for _, command := range []string{"down", "down-to", "reset", "redo"} {
		if err := Run(context.Background(), nil, "migrations", command); !errors.Is(err, ErrRollbackRefused) {
			t.Fatalf("expected %s to be refused, got %v", command, err)
		}
	}
}

func TestRunValidatesBeforeApplying(t *testing.T) {
	dir := t.TempDir()
	body := "-- +goose Up\nDELETE FROM transaction_records;\n-- +goose Down\n"
	if err := os.WriteFile(filepath.Join(dir, "20250401000000_purge.sql"), []byte(body), 0o644); err != nil {
		t.Fatalf("write migration: %v", err)
	}
	err := Run(context.Background(), nil, dir, "up")
	if err == nil || !strings.Contains(err.Error(), "rewrites ledger rows") {
		t.Fatalf("expected ledger rewrite to be rejected, got %v", err)
	}
}

func TestMigrateToVersionRejectsBadVersion(t *testing.T) {
	if err := MigrateToVersion(context.Background(), nil, "migrations", "v2", true); err == nil {
		t.Fatal("expected invalid version error")
	}
}
