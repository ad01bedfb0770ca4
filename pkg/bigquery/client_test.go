package bigquery

import (
	"testing"

	"github.com/angelmondragon/ledgerd/pkg/config"
)

func TestConfiguredTables(t *testing.T) {
	cfg := config.BigQueryConfig{
		Dataset:     "ledger",
		LedgerTable: " transaction_records ",
	}

	tables := configuredTables(cfg)

	if len(tables) != 1 {
		t.Fatalf("expected 1 table, got %d", len(tables))
	}
	if tables[0] != "transaction_records" {
		t.Fatalf("expected transaction_records, got %s", tables[0])
	}
}

func TestClientOptionsPrioritizesJSON(t *testing.T) {
	gcp := config.GCPConfig{
		CredentialsJSON:        `{"dummy": "value"}`,
		ApplicationCredentials: "/tmp/creds",
	}

	opts := clientOptions(gcp)
	if len(opts) != 1 {
		t.Fatalf("expected 1 option, got %d", len(opts))
	}
}

func TestClientOptionsWithFile(t *testing.T) {
	gcp := config.GCPConfig{
		ApplicationCredentials: "/tmp/creds",
	}

	opts := clientOptions(gcp)
	if len(opts) != 1 {
		t.Fatalf("expected 1 option when using credentials file, got %d", len(opts))
	}
}

func TestClientOptionsEmpty(t *testing.T) {
	gcp := config.GCPConfig{}

	opts := clientOptions(gcp)
	if len(opts) != 0 {
		t.Fatalf("expected 0 options when no credentials provided, got %d", len(opts))
	}
}

func TestMaxTimestampRejectsUnsafeIdentifiers(t *testing.T) {
	c := &Client{}
	if _, err := c.MaxTimestamp(t.Context(), "records", "finalized_on"); err == nil {
		t.Fatalf("expected error from uninitialized client")
	}
	if identifier.MatchString("records`; DROP") {
		t.Fatalf("identifier pattern accepted a backtick")
	}
	if !identifier.MatchString("finalized_on") {
		t.Fatalf("identifier pattern rejected a plain column")
	}
}
