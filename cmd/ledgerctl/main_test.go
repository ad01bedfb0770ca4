package main

import (
	"bytes"
	"context"
	"strings"
	"testing"
)

func TestParseRequiresCommand(t *testing.T) {
	var out bytes.Buffer
	if _, err := parse(nil, &out); err == nil {
		t.Fatal("expected error for missing command")
	}
	if !strings.Contains(out.String(), "usage: ledgerctl") {
		t.Fatalf("expected usage, got %q", out.String())
	}
}

func TestParseRejectsUnknownCommand(t *testing.T) {
	var out bytes.Buffer
	_, err := parse([]string{"drop-ledger"}, &out)
	if err == nil || !strings.Contains(err.Error(), "drop-ledger") {
		t.Fatalf("expected unknown command error, got %v", err)
	}
}

func TestParseReadsSubcommandFlags(t *testing.T) {
	var out bytes.Buffer
	cmd, err := parse([]string{"replay-webhook", "-event", "evt_123", "-force"}, &out)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got := cmd.flags.Lookup("event").Value.String(); got != "evt_123" {
		t.Fatalf("unexpected event flag %q", got)
	}
	if got := cmd.flags.Lookup("force").Value.String(); got != "true" {
		t.Fatalf("unexpected force flag %q", got)
	}
}

func TestParseRejectsBadFlag(t *testing.T) {
	var out bytes.Buffer
	if _, err := parse([]string{"check-conservation", "-verbose"}, &out); err == nil {
		t.Fatal("expected flag error")
	}
}

func TestRunFailsBeforeTouchingResourcesOnUsageError(t *testing.T) {
	var out bytes.Buffer
	if err := run(context.Background(), []string{"nope"}, &out); err == nil {
		t.Fatal("expected error")
	}
}
