package auth

import (
	"strings"
	"testing"
	"time"

	"github.com/angelmondragon/ledgerd/pkg/config"
)

func testConfig() config.AuthConfig {
	return config.AuthConfig{
		JWTSecret: "secret",
		JWTIssuer: "ledgerd",
		TokenTTL:  30 * time.Minute,
	}
}

func TestMintAndParseOperatorToken(t *testing.T) {
	cfg := testConfig()
	now := time.Now().UTC()

	token, err := MintOperatorToken(cfg, now, OperatorTokenPayload{
		OperatorID: "ops-alice",
		Scopes:     []Scope{ScopeWrite},
	})
	if err != nil {
		t.Fatalf("mint operator token: %v", err)
	}

	claims, err := ParseOperatorToken(cfg, token)
	if err != nil {
		t.Fatalf("parse operator token: %v", err)
	}
	if claims.Subject != "ops-alice" {
		t.Fatalf("expected subject ops-alice, got %s", claims.Subject)
	}
	if claims.Issuer != cfg.JWTIssuer {
		t.Fatalf("expected issuer %s, got %s", cfg.JWTIssuer, claims.Issuer)
	}
	if claims.ID == "" {
		t.Fatalf("expected jti to be set")
	}
	if !claims.Has(ScopeWrite) || !claims.Has(ScopeRead) {
		t.Fatalf("write scope should grant read and write")
	}
	if claims.ExpiresAt == nil || !claims.ExpiresAt.Time.After(now) {
		t.Fatalf("expected expiry in the future")
	}
}

func TestReadScopeDoesNotGrantWrite(t *testing.T) {
	claims := &OperatorClaims{Scopes: []Scope{ScopeRead}}
	if claims.Has(ScopeWrite) {
		t.Fatalf("read scope must not grant write")
	}
	if !claims.Has(ScopeRead) {
		t.Fatalf("read scope missing")
	}
}

func TestParseOperatorTokenRejectsWrongSecret(t *testing.T) {
	cfg := testConfig()
	token, err := MintOperatorToken(cfg, time.Now(), OperatorTokenPayload{OperatorID: "ops", Scopes: []Scope{ScopeRead}})
	if err != nil {
		t.Fatalf("mint operator token: %v", err)
	}

	other := cfg
	other.JWTSecret = "different"
	if _, err := ParseOperatorToken(other, token); err == nil {
		t.Fatalf("expected signature error")
	}
}

func TestParseOperatorTokenRejectsExpired(t *testing.T) {
	cfg := testConfig()
	token, err := MintOperatorToken(cfg, time.Now().Add(-2*time.Hour), OperatorTokenPayload{OperatorID: "ops", Scopes: []Scope{ScopeRead}})
	if err != nil {
		t.Fatalf("mint operator token: %v", err)
	}
	_, err = ParseOperatorToken(cfg, token)
	if err == nil || !strings.Contains(err.Error(), "expired") {
		t.Fatalf("expected expired error, got %v", err)
	}
}

func TestMintOperatorTokenValidation(t *testing.T) {
	cfg := testConfig()
	cases := map[string]OperatorTokenPayload{
		"missing operator": {Scopes: []Scope{ScopeRead}},
		"missing scopes":   {OperatorID: "ops"},
		"unknown scope":    {OperatorID: "ops", Scopes: []Scope{"ledger:admin"}},
	}
	for name, payload := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := MintOperatorToken(cfg, time.Now(), payload); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}
