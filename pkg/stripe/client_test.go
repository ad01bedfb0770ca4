package stripe

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"testing"
	"time"

	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/webhook"

	"github.com/angelmondragon/ledgerd/pkg/config"
)

func TestNewClientRejectsMismatchedKeys(t *testing.T) {
	cases := []struct {
		name string
		cfg  config.StripeConfig
	}{
		{"live key in test env", config.StripeConfig{APIKey: "sk_live_abc", Secret: "whsec_a"}},
		{"test key in live env", config.StripeConfig{APIKey: "sk_test_abc", Secret: "whsec_a", Env: "live"}},
		{"unknown env", config.StripeConfig{APIKey: "sk_test_abc", Secret: "whsec_a", Env: "staging"}},
		{"missing key", config.StripeConfig{Secret: "whsec_a"}},
		{"blank secrets", config.StripeConfig{APIKey: "sk_test_abc", Secret: " , "}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := NewClient(context.Background(), tc.cfg, nil); err == nil {
				t.Fatalf("expected error for %+v", tc.cfg)
			}
		})
	}
}

func TestNewClientAcceptsRestrictedKey(t *testing.T) {
	client, err := NewClient(context.Background(), config.StripeConfig{
		APIKey: "rk_live_abc",
		Secret: "whsec_old, whsec_new",
		Env:    "LIVE",
	}, nil)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if client.Environment() != "live" {
		t.Fatalf("expected live env, got %q", client.Environment())
	}
	if !reflect.DeepEqual(client.secrets, []string{"whsec_old", "whsec_new"}) {
		t.Fatalf("unexpected secrets %v", client.secrets)
	}
}

func TestSplitSecrets(t *testing.T) {
	got := SplitSecrets(" whsec_a ,,whsec_b, whsec_a ")
	if !reflect.DeepEqual(got, []string{"whsec_a", "whsec_b"}) {
		t.Fatalf("unexpected secrets %v", got)
	}
	if SplitSecrets("") != nil {
		t.Fatalf("expected no secrets for empty input")
	}
}

func TestVerifyEventAcceptsAnyRolledSecret(t *testing.T) {
	payload := signedTestEvent(t)
	client := &Client{environment: "test", secrets: []string{"whsec_old", "whsec_new"}}

	for _, secret := range []string{"whsec_old", "whsec_new"} {
		header := signatureHeader(payload, secret, time.Now().Unix())
		event, err := client.VerifyEvent(payload, header)
		if err != nil {
			t.Fatalf("verify with %s: %v", secret, err)
		}
		if event.ID != "evt_rotation" {
			t.Fatalf("unexpected event id %q", event.ID)
		}
	}

	header := signatureHeader(payload, "whsec_other", time.Now().Unix())
	if _, err := client.VerifyEvent(payload, header); !errors.Is(err, webhook.ErrNoValidSignature) {
		t.Fatalf("expected no valid signature, got %v", err)
	}
}

func TestVerifyEventStopsOnStaleTimestamp(t *testing.T) {
	payload := signedTestEvent(t)
	client := &Client{secrets: []string{"whsec_other", "whsec_new"}}

	header := signatureHeader(payload, "whsec_new", time.Now().Add(-time.Hour).Unix())
	_, err := client.VerifyEvent(payload, header)
	if err == nil {
		t.Fatalf("expected stale signature to fail")
	}
}

func TestVerifyEventWithoutSecrets(t *testing.T) {
	var client *Client
	if _, err := client.VerifyEvent([]byte("{}"), "t=1,v1=x"); !errors.Is(err, errSecretRequired) {
		t.Fatalf("expected secret required, got %v", err)
	}
}

func signedTestEvent(t *testing.T) []byte {
	t.Helper()
	payload, err := json.Marshal(&stripe.Event{
		ID:         "evt_rotation",
		Type:       stripe.EventTypePaymentIntentSucceeded,
		Object:     "event",
		APIVersion: stripe.APIVersion,
		Data:       &stripe.EventData{Raw: json.RawMessage(`{"id":"pi_1","object":"payment_intent"}`)},
	})
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	return payload
}

func signatureHeader(payload []byte, secret string, ts int64) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(fmt.Sprintf("%d.%s", ts, payload)))
	return fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}
