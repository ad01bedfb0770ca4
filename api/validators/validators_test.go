package validators

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"

	pkgerrors "github.com/angelmondragon/ledgerd/pkg/errors"
)

type withdrawalBody struct {
	UserID string `json:"user_id" validate:"required,uuid"`
	Amount string `json:"amount,omitempty" validate:"omitempty,amount"`
}

type chargeBody struct {
	Amount   string `json:"amount" validate:"required,amount"`
	Currency string `json:"currency,omitempty" validate:"omitempty,currency"`
}

func fieldDetails(t *testing.T, err error) map[string]string {
	t.Helper()
	if !pkgerrors.Is(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	details, ok := pkgerrors.As(err).Details().(map[string]string)
	if !ok {
		t.Fatalf("unexpected details %#v", pkgerrors.As(err).Details())
	}
	return details
}

func TestDecodeJSONBodyReportsFieldErrors(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/v1/withdrawals", strings.NewReader(`{"amount":"5.00"}`))
	var body withdrawalBody
	details := fieldDetails(t, DecodeJSONBody(req, &body))
	if details["user_id"] != "is required" {
		t.Fatalf("unexpected details %#v", details)
	}
}

func TestDecodeJSONBodyRejectsUnknownFields(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/v1/withdrawals", strings.NewReader(`{"user_id":"x","currency":"USD"}`))
	var body withdrawalBody
	if err := DecodeJSONBody(req, &body); !pkgerrors.Is(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestDecodeJSONBodyRejectsOversizedBody(t *testing.T) {
	padding := strings.Repeat("0", maxBodyBytes)
	req := httptest.NewRequest(http.MethodPost, "/v1/withdrawals", strings.NewReader(`{"amount":"`+padding+`1"}`))
	var body chargeBody
	if err := DecodeJSONBody(req, &body); !pkgerrors.Is(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected truncated body to fail, got %v", err)
	}
}

func TestAmountAndCurrencyTags(t *testing.T) {
	cases := []struct {
		body  string
		field string
		want  string
	}{
		{`{"amount":"12.50","currency":"usd"}`, "", ""},
		{`{"amount":"0.125","currency":"KWD"}`, "", ""},
		{`{"amount":"0"}`, "amount", "must be a positive decimal amount"},
		{`{"amount":"-5.00"}`, "amount", "must be a positive decimal amount"},
		{`{"amount":"1e3"}`, "amount", "must be a positive decimal amount"},
		{`{"amount":"1.2345"}`, "amount", "must be a positive decimal amount"},
		{`{"amount":"5.00","currency":"DOGE"}`, "currency", "must be a supported currency code"},
	}
	for _, tc := range cases {
		t.Run(tc.body, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/v1/subscriptions", strings.NewReader(tc.body))
			var body chargeBody
			err := DecodeJSONBody(req, &body)
			if tc.field == "" {
				if err != nil {
					t.Fatalf("expected %s to pass, got %v", tc.body, err)
				}
				return
			}
			details := fieldDetails(t, err)
			if details[tc.field] != tc.want {
				t.Fatalf("expected %s %q, got %#v", tc.field, tc.want, details)
			}
		})
	}
}

func TestParseQueryInt(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/v1/users/u/transactions?limit=500", nil)
	if _, err := ParseQueryInt(req, "limit", 25, 1, 100); !pkgerrors.Is(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected out of range error, got %v", err)
	}
	req = httptest.NewRequest(http.MethodGet, "/v1/users/u/transactions?limit=ten", nil)
	if _, err := ParseQueryInt(req, "limit", 25, 1, 100); fieldDetails(t, err)["limit"] != "must be numeric" {
		t.Fatalf("expected numeric error, got %v", err)
	}
	req = httptest.NewRequest(http.MethodGet, "/v1/users/u/transactions", nil)
	got, err := ParseQueryInt(req, "limit", 25, 1, 100)
	if err != nil || got != 25 {
		t.Fatalf("expected default 25, got %d (%v)", got, err)
	}
}

func TestParseUUIDParam(t *testing.T) {
	want := uuid.New()
	got, err := ParseUUIDParam("id", " "+want.String()+" ")
	if err != nil || got != want {
		t.Fatalf("expected %s, got %s (%v)", want, got, err)
	}
	_, err = ParseUUIDParam("userID", "not-a-uuid")
	if fieldDetails(t, err)["userID"] != "must be a uuid" {
		t.Fatalf("unexpected error %v", err)
	}
}

func TestSanitizeString(t *testing.T) {
	if got := SanitizeString("  pm_card_visa  ", 0); got != "pm_card_visa" {
		t.Fatalf("unexpected %q", got)
	}
	if got := SanitizeString("abcdef", 3); got != "abc" {
		t.Fatalf("unexpected %q", got)
	}
	if got := SanitizeString("tok_\x00visa\n", 0); got != "tok_visa" {
		t.Fatalf("expected control characters dropped, got %q", got)
	}
	if got := SanitizeString("abé", 3); got != "ab" {
		t.Fatalf("expected cut on a rune boundary, got %q", got)
	}
}
