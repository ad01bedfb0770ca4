package routes

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/ledgerd/api/controllers"
	"github.com/angelmondragon/ledgerd/internal/ledger"
	"github.com/angelmondragon/ledgerd/internal/payouts"
	pkgauth "github.com/angelmondragon/ledgerd/pkg/auth"
	"github.com/angelmondragon/ledgerd/pkg/config"
	"github.com/angelmondragon/ledgerd/pkg/db/models"
	"github.com/angelmondragon/ledgerd/pkg/enums"
	pkgerrors "github.com/angelmondragon/ledgerd/pkg/errors"
	"github.com/angelmondragon/ledgerd/pkg/money"
)

type stubPinger struct{ err error }

func (s stubPinger) Ping(context.Context) error { return s.err }

type stubBalances struct{}

func (stubBalances) Balance(_ context.Context, q ledger.BalanceQuery) (money.Money, error) {
	return money.MustParse("12.50", enums.CurrencyUSD), nil
}

func (stubBalances) AvailableBalance(context.Context, uuid.UUID, enums.AccountType, enums.Currency) (money.Money, error) {
	return money.MustParse("10.00", enums.CurrencyUSD), nil
}

type stubRecords struct{}

func (stubRecords) Find(_ context.Context, q ledger.Query) ([]models.TransactionRecord, error) {
	now := time.Now().UTC()
	out := make([]models.TransactionRecord, 0, q.Limit)
	for i := 0; i < q.Limit; i++ {
		out = append(out, models.TransactionRecord{
			ID:        uuid.New(),
			Status:    enums.TransactionSuccess,
			Category:  enums.CategoryTip,
			Amount:    decimal.RequireFromString("2.5"),
			Currency:  enums.CurrencyUSD,
			PayeeID:   q.Party,
			CreatedOn: now.Add(-time.Duration(i) * time.Minute),
		})
	}
	return out, nil
}

type stubWithdrawer struct{}

func (stubWithdrawer) Withdraw(_ context.Context, userID uuid.UUID, amount money.Money) (*payouts.Payout, error) {
	return nil, pkgerrors.New(pkgerrors.CodeInsufficientBalance, "insufficient balance")
}

func (stubWithdrawer) WithdrawAll(_ context.Context, userID uuid.UUID) (*payouts.Payout, error) {
	return &payouts.Payout{UserID: userID, Amount: money.MustParse("10.00", enums.CurrencyUSD), Status: payouts.StatusSent}, nil
}

func testConfig() *config.Config {
	return &config.Config{
		App:  config.AppConfig{Env: "test"},
		Auth: config.AuthConfig{JWTSecret: "secret", JWTIssuer: "ledgerd", TokenTTL: time.Hour},
	}
}

func newTestRouter(deps map[string]controllers.Pinger) http.Handler {
	return NewRouter(Params{
		Config:      testConfig(),
		Readiness:   deps,
		Balances:    stubBalances{},
		Records:     stubRecords{},
		Withdrawals: stubWithdrawer{},
	})
}

func bearer(t *testing.T, scopes ...pkgauth.Scope) string {
	t.Helper()
	token, err := pkgauth.MintOperatorToken(testConfig().Auth, time.Now(), pkgauth.OperatorTokenPayload{
		OperatorID: "ops-test",
		Scopes:     scopes,
	})
	if err != nil {
		t.Fatalf("mint token: %v", err)
	}
	return "Bearer " + token
}

func TestHealthLive(t *testing.T) {
	resp := httptest.NewRecorder()
	newTestRouter(nil).ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.Code)
	}
}

func TestHealthReadyReportsFailedDependency(t *testing.T) {
	router := newTestRouter(map[string]controllers.Pinger{
		"db":    stubPinger{},
		"redis": stubPinger{err: errors.New("connection refused")},
	})
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	if resp.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 got %d", resp.Code)
	}
	if !strings.Contains(resp.Body.String(), "redis") {
		t.Fatalf("expected failing dependency in body, got %s", resp.Body.String())
	}
}

func TestOperatorRoutesRejectMissingJWT(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/v1/balances/"+uuid.NewString(), nil)
	resp := httptest.NewRecorder()
	newTestRouter(nil).ServeHTTP(resp, req)
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", resp.Code)
	}
}

func TestBalanceLookup(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/v1/balances/"+uuid.NewString()+"?filter=success", nil)
	req.Header.Set("Authorization", bearer(t, pkgauth.ScopeRead))
	resp := httptest.NewRecorder()
	newTestRouter(nil).ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", resp.Code, resp.Body.String())
	}
	body := resp.Body.String()
	if !strings.Contains(body, `"amount":"12.50"`) || !strings.Contains(body, `"account":"HOLDINGS"`) {
		t.Fatalf("unexpected body %s", body)
	}
}

func TestBalanceLookupRejectsBadUserID(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/v1/balances/not-a-uuid", nil)
	req.Header.Set("Authorization", bearer(t, pkgauth.ScopeRead))
	resp := httptest.NewRecorder()
	newTestRouter(nil).ServeHTTP(resp, req)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", resp.Code)
	}
}

func TestTransactionListingPages(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/v1/users/"+uuid.NewString()+"/transactions?limit=2", nil)
	req.Header.Set("Authorization", bearer(t, pkgauth.ScopeRead))
	resp := httptest.NewRecorder()
	newTestRouter(nil).ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", resp.Code, resp.Body.String())
	}
	body := resp.Body.String()
	if strings.Count(body, `"category":"tip"`) != 2 {
		t.Fatalf("expected two records, got %s", body)
	}
	if !strings.Contains(body, `"next_cursor":"`) || !strings.Contains(body, `"amount":"2.50"`) {
		t.Fatalf("unexpected body %s", body)
	}
}

func TestTransactionListingRejectsBadCursor(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/v1/users/"+uuid.NewString()+"/transactions?cursor=%25%25", nil)
	req.Header.Set("Authorization", bearer(t, pkgauth.ScopeRead))
	resp := httptest.NewRecorder()
	newTestRouter(nil).ServeHTTP(resp, req)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", resp.Code)
	}
}

func TestWithdrawalRequiresWriteScope(t *testing.T) {
	body := `{"user_id":"` + uuid.NewString() + `"}`
	req := httptest.NewRequest(http.MethodPost, "/v1/withdrawals", strings.NewReader(body))
	req.Header.Set("Authorization", bearer(t, pkgauth.ScopeRead))
	resp := httptest.NewRecorder()
	newTestRouter(nil).ServeHTTP(resp, req)
	if resp.Code != http.StatusForbidden {
		t.Fatalf("expected 403 got %d", resp.Code)
	}
}

func TestWithdrawAll(t *testing.T) {
	body := `{"user_id":"` + uuid.NewString() + `"}`
	req := httptest.NewRequest(http.MethodPost, "/v1/withdrawals", strings.NewReader(body))
	req.Header.Set("Authorization", bearer(t, pkgauth.ScopeWrite))
	resp := httptest.NewRecorder()
	newTestRouter(nil).ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", resp.Code, resp.Body.String())
	}
	if !strings.Contains(resp.Body.String(), `"status":"sent"`) {
		t.Fatalf("unexpected body %s", resp.Body.String())
	}
}

func TestWithdrawalInsufficientBalance(t *testing.T) {
	body := `{"user_id":"` + uuid.NewString() + `","amount":"500.00","currency":"USD"}`
	req := httptest.NewRequest(http.MethodPost, "/v1/withdrawals", strings.NewReader(body))
	req.Header.Set("Authorization", bearer(t, pkgauth.ScopeWrite))
	resp := httptest.NewRecorder()
	newTestRouter(nil).ServeHTTP(resp, req)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", resp.Code)
	}
	if !strings.Contains(resp.Body.String(), string(pkgerrors.CodeInsufficientBalance)) {
		t.Fatalf("expected insufficient balance code, got %s", resp.Body.String())
	}
}

func TestStripeWebhookUnmountedWithoutClient(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", strings.NewReader(`{}`))
	resp := httptest.NewRecorder()
	newTestRouter(nil).ServeHTTP(resp, req)
	if resp.Code != http.StatusNotFound && resp.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected webhook to be unmounted, got %d", resp.Code)
	}
}
