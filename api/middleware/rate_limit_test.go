package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	pkgauth "github.com/angelmondragon/ledgerd/pkg/auth"
)

type fakeRateStore struct {
	mu     sync.Mutex
	counts map[string]int64
	err    error
}

func newFakeRateStore() *fakeRateStore {
	return &fakeRateStore{counts: map[string]int64{}}
}

func (f *fakeRateStore) FixedWindowAllow(_ context.Context, scope string, limit int64, _ time.Duration) (bool, int64, error) {
	if f.err != nil {
		return false, 0, f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.counts[scope]++
	return f.counts[scope] <= limit, f.counts[scope], nil
}

func operatorRequest(subject string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/v1/withdrawals", nil)
	claims := &pkgauth.OperatorClaims{RegisteredClaims: jwt.RegisteredClaims{Subject: subject}}
	return req.WithContext(WithClaims(req.Context(), claims))
}

func TestRateLimitBlocksAfterLimitPerOperator(t *testing.T) {
	store := newFakeRateStore()
	handler := RateLimit(NewRateLimitPolicy("withdrawals", 2, time.Minute), store, nil)(okHandler())

	for i := 0; i < 3; i++ {
		resp := httptest.NewRecorder()
		handler.ServeHTTP(resp, operatorRequest("op-1"))
		want := http.StatusOK
		if i == 2 {
			want = http.StatusTooManyRequests
		}
		if resp.Code != want {
			t.Fatalf("request %d: expected %d got %d", i, want, resp.Code)
		}
	}

	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, operatorRequest("op-2"))
	if resp.Code != http.StatusOK {
		t.Fatalf("other operator: expected 200 got %d", resp.Code)
	}
	if store.counts["withdrawals:op-1"] != 3 {
		t.Fatalf("unexpected scope counts %v", store.counts)
	}
}

func TestRateLimitStoreErrorIsDependencyFailure(t *testing.T) {
	store := newFakeRateStore()
	store.err = errors.New("redis down")
	handler := RateLimit(NewRateLimitPolicy("withdrawals", 2, time.Minute), store, nil)(okHandler())

	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, operatorRequest("op-1"))
	if resp.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 got %d", resp.Code)
	}
}

func TestRateLimitDisabledPolicyPassesThrough(t *testing.T) {
	store := newFakeRateStore()
	handler := RateLimit(NewRateLimitPolicy("withdrawals", 0, time.Minute), store, nil)(okHandler())

	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, operatorRequest("op-1"))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.Code)
	}
	if len(store.counts) != 0 {
		t.Fatalf("disabled policy should not count: %v", store.counts)
	}
}
