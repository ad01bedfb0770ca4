package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
	"testing"
)

func TestMetadataForKnownCodes(t *testing.T) {
	tests := []struct {
		code      Code
		status    int
		retryable bool
		detailsOK bool
	}{
		{code: CodeValidation, status: http.StatusBadRequest, detailsOK: true},
		{code: CodeNotFound, status: http.StatusNotFound},
		{code: CodeInternal, status: http.StatusInternalServerError, retryable: true},
		{code: CodeDependency, status: http.StatusServiceUnavailable, retryable: true, detailsOK: true},
		{code: CodeAmountMismatch, status: http.StatusConflict, detailsOK: true},
		{code: CodeIntentMismatch, status: http.StatusConflict, detailsOK: true},
		{code: CodeWrongStatus, status: http.StatusUnprocessableEntity, detailsOK: true},
		{code: CodeInvoiceLocked, status: http.StatusUnprocessableEntity, detailsOK: true},
		{code: CodeGatewayTransient, status: http.StatusServiceUnavailable, retryable: true},
		{code: CodeInsufficientBalance, status: http.StatusBadRequest, detailsOK: true},
	}

	for _, tt := range tests {
		meta := MetadataFor(tt.code)
		if meta.HTTPStatus != tt.status {
			t.Fatalf("code %s expected status %d got %d", tt.code, tt.status, meta.HTTPStatus)
		}
		if meta.Retryable != tt.retryable {
			t.Fatalf("code %s expected retryable %v got %v", tt.code, tt.retryable, meta.Retryable)
		}
		if meta.DetailsAllowed != tt.detailsOK {
			t.Fatalf("code %s expected details allowed %v got %v", tt.code, tt.detailsOK, meta.DetailsAllowed)
		}
	}
}

func TestMetadataForUnknownCodeDefaultsToInternal(t *testing.T) {
	meta := MetadataFor("SOMETHING_UNKNOWN")
	if meta.HTTPStatus != http.StatusInternalServerError {
		t.Fatalf("expected internal status, got %d", meta.HTTPStatus)
	}
}

func TestWrapKeepsCause(t *testing.T) {
	cause := stdErrors.New("timeout")
	wrapped := Wrap(CodeGatewayTransient, cause, "charge card")
	if !stdErrors.Is(wrapped, cause) {
		t.Fatalf("expected wrapped error to unwrap to cause")
	}
	if !wrapped.Retryable() {
		t.Fatalf("expected transient gateway errors to be retryable")
	}
	if wrapped.Error() != "GATEWAY_TRANSIENT: charge card: timeout" {
		t.Fatalf("unexpected error string %q", wrapped.Error())
	}
}

func TestIsWalksChain(t *testing.T) {
	inner := New(CodeInsufficientBalance, "balance too low")
	outer := Wrap(CodeValidation, fmt.Errorf("withdraw: %w", inner), "withdrawal rejected")

	if !Is(outer, CodeValidation) {
		t.Fatalf("expected outer code to match")
	}
	if !Is(outer, CodeInsufficientBalance) {
		t.Fatalf("expected nested code to match")
	}
	if Is(outer, CodeWrongStatus) {
		t.Fatalf("unexpected match for unrelated code")
	}
	if Is(stdErrors.New("plain"), CodeInternal) {
		t.Fatalf("plain errors carry no code")
	}
}

func TestWithDetails(t *testing.T) {
	err := New(CodeAmountMismatch, "mismatch").WithDetails(map[string]any{"expected": "18.83"})
	details, ok := err.Details().(map[string]any)
	if !ok || details["expected"] != "18.83" {
		t.Fatalf("unexpected details %#v", err.Details())
	}
	if As(fmt.Errorf("ctx: %w", err)) != err {
		t.Fatalf("expected As to find typed error through wrapping")
	}
}
