// Package types holds the JSON envelopes every ledgerd endpoint answers with.
package types

// RequestIDHeader carries the request id on requests and responses.
const RequestIDHeader = "X-Request-Id"

type SuccessEnvelope struct {
	Data any `json:"data"`
}

// APIError is the public face of a typed error. Code is stable for clients
// (INSUFFICIENT_BALANCE, INTENT_MISMATCH); Message may change wording.
// Retryable tells the caller whether the same request can be sent again,
// which for charges and withdrawals means with the same idempotency key.
type APIError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
	RequestID string `json:"request_id,omitempty"`
	Details   any    `json:"details,omitempty"`
}

type ErrorEnvelope struct {
	Error APIError `json:"error"`
}
