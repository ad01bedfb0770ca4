package enums

import "fmt"

// TransactionStatus is the lifecycle state of a transaction record.
type TransactionStatus string

const (
	TransactionPending TransactionStatus = "pending"
	TransactionSuccess TransactionStatus = "success"
	TransactionFailure TransactionStatus = "failure"
)

var validTransactionStatuses = []TransactionStatus{
	TransactionPending,
	TransactionSuccess,
	TransactionFailure,
}

// String implements fmt.Stringer.
func (s TransactionStatus) String() string {
	return string(s)
}

// IsValid reports whether the value is known.
func (s TransactionStatus) IsValid() bool {
	for _, candidate := range validTransactionStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the record has left pending.
func (s TransactionStatus) IsTerminal() bool {
	return s == TransactionSuccess || s == TransactionFailure
}

// ParseTransactionStatus converts raw input into a TransactionStatus.
func ParseTransactionStatus(value string) (TransactionStatus, error) {
	for _, candidate := range validTransactionStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid transaction status %q", value)
}

// BalanceFilter selects which record statuses count toward a balance.
type BalanceFilter string

const (
	BalanceSuccess          BalanceFilter = "success"
	BalancePending          BalanceFilter = "pending"
	BalanceSuccessOrPending BalanceFilter = "success_or_pending"
)

// Statuses expands the filter into the statuses it matches.
func (f BalanceFilter) Statuses() []TransactionStatus {
	switch f {
	case BalancePending:
		return []TransactionStatus{TransactionPending}
	case BalanceSuccessOrPending:
		return []TransactionStatus{TransactionSuccess, TransactionPending}
	default:
		return []TransactionStatus{TransactionSuccess}
	}
}

// ParseBalanceFilter converts raw input into a BalanceFilter.
func ParseBalanceFilter(value string) (BalanceFilter, error) {
	switch BalanceFilter(value) {
	case BalanceSuccess, BalancePending, BalanceSuccessOrPending:
		return BalanceFilter(value), nil
	case "":
		return BalanceSuccess, nil
	}
	return "", fmt.Errorf("invalid balance filter %q", value)
}
