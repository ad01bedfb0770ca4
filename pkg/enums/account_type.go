package enums

import "fmt"

// AccountType tags the logical account on either side of a transaction record.
// Accounts are not rows; they are a closed set of labels.
type AccountType string

const (
	AccountFund                    AccountType = "FUND"
	AccountCard                    AccountType = "CARD"
	AccountBank                    AccountType = "BANK"
	AccountCashDeposit             AccountType = "CASH_DEPOSIT"
	AccountEscrow                  AccountType = "ESCROW"
	AccountHoldings                AccountType = "HOLDINGS"
	AccountReserve                 AccountType = "RESERVE"
	AccountPayoutMirrorSource      AccountType = "PAYOUT_MIRROR_SOURCE"
	AccountPayoutMirrorDestination AccountType = "PAYOUT_MIRROR_DESTINATION"
	AccountCardTransactionFees     AccountType = "CARD_TRANSACTION_FEES"
	AccountACHTransactionFees      AccountType = "ACH_TRANSACTION_FEES"
	AccountMoneyHole               AccountType = "MONEY_HOLE"
	AccountMoneyHoleStage          AccountType = "MONEY_HOLE_STAGE"
	AccountFraudLoss               AccountType = "FRAUD_LOSS"
)

var validAccountTypes = []AccountType{
	AccountFund,
	AccountCard,
	AccountBank,
	AccountCashDeposit,
	AccountEscrow,
	AccountHoldings,
	AccountReserve,
	AccountPayoutMirrorSource,
	AccountPayoutMirrorDestination,
	AccountCardTransactionFees,
	AccountACHTransactionFees,
	AccountMoneyHole,
	AccountMoneyHoleStage,
	AccountFraudLoss,
}

// AccountTypes returns every known account tag in declaration order.
func AccountTypes() []AccountType {
	out := make([]AccountType, len(validAccountTypes))
	copy(out, validAccountTypes)
	return out
}

// String implements fmt.Stringer.
func (a AccountType) String() string {
	return string(a)
}

// IsValid reports whether the value is known.
func (a AccountType) IsValid() bool {
	for _, candidate := range validAccountTypes {
		if candidate == a {
			return true
		}
	}
	return false
}

// ParseAccountType converts raw input into an AccountType.
func ParseAccountType(value string) (AccountType, error) {
	for _, candidate := range validAccountTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid account type %q", value)
}
