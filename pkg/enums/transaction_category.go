package enums

import "fmt"

// TransactionCategory classifies why money moved.
type TransactionCategory string

const (
	CategoryFunding          TransactionCategory = "funding"
	CategoryEscrowHold       TransactionCategory = "escrow_hold"
	CategoryEscrowRelease    TransactionCategory = "escrow_release"
	CategoryEscrowRefund     TransactionCategory = "escrow_refund"
	CategoryServiceFee       TransactionCategory = "service_fee"
	CategorySubscriptionDues TransactionCategory = "subscription_dues"
	CategoryCashWithdrawal   TransactionCategory = "cash_withdrawal"
	CategoryThirdPartyFee    TransactionCategory = "third_party_fee"
	CategoryPremiumBonus     TransactionCategory = "premium_bonus"
	CategoryInternalTransfer TransactionCategory = "internal_transfer"
	CategoryCorrection       TransactionCategory = "correction"
	CategoryTax              TransactionCategory = "tax"
	CategoryTaxSettlement    TransactionCategory = "tax_settlement"
	CategoryVendorPayment    TransactionCategory = "vendor_payment"
	CategoryPayoutReversal   TransactionCategory = "payout_reversal"
	CategoryTip              TransactionCategory = "tip"
	CategoryThirdPartyRefund TransactionCategory = "third_party_refund"
	CategoryCashDeposit      TransactionCategory = "cash_deposit"
	CategoryFraudLoss        TransactionCategory = "fraud_loss"
	CategoryPayoutMirror     TransactionCategory = "payout_mirror"
)

var validTransactionCategories = []TransactionCategory{
	CategoryFunding,
	CategoryEscrowHold,
	CategoryEscrowRelease,
	CategoryEscrowRefund,
	CategoryServiceFee,
	CategorySubscriptionDues,
	CategoryCashWithdrawal,
	CategoryThirdPartyFee,
	CategoryPremiumBonus,
	CategoryInternalTransfer,
	CategoryCorrection,
	CategoryTax,
	CategoryTaxSettlement,
	CategoryVendorPayment,
	CategoryPayoutReversal,
	CategoryTip,
	CategoryThirdPartyRefund,
	CategoryCashDeposit,
	CategoryFraudLoss,
	CategoryPayoutMirror,
}

// String implements fmt.Stringer.
func (c TransactionCategory) String() string {
	return string(c)
}

// IsValid reports whether the value is known.
func (c TransactionCategory) IsValid() bool {
	for _, candidate := range validTransactionCategories {
		if candidate == c {
			return true
		}
	}
	return false
}

// ParseTransactionCategory converts raw input into a TransactionCategory.
func ParseTransactionCategory(value string) (TransactionCategory, error) {
	for _, candidate := range validTransactionCategories {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid transaction category %q", value)
}
