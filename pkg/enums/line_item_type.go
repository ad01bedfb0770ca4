package enums

import "fmt"

// LineItemType names the priced component a line item represents.
type LineItemType string

const (
	LineItemBasePrice           LineItemType = "base_price"
	LineItemAddOn               LineItemType = "add_on"
	LineItemShield              LineItemType = "shield"
	LineItemBonus               LineItemType = "bonus"
	LineItemTip                 LineItemType = "tip"
	LineItemTax                 LineItemType = "tax"
	LineItemExtra               LineItemType = "extra"
	LineItemPremiumSubscription LineItemType = "premium_subscription"
	LineItemProcessingFee       LineItemType = "processing_fee"
	LineItemReconciliation      LineItemType = "reconciliation"
)

var validLineItemTypes = []LineItemType{
	LineItemBasePrice,
	LineItemAddOn,
	LineItemShield,
	LineItemBonus,
	LineItemTip,
	LineItemTax,
	LineItemExtra,
	LineItemPremiumSubscription,
	LineItemProcessingFee,
	LineItemReconciliation,
}

// String implements fmt.Stringer.
func (t LineItemType) String() string {
	return string(t)
}

// IsValid reports whether the value is known.
func (t LineItemType) IsValid() bool {
	for _, candidate := range validLineItemTypes {
		if candidate == t {
			return true
		}
	}
	return false
}

// ParseLineItemType converts raw input into a LineItemType.
func ParseLineItemType(value string) (LineItemType, error) {
	for _, candidate := range validLineItemTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid line item type %q", value)
}
