package accounts

import (
	"github.com/angelmondragon/ledgerd/pkg/enums"
	pkgerrors "github.com/angelmondragon/ledgerd/pkg/errors"
)

// Route is a source -> destination pair.
type Route struct {
	Source      enums.AccountType
	Destination enums.AccountType
}

// Categories without an entry (internal transfers, corrections) must name both accounts.
var defaultRoutes = map[enums.TransactionCategory]Route{
	enums.CategoryFunding:          {enums.AccountCard, enums.AccountFund},
	enums.CategoryEscrowHold:       {enums.AccountFund, enums.AccountEscrow},
	enums.CategoryEscrowRelease:    {enums.AccountEscrow, enums.AccountHoldings},
	enums.CategoryEscrowRefund:     {enums.AccountEscrow, enums.AccountCard},
	enums.CategoryServiceFee:       {enums.AccountFund, enums.AccountReserve},
	enums.CategorySubscriptionDues: {enums.AccountFund, enums.AccountReserve},
	enums.CategoryCashWithdrawal:   {enums.AccountHoldings, enums.AccountBank},
	enums.CategoryThirdPartyFee:    {enums.AccountFund, enums.AccountCardTransactionFees},
	enums.CategoryPremiumBonus:     {enums.AccountReserve, enums.AccountHoldings},
	enums.CategoryTax:              {enums.AccountFund, enums.AccountMoneyHoleStage},
	enums.CategoryTaxSettlement:    {enums.AccountMoneyHoleStage, enums.AccountMoneyHole},
	enums.CategoryVendorPayment:    {enums.AccountReserve, enums.AccountBank},
	enums.CategoryPayoutReversal:   {enums.AccountBank, enums.AccountHoldings},
	enums.CategoryTip:              {enums.AccountFund, enums.AccountHoldings},
	enums.CategoryThirdPartyRefund: {enums.AccountFund, enums.AccountCard},
	enums.CategoryCashDeposit:      {enums.AccountCashDeposit, enums.AccountFund},
	enums.CategoryFraudLoss:        {enums.AccountEscrow, enums.AccountFraudLoss},
	enums.CategoryPayoutMirror:     {enums.AccountPayoutMirrorSource, enums.AccountPayoutMirrorDestination},
}

// DefaultRoute returns the default accounts for category.
func DefaultRoute(category enums.TransactionCategory) (Route, bool) {
	r, ok := defaultRoutes[category]
	return r, ok
}

// Resolve fills whichever side of the route the caller left empty from the
// category's default. Both sides must end up valid and distinct.
func Resolve(category enums.TransactionCategory, source, destination enums.AccountType) (Route, error) {
	if !category.IsValid() {
		return Route{}, pkgerrors.Newf(pkgerrors.CodeValidation, "unknown transaction category %q", category)
	}
	route := Route{Source: source, Destination: destination}
	if route.Source == "" || route.Destination == "" {
		def, ok := DefaultRoute(category)
		if !ok {
			return Route{}, pkgerrors.Newf(pkgerrors.CodeValidation, "category %s requires explicit source and destination", category)
		}
		if route.Source == "" {
			route.Source = def.Source
		}
		if route.Destination == "" {
			route.Destination = def.Destination
		}
	}
	if err := Validate(route.Source); err != nil {
		return Route{}, err
	}
	if err := Validate(route.Destination); err != nil {
		return Route{}, err
	}
	if route.Source == route.Destination {
		return Route{}, pkgerrors.Newf(pkgerrors.CodeValidation, "source and destination are both %s", route.Source)
	}
	return route, nil
}

// PaymentSources are the accounts a charge may be drawn from.
var PaymentSources = []enums.AccountType{enums.AccountCard, enums.AccountBank, enums.AccountCashDeposit}

// IsPaymentSource reports whether account can fund an invoice.
func IsPaymentSource(account enums.AccountType) bool {
	for _, candidate := range PaymentSources {
		if candidate == account {
			return true
		}
	}
	return false
}

// FundingCategory is the category of the source -> FUND leg for a payment source.
func FundingCategory(source enums.AccountType) enums.TransactionCategory {
	if source == enums.AccountCashDeposit {
		return enums.CategoryCashDeposit
	}
	return enums.CategoryFunding
}

// LineItemRoute is where the slice of a paid invoice belonging to one line item lands.
type LineItemRoute struct {
	Destination enums.AccountType
	Category    enums.TransactionCategory
}

var lineItemRoutes = map[enums.LineItemType]LineItemRoute{
	enums.LineItemBasePrice:           {enums.AccountEscrow, enums.CategoryEscrowHold},
	enums.LineItemAddOn:               {enums.AccountEscrow, enums.CategoryEscrowHold},
	enums.LineItemExtra:               {enums.AccountEscrow, enums.CategoryEscrowHold},
	enums.LineItemBonus:               {enums.AccountEscrow, enums.CategoryEscrowHold},
	enums.LineItemShield:              {enums.AccountReserve, enums.CategoryServiceFee},
	enums.LineItemProcessingFee:       {enums.AccountCardTransactionFees, enums.CategoryThirdPartyFee},
	enums.LineItemTax:                 {enums.AccountMoneyHoleStage, enums.CategoryTax},
	enums.LineItemTip:                 {enums.AccountHoldings, enums.CategoryTip},
	enums.LineItemPremiumSubscription: {enums.AccountReserve, enums.CategorySubscriptionDues},
	enums.LineItemReconciliation:      {enums.AccountReserve, enums.CategoryCorrection},
}

// RouteForLineItem returns where a line item's money goes. An explicit
// destination account on the line overrides the type default.
func RouteForLineItem(itemType enums.LineItemType, override *enums.AccountType) (LineItemRoute, error) {
	route, ok := lineItemRoutes[itemType]
	if !ok {
		return LineItemRoute{}, pkgerrors.Newf(pkgerrors.CodeValidation, "no route for line item type %q", itemType)
	}
	if override != nil && *override != "" {
		if err := Validate(*override); err != nil {
			return LineItemRoute{}, err
		}
		route.Destination = *override
	}
	return route, nil
}
