// Package accounts documents the fixed set of ledger accounts and the single
// table of default routes per transaction category.
package accounts

import (
	"github.com/angelmondragon/ledgerd/pkg/enums"
	pkgerrors "github.com/angelmondragon/ledgerd/pkg/errors"
)

// Owner says whose money an account balance represents.
type Owner string

const (
	OwnerPlatform Owner = "platform"
	OwnerUser     Owner = "user"
	OwnerExternal Owner = "external"
)

// Semantics describes one account tag.
type Semantics struct {
	Account enums.AccountType
	Owner   Owner
	// PassThrough accounts net to zero across completed transactions.
	PassThrough bool
	// Reversible accounts may be debited by a reversal, i.e. appear as the
	// destination of the record being reversed.
	Reversible  bool
	Description string
}

var table = map[enums.AccountType]Semantics{
	enums.AccountFund: {
		Owner: OwnerPlatform, PassThrough: true, Reversible: true,
		Description: "short-lived staging for incoming card and cash charges",
	},
	enums.AccountCard: {
		Owner: OwnerExternal, Reversible: true,
		Description: "customer card at the processor",
	},
	enums.AccountBank: {
		Owner: OwnerExternal, Reversible: true,
		Description: "user bank or payout account outside the platform",
	},
	enums.AccountCashDeposit: {
		Owner: OwnerExternal, Reversible: true,
		Description: "cash or wire received out of band",
	},
	enums.AccountEscrow: {
		Owner: OwnerUser, Reversible: true,
		Description: "money held in trust for a specific deliverable",
	},
	enums.AccountHoldings: {
		Owner: OwnerUser, Reversible: true,
		Description: "finalized earnings available for withdrawal",
	},
	enums.AccountReserve: {
		Owner: OwnerPlatform, Reversible: true,
		Description: "platform revenue from fees and subscriptions",
	},
	enums.AccountPayoutMirrorSource: {
		Owner:       OwnerPlatform,
		Description: "local-currency shadow of a payout, for tax reporting",
	},
	enums.AccountPayoutMirrorDestination: {
		Owner:       OwnerUser,
		Description: "local-currency shadow of a payout, for tax reporting",
	},
	enums.AccountCardTransactionFees: {
		Owner:       OwnerExternal,
		Description: "fees kept by the card processor",
	},
	enums.AccountACHTransactionFees: {
		Owner:       OwnerExternal,
		Description: "fees kept by the bank transfer service",
	},
	enums.AccountMoneyHoleStage: {
		Owner: OwnerPlatform, Reversible: true,
		Description: "tax collected and awaiting remittance",
	},
	enums.AccountMoneyHole: {
		Owner:       OwnerExternal,
		Description: "tax remitted to the authority",
	},
	enums.AccountFraudLoss: {
		Owner:       OwnerPlatform,
		Description: "written-off losses from fraudulent payments",
	},
}

// Describe returns the semantics for account.
func Describe(account enums.AccountType) (Semantics, bool) {
	s, ok := table[account]
	if ok {
		s.Account = account
	}
	return s, ok
}

// IsPassThrough reports whether account must net to zero.
func IsPassThrough(account enums.AccountType) bool {
	return table[account].PassThrough
}

// PassThroughAccounts lists every account subject to the conservation check.
func PassThroughAccounts() []enums.AccountType {
	var out []enums.AccountType
	for _, account := range enums.AccountTypes() {
		if IsPassThrough(account) {
			out = append(out, account)
		}
	}
	return out
}

// IsReversible reports whether a record crediting account can be reversed.
func IsReversible(account enums.AccountType) bool {
	return table[account].Reversible
}

// IsUserOwned reports whether balances in account belong to a user.
func IsUserOwned(account enums.AccountType) bool {
	return table[account].Owner == OwnerUser
}

// IsExternal reports whether account sits outside the platform, so moving
// money in or out of it needs a gateway call.
func IsExternal(account enums.AccountType) bool {
	return table[account].Owner == OwnerExternal
}

// Validate rejects unknown account tags.
func Validate(account enums.AccountType) error {
	if !account.IsValid() {
		return pkgerrors.Newf(pkgerrors.CodeValidation, "unknown account %q", account)
	}
	return nil
}
