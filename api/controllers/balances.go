package controllers

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/angelmondragon/ledgerd/api/responses"
	"github.com/angelmondragon/ledgerd/internal/accounts"
	"github.com/angelmondragon/ledgerd/internal/ledger"
	"github.com/angelmondragon/ledgerd/pkg/enums"
	pkgerrors "github.com/angelmondragon/ledgerd/pkg/errors"
	"github.com/angelmondragon/ledgerd/pkg/logger"
	"github.com/angelmondragon/ledgerd/pkg/money"
)

// BalanceReader answers balance questions.
type BalanceReader interface {
	Balance(ctx context.Context, q ledger.BalanceQuery) (money.Money, error)
	AvailableBalance(ctx context.Context, entity uuid.UUID, account enums.AccountType, currency enums.Currency) (money.Money, error)
}

type balanceResponse struct {
	UserID    string         `json:"user_id"`
	Account   string         `json:"account"`
	Filter    string         `json:"filter"`
	Balance   amountResponse `json:"balance"`
	Available amountResponse `json:"available"`
}

// Balances returns a user's balance in one account, HOLDINGS by default.
// Query: account, filter (success|pending|success_or_pending), currency.
func Balances(svc BalanceReader, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "ledger unavailable"))
			return
		}
		userID, err := pathUUID(r, "userID")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		query := r.URL.Query()
		account := enums.AccountHoldings
		if raw := strings.TrimSpace(query.Get("account")); raw != "" {
			account = enums.AccountType(strings.ToUpper(raw))
		}
		if err := accounts.Validate(account); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		filter, err := enums.ParseBalanceFilter(strings.TrimSpace(query.Get("filter")))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid filter"))
			return
		}
		var currency enums.Currency
		if raw := strings.TrimSpace(query.Get("currency")); raw != "" {
			currency, err = enums.ParseCurrency(raw)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid currency"))
				return
			}
		}

		balance, err := svc.Balance(r.Context(), ledger.BalanceQuery{Entity: &userID, Account: account, Filter: filter, Currency: currency})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		available, err := svc.AvailableBalance(r.Context(), userID, account, balance.Currency)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, balanceResponse{
			UserID:    userID.String(),
			Account:   string(account),
			Filter:    string(filter),
			Balance:   amountOf(balance),
			Available: amountOf(available),
		})
	}
}
