package controllers

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/angelmondragon/ledgerd/api/responses"
	"github.com/angelmondragon/ledgerd/api/validators"
	"github.com/angelmondragon/ledgerd/internal/payouts"
	"github.com/angelmondragon/ledgerd/pkg/enums"
	pkgerrors "github.com/angelmondragon/ledgerd/pkg/errors"
	"github.com/angelmondragon/ledgerd/pkg/logger"
	"github.com/angelmondragon/ledgerd/pkg/money"
)

// Withdrawer moves seller holdings to their bank.
type Withdrawer interface {
	Withdraw(ctx context.Context, userID uuid.UUID, amount money.Money) (*payouts.Payout, error)
	WithdrawAll(ctx context.Context, userID uuid.UUID) (*payouts.Payout, error)
}

type withdrawalRequest struct {
	UserID   string `json:"user_id" validate:"required,uuid"`
	Amount   string `json:"amount,omitempty" validate:"omitempty,amount"`
	Currency string `json:"currency,omitempty" validate:"omitempty,currency"`
}

type withdrawalResponse struct {
	UserID         string           `json:"user_id"`
	Status         string           `json:"status"`
	Amount         amountResponse   `json:"amount"`
	RemoteID       string           `json:"remote_id,omitempty"`
	Reason         string           `json:"reason,omitempty"`
	DeliverableIDs []string         `json:"deliverable_ids"`
	Records        []recordResponse `json:"records"`
}

// Withdrawals pays out a requested amount, or the whole available balance
// when amount is omitted.
func Withdrawals(svc Withdrawer, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payout service unavailable"))
			return
		}

		var payload withdrawalRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		userID := uuid.MustParse(payload.UserID)

		var (
			payout *payouts.Payout
			err    error
		)
		if strings.TrimSpace(payload.Amount) == "" {
			payout, err = svc.WithdrawAll(r.Context(), userID)
		} else {
			amount, parseErr := parseAmount(payload.Amount, payload.Currency)
			if parseErr != nil {
				responses.WriteError(r.Context(), logg, w, parseErr)
				return
			}
			payout, err = svc.Withdraw(r.Context(), userID, amount)
		}
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		status := http.StatusOK
		if payout.Status == payouts.StatusPending {
			status = http.StatusAccepted
		}
		resp := withdrawalResponse{
			UserID:         payout.UserID.String(),
			Status:         string(payout.Status),
			Amount:         amountOf(payout.Amount),
			RemoteID:       payout.RemoteID,
			Reason:         payout.Reason,
			DeliverableIDs: make([]string, 0, len(payout.DeliverableIDs)),
			Records:        recordsOf(payout.Records),
		}
		for _, id := range payout.DeliverableIDs {
			resp.DeliverableIDs = append(resp.DeliverableIDs, id.String())
		}
		responses.WriteSuccessStatus(w, status, resp)
	}
}

func parseAmount(amount, currency string) (money.Money, error) {
	cur := enums.CurrencyUSD
	if strings.TrimSpace(currency) != "" {
		parsed, err := enums.ParseCurrency(currency)
		if err != nil {
			return money.Money{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid currency")
		}
		cur = parsed
	}
	m, err := money.Parse(amount, cur)
	if err != nil {
		return money.Money{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid amount")
	}
	if !m.IsPositive() {
		return money.Money{}, pkgerrors.New(pkgerrors.CodeValidation, "amount must be positive")
	}
	return m, nil
}
