package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/ledgerd/api/responses"
	"github.com/angelmondragon/ledgerd/api/validators"
	"github.com/angelmondragon/ledgerd/internal/billing"
	"github.com/angelmondragon/ledgerd/pkg/db/models"
	"github.com/angelmondragon/ledgerd/pkg/enums"
	pkgerrors "github.com/angelmondragon/ledgerd/pkg/errors"
	"github.com/angelmondragon/ledgerd/pkg/logger"
	"github.com/angelmondragon/ledgerd/pkg/money"
)

// Subscriptions starts and stops premium subscriptions.
type Subscriptions interface {
	Subscribe(ctx context.Context, input billing.SubscribeInput) (*models.Subscription, error)
	Cancel(ctx context.Context, id uuid.UUID) error
}

type subscribeRequest struct {
	UserID       string `json:"user_id" validate:"required,uuid"`
	Amount       string `json:"amount" validate:"required,amount"`
	Currency     string `json:"currency,omitempty" validate:"omitempty,currency"`
	PaymentToken string `json:"payment_token" validate:"required"`
}

type subscriptionResponse struct {
	ID               string         `json:"id"`
	UserID           string         `json:"user_id"`
	Status           string         `json:"status"`
	Amount           amountResponse `json:"amount"`
	CurrentPeriodEnd time.Time      `json:"current_period_end"`
}

// Subscribe creates a subscription whose first term is billed by the next
// renewal run.
func Subscribe(svc Subscriptions, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "billing service unavailable"))
			return
		}
		var payload subscribeRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		amount, err := parseAmount(payload.Amount, payload.Currency)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		sub, err := svc.Subscribe(r.Context(), billing.SubscribeInput{
			UserID:       uuid.MustParse(payload.UserID),
			Amount:       amount.Amount,
			Currency:     amount.Currency,
			PaymentToken: validators.SanitizeString(payload.PaymentToken, maxTokenLen),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, subscriptionOf(sub))
	}
}

// CancelSubscription stops future renewals.
func CancelSubscription(svc Subscriptions, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "billing service unavailable"))
			return
		}
		id, err := pathUUID(r, "id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if err := svc.Cancel(r.Context(), id); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]string{"id": id.String(), "status": string(enums.SubscriptionCanceled)})
	}
}

func subscriptionOf(sub *models.Subscription) subscriptionResponse {
	return subscriptionResponse{
		ID:               sub.ID.String(),
		UserID:           sub.UserID.String(),
		Status:           string(sub.Status),
		Amount:           amountOf(money.New(sub.Amount, sub.Currency)),
		CurrentPeriodEnd: sub.CurrentPeriodEnd.UTC(),
	}
}

