package controllers

import (
	"context"
	"net/http"

	"github.com/angelmondragon/ledgerd/api/responses"
	"github.com/angelmondragon/ledgerd/api/validators"
	"github.com/angelmondragon/ledgerd/internal/payments"
	"github.com/angelmondragon/ledgerd/pkg/enums"
	pkgerrors "github.com/angelmondragon/ledgerd/pkg/errors"
	"github.com/angelmondragon/ledgerd/pkg/logger"
)

// Charger pays invoices through a gateway.
type Charger interface {
	Charge(ctx context.Context, input payments.ChargeInput) (*payments.ChargeResult, error)
}

type chargeRequest struct {
	PaymentToken string `json:"payment_token" validate:"required"`
	Provider     string `json:"provider,omitempty" validate:"omitempty,oneof=stripe square"`
}

type chargeResponse struct {
	InvoiceID     string           `json:"invoice_id"`
	InvoiceStatus string           `json:"invoice_status"`
	Outcome       string           `json:"outcome"`
	Records       []recordResponse `json:"records"`
}

// ChargeInvoice attempts payment of an open invoice. A declined card is a
// successful request whose outcome is "failed".
func ChargeInvoice(svc Charger, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payment service unavailable"))
			return
		}
		invoiceID, err := pathUUID(r, "id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var payload chargeRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		ctx := r.Context()
		if logg != nil {
			ctx = logg.WithInvoiceID(ctx, invoiceID.String())
		}

		result, err := svc.Charge(ctx, payments.ChargeInput{
			InvoiceID:    invoiceID,
			PaymentToken: validators.SanitizeString(payload.PaymentToken, maxTokenLen),
			Provider:     enums.GatewayProvider(payload.Provider),
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		resp := chargeResponse{
			InvoiceID: invoiceID.String(),
			Records:   recordsOf(result.Records),
		}
		if result.Invoice != nil {
			resp.InvoiceStatus = string(result.Invoice.Status)
		}
		status := http.StatusOK
		switch {
		case result.Pending:
			resp.Outcome = "pending"
			status = http.StatusAccepted
		case result.Duplicate:
			resp.Outcome = "duplicate"
		case result.Succeeded():
			resp.Outcome = "paid"
		default:
			resp.Outcome = "failed"
		}
		responses.WriteSuccessStatus(w, status, resp)
	}
}
