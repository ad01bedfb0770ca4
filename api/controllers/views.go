package controllers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/ledgerd/api/validators"
	"github.com/angelmondragon/ledgerd/pkg/db/models"
	"github.com/angelmondragon/ledgerd/pkg/money"
)

// Gateway tokens are opaque; anything longer is not one.
const maxTokenLen = 255

type amountResponse struct {
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
}

func amountOf(m money.Money) amountResponse {
	return amountResponse{Amount: m.Amount.StringFixed(money.Digits(m.Currency)), Currency: string(m.Currency)}
}

type recordResponse struct {
	ID              string     `json:"id"`
	Status          string     `json:"status"`
	Category        string     `json:"category"`
	Source          string     `json:"source"`
	Destination     string     `json:"destination"`
	Amount          string     `json:"amount"`
	Currency        string     `json:"currency"`
	PayerID         *string    `json:"payer_id,omitempty"`
	PayeeID         *string    `json:"payee_id,omitempty"`
	RemoteIDs       []string   `json:"remote_ids"`
	ResponseMessage string     `json:"response_message,omitempty"`
	ReversalOfID    *string    `json:"reversal_of_id,omitempty"`
	CreatedOn       time.Time  `json:"created_on"`
	FinalizedOn     *time.Time `json:"finalized_on,omitempty"`
}

func recordOf(rec *models.TransactionRecord) recordResponse {
	resp := recordResponse{
		ID:              rec.ID.String(),
		Status:          string(rec.Status),
		Category:        string(rec.Category),
		Source:          string(rec.Source),
		Destination:     string(rec.Destination),
		Amount:          rec.Amount.StringFixed(money.Digits(rec.Currency)),
		Currency:        string(rec.Currency),
		PayerID:         idString(rec.PayerID),
		PayeeID:         idString(rec.PayeeID),
		RemoteIDs:       append([]string{}, rec.RemoteIDs...),
		ResponseMessage: rec.ResponseMessage,
		ReversalOfID:    idString(rec.ReversalOfID),
		CreatedOn:       rec.CreatedOn.UTC(),
		FinalizedOn:     rec.FinalizedOn,
	}
	return resp
}

func recordsOf(records []models.TransactionRecord) []recordResponse {
	out := make([]recordResponse, 0, len(records))
	for i := range records {
		out = append(out, recordOf(&records[i]))
	}
	return out
}

func idString(id *uuid.UUID) *string {
	if id == nil {
		return nil
	}
	s := id.String()
	return &s
}

func pathUUID(r *http.Request, param string) (uuid.UUID, error) {
	return validators.ParseUUIDParam(param, chi.URLParam(r, param))
}
