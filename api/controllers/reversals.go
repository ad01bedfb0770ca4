package controllers

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/angelmondragon/ledgerd/api/responses"
	"github.com/angelmondragon/ledgerd/internal/reversals"
	pkgerrors "github.com/angelmondragon/ledgerd/pkg/errors"
	"github.com/angelmondragon/ledgerd/pkg/logger"
)

// Reverser synthesizes inverse transactions.
type Reverser interface {
	Reverse(ctx context.Context, recordID uuid.UUID) (*reversals.Result, error)
	ReverseChain(ctx context.Context, recordID uuid.UUID) ([]reversals.Result, error)
}

type reverseResponse struct {
	OriginalID string         `json:"original_id"`
	Reversal   recordResponse `json:"reversal"`
	Created    bool           `json:"created"`
}

// ReverseTransaction reverses one record, or with ?chain=true the record and
// every upstream record it was funded from.
func ReverseTransaction(svc Reverser, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "reversal service unavailable"))
			return
		}
		recordID, err := pathUUID(r, "id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		ctx := r.Context()
		if logg != nil {
			ctx = logg.WithTransactionID(ctx, recordID.String())
		}

		var results []reversals.Result
		if r.URL.Query().Get("chain") == "true" {
			results, err = svc.ReverseChain(ctx, recordID)
		} else {
			var res *reversals.Result
			res, err = svc.Reverse(ctx, recordID)
			if res != nil {
				results = []reversals.Result{*res}
			}
		}
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		out := make([]reverseResponse, 0, len(results))
		created := false
		for _, res := range results {
			out = append(out, reverseResponse{
				OriginalID: res.Original.ID.String(),
				Reversal:   recordOf(res.Reversal),
				Created:    res.IsNew,
			})
			created = created || res.IsNew
		}
		status := http.StatusOK
		if created {
			status = http.StatusCreated
		}
		responses.WriteSuccessStatus(w, status, out)
	}
}
