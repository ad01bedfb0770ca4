package controllers

import (
	"context"
	"net/http"
	"strings"

	"github.com/angelmondragon/ledgerd/api/responses"
	"github.com/angelmondragon/ledgerd/api/validators"
	"github.com/angelmondragon/ledgerd/internal/ledger"
	"github.com/angelmondragon/ledgerd/pkg/db/models"
	"github.com/angelmondragon/ledgerd/pkg/enums"
	pkgerrors "github.com/angelmondragon/ledgerd/pkg/errors"
	"github.com/angelmondragon/ledgerd/pkg/logger"
	"github.com/angelmondragon/ledgerd/pkg/pagination"
)

// RecordFinder lists transaction records.
type RecordFinder interface {
	Find(ctx context.Context, q ledger.Query) ([]models.TransactionRecord, error)
}

// Transactions lists records where the user is payer or payee, newest
// first. Query: limit, cursor, status.
func Transactions(svc RecordFinder, logg *logger.Logger) http.HandlerFunc {
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
		limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		cursor, err := pagination.ParseCursor(query.Get("cursor"))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor"))
			return
		}
		q := ledger.Query{
			Party:       &userID,
			NewestFirst: true,
			After:       cursor,
			Limit:       pagination.LimitWithBuffer(limit),
		}
		if raw := strings.TrimSpace(query.Get("status")); raw != "" {
			status := enums.TransactionStatus(strings.ToLower(raw))
			if !status.IsValid() {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Newf(pkgerrors.CodeValidation, "invalid status %q", raw))
				return
			}
			q.Statuses = []enums.TransactionStatus{status}
		}

		records, err := svc.Find(r.Context(), q)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		page := pagination.Paginate(records, limit, func(rec models.TransactionRecord) pagination.Cursor {
			return pagination.Cursor{CreatedOn: rec.CreatedOn, ID: rec.ID}
		})
		responses.WriteSuccess(w, pagination.Page[recordResponse]{
			Items:      recordsOf(page.Items),
			NextCursor: page.NextCursor,
		})
	}
}
