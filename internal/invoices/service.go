// Package invoices owns the invoice lifecycle and its priced line items.
package invoices

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/angelmondragon/ledgerd/internal/accounts"
	"github.com/angelmondragon/ledgerd/internal/lineitems"
	"github.com/angelmondragon/ledgerd/pkg/db/models"
	"github.com/angelmondragon/ledgerd/pkg/enums"
	pkgerrors "github.com/angelmondragon/ledgerd/pkg/errors"
	"github.com/angelmondragon/ledgerd/pkg/logger"
	"github.com/angelmondragon/ledgerd/pkg/money"
)

// CustomerRounding is applied to every invoice total shown to a customer.
const CustomerRounding = money.RoundHalfUp

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// LineItemInput describes a line to add to an invoice.
type LineItemInput struct {
	Type               enums.LineItemType
	Amount             decimal.Decimal
	Percentage         decimal.Decimal
	Priority           int
	CascadePercentage  bool
	CascadeAmount      bool
	DestinationUserID  *uuid.UUID
	DestinationAccount *enums.AccountType
	Description        string
	Metadata           map[string]any
}

// CreateInput describes a new invoice.
type CreateInput struct {
	Type           enums.InvoiceType
	Currency       enums.Currency
	BillToID       *uuid.UUID
	IssuedByID     *uuid.UUID
	RecordOnly     bool
	PaymentSource  enums.AccountType
	DeliverableID  *uuid.UUID
	SubscriptionID *uuid.UUID
	ExpiresOn      *time.Time
	Open           bool
	LineItems      []LineItemInput
}

// Totals is an invoice total with the per-line breakdown, aligned with
// Invoice.LineItems.
type Totals struct {
	Total     money.Money
	Discount  money.Money
	Subtotals []money.Money
}

// ServiceParams wires the invoice service.
type ServiceParams struct {
	Repo   Repository
	Tx     txRunner
	Logger *logger.Logger
	Now    func() time.Time
}

// Service manages invoices. Methods that mutate take the invoice lock, so
// they are safe to call concurrently for the same invoice.
type Service struct {
	repo Repository
	tx   txRunner
	logg *logger.Logger
	now  func() time.Time
}

// NewService builds an invoice service.
func NewService(params ServiceParams) (*Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("invoice repository required")
	}
	if params.Tx == nil {
		return nil, fmt.Errorf("tx runner required")
	}
	if params.Now == nil {
		params.Now = func() time.Time { return time.Now().UTC() }
	}
	return &Service{repo: params.Repo, tx: params.Tx, logg: params.Logger, now: params.Now}, nil
}

// InTx returns the repository bound to tx, for callers composing invoice
// changes into a larger transaction.
func (s *Service) InTx(tx *gorm.DB) Repository {
	return s.repo.WithTx(tx)
}

func (s *Service) Create(ctx context.Context, input CreateInput) (*models.Invoice, error) {
	if !input.Type.IsValid() {
		return nil, pkgerrors.Newf(pkgerrors.CodeValidation, "invalid invoice type %q", input.Type)
	}
	if !input.Currency.IsValid() {
		return nil, pkgerrors.Newf(pkgerrors.CodeValidation, "invalid currency %q", input.Currency)
	}
	source := input.PaymentSource
	if source == "" {
		source = enums.AccountCard
	}
	if !accounts.IsPaymentSource(source) {
		return nil, pkgerrors.Newf(pkgerrors.CodeValidation, "%s cannot fund an invoice", source)
	}

	status := enums.InvoiceDraft
	if input.Open {
		status = enums.InvoiceOpen
	}
	invoice := &models.Invoice{
		Status:         status,
		Type:           input.Type,
		Currency:       input.Currency,
		BillToID:       input.BillToID,
		IssuedByID:     input.IssuedByID,
		RecordOnly:     input.RecordOnly,
		PaymentSource:  source,
		DeliverableID:  input.DeliverableID,
		SubscriptionID: input.SubscriptionID,
		ExpiresOn:      input.ExpiresOn,
	}
	for _, line := range input.LineItems {
		item, err := buildLineItem(line)
		if err != nil {
			return nil, err
		}
		invoice.LineItems = append(invoice.LineItems, *item)
	}

	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if err := repo.Create(ctx, invoice); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create invoice")
		}
		loaded, err := repo.FindByID(ctx, invoice.ID, false)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "reload invoice")
		}
		invoice = loaded
		return nil
	})
	if err != nil {
		return nil, err
	}
	return invoice, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*models.Invoice, error) {
	return load(ctx, s.repo, id, false)
}

// AddLineItem appends a line to an editable invoice.
func (s *Service) AddLineItem(ctx context.Context, invoiceID uuid.UUID, input LineItemInput) (*models.LineItem, error) {
	item, err := buildLineItem(input)
	if err != nil {
		return nil, err
	}
	err = s.mutate(ctx, invoiceID, func(repo Repository, invoice *models.Invoice) error {
		if !invoice.Status.Editable() {
			return lockedError(invoice)
		}
		item.InvoiceID = invoice.ID
		if err := repo.CreateLineItem(ctx, item); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create line item")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return item, nil
}

// RemoveLineItem deletes a line from an editable invoice.
func (s *Service) RemoveLineItem(ctx context.Context, invoiceID, lineItemID uuid.UUID) error {
	return s.mutate(ctx, invoiceID, func(repo Repository, invoice *models.Invoice) error {
		if !invoice.Status.Editable() {
			return lockedError(invoice)
		}
		affected, err := repo.DeleteLineItem(ctx, invoice.ID, lineItemID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "delete line item")
		}
		if affected == 0 {
			return pkgerrors.Newf(pkgerrors.CodeNotFound, "line item %s not found on invoice %s", lineItemID, invoice.ID)
		}
		return nil
	})
}

// Total loads the invoice and computes its total.
func (s *Service) Total(ctx context.Context, invoiceID uuid.UUID) (Totals, error) {
	invoice, err := s.Get(ctx, invoiceID)
	if err != nil {
		return Totals{}, err
	}
	return Compute(invoice)
}

// Freeze writes every unfrozen line's current subtotal into its frozen value.
// Lines frozen earlier keep their value, so calling it again is a no-op.
func (s *Service) Freeze(ctx context.Context, invoiceID uuid.UUID) (Totals, error) {
	var totals Totals
	err := s.mutate(ctx, invoiceID, func(repo Repository, invoice *models.Invoice) error {
		var err error
		totals, err = FreezeLoaded(ctx, repo, invoice)
		return err
	})
	return totals, err
}

// Open moves a draft invoice to open.
func (s *Service) Open(ctx context.Context, invoiceID uuid.UUID) error {
	return s.transition(ctx, invoiceID, enums.InvoiceOpen, enums.InvoiceDraft)
}

// Void cancels a draft or open invoice.
func (s *Service) Void(ctx context.Context, invoiceID uuid.UUID) error {
	return s.transition(ctx, invoiceID, enums.InvoiceVoid, enums.InvoiceDraft, enums.InvoiceOpen)
}

// SetIntent records the gateway payment intent a charge is in flight under.
// An intent stays set until a failure outcome clears it or the invoice is
// paid or voided, so a second charge cannot start while one is in flight.
func (s *Service) SetIntent(ctx context.Context, invoiceID uuid.UUID, intent string) error {
	if intent == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "intent required")
	}
	return s.mutate(ctx, invoiceID, func(repo Repository, invoice *models.Invoice) error {
		if !invoice.Status.Editable() {
			return pkgerrors.Newf(pkgerrors.CodeWrongStatus, "invoice %s is %s", invoice.ID, invoice.Status)
		}
		if invoice.CurrentIntent != nil && *invoice.CurrentIntent != "" {
			return pkgerrors.Newf(pkgerrors.CodeStateConflict, "invoice %s has a charge in flight", invoice.ID).
				WithDetails(map[string]any{"current_intent": *invoice.CurrentIntent})
		}
		fields := map[string]any{"current_intent": intent}
		if invoice.Status == enums.InvoiceDraft {
			fields["status"] = enums.InvoiceOpen
		}
		if err := repo.UpdateFields(ctx, invoice.ID, fields); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "set intent")
		}
		return nil
	})
}

// OpenForSubscription returns the unexpired draft or open invoice billing
// subscriptionID, or nil when there is none.
func (s *Service) OpenForSubscription(ctx context.Context, subscriptionID uuid.UUID) (*models.Invoice, error) {
	invoice, err := s.repo.FindOpenForSubscription(ctx, subscriptionID, s.now())
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "find open invoice")
	}
	return invoice, nil
}

// VoidExpired voids every draft or open invoice whose expiry has passed.
func (s *Service) VoidExpired(ctx context.Context) (int64, error) {
	count, err := s.repo.VoidExpired(ctx, s.now())
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "void expired invoices")
	}
	return count, nil
}

func (s *Service) transition(ctx context.Context, invoiceID uuid.UUID, to enums.InvoiceStatus, from ...enums.InvoiceStatus) error {
	return s.mutate(ctx, invoiceID, func(repo Repository, invoice *models.Invoice) error {
		allowed := false
		for _, status := range from {
			if invoice.Status == status {
				allowed = true
				break
			}
		}
		if !allowed {
			return pkgerrors.Newf(pkgerrors.CodeWrongStatus, "invoice %s cannot move from %s to %s", invoice.ID, invoice.Status, to)
		}
		fields := map[string]any{"status": to}
		if to == enums.InvoiceVoid {
			fields["current_intent"] = nil
		}
		if err := repo.UpdateFields(ctx, invoice.ID, fields); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "update invoice status")
		}
		if s.logg != nil {
			logCtx := s.logg.WithInvoiceID(ctx, invoice.ID.String())
			s.logg.Info(s.logg.WithField(logCtx, "status", to), "invoice status changed")
		}
		return nil
	})
}

func (s *Service) mutate(ctx context.Context, invoiceID uuid.UUID, fn func(repo Repository, invoice *models.Invoice) error) error {
	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if err := repo.Lock(ctx, invoiceID); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "lock invoice")
		}
		invoice, err := load(ctx, repo, invoiceID, true)
		if err != nil {
			return err
		}
		return fn(repo, invoice)
	})
}

// Compute totals an already loaded invoice. Frozen lines contribute their
// frozen value; the rest are priced live.
func Compute(invoice *models.Invoice) (Totals, error) {
	items := make([]lineitems.Item, len(invoice.LineItems))
	for i, line := range invoice.LineItems {
		items[i] = CalculatorItem(line)
	}
	result, err := lineitems.Calculate(items, invoice.Currency, CustomerRounding)
	if err != nil {
		return Totals{}, err
	}
	return Totals{Total: result.Total, Discount: result.Discount, Subtotals: result.Subtotals}, nil
}

// FreezeLoaded freezes an invoice already loaded (and locked) through repo.
func FreezeLoaded(ctx context.Context, repo Repository, invoice *models.Invoice) (Totals, error) {
	totals, err := Compute(invoice)
	if err != nil {
		return Totals{}, err
	}
	for i := range invoice.LineItems {
		line := &invoice.LineItems[i]
		if line.FrozenValue.Valid {
			continue
		}
		value := totals.Subtotals[i].Amount
		if _, err := repo.FreezeLineItem(ctx, line.ID, value); err != nil {
			return Totals{}, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "freeze line item")
		}
		line.FrozenValue = decimal.NullDecimal{Decimal: value, Valid: true}
	}
	return totals, nil
}

// CalculatorItem maps a stored line item to the calculator's input.
func CalculatorItem(line models.LineItem) lineitems.Item {
	item := lineitems.Item{
		Amount:            line.Amount,
		Percentage:        line.Percentage,
		Priority:          line.Priority,
		CascadePercentage: line.CascadePercentage,
		CascadeAmount:     line.CascadeAmount,
	}
	if line.FrozenValue.Valid {
		frozen := line.FrozenValue.Decimal
		item.Frozen = &frozen
	}
	return item
}

func load(ctx context.Context, repo Repository, id uuid.UUID, forUpdate bool) (*models.Invoice, error) {
	invoice, err := repo.FindByID(ctx, id, forUpdate)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.Newf(pkgerrors.CodeNotFound, "invoice %s not found", id)
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load invoice")
	}
	return invoice, nil
}

func buildLineItem(input LineItemInput) (*models.LineItem, error) {
	if !input.Type.IsValid() {
		return nil, pkgerrors.Newf(pkgerrors.CodeValidation, "invalid line item type %q", input.Type)
	}
	if input.CascadePercentage && input.Percentage.GreaterThanOrEqual(decimal.NewFromInt(100)) {
		return nil, pkgerrors.Newf(pkgerrors.CodeValidation, "cascading percentage %s must be below 100", input.Percentage)
	}
	if _, err := accounts.RouteForLineItem(input.Type, input.DestinationAccount); err != nil {
		return nil, err
	}
	item := &models.LineItem{
		Type:               input.Type,
		Amount:             input.Amount,
		Percentage:         input.Percentage,
		Priority:           input.Priority,
		CascadePercentage:  input.CascadePercentage,
		CascadeAmount:      input.CascadeAmount,
		DestinationUserID:  input.DestinationUserID,
		DestinationAccount: input.DestinationAccount,
		Description:        input.Description,
	}
	if len(input.Metadata) > 0 {
		item.Metadata = datatypes.JSONMap(input.Metadata)
	}
	return item, nil
}

func lockedError(invoice *models.Invoice) error {
	return pkgerrors.Newf(pkgerrors.CodeInvoiceLocked, "invoice %s is %s and can no longer be edited", invoice.ID, invoice.Status)
}
