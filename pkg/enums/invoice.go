package enums

import "fmt"

// InvoiceStatus tracks the billing lifecycle of an invoice.
type InvoiceStatus string

const (
	InvoiceDraft InvoiceStatus = "draft"
	InvoiceOpen  InvoiceStatus = "open"
	InvoicePaid  InvoiceStatus = "paid"
	InvoiceVoid  InvoiceStatus = "void"
)

var validInvoiceStatuses = []InvoiceStatus{
	InvoiceDraft,
	InvoiceOpen,
	InvoicePaid,
	InvoiceVoid,
}

// String implements fmt.Stringer.
func (s InvoiceStatus) String() string {
	return string(s)
}

// IsValid reports whether the value is known.
func (s InvoiceStatus) IsValid() bool {
	for _, candidate := range validInvoiceStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// Editable reports whether line items may still change.
func (s InvoiceStatus) Editable() bool {
	return s == InvoiceDraft || s == InvoiceOpen
}

// ParseInvoiceStatus converts raw input into an InvoiceStatus.
func ParseInvoiceStatus(value string) (InvoiceStatus, error) {
	for _, candidate := range validInvoiceStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid invoice status %q", value)
}

// InvoiceType describes the billable event behind an invoice.
type InvoiceType string

const (
	InvoiceTypeSale         InvoiceType = "sale"
	InvoiceTypeSubscription InvoiceType = "subscription"
	InvoiceTypeTerm         InvoiceType = "term"
	InvoiceTypeTipping      InvoiceType = "tipping"
	InvoiceTypeVendor       InvoiceType = "vendor"
)

var validInvoiceTypes = []InvoiceType{
	InvoiceTypeSale,
	InvoiceTypeSubscription,
	InvoiceTypeTerm,
	InvoiceTypeTipping,
	InvoiceTypeVendor,
}

// String implements fmt.Stringer.
func (t InvoiceType) String() string {
	return string(t)
}

// IsValid reports whether the value is known.
func (t InvoiceType) IsValid() bool {
	for _, candidate := range validInvoiceTypes {
		if candidate == t {
			return true
		}
	}
	return false
}

// ParseInvoiceType converts raw input into an InvoiceType.
func ParseInvoiceType(value string) (InvoiceType, error) {
	for _, candidate := range validInvoiceTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid invoice type %q", value)
}
