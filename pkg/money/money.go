// Package money holds currency-tagged fixed-point amounts. Nothing in here
// touches binary floating point.
package money

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/ledgerd/pkg/enums"
	pkgerrors "github.com/angelmondragon/ledgerd/pkg/errors"
)

// RoundingMode is chosen per call site; there is no package default.
type RoundingMode int

const (
	// RoundDown truncates toward zero.
	RoundDown RoundingMode = iota
	// RoundHalfEven is banker's rounding.
	RoundHalfEven
	// RoundCeiling rounds toward positive infinity.
	RoundCeiling
	// RoundHalfUp rounds half away from zero.
	RoundHalfUp
)

func (m RoundingMode) String() string {
	switch m {
	case RoundDown:
		return "down"
	case RoundHalfEven:
		return "half_even"
	case RoundCeiling:
		return "ceiling"
	case RoundHalfUp:
		return "half_up"
	default:
		return fmt.Sprintf("rounding(%d)", int(m))
	}
}

var minorDigits = map[enums.Currency]int32{
	enums.CurrencyJPY: 0,
	enums.CurrencyKWD: 3,
}

const defaultDigits int32 = 2

// Digits returns the number of minor-unit decimal places for currency.
func Digits(currency enums.Currency) int32 {
	if digits, ok := minorDigits[currency]; ok {
		return digits
	}
	return defaultDigits
}

// SmallestUnit is one minor unit of currency (0.01 for USD).
func SmallestUnit(currency enums.Currency) decimal.Decimal {
	return decimal.New(1, -Digits(currency))
}

// RoundDecimal rounds value to the minor units of currency using mode.
func RoundDecimal(value decimal.Decimal, currency enums.Currency, mode RoundingMode) decimal.Decimal {
	places := Digits(currency)
	switch mode {
	case RoundDown:
		return value.RoundDown(places)
	case RoundCeiling:
		return value.RoundCeil(places)
	case RoundHalfUp:
		return value.Round(places)
	default:
		return value.RoundBank(places)
	}
}

// Money is an exact amount tagged with its currency.
type Money struct {
	Amount   decimal.Decimal
	Currency enums.Currency
}

func New(amount decimal.Decimal, currency enums.Currency) Money {
	return Money{Amount: amount, Currency: currency}
}

// Zero returns an empty amount in currency.
func Zero(currency enums.Currency) Money {
	return Money{Amount: decimal.Zero, Currency: currency}
}

// Parse builds Money from a decimal string such as "18.83".
func Parse(amount string, currency enums.Currency) (Money, error) {
	value, err := decimal.NewFromString(amount)
	if err != nil {
		return Money{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, fmt.Sprintf("invalid amount %q", amount))
	}
	return Money{Amount: value, Currency: currency}, nil
}

// MustParse is Parse for constants and tests.
func MustParse(amount string, currency enums.Currency) Money {
	m, err := Parse(amount, currency)
	if err != nil {
		panic(err)
	}
	return m
}

// FromMinorUnits converts gateway integer amounts (cents) into Money.
func FromMinorUnits(units int64, currency enums.Currency) Money {
	return Money{Amount: decimal.New(units, -Digits(currency)), Currency: currency}
}

// MinorUnits converts m into gateway integer units. Sub-unit fractions are rejected.
func (m Money) MinorUnits() (int64, error) {
	scaled := m.Amount.Shift(Digits(m.Currency))
	if !scaled.Equal(scaled.Truncate(0)) {
		return 0, pkgerrors.Newf(pkgerrors.CodeValidation, "amount %s has sub-unit precision for %s", m.Amount, m.Currency)
	}
	return scaled.IntPart(), nil
}

// Round returns m rounded to its minor units with mode.
func (m Money) Round(mode RoundingMode) Money {
	return Money{Amount: RoundDecimal(m.Amount, m.Currency, mode), Currency: m.Currency}
}

func (m Money) IsZero() bool     { return m.Amount.IsZero() }
func (m Money) IsPositive() bool { return m.Amount.IsPositive() }
func (m Money) IsNegative() bool { return m.Amount.IsNegative() }

func (m Money) Neg() Money {
	return Money{Amount: m.Amount.Neg(), Currency: m.Currency}
}

// Equal compares amount and currency.
func (m Money) Equal(other Money) bool {
	return m.Currency == other.Currency && m.Amount.Equal(other.Amount)
}

func (m Money) String() string {
	return fmt.Sprintf("%s %s", m.Amount.StringFixed(Digits(m.Currency)), m.Currency)
}

// Add returns m + other.
func (m Money) Add(other Money) (Money, error) {
	if err := sameCurrency(m, other); err != nil {
		return Money{}, err
	}
	return Money{Amount: m.Amount.Add(other.Amount), Currency: m.Currency}, nil
}

// Sub returns m - other.
func (m Money) Sub(other Money) (Money, error) {
	if err := sameCurrency(m, other); err != nil {
		return Money{}, err
	}
	return Money{Amount: m.Amount.Sub(other.Amount), Currency: m.Currency}, nil
}

// Cmp compares m and other; currencies must match.
func (m Money) Cmp(other Money) (int, error) {
	if err := sameCurrency(m, other); err != nil {
		return 0, err
	}
	return m.Amount.Cmp(other.Amount), nil
}

// Sum adds values, all of which must be in currency.
func Sum(currency enums.Currency, values ...Money) (Money, error) {
	total := Zero(currency)
	for _, v := range values {
		next, err := total.Add(v)
		if err != nil {
			return Money{}, err
		}
		total = next
	}
	return total, nil
}

// ErrInvalidCurrencyOperation builds the error for mixing currencies.
func ErrInvalidCurrencyOperation(a, b enums.Currency) error {
	return pkgerrors.Newf(pkgerrors.CodeInvalidCurrency, "cannot combine %s with %s", a, b)
}

func sameCurrency(a, b Money) error {
	if a.Currency != b.Currency {
		return ErrInvalidCurrencyOperation(a.Currency, b.Currency)
	}
	return nil
}
