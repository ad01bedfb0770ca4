package money

import (
	"github.com/shopspring/decimal"

	pkgerrors "github.com/angelmondragon/ledgerd/pkg/errors"
)

// DivideEvenly splits m into n parts that sum to m exactly. Each part is m/n
// truncated to minor units; leftover minor units go one at a time to the
// leading parts. Any sub-unit residue (only possible when m itself carries
// sub-unit precision) is added to the first part that did not receive a unit.
func DivideEvenly(m Money, n int) ([]Money, error) {
	if n <= 0 {
		return nil, pkgerrors.Newf(pkgerrors.CodeValidation, "cannot divide into %d parts", n)
	}

	negative := m.Amount.IsNegative()
	amount := m.Amount.Abs()
	digits := Digits(m.Currency)
	unit := SmallestUnit(m.Currency)

	count := decimal.NewFromInt(int64(n))
	base := amount.Div(count).RoundDown(digits)
	remainder := amount.Sub(base.Mul(count))

	parts := make([]decimal.Decimal, n)
	for i := range parts {
		parts[i] = base
	}

	i := 0
	for remainder.GreaterThanOrEqual(unit) && i < n {
		parts[i] = parts[i].Add(unit)
		remainder = remainder.Sub(unit)
		i++
	}
	if !remainder.IsZero() {
		parts[i%n] = parts[i%n].Add(remainder)
	}

	out := make([]Money, n)
	for idx, part := range parts {
		if negative {
			part = part.Neg()
		}
		out[idx] = Money{Amount: part, Currency: m.Currency}
	}
	return out, nil
}

// Percent returns pct percent of m without rounding.
func (m Money) Percent(pct decimal.Decimal) Money {
	return Money{Amount: m.Amount.Mul(pct).Div(decimal.NewFromInt(100)), Currency: m.Currency}
}
