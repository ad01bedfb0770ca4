// Package lineitems computes invoice totals from priced line items.
package lineitems

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/ledgerd/pkg/enums"
	pkgerrors "github.com/angelmondragon/ledgerd/pkg/errors"
	"github.com/angelmondragon/ledgerd/pkg/money"
)

var hundred = decimal.NewFromInt(100)

// Item is the calculator's view of a line item. Simulated items (quotes that
// were never persisted) use the same shape.
type Item struct {
	Amount            decimal.Decimal
	Percentage        decimal.Decimal
	Priority          int
	CascadePercentage bool
	CascadeAmount     bool
	// Frozen, when set, is used verbatim as the item's contribution.
	Frozen *decimal.Decimal
}

// Result holds the grand total and one subtotal per input item, in input order.
type Result struct {
	Total     money.Money
	Discount  money.Money
	Subtotals []money.Money
}

// Calculate resolves items in ascending priority. Items sharing a priority
// see the same pre-group running total. Plain items contribute
// amount + percentage% of that total. A cascade_percentage item grosses the
// total up so that removing percentage% of the post-item total leaves the
// pre-group total; its amount is grossed up too unless cascade_amount is set,
// in which case the amount lands on the total unchanged.
//
// Subtotals are rounded with mode and the last processed unfrozen item
// absorbs the rounding remainder, so the subtotals always sum to Total.
func Calculate(items []Item, currency enums.Currency, mode money.RoundingMode) (Result, error) {
	result := Result{
		Total:     money.Zero(currency),
		Discount:  money.Zero(currency),
		Subtotals: make([]money.Money, len(items)),
	}
	if len(items) == 0 {
		return result, nil
	}

	order := make([]int, len(items))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return items[order[a]].Priority < items[order[b]].Priority
	})

	exact := make([]decimal.Decimal, len(items))
	running := decimal.Zero
	for start := 0; start < len(order); {
		end := start
		for end < len(order) && items[order[end]].Priority == items[order[start]].Priority {
			end++
		}

		groupBase := running
		for _, idx := range order[start:end] {
			contribution, err := contributionOf(items[idx], groupBase)
			if err != nil {
				return Result{}, err
			}
			exact[idx] = contribution
			running = running.Add(contribution)
		}
		start = end
	}

	total := money.RoundDecimal(running, currency, mode)

	absorber := -1
	for i := len(order) - 1; i >= 0; i-- {
		if items[order[i]].Frozen == nil {
			absorber = order[i]
			break
		}
	}

	allocated := decimal.Zero
	for idx, value := range exact {
		if idx == absorber {
			continue
		}
		if items[idx].Frozen == nil {
			value = money.RoundDecimal(value, currency, mode)
		}
		result.Subtotals[idx] = money.New(value, currency)
		allocated = allocated.Add(value)
	}
	if absorber >= 0 {
		result.Subtotals[absorber] = money.New(total.Sub(allocated), currency)
	} else {
		total = allocated
	}

	discount := decimal.Zero
	for _, sub := range result.Subtotals {
		if sub.IsNegative() {
			discount = discount.Add(sub.Amount)
		}
	}

	result.Total = money.New(total, currency)
	result.Discount = money.New(discount, currency)
	return result, nil
}

func contributionOf(item Item, base decimal.Decimal) (decimal.Decimal, error) {
	if item.Frozen != nil {
		return *item.Frozen, nil
	}
	if !item.CascadePercentage {
		return item.Amount.Add(base.Mul(item.Percentage).Div(hundred)), nil
	}

	rate := item.Percentage.Div(hundred)
	keep := decimal.NewFromInt(1).Sub(rate)
	if !keep.IsPositive() {
		return decimal.Zero, pkgerrors.Newf(pkgerrors.CodeValidation, "cascading percentage %s must be below 100", item.Percentage)
	}

	target := base
	if !item.CascadeAmount {
		target = target.Add(item.Amount)
	}
	gross := target.Div(keep)
	contribution := gross.Sub(base)
	if item.CascadeAmount {
		contribution = contribution.Add(item.Amount)
	}
	return contribution, nil
}

// Sum adds subtotals; handy for checking the sum invariant.
func Sum(subtotals []money.Money, currency enums.Currency) (money.Money, error) {
	return money.Sum(currency, subtotals...)
}
