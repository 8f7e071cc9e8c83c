package pricing

import "github.com/shopspring/decimal"

// Money is a decimal monetary amount. Arithmetic stays exact and amounts are
// only rounded where a figure is reported.
type Money = decimal.Decimal

// Scale is the number of decimal places reported amounts carry.
const Scale = 2

var hundred = decimal.NewFromInt(100)

// Item describes a line item used for pricing calculation.
type Item struct {
	Qty       int
	UnitPrice Money
}

// Line returns the unit price multiplied by quantity.
func (it Item) Line() Money {
	if it.Qty <= 0 {
		return decimal.Zero
	}
	return it.UnitPrice.Mul(decimal.NewFromInt(int64(it.Qty)))
}

// Summary aggregates computed pricing components.
type Summary struct {
	Subtotal Money
	Discount Money
	Total    Money
}

// Subtotal sums the line totals of items without rounding.
func Subtotal(items []Item) Money {
	total := decimal.Zero
	for _, it := range items {
		total = total.Add(it.Line())
	}
	return total
}

// Compute reports the subtotal, the rounded discount and the payable total.
// The total never drops below zero.
func Compute(subtotal, discount Money) Summary {
	discount = Round(discount)
	return Summary{
		Subtotal: Round(subtotal),
		Discount: discount,
		Total:    FloorZero(Round(subtotal.Sub(discount))),
	}
}

// Round rounds m to cents, half away from zero.
func Round(m Money) Money {
	return m.Round(Scale)
}

// Percent returns pct percent of base.
func Percent(base, pct Money) Money {
	return base.Mul(pct).Div(hundred)
}

// Cap limits amount to limit and floors the result at zero.
func Cap(amount, limit Money) Money {
	return FloorZero(decimal.Min(amount, limit))
}

// FloorZero clamps negative values to zero.
func FloorZero(m Money) Money {
	if m.IsNegative() {
		return decimal.Zero
	}
	return m
}
