package coupon

import (
	"github.com/shopspring/decimal"

	"github.com/noah-isme/coupon-engine/internal/pricing"
)

// Allocators return one rounded discount per cart line, aligned with cart.Items.

func zeroDiscounts(n int) []decimal.Decimal {
	out := make([]decimal.Decimal, n)
	for i := range out {
		out[i] = decimal.Zero
	}
	return out
}

// allocateCartWise spreads the discount proportionally to each line total.
func allocateCartWise(r CartWiseRule, ev evaluation) []decimal.Decimal {
	out := zeroDiscounts(len(ev.cart.Items))
	discount := cartWiseDiscount(r, ev)
	if !discount.IsPositive() || !ev.total.IsPositive() {
		return out
	}
	for i, it := range ev.cart.Items {
		out[i] = pricing.Round(it.LineTotal().Mul(discount).Div(ev.total))
	}
	return out
}

func allocateProductWise(r ProductWiseRule, ev evaluation) []decimal.Decimal {
	out := zeroDiscounts(len(ev.cart.Items))
	if i := ev.cart.lineIndex(r.ProductID); i >= 0 {
		out[i] = pricing.Round(productWiseDiscount(r, ev))
	}
	return out
}

func allocateBxGy(r BxGyRule, ev evaluation) []decimal.Decimal {
	out := zeroDiscounts(len(ev.cart.Items))
	for _, fl := range r.freeLines(ev.cart) {
		out[fl.index] = pricing.Round(fl.value(ev.cart))
	}
	return out
}

func allocateMaster(_ MasterRule, ev evaluation) []decimal.Decimal {
	out := zeroDiscounts(len(ev.cart.Items))
	for i, it := range ev.cart.Items {
		out[i] = pricing.Round(it.LineTotal())
	}
	return out
}

// price builds the priced cart from per-line discounts.
func price(ev evaluation, discounts []decimal.Decimal) PricedCart {
	items := make([]PricedItem, len(ev.cart.Items))
	sum := decimal.Zero
	for i, it := range ev.cart.Items {
		items[i] = PricedItem{CartItem: it, Discount: discounts[i]}
		sum = sum.Add(discounts[i])
	}
	summary := pricing.Compute(ev.total, sum)
	return PricedCart{
		Items:         items,
		CartID:        ev.cart.ID,
		OriginalTotal: summary.Subtotal,
		TotalDiscount: summary.Discount,
		FinalPrice:    summary.Total,
	}
}
