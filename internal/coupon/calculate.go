package coupon

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/coupon-engine/internal/pricing"
)

// modeDiscount applies amount to base. Fixed amounts never exceed base.
func modeDiscount(mode DiscountMode, amount, base decimal.Decimal) decimal.Decimal {
	if !base.IsPositive() {
		return decimal.Zero
	}
	if mode == ModePercentage {
		return pricing.FloorZero(pricing.Percent(base, amount))
	}
	return pricing.Cap(amount, base)
}

// cartWiseDiscount applies only when the cart total is strictly above the threshold.
func cartWiseDiscount(r CartWiseRule, ev evaluation) decimal.Decimal {
	if !ev.total.GreaterThan(r.Threshold) {
		return decimal.Zero
	}
	return modeDiscount(r.Mode, r.Amount, ev.total)
}

func productWiseDiscount(r ProductWiseRule, ev evaluation) decimal.Decimal {
	i := ev.cart.lineIndex(r.ProductID)
	if i < 0 {
		return decimal.Zero
	}
	return modeDiscount(r.Mode, r.Amount, ev.cart.Items[i].LineTotal())
}

func bxgyDiscount(r BxGyRule, ev evaluation) decimal.Decimal {
	total := decimal.Zero
	for _, fl := range r.freeLines(ev.cart) {
		total = total.Add(fl.value(ev.cart))
	}
	return total
}

func masterDiscount(_ MasterRule, ev evaluation) decimal.Decimal {
	if ev.masterUsed {
		return decimal.Zero
	}
	return ev.total
}

// requiredPerRepetition pools the buy set quantities.
func (r BxGyRule) requiredPerRepetition() int {
	n := 0
	for _, p := range r.Buy {
		n += p.Quantity
	}
	return n
}

func (r BxGyRule) freePerRepetition() int {
	n := 0
	for _, p := range r.Get {
		n += p.Quantity
	}
	return n
}

// repetitions counts how often the deal fits the cart. Buy quantities are
// pooled across every listed buy product rather than matched per product.
func (r BxGyRule) repetitions(cart Cart) int {
	required := r.requiredPerRepetition()
	if required <= 0 {
		return 0
	}
	available := 0
	for _, p := range r.Buy {
		available += cart.quantityOf(p.ProductID)
	}
	return min(available/required, r.RepetitionLimit)
}

func (r BxGyRule) inGetSet(productID int64) bool {
	for _, p := range r.Get {
		if p.ProductID == productID {
			return true
		}
	}
	return false
}

// freeLine records how many units of a cart line are given away.
type freeLine struct {
	index int
	units int
}

func (fl freeLine) value(cart Cart) decimal.Decimal {
	return cart.Items[fl.index].UnitPrice.Mul(decimal.NewFromInt(int64(fl.units)))
}

// freeLines spends the free-unit budget on eligible lines, most expensive
// first. Equal prices keep cart order.
func (r BxGyRule) freeLines(cart Cart) []freeLine {
	reps := r.repetitions(cart)
	if reps <= 0 {
		return nil
	}
	budget := reps * r.freePerRepetition()

	eligible := make([]int, 0, len(cart.Items))
	for i, it := range cart.Items {
		if r.inGetSet(it.ProductID) {
			eligible = append(eligible, i)
		}
	}
	sort.SliceStable(eligible, func(a, b int) bool {
		return cart.Items[eligible[a]].UnitPrice.GreaterThan(cart.Items[eligible[b]].UnitPrice)
	})

	var out []freeLine
	for _, i := range eligible {
		if budget <= 0 {
			break
		}
		units := min(budget, cart.Items[i].Quantity)
		if units <= 0 {
			continue
		}
		out = append(out, freeLine{index: i, units: units})
		budget -= units
	}
	return out
}
