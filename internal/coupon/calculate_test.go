package coupon

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func requireMoney(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	require.Truef(t, d(want).Equal(got), "want %s got %s", want, got.String())
}

func line(product int64, qty int, price string) CartItem {
	return CartItem{ProductID: product, Quantity: qty, UnitPrice: d(price)}
}

func eval(items ...CartItem) evaluation {
	return newEvaluation(Cart{Items: items})
}

func TestCartWiseThresholdIsStrict(t *testing.T) {
	fixed := CartWiseRule{Threshold: d("100"), Amount: d("10"), Mode: ModeFixed}

	requireMoney(t, "0", cartWiseDiscount(fixed, eval(line(1, 1, "100"))))
	requireMoney(t, "10", cartWiseDiscount(fixed, eval(line(1, 1, "100.01"))))
	requireMoney(t, "0", cartWiseDiscount(fixed, eval(line(1, 1, "99.99"))))
}

func TestCartWisePercentage(t *testing.T) {
	r := CartWiseRule{Threshold: d("100"), Amount: d("10"), Mode: ModePercentage}
	requireMoney(t, "25", cartWiseDiscount(r, eval(line(1, 2, "50"), line(2, 1, "150"))))
}

func TestFixedDiscountNeverExceedsBase(t *testing.T) {
	cw := CartWiseRule{Threshold: d("1"), Amount: d("500"), Mode: ModeFixed}
	requireMoney(t, "120", cartWiseDiscount(cw, eval(line(1, 3, "40"))))

	pw := ProductWiseRule{ProductID: 1, Amount: d("50"), Mode: ModeFixed}
	requireMoney(t, "40", productWiseDiscount(pw, eval(line(1, 1, "40"), line(2, 1, "500"))))
}

func TestProductWise(t *testing.T) {
	pct := ProductWiseRule{ProductID: 2, Amount: d("15"), Mode: ModePercentage}
	requireMoney(t, "30", productWiseDiscount(pct, eval(line(1, 1, "10"), line(2, 4, "50"))))
	requireMoney(t, "0", productWiseDiscount(pct, eval(line(1, 1, "10"))))

	dup := eval(line(2, 1, "10"), line(2, 1, "1000"))
	requireMoney(t, "1.5", productWiseDiscount(pct, dup))
}

func TestBxGyPooledBuySet(t *testing.T) {
	r := BxGyRule{
		Buy:             []BxGyProduct{{ProductID: 1, Quantity: 2}, {ProductID: 2, Quantity: 2}},
		Get:             []BxGyProduct{{ProductID: 3, Quantity: 1}},
		RepetitionLimit: 2,
	}
	ev := eval(line(1, 4, "10"), line(2, 4, "10"), line(3, 2, "25"))
	require.Equal(t, 2, r.repetitions(ev.cart))
	requireMoney(t, "50", bxgyDiscount(r, ev))

	// any mix of buy products counts towards the pooled requirement
	mixed := eval(line(1, 4, "10"), line(3, 5, "25"))
	require.Equal(t, 1, r.repetitions(mixed.cart))
	requireMoney(t, "25", bxgyDiscount(r, mixed))
}

func TestBxGyGreedyFreesMostExpensiveFirst(t *testing.T) {
	r := BxGyRule{
		Buy:             []BxGyProduct{{ProductID: 1, Quantity: 1}},
		Get:             []BxGyProduct{{ProductID: 2, Quantity: 1}, {ProductID: 3, Quantity: 1}, {ProductID: 4, Quantity: 1}},
		RepetitionLimit: 1,
	}
	// budget = 3 free units across prices 5, 30, 20 with limited stock
	ev := eval(line(1, 1, "1"), line(2, 4, "5"), line(3, 1, "30"), line(4, 1, "20"))
	requireMoney(t, "55", bxgyDiscount(r, ev))

	lines := r.freeLines(ev.cart)
	require.Equal(t, []freeLine{{index: 2, units: 1}, {index: 3, units: 1}, {index: 1, units: 1}}, lines)
}

func TestBxGyTiesKeepCartOrder(t *testing.T) {
	r := BxGyRule{
		Buy:             []BxGyProduct{{ProductID: 1, Quantity: 1}},
		Get:             []BxGyProduct{{ProductID: 2, Quantity: 1}, {ProductID: 3, Quantity: 1}},
		RepetitionLimit: 1,
	}
	ev := eval(line(1, 1, "1"), line(3, 2, "10"), line(2, 2, "10"))
	allocated := allocateBxGy(r, ev)
	requireMoney(t, "0", allocated[0])
	requireMoney(t, "20", allocated[1])
	requireMoney(t, "0", allocated[2])
}

func TestBxGyMonotonicThenFlat(t *testing.T) {
	r := BxGyRule{
		Buy:             []BxGyProduct{{ProductID: 1, Quantity: 3}},
		Get:             []BxGyProduct{{ProductID: 2, Quantity: 1}},
		RepetitionLimit: 3,
	}
	prev := decimal.Zero
	capQty := r.RepetitionLimit * r.requiredPerRepetition()
	var atCap decimal.Decimal
	for qty := 0; qty <= capQty+6; qty++ {
		got := bxgyDiscount(r, eval(line(1, qty, "4"), line(2, 10, "7")))
		require.Truef(t, got.GreaterThanOrEqual(prev), "qty %d: %s < %s", qty, got, prev)
		if qty == capQty {
			atCap = got
		}
		if qty > capQty {
			require.True(t, got.Equal(atCap))
		}
		prev = got
	}
	requireMoney(t, "21", atCap)
}

func TestBxGyZeroRequirementIsInert(t *testing.T) {
	r := BxGyRule{Get: []BxGyProduct{{ProductID: 2, Quantity: 1}}, RepetitionLimit: 5}
	requireMoney(t, "0", bxgyDiscount(r, eval(line(2, 3, "10"))))
}

func TestMasterDiscount(t *testing.T) {
	ev := eval(line(1, 2, "100"), line(2, 1, "150"))
	requireMoney(t, "350", masterDiscount(MasterRule{}, ev))
	ev.masterUsed = true
	requireMoney(t, "0", masterDiscount(MasterRule{}, ev))
}

func TestEmptyCartYieldsNothing(t *testing.T) {
	ev := eval()
	for kind, ks := range ruleKinds {
		var r Rule
		switch kind {
		case KindCartWise:
			r = CartWiseRule{Threshold: d("1"), Amount: d("10"), Mode: ModeFixed}
		case KindProductWise:
			r = ProductWiseRule{ProductID: 1, Amount: d("10"), Mode: ModeFixed}
		case KindBxGy:
			r = BxGyRule{Buy: []BxGyProduct{{1, 1}}, Get: []BxGyProduct{{2, 1}}, RepetitionLimit: 1}
		case KindMaster:
			r = MasterRule{}
		}
		requireMoney(t, "0", ks.discount(r, ev))
		priced := price(ev, ks.allocate(r, ev))
		requireMoney(t, "0", priced.TotalDiscount)
		requireMoney(t, "0", priced.FinalPrice)
	}
}

func TestCartWiseAllocationStaysConsistent(t *testing.T) {
	r := CartWiseRule{Threshold: d("1"), Amount: d("10"), Mode: ModeFixed}
	ev := eval(line(1, 1, "10"), line(2, 1, "10"), line(3, 1, "10"))
	priced := price(ev, allocateCartWise(r, ev))

	sum := decimal.Zero
	for _, it := range priced.Items {
		requireMoney(t, "3.33", it.Discount)
		sum = sum.Add(it.Discount)
	}
	require.True(t, sum.Equal(priced.TotalDiscount))
	requireMoney(t, "30", priced.OriginalTotal)
	requireMoney(t, "20.01", priced.FinalPrice)
	require.True(t, priced.OriginalTotal.Sub(priced.TotalDiscount).Equal(priced.FinalPrice))
}

func TestAllocatorsMatchCalculators(t *testing.T) {
	ev := eval(line(1, 3, "19.99"), line(2, 2, "5.25"), line(3, 1, "42"))
	rules := []Rule{
		CartWiseRule{Threshold: d("50"), Amount: d("12.5"), Mode: ModePercentage},
		ProductWiseRule{ProductID: 1, Amount: d("7"), Mode: ModePercentage},
		BxGyRule{Buy: []BxGyProduct{{1, 1}}, Get: []BxGyProduct{{2, 1}, {3, 1}}, RepetitionLimit: 2},
		MasterRule{},
	}
	for _, r := range rules {
		ks := ruleKinds[r.Kind()]
		priced := price(ev, ks.allocate(r, ev))
		sum := decimal.Zero
		for _, it := range priced.Items {
			sum = sum.Add(it.Discount)
		}
		require.Truef(t, sum.Equal(priced.TotalDiscount), "%s: items %s total %s", r.Kind(), sum, priced.TotalDiscount)
		require.True(t, priced.FinalPrice.GreaterThanOrEqual(decimal.Zero))
		diff := ks.discount(r, ev).Round(2).Sub(priced.TotalDiscount).Abs()
		require.Truef(t, diff.LessThanOrEqual(d("0.01").Mul(decimal.NewFromInt(int64(len(ev.cart.Items))))), "%s drift %s", r.Kind(), diff)
	}
}
