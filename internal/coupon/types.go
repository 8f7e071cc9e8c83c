package coupon

import (
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/coupon-engine/internal/pricing"
)

// DefaultCartID is the usage slot shared by carts submitted without an id.
const DefaultCartID = "default"

// CartItem is a single cart line.
type CartItem struct {
	ProductID int64           `json:"product_id" validate:"gt=0"`
	Quantity  int             `json:"quantity" validate:"gte=1"`
	UnitPrice decimal.Decimal `json:"price" validate:"gte=0"`
}

// LineTotal returns unit price times quantity.
func (it CartItem) LineTotal() decimal.Decimal {
	return pricing.Item{Qty: it.Quantity, UnitPrice: it.UnitPrice}.Line()
}

// Cart is the caller supplied basket a coupon is evaluated against.
type Cart struct {
	Items []CartItem `json:"items" validate:"dive"`
	ID    string     `json:"cart_id,omitempty" validate:"omitempty,max=128"`
}

// CartID returns the usage-tracking identifier of the cart.
func (c Cart) CartID() string {
	if id := strings.TrimSpace(c.ID); id != "" {
		return id
	}
	return DefaultCartID
}

// Total sums every line total.
func (c Cart) Total() decimal.Decimal {
	items := make([]pricing.Item, 0, len(c.Items))
	for _, it := range c.Items {
		items = append(items, pricing.Item{Qty: it.Quantity, UnitPrice: it.UnitPrice})
	}
	return pricing.Subtotal(items)
}

// lineIndex returns the first line holding productID, or -1.
func (c Cart) lineIndex(productID int64) int {
	for i, it := range c.Items {
		if it.ProductID == productID {
			return i
		}
	}
	return -1
}

// quantityOf returns the quantity of the first line holding productID.
func (c Cart) quantityOf(productID int64) int {
	if i := c.lineIndex(productID); i >= 0 {
		return c.Items[i].Quantity
	}
	return 0
}

// Coupon is a stored discount rule.
type Coupon struct {
	ID        int64
	Code      string
	Rule      Rule
	Tags      []string
	ExpiresAt *time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Kind reports the rule kind, or an empty kind when no rule is attached.
func (c Coupon) Kind() Kind {
	if c.Rule == nil {
		return ""
	}
	return c.Rule.Kind()
}

// IsExpired reports whether the coupon expired strictly before now.
func (c Coupon) IsExpired(now time.Time) bool {
	return c.ExpiresAt != nil && c.ExpiresAt.Before(now)
}

// Clone returns a deep copy so stores can hand out snapshots.
func (c Coupon) Clone() Coupon {
	out := c
	out.Tags = slices.Clone(c.Tags)
	if c.ExpiresAt != nil {
		exp := *c.ExpiresAt
		out.ExpiresAt = &exp
	}
	if r, ok := c.Rule.(BxGyRule); ok {
		r.Buy = slices.Clone(r.Buy)
		r.Get = slices.Clone(r.Get)
		out.Rule = r
	}
	return out
}

// HasAnyTag reports whether the coupon carries one of tags, ignoring case.
// An empty tag list matches every coupon.
func (c Coupon) HasAnyTag(tags []string) bool {
	if len(tags) == 0 {
		return true
	}
	for _, want := range tags {
		for _, have := range c.Tags {
			if strings.EqualFold(strings.TrimSpace(want), strings.TrimSpace(have)) {
				return true
			}
		}
	}
	return false
}

// NormalizeCode returns the canonical upper-case form of a coupon code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// ApplicableCoupon is one entry of a ranking.
type ApplicableCoupon struct {
	CouponID int64           `json:"coupon_id"`
	Kind     Kind            `json:"type"`
	Discount decimal.Decimal `json:"discount"`
}

// PricedItem is a cart line carrying its allocated discount.
type PricedItem struct {
	CartItem
	Discount decimal.Decimal `json:"total_discount"`
}

// PricedCart is the result of applying a coupon.
type PricedCart struct {
	Items         []PricedItem    `json:"items"`
	CartID        string          `json:"cart_id,omitempty"`
	OriginalTotal decimal.Decimal `json:"total_price"`
	TotalDiscount decimal.Decimal `json:"total_discount"`
	FinalPrice    decimal.Decimal `json:"final_price"`
}
