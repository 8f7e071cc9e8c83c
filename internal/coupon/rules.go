package coupon

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Kind discriminates coupon rules.
type Kind string

const (
	KindCartWise    Kind = "cart-wise"
	KindProductWise Kind = "product-wise"
	KindBxGy        Kind = "bxgy"
	KindMaster      Kind = "master"
)

// DiscountMode selects how an amount is interpreted.
type DiscountMode string

const (
	ModePercentage DiscountMode = "percentage"
	ModeFixed      DiscountMode = "fixed"
)

// Rule is the kind-specific parameter set of a coupon. Implementations are
// limited to the types registered in ruleKinds.
type Rule interface {
	Kind() Kind
	rule()
}

// CartWiseRule discounts the whole cart once its total exceeds Threshold.
type CartWiseRule struct {
	Threshold decimal.Decimal `json:"threshold" validate:"gt=0"`
	Amount    decimal.Decimal `json:"discount" validate:"gte=0"`
	Mode      DiscountMode    `json:"discount_type" validate:"oneof=percentage fixed"`
}

// ProductWiseRule discounts the line total of a single product.
type ProductWiseRule struct {
	ProductID int64           `json:"product_id" validate:"gt=0"`
	Amount    decimal.Decimal `json:"discount" validate:"gte=0"`
	Mode      DiscountMode    `json:"discount_type" validate:"oneof=percentage fixed"`
}

// BxGyProduct is a (product, quantity) entry of a buy or get set.
type BxGyProduct struct {
	ProductID int64 `json:"product_id" validate:"gt=0"`
	Quantity  int   `json:"quantity" validate:"gt=0"`
}

// BxGyRule frees units of the get set each time the pooled buy quantity is met.
type BxGyRule struct {
	Buy             []BxGyProduct `json:"buy_products" validate:"required,min=1,dive"`
	Get             []BxGyProduct `json:"get_products" validate:"required,min=1,dive"`
	RepetitionLimit int           `json:"repetition_limit" validate:"gt=0"`
}

// UnmarshalJSON accepts the legacy "repition_limit" spelling.
func (r *BxGyRule) UnmarshalJSON(data []byte) error {
	type plain BxGyRule
	var aux struct {
		plain
		LegacyLimit *int `json:"repition_limit"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*r = BxGyRule(aux.plain)
	if r.RepetitionLimit == 0 && aux.LegacyLimit != nil {
		r.RepetitionLimit = *aux.LegacyLimit
	}
	return nil
}

// MasterRule grants the whole cart for free, once per cart.
type MasterRule struct{}

func (CartWiseRule) Kind() Kind    { return KindCartWise }
func (ProductWiseRule) Kind() Kind { return KindProductWise }
func (BxGyRule) Kind() Kind        { return KindBxGy }
func (MasterRule) Kind() Kind      { return KindMaster }

func (CartWiseRule) rule()    {}
func (ProductWiseRule) rule() {}
func (BxGyRule) rule()        {}
func (MasterRule) rule()      {}

// evaluation is the input shared by calculators and allocators.
type evaluation struct {
	cart       Cart
	total      decimal.Decimal
	masterUsed bool
}

func newEvaluation(cart Cart) evaluation {
	return evaluation{cart: cart, total: cart.Total()}
}

// kindSpec binds a rule kind to its decoder, calculator and allocator.
type kindSpec struct {
	decode   func(json.RawMessage) (Rule, error)
	discount func(Rule, evaluation) decimal.Decimal
	allocate func(Rule, evaluation) []decimal.Decimal
}

func register[R Rule](calc func(R, evaluation) decimal.Decimal, alloc func(R, evaluation) []decimal.Decimal) kindSpec {
	return kindSpec{
		decode: func(raw json.RawMessage) (Rule, error) {
			var r R
			if len(bytes.TrimSpace(raw)) == 0 {
				return r, nil
			}
			if err := json.Unmarshal(raw, &r); err != nil {
				return nil, err
			}
			return r, nil
		},
		discount: func(r Rule, ev evaluation) decimal.Decimal { return calc(r.(R), ev) },
		allocate: func(r Rule, ev evaluation) []decimal.Decimal { return alloc(r.(R), ev) },
	}
}

var ruleKinds = map[Kind]kindSpec{
	KindCartWise:    register(cartWiseDiscount, allocateCartWise),
	KindProductWise: register(productWiseDiscount, allocateProductWise),
	KindBxGy:        register(bxgyDiscount, allocateBxGy),
	KindMaster:      register(masterDiscount, allocateMaster),
}

// ParseKind validates a raw kind string.
func ParseKind(raw string) (Kind, error) {
	kind := Kind(strings.ToLower(strings.TrimSpace(raw)))
	if _, ok := ruleKinds[kind]; !ok {
		return "", fmt.Errorf("%w: unknown type %q", ErrInvalidRuleParameters, raw)
	}
	return kind, nil
}

// DecodeRule decodes kind-specific details into a Rule and validates it.
func DecodeRule(kind Kind, raw json.RawMessage) (Rule, error) {
	r, err := RestoreRule(kind, raw)
	if err != nil {
		return nil, err
	}
	if err := ValidateRule(r); err != nil {
		return nil, err
	}
	return r, nil
}

// RestoreRule decodes persisted details without validating them, leaving
// the engine to skip or reject rules that no longer pass validation.
func RestoreRule(kind Kind, raw json.RawMessage) (Rule, error) {
	ks, ok := ruleKinds[kind]
	if !ok {
		return nil, fmt.Errorf("%w: unknown type %q", ErrInvalidRuleParameters, kind)
	}
	if kind == KindMaster {
		// master coupons carry no parameters; anything supplied is ignored
		raw = nil
	}
	r, err := ks.decode(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRuleParameters, err)
	}
	return r, nil
}
