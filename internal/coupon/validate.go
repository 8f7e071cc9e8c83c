package coupon

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"

	validator "github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

var codePattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	// decimals are validated through their float value; bounds are coarse checks only
	v.RegisterCustomTypeFunc(func(field reflect.Value) any {
		if d, ok := field.Interface().(decimal.Decimal); ok {
			f, _ := d.Float64()
			return f
		}
		return nil
	}, decimal.Decimal{})
	_ = v.RegisterValidation("couponcode", func(fl validator.FieldLevel) bool {
		return codePattern.MatchString(fl.Field().String())
	})
	v.RegisterStructValidation(percentageCap, CartWiseRule{}, ProductWiseRule{})
	return v
}

var hundredPercent = decimal.NewFromInt(100)

func percentageCap(sl validator.StructLevel) {
	var (
		mode   DiscountMode
		amount decimal.Decimal
	)
	switch r := sl.Current().Interface().(type) {
	case CartWiseRule:
		mode, amount = r.Mode, r.Amount
	case ProductWiseRule:
		mode, amount = r.Mode, r.Amount
	default:
		return
	}
	if mode == ModePercentage && amount.GreaterThan(hundredPercent) {
		sl.ReportError(amount, "discount", "Amount", "lte", "100")
	}
}

// FieldError describes one failed constraint.
type FieldError struct {
	Field   string `json:"path"`
	Message string `json:"message"`
}

// FieldErrors flattens validator failures found in err.
func FieldErrors(err error) []FieldError {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return nil
	}
	out := make([]FieldError, 0, len(verrs))
	for _, fe := range verrs {
		path := fe.Namespace()
		if _, rest, ok := strings.Cut(path, "."); ok {
			path = rest
		}
		msg := fe.Tag()
		if fe.Param() != "" {
			msg += "=" + fe.Param()
		}
		out = append(out, FieldError{Field: path, Message: msg})
	}
	return out
}

// ValidateRule checks rule parameters. Failures wrap ErrInvalidRuleParameters.
func ValidateRule(r Rule) error {
	if r == nil {
		return fmt.Errorf("%w: missing rule", ErrInvalidRuleParameters)
	}
	if _, ok := ruleKinds[r.Kind()]; !ok {
		return fmt.Errorf("%w: unknown type %q", ErrInvalidRuleParameters, r.Kind())
	}
	if err := validate.Struct(r); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidRuleParameters, err)
	}
	return nil
}

// ValidateCoupon checks the code and rule of a coupon before it is stored.
func ValidateCoupon(c Coupon) error {
	if err := validate.Var(c.Code, "required,min=3,max=50,couponcode"); err != nil {
		return fmt.Errorf("%w: code: %w", ErrInvalidRuleParameters, err)
	}
	return ValidateRule(c.Rule)
}

// ValidateCart checks caller supplied cart lines.
func ValidateCart(c Cart) error {
	return validate.Struct(c)
}
