package coupon

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/noah-isme/coupon-engine/internal/obs"
	"github.com/noah-isme/coupon-engine/internal/pricing"
)

// Catalog is the read side of the coupon store used by the engine.
type Catalog interface {
	Get(ctx context.Context, id int64) (Coupon, error)
	List(ctx context.Context) ([]Coupon, error)
}

// UsageTracker records which carts a master coupon has consumed.
type UsageTracker interface {
	HasMasterBeenUsed(ctx context.Context, couponID int64, cartID string) (bool, error)
	// MarkMasterUsed reports whether this call moved the pair from unused to used.
	MarkMasterUsed(ctx context.Context, couponID int64, cartID string) (bool, error)
	ResetCart(ctx context.Context, cartID string) error
}

// Locker serializes work on a key.
type Locker interface {
	WithLock(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) error
}

// Engine ranks coupons for a cart and allocates a chosen coupon across its lines.
type Engine struct {
	Catalog Catalog
	Usage   UsageTracker
	Locks   Locker
	LockTTL time.Duration
	Now     func() time.Time
	Logger  zerolog.Logger
}

var tracer = otel.Tracer("coupon/engine")

// ListApplicable returns every unexpired coupon with a positive discount for
// cart, best first. Coupons with malformed parameters are skipped.
func (e *Engine) ListApplicable(ctx context.Context, cart Cart) ([]ApplicableCoupon, error) {
	if e == nil || e.Catalog == nil {
		return nil, errors.New("coupon engine not configured")
	}
	ctx, span := tracer.Start(ctx, "coupon.ListApplicable")
	defer span.End()
	span.SetAttributes(attribute.Int("cart.items", len(cart.Items)))

	coupons, err := e.Catalog.List(ctx)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		obs.ObserveRanking("error", 0)
		return nil, fmt.Errorf("list coupons: %w", err)
	}

	now := e.now()
	base := newEvaluation(cart)
	out := make([]ApplicableCoupon, 0, len(coupons))
	for _, c := range coupons {
		if c.IsExpired(now) {
			continue
		}
		if err := ValidateRule(c.Rule); err != nil {
			e.Logger.Warn().Err(err).Int64("coupon_id", c.ID).Msg("skip coupon with invalid rule")
			continue
		}
		ev := base
		if c.Kind() == KindMaster {
			used, err := e.usage().HasMasterBeenUsed(ctx, c.ID, cart.CartID())
			if err != nil {
				span.SetStatus(codes.Error, err.Error())
				obs.ObserveRanking("error", 0)
				return nil, fmt.Errorf("master usage lookup: %w", err)
			}
			ev.masterUsed = used
		}
		discount := ruleKinds[c.Kind()].discount(c.Rule, ev)
		if !discount.IsPositive() {
			continue
		}
		rounded := pricing.Round(discount)
		if !rounded.IsPositive() {
			continue
		}
		out = append(out, ApplicableCoupon{CouponID: c.ID, Kind: c.Kind(), Discount: rounded})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Discount.GreaterThan(out[j].Discount)
	})
	span.SetAttributes(attribute.Int("coupons.applicable", len(out)))
	obs.ObserveRanking("ok", len(out))
	return out, nil
}

// Apply allocates the discount of coupon id across the lines of cart. Master
// coupons additionally consume the cart.
func (e *Engine) Apply(ctx context.Context, id int64, cart Cart) (PricedCart, error) {
	if e == nil || e.Catalog == nil {
		return PricedCart{}, errors.New("coupon engine not configured")
	}
	ctx, span := tracer.Start(ctx, "coupon.Apply")
	defer span.End()
	span.SetAttributes(attribute.Int64("coupon.id", id), attribute.Int("cart.items", len(cart.Items)))

	priced, kind, err := e.apply(ctx, id, cart)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		obs.ObserveApply(string(kind), applyResult(err), 0)
		return PricedCart{}, err
	}
	discount, _ := priced.TotalDiscount.Float64()
	obs.ObserveApply(string(kind), "ok", discount)
	return priced, nil
}

func (e *Engine) apply(ctx context.Context, id int64, cart Cart) (PricedCart, Kind, error) {
	c, err := e.Catalog.Get(ctx, id)
	if err != nil {
		return PricedCart{}, "", err
	}
	kind := c.Kind()
	if c.IsExpired(e.now()) {
		return PricedCart{}, kind, ErrExpired
	}
	if err := ValidateRule(c.Rule); err != nil {
		return PricedCart{}, kind, err
	}
	ks := ruleKinds[kind]
	ev := newEvaluation(cart)
	if kind != KindMaster {
		return price(ev, ks.allocate(c.Rule, ev)), kind, nil
	}

	var priced PricedCart
	cartID := cart.CartID()
	err = e.withLock(ctx, masterLockKey(c.ID, cartID), func(ctx context.Context) error {
		used, err := e.usage().HasMasterBeenUsed(ctx, c.ID, cartID)
		if err != nil {
			return fmt.Errorf("master usage lookup: %w", err)
		}
		if used {
			return ErrMasterAlreadyUsed
		}
		priced = price(ev, ks.allocate(c.Rule, ev))
		marked, err := e.usage().MarkMasterUsed(ctx, c.ID, cartID)
		if err != nil {
			return fmt.Errorf("mark master usage: %w", err)
		}
		if !marked {
			return ErrMasterAlreadyUsed
		}
		return nil
	})
	if err != nil {
		return PricedCart{}, kind, err
	}
	e.Logger.Info().Int64("coupon_id", c.ID).Str("cart_id", cartID).Msg("master coupon consumed cart")
	return priced, kind, nil
}

// ResetCart clears every master usage record of cartID.
func (e *Engine) ResetCart(ctx context.Context, cartID string) error {
	if cartID == "" {
		cartID = DefaultCartID
	}
	return e.usage().ResetCart(ctx, cartID)
}

func (e *Engine) withLock(ctx context.Context, key string, fn func(context.Context) error) error {
	if e.Locks == nil {
		return fn(ctx)
	}
	ttl := e.LockTTL
	if ttl <= 0 {
		ttl = 5 * time.Second
	}
	return e.Locks.WithLock(ctx, key, ttl, fn)
}

func (e *Engine) usage() UsageTracker {
	if e.Usage == nil {
		return noUsage{}
	}
	return e.Usage
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func masterLockKey(couponID int64, cartID string) string {
	return fmt.Sprintf("coupon:master:%d:%s", couponID, cartID)
}

func applyResult(err error) string {
	switch {
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrExpired):
		return "expired"
	case errors.Is(err, ErrMasterAlreadyUsed):
		return "master_used"
	case errors.Is(err, ErrInvalidRuleParameters):
		return "invalid_rule"
	default:
		return "error"
	}
}

type noUsage struct{}

func (noUsage) HasMasterBeenUsed(context.Context, int64, string) (bool, error) {
	return false, errors.New("master usage tracker not configured")
}

func (noUsage) MarkMasterUsed(context.Context, int64, string) (bool, error) {
	return false, errors.New("master usage tracker not configured")
}

func (noUsage) ResetCart(context.Context, string) error {
	return errors.New("master usage tracker not configured")
}
