package resilience

import (
	"context"
	"errors"
	"net/http"

	"github.com/noah-isme/coupon-engine/internal/common"
	"github.com/noah-isme/coupon-engine/internal/coupon"
)

// GuardedUsage fails fast with 503 while the wrapped tracker keeps failing.
type GuardedUsage struct {
	Next    coupon.UsageTracker
	Breaker *Breaker
}

var _ coupon.UsageTracker = GuardedUsage{}

func (g GuardedUsage) HasMasterBeenUsed(ctx context.Context, couponID int64, cartID string) (bool, error) {
	var used bool
	err := g.do(ctx, func(ctx context.Context) error {
		var err error
		used, err = g.Next.HasMasterBeenUsed(ctx, couponID, cartID)
		return err
	})
	return used, err
}

func (g GuardedUsage) MarkMasterUsed(ctx context.Context, couponID int64, cartID string) (bool, error) {
	var marked bool
	err := g.do(ctx, func(ctx context.Context) error {
		var err error
		marked, err = g.Next.MarkMasterUsed(ctx, couponID, cartID)
		return err
	})
	return marked, err
}

func (g GuardedUsage) ResetCart(ctx context.Context, cartID string) error {
	return g.do(ctx, func(ctx context.Context) error {
		return g.Next.ResetCart(ctx, cartID)
	})
}

func (g GuardedUsage) do(ctx context.Context, fn func(context.Context) error) error {
	if g.Breaker == nil {
		return fn(ctx)
	}
	err := g.Breaker.Do(ctx, fn)
	if errors.Is(err, ErrOpenCircuit) {
		return common.NewAppError("DEPENDENCY_UNAVAILABLE", "master usage store unavailable", http.StatusServiceUnavailable, err)
	}
	return err
}
