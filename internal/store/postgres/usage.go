package postgres

import (
	"context"
	"fmt"
)

// UsageTracker records master coupon usage in master_coupon_usage. The
// primary key on (coupon_id, cart_id) makes MarkMasterUsed a compare-and-set.
type UsageTracker struct {
	DB DBTX
}

// HasMasterBeenUsed reports whether couponID already consumed cartID.
func (u UsageTracker) HasMasterBeenUsed(ctx context.Context, couponID int64, cartID string) (bool, error) {
	var used bool
	err := u.DB.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM master_coupon_usage WHERE coupon_id = $1 AND cart_id = $2)`,
		couponID, cartID,
	).Scan(&used)
	if err != nil {
		return false, fmt.Errorf("lookup master usage: %w", err)
	}
	return used, nil
}

// MarkMasterUsed inserts the usage row and reports whether it was new.
func (u UsageTracker) MarkMasterUsed(ctx context.Context, couponID int64, cartID string) (bool, error) {
	tag, err := u.DB.Exec(ctx, `
		INSERT INTO master_coupon_usage (coupon_id, cart_id) VALUES ($1, $2)
		ON CONFLICT (coupon_id, cart_id) DO NOTHING`,
		couponID, cartID,
	)
	if err != nil {
		return false, fmt.Errorf("mark master usage: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ResetCart deletes every usage row of cartID.
func (u UsageTracker) ResetCart(ctx context.Context, cartID string) error {
	if _, err := u.DB.Exec(ctx, `DELETE FROM master_coupon_usage WHERE cart_id = $1`, cartID); err != nil {
		return fmt.Errorf("reset master usage: %w", err)
	}
	return nil
}
