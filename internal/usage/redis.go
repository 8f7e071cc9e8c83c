package usage

import (
	"context"
	"fmt"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// resetScript drops a cart index and every usage key it lists in one step, so
// a concurrent mark either lands before the reset or in a fresh index.
var resetScript = redis.NewScript(`local keys = redis.call("smembers", KEYS[1])
for _, k in ipairs(keys) do
  redis.call("del", k)
end
redis.call("del", KEYS[1])
return #keys`)

// Redis tracks master usage with one SETNX key per (coupon, cart) and a set
// per cart indexing those keys for ResetCart.
type Redis struct {
	R      *redis.Client
	Prefix string
	// TTL bounds how long a usage record lives. Zero keeps records forever.
	TTL time.Duration
}

func (t Redis) prefix() string {
	if t.Prefix == "" {
		return "coupon:usage:"
	}
	return t.Prefix
}

func (t Redis) usageKey(couponID int64, cartID string) string {
	return t.prefix() + "master:" + strconv.FormatInt(couponID, 10) + ":" + cartID
}

func (t Redis) cartKey(cartID string) string {
	return t.prefix() + "cart:" + cartID
}

// HasMasterBeenUsed reports whether couponID already consumed cartID.
func (t Redis) HasMasterBeenUsed(ctx context.Context, couponID int64, cartID string) (bool, error) {
	n, err := t.R.Exists(ctx, t.usageKey(couponID, cartID)).Result()
	if err != nil {
		return false, fmt.Errorf("redis usage exists: %w", err)
	}
	return n > 0, nil
}

// MarkMasterUsed performs the unused to used transition atomically.
func (t Redis) MarkMasterUsed(ctx context.Context, couponID int64, cartID string) (bool, error) {
	key := t.usageKey(couponID, cartID)
	index := t.cartKey(cartID)

	var set *redis.BoolCmd
	_, err := t.R.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		set = pipe.SetNX(ctx, key, time.Now().UTC().Format(time.RFC3339Nano), t.TTL)
		pipe.SAdd(ctx, index, key)
		if t.TTL > 0 {
			pipe.Expire(ctx, index, t.TTL)
		}
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("redis usage mark: %w", err)
	}
	return set.Val(), nil
}

// ResetCart deletes every usage key recorded for cartID.
func (t Redis) ResetCart(ctx context.Context, cartID string) error {
	if err := resetScript.Run(ctx, t.R, []string{t.cartKey(cartID)}).Err(); err != nil {
		return fmt.Errorf("redis usage reset: %w", err)
	}
	return nil
}
