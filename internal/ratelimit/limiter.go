// Package ratelimit throttles API clients by IP using ulule/limiter.
package ratelimit

import (
	"fmt"

	redis "github.com/redis/go-redis/v9"
	limiter "github.com/ulule/limiter/v3"
	memstore "github.com/ulule/limiter/v3/drivers/store/memory"
	redisstore "github.com/ulule/limiter/v3/drivers/store/redis"
)

// NewStore returns a Redis backed counter store when client is set so limits
// are shared across replicas, and an in-process store otherwise.
func NewStore(client *redis.Client, prefix string) (limiter.Store, error) {
	if prefix == "" {
		prefix = "coupon:ratelimit"
	}
	opts := limiter.StoreOptions{Prefix: prefix}
	if client == nil {
		return memstore.NewStoreWithOptions(opts), nil
	}
	store, err := redisstore.NewStoreWithOptions(client, opts)
	if err != nil {
		return nil, fmt.Errorf("redis limiter store: %w", err)
	}
	return store, nil
}

// New parses a formatted rate such as "300-M" and binds it to store.
func New(store limiter.Store, formatted string, trustForwardHeader bool) (*limiter.Limiter, error) {
	rate, err := limiter.NewRateFromFormatted(formatted)
	if err != nil {
		return nil, fmt.Errorf("parse rate %q: %w", formatted, err)
	}
	return limiter.New(store, rate, limiter.WithTrustForwardHeader(trustForwardHeader)), nil
}
