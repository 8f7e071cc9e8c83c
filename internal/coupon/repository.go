package coupon

import "context"

// Repository adds catalog bookkeeping on top of the engine's read contract.
// Implementations return ErrNotFound for unknown ids and ErrCodeTaken for
// duplicate codes, and hand out copies that callers may mutate freely.
type Repository interface {
	Catalog
	Create(ctx context.Context, c *Coupon) error
	GetByCode(ctx context.Context, code string) (Coupon, error)
	ListByTags(ctx context.Context, tags []string) ([]Coupon, error)
	Update(ctx context.Context, c *Coupon) error
	Delete(ctx context.Context, id int64) error
}
