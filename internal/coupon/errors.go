package coupon

import "errors"

var (
	// ErrNotFound is returned when a coupon id or code cannot be resolved.
	ErrNotFound = errors.New("coupon not found")
	// ErrExpired is returned when a coupon is past its expiration instant.
	ErrExpired = errors.New("coupon has expired")
	// ErrMasterAlreadyUsed indicates the master coupon already consumed the cart.
	ErrMasterAlreadyUsed = errors.New("master coupon has already been used for this cart")
	// ErrInvalidRuleParameters wraps malformed rule parameters.
	ErrInvalidRuleParameters = errors.New("invalid coupon rule parameters")
	// ErrCodeTaken is returned by repositories when a coupon code is already registered.
	ErrCodeTaken = errors.New("coupon code already exists")
)
