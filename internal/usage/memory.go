// Package usage records which carts a master coupon has already consumed.
package usage

import (
	"context"
	"sync"
)

type pair struct {
	couponID int64
	cartID   string
}

// Memory tracks master usage in process memory.
type Memory struct {
	mu   sync.Mutex
	used map[pair]struct{}
}

// NewMemory returns an empty tracker.
func NewMemory() *Memory {
	return &Memory{used: make(map[pair]struct{})}
}

// HasMasterBeenUsed reports whether couponID already consumed cartID.
func (m *Memory) HasMasterBeenUsed(_ context.Context, couponID int64, cartID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.used[pair{couponID, cartID}]
	return ok, nil
}

// MarkMasterUsed records the pair and reports whether it was previously unused.
func (m *Memory) MarkMasterUsed(_ context.Context, couponID int64, cartID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := pair{couponID, cartID}
	if _, ok := m.used[key]; ok {
		return false, nil
	}
	m.used[key] = struct{}{}
	return true, nil
}

// ResetCart forgets every record of cartID.
func (m *Memory) ResetCart(_ context.Context, cartID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k := range m.used {
		if k.cartID == cartID {
			delete(m.used, k)
		}
	}
	return nil
}
