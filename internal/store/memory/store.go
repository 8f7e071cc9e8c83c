// Package memory keeps the coupon catalog in process memory.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/noah-isme/coupon-engine/internal/coupon"
)

// Store is a coupon.Repository guarded by a RWMutex. Reads hand out clones.
type Store struct {
	mu     sync.RWMutex
	nextID int64
	byID   map[int64]coupon.Coupon
	byCode map[string]int64
	now    func() time.Time
}

var _ coupon.Repository = (*Store)(nil)

// New returns an empty store.
func New() *Store {
	return &Store{
		nextID: 1,
		byID:   make(map[int64]coupon.Coupon),
		byCode: make(map[string]int64),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Create assigns the next id and timestamps, then stores a copy of c.
func (s *Store) Create(_ context.Context, c *coupon.Coupon) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	code := coupon.NormalizeCode(c.Code)
	if _, taken := s.byCode[code]; taken {
		return coupon.ErrCodeTaken
	}
	now := s.now()
	c.ID = s.nextID
	c.Code = code
	c.CreatedAt = now
	c.UpdatedAt = now
	s.nextID++

	s.byID[c.ID] = c.Clone()
	s.byCode[code] = c.ID
	return nil
}

// Get returns the coupon with id.
func (s *Store) Get(_ context.Context, id int64) (coupon.Coupon, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.byID[id]
	if !ok {
		return coupon.Coupon{}, coupon.ErrNotFound
	}
	return c.Clone(), nil
}

// GetByCode looks a coupon up by code, ignoring case.
func (s *Store) GetByCode(_ context.Context, code string) (coupon.Coupon, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byCode[coupon.NormalizeCode(code)]
	if !ok {
		return coupon.Coupon{}, coupon.ErrNotFound
	}
	return s.byID[id].Clone(), nil
}

// List returns every coupon ordered by id.
func (s *Store) List(_ context.Context) ([]coupon.Coupon, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sorted(nil), nil
}

// ListByTags returns coupons carrying any of tags. No tags means all.
func (s *Store) ListByTags(_ context.Context, tags []string) ([]coupon.Coupon, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sorted(func(c coupon.Coupon) bool { return c.HasAnyTag(tags) }), nil
}

// Update replaces the mutable fields of an existing coupon.
func (s *Store) Update(_ context.Context, c *coupon.Coupon) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.byID[c.ID]
	if !ok {
		return coupon.ErrNotFound
	}
	code := coupon.NormalizeCode(c.Code)
	if code != current.Code {
		if _, taken := s.byCode[code]; taken {
			return coupon.ErrCodeTaken
		}
		delete(s.byCode, current.Code)
		s.byCode[code] = c.ID
	}
	c.Code = code
	c.CreatedAt = current.CreatedAt
	c.UpdatedAt = s.now()
	s.byID[c.ID] = c.Clone()
	return nil
}

// Delete removes the coupon with id.
func (s *Store) Delete(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.byID[id]
	if !ok {
		return coupon.ErrNotFound
	}
	delete(s.byID, id)
	delete(s.byCode, c.Code)
	return nil
}

func (s *Store) sorted(keep func(coupon.Coupon) bool) []coupon.Coupon {
	out := make([]coupon.Coupon, 0, len(s.byID))
	for _, c := range s.byID {
		if keep == nil || keep(c) {
			out = append(out, c.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
