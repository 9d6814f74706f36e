package ledger

import (
	"context"
	"slices"
	"sync"

	"github.com/google/uuid"
)

// MemoryStore keeps ledger rows in process memory.
type MemoryStore struct {
	mu       sync.RWMutex
	entries  []Entry
	byID     map[uuid.UUID]int
	payments map[string]uuid.UUID
	reversed map[uuid.UUID]uuid.UUID
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:     make(map[uuid.UUID]int),
		payments: make(map[string]uuid.UUID),
		reversed: make(map[uuid.UUID]uuid.UUID),
	}
}

func (s *MemoryStore) Insert(_ context.Context, e *Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byID[e.ID]; ok {
		return ErrDuplicateEntry
	}
	paymentKey := e.Kind == KindPayment && !e.Reversal && e.EventID != ""
	if paymentKey {
		if _, ok := s.payments[e.EventID]; ok {
			return ErrDuplicateEntry
		}
	}
	if e.Reversal {
		if _, ok := s.byID[e.ReversesID]; !ok {
			return ErrEntryNotFound
		}
		if _, ok := s.reversed[e.ReversesID]; ok {
			return ErrDuplicateEntry
		}
		s.reversed[e.ReversesID] = e.ID
	}
	if paymentKey {
		s.payments[e.EventID] = e.ID
	}
	s.byID[e.ID] = len(s.entries)
	s.entries = append(s.entries, *e)
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id uuid.UUID) (*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	i, ok := s.byID[id]
	if !ok {
		return nil, ErrEntryNotFound
	}
	e := s.entries[i]
	return &e, nil
}

func (s *MemoryStore) List(_ context.Context, f Filter) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Entry, 0, min(len(s.entries), f.Limit))
	for _, e := range slices.Backward(s.entries) {
		if len(out) == f.Limit {
			break
		}
		if f.Match(&e) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *MemoryStore) Totals(_ context.Context) (Totals, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var t Totals
	for _, e := range s.entries {
		sign := int64(1)
		if e.Reversal {
			sign = -1
		}
		switch e.Kind {
		case KindPayment:
			t.Payments += sign
			if e.Reversal {
				t.Revenue = t.Revenue.Sub(e.Amount)
			} else {
				t.Revenue = t.Revenue.Add(e.Amount)
			}
		case KindCouponRedemption:
			t.Redemptions += sign
			if e.Reversal {
				t.Discount = t.Discount.Sub(e.Discount)
			} else {
				t.Discount = t.Discount.Add(e.Discount)
			}
		}
	}
	return t, nil
}
