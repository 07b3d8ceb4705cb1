package parcels

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// MemoryStore is an in-memory parcel store for development and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	parcels map[string]*Parcel
}

// NewMemoryStore creates a new in-memory parcel store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{parcels: make(map[string]*Parcel)}
}

func (m *MemoryStore) Create(ctx context.Context, p *Parcel) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *p
	m.parcels[p.ID] = &cp
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*Parcel, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.parcels[id]
	if !ok {
		return nil, ErrParcelNotFound
	}
	return clone(p), nil
}

func (m *MemoryStore) UpdateStatusIfUnpaid(ctx context.Context, id string, t StatusTransition) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.parcels[id]
	if !ok || p.PaymentStatus != StatusUnpaid {
		return false, nil
	}
	paidAt := t.PaidAt
	p.PaymentStatus = t.Status
	p.TrackingID = t.TrackingID
	p.PaymentSessionID = t.SessionID
	p.PaidAt = &paidAt
	return true, nil
}

func (m *MemoryStore) List(ctx context.Context, f Filter) ([]*Parcel, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Parcel
	for _, p := range m.parcels {
		if f.SenderEmail != "" && !strings.EqualFold(p.SenderEmail, f.SenderEmail) {
			continue
		}
		if f.PaymentStatus != "" && p.PaymentStatus != f.PaymentStatus {
			continue
		}
		if !f.PaidAfter.IsZero() && (p.PaidAt == nil || p.PaidAt.Before(f.PaidAfter)) {
			continue
		}
		if !f.PaidBefore.IsZero() && (p.PaidAt == nil || !p.PaidAt.Before(f.PaidBefore)) {
			continue
		}
		if !f.After.After(p.CreatedAt, p.ID) {
			continue
		}
		result = append(result, clone(p))
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID > result[j].ID
		}
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})

	if limit := f.limit(); len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (m *MemoryStore) Delete(ctx context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.parcels[id]
	if !ok || p.PaymentStatus != StatusUnpaid {
		return false, nil
	}
	delete(m.parcels, id)
	return true, nil
}

func clone(p *Parcel) *Parcel {
	cp := *p
	if p.PaidAt != nil {
		t := *p.PaidAt
		cp.PaidAt = &t
	}
	return &cp
}

var _ Store = (*MemoryStore)(nil)
