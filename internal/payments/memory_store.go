package payments

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// MemoryStore is an in-memory ledger for development and tests.
type MemoryStore struct {
	mu            sync.RWMutex
	records       map[string]*Record
	byParcel      map[string]string
	byTransaction map[string]string
}

// NewMemoryStore creates a new in-memory ledger.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records:       make(map[string]*Record),
		byParcel:      make(map[string]string),
		byTransaction: make(map[string]string),
	}
}

func (m *MemoryStore) Insert(ctx context.Context, r *Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.byParcel[r.ParcelID]; ok {
		return ErrDuplicatePayment
	}
	if _, ok := m.byTransaction[r.TransactionID]; ok {
		return ErrDuplicatePayment
	}

	cp := *r
	m.records[r.ID] = &cp
	m.byParcel[r.ParcelID] = r.ID
	m.byTransaction[r.TransactionID] = r.ID
	return nil
}

func (m *MemoryStore) GetByParcelID(ctx context.Context, parcelID string) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.byParcel[parcelID]
	if !ok {
		return nil, ErrPaymentNotFound
	}
	cp := *m.records[id]
	return &cp, nil
}

func (m *MemoryStore) ListByEmail(ctx context.Context, email string, limit int) ([]*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Record
	for _, r := range m.records {
		if strings.EqualFold(r.CustomerEmail, email) {
			cp := *r
			result = append(result, &cp)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].PaidAt.After(result[j].PaidAt)
	})

	if limit = normalizeLimit(limit); len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// Count returns the number of stored records.
func (m *MemoryStore) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}

var _ Store = (*MemoryStore)(nil)
