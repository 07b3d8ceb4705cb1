package users

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory user directory for development and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	byEmail map[string]*User
}

// NewMemoryStore creates a new in-memory user store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byEmail: make(map[string]*User)}
}

func (m *MemoryStore) Upsert(ctx context.Context, u *User) (*User, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.byEmail[u.Email]
	if !ok {
		cp := *u
		m.byEmail[u.Email] = &cp
		out := cp
		return &out, true, nil
	}

	if u.DisplayName != "" {
		existing.DisplayName = u.DisplayName
	}
	if u.PhotoURL != "" {
		existing.PhotoURL = u.PhotoURL
	}
	existing.LastLoginAt = u.LastLoginAt
	out := *existing
	return &out, false, nil
}

func (m *MemoryStore) GetByEmail(ctx context.Context, email string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	u, ok := m.byEmail[email]
	if !ok {
		return nil, ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

// SetRole changes a user's role. Roles are otherwise only assigned by
// operators directly in the database.
func (m *MemoryStore) SetRole(email string, role Role) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.byEmail[email]
	if ok {
		u.Role = role
	}
	return ok
}

var _ Store = (*MemoryStore)(nil)
