// Package users keeps the directory of signed-in customers and their roles.
package users

import (
	"context"
	"fmt"
	"time"

	"github.com/mbd888/zapshift/internal/apperr"
)

var ErrUserNotFound = fmt.Errorf("user not found: %w", apperr.ErrNotFound)

// Role controls dashboard access.
type Role string

const (
	RoleUser  Role = "user"
	RoleRider Role = "rider"
	RoleAdmin Role = "admin"
)

// User is a directory entry keyed by email.
type User struct {
	ID          string    `json:"id"`
	Email       string    `json:"email"`
	DisplayName string    `json:"displayName,omitempty"`
	PhotoURL    string    `json:"photoUrl,omitempty"`
	Role        Role      `json:"role"`
	CreatedAt   time.Time `json:"createdAt"`
	LastLoginAt time.Time `json:"lastLoginAt"`
}

// Store persists users.
type Store interface {
	// Upsert inserts u, or refreshes the profile fields and last login of
	// the existing user with the same email. Role and creation time of an
	// existing user are kept. It returns the stored user and whether it
	// was newly created.
	Upsert(ctx context.Context, u *User) (*User, bool, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
}
