package users

import (
	"context"
	"errors"
	"time"

	"github.com/mbd888/zapshift/internal/idgen"
	"github.com/mbd888/zapshift/internal/validation"
)

// SaveRequest is the body of POST /users.
type SaveRequest struct {
	Email       string `json:"email"`
	DisplayName string `json:"displayName"`
	PhotoURL    string `json:"photoUrl"`
}

// Service implements user directory logic.
type Service struct {
	store Store
	now   func() time.Time
}

// NewService creates a new user service.
func NewService(store Store) *Service {
	return &Service{store: store, now: time.Now}
}

// Save records a sign-in. New users get RoleUser.
func (s *Service) Save(ctx context.Context, req SaveRequest) (*User, bool, error) {
	req.Email = validation.NormalizeEmail(req.Email)
	req.DisplayName = validation.SanitizeString(req.DisplayName, 200)
	req.PhotoURL = validation.SanitizeString(req.PhotoURL, 1000)

	if err := validation.Validate(
		validation.Required("email", req.Email),
		validation.ValidEmail("email", req.Email),
		validation.ValidURL("photoUrl", req.PhotoURL),
	).Err(); err != nil {
		return nil, false, err
	}

	now := s.now().UTC()
	return s.store.Upsert(ctx, &User{
		ID:          idgen.New(),
		Email:       req.Email,
		DisplayName: req.DisplayName,
		PhotoURL:    req.PhotoURL,
		Role:        RoleUser,
		CreatedAt:   now,
		LastLoginAt: now,
	})
}

// Get returns the user with email.
func (s *Service) Get(ctx context.Context, email string) (*User, error) {
	return s.store.GetByEmail(ctx, validation.NormalizeEmail(email))
}

// RoleOf returns the user's role, or RoleUser for an email that has never
// signed in.
func (s *Service) RoleOf(ctx context.Context, email string) (Role, error) {
	u, err := s.Get(ctx, email)
	if errors.Is(err, ErrUserNotFound) {
		return RoleUser, nil
	}
	if err != nil {
		return "", err
	}
	return u.Role, nil
}
