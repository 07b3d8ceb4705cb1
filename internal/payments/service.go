package payments

import (
	"context"
	"errors"
	"strings"

	"github.com/mbd888/zapshift/internal/idgen"
)

// Service implements ledger business logic.
type Service struct {
	store Store
}

// NewService creates a new ledger service.
func NewService(store Store) *Service {
	return &Service{store: store}
}

// Store exposes the underlying ledger store.
func (s *Service) Store() Store {
	return s.store
}

// Record appends r to the ledger, assigning its ID. If a record already
// exists for the same parcel, that record is returned instead, so retried
// confirmations converge on one entry.
func (s *Service) Record(ctx context.Context, r *Record) (*Record, bool, error) {
	if r.ID == "" {
		r.ID = idgen.New()
	}
	if r.PaymentStatus == "" {
		r.PaymentStatus = StatusPaid
	}
	r.CustomerEmail = strings.ToLower(r.CustomerEmail)
	r.Currency = strings.ToLower(r.Currency)

	err := s.store.Insert(ctx, r)
	if err == nil {
		return r, true, nil
	}
	if !errors.Is(err, ErrDuplicatePayment) {
		return nil, false, err
	}

	existing, getErr := s.store.GetByParcelID(ctx, r.ParcelID)
	if getErr != nil {
		// Duplicate on transaction id against a different parcel.
		return nil, false, err
	}
	return existing, false, nil
}

// ForParcel returns the ledger entry for a parcel.
func (s *Service) ForParcel(ctx context.Context, parcelID string) (*Record, error) {
	return s.store.GetByParcelID(ctx, parcelID)
}

// ListForCustomer returns a customer's payments, newest first.
func (s *Service) ListForCustomer(ctx context.Context, email string, limit int) ([]*Record, error) {
	return s.store.ListByEmail(ctx, strings.ToLower(strings.TrimSpace(email)), limit)
}
