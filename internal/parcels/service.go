package parcels

import (
	"context"
	"time"

	"github.com/mbd888/zapshift/internal/auth"
	"github.com/mbd888/zapshift/internal/idgen"
	"github.com/mbd888/zapshift/internal/pagination"
	"github.com/mbd888/zapshift/internal/validation"
)

// CreateRequest is the body of POST /parcels.
type CreateRequest struct {
	ParcelName      string     `json:"parcelName"`
	Description     string     `json:"description"`
	ParcelType      ParcelType `json:"parcelType"`
	Weight          float64    `json:"weight"`
	SenderName      string     `json:"senderName"`
	SenderEmail     string     `json:"senderEmail"`
	ReceiverName    string     `json:"receiverName"`
	ReceiverAddress string     `json:"receiverAddress"`
	Cost            int64      `json:"cost"`
}

// Service implements parcel business logic.
type Service struct {
	store Store
	now   func() time.Time
}

// NewService creates a new parcel service.
func NewService(store Store) *Service {
	return &Service{store: store, now: time.Now}
}

// Store exposes the underlying store to the reconciliation engine.
func (s *Service) Store() Store {
	return s.store
}

// Create validates req and stores a new unpaid parcel.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*Parcel, error) {
	req.ParcelName = validation.SanitizeString(req.ParcelName, 200)
	req.Description = validation.SanitizeString(req.Description, validation.MaxStringLength)
	req.SenderName = validation.SanitizeString(req.SenderName, 200)
	req.SenderEmail = validation.NormalizeEmail(req.SenderEmail)
	req.ReceiverName = validation.SanitizeString(req.ReceiverName, 200)
	req.ReceiverAddress = validation.SanitizeString(req.ReceiverAddress, 500)

	if err := validation.Validate(
		validation.Required("parcelName", req.ParcelName),
		validation.Required("senderEmail", req.SenderEmail),
		validation.ValidEmail("senderEmail", req.SenderEmail),
		validation.Positive("cost", req.Cost),
		validation.NonNegative("weight", req.Weight),
		validation.OneOf("parcelType", string(req.ParcelType), string(TypeDocument), string(TypeNonDocument)),
	).Err(); err != nil {
		return nil, err
	}

	p := &Parcel{
		ID:              idgen.New(),
		Name:            req.ParcelName,
		Description:     req.Description,
		ParcelType:      req.ParcelType,
		Weight:          req.Weight,
		SenderName:      req.SenderName,
		SenderEmail:     req.SenderEmail,
		ReceiverName:    req.ReceiverName,
		ReceiverAddress: req.ReceiverAddress,
		Cost:            req.Cost,
		PaymentStatus:   StatusUnpaid,
		CreatedAt:       s.now().UTC(),
	}
	if err := s.store.Create(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// Get returns a parcel by ID.
func (s *Service) Get(ctx context.Context, id string) (*Parcel, error) {
	return s.store.Get(ctx, id)
}

// GetOwned returns a parcel only if email is its sender.
func (s *Service) GetOwned(ctx context.Context, id, email string) (*Parcel, error) {
	p, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !auth.SameEmail(p.SenderEmail, email) {
		return nil, ErrForbidden
	}
	return p, nil
}

// Page is one slice of a paginated listing.
type Page struct {
	Parcels    []*Parcel
	NextCursor string
}

// ListPage returns up to f.Limit parcels after f.After and the cursor for
// the following page.
func (s *Service) ListPage(ctx context.Context, f Filter) (*Page, error) {
	limit := normalizeLimit(f.Limit)
	f.SenderEmail = validation.NormalizeEmail(f.SenderEmail)
	f.Limit = limit + 1

	list, err := s.store.List(ctx, f)
	if err != nil {
		return nil, err
	}
	list, next := pagination.ComputePage(list, limit, func(p *Parcel) (time.Time, string) {
		return p.CreatedAt, p.ID
	})
	return &Page{Parcels: list, NextCursor: next}, nil
}

// Delete removes an unpaid parcel owned by email. Paid parcels are kept
// because the payment ledger references them.
func (s *Service) Delete(ctx context.Context, id, email string) error {
	p, err := s.GetOwned(ctx, id, email)
	if err != nil {
		return err
	}
	if p.IsPaid() {
		return ErrAlreadyPaid
	}

	deleted, err := s.store.Delete(ctx, id)
	if err != nil {
		return err
	}
	if deleted {
		return nil
	}

	// Lost a race with payment or another delete.
	p, err = s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if p.IsPaid() {
		return ErrAlreadyPaid
	}
	return ErrParcelNotFound
}
