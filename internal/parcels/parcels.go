// Package parcels stores delivery bookings and owns their single
// unpaid-to-paid transition.
package parcels

import (
	"context"
	"fmt"
	"time"

	"github.com/mbd888/zapshift/internal/apperr"
	"github.com/mbd888/zapshift/internal/pagination"
)

var (
	ErrParcelNotFound = fmt.Errorf("parcel not found: %w", apperr.ErrNotFound)
	ErrAlreadyPaid    = fmt.Errorf("parcel is already paid: %w", apperr.ErrConflict)
	ErrForbidden      = fmt.Errorf("parcel belongs to another sender: %w", apperr.ErrForbidden)
)

// PaymentStatus of a parcel.
type PaymentStatus string

const (
	StatusUnpaid PaymentStatus = "unpaid"
	StatusPaid   PaymentStatus = "paid"
)

// ParcelType distinguishes document envelopes from boxed goods.
type ParcelType string

const (
	TypeDocument    ParcelType = "document"
	TypeNonDocument ParcelType = "non-document"
)

// Parcel is a delivery booking created by a sender.
type Parcel struct {
	ID               string        `json:"id"`
	Name             string        `json:"parcelName"`
	Description      string        `json:"description,omitempty"`
	ParcelType       ParcelType    `json:"parcelType,omitempty"`
	Weight           float64       `json:"weight,omitempty"`
	SenderName       string        `json:"senderName,omitempty"`
	SenderEmail      string        `json:"senderEmail"`
	ReceiverName     string        `json:"receiverName,omitempty"`
	ReceiverAddress  string        `json:"receiverAddress,omitempty"`
	Cost             int64         `json:"cost"`
	PaymentStatus    PaymentStatus `json:"paymentStatus"`
	TrackingID       string        `json:"trackingId,omitempty"`
	PaymentSessionID string        `json:"paymentSessionId,omitempty"`
	PaidAt           *time.Time    `json:"paidAt,omitempty"`
	CreatedAt        time.Time     `json:"createdAt"`
}

// IsPaid reports whether the parcel has completed payment.
func (p *Parcel) IsPaid() bool {
	return p.PaymentStatus == StatusPaid
}

// StatusTransition holds the fields written when a parcel becomes paid.
type StatusTransition struct {
	Status     PaymentStatus
	TrackingID string
	SessionID  string
	PaidAt     time.Time
}

// Filter narrows List results. Zero values match everything.
type Filter struct {
	SenderEmail   string
	PaymentStatus PaymentStatus
	PaidAfter     time.Time // paid at or after this instant
	PaidBefore    time.Time // paid strictly before this instant
	After         *pagination.Cursor
	Limit         int
}

// limit is the row cap a store applies; callers cap user input with
// normalizeLimit first.
func (f Filter) limit() int {
	if f.Limit <= 0 {
		return DefaultListLimit
	}
	return f.Limit
}

// DefaultListLimit caps List when Filter.Limit is unset.
const DefaultListLimit = 100

// MaxListLimit is the largest accepted Filter.Limit.
const MaxListLimit = 500

// Store persists parcels.
type Store interface {
	Create(ctx context.Context, p *Parcel) error
	Get(ctx context.Context, id string) (*Parcel, error)

	// UpdateStatusIfUnpaid applies t only when the parcel is still unpaid.
	// It returns false when the parcel was already paid or does not exist.
	UpdateStatusIfUnpaid(ctx context.Context, id string, t StatusTransition) (bool, error)

	// List returns parcels matching f, newest first with ties broken by
	// descending ID.
	List(ctx context.Context, f Filter) ([]*Parcel, error)

	// Delete removes an unpaid parcel. It returns false when nothing was
	// removed because the parcel is missing or paid.
	Delete(ctx context.Context, id string) (bool, error)
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	if limit > MaxListLimit {
		return MaxListLimit
	}
	return limit
}
