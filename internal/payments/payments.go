// Package payments is the append-only ledger of confirmed parcel payments.
package payments

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mbd888/zapshift/internal/apperr"
)

var (
	ErrPaymentNotFound  = fmt.Errorf("payment record not found: %w", apperr.ErrNotFound)
	ErrDuplicatePayment = fmt.Errorf("payment already recorded for this parcel or transaction: %w", apperr.ErrConflict)
)

// StatusPaid is the only status written to the ledger.
const StatusPaid = "paid"

// Record is an immutable ledger entry for a captured payment.
type Record struct {
	ID            string          `json:"id"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	CustomerEmail string          `json:"customerEmail"`
	ParcelID      string          `json:"parcelId"`
	ParcelName    string          `json:"parcelName"`
	TrackingID    string          `json:"trackingId"`
	TransactionID string          `json:"transactionId"`
	SessionID     string          `json:"sessionId"`
	PaymentStatus string          `json:"paymentStatus"`
	PaidAt        time.Time       `json:"paidAt"`
}

// AmountFromMinor converts a gateway amount in minor units (cents) to a
// decimal amount in major units.
func AmountFromMinor(minor int64) decimal.Decimal {
	return decimal.New(minor, -2)
}

// Store persists ledger entries. Records are never updated or deleted.
type Store interface {
	// Insert appends r. It returns ErrDuplicatePayment when a record
	// already exists for r.ParcelID or r.TransactionID.
	Insert(ctx context.Context, r *Record) error
	GetByParcelID(ctx context.Context, parcelID string) (*Record, error)
	// ListByEmail returns a customer's records, most recent payment first.
	ListByEmail(ctx context.Context, email string, limit int) ([]*Record, error)
}

// DefaultListLimit caps ListByEmail when no limit is given.
const DefaultListLimit = 100

func normalizeLimit(limit int) int {
	if limit <= 0 || limit > 500 {
		return DefaultListLimit
	}
	return limit
}
