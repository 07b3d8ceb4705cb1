// Package checkout creates and inspects hosted payment sessions.
package checkout

import (
	"context"
	"fmt"
	"strings"

	"github.com/mbd888/zapshift/internal/apperr"
)

var (
	ErrSessionNotFound    = fmt.Errorf("checkout session not found: %w", apperr.ErrNotFound)
	ErrGatewayUnavailable = fmt.Errorf("payment gateway unreachable: %w", apperr.ErrUpstreamUnavailable)
	ErrGatewayRejected    = fmt.Errorf("payment gateway rejected the request: %w", apperr.ErrGateway)
	ErrMissingMetadata    = fmt.Errorf("checkout session has no parcel metadata: %w", apperr.ErrDataIntegrity)
	ErrInvalidSignature   = fmt.Errorf("webhook signature verification failed: %w", apperr.ErrInvalidRequest)
)

// PaymentStatus mirrors the gateway's session payment status.
type PaymentStatus string

const (
	PaymentPaid              PaymentStatus = "paid"
	PaymentUnpaid            PaymentStatus = "unpaid"
	PaymentNoPaymentRequired PaymentStatus = "no_payment_required"
)

const (
	metadataParcelID   = "parcelId"
	metadataParcelName = "parcelName"
)

// Metadata is the typed contract attached to every session this service
// creates. It is the only link from a session back to its parcel.
type Metadata struct {
	ParcelID   string
	ParcelName string
}

// Map encodes m as gateway metadata.
func (m Metadata) Map() map[string]string {
	return map[string]string{
		metadataParcelID:   m.ParcelID,
		metadataParcelName: m.ParcelName,
	}
}

// Validate returns ErrMissingMetadata when the parcel reference is absent.
func (m Metadata) Validate() error {
	if strings.TrimSpace(m.ParcelID) == "" {
		return ErrMissingMetadata
	}
	return nil
}

// MetadataFromMap decodes gateway metadata. Unknown keys are ignored.
func MetadataFromMap(raw map[string]string) Metadata {
	return Metadata{
		ParcelID:   strings.TrimSpace(raw[metadataParcelID]),
		ParcelName: raw[metadataParcelName],
	}
}

// Session is a read-only view of a gateway checkout session.
type Session struct {
	ID            string
	URL           string
	Status        string // open, complete or expired
	PaymentStatus PaymentStatus
	AmountTotal   int64 // minor units
	Currency      string
	CustomerEmail string
	Metadata      Metadata
	PaymentIntent string // gateway transaction id
}

// IsPaid reports whether the gateway has captured payment.
func (s *Session) IsPaid() bool {
	return s.PaymentStatus == PaymentPaid
}

// CreateSessionRequest describes a one-line-item payment session.
type CreateSessionRequest struct {
	Cost          int64 // major currency units
	Description   string
	CustomerEmail string
	Metadata      Metadata
	SuccessURL    string
	CancelURL     string
}

// CreatedSession is returned after creating a session.
type CreatedSession struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// Gateway is the hosted-checkout provider.
type Gateway interface {
	CreateSession(ctx context.Context, req CreateSessionRequest) (*CreatedSession, error)
	// RetrieveSession returns ErrSessionNotFound for unknown references and
	// ErrGatewayUnavailable when the provider cannot be reached.
	RetrieveSession(ctx context.Context, sessionID string) (*Session, error)
}

// MinorUnits converts a whole major-unit cost to minor units.
func MinorUnits(cost int64) int64 {
	return cost * 100
}
