package checkout

import (
	"context"
	"fmt"
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/mbd888/zapshift/internal/apperr"
	"github.com/mbd888/zapshift/internal/logging"
	"github.com/mbd888/zapshift/internal/parcels"
	"github.com/mbd888/zapshift/internal/validation"
)

// ErrCostMismatch is returned when the requested cost differs from the
// parcel's booked cost.
var ErrCostMismatch = fmt.Errorf("cost does not match the parcel: %w", apperr.ErrInvalidRequest)

var sessionsCreated = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "zapshift",
	Subsystem: "checkout",
	Name:      "sessions_created_total",
	Help:      "Checkout sessions requested, by result.",
}, []string{"result"})

func init() {
	prometheus.MustRegister(sessionsCreated)
}

// ParcelLookup reads parcels.
type ParcelLookup interface {
	Get(ctx context.Context, id string) (*parcels.Parcel, error)
}

// SessionRequest is the body of POST /create-checkout-session.
type SessionRequest struct {
	Cost        *int64 `json:"cost"`
	ParcelName  string `json:"parcelName"`
	ParcelID    string `json:"parcelId"`
	SenderEmail string `json:"senderEmail"`
	SuccessURL  string `json:"successUrl"`
	CancelURL   string `json:"cancelUrl"`
}

// Service opens checkout sessions for unpaid parcels.
type Service struct {
	gateway    Gateway
	parcels    ParcelLookup
	successURL string
	cancelURL  string
}

// NewService creates a checkout service. successURL and cancelURL are the
// defaults used when a request omits them.
func NewService(gateway Gateway, parcels ParcelLookup, successURL, cancelURL string) *Service {
	return &Service{
		gateway:    gateway,
		parcels:    parcels,
		successURL: successURL,
		cancelURL:  cancelURL,
	}
}

// Gateway exposes the configured gateway.
func (s *Service) Gateway() Gateway {
	return s.gateway
}

// CreateSession validates req against the stored parcel and opens a
// session whose metadata points back at it.
func (s *Service) CreateSession(ctx context.Context, req SessionRequest) (*CreatedSession, error) {
	var cost int64
	if req.Cost != nil {
		cost = *req.Cost
	}
	req.ParcelID = strings.TrimSpace(req.ParcelID)
	req.SenderEmail = validation.NormalizeEmail(req.SenderEmail)

	if err := validation.Validate(
		validation.Positive("cost", cost),
		validation.Required("parcelId", req.ParcelID),
		validation.ValidEmail("senderEmail", req.SenderEmail),
		validation.ValidURL("successUrl", req.SuccessURL),
		validation.ValidURL("cancelUrl", req.CancelURL),
	).Err(); err != nil {
		sessionsCreated.WithLabelValues("invalid").Inc()
		return nil, err
	}

	parcel, err := s.parcels.Get(ctx, req.ParcelID)
	if err != nil {
		sessionsCreated.WithLabelValues("rejected").Inc()
		return nil, err
	}
	if parcel.IsPaid() {
		sessionsCreated.WithLabelValues("rejected").Inc()
		return nil, parcels.ErrAlreadyPaid
	}
	if parcel.Cost != cost {
		sessionsCreated.WithLabelValues("invalid").Inc()
		return nil, ErrCostMismatch
	}

	name := validation.SanitizeString(req.ParcelName, 200)
	if name == "" {
		name = parcel.Name
	}
	email := req.SenderEmail
	if email == "" {
		email = parcel.SenderEmail
	}

	created, err := s.gateway.CreateSession(ctx, CreateSessionRequest{
		Cost:          cost,
		Description:   "Parcel delivery: " + name,
		CustomerEmail: email,
		Metadata:      Metadata{ParcelID: parcel.ID, ParcelName: name},
		SuccessURL:    firstNonEmpty(req.SuccessURL, s.successURL),
		CancelURL:     firstNonEmpty(req.CancelURL, s.cancelURL),
	})
	if err != nil {
		sessionsCreated.WithLabelValues("gateway_error").Inc()
		return nil, err
	}

	sessionsCreated.WithLabelValues("created").Inc()
	logging.L(ctx).Info("checkout session created",
		"session_id", created.ID,
		"parcel_id", parcel.ID,
		"cost", cost,
	)
	return created, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
