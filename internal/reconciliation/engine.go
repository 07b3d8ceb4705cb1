// Package reconciliation turns a completed checkout session into a paid
// parcel and a payment ledger entry, exactly once per parcel.
package reconciliation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mbd888/zapshift/internal/apperr"
	"github.com/mbd888/zapshift/internal/checkout"
	"github.com/mbd888/zapshift/internal/idgen"
	"github.com/mbd888/zapshift/internal/logging"
	"github.com/mbd888/zapshift/internal/parcels"
	"github.com/mbd888/zapshift/internal/payments"
	"github.com/mbd888/zapshift/internal/traces"
)

var (
	ErrEmptySessionRef = fmt.Errorf("session_id is required: %w", apperr.ErrInvalidRequest)
	ErrUnknownParcel   = fmt.Errorf("session references an unknown parcel: %w", apperr.ErrDataIntegrity)
)

// Outcome of a successful reconciliation.
type Outcome string

const (
	OutcomeConfirmed        Outcome = "confirmed"
	OutcomeAlreadyProcessed Outcome = "already_processed"
	OutcomeNotPaid          Outcome = "not_paid"
)

// Result describes what Reconcile did.
type Result struct {
	Outcome       Outcome `json:"outcome"`
	SessionID     string  `json:"sessionId"`
	ParcelID      string  `json:"parcelId,omitempty"`
	TrackingID    string  `json:"trackingId,omitempty"`
	TransactionID string  `json:"transactionId,omitempty"`
	PaymentID     string  `json:"paymentId,omitempty"`
	PaymentStatus string  `json:"paymentStatus,omitempty"`
}

// Ledger records payments.
type Ledger interface {
	Record(ctx context.Context, r *payments.Record) (*payments.Record, bool, error)
	ForParcel(ctx context.Context, parcelID string) (*payments.Record, error)
}

// trackingAttempts bounds regeneration after a tracking ID collision.
const trackingAttempts = 3

// healGrace is how long after the paid transition a missing record is
// still attributed to an in-flight confirmation rather than a lost write.
const healGrace = 30 * time.Second

// Engine confirms checkout sessions. It holds no locks; the parcel store's
// conditional update and the ledger's uniqueness decide races.
type Engine struct {
	gateway    checkout.Gateway
	parcels    parcels.Store
	ledger     Ledger
	logger     *slog.Logger
	now        func() time.Time
	trackingID func(time.Time) string
}

// NewEngine creates a reconciliation engine.
func NewEngine(gateway checkout.Gateway, parcelStore parcels.Store, ledger Ledger, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		gateway:    gateway,
		parcels:    parcelStore,
		ledger:     ledger,
		logger:     logger,
		now:        time.Now,
		trackingID: idgen.TrackingID,
	}
}

// Reconcile verifies sessionRef with the gateway and, on the first call for
// a paid session, marks its parcel paid and records the payment. Repeated
// calls return OutcomeAlreadyProcessed with the original tracking ID.
func (e *Engine) Reconcile(ctx context.Context, sessionRef string) (res *Result, err error) {
	start := time.Now()
	sessionRef = strings.TrimSpace(sessionRef)

	ctx, span := traces.StartSpan(ctx, "reconciliation.Reconcile", traces.SessionID(sessionRef))
	defer func() {
		reconcileDuration.Observe(time.Since(start).Seconds())
		if err != nil {
			reconcileOutcomes.WithLabelValues(apperr.Code(err)).Inc()
			traces.Fail(span, err)
		} else {
			reconcileOutcomes.WithLabelValues(string(res.Outcome)).Inc()
			span.SetAttributes(traces.Outcome(string(res.Outcome)), traces.TrackingID(res.TrackingID))
		}
		span.End()
	}()

	if sessionRef == "" {
		return nil, ErrEmptySessionRef
	}

	sess, err := e.gateway.RetrieveSession(ctx, sessionRef)
	if err != nil {
		return nil, fmt.Errorf("retrieve session %s: %w", sessionRef, err)
	}

	if !sess.IsPaid() {
		return &Result{
			Outcome:       OutcomeNotPaid,
			SessionID:     sess.ID,
			ParcelID:      sess.Metadata.ParcelID,
			PaymentStatus: string(sess.PaymentStatus),
		}, nil
	}

	if err := sess.Metadata.Validate(); err != nil {
		return nil, fmt.Errorf("session %s: %w", sess.ID, err)
	}

	parcel, err := e.parcels.Get(ctx, sess.Metadata.ParcelID)
	if errors.Is(err, parcels.ErrParcelNotFound) {
		return nil, fmt.Errorf("session %s, parcel %s: %w", sess.ID, sess.Metadata.ParcelID, ErrUnknownParcel)
	}
	if err != nil {
		return nil, err
	}

	if parcel.IsPaid() {
		return e.alreadyProcessed(ctx, sess, parcel)
	}
	return e.confirm(ctx, sess, parcel)
}

func (e *Engine) confirm(ctx context.Context, sess *checkout.Session, parcel *parcels.Parcel) (*Result, error) {
	paidAt := e.now().UTC()

	var (
		trackingID string
		applied    bool
		err        error
	)
	for attempt := 0; attempt < trackingAttempts; attempt++ {
		trackingID = e.trackingID(paidAt)
		applied, err = e.parcels.UpdateStatusIfUnpaid(ctx, parcel.ID, parcels.StatusTransition{
			Status:     parcels.StatusPaid,
			TrackingID: trackingID,
			SessionID:  sess.ID,
			PaidAt:     paidAt,
		})
		if !errors.Is(err, parcels.ErrTrackingIDTaken) {
			break
		}
	}
	if err != nil {
		return nil, fmt.Errorf("mark parcel %s paid: %w", parcel.ID, err)
	}

	if !applied {
		// Another confirmation got there first.
		current, err := e.parcels.Get(ctx, parcel.ID)
		if err != nil {
			return nil, err
		}
		return e.alreadyProcessed(ctx, sess, current)
	}

	parcel.TrackingID = trackingID
	rec, _, err := e.ledger.Record(ctx, newRecord(sess, parcel, trackingID, paidAt))
	if err != nil {
		logging.L(ctx).Error("parcel marked paid but payment record not written",
			"parcel_id", parcel.ID,
			"session_id", sess.ID,
			"tracking_id", trackingID,
			"error", err,
		)
		return nil, fmt.Errorf("record payment for parcel %s: %w", parcel.ID, err)
	}

	e.logger.Info("payment confirmed",
		"parcel_id", parcel.ID,
		"session_id", sess.ID,
		"tracking_id", trackingID,
		"transaction_id", rec.TransactionID,
		"amount", rec.Amount.StringFixed(2),
		"currency", rec.Currency,
	)

	return &Result{
		Outcome:       OutcomeConfirmed,
		SessionID:     sess.ID,
		ParcelID:      parcel.ID,
		TrackingID:    trackingID,
		TransactionID: rec.TransactionID,
		PaymentID:     rec.ID,
	}, nil
}

// alreadyProcessed answers for a parcel that is already paid. If this
// session paid it but the ledger write never landed, the record is written
// now.
func (e *Engine) alreadyProcessed(ctx context.Context, sess *checkout.Session, parcel *parcels.Parcel) (*Result, error) {
	res := &Result{
		Outcome:       OutcomeAlreadyProcessed,
		SessionID:     sess.ID,
		ParcelID:      parcel.ID,
		TrackingID:    parcel.TrackingID,
		TransactionID: transactionID(sess),
	}

	rec, err := e.ledger.ForParcel(ctx, parcel.ID)
	switch {
	case err == nil:
		res.PaymentID = rec.ID
	case !errors.Is(err, payments.ErrPaymentNotFound):
		return nil, err
	case parcel.PaymentSessionID == sess.ID:
		paidAt := e.now().UTC()
		if parcel.PaidAt != nil {
			paidAt = *parcel.PaidAt
		}
		rec, created, err := e.ledger.Record(ctx, newRecord(sess, parcel, parcel.TrackingID, paidAt))
		if err != nil {
			return nil, fmt.Errorf("record payment for parcel %s: %w", parcel.ID, err)
		}
		if created && e.now().Sub(paidAt) >= healGrace {
			ledgerHeals.Inc()
			e.logger.Warn("wrote missing payment record",
				"parcel_id", parcel.ID,
				"session_id", sess.ID,
				"payment_id", rec.ID,
			)
		}
		res.PaymentID = rec.ID
	}

	if parcel.PaymentSessionID != "" && parcel.PaymentSessionID != sess.ID {
		duplicateCharges.Inc()
		e.logger.Warn("paid session for a parcel paid by another session",
			"parcel_id", parcel.ID,
			"session_id", sess.ID,
			"paid_by_session", parcel.PaymentSessionID,
			"transaction_id", transactionID(sess),
		)
	}
	return res, nil
}

func newRecord(sess *checkout.Session, parcel *parcels.Parcel, trackingID string, paidAt time.Time) *payments.Record {
	email := sess.CustomerEmail
	if email == "" {
		email = parcel.SenderEmail
	}
	name := sess.Metadata.ParcelName
	if name == "" {
		name = parcel.Name
	}
	return &payments.Record{
		Amount:        payments.AmountFromMinor(sess.AmountTotal),
		Currency:      sess.Currency,
		CustomerEmail: email,
		ParcelID:      parcel.ID,
		ParcelName:    name,
		TrackingID:    trackingID,
		TransactionID: transactionID(sess),
		SessionID:     sess.ID,
		PaymentStatus: payments.StatusPaid,
		PaidAt:        paidAt,
	}
}

// transactionID is the payment intent, or the session ID for sessions
// the gateway settled without one.
func transactionID(sess *checkout.Session) string {
	if sess.PaymentIntent != "" {
		return sess.PaymentIntent
	}
	return sess.ID
}
