package checkout

import (
	"encoding/json"
	"fmt"

	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/webhook"

	"github.com/mbd888/zapshift/internal/apperr"
)

// Event types that carry a completed checkout session.
const (
	EventSessionCompleted             = "checkout.session.completed"
	EventSessionAsyncPaymentSucceeded = "checkout.session.async_payment_succeeded"
)

// WebhookEvent is a verified gateway event that references a session.
type WebhookEvent struct {
	ID        string
	Type      string
	SessionID string
}

// Completes reports whether the event signals a possibly-paid session.
func (e *WebhookEvent) Completes() bool {
	return e.Type == EventSessionCompleted || e.Type == EventSessionAsyncPaymentSucceeded
}

// ParseWebhook verifies the Stripe-Signature header over payload and
// decodes the event. Non-session events are returned with an empty
// SessionID.
func ParseWebhook(payload []byte, signature, secret string) (*WebhookEvent, error) {
	event, err := webhook.ConstructEventWithOptions(payload, signature, secret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	out := &WebhookEvent{ID: event.ID, Type: string(event.Type)}
	if !out.Completes() || event.Data == nil {
		return out, nil
	}

	var s stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &s); err != nil {
		return nil, fmt.Errorf("decode checkout session event: %v: %w", err, apperr.ErrInvalidRequest)
	}
	out.SessionID = s.ID
	return out, nil
}
