package checkout

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/client"

	"github.com/mbd888/zapshift/internal/circuitbreaker"
)

const breakerKey = "stripe"

// StripeGateway creates and retrieves Stripe Checkout sessions.
type StripeGateway struct {
	api      *client.API
	currency string
	breaker  *circuitbreaker.Breaker
}

// NewStripeGateway creates a gateway on an initialized Stripe client.
// breaker may be nil.
func NewStripeGateway(api *client.API, currency string, breaker *circuitbreaker.Breaker) *StripeGateway {
	return &StripeGateway{api: api, currency: currency, breaker: breaker}
}

// NewStripeClient returns a Stripe API client for secretKey. A nil
// backends uses Stripe's production endpoints.
func NewStripeClient(secretKey string, backends *stripe.Backends) *client.API {
	api := &client.API{}
	api.Init(secretKey, backends)
	return api
}

func (g *StripeGateway) CreateSession(ctx context.Context, req CreateSessionRequest) (*CreatedSession, error) {
	params := &stripe.CheckoutSessionParams{
		Mode: stripe.String(string(stripe.CheckoutSessionModePayment)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{{
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String(g.currency),
				UnitAmount: stripe.Int64(MinorUnits(req.Cost)),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String(req.Description),
				},
			},
			Quantity: stripe.Int64(1),
		}},
		SuccessURL: stripe.String(req.SuccessURL),
		CancelURL:  stripe.String(req.CancelURL),
	}
	if req.CustomerEmail != "" {
		params.CustomerEmail = stripe.String(req.CustomerEmail)
	}
	for k, v := range req.Metadata.Map() {
		params.AddMetadata(k, v)
	}
	params.Context = ctx

	var s *stripe.CheckoutSession
	err := g.guard(func() error {
		var err error
		s, err = g.api.CheckoutSessions.New(params)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &CreatedSession{ID: s.ID, URL: s.URL}, nil
}

func (g *StripeGateway) RetrieveSession(ctx context.Context, sessionID string) (*Session, error) {
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx

	var s *stripe.CheckoutSession
	err := g.guard(func() error {
		var err error
		s, err = g.api.CheckoutSessions.Get(sessionID, params)
		return err
	})
	if err != nil {
		return nil, err
	}
	return fromStripe(s), nil
}

// guard runs fn behind the breaker and maps Stripe errors to gateway
// errors. Only transport and 5xx failures count toward tripping.
func (g *StripeGateway) guard(fn func() error) error {
	call := func() error { return mapStripeError(fn()) }
	if g.breaker == nil {
		return call()
	}
	return g.breaker.Do(breakerKey, call, func(err error) bool {
		return errors.Is(err, ErrGatewayUnavailable)
	})
}

func mapStripeError(err error) error {
	if err == nil {
		return nil
	}
	var se *stripe.Error
	if !errors.As(err, &se) {
		return fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}
	switch {
	case se.Code == stripe.ErrorCodeResourceMissing || se.HTTPStatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrSessionNotFound, se.Msg)
	case se.HTTPStatusCode == http.StatusTooManyRequests || se.HTTPStatusCode >= http.StatusInternalServerError:
		return fmt.Errorf("%w: %s", ErrGatewayUnavailable, se.Msg)
	default:
		return fmt.Errorf("%w: %s", ErrGatewayRejected, se.Msg)
	}
}

func fromStripe(s *stripe.CheckoutSession) *Session {
	out := &Session{
		ID:            s.ID,
		URL:           s.URL,
		Status:        string(s.Status),
		PaymentStatus: PaymentStatus(s.PaymentStatus),
		AmountTotal:   s.AmountTotal,
		Currency:      string(s.Currency),
		CustomerEmail: s.CustomerEmail,
		Metadata:      MetadataFromMap(s.Metadata),
	}
	if out.CustomerEmail == "" && s.CustomerDetails != nil {
		out.CustomerEmail = s.CustomerDetails.Email
	}
	if s.PaymentIntent != nil {
		out.PaymentIntent = s.PaymentIntent.ID
	}
	return out
}

var _ Gateway = (*StripeGateway)(nil)
