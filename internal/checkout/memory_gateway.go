package checkout

import (
	"context"
	"strings"
	"sync"

	"github.com/mbd888/zapshift/internal/idgen"
)

// MemoryGateway is an in-process gateway for development and tests.
type MemoryGateway struct {
	mu          sync.RWMutex
	sessions    map[string]*Session
	currency    string
	autoPay     bool
	unavailable bool
	retrievals  int
}

// MemoryOption configures a MemoryGateway.
type MemoryOption func(*MemoryGateway)

// WithAutoPay marks every created session as paid, for local flows with
// no real payment provider.
func WithAutoPay() MemoryOption {
	return func(g *MemoryGateway) { g.autoPay = true }
}

// NewMemoryGateway creates an in-memory gateway charging in currency.
func NewMemoryGateway(currency string, opts ...MemoryOption) *MemoryGateway {
	g := &MemoryGateway{sessions: make(map[string]*Session), currency: currency}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *MemoryGateway) CreateSession(ctx context.Context, req CreateSessionRequest) (*CreatedSession, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.unavailable {
		return nil, ErrGatewayUnavailable
	}

	id := "cs_test_" + idgen.Hex(12)
	s := &Session{
		ID:            id,
		URL:           "https://checkout.stripe.test/c/pay/" + id,
		Status:        "open",
		PaymentStatus: PaymentUnpaid,
		AmountTotal:   MinorUnits(req.Cost),
		Currency:      g.currency,
		CustomerEmail: req.CustomerEmail,
		Metadata:      req.Metadata,
	}
	if g.autoPay {
		s.Status = "complete"
		s.PaymentStatus = PaymentPaid
		s.PaymentIntent = "pi_test_" + idgen.Hex(12)
		s.URL = strings.ReplaceAll(req.SuccessURL, "{CHECKOUT_SESSION_ID}", id)
	}
	g.sessions[id] = s
	return &CreatedSession{ID: s.ID, URL: s.URL}, nil
}

func (g *MemoryGateway) RetrieveSession(ctx context.Context, sessionID string) (*Session, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.retrievals++
	if g.unavailable {
		return nil, ErrGatewayUnavailable
	}
	s, ok := g.sessions[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	cp := *s
	return &cp, nil
}

// Put stores or replaces a session.
func (g *MemoryGateway) Put(s *Session) {
	g.mu.Lock()
	defer g.mu.Unlock()
	cp := *s
	g.sessions[s.ID] = &cp
}

// MarkPaid completes a session with the given payment intent.
func (g *MemoryGateway) MarkPaid(sessionID, paymentIntent string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	s, ok := g.sessions[sessionID]
	if !ok {
		return false
	}
	s.Status = "complete"
	s.PaymentStatus = PaymentPaid
	s.PaymentIntent = paymentIntent
	return true
}

// SetUnavailable makes every call fail with ErrGatewayUnavailable.
func (g *MemoryGateway) SetUnavailable(v bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.unavailable = v
}

// Retrievals returns how many RetrieveSession calls were made.
func (g *MemoryGateway) Retrievals() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.retrievals
}

var _ Gateway = (*MemoryGateway)(nil)
