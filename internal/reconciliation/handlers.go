package reconciliation

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/zapshift/internal/apperr"
	"github.com/mbd888/zapshift/internal/checkout"
	"github.com/mbd888/zapshift/internal/logging"
	"github.com/mbd888/zapshift/internal/validation"
)

// Handler provides the payment confirmation endpoints.
type Handler struct {
	engine        *Engine
	webhookSecret string
}

// NewHandler creates a handler. An empty webhookSecret disables the
// webhook route.
func NewHandler(engine *Engine, webhookSecret string) *Handler {
	return &Handler{engine: engine, webhookSecret: webhookSecret}
}

// RegisterRoutes sets up confirmation routes. Neither route requires a
// bearer token: the session reference is verified with the gateway and
// webhooks carry their own signature.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.PATCH("/payment-success", h.PaymentSuccess)
	if h.webhookSecret != "" {
		r.POST("/webhooks/stripe", h.StripeWebhook)
	}
}

// PaymentSuccess handles PATCH /payment-success?session_id=
func (h *Handler) PaymentSuccess(c *gin.Context) {
	res, err := h.engine.Reconcile(c.Request.Context(), c.Query("session_id"))
	if err != nil {
		apperr.Respond(c, err)
		return
	}

	if res.Outcome == OutcomeNotPaid {
		c.JSON(http.StatusBadRequest, gin.H{
			"success":       false,
			"error":         string(OutcomeNotPaid),
			"message":       "payment has not been completed",
			"paymentStatus": res.PaymentStatus,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":          true,
		"alreadyProcessed": res.Outcome == OutcomeAlreadyProcessed,
		"trackingId":       res.TrackingID,
		"transactionId":    res.TransactionID,
		"paymentId":        res.PaymentID,
		"parcelId":         res.ParcelID,
	})
}

// StripeWebhook handles POST /webhooks/stripe
func (h *Handler) StripeWebhook(c *gin.Context) {
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, validation.MaxRequestSize))
	if err != nil {
		apperr.Fail(c, http.StatusBadRequest, "invalid_request", "could not read request body")
		return
	}

	event, err := checkout.ParseWebhook(payload, c.GetHeader("Stripe-Signature"), h.webhookSecret)
	if err != nil {
		apperr.Respond(c, err)
		return
	}

	ctx := c.Request.Context()
	if !event.Completes() || event.SessionID == "" {
		c.JSON(http.StatusOK, gin.H{"received": true})
		return
	}

	res, err := h.engine.Reconcile(ctx, event.SessionID)
	switch {
	case err == nil:
		logging.L(ctx).Info("webhook processed",
			"event_id", event.ID,
			"event_type", event.Type,
			"session_id", event.SessionID,
			"outcome", res.Outcome,
		)
	case errors.Is(err, apperr.ErrNotFound), errors.Is(err, apperr.ErrDataIntegrity):
		// Redelivery cannot fix these; acknowledge so the provider stops.
		logging.L(ctx).Error("webhook session cannot be reconciled",
			"event_id", event.ID,
			"session_id", event.SessionID,
			"error", err,
		)
	default:
		apperr.Respond(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"received": true})
}
