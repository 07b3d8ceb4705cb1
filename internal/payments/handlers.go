package payments

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/zapshift/internal/apperr"
	"github.com/mbd888/zapshift/internal/auth"
)

// Handler provides HTTP endpoints for the payment history.
type Handler struct {
	service *Service
}

// NewHandler creates a new payments handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up payment history routes. r must already require auth.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/payments", h.ListPayments)
}

// ListPayments handles GET /payments?email=
// The email defaults to the caller's and must match it.
func (h *Handler) ListPayments(c *gin.Context) {
	caller := auth.Email(c)
	email := c.DefaultQuery("email", caller)
	if !auth.SameEmail(email, caller) {
		apperr.Respond(c, auth.ErrEmailMismatch)
		return
	}

	limit := 0
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	records, err := h.service.ListForCustomer(c.Request.Context(), email, limit)
	if err != nil {
		apperr.Respond(c, err)
		return
	}
	if records == nil {
		records = []*Record{}
	}

	c.JSON(http.StatusOK, gin.H{
		"payments": records,
		"count":    len(records),
	})
}
