package checkout

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/zapshift/internal/apperr"
)

// Handler provides the checkout endpoint.
type Handler struct {
	service *Service
}

// NewHandler creates a new checkout handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up checkout routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/create-checkout-session", h.CreateCheckoutSession)
}

// CreateCheckoutSession handles POST /create-checkout-session
func (h *Handler) CreateCheckoutSession(c *gin.Context) {
	var req SessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apperr.Fail(c, http.StatusBadRequest, "invalid_request", "cost must be a positive integer and the body valid JSON")
		return
	}

	created, err := h.service.CreateSession(c.Request.Context(), req)
	if err != nil {
		apperr.Respond(c, err)
		return
	}

	c.JSON(http.StatusOK, created)
}
