package users

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/zapshift/internal/apperr"
	"github.com/mbd888/zapshift/internal/auth"
)

// Handler provides HTTP endpoints for the user directory.
type Handler struct {
	service *Service
}

// NewHandler creates a new user handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up user routes. r must already require auth.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/users", h.SaveUser)
	r.GET("/users/:email/role", h.GetRole)
}

// SaveUser handles POST /users
func (h *Handler) SaveUser(c *gin.Context) {
	var req SaveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apperr.Fail(c, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}

	caller := auth.Email(c)
	if req.Email == "" {
		req.Email = caller
	}
	if !auth.SameEmail(req.Email, caller) {
		apperr.Respond(c, auth.ErrEmailMismatch)
		return
	}

	u, created, err := h.service.Save(c.Request.Context(), req)
	if err != nil {
		apperr.Respond(c, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, gin.H{
		"success": true,
		"created": created,
		"user":    u,
	})
}

// GetRole handles GET /users/:email/role. Callers may read their own role;
// admins may read anyone's.
func (h *Handler) GetRole(c *gin.Context) {
	ctx := c.Request.Context()
	email := c.Param("email")
	caller := auth.Email(c)

	if !auth.SameEmail(email, caller) {
		callerRole, err := h.service.RoleOf(ctx, caller)
		if err != nil {
			apperr.Respond(c, err)
			return
		}
		if callerRole != RoleAdmin {
			apperr.Respond(c, auth.ErrEmailMismatch)
			return
		}
	}

	role, err := h.service.RoleOf(ctx, email)
	if err != nil {
		apperr.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"role": role})
}
