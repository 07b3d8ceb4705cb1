package parcels

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/zapshift/internal/apperr"
	"github.com/mbd888/zapshift/internal/auth"
	"github.com/mbd888/zapshift/internal/pagination"
	"github.com/mbd888/zapshift/internal/validation"
)

// Handler provides HTTP endpoints for parcels.
type Handler struct {
	service *Service
}

// NewHandler creates a new parcel handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up parcel routes. r must already require auth.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/parcels", h.CreateParcel)
	r.GET("/parcels", h.ListParcels)
	r.GET("/parcels/:id", validation.IDParamMiddleware(), h.GetParcel)
	r.DELETE("/parcels/:id", validation.IDParamMiddleware(), h.DeleteParcel)
}

// CreateParcel handles POST /parcels
func (h *Handler) CreateParcel(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apperr.Fail(c, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}

	caller := auth.Email(c)
	if req.SenderEmail == "" {
		req.SenderEmail = caller
	}
	if !auth.SameEmail(req.SenderEmail, caller) {
		apperr.Respond(c, auth.ErrEmailMismatch)
		return
	}

	p, err := h.service.Create(c.Request.Context(), req)
	if err != nil {
		apperr.Respond(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"success":    true,
		"insertedId": p.ID,
		"parcel":     p,
	})
}

// ListParcels handles GET /parcels?email=&paymentStatus=&limit=&cursor=
func (h *Handler) ListParcels(c *gin.Context) {
	caller := auth.Email(c)
	email := c.DefaultQuery("email", caller)
	if !auth.SameEmail(email, caller) {
		apperr.Respond(c, auth.ErrEmailMismatch)
		return
	}

	f := Filter{SenderEmail: email}
	if status := c.Query("paymentStatus"); status != "" {
		if status != string(StatusPaid) && status != string(StatusUnpaid) {
			apperr.Fail(c, http.StatusBadRequest, "invalid_request", "paymentStatus must be paid or unpaid")
			return
		}
		f.PaymentStatus = PaymentStatus(status)
	}
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			f.Limit = parsed
		}
	}

	after, err := pagination.Decode(c.Query("cursor"))
	if err != nil {
		apperr.Respond(c, err)
		return
	}
	f.After = after

	page, err := h.service.ListPage(c.Request.Context(), f)
	if err != nil {
		apperr.Respond(c, err)
		return
	}
	list := page.Parcels
	if list == nil {
		list = []*Parcel{}
	}

	resp := gin.H{
		"parcels": list,
		"count":   len(list),
		"hasMore": page.NextCursor != "",
	}
	if page.NextCursor != "" {
		resp["nextCursor"] = page.NextCursor
	}
	c.JSON(http.StatusOK, resp)
}

// GetParcel handles GET /parcels/:id
func (h *Handler) GetParcel(c *gin.Context) {
	p, err := h.service.GetOwned(c.Request.Context(), c.Param("id"), auth.Email(c))
	if err != nil {
		apperr.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"parcel": p})
}

// DeleteParcel handles DELETE /parcels/:id
func (h *Handler) DeleteParcel(c *gin.Context) {
	id := c.Param("id")
	if err := h.service.Delete(c.Request.Context(), id, auth.Email(c)); err != nil {
		apperr.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":      true,
		"deletedCount": 1,
	})
}
