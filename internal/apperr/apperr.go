// Package apperr defines the error kinds shared across the API and maps
// them to HTTP responses.
//
// Packages declare their own sentinel errors wrapping one of the kinds
// below, so handlers can answer with errors.Is against either.
package apperr

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/zapshift/internal/logging"
)

// Error kinds.
var (
	ErrInvalidRequest      = errors.New("invalid request")
	ErrUnauthenticated     = errors.New("unauthenticated")
	ErrForbidden           = errors.New("forbidden")
	ErrNotFound            = errors.New("not found")
	ErrConflict            = errors.New("conflict")
	ErrDataIntegrity       = errors.New("data integrity violation")
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	ErrGateway             = errors.New("payment gateway error")
	ErrStoreUnavailable    = errors.New("store unavailable")
)

type kind struct {
	err     error
	status  int
	code    string
	message string // public message for 5xx; 4xx responses echo the error
}

var kinds = []kind{
	{ErrInvalidRequest, http.StatusBadRequest, "invalid_request", ""},
	{ErrUnauthenticated, http.StatusUnauthorized, "unauthenticated", ""},
	{ErrForbidden, http.StatusForbidden, "forbidden", ""},
	{ErrNotFound, http.StatusNotFound, "not_found", ""},
	{ErrConflict, http.StatusConflict, "conflict", ""},
	{ErrDataIntegrity, http.StatusInternalServerError, "data_integrity", "Payment session data is inconsistent with stored records"},
	{ErrUpstreamUnavailable, http.StatusServiceUnavailable, "upstream_unavailable", "An upstream service is unavailable, try again shortly"},
	{ErrGateway, http.StatusBadGateway, "gateway_error", "Payment provider returned an error"},
	{ErrStoreUnavailable, http.StatusServiceUnavailable, "store_unavailable", "Storage is unavailable, try again shortly"},
}

var internal = kind{nil, http.StatusInternalServerError, "internal_error", "Internal server error"}

func classify(err error) kind {
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k
		}
	}
	return internal
}

// Status returns the HTTP status for err.
func Status(err error) int {
	return classify(err).status
}

// Code returns the stable machine-readable code for err.
func Code(err error) string {
	return classify(err).code
}

// Respond writes a JSON error response for err and aborts the chain.
// Server-side failures are logged and answered with a generic message.
func Respond(c *gin.Context, err error) {
	k := classify(err)
	msg := err.Error()
	if k.status >= http.StatusInternalServerError {
		logging.L(c.Request.Context()).Error("request failed",
			"path", c.FullPath(),
			"code", k.code,
			"error", err,
		)
		msg = k.message
	}
	c.AbortWithStatusJSON(k.status, gin.H{
		"success": false,
		"error":   k.code,
		"message": msg,
	})
}

// Fail writes an error response with an explicit status, code and message.
func Fail(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, gin.H{
		"success": false,
		"error":   code,
		"message": message,
	})
}
