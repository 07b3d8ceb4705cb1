package auth

import (
	"github.com/gin-gonic/gin"

	"github.com/mbd888/zapshift/internal/apperr"
	"github.com/mbd888/zapshift/internal/logging"
)

const (
	// ContextKeyIdentity holds the verified *Identity
	ContextKeyIdentity = "authIdentity"
	// ContextKeyAuthError holds the reason a presented token was rejected
	ContextKeyAuthError = "authError"
)

// Middleware verifies the Authorization header when present and stores the
// identity in the gin context. Requests without a token pass through.
func Middleware(v Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			c.Next()
			return
		}

		token, err := BearerToken(header)
		if err == nil {
			var id *Identity
			id, err = v.Verify(c.Request.Context(), token)
			if err == nil {
				c.Set(ContextKeyIdentity, id)
			}
		}
		if err != nil {
			logging.L(c.Request.Context()).Debug("identity token rejected", "error", err)
			c.Set(ContextKeyAuthError, err)
		}

		c.Next()
	}
}

// RequireAuth rejects requests without a verified identity
func RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := GetIdentity(c); ok {
			c.Next()
			return
		}
		if v, exists := c.Get(ContextKeyAuthError); exists {
			if err, ok := v.(error); ok {
				apperr.Respond(c, err)
				return
			}
		}
		apperr.Respond(c, ErrMissingToken)
	}
}

// GetIdentity returns the verified identity (if authenticated)
func GetIdentity(c *gin.Context) (*Identity, bool) {
	v, exists := c.Get(ContextKeyIdentity)
	if !exists {
		return nil, false
	}
	id, ok := v.(*Identity)
	return id, ok
}

// Email returns the authenticated caller's email, or "".
func Email(c *gin.Context) string {
	if id, ok := GetIdentity(c); ok {
		return id.Email
	}
	return ""
}
