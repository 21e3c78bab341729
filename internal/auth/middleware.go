package auth

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/remoteprojobs/wallet/internal/apierr"
	"github.com/remoteprojobs/wallet/internal/logging"
)

// ContextKeyIdentity is the gin context key holding the request Identity.
const ContextKeyIdentity = "authIdentity"

var (
	errUnauthorized = apierr.New(apierr.CodeUnauthorized, "Bearer token required. Include 'Authorization: Bearer <token>' header.")
	errAdminOnly    = apierr.New(apierr.CodeForbidden, "Administrator role required.")
)

// Middleware resolves a bearer token into an Identity when one is present.
// Requests without a valid token pass through unauthenticated.
func Middleware(v *Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if ok && token != "" {
			if id, err := v.Parse(strings.TrimSpace(token)); err == nil {
				c.Set(ContextKeyIdentity, id)
				ctx := logging.WithAccountID(c.Request.Context(), id.AccountID)
				c.Request = c.Request.WithContext(ctx)
			}
		}
		c.Next()
	}
}

// RequireAuth rejects requests without a resolved identity.
func RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := GetIdentity(c); !ok {
			apierr.Abort(c, errUnauthorized)
			return
		}
		c.Next()
	}
}

// RequireAdmin rejects requests whose identity may not decide withdrawals.
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := GetIdentity(c)
		if !ok {
			apierr.Abort(c, errUnauthorized)
			return
		}
		if !id.CanDecideWithdrawals() {
			apierr.Abort(c, errAdminOnly)
			return
		}
		c.Next()
	}
}

// GetIdentity returns the request identity (if authenticated).
func GetIdentity(c *gin.Context) (Identity, bool) {
	v, exists := c.Get(ContextKeyIdentity)
	if !exists {
		return Identity{}, false
	}
	id, ok := v.(Identity)
	return id, ok
}
