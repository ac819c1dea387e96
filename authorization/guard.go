package authorization

import (
	"net/http"
	"strings"

	jwt "github.com/appleboy/gin-jwt/v2"
	"github.com/gin-gonic/gin"
)

// Guard exposes the authorization checks route handlers compose with.
type Guard struct {
	jwt *jwt.GinJWTMiddleware
}

// Guard returns the guard for this module. In open mode the guard passes
// every request through and OwnerID falls back to the request's owner_id
// parameter.
func (m *Module) Guard() *Guard {
	if m == nil {
		return &Guard{}
	}
	return &Guard{jwt: m.jwtMiddleware}
}

// RequireAuthenticated enforces a valid token when JWT is configured.
func (g *Guard) RequireAuthenticated() gin.HandlerFunc {
	if g == nil || g.jwt == nil {
		return func(c *gin.Context) {
			c.Next()
		}
	}
	return g.jwt.MiddlewareFunc()
}

// OwnerID resolves the owner namespace for a request. With JWT configured it
// comes from token claims and request-supplied values are ignored, so one
// owner can never read another's data by passing a different id. In open mode
// the explicit owner_id form/query value is trusted.
func (g *Guard) OwnerID(c *gin.Context) string {
	if identity, ok := identityFrom(c); ok && identity.OwnerID != "" {
		return identity.OwnerID
	}
	if g != nil && g.jwt != nil {
		return ""
	}
	if owner := strings.TrimSpace(c.PostForm("owner_id")); owner != "" {
		return owner
	}
	return strings.TrimSpace(c.Query("owner_id"))
}

// AbortMissingOwner writes the standard error when no owner could be
// resolved.
func AbortMissingOwner(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "owner_id is required"})
}

func identityFrom(c *gin.Context) (*AuthenticatedAccount, bool) {
	value, exists := c.Get(identityKey)
	if !exists {
		return nil, false
	}
	identity, ok := value.(*AuthenticatedAccount)
	return identity, ok && identity != nil
}
