package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/arcana-labs/jobcore/internal/security"
)

// AuthMiddleware gates mutating HTTP endpoints behind a bearer token when
// auth.enabled is set. A missing, malformed, or invalid token is rejected;
// there is no role model to check beyond a valid signature.
type AuthMiddleware struct {
	jwtProvider *security.JWTProvider
	enabled     bool
}

// NewAuthMiddleware wires the gate over a JWTProvider. enabled mirrors
// auth.enabled: when false, RequireAuth is a no-op.
func NewAuthMiddleware(jwtProvider *security.JWTProvider, enabled bool) *AuthMiddleware {
	return &AuthMiddleware{jwtProvider: jwtProvider, enabled: enabled}
}

// RequireAuth validates the bearer token when auth is enabled.
func (m *AuthMiddleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !m.enabled {
			c.Next()
			return
		}

		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "authorization header required"})
			c.Abort()
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization header format"})
			c.Abort()
			return
		}

		if _, err := m.jwtProvider.ValidateToken(parts[1]); err != nil {
			switch err {
			case security.ErrExpiredToken:
				c.JSON(http.StatusUnauthorized, gin.H{"error": "token has expired"})
			default:
				c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			}
			c.Abort()
			return
		}

		c.Next()
	}
}
