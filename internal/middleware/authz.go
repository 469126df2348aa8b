package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"todo-task/backend/internal/auth"
)

const (
	UserIDKey = "user_id"
	EmailKey  = "email"
)

// TokenVerifier checks an access token and returns its claims.
type TokenVerifier interface {
	Verify(accessToken string) (*auth.Claims, error)
}

// AuthzMiddleware requires a valid Bearer access token and stores the caller's user id
// and email in the context.
func AuthzMiddleware(verifier TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "missing_token",
				"message": "Authorization header is required",
			})
			return
		}

		if !strings.HasPrefix(authHeader, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "invalid_token_format",
				"message": "Authorization header must use Bearer token",
			})
			return
		}

		tokenStr := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))

		claims, err := verifier.Verify(tokenStr)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "invalid_token",
				"message": auth.Message(auth.ErrInvalidToken),
			})
			return
		}

		c.Set(UserIDKey, claims.UserID)
		c.Set(EmailKey, claims.Email)

		c.Next()
	}
}

// UserID returns the id stored by AuthzMiddleware, or "" outside protected routes.
func UserID(c *gin.Context) string {
	return c.GetString(UserIDKey)
}
