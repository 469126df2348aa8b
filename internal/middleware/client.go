package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gofrs/uuid"
)

const (
	ClientCookie = "todo_client"
	ClientIDKey  = "client_id"

	clientCookieMaxAge = 30 * 24 * 60 * 60
)

// ClientIDMiddleware gives every browser a stable id cookie identifying its workspace.
func ClientIDMiddleware(secure bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := c.Cookie(ClientCookie)
		if err != nil || uuid.FromStringOrNil(id) == uuid.Nil {
			fresh, genErr := uuid.NewV4()
			if genErr != nil {
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
				return
			}
			id = fresh.String()
			c.SetSameSite(http.SameSiteLaxMode)
			c.SetCookie(ClientCookie, id, clientCookieMaxAge, "/", "", secure, true)
		}

		c.Set(ClientIDKey, id)
		c.Next()
	}
}

func ClientID(c *gin.Context) string {
	return c.GetString(ClientIDKey)
}
