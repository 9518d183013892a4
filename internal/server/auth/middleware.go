package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const userIDKey = "user_id"

// Middleware rejects requests without a valid bearer token with an empty 401
// and stores the caller's user id in the gin context.
func Middleware(secretKey []byte) gin.HandlerFunc {
	return func(c *gin.Context) {
		scheme, token, ok := strings.Cut(c.GetHeader("Authorization"), " ")
		if !ok || !strings.EqualFold(scheme, "bearer") || token == "" {
			c.AbortWithStatus(http.StatusUnauthorized)
			return
		}

		userID, err := GetUserIDFromToken(strings.TrimSpace(token), secretKey)
		if err != nil {
			c.AbortWithStatus(http.StatusUnauthorized)
			return
		}

		c.Set(userIDKey, userID)
		c.Next()
	}
}

// UserID returns the id stored by Middleware, or "" outside it.
func UserID(c *gin.Context) string {
	return c.GetString(userIDKey)
}
