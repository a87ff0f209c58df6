package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"npuprof/pkg/logger"

	"github.com/gin-gonic/gin"
)

// AuthMiddleware checks the bearer token against apiKey. An empty apiKey
// disables the check.
func AuthMiddleware(apiKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		// Skip authentication if API key is not configured
		if apiKey == "" {
			c.Next()
			return
		}

		// Get token from Authorization header
		token := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
		if token == "" {
			// browsers cannot set headers on a websocket upgrade
			token = c.Query("token")
		}
		// Validate token
		if subtle.ConstantTimeCompare([]byte(token), []byte(apiKey)) != 1 {
			logger.WarnCtx(c.Request.Context(), "unauthorized request from %s, invalid API key", c.ClientIP())
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		c.Next()
	}
}
