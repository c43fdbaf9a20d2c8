package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// RelayAuthMiddleware gates the relay network API behind a static API key.
type RelayAuthMiddleware struct {
	apiKey string
	logger *logrus.Logger
}

// NewRelayAuthMiddleware creates the middleware. An empty key disables the
// check (development mode).
func NewRelayAuthMiddleware(apiKey string, logger *logrus.Logger) *RelayAuthMiddleware {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &RelayAuthMiddleware{apiKey: apiKey, logger: logger}
}

// RequireAPIKey checks the Bearer token against the configured key.
func (m *RelayAuthMiddleware) RequireAPIKey() gin.HandlerFunc {
	return func(c *gin.Context) {
		if m.apiKey == "" {
			c.Next()
			return
		}

		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.JSON(http.StatusUnauthorized, gin.H{
				"success": false,
				"error":   "Authentication required",
				"code":    "MISSING_AUTH_HEADER",
			})
			c.Abort()
			return
		}
		if !strings.HasPrefix(authHeader, "Bearer ") {
			c.JSON(http.StatusUnauthorized, gin.H{
				"success": false,
				"error":   "Invalid authorization format, need Bearer token",
				"code":    "INVALID_AUTH_FORMAT",
			})
			c.Abort()
			return
		}

		token := strings.TrimPrefix(authHeader, "Bearer ")
		if subtle.ConstantTimeCompare([]byte(token), []byte(m.apiKey)) != 1 {
			m.logger.WithFields(logrus.Fields{
				"path":        c.Request.URL.Path,
				"remote_addr": c.ClientIP(),
			}).Warn("Relay API auth failed - invalid key")

			c.JSON(http.StatusUnauthorized, gin.H{
				"success": false,
				"error":   "Invalid API key",
				"code":    "INVALID_API_KEY",
			})
			c.Abort()
			return
		}

		c.Next()
	}
}
