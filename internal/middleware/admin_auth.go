package middleware

import (
	"net/http"
	"strings"
	"time"

	"go-bridge/internal/config"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"
)

// AdminClaims is the JWT payload for operator sessions.
type AdminClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// AdminAuthMiddleware validates operator JWTs on admin routes.
type AdminAuthMiddleware struct {
	secret []byte
	logger *logrus.Logger
}

// NewAdminAuthMiddleware creates the middleware.
func NewAdminAuthMiddleware(cfg config.AdminConfig, logger *logrus.Logger) *AdminAuthMiddleware {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &AdminAuthMiddleware{secret: []byte(cfg.JWTSecret), logger: logger}
}

// IssueToken signs a fresh operator token.
func IssueToken(cfg config.AdminConfig, now time.Time) (string, error) {
	ttl := time.Duration(cfg.TokenTTL) * time.Second
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	claims := &AdminClaims{
		Role: "admin",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "go-bridge",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(cfg.JWTSecret))
}

// RequireAdminAuth rejects requests without a valid operator token.
func (a *AdminAuthMiddleware) RequireAdminAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
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

		tokenString := strings.TrimPrefix(authHeader, "Bearer ")
		claims := &AdminClaims{}
		token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, jwt.ErrSignatureInvalid
			}
			return a.secret, nil
		})
		if err != nil || !token.Valid || claims.Role != "admin" {
			a.logger.WithFields(logrus.Fields{
				"path":        c.Request.URL.Path,
				"remote_addr": c.ClientIP(),
				"error":       err,
			}).Warn("Admin auth failed - invalid token")

			c.JSON(http.StatusUnauthorized, gin.H{
				"success": false,
				"error":   "Invalid or expired token",
				"code":    "INVALID_TOKEN",
			})
			c.Abort()
			return
		}

		c.Set("admin_role", claims.Role)
		c.Next()
	}
}
