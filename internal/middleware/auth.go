package middleware

import (
	"crypto/subtle"
	"strings"

	"github.com/gin-gonic/gin"

	apperrors "gcli2api-go/internal/errors"
	"gcli2api-go/internal/httpformat"
)

// AuthConfig names the accepted password and which multi-source
// extraction to use.
type AuthConfig struct {
	Password string
}

// UnifiedAuth accepts the password from, in order: the `Authorization:
// Bearer` header, an `X-Goog-Api-Key` header, an `x-api-key` header, a
// cookie, or a `?key=` query parameter — the range of places the two
// wire formats each expect it. Comparison is constant-time: password
// checks are exactly the kind of secret comparison timing differences
// can leak.
func UnifiedAuth(cfg AuthConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		if cfg.Password == "" {
			c.Next()
			return
		}

		provided := extractCandidate(c)
		if provided == "" {
			respondUnauthorized(c, "missing credentials")
			return
		}
		if !constantTimeEqual(provided, cfg.Password) {
			respondForbidden(c, "invalid credentials")
			return
		}
		c.Next()
	}
}

func extractCandidate(c *gin.Context) string {
	if auth := c.GetHeader("Authorization"); auth != "" {
		if strings.HasPrefix(auth, "Bearer ") {
			return strings.TrimPrefix(auth, "Bearer ")
		}
		return auth
	}
	if key := c.GetHeader("X-Goog-Api-Key"); key != "" {
		return key
	}
	if key := c.GetHeader("x-api-key"); key != "" {
		return key
	}
	if key, err := c.Cookie("api_key"); err == nil && key != "" {
		return key
	}
	return c.Query("key")
}

func constantTimeEqual(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// MultiKeyAuth is like UnifiedAuth but accepts any of allowedKeys,
// used where several independent bearer tokens are valid (e.g. per-tenant
// keys layered on top of the single shared password).
func MultiKeyAuth(allowedKeys []string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if len(allowedKeys) == 0 {
			c.Next()
			return
		}
		provided := extractCandidate(c)
		for _, key := range allowedKeys {
			if constantTimeEqual(provided, key) {
				c.Next()
				return
			}
		}
		respondForbidden(c, "invalid credentials")
	}
}

func respondUnauthorized(c *gin.Context, message string) {
	respondError(c, 401, "unauthorized", "authentication_error", message)
}

func respondForbidden(c *gin.Context, message string) {
	respondError(c, 403, "forbidden", "permission_error", message)
}

func respondError(c *gin.Context, status int, code, errType, message string) {
	format := httpformat.DetectFromContext(c)
	body, err := apperrors.New(status, code, errType, message).ToJSON(format)
	if err != nil {
		c.AbortWithStatus(status)
		return
	}
	c.Data(status, "application/json", body)
	c.Abort()
}
