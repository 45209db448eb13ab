package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// ExtractBearerToken pulls the token out of an "Authorization: Bearer <token>"
// header. Returns empty string if the header is not in bearer format.
func ExtractBearerToken(header string) string {
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}

// APIKeyAuth returns a Gin middleware that authenticates operator requests
// against a single shared API key. Comparison is constant-time.
func APIKeyAuth(apiKey string, logger zerolog.Logger) gin.HandlerFunc {
	log := logger.With().Str("component", "apikey_middleware").Logger()

	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			log.Debug().Str("path", c.Request.URL.Path).Msg("missing authorization header")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authorization required"})
			return
		}

		token := ExtractBearerToken(authHeader)
		if token == "" {
			log.Debug().Str("path", c.Request.URL.Path).Msg("invalid authorization header format")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization format"})
			return
		}

		if subtle.ConstantTimeCompare([]byte(token), []byte(apiKey)) != 1 {
			log.Debug().Str("path", c.Request.URL.Path).Msg("invalid API key")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid API key"})
			return
		}

		c.Next()
	}
}
