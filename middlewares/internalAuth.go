package middlewares

import (
	"crypto/subtle"
	"net/http"
	"os"
	"strings"

	"github.com/gin-gonic/gin"
)

// InternalSecretMiddleware guards service-to-service endpoints with the
// x-internal-secret header. Fails closed: an unset INTERNAL_SECRET rejects
// every call.
func InternalSecretMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		secret := strings.TrimSpace(os.Getenv("INTERNAL_SECRET"))
		got := strings.TrimSpace(c.GetHeader("x-internal-secret"))
		if secret == "" || got == "" || subtle.ConstantTimeCompare([]byte(secret), []byte(got)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}

// CronSecretMiddleware guards scheduler-triggered endpoints with
// `Authorization: Bearer <CRON_SECRET>`. Fails closed when CRON_SECRET is
// unset.
func CronSecretMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		secret := strings.TrimSpace(os.Getenv("CRON_SECRET"))
		auth := strings.TrimSpace(c.GetHeader("Authorization"))

		var token string
		if strings.HasPrefix(strings.ToLower(auth), "bearer ") {
			token = strings.TrimSpace(auth[7:])
		}
		if secret == "" || token == "" || subtle.ConstantTimeCompare([]byte(secret), []byte(token)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}
