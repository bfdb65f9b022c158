package middlewares

import (
	"net/http"

	"bitbucket.org/nfeagil/nfe_backend/config"
	"bitbucket.org/nfeagil/nfe_backend/utils"
	"github.com/gin-gonic/gin"
)

// SessionMiddleware resolves the redis-backed session for the `token` header.
// Requests without a token pass through; route handlers that need an
// authenticated user fail later when the username is absent from the context.
// A redis entry alone is not enough: the JWT itself must still verify, so a
// session cannot outlive its token's expiry.
func SessionMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.Request.Header.Get("token")
		if token == "" {
			c.Next()
			return
		}

		username, exists, err := config.GetRedisValue("Token:" + token)
		if err != nil {
			// Redis being down is not the caller's fault.
			config.LogError(config.GetLogger(), "middlewares", "SessionMiddleware", "session lookup", nil, err)
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "session store unavailable"})
			return
		}
		if !exists {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "sessão inválida ou expirada"})
			return
		}

		claims, err := utils.JwtValidate(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "sessão inválida ou expirada"})
			return
		}

		ctx := utils.SetTokenInContext(c.Request.Context(), token)
		ctx = utils.SetUsernameInContext(ctx, username)
		ctx = utils.SetUserIdInContext(ctx, claims.ID)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
