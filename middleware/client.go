package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/pubble-team/pubbleauth"
)

// ClientInfo records the client IP and user agent on the request context
// for throttling and audit. The IP comes from gin's ClientIP, so trusted
// proxies must be configured on the engine.
func ClientInfo() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := pubbleauth.WithClientIP(c.Request.Context(), c.ClientIP())
		if ua := c.Request.UserAgent(); ua != "" {
			ctx = pubbleauth.WithUserAgent(ctx, ua)
		}
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
