package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/pubble-team/pubbleauth/access"
)

// Authorize enforces the requirement table assigns to the request path.
func Authorize(table *access.Table) gin.HandlerFunc {
	return func(c *gin.Context) {
		if table == nil {
			c.Next()
			return
		}

		req := table.Match(c.Request.URL.Path)
		p, ok := PrincipalFrom(c)

		switch req.Check(ok, p.Role) {
		case access.Unauthenticated:
			c.Header("WWW-Authenticate", `Bearer realm="pubble"`)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"code":    "UNAUTHORIZED",
				"message": "authentication required",
			})
		case access.Forbidden:
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"code":    "FORBIDDEN",
				"message": "insufficient role",
			})
		default:
			c.Next()
		}
	}
}
