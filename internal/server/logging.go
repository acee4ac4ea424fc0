package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/pubble-team/pubbleauth/internal/logging"
)

// RequestLogger logs one line per request. Query strings are left out
// since they can carry tokens.
func RequestLogger(logger logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		args := []any{
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", status,
			"latency", time.Since(start),
			"client_ip", c.ClientIP(),
		}
		ctx := c.Request.Context()
		if status >= http.StatusInternalServerError {
			logger.Warn(ctx, "http request", args...)
			return
		}
		logger.Info(ctx, "http request", args...)
	}
}
