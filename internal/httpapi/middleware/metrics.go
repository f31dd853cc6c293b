package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
)

type HTTPRecorder interface {
	RecordHTTPRequest(method, route string, status int, d time.Duration)
}

// Metrics records request counts and latency by route template.
func Metrics(rec HTTPRecorder) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		rec.RecordHTTPRequest(c.Request.Method, route, c.Writer.Status(), time.Since(start))
	}
}
