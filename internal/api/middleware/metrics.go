package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/powerdash/backend/internal/metrics"
)

// MetricsMiddleware records request counts and latencies per route template
func MetricsMiddleware(m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.HTTPRequest(route, c.Request.Method, c.Writer.Status(), time.Since(start))
	}
}
