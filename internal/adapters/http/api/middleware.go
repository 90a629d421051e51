package api

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/okian/fleetreport/pkg/metrics"
)

// MetricsMiddleware records request counts and latency per route.
func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		endpoint := c.FullPath()
		if endpoint == "" {
			endpoint = "unmatched"
		}
		status := strconv.Itoa(c.Writer.Status())
		metrics.RecordHTTPRequest(endpoint, c.Request.Method, status)
		metrics.RecordHTTPRequestDuration(endpoint, c.Request.Method, status, float64(time.Since(start).Milliseconds()))
	}
}
