package middleware

import (
	"strconv"
	"time"

	"taskhub/internal/pkg/metrics"

	"github.com/gin-gonic/gin"
)

// Metrics records Prometheus counters/histograms per request.
//
// The route label uses the matched template (e.g. /tasks/:id), not the raw
// path, to keep cardinality bounded.
func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		method := c.Request.Method
		status := strconv.Itoa(c.Writer.Status())

		metrics.HTTPRequestsTotal.WithLabelValues(method, route, status).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
	}
}
