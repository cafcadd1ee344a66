package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ChandlerPotter/go-auth/internal/metrics"
)

// Metrics records RED metrics per route. A nil m records nothing.
func Metrics(m *metrics.Metrics) gin.HandlerFunc {
	if m == nil {
		return func(c *gin.Context) { c.Next() }
	}
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		// Route pattern keeps label cardinality bounded.
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		status := strconv.Itoa(c.Writer.Status())
		m.HTTPDuration.WithLabelValues(path, c.Request.Method, status).Observe(time.Since(start).Seconds())
		m.HTTPRequests.WithLabelValues(path, c.Request.Method, status).Inc()
	}
}
