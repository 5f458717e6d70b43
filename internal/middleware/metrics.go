package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/course-insights-bridge/internal/service"
)

// unmatchedRoute labels requests that hit no route, keeping raw paths with course and
// report ids out of metric labels.
const unmatchedRoute = "unmatched"

// Metrics observes every request under its route template (e.g. /courses/:courseId/reports).
func Metrics(metricsSvc *service.MetricsService) gin.HandlerFunc {
	if metricsSvc == nil {
		return func(c *gin.Context) { c.Next() }
	}
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = unmatchedRoute
		}
		metricsSvc.ObserveHTTPRequest(c.Request.Method, route, c.Writer.Status(), time.Since(start))
	}
}
