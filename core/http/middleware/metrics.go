package middleware

import (
	"time"

	"github.com/labstack/echo/v4"

	"github.com/verbatimhq/verbatim/core/services"
)

// APIMetrics times every request onto the api_call histogram. The label is
// the route pattern, not the raw path, so job IDs and organization IDs do not
// explode the cardinality.
func APIMetrics(metrics *services.MetricsService) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			path := c.Path()
			if path == "" {
				path = c.Request().URL.Path
			}
			metrics.ObserveAPICall(c.Request().Method, path, time.Since(start).Seconds())
			return err
		}
	}
}
