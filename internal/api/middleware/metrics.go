package middleware

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/philipwilson/trees/internal/errors"
	"github.com/philipwilson/trees/internal/observability/metrics"
)

// NewMetrics records request counts and latency per route template, so
// /api/v1/records/:id counts as one route regardless of the id.
func NewMetrics(m *metrics.HTTPMetrics) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if m == nil {
				return next(c)
			}
			start := time.Now()
			err := next(c)

			status := c.Response().Status
			if err != nil {
				// the error handler has not written the response yet
				status = http.StatusInternalServerError
				var he *echo.HTTPError
				if errors.As(err, &he) {
					status = he.Code
				}
			}
			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			m.RecordRequest(c.Request().Method, route, status, time.Since(start).Seconds())
			return err
		}
	}
}
