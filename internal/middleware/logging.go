// Package middleware holds the Echo middleware shared by all routes.
package middleware

import (
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
)

// RequestLogger returns an Echo middleware that writes one access line per
// request. Probe endpoints log at debug level; 5xx answers log as warnings.
func RequestLogger(logger *slog.Logger, quiet ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()

			err := next(c)

			req := c.Request()
			res := c.Response()

			level := slog.LevelInfo
			switch {
			case res.Status >= 500:
				level = slog.LevelWarn
			case slices.Contains(quiet, req.URL.Path):
				level = slog.LevelDebug
			}

			logger.Log(req.Context(), level, "request",
				"method", req.Method,
				"path", req.URL.Path,
				"status", res.Status,
				"duration_ms", time.Since(start).Milliseconds(),
				"request_id", res.Header().Get(echo.HeaderXRequestID),
				"remote_ip", c.RealIP(),
				"bytes_out", res.Size,
				"stream", strings.HasPrefix(res.Header().Get(echo.HeaderContentType), "text/event-stream"),
			)

			return err
		}
	}
}
