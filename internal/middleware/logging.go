// Package middleware provides Echo middleware for logging, metrics and rate limiting.
package middleware

import (
	"log/slog"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/labstack/echo/v4"

	"prefix-proxy-go/internal/metrics"
)

// UpstreamURLKey is the echo context key under which the proxy handler
// stores the outbound URL of the current request.
const UpstreamURLKey = "proxy.upstream_url"

// RequestLogger returns an Echo middleware that logs each request with slog.
func RequestLogger(logger *slog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()

			err := next(c)

			req := c.Request()
			res := c.Response()

			attrs := []any{
				"method", req.Method,
				"uri", req.URL.RequestURI(),
				"route", routeLabel(c),
				"status", res.Status,
				"duration_ms", time.Since(start).Milliseconds(),
				"remote_ip", c.RealIP(),
				"bytes_out", res.Size,
				"size", humanize.Bytes(uint64(max(res.Size, 0))),
			}
			if upstream, ok := c.Get(UpstreamURLKey).(string); ok {
				attrs = append(attrs, "upstream_url", upstream)
			}
			logger.Info("request", attrs...)

			return err
		}
	}
}

func routeLabel(c echo.Context) string {
	if label, ok := c.Get(metrics.RouteContextKey).(string); ok {
		return label
	}
	return metrics.RouteNone
}
