package middleware

import (
	"log/slog"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"

	"prefix-proxy-go/internal/config"
)

// RateLimiter returns a per-client-IP token bucket limiter, or nil when rate
// limiting is disabled.
func RateLimiter(cfg config.RateLimitConfig, logger *slog.Logger) echo.MiddlewareFunc {
	if !cfg.Enabled {
		return nil
	}
	store := echomw.NewRateLimiterMemoryStore(rate.Limit(cfg.RequestsPerSecond))
	logger.Info("rate limiter enabled", "rps", cfg.RequestsPerSecond)
	return echomw.RateLimiter(store)
}
