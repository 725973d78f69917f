package middleware_test

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"

	"prefix-proxy-go/internal/config"
	"prefix-proxy-go/internal/middleware"
)

func TestRateLimiter_Enabled(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	e := echo.New()

	// 1 request per second, burst of 1; the second request should be rejected.
	mw := middleware.RateLimiter(config.RateLimitConfig{Enabled: true, RequestsPerSecond: 1}, logger)
	if mw == nil {
		t.Fatal("RateLimiter() = nil, want middleware")
	}
	e.Use(mw)
	e.GET("/test", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})

	// First request should succeed.
	req := httptest.NewRequest(http.MethodGet, "/test", http.NoBody)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("first request: status = %d, want %d", rec.Code, http.StatusOK)
	}

	// Subsequent requests should be rate-limited (429).
	got429 := false
	for i := 0; i < 10; i++ {
		req = httptest.NewRequest(http.MethodGet, "/test", http.NoBody)
		rec = httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		if rec.Code == http.StatusTooManyRequests {
			got429 = true
			break
		}
	}
	if !got429 {
		t.Error("expected at least one 429 response after burst, got none")
	}
}

func TestRateLimiter_Disabled(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if mw := middleware.RateLimiter(config.RateLimitConfig{RequestsPerSecond: 1}, logger); mw != nil {
		t.Error("RateLimiter() returned middleware while disabled")
	}
}
