package middleware

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"

	"prefix-proxy-go/internal/metrics"
)

func TestRequestLogger(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	e := echo.New()
	e.Use(RequestLogger(logger))
	e.GET("/test", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})

	req := httptest.NewRequest(http.MethodGet, "/test", http.NoBody)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestRequestLogger_Fields(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	e := echo.New()
	e.Use(RequestLogger(logger))
	e.Any("/*", func(c echo.Context) error {
		c.Set(metrics.RouteContextKey, metrics.RouteStripped)
		c.Set(UpstreamURLKey, "http://app/pot?brew=1")
		return c.String(http.StatusTeapot, "short and stout")
	})

	req := httptest.NewRequest(http.MethodPut, "/api/pot?brew=1", http.NoBody)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("unmarshal log line %q: %v", buf.String(), err)
	}

	want := map[string]any{
		"msg":          "request",
		"method":       "PUT",
		"uri":          "/api/pot?brew=1",
		"route":        metrics.RouteStripped,
		"status":       float64(http.StatusTeapot),
		"bytes_out":    float64(len("short and stout")),
		"size":         "15 B",
		"upstream_url": "http://app/pot?brew=1",
	}
	for key, val := range want {
		if entry[key] != val {
			t.Errorf("log %s = %v, want %v", key, entry[key], val)
		}
	}
}

func TestRequestLogger_RouteDefaultsToNone(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	e := echo.New()
	e.Use(RequestLogger(logger))

	req := httptest.NewRequest(http.MethodGet, "/missing", http.NoBody)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("unmarshal log line %q: %v", buf.String(), err)
	}
	if _, ok := entry["upstream_url"]; ok {
		t.Errorf("log upstream_url = %v, want absent", entry["upstream_url"])
	}
	if entry["route"] != metrics.RouteNone {
		t.Errorf("log route = %v, want %q", entry["route"], metrics.RouteNone)
	}
}
