package handler

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"prefix-proxy-go/internal/config"
	"prefix-proxy-go/internal/metrics"
)

// RegisterRoutes sends every path and every method on the forwarding
// listener to the proxy handler. Echo's router only knows a fixed method
// list and answers anything else with 405, so dispatch happens in the
// innermost middleware instead of through routes. Call it after the other
// e.Use middleware has been added.
func RegisterRoutes(e *echo.Echo, proxy *ProxyHandler) {
	e.Use(proxy.Dispatch())
}

// RegisterAdminRoutes wires health, status and metrics onto the admin listener.
func RegisterAdminRoutes(e *echo.Echo, cfg *config.Config, health *HealthHandler, m *metrics.Metrics) {
	e.GET("/healthz", health.Healthz)
	e.GET("/proxy/status", health.Status)
	e.GET(cfg.Admin.MetricsPath, echo.WrapHandler(promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})))
}
