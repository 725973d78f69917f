package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"prefix-proxy-go/internal/connstate"
	"prefix-proxy-go/internal/route"
	"prefix-proxy-go/internal/service"
)

// Version is a string type for dependency injection of the build version.
type Version string

// HealthHandler serves health and status endpoints on the admin listener.
type HealthHandler struct {
	route        *route.Route
	cacheControl string
	tracker      *connstate.Tracker
	version      Version
}

// StatusResponse is the body of the status endpoint.
type StatusResponse struct {
	Status       string           `json:"status"`
	Version      string           `json:"version"`
	TargetURL    string           `json:"target_url"`
	SourcePath   string           `json:"source_path"`
	CacheControl string           `json:"cache_control,omitempty"`
	Connections  map[string]int64 `json:"connections,omitempty"`
}

// NewHealthHandler creates a HealthHandler. The tracker is optional.
func NewHealthHandler(svc *service.ProxyService, tracker *connstate.Tracker, v Version) *HealthHandler {
	return &HealthHandler{
		route:        svc.Route(),
		cacheControl: svc.CacheControl(),
		tracker:      tracker,
		version:      v,
	}
}

// Healthz returns a simple OK response for liveness probes.
func (h *HealthHandler) Healthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// Status returns the effective forwarding configuration and live connection counts.
func (h *HealthHandler) Status(c echo.Context) error {
	resp := StatusResponse{
		Status:       "ok",
		Version:      string(h.version),
		TargetURL:    h.route.Target().String(),
		SourcePath:   h.route.Prefix().String(),
		CacheControl: h.cacheControl,
	}
	if h.tracker != nil {
		resp.Connections = make(map[string]int64)
		for _, s := range connstate.LiveStates() {
			resp.Connections[s.String()] = h.tracker.Count(s)
		}
	}
	return c.JSON(http.StatusOK, resp)
}
