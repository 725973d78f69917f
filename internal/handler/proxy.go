package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/dustin/go-humanize"
	"github.com/labstack/echo/v4"

	"prefix-proxy-go/internal/connstate"
	"prefix-proxy-go/internal/metrics"
	"prefix-proxy-go/internal/middleware"
	"prefix-proxy-go/internal/model"
	"prefix-proxy-go/internal/relay"
	"prefix-proxy-go/internal/service"
)

// ProxyHandler forwards every inbound request to the target application.
type ProxyHandler struct {
	service *service.ProxyService
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewProxyHandler creates a ProxyHandler. The metrics parameter is optional.
func NewProxyHandler(svc *service.ProxyService, m *metrics.Metrics, logger *slog.Logger) *ProxyHandler {
	return &ProxyHandler{
		service: svc,
		metrics: m,
		logger:  logger.With("component", "proxy_handler"),
	}
}

// Dispatch returns middleware that hands every request to Handle, whatever
// route or method echo's router resolved.
func (h *ProxyHandler) Dispatch() echo.MiddlewareFunc {
	return func(echo.HandlerFunc) echo.HandlerFunc {
		return h.Handle
	}
}

// Handle proxies the request upstream and streams the response back.
func (h *ProxyHandler) Handle(c echo.Context) error {
	req := c.Request()
	ctx := req.Context()
	uri := req.URL.RequestURI()

	rw, err := h.service.Rewrite(uri)
	if err != nil {
		c.Set(metrics.RouteContextKey, metrics.RouteNone)
		return h.mapError(c, err)
	}
	c.Set(metrics.RouteContextKey, metrics.RouteLabel(rw.Matched))

	h.mark(c, connstate.ForwardingUpstream)

	resp, err := h.service.Send(&model.ProxyRequest{
		Ctx:           ctx,
		Method:        req.Method,
		RequestURI:    uri,
		Header:        req.Header,
		Body:          req.Body,
		ContentLength: req.ContentLength,
	}, rw)
	if err != nil {
		return h.mapError(c, err)
	}
	defer func() { _ = resp.Body.Close() }()
	c.Set(middleware.UpstreamURLKey, resp.UpstreamURL)

	dst := c.Response().Header()
	for key, vals := range resp.Header {
		dst[key] = vals
	}
	// net/http would otherwise add these on its own.
	for _, key := range []string{echo.HeaderContentType, "Date"} {
		if _, ok := dst[key]; !ok {
			dst[key] = nil
		}
	}

	h.mark(c, connstate.StreamingResponse)
	c.Response().WriteHeader(resp.StatusCode)

	var opts []relay.Option
	if resp.ContentLength < 0 {
		opts = append(opts, relay.WithFlush())
		c.Response().Flush()
	}

	n, err := relay.Copy(ctx, c.Response(), resp.Body, opts...)
	if h.metrics != nil {
		h.metrics.BytesRelayed.WithLabelValues(metrics.NormalizeMethod(req.Method)).Add(float64(n))
	}

	if err != nil {
		var writeErr *relay.WriteError
		if ctx.Err() != nil || errors.As(err, &writeErr) {
			h.logger.Debug("client went away during response",
				"err", err,
				"upstream_url", resp.UpstreamURL,
				"relayed", humanize.Bytes(uint64(n)),
			)
			return nil
		}
		h.logger.Warn("upstream response interrupted",
			"err", err,
			"upstream_url", resp.UpstreamURL,
			"relayed", humanize.Bytes(uint64(n)),
		)
		// The status line is already out; dropping the connection is the
		// only way to tell the client the body is incomplete.
		panic(http.ErrAbortHandler)
	}

	h.logger.Debug("response relayed",
		"status", resp.StatusCode,
		"upstream_url", resp.UpstreamURL,
		"prefix_matched", resp.PrefixMatched,
		"relayed", humanize.Bytes(uint64(n)),
	)
	return nil
}

func (h *ProxyHandler) mark(c echo.Context, to connstate.State) {
	if err := connstate.Mark(c.Request().Context(), to); err != nil {
		h.logger.Warn("connection state", "err", err, "to", to.String())
	}
}

func (h *ProxyHandler) mapError(c echo.Context, err error) error {
	req := c.Request()

	if req.Context().Err() != nil {
		h.logger.Debug("client went away before upstream responded",
			"err", err,
			"uri", req.URL.RequestURI(),
		)
		return nil
	}

	if errors.Is(err, service.ErrBadRequest) {
		h.logger.Warn("rejected request",
			"err", err,
			"method", req.Method,
			"uri", req.URL.RequestURI(),
		)
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "request cannot be forwarded",
		})
	}

	h.logger.Error("proxy error",
		"err", err,
		"method", req.Method,
		"uri", req.URL.RequestURI(),
	)
	return c.JSON(http.StatusBadGateway, map[string]string{
		"error": "upstream request failed",
	})
}
