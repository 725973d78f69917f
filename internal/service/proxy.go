// Package service implements the core proxy forwarding logic.
package service

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"prefix-proxy-go/internal/client"
	"prefix-proxy-go/internal/config"
	"prefix-proxy-go/internal/model"
	"prefix-proxy-go/internal/route"
)

var (
	// ErrBadRequest is returned when the inbound request cannot be mapped to
	// an upstream request. Nothing is sent upstream.
	ErrBadRequest = errors.New("bad request")
	// ErrUpstream is returned when the upstream is unreachable, times out or
	// answers with a malformed response.
	ErrUpstream = errors.New("upstream request failed")
)

// ProxyService handles the forwarding logic for proxy requests.
type ProxyService struct {
	client       *client.UpstreamClient
	route        *route.Route
	cacheControl string
	logger       *slog.Logger
}

// NewProxyService creates a ProxyService for the configured route.
func NewProxyService(c *client.UpstreamClient, cfg *config.Config, logger *slog.Logger) (*ProxyService, error) {
	r, err := route.New(cfg.Route.TargetURL, cfg.Route.SourcePath)
	if err != nil {
		return nil, fmt.Errorf("build route: %w", err)
	}

	return &ProxyService{
		client:       c,
		route:        r,
		cacheControl: cfg.Route.CacheControl,
		logger:       logger.With("component", "proxy_service"),
	}, nil
}

// Route returns the route requests are mapped through.
func (s *ProxyService) Route() *route.Route {
	return s.route
}

// CacheControl returns the default Cache-Control value, empty when none is configured.
func (s *ProxyService) CacheControl() string {
	return s.cacheControl
}

// Rewrite maps an inbound request URI onto the target. A URI that cannot be
// mapped yields ErrBadRequest.
func (s *ProxyService) Rewrite(requestURI string) (route.Rewritten, error) {
	rw, err := s.route.Rewrite(requestURI)
	if err != nil {
		return route.Rewritten{}, fmt.Errorf("%w: %w", ErrBadRequest, err)
	}
	return rw, nil
}

// Forward rewrites the request URI and sends the request upstream.
// The caller is responsible for closing the response body.
func (s *ProxyService) Forward(pr *model.ProxyRequest) (*model.ProxyResponse, error) {
	rw, err := s.Rewrite(pr.RequestURI)
	if err != nil {
		return nil, err
	}
	return s.Send(pr, rw)
}

// Send forwards pr to the already rewritten upstream URL and returns the
// response. The caller is responsible for closing the response body.
//
// Headers travel end to end in both directions except hop-by-hop ones; the
// only header ever added is the default Cache-Control on responses that
// carry none.
func (s *ProxyService) Send(pr *model.ProxyRequest, rw route.Rewritten) (*model.ProxyResponse, error) {
	upstreamURL := rw.URL.String()
	header := s.buildRequestHeaders(pr.Header)

	s.logger.Debug("forwarding request",
		"method", pr.Method,
		"request_uri", pr.RequestURI,
		"upstream_url", upstreamURL,
		"prefix_matched", rw.Matched,
	)

	resp, err := s.client.DoStream(pr.Ctx, pr.Method, upstreamURL, header, pr.Body, pr.ContentLength)
	if err != nil {
		if errors.Is(err, client.ErrInvalidRequest) {
			return nil, fmt.Errorf("%w: %w", ErrBadRequest, err)
		}
		return nil, fmt.Errorf("%w: %w", ErrUpstream, err)
	}

	resp.Header = s.buildResponseHeaders(resp.Header)
	resp.UpstreamURL = upstreamURL
	resp.PrefixMatched = rw.Matched
	return resp, nil
}

func (s *ProxyService) buildRequestHeaders(src http.Header) http.Header {
	dst := copyEndToEnd(src)
	// An explicitly empty User-Agent stops net/http from sending its own.
	if _, ok := dst["User-Agent"]; !ok {
		dst["User-Agent"] = []string{""}
	}
	return dst
}

func (s *ProxyService) buildResponseHeaders(src http.Header) http.Header {
	dst := copyEndToEnd(src)
	if s.cacheControl != "" {
		// Presence of the key counts, even with an empty value.
		if _, ok := dst["Cache-Control"]; !ok {
			dst.Set("Cache-Control", s.cacheControl)
		}
	}
	return dst
}
