// Package model defines shared types for the proxy.
package model

import (
	"context"
	"io"
	"net/http"
)

// ProxyRequest represents a client request to be forwarded upstream.
type ProxyRequest struct {
	Ctx        context.Context
	Method     string
	RequestURI string // escaped path and raw query as received
	Header     http.Header
	Body       io.ReadCloser
	// ContentLength is -1 when unknown (chunked), as in net/http.
	ContentLength int64
}

// ProxyResponse represents the upstream response to be streamed back.
type ProxyResponse struct {
	StatusCode    int
	Header        http.Header
	Body          io.ReadCloser
	ContentLength int64

	// UpstreamURL is the URL the request was forwarded to.
	UpstreamURL string
	// PrefixMatched is false when the source prefix did not match and the
	// request URI was forwarded unchanged.
	PrefixMatched bool
}
