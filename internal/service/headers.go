package service

import (
	"net/http"

	"github.com/golang/gddo/httputil/header"
)

// isHopByHopHeader reports whether a canonical header name applies to a
// single connection and must be regenerated per hop rather than forwarded.
func isHopByHopHeader(name string) bool {
	switch name {
	case
		"Connection",
		"Proxy-Connection",
		"Keep-Alive",
		"Proxy-Authenticate",
		"Proxy-Authorization",
		"Te",
		"Trailer",
		"Transfer-Encoding",
		"Upgrade":
		return true
	default:
		return false
	}
}

// copyEndToEnd returns a copy of src without hop-by-hop headers and without
// the headers listed in its Connection header. Every value of every other
// header is kept, in order.
func copyEndToEnd(src http.Header) http.Header {
	var connectionScoped map[string]bool
	if tokens := header.ParseList(src, "Connection"); len(tokens) > 0 {
		connectionScoped = make(map[string]bool, len(tokens))
		for _, token := range tokens {
			connectionScoped[http.CanonicalHeaderKey(token)] = true
		}
	}

	dst := make(http.Header, len(src))
	for key, vals := range src {
		canonical := http.CanonicalHeaderKey(key)
		if isHopByHopHeader(canonical) || connectionScoped[canonical] {
			continue
		}
		dst[canonical] = append(dst[canonical], vals...)
	}
	return dst
}
