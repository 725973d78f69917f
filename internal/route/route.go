// Package route maps inbound request URIs onto the upstream target URL.
package route

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"unicode"
)

var (
	// ErrInvalidPrefix is returned for a source path that cannot be used as a prefix.
	ErrInvalidPrefix = errors.New("invalid source path prefix")
	// ErrInvalidTarget is returned for a target base URL that cannot be forwarded to.
	ErrInvalidTarget = errors.New("invalid target URL")
	// ErrInvalidRequestURI is returned when the rewritten URI is not a valid absolute URL.
	ErrInvalidRequestURI = errors.New("invalid request URI")
)

// Prefix is a normalised source path prefix. The zero value is the root
// prefix, which matches every request and strips nothing.
type Prefix struct {
	value string // "" for root, otherwise "/a/b" with no trailing slash
}

// ParsePrefix normalises a configured source path: surrounding slashes are
// trimmed and a single leading slash is added back. "" and "/" give the root
// prefix.
func ParsePrefix(raw string) (Prefix, error) {
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return Prefix{}, nil
	}
	if strings.Contains(trimmed, "//") {
		return Prefix{}, fmt.Errorf("%w: %q contains an empty segment", ErrInvalidPrefix, raw)
	}
	for _, r := range trimmed {
		if r == '?' || r == '#' || unicode.IsSpace(r) || unicode.IsControl(r) {
			return Prefix{}, fmt.Errorf("%w: %q contains %q", ErrInvalidPrefix, raw, r)
		}
	}
	return Prefix{value: "/" + trimmed}, nil
}

// IsRoot reports whether p is the root prefix.
func (p Prefix) IsRoot() bool {
	return p.value == ""
}

func (p Prefix) String() string {
	if p.IsRoot() {
		return "/"
	}
	return p.value
}

// Strip removes the prefix from a request URI (escaped path plus optional
// query). The prefix only matches on a segment boundary: it must be followed
// by '/', '?' or the end of the URI. An empty remainder becomes "/". A URI
// that does not match is returned unchanged with matched=false. The query
// string is never modified.
func (p Prefix) Strip(requestURI string) (stripped string, matched bool) {
	if p.IsRoot() {
		return requestURI, true
	}
	if !strings.HasPrefix(requestURI, p.value) {
		return requestURI, false
	}

	rest := requestURI[len(p.value):]
	switch {
	case rest == "":
		return "/", true
	case rest[0] == '/':
		return rest, true
	case rest[0] == '?':
		return "/" + rest, true
	default:
		// "/context-rootx" shares characters but not a segment.
		return requestURI, false
	}
}

// ParseTarget validates the upstream base URL. It must be an absolute http or
// https URL with a host and no query, fragment or user info. A trailing slash
// on the path is removed.
func ParseTarget(raw string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidTarget, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("%w: scheme must be http or https; got %q", ErrInvalidTarget, raw)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("%w: missing host in %q", ErrInvalidTarget, raw)
	}
	if u.User != nil || u.RawQuery != "" || u.ForceQuery || u.Fragment != "" {
		return nil, fmt.Errorf("%w: %q must not carry user info, query or fragment", ErrInvalidTarget, raw)
	}

	u.Path = strings.TrimRight(u.Path, "/")
	u.RawPath = strings.TrimRight(u.RawPath, "/")
	return u, nil
}

// Join appends rel (a path with optional query) to base so that exactly one
// slash separates them. The result is parsed again and must be an absolute
// URL.
func Join(base *url.URL, rel string) (*url.URL, error) {
	if !strings.HasPrefix(rel, "/") {
		rel = "/" + rel
	}
	joined := strings.TrimRight(base.String(), "/") + rel

	u, err := url.Parse(joined)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequestURI, err)
	}
	if !u.IsAbs() || u.Host == "" {
		return nil, fmt.Errorf("%w: %q is not absolute", ErrInvalidRequestURI, joined)
	}
	return u, nil
}

// Route is the immutable mapping from inbound request URIs to upstream URLs.
type Route struct {
	target *url.URL
	prefix Prefix
}

// New builds a Route from the configured target URL and source path.
func New(targetURL, sourcePath string) (*Route, error) {
	target, err := ParseTarget(targetURL)
	if err != nil {
		return nil, err
	}
	prefix, err := ParsePrefix(sourcePath)
	if err != nil {
		return nil, err
	}
	return &Route{target: target, prefix: prefix}, nil
}

// Target returns a copy of the upstream base URL.
func (r *Route) Target() *url.URL {
	u := *r.target
	return &u
}

// Prefix returns the normalised source path prefix.
func (r *Route) Prefix() Prefix {
	return r.prefix
}

// Rewritten is the result of mapping one inbound request URI.
type Rewritten struct {
	URL     *url.URL
	Path    string // stripped path and query appended to the target
	Matched bool   // false when the prefix did not match and the URI passed through
}

// Rewrite strips the prefix from requestURI and joins the remainder onto the
// target URL.
func (r *Route) Rewrite(requestURI string) (Rewritten, error) {
	stripped, matched := r.prefix.Strip(requestURI)
	u, err := Join(r.target, stripped)
	if err != nil {
		return Rewritten{}, err
	}
	return Rewritten{URL: u, Path: stripped, Matched: matched}, nil
}
