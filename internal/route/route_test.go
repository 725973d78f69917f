package route

import (
	"errors"
	"testing"
)

func TestParsePrefix(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    string
		wantErr bool
	}{
		{name: "empty is root", raw: "", want: "/"},
		{name: "slash is root", raw: "/", want: "/"},
		{name: "multiple slashes are root", raw: "///", want: "/"},
		{name: "leading slash kept", raw: "/context-root", want: "/context-root"},
		{name: "missing leading slash added", raw: "context-root", want: "/context-root"},
		{name: "trailing slash removed", raw: "/context-root/", want: "/context-root"},
		{name: "nested", raw: "/a/b/", want: "/a/b"},
		{name: "query rejected", raw: "/a?b", wantErr: true},
		{name: "fragment rejected", raw: "/a#b", wantErr: true},
		{name: "space rejected", raw: "/a b", wantErr: true},
		{name: "control rejected", raw: "/a\x00", wantErr: true},
		{name: "empty segment rejected", raw: "/a//b", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := ParsePrefix(tt.raw)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidPrefix) {
					t.Fatalf("ParsePrefix(%q) error = %v, want ErrInvalidPrefix", tt.raw, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParsePrefix(%q) error = %v", tt.raw, err)
			}
			if got := p.String(); got != tt.want {
				t.Errorf("ParsePrefix(%q) = %q, want %q", tt.raw, got, tt.want)
			}
		})
	}
}

func TestPrefix_Strip(t *testing.T) {
	tests := []struct {
		name        string
		prefix      string
		uri         string
		want        string
		wantMatched bool
	}{
		{"root keeps path", "/", "/foo/bar?q=1", "/foo/bar?q=1", true},
		{"root keeps slash", "/", "/", "/", true},
		{"strips segment and keeps query", "/context-root", "/context-root/foo?q=1", "/foo?q=1", true},
		{"exact prefix becomes root", "/context-root", "/context-root", "/", true},
		{"exact prefix with slash", "/context-root", "/context-root/", "/", true},
		{"exact prefix with query", "/context-root", "/context-root?q=1", "/?q=1", true},
		{"non-matching passes through", "/context-root", "/other", "/other", false},
		{"partial segment passes through", "/context-root", "/context-rootx/foo", "/context-rootx/foo", false},
		{"nested prefix", "/a/b", "/a/b/c", "/c", true},
		{"nested prefix partial", "/a/b", "/a/bc", "/a/bc", false},
		{"query never rewritten", "/api", "/api/x?next=/api/y", "/x?next=/api/y", true},
		{"escaped path preserved", "/api", "/api/a%2Fb", "/a%2Fb", true},
		{"trailing slash kept", "/api", "/api/x/", "/x/", true},
		{"duplicated prefix stripped once", "/api", "/api/api/x", "/api/x", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := ParsePrefix(tt.prefix)
			if err != nil {
				t.Fatalf("ParsePrefix: %v", err)
			}
			got, matched := p.Strip(tt.uri)
			if got != tt.want {
				t.Errorf("Strip(%q) = %q, want %q", tt.uri, got, tt.want)
			}
			if matched != tt.wantMatched {
				t.Errorf("Strip(%q) matched = %v, want %v", tt.uri, matched, tt.wantMatched)
			}
		})
	}
}

func TestPrefix_StripIdempotentUnderRoot(t *testing.T) {
	p, _ := ParsePrefix("/context-root")
	root := Prefix{}

	for _, uri := range []string{"/", "/context-root", "/context-root/a?b=c", "/other/x", "/context-rootx"} {
		once, _ := p.Strip(uri)
		twice, _ := root.Strip(once)
		if once != twice {
			t.Errorf("root.Strip(%q) = %q, want no-op", once, twice)
		}
	}
}

func TestParseTarget(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    string
		wantErr bool
	}{
		{name: "host only", raw: "http://127.0.0.1:9000", want: "http://127.0.0.1:9000"},
		{name: "trailing slash trimmed", raw: "http://app:9000/", want: "http://app:9000"},
		{name: "path kept", raw: "https://app/base/", want: "https://app/base"},
		{name: "surrounding space trimmed", raw: " http://app ", want: "http://app"},
		{name: "relative rejected", raw: "/just/a/path", wantErr: true},
		{name: "scheme rejected", raw: "ftp://app", wantErr: true},
		{name: "missing host rejected", raw: "http://", wantErr: true},
		{name: "query rejected", raw: "http://app/?a=b", wantErr: true},
		{name: "fragment rejected", raw: "http://app/#x", wantErr: true},
		{name: "user info rejected", raw: "http://u:p@app", wantErr: true},
		{name: "unparseable rejected", raw: "http://[::1", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u, err := ParseTarget(tt.raw)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidTarget) {
					t.Fatalf("ParseTarget(%q) error = %v, want ErrInvalidTarget", tt.raw, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseTarget(%q) error = %v", tt.raw, err)
			}
			if got := u.String(); got != tt.want {
				t.Errorf("ParseTarget(%q) = %q, want %q", tt.raw, got, tt.want)
			}
		})
	}
}

func TestRoute_Rewrite(t *testing.T) {
	tests := []struct {
		name   string
		target string
		source string
		uri    string
		want   string
	}{
		{"root source", "http://app:9000", "/", "/foo?q=1", "http://app:9000/foo?q=1"},
		{"root source root path", "http://app:9000", "/", "/", "http://app:9000/"},
		{"strip onto host", "http://app:9000", "/context-root", "/context-root/foo?q=1", "http://app:9000/foo?q=1"},
		{"strip onto base path", "http://app:9000/base/", "/context-root", "/context-root/foo", "http://app:9000/base/foo"},
		{"exact prefix onto base path", "http://app:9000/base", "/context-root", "/context-root", "http://app:9000/base/"},
		{"pass-through", "http://app:9000/base", "/context-root", "/other?x=1", "http://app:9000/base/other?x=1"},
		{"asterisk form", "http://app:9000", "/", "*", "http://app:9000/*"},
		{"encoded characters survive", "http://app:9000", "/api", "/api/a%20b?c=%2F", "http://app:9000/a%20b?c=%2F"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := New(tt.target, tt.source)
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			got, err := r.Rewrite(tt.uri)
			if err != nil {
				t.Fatalf("Rewrite(%q) error = %v", tt.uri, err)
			}
			if got.URL.String() != tt.want {
				t.Errorf("Rewrite(%q) = %q, want %q", tt.uri, got.URL.String(), tt.want)
			}
		})
	}
}

func TestRoute_RewriteMatched(t *testing.T) {
	r, err := New("http://app", "/context-root")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	got, err := r.Rewrite("/context-root/x")
	if err != nil {
		t.Fatalf("Rewrite: %v", err)
	}
	if !got.Matched || got.Path != "/x" {
		t.Errorf("Rewrite = {Path:%q Matched:%v}, want {/x true}", got.Path, got.Matched)
	}

	got, err = r.Rewrite("/elsewhere")
	if err != nil {
		t.Fatalf("Rewrite: %v", err)
	}
	if got.Matched {
		t.Error("expected Matched=false for non-matching path")
	}
}

func TestRoute_RewriteInvalid(t *testing.T) {
	r, err := New("http://app", "/")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := r.Rewrite("/bad%zzescape"); !errors.Is(err, ErrInvalidRequestURI) {
		t.Errorf("Rewrite error = %v, want ErrInvalidRequestURI", err)
	}
}

func TestRoute_TargetIsCopy(t *testing.T) {
	r, err := New("http://app/base", "/")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	u := r.Target()
	u.Host = "mutated"
	if r.Target().Host != "app" {
		t.Error("Target() must not expose the shared URL")
	}
}

func TestNew_InvalidInputs(t *testing.T) {
	if _, err := New("not a url", "/"); !errors.Is(err, ErrInvalidTarget) {
		t.Errorf("New invalid target error = %v, want ErrInvalidTarget", err)
	}
	if _, err := New("http://app", "/a?b"); !errors.Is(err, ErrInvalidPrefix) {
		t.Errorf("New invalid prefix error = %v, want ErrInvalidPrefix", err)
	}
}
