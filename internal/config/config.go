// Package config handles command-line and TOML configuration loading and
// validation.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/alecthomas/kong"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	toml "github.com/pelletier/go-toml/v2"
	"golang.org/x/net/http/httpguts"

	"prefix-proxy-go/internal/route"
)

func init() {
	// Report validation errors with the TOML key names users write.
	validation.ErrorTag = "toml"
}

// configSearchPaths lists paths checked in order when no explicit config is given.
var configSearchPaths = []string{
	"/etc/prefix-proxy/config.toml",
	"configs/config.toml",
}

// CLI holds command-line arguments parsed by Kong.
type CLI struct {
	Config       string           `kong:"help='Path to TOML config file.',env='CONFIG_PATH'"`
	Host         string           `kong:"help='Listen host (overrides config).',env='HOST'"`
	Port         int              `kong:"short='p',help='The port to listen for requests on (default: 8080).',env='PORT'"`
	TargetURL    string           `kong:"name='target-url',short='t',help='The target base URL to proxy.',env='TARGET_URL',placeholder='URL'"`
	SourcePath   string           `kong:"name='source-path',short='s',help='The source path to remove from requests before forwarding to the target (default: /).',env='SOURCE_PATH',placeholder='PATH'"`
	CacheControl string           `kong:"name='cache-control',short='c',help='The Cache-Control header to inject if the upstream provides none.',env='CACHE_CONTROL',placeholder='VALUE'"`
	LogLevel     string           `kong:"help='Log level: debug|info|warn|error (overrides config).',env='LOG_LEVEL'"`
	LogFormat    string           `kong:"help='Log format: json|text (overrides config).',env='LOG_FORMAT'"`
	Version      kong.VersionFlag `kong:"short='V',help='Print the version and exit.'"`
}

// Config is the top-level application configuration. It is built once by
// Load and never modified afterwards.
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Route    RouteConfig    `toml:"route"`
	Upstream UpstreamConfig `toml:"upstream"`
	Log      LogConfig      `toml:"log"`
	Admin    AdminConfig    `toml:"admin"`

	filePath string // resolved config file path (unexported)
}

// ServerConfig holds the forwarding listener settings.
type ServerConfig struct {
	Host                     string          `toml:"host"`
	Port                     int             `toml:"port"` // 0 means "use default" (8080); TOML cannot distinguish 0 from unset
	ProxyProtocol            bool            `toml:"proxy_protocol"`
	ReadHeaderTimeoutSeconds int             `toml:"read_header_timeout_seconds"`
	IdleTimeoutSeconds       int             `toml:"idle_timeout_seconds"`
	RateLimit                RateLimitConfig `toml:"rate_limit"`
}

// RateLimitConfig controls per-IP request rate limiting.
type RateLimitConfig struct {
	Enabled           bool    `toml:"enabled"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
}

// RouteConfig describes where requests are forwarded.
type RouteConfig struct {
	TargetURL    string `toml:"target_url"`
	SourcePath   string `toml:"source_path"`
	CacheControl string `toml:"cache_control"`
}

// UpstreamConfig holds upstream connection settings.
type UpstreamConfig struct {
	ConnectTimeoutSeconds        int `toml:"connect_timeout_seconds"`
	ResponseHeaderTimeoutSeconds int `toml:"response_header_timeout_seconds"`
	IdleConnections              int `toml:"idle_connections"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// AdminConfig holds the optional admin listener serving health, status and
// Prometheus metrics. It is separate from the forwarding listener so no path
// is ever shadowed there.
type AdminConfig struct {
	Enabled     bool   `toml:"enabled"`
	Host        string `toml:"host"`
	Port        int    `toml:"port"`
	MetricsPath string `toml:"metrics_path"`
}

// Load reads the optional TOML config file, applies CLI overrides, validates
// and fills defaults. When no explicit path is given (via --config or
// CONFIG_PATH), it searches /etc/prefix-proxy/config.toml then
// configs/config.toml; finding none is not an error.
func Load(cli *CLI) (*Config, error) {
	var cfg Config

	path := cli.Config
	if path == "" {
		path = findConfig()
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
		cfg.filePath = path
	}

	cfg.applyCLI(cli)
	cfg.Log.Level = strings.ToLower(cfg.Log.Level)
	cfg.Log.Format = strings.ToLower(cfg.Log.Format)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}

	cfg.setDefaults()
	if err := cfg.normalize(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := cfg.checkListeners(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return &cfg, nil
}

// applyCLI overrides config values with non-zero CLI flags.
func (c *Config) applyCLI(cli *CLI) {
	if cli.Host != "" {
		c.Server.Host = cli.Host
	}
	if cli.Port != 0 {
		c.Server.Port = cli.Port
	}
	if cli.TargetURL != "" {
		c.Route.TargetURL = cli.TargetURL
	}
	if cli.SourcePath != "" {
		c.Route.SourcePath = cli.SourcePath
	}
	if cli.CacheControl != "" {
		c.Route.CacheControl = cli.CacheControl
	}
	if cli.LogLevel != "" {
		c.Log.Level = cli.LogLevel
	}
	if cli.LogFormat != "" {
		c.Log.Format = cli.LogFormat
	}
}

// Validate checks every section.
func (c Config) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Server),
		validation.Field(&c.Route),
		validation.Field(&c.Upstream),
		validation.Field(&c.Log),
		validation.Field(&c.Admin),
	)
}

// Validate checks the forwarding listener settings.
func (s ServerConfig) Validate() error {
	return validation.ValidateStruct(&s,
		validation.Field(&s.Host, is.Host),
		validation.Field(&s.Port, validation.Min(0), validation.Max(65535)),
		validation.Field(&s.ReadHeaderTimeoutSeconds, validation.Min(0)),
		validation.Field(&s.IdleTimeoutSeconds, validation.Min(0)),
		validation.Field(&s.RateLimit),
	)
}

// Validate checks the rate limiter settings.
func (r RateLimitConfig) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.RequestsPerSecond,
			validation.When(r.Enabled,
				validation.Required.Error("must be > 0 when rate limiting is enabled"),
				validation.Min(0.0).Exclusive(),
			),
		),
	)
}

// Validate checks the target URL, source path and cache-control value.
func (r RouteConfig) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.TargetURL,
			validation.Required.Error("is required (--target-url or route.target_url)"),
			validation.By(validateTargetURL),
		),
		validation.Field(&r.SourcePath, validation.By(validateSourcePath)),
		validation.Field(&r.CacheControl, validation.By(validateHeaderValue)),
	)
}

// Validate checks upstream timeouts and pool size.
func (u UpstreamConfig) Validate() error {
	return validation.ValidateStruct(&u,
		validation.Field(&u.ConnectTimeoutSeconds, validation.Min(0)),
		validation.Field(&u.ResponseHeaderTimeoutSeconds, validation.Min(0)),
		validation.Field(&u.IdleConnections, validation.Min(0)),
	)
}

// Validate checks the log level and format.
func (l LogConfig) Validate() error {
	return validation.ValidateStruct(&l,
		validation.Field(&l.Level, validation.In("debug", "info", "warn", "error").
			Error("must be one of: debug, info, warn, error")),
		validation.Field(&l.Format, validation.In("json", "text").
			Error("must be one of: json, text")),
	)
}

// Validate checks the admin listener settings.
func (a AdminConfig) Validate() error {
	return validation.ValidateStruct(&a,
		validation.Field(&a.Host, is.Host),
		validation.Field(&a.Port, validation.Min(0), validation.Max(65535)),
		validation.Field(&a.MetricsPath,
			validation.When(a.Enabled && a.MetricsPath != "", validation.By(validateAdminPath)),
		),
	)
}

func validateTargetURL(value any) error {
	s, _ := value.(string)
	if s == "" {
		return nil
	}
	if _, err := route.ParseTarget(s); err != nil {
		return validation.NewError("validation_invalid_target", err.Error())
	}
	return nil
}

func validateSourcePath(value any) error {
	s, _ := value.(string)
	if _, err := route.ParsePrefix(s); err != nil {
		return validation.NewError("validation_invalid_source_path", err.Error())
	}
	return nil
}

func validateHeaderValue(value any) error {
	s, _ := value.(string)
	if !httpguts.ValidHeaderFieldValue(s) {
		return validation.NewError("validation_invalid_header_value", "must be a valid HTTP header value")
	}
	return nil
}

func validateAdminPath(value any) error {
	s, _ := value.(string)
	if !strings.HasPrefix(s, "/") {
		return validation.NewError("validation_invalid_path", "must start with '/'")
	}
	for _, reserved := range []string{"/healthz", "/proxy/status"} {
		if s == reserved || strings.HasPrefix(s, reserved+"/") {
			return validation.NewError("validation_reserved_path", fmt.Sprintf("conflicts with reserved route %q", reserved))
		}
	}
	return nil
}

// setDefaults fills zero-valued fields with sensible defaults.
// For integer fields, zero means "unset" because TOML cannot distinguish
// between an explicit 0 and an omitted key.
func (c *Config) setDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.ReadHeaderTimeoutSeconds == 0 {
		c.Server.ReadHeaderTimeoutSeconds = 10
	}
	if c.Server.IdleTimeoutSeconds == 0 {
		c.Server.IdleTimeoutSeconds = 120
	}
	if c.Route.SourcePath == "" {
		c.Route.SourcePath = "/"
	}
	if c.Upstream.ConnectTimeoutSeconds == 0 {
		c.Upstream.ConnectTimeoutSeconds = 10
	}
	if c.Upstream.ResponseHeaderTimeoutSeconds == 0 {
		c.Upstream.ResponseHeaderTimeoutSeconds = 60
	}
	if c.Upstream.IdleConnections == 0 {
		c.Upstream.IdleConnections = 100
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Admin.Host == "" {
		c.Admin.Host = "127.0.0.1"
	}
	if c.Admin.Port == 0 {
		c.Admin.Port = 9090
	}
	if c.Admin.MetricsPath == "" {
		c.Admin.MetricsPath = "/metrics"
	}
}

// normalize rewrites the target URL without a trailing slash and the source
// path with exactly one leading slash.
func (c *Config) normalize() error {
	target, err := route.ParseTarget(c.Route.TargetURL)
	if err != nil {
		return err
	}
	prefix, err := route.ParsePrefix(c.Route.SourcePath)
	if err != nil {
		return err
	}
	c.Route.TargetURL = target.String()
	c.Route.SourcePath = prefix.String()
	return nil
}

var errListenerConflict = errors.New("admin listener conflicts with the forwarding listener")

func (c *Config) checkListeners() error {
	if !c.Admin.Enabled || c.Admin.Port != c.Server.Port {
		return nil
	}
	if c.Admin.Host == c.Server.Host || isWildcard(c.Admin.Host) || isWildcard(c.Server.Host) {
		return fmt.Errorf("%w: both use port %d", errListenerConflict, c.Server.Port)
	}
	return nil
}

func isWildcard(host string) bool {
	ip := net.ParseIP(host)
	return host == "" || (ip != nil && ip.IsUnspecified())
}

// findConfig returns the first config path that exists, or empty string.
func findConfig() string {
	return findConfigInPaths(configSearchPaths)
}

// findConfigInPaths returns the first path that exists on disk, or empty string.
func findConfigInPaths(paths []string) string {
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// FilePath returns the config file that was loaded, or "" when none was used.
func (c *Config) FilePath() string {
	return c.filePath
}

// Addr returns the server listen address as host:port.
func (c *ServerConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// ReadHeaderTimeout returns the inbound request header read timeout.
func (c *ServerConfig) ReadHeaderTimeout() time.Duration {
	return time.Duration(c.ReadHeaderTimeoutSeconds) * time.Second
}

// IdleTimeout returns how long an idle keep-alive connection is kept open.
func (c *ServerConfig) IdleTimeout() time.Duration {
	return time.Duration(c.IdleTimeoutSeconds) * time.Second
}

// Addr returns the admin listen address as host:port.
func (c *AdminConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// ConnectTimeout returns the upstream dial timeout.
func (c *UpstreamConfig) ConnectTimeout() time.Duration {
	return time.Duration(c.ConnectTimeoutSeconds) * time.Second
}

// ResponseHeaderTimeout returns how long to wait for upstream response headers.
func (c *UpstreamConfig) ResponseHeaderTimeout() time.Duration {
	return time.Duration(c.ResponseHeaderTimeoutSeconds) * time.Second
}
