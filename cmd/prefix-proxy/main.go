package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"

	"github.com/alecthomas/kong"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	proxyproto "github.com/pires/go-proxyproto"
	"go.uber.org/fx"
	"go.uber.org/multierr"

	"prefix-proxy-go/internal/client"
	"prefix-proxy-go/internal/config"
	"prefix-proxy-go/internal/connstate"
	"prefix-proxy-go/internal/handler"
	"prefix-proxy-go/internal/metrics"
	"prefix-proxy-go/internal/middleware"
	"prefix-proxy-go/internal/service"
)

// Set by goreleaser ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// proxyServer is the forwarding listener.
type proxyServer struct{ *echo.Echo }

// adminServer serves health, status and metrics. Echo is nil when disabled.
type adminServer struct{ *echo.Echo }

func main() {
	var cli config.CLI
	kong.Parse(&cli,
		kong.Name("prefix-proxy"),
		kong.Description("Forward HTTP requests to a target URL, removing a source path prefix."),
		kong.Vars{"version": fmt.Sprintf("%s (%s, %s)", version, commit, date)},
	)

	fx.New(
		fx.Provide(
			func() *config.CLI { return &cli },
			func() handler.Version { return handler.Version(version) },
			config.Load,
			newLogger,
			metrics.New,
			connstate.NewTracker,
			client.NewUpstreamClient,
			service.NewProxyService,
			handler.NewProxyHandler,
			handler.NewHealthHandler,
			newProxyServer,
			newAdminServer,
		),
		fx.Invoke(registerRoutes, registerConnectionMetrics, startServers),
	).Run()
}

func newLogger(cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}

	var h slog.Handler
	switch strings.ToLower(cfg.Log.Format) {
	case "text":
		h = slog.NewTextHandler(os.Stdout, opts)
	default:
		h = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(h)
}

func newProxyServer(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics, tracker *connstate.Tracker) proxyServer {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Bodies are streamed in both directions for as long as they last, so
	// only header reads and idle keep-alive connections are bounded.
	e.Server.ReadTimeout = 0
	e.Server.WriteTimeout = 0
	e.Server.ReadHeaderTimeout = cfg.Server.ReadHeaderTimeout()
	e.Server.IdleTimeout = cfg.Server.IdleTimeout()
	tracker.Install(e.Server)

	e.Use(echomw.Recover())
	e.Use(middleware.RequestLogger(logger))
	e.Use(middleware.MetricsMiddleware(m))

	if mw := middleware.RateLimiter(cfg.Server.RateLimit, logger); mw != nil {
		e.Use(mw)
	}

	return proxyServer{e}
}

func newAdminServer(cfg *config.Config, logger *slog.Logger) adminServer {
	if !cfg.Admin.Enabled {
		return adminServer{}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Server.ReadHeaderTimeout = cfg.Server.ReadHeaderTimeout()
	e.Server.IdleTimeout = cfg.Server.IdleTimeout()

	e.Use(echomw.Recover())
	e.Use(middleware.RequestLogger(logger.With("listener", "admin")))

	return adminServer{e}
}

func registerRoutes(cfg *config.Config, ps proxyServer, as adminServer, proxy *handler.ProxyHandler, health *handler.HealthHandler, m *metrics.Metrics) {
	handler.RegisterRoutes(ps.Echo, proxy)
	if as.Echo != nil {
		handler.RegisterAdminRoutes(as.Echo, cfg, health, m)
	}
}

func registerConnectionMetrics(m *metrics.Metrics, tracker *connstate.Tracker) {
	for _, s := range connstate.LiveStates() {
		s := s
		m.RegisterConnectionState(s.String(), func() float64 {
			return float64(tracker.Count(s))
		})
	}
}

func startServers(lc fx.Lifecycle, cfg *config.Config, ps proxyServer, as adminServer, logger *slog.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			addr := cfg.Server.Addr()
			ln, err := net.Listen("tcp", addr)
			if err != nil {
				return fmt.Errorf("bind %s: %w", addr, err)
			}
			if cfg.Server.ProxyProtocol {
				ln = &proxyproto.Listener{Listener: ln, ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout()}
			}

			if as.Echo != nil {
				adminAddr := cfg.Admin.Addr()
				adminLn, err := net.Listen("tcp", adminAddr)
				if err != nil {
					_ = ln.Close()
					return fmt.Errorf("bind admin %s: %w", adminAddr, err)
				}
				logger.Info("starting admin server", "addr", adminAddr, "metrics_path", cfg.Admin.MetricsPath)
				go serve(as.Echo, adminLn, logger.With("listener", "admin"))
			}

			logger.Info("starting server",
				"addr", addr,
				"target_url", cfg.Route.TargetURL,
				"source_path", cfg.Route.SourcePath,
				"cache_control", cfg.Route.CacheControl,
				"proxy_protocol", cfg.Server.ProxyProtocol,
				"config_file", cfg.FilePath(),
			)
			go serve(ps.Echo, ln, logger)
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("shutting down server")
			err := ps.Shutdown(ctx)
			if as.Echo != nil {
				err = multierr.Append(err, as.Shutdown(ctx))
			}
			return err
		},
	})
}

func serve(e *echo.Echo, ln net.Listener, logger *slog.Logger) {
	if err := e.Server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server error", "err", err)
	}
}
