package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/alecthomas/kong"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"golang.org/x/time/rate"

	"kaixu-devserver/internal/client"
	"kaixu-devserver/internal/config"
	"kaixu-devserver/internal/handler"
	"kaixu-devserver/internal/logging"
	"kaixu-devserver/internal/metrics"
	"kaixu-devserver/internal/middleware"
	"kaixu-devserver/internal/relay"
	"kaixu-devserver/internal/service"
)

// Set by goreleaser ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	// .env feeds the environment kong reads, so it has to come first.
	dotenv, err := config.LoadDotEnv(config.DotEnvPath())
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	var cli config.CLI
	kong.Parse(&cli,
		kong.Name("kaixu-devserver"),
		kong.Description("Local dev server for the kAIxU IDE: static files plus a streaming proxy to the AI gateway."),
		kong.Vars{"version": fmt.Sprintf("%s (%s, %s)", version, commit, date)},
	)

	fx.New(
		fx.WithLogger(func(logger *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: logger.With("component", "fx")}
		}),
		fx.Supply(dotenv),
		fx.Provide(
			func() *config.CLI { return &cli },
			func() handler.Version { return handler.Version(version) },
			config.Load,
			newLogger,
			newMetrics,
			newEcho,
			client.NewGatewayClient,
			service.NewForwarder,
			relay.New,
			handler.NewProxyHandler,
			handler.NewHealthHandler,
			handler.NewSiteHandler,
		),
		fx.Invoke(handler.RegisterRoutes, logStartup, startServer),
	).Run()
}

func newLogger(lc fx.Lifecycle, cfg *config.Config) *slog.Logger {
	logger, sink := logging.New(cfg.Log, os.Stdout)
	lc.Append(fx.StopHook(sink.Stop))
	return logger
}

func newMetrics(cfg *config.Config) *metrics.Metrics {
	return metrics.New(cfg.Gateway.Prefix, cfg.Metrics.Path)
}

func newEcho(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Server.ReadTimeout = 30 * time.Second
	// A write deadline would cut long SSE relays; the gateway client timeout
	// bounds them instead.
	e.Server.WriteTimeout = 0
	e.Server.IdleTimeout = 120 * time.Second
	e.Server.ReadHeaderTimeout = 10 * time.Second

	e.Use(echomw.Recover())
	e.Use(echomw.RequestIDWithConfig(echomw.RequestIDConfig{Generator: uuid.NewString}))
	e.Use(middleware.RequestLogger(logger, "/healthz", cfg.Metrics.Path))
	if cfg.Metrics.Enabled {
		e.Use(middleware.MetricsMiddleware(m))
	}
	e.Use(echomw.BodyLimit(fmt.Sprintf("%dB", cfg.Server.BodyMaxBytes)))
	e.Use(middleware.SecurityHeaders())

	if cfg.Server.RateLimit.Enabled {
		store := echomw.NewRateLimiterMemoryStore(rate.Limit(cfg.Server.RateLimit.RequestsPerSecond))
		e.Use(echomw.RateLimiter(store))
		logger.Info("rate limiter enabled", "rps", cfg.Server.RateLimit.RequestsPerSecond)
	}

	return e
}

func logStartup(cfg *config.Config, dotenv config.DotEnv, logger *slog.Logger) {
	if dotenv.Loaded {
		logger.Info("loaded .env", "path", dotenv.Path, "keys", dotenv.Keys)
	}
	if cfg.FilePath() != "" {
		logger.Info("loaded config", "path", cfg.FilePath())
	}
	if cfg.Auth.VirtualKey == "" {
		logger.Warn("no virtual key configured; requests without Authorization reach the gateway unauthenticated")
	}
	if cfg.Auth.AdminPassword == "" {
		logger.Warn("no admin password configured; the admin panel stays locked")
	}
	cfg.WarnPermissions(logger)
}

func startServer(lc fx.Lifecycle, e *echo.Echo, cfg *config.Config, logger *slog.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			addr := cfg.Server.Addr()
			ln, err := net.Listen("tcp", addr)
			if err != nil {
				return fmt.Errorf("bind %s: %w", addr, err)
			}
			logger.Info("starting dev server",
				"addr", addr,
				"root", cfg.Site.Root,
				"gateway", cfg.Gateway.BaseURL,
				"proxy_prefix", cfg.Gateway.Prefix,
			)
			go func() {
				if err := e.Server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("server error", "err", err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("shutting down server")
			return e.Shutdown(ctx)
		},
	})
}
