package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/alecthomas/kong"
	"github.com/labstack/echo/v4"
	"go.uber.org/fx"
	"gopkg.in/natefinch/lumberjack.v2"

	"tiergate/internal/config"
	"tiergate/internal/gateway"
	"tiergate/internal/handler"
	"tiergate/internal/metrics"
	"tiergate/internal/origin"
	"tiergate/internal/session"
	"tiergate/internal/telemetry"
)

// Set by goreleaser ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	var cli config.CLI
	kong.Parse(&cli,
		kong.Name("tiergate"),
		kong.Description("Request gateway: origin policy, sessions and activity logging in front of the dashboard API."),
		kong.Vars{"version": fmt.Sprintf("%s (%s, %s)", version, commit, date)},
	)

	fx.New(
		fx.Provide(
			func() *config.CLI { return &cli },
			func() handler.Version { return handler.Version(version) },
			config.Load,
			newLogger,
			metrics.New,
			telemetry.New,
			gateway.NewPolicy,
			gateway.NewProfile,
			newSessionStore,
			func(s *session.MemoryStore) session.Store { return s },
			gateway.New,
			handler.NewHealthHandler,
			handler.NewSessionHandler,
		),
		fx.Invoke(handler.RegisterRoutes, warnConfigPermissions, logStartup, startSessionSweep, stopTracer, startServer),
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

	var out io.Writer = os.Stdout
	if cfg.Log.File != "" {
		out = io.MultiWriter(os.Stdout, &lumberjack.Logger{
			Filename:   cfg.Log.File,
			MaxSize:    100, // megabytes
			MaxBackups: 3,
			MaxAge:     28, // days
			Compress:   true,
		})
	}

	var h slog.Handler
	switch strings.ToLower(cfg.Log.Format) {
	case "text":
		h = slog.NewTextHandler(out, opts)
	default:
		h = slog.NewJSONHandler(out, opts)
	}

	return slog.New(h)
}

func newSessionStore(cfg *config.Config, m *metrics.Metrics, logger *slog.Logger) *session.MemoryStore {
	sweep := time.Duration(cfg.Session.SweepIntervalSeconds) * time.Second
	store := session.NewMemoryStore(session.MaxAge, sweep, logger)
	m.RegisterSessionGauge(store.Len)
	return store
}

func warnConfigPermissions(cfg *config.Config, logger *slog.Logger) {
	cfg.WarnPermissions(logger)
}

func logStartup(cfg *config.Config, policy *origin.Policy, profile session.Profile, logger *slog.Logger) {
	logger.Info("configuration loaded",
		"version", version,
		"env", cfg.Server.Environment,
		"allowed_origins", len(policy.Allowlist().Origins()),
		"host_patterns", policy.Allowlist().Patterns(),
		"cookie_secure", profile.Secure,
		"cookie_same_site", sameSiteName(profile.SameSite),
		"trust_proxy", profile.TrustProxy,
		"database_configured", cfg.Database.URL != "",
	)
	if cfg.IsProduction() {
		logger.Warn("sessions are kept in process memory; they are lost on restart and not shared between instances")
	}
}

func sameSiteName(s http.SameSite) string {
	switch s {
	case http.SameSiteLaxMode:
		return "lax"
	case http.SameSiteStrictMode:
		return "strict"
	case http.SameSiteNoneMode:
		return "none"
	default:
		return "default"
	}
}

func startSessionSweep(lc fx.Lifecycle, store *session.MemoryStore) {
	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			store.StartSweep(ctx)
			return nil
		},
		OnStop: func(_ context.Context) error {
			cancel()
			store.Stop()
			return nil
		},
	})
}

func stopTracer(lc fx.Lifecycle, tracer *telemetry.Tracer) {
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return tracer.Shutdown(ctx)
		},
	})
}

func startServer(lc fx.Lifecycle, e *echo.Echo, cfg *config.Config, logger *slog.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			addr := cfg.Server.Addr()
			ln, err := net.Listen("tcp", addr)
			if err != nil {
				return fmt.Errorf("bind %s: %w", addr, err)
			}
			logger.Info("starting server", "addr", addr)
			go func() {
				if err := e.Server.Serve(ln); err != nil && err != http.ErrServerClosed {
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
