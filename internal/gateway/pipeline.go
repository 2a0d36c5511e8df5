// Package gateway assembles the request pipeline every inbound request
// passes through before reaching a route handler.
package gateway

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"golang.org/x/time/rate"

	"tiergate/internal/config"
	"tiergate/internal/handler"
	"tiergate/internal/metrics"
	"tiergate/internal/middleware"
	"tiergate/internal/origin"
	"tiergate/internal/session"
	"tiergate/internal/telemetry"
)

// Params are the pipeline's collaborators. Metrics and Tracer may be nil.
type Params struct {
	fx.In

	Config  *config.Config
	Logger  *slog.Logger
	Policy  *origin.Policy
	Profile session.Profile
	Store   session.Store
	Metrics *metrics.Metrics  `optional:"true"`
	Tracer  *telemetry.Tracer `optional:"true"`
}

// New builds the Echo instance with the middleware chain installed in order:
//
//	request id, metrics, tracing
//	security headers
//	origin policy
//	body limit and body parsing
//	session
//	activity logger, optional rate limiter
//	panic recovery, optional static files
//
// Unmatched routes and every escaped error end in handler.NewErrorHandler.
func New(p Params) *echo.Echo {
	cfg := p.Config
	logger := p.Logger

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Inbound timeouts to mitigate slow-client attacks.
	e.Server.ReadTimeout = 30 * time.Second
	// Upgraded connections share this server, so writes are not capped.
	e.Server.WriteTimeout = 0
	e.Server.IdleTimeout = 120 * time.Second
	e.Server.ReadHeaderTimeout = 10 * time.Second

	if p.Profile.TrustProxy {
		e.IPExtractor = echo.ExtractIPFromXFFHeader()
	} else {
		e.IPExtractor = echo.ExtractIPDirect()
	}

	var reporter handler.ErrorReporter
	if p.Tracer != nil && p.Tracer.Enabled() {
		reporter = p.Tracer
	}
	e.HTTPErrorHandler = handler.NewErrorHandler(logger, reporter, p.Metrics)

	e.Use(echomw.RequestID())
	if p.Metrics != nil {
		e.Use(middleware.MetricsMiddleware(p.Metrics))
	}
	if p.Tracer != nil {
		e.Use(p.Tracer.Middleware())
	}
	e.Use(middleware.SecurityHeaders())
	e.Use(middleware.CORS(p.Policy, logger, p.Metrics))
	e.Use(echomw.BodyLimit(fmt.Sprintf("%dB", cfg.Server.BodyMaxBytes)))
	e.Use(middleware.BodyParser())
	e.Use(session.Middleware(p.Profile, p.Store, logger))
	e.Use(middleware.ActivityLogger(logger))

	if cfg.Server.RateLimit.Enabled {
		store := echomw.NewRateLimiterMemoryStore(rate.Limit(cfg.Server.RateLimit.RequestsPerSecond))
		e.Use(echomw.RateLimiter(store))
		logger.Info("rate limiter enabled", "rps", cfg.Server.RateLimit.RequestsPerSecond)
	}

	e.Use(echomw.RecoverWithConfig(echomw.RecoverConfig{
		DisableErrorHandler: true,
		LogErrorFunc: func(c echo.Context, err error, stack []byte) error {
			logger.Error("panic recovered",
				"err", err,
				"method", c.Request().Method,
				"path", c.Request().URL.Path,
				"stack", string(stack),
			)
			return err
		},
	}))

	if cfg.Static.Dir != "" {
		e.Use(echomw.StaticWithConfig(echomw.StaticConfig{
			Root:  cfg.Static.Dir,
			HTML5: true,
			Skipper: func(c echo.Context) bool {
				path := c.Request().URL.Path
				return path == "/api" || strings.HasPrefix(path, "/api/")
			},
		}))
		logger.Info("serving static files", "dir", cfg.Static.Dir)
	}

	if p.Metrics != nil && cfg.Metrics.Enabled {
		e.GET(cfg.Metrics.Path, echo.WrapHandler(promhttp.HandlerFor(p.Metrics.Registry, promhttp.HandlerOpts{})))
	}

	return e
}

// NewPolicy builds the origin policy from config. Empty lists fall back to
// the built-in origins and host patterns.
func NewPolicy(cfg *config.Config) *origin.Policy {
	static := cfg.CORS.AllowedOrigins
	if len(static) == 0 {
		static = origin.DefaultOrigins
	}
	patterns := cfg.CORS.HostPatterns
	if len(patterns) == 0 {
		patterns = origin.DefaultHostPatterns
	}
	return origin.NewPolicy(origin.NewAllowlist(static, cfg.CORS.ExtraOrigins, patterns))
}

// NewProfile selects the session profile for the configured environment.
func NewProfile(cfg *config.Config) session.Profile {
	return session.Select(cfg.IsProduction(), cfg.Session.Secret, cfg.Session.Domain)
}

