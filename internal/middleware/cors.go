package middleware

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"tiergate/internal/metrics"
	"tiergate/internal/origin"
)

// PreflightMaxAge is how long browsers may cache a preflight decision.
const PreflightMaxAge = 86400

var (
	corsAllowMethods = strings.Join([]string{
		http.MethodGet,
		http.MethodPost,
		http.MethodPut,
		http.MethodDelete,
		http.MethodOptions,
		http.MethodPatch,
	}, ", ")
	corsAllowHeaders  = "Content-Type, Authorization, X-Requested-With, Accept, Cookie"
	corsExposeHeaders = "Set-Cookie, Access-Control-Allow-Credentials"
)

// CORS returns an Echo middleware that applies policy to the Origin header.
//
// Allowed requests get the exact origin echoed back with credentials enabled;
// the wildcard origin is never sent. Preflights end here with 200 and are
// judged on the origin alone, since browsers only preflight API calls.
// Rejections return an error wrapping origin.ErrOriginRejected. The metrics
// parameter is optional.
func CORS(policy *origin.Policy, logger *slog.Logger, m *metrics.Metrics) echo.MiddlewareFunc {
	logger = logger.With("component", "cors")
	maxAge := strconv.Itoa(PreflightMaxAge)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			res := c.Response()
			o := req.Header.Get(echo.HeaderOrigin)
			preflight := req.Method == http.MethodOptions

			res.Header().Add(echo.HeaderVary, echo.HeaderOrigin)

			allowed := false
			if preflight {
				allowed = o == "" || policy.AllowsOrigin(o)
			} else {
				allowed = policy.Decide(o, req.URL.Path) == origin.Allow
			}

			if !allowed {
				logger.Info("CORS blocked for origin", "origin", o, "path", req.URL.Path)
				if m != nil {
					m.CORSRejections.Inc()
				}
				return fmt.Errorf("%w: %s", origin.ErrOriginRejected, o)
			}

			if o != "" {
				res.Header().Set(echo.HeaderAccessControlAllowOrigin, o)
				res.Header().Set(echo.HeaderAccessControlAllowCredentials, "true")
				res.Header().Set(echo.HeaderAccessControlExposeHeaders, corsExposeHeaders)
			}

			if preflight {
				res.Header().Set(echo.HeaderAccessControlAllowMethods, corsAllowMethods)
				res.Header().Set(echo.HeaderAccessControlAllowHeaders, corsAllowHeaders)
				res.Header().Set(echo.HeaderAccessControlMaxAge, maxAge)
				return c.NoContent(http.StatusOK)
			}

			return next(c)
		}
	}
}
