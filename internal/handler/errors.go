package handler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"tiergate/internal/metrics"
	"tiergate/internal/origin"
)

// ErrorReporter forwards unhandled errors to an external tracker.
type ErrorReporter interface {
	Report(ctx context.Context, err error, method, path string)
}

// NewErrorHandler returns the Echo error boundary. Every error that escapes
// the pipeline becomes exactly one JSON response; responses that are already
// committed are left alone.
//
// Origin rejections, unmatched routes and other client errors are logged at
// info level. Anything else is an unhandled internal error: logged at error
// level, counted, and reported when a reporter is configured. The reporter
// and metrics parameters are optional.
func NewErrorHandler(logger *slog.Logger, reporter ErrorReporter, m *metrics.Metrics) echo.HTTPErrorHandler {
	logger = logger.With("component", "error_boundary")

	return func(err error, c echo.Context) {
		req := c.Request()
		if c.Response().Committed {
			logger.Debug("error after response committed", "err", err, "path", req.URL.Path)
			return
		}

		var he *echo.HTTPError
		switch {
		case errors.Is(err, origin.ErrOriginRejected):
			respond(c, http.StatusForbidden, map[string]string{
				"error": origin.ErrOriginRejected.Error(),
			})

		case errors.As(err, &he) && he.Code == http.StatusNotFound:
			logger.Info("route not found", "method", req.Method, "path", req.URL.Path)
			respond(c, http.StatusNotFound, map[string]string{
				"error": "Not Found",
				"path":  req.URL.Path,
			})

		case errors.As(err, &he) && he.Code == http.StatusRequestEntityTooLarge:
			logger.Info("payload too large", "method", req.Method, "path", req.URL.Path)
			respond(c, http.StatusRequestEntityTooLarge, map[string]string{
				"error": "payload too large",
			})

		case errors.As(err, &he) && he.Code < http.StatusInternalServerError:
			logger.Info("client error", "status", he.Code, "err", err, "path", req.URL.Path)
			respond(c, he.Code, map[string]string{
				"error": httpErrorMessage(he),
			})

		default:
			code := http.StatusInternalServerError
			if he != nil && he.Code >= http.StatusInternalServerError {
				code = he.Code
			}
			logger.Error("unhandled error",
				"err", err,
				"method", req.Method,
				"path", req.URL.Path,
				"request_id", c.Response().Header().Get(echo.HeaderXRequestID),
			)
			if m != nil {
				m.InternalErrors.Inc()
			}
			if reporter != nil {
				reporter.Report(req.Context(), err, req.Method, req.URL.Path)
			}
			respond(c, code, map[string]string{
				"error": http.StatusText(code),
			})
		}
	}
}

func respond(c echo.Context, code int, body map[string]string) {
	if c.Request().Method == http.MethodHead {
		_ = c.NoContent(code)
		return
	}
	_ = c.JSON(code, body)
}

func httpErrorMessage(he *echo.HTTPError) string {
	if s, ok := he.Message.(string); ok {
		return s
	}
	if he.Message == nil {
		return http.StatusText(he.Code)
	}
	return fmt.Sprint(he.Message)
}
