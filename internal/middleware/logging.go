// Package middleware provides the Echo middleware of the gateway pipeline.
package middleware

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/labstack/echo/v4"

	"tiergate/internal/model"
)

const (
	apiPrefix  = "/api"
	authPrefix = "/api/auth"

	maxLogLineRunes = 200
	maxCaptureBytes = 64 << 10
	ellipsis        = "…"
)

// ActivityLogger returns an Echo middleware that emits one summary line per
// API request: "METHOD path status in Nms[ :: json]". Errors returned by the
// rest of the chain are resolved through the Echo error handler first so the
// final status is logged; the middleware itself then returns nil.
//
// Auth requests also get a line before the handler runs.
func ActivityLogger(logger *slog.Logger) echo.MiddlewareFunc {
	logger = logger.With("component", "activity")

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			rc := model.NewRequestContext(req.Method, req.URL.Path)

			if underPrefix(rc.Path, authPrefix) {
				logger.Info(fmt.Sprintf("Auth request %s %s", rc.Method, rc.Path))
			}

			res := c.Response()
			cw := &captureWriter{ResponseWriter: res.Writer}
			res.Writer = cw

			defer func() {
				res.Writer = cw.ResponseWriter
				if !underPrefix(rc.Path, apiPrefix) {
					return
				}
				rc.Captured = cw.payload()
				logger.Info(summaryLine(rc, res.Status))
			}()

			if err := next(c); err != nil {
				c.Error(err)
			}
			return nil
		}
	}
}

func summaryLine(rc *model.RequestContext, status int) string {
	line := fmt.Sprintf("%s %s %d in %dms", rc.Method, rc.Path, status, rc.Elapsed().Milliseconds())
	if len(rc.Captured) > 0 {
		line += " :: " + string(rc.Captured)
	}
	return truncateLine(line)
}

// truncateLine caps s at maxLogLineRunes, ending in an ellipsis when cut.
func truncateLine(s string) string {
	if utf8.RuneCountInString(s) <= maxLogLineRunes {
		return s
	}
	runes := []rune(s)
	return string(runes[:maxLogLineRunes-1]) + ellipsis
}

func underPrefix(path, prefix string) bool {
	return path == prefix || strings.HasPrefix(path, prefix+"/")
}

// captureWriter copies JSON response bytes while passing them through
// unchanged.
type captureWriter struct {
	http.ResponseWriter

	buf       bytes.Buffer
	decided   bool
	capturing bool
	overflow  bool
}

func (w *captureWriter) Write(b []byte) (int, error) {
	if !w.decided {
		w.decided = true
		w.capturing = strings.HasPrefix(w.Header().Get(echo.HeaderContentType), echo.MIMEApplicationJSON)
	}
	if w.capturing && !w.overflow {
		room := maxCaptureBytes - w.buf.Len()
		if len(b) > room {
			w.buf.Write(b[:room])
			w.overflow = true
		} else {
			w.buf.Write(b)
		}
	}
	return w.ResponseWriter.Write(b)
}

func (w *captureWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// payload returns the captured JSON in compact form. A payload that does not
// parse is dropped; one cut at the capture limit is returned raw since the
// log line is truncated long before that point.
func (w *captureWriter) payload() []byte {
	if !w.capturing || w.buf.Len() == 0 {
		return nil
	}
	raw := bytes.TrimSpace(w.buf.Bytes())
	if w.overflow {
		return raw
	}
	var out bytes.Buffer
	if err := json.Compact(&out, raw); err != nil {
		return nil
	}
	return out.Bytes()
}
