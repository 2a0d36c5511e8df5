package middleware

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

const parsedBodyKey = "tiergate.body"

// BodyParser returns an Echo middleware that decodes JSON and form-encoded
// request bodies up front, so malformed payloads are rejected before session
// and handler work. The JSON body stays readable for handlers. Size limits
// are enforced by echo's BodyLimit, installed in front of this middleware.
func BodyParser() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if req.Body == nil || req.Body == http.NoBody {
				return next(c)
			}

			ctype := req.Header.Get(echo.HeaderContentType)
			switch {
			case strings.HasPrefix(ctype, echo.MIMEApplicationJSON):
				data, err := io.ReadAll(req.Body)
				if err != nil {
					return err
				}
				if len(bytes.TrimSpace(data)) > 0 {
					req.Body = io.NopCloser(bytes.NewReader(data))
					var v any
					if err := c.Echo().JSONSerializer.Deserialize(c, &v); err != nil {
						var he *echo.HTTPError
						if errors.As(err, &he) {
							return err
						}
						return echo.NewHTTPError(http.StatusBadRequest, "malformed JSON body").SetInternal(err)
					}
					c.Set(parsedBodyKey, v)
				}
				req.Body = io.NopCloser(bytes.NewReader(data))

			case strings.HasPrefix(ctype, echo.MIMEApplicationForm):
				form, err := c.FormParams()
				if err != nil {
					return echo.NewHTTPError(http.StatusBadRequest, "malformed form body").SetInternal(err)
				}
				c.Set(parsedBodyKey, form)
			}

			return next(c)
		}
	}
}

// ParsedBody returns the decoded request body: a JSON value (map, slice,
// scalar) or url.Values for forms. It is nil when no body was parsed.
func ParsedBody(c echo.Context) any {
	return c.Get(parsedBodyKey)
}
