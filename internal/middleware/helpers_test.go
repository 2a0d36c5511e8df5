package middleware

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"tiergate/internal/origin"
)

// testErrorHandler mirrors the gateway's error boundary closely enough for
// middleware tests without importing it.
func testErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	if errors.Is(err, origin.ErrOriginRejected) {
		_ = c.JSON(http.StatusForbidden, map[string]string{"error": origin.ErrOriginRejected.Error()})
		return
	}
	c.Echo().DefaultHTTPErrorHandler(err, c)
}
