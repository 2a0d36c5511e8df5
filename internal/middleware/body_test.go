package middleware

import (
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
)

func newBodyEcho(limit string) (*echo.Echo, *any, *string) {
	var parsed any
	var raw string

	e := echo.New()
	e.Use(echomw.BodyLimit(limit))
	e.Use(BodyParser())
	e.POST("/api/echo", func(c echo.Context) error {
		parsed = ParsedBody(c)
		b, _ := io.ReadAll(c.Request().Body)
		raw = string(b)
		return c.NoContent(http.StatusNoContent)
	})
	return e, &parsed, &raw
}

func TestBodyParser_JSON(t *testing.T) {
	e, parsed, raw := newBodyEcho("10M")

	req := httptest.NewRequest(http.MethodPost, "/api/echo", strings.NewReader(`{"tier":"gold"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusNoContent)
	}
	m, ok := (*parsed).(map[string]any)
	if !ok || m["tier"] != "gold" {
		t.Errorf("ParsedBody() = %#v, want map with tier=gold", *parsed)
	}
	if *raw != `{"tier":"gold"}` {
		t.Errorf("handler body = %q, want original payload", *raw)
	}
}

func TestBodyParser_MalformedJSON(t *testing.T) {
	for _, body := range []string{`{"tier":`, `{tier}`} {
		t.Run(body, func(t *testing.T) {
			e, _, _ := newBodyEcho("10M")

			req := httptest.NewRequest(http.MethodPost, "/api/echo", strings.NewReader(body))
			req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, req)

			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
			}
		})
	}
}

func TestBodyParser_Form(t *testing.T) {
	e, parsed, _ := newBodyEcho("10M")

	form := url.Values{"tier": {"silver"}}
	req := httptest.NewRequest(http.MethodPost, "/api/echo", strings.NewReader(form.Encode()))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationForm)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	values, ok := (*parsed).(url.Values)
	if !ok || values.Get("tier") != "silver" {
		t.Errorf("ParsedBody() = %#v, want form with tier=silver", *parsed)
	}
}

func TestBodyParser_TooLarge(t *testing.T) {
	e, _, _ := newBodyEcho("16B")

	req := httptest.NewRequest(http.MethodPost, "/api/echo", strings.NewReader(`{"tier":"platinum-plus-extra"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusRequestEntityTooLarge)
	}
}

func TestBodyParser_EmptyBody(t *testing.T) {
	e, parsed, _ := newBodyEcho("10M")

	req := httptest.NewRequest(http.MethodPost, "/api/echo", http.NoBody)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusNoContent)
	}
	if *parsed != nil {
		t.Errorf("ParsedBody() = %#v, want nil", *parsed)
	}
}
