package telemetry

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"tiergate/internal/config"
)

func newRecordingTracer(t *testing.T) (*Tracer, *tracetest.SpanRecorder) {
	t.Helper()
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	return newTracer(tp), rec
}

// errorHandler routes unhandled errors into Report like the gateway does.
func errorHandler(tr *Tracer) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		tr.Report(c.Request().Context(), err, c.Request().Method, c.Request().URL.Path)
		_ = c.JSON(http.StatusInternalServerError, map[string]string{"error": "Internal Server Error"})
	}
}

func TestNew_DisabledWithoutEndpoint(t *testing.T) {
	tr, err := New(&config.Config{}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if tr.Enabled() {
		t.Error("expected disabled tracer")
	}
	if err := tr.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown() error = %v", err)
	}
}

func TestMiddleware_Disabled(t *testing.T) {
	tr := &Tracer{}
	e := echo.New()
	e.Use(tr.Middleware())
	e.GET("/api/status", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
	if rec.Header().Get(TraceIDHeader) != "" {
		t.Error("disabled tracer should not set trace header")
	}

	// Report on a disabled tracer is a no-op.
	tr.Report(context.Background(), errors.New("boom"), http.MethodGet, "/")
}

func TestMiddleware_RecordsServerSpan(t *testing.T) {
	tr, spans := newRecordingTracer(t)
	e := echo.New()
	e.Use(tr.Middleware())
	e.GET("/api/widgets/:id", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/widgets/7", nil))

	if rec.Header().Get(TraceIDHeader) == "" {
		t.Error("expected trace ID response header")
	}

	ended := spans.Ended()
	if len(ended) != 1 {
		t.Fatalf("ended spans = %d, want 1", len(ended))
	}
	span := ended[0]
	if span.Name() != "GET /api/widgets/7" {
		t.Errorf("span name = %q", span.Name())
	}
	attrs := map[string]string{}
	for _, kv := range span.Attributes() {
		attrs[string(kv.Key)] = kv.Value.Emit()
	}
	if attrs["http.response.status_code"] != "200" {
		t.Errorf("status attribute = %q, want 200", attrs["http.response.status_code"])
	}
	if attrs["http.route"] != "/api/widgets/:id" {
		t.Errorf("route attribute = %q", attrs["http.route"])
	}
	if span.Status().Code == codes.Error {
		t.Error("successful request should not mark span as error")
	}
}

func TestMiddleware_PropagatesIncomingTrace(t *testing.T) {
	tr, spans := newRecordingTracer(t)
	e := echo.New()
	e.Use(tr.Middleware())
	e.GET("/", func(c echo.Context) error { return c.NoContent(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("traceparent", "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01")
	e.ServeHTTP(httptest.NewRecorder(), req)

	ended := spans.Ended()
	if len(ended) != 1 {
		t.Fatalf("ended spans = %d, want 1", len(ended))
	}
	if got := ended[0].SpanContext().TraceID().String(); got != "4bf92f3577b34da6a3ce929d0e0e4736" {
		t.Errorf("trace ID = %s, want incoming trace", got)
	}
}

func TestReport_RecordsErrorOnRequestSpan(t *testing.T) {
	tr, spans := newRecordingTracer(t)
	e := echo.New()
	e.HTTPErrorHandler = errorHandler(tr)
	e.Use(tr.Middleware())
	e.GET("/api/fail", func(c echo.Context) error {
		return errors.New("database unreachable")
	})

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/fail", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	ended := spans.Ended()
	if len(ended) != 1 {
		t.Fatalf("ended spans = %d, want 1 (error recorded on request span)", len(ended))
	}
	span := ended[0]
	if span.Status().Code != codes.Error {
		t.Errorf("span status = %v, want Error", span.Status().Code)
	}
	found := false
	for _, ev := range span.Events() {
		if ev.Name == "exception" {
			found = true
		}
	}
	if !found {
		t.Error("expected exception event on span")
	}
}

func TestReport_WithoutRequestSpan(t *testing.T) {
	tr, spans := newRecordingTracer(t)

	tr.Report(context.Background(), errors.New("boom"), http.MethodPost, "/api/jobs")

	ended := spans.Ended()
	if len(ended) != 1 {
		t.Fatalf("ended spans = %d, want 1", len(ended))
	}
	if ended[0].Name() != "unhandled error" {
		t.Errorf("span name = %q", ended[0].Name())
	}
	if ended[0].Status().Description != "boom" {
		t.Errorf("status description = %q, want boom", ended[0].Status().Description)
	}
}

func TestReport_UnsampledRequestStillReported(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(newSampler(0)),
		sdktrace.WithSpanProcessor(rec),
	)
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	tr := newTracer(tp)

	e := echo.New()
	e.HTTPErrorHandler = errorHandler(tr)
	e.Use(tr.Middleware())
	e.GET("/api/fail", func(c echo.Context) error {
		return errors.New("database unreachable")
	})

	const requests = 20
	for range requests {
		e.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/fail", nil))
	}

	ended := rec.Ended()
	if len(ended) != requests {
		t.Fatalf("ended spans = %d, want %d (one error report per request, no request spans)", len(ended), requests)
	}
	for _, span := range ended {
		if span.Name() != "unhandled error" {
			t.Errorf("span name = %q, want unhandled error", span.Name())
		}
		if span.Parent().IsValid() {
			t.Error("error report should start a new trace")
		}
		if len(span.Links()) != 1 || !span.Links()[0].SpanContext.IsValid() {
			t.Errorf("links = %v, want one link to the request span", span.Links())
		}
		hasException := false
		for _, ev := range span.Events() {
			if ev.Name == "exception" {
				hasException = true
			}
		}
		if !hasException {
			t.Error("expected exception event on error report span")
		}
	}
}

func TestSampler_RatioAppliesToRequestSpans(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(newSampler(0)),
		sdktrace.WithSpanProcessor(rec),
	)
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	tr := newTracer(tp)

	e := echo.New()
	e.Use(tr.Middleware())
	e.GET("/api/status", func(c echo.Context) error { return c.NoContent(http.StatusOK) })
	e.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/status", nil))

	if n := len(rec.Ended()); n != 0 {
		t.Errorf("ended spans = %d, want 0 at sample rate 0", n)
	}
	if d := newSampler(0.5).Description(); d == "" {
		t.Error("empty sampler description")
	}
}
