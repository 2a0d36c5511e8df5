// Package telemetry provides OpenTelemetry request spans and forwards
// unhandled errors to an OTLP collector.
package telemetry

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"tiergate/internal/config"
)

// TraceIDHeader carries the trace ID back to the client.
const TraceIDHeader = "X-Trace-ID"

const instrumentationName = "tiergate"

const (
	errorKindKey       = attribute.Key("error.kind")
	errorKindUnhandled = "unhandled"
)

// Tracer creates request spans and records unhandled errors on them.
// A Tracer built without an endpoint is disabled and every method is a no-op.
type Tracer struct {
	enabled    bool
	provider   *sdktrace.TracerProvider
	tracer     trace.Tracer
	propagator propagation.TextMapPropagator
}

// New creates a Tracer exporting over OTLP gRPC. An empty endpoint yields a
// disabled Tracer.
func New(cfg *config.Config, logger *slog.Logger) (*Tracer, error) {
	tc := cfg.Telemetry
	if tc.Endpoint == "" {
		logger.Debug("telemetry disabled: no endpoint configured")
		return &Tracer{}, nil
	}

	ctx := context.Background()

	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(tc.Endpoint)}
	if tc.Insecure {
		opts = append(opts,
			otlptracegrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
			otlptracegrpc.WithInsecure(),
		)
	}

	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return nil, err
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(tc.ServiceName),
			semconv.DeploymentEnvironmentKey.String(cfg.Server.Environment),
		),
	)
	if err != nil {
		return nil, err
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(newSampler(tc.SampleRate)),
	)
	otel.SetTracerProvider(provider)

	t := newTracer(provider)
	otel.SetTextMapPropagator(t.propagator)

	logger.Info("telemetry enabled", "endpoint", tc.Endpoint, "sample_rate", tc.SampleRate)
	return t, nil
}

func newTracer(provider *sdktrace.TracerProvider) *Tracer {
	return &Tracer{
		enabled:  true,
		provider: provider,
		tracer:   provider.Tracer(instrumentationName),
		propagator: propagation.NewCompositeTextMapPropagator(
			propagation.TraceContext{},
			propagation.Baggage{},
		),
	}
}

// Enabled reports whether spans are exported.
func (t *Tracer) Enabled() bool {
	return t.enabled
}

// Middleware returns an Echo middleware that opens a server span per request.
// Errors from the chain are resolved inside the span so the error handler
// sees the span through the request context and the final status is known.
func (t *Tracer) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		if !t.enabled {
			return next
		}
		return func(c echo.Context) error {
			req := c.Request()
			ctx := t.propagator.Extract(req.Context(), propagation.HeaderCarrier(req.Header))

			ctx, span := t.tracer.Start(ctx, req.Method+" "+req.URL.Path,
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(
					semconv.HTTPRequestMethodKey.String(req.Method),
					semconv.URLPath(req.URL.Path),
					semconv.ServerAddress(req.Host),
					semconv.UserAgentOriginal(req.UserAgent()),
				),
			)
			defer span.End()

			c.SetRequest(req.WithContext(ctx))
			if sc := span.SpanContext(); sc.HasTraceID() {
				c.Response().Header().Set(TraceIDHeader, sc.TraceID().String())
			}

			if err := next(c); err != nil {
				c.Error(err)
			}

			if route := c.Path(); route != "" {
				span.SetAttributes(semconv.HTTPRoute(route))
			}
			status := c.Response().Status
			span.SetAttributes(semconv.HTTPResponseStatusCode(status))
			if status >= http.StatusInternalServerError {
				span.SetStatus(codes.Error, http.StatusText(status))
			}
			return nil
		}
	}
}

// Report records err on the span carried by ctx. When the request was not
// sampled, the error goes on a new root span linked to the request, which
// the sampler always keeps.
func (t *Tracer) Report(ctx context.Context, err error, method, path string) {
	if !t.enabled || err == nil {
		return
	}

	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		opts := []trace.SpanStartOption{
			trace.WithNewRoot(),
			trace.WithAttributes(
				errorKindKey.String(errorKindUnhandled),
				semconv.HTTPRequestMethodKey.String(method),
				semconv.URLPath(path),
			),
		}
		if sc := span.SpanContext(); sc.IsValid() {
			opts = append(opts, trace.WithLinks(trace.Link{SpanContext: sc}))
		}
		_, span = t.tracer.Start(ctx, "unhandled error", opts...)
		defer span.End()
	}

	span.RecordError(err,
		trace.WithStackTrace(true),
		trace.WithAttributes(errorKindKey.String(errorKindUnhandled)),
	)
	span.SetStatus(codes.Error, err.Error())
}

// Shutdown flushes pending spans and stops the exporter.
func (t *Tracer) Shutdown(ctx context.Context) error {
	if t.provider == nil {
		return nil
	}
	return t.provider.Shutdown(ctx)
}
