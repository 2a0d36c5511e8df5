package telemetry

import (
	"fmt"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// errorSampler keeps every unhandled-error span and defers all other
// decisions to base.
type errorSampler struct {
	base sdktrace.Sampler
}

// newSampler samples request traces at rate and error reports always.
func newSampler(rate float64) sdktrace.Sampler {
	return errorSampler{base: sdktrace.ParentBased(sdktrace.TraceIDRatioBased(rate))}
}

func (s errorSampler) ShouldSample(p sdktrace.SamplingParameters) sdktrace.SamplingResult {
	for _, kv := range p.Attributes {
		if kv.Key == errorKindKey && kv.Value.AsString() == errorKindUnhandled {
			return sdktrace.AlwaysSample().ShouldSample(p)
		}
	}
	return s.base.ShouldSample(p)
}

func (s errorSampler) Description() string {
	return fmt.Sprintf("ErrorSampler{%s}", s.base.Description())
}
