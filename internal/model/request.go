// Package model defines per-request types shared by the gateway middleware.
package model

import "time"

// RequestContext is the transient record of one request passing through the
// activity logger. It is never shared between requests.
type RequestContext struct {
	Method string
	Path   string
	Start  time.Time
	// Captured holds the JSON response payload, nil when none was produced.
	Captured []byte
}

// NewRequestContext starts timing a request.
func NewRequestContext(method, path string) *RequestContext {
	return &RequestContext{
		Method: method,
		Path:   path,
		Start:  time.Now(),
	}
}

// Elapsed returns the time since the request entered the pipeline.
func (r *RequestContext) Elapsed() time.Duration {
	return time.Since(r.Start)
}
