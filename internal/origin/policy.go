// Package origin decides whether a cross-origin caller is trusted.
package origin

import (
	"errors"
	"slices"
	"strings"
)

// ErrOriginRejected is returned when a request's Origin fails the policy.
var ErrOriginRejected = errors.New("origin not allowed by CORS policy")

// Decision is the outcome of evaluating an origin.
type Decision int

const (
	Deny Decision = iota
	Allow
)

func (d Decision) String() string {
	if d == Allow {
		return "allow"
	}
	return "deny"
}

// DefaultOrigins are the dashboard's own deployments and local dev servers.
var DefaultOrigins = []string{
	"http://localhost:5000",
	"http://127.0.0.1:5000",
	"http://0.0.0.0:5000",
	"http://localhost:3000",
	"http://localhost:8080",
	"https://biznesyordam.uz",
	"https://www.biznesyordam.uz",
	"https://biznesyordam-backend.onrender.com",
	"https://biznes-yordam.onrender.com",
}

// DefaultHostPatterns admit preview/staging subdomains on hosting platforms.
var DefaultHostPatterns = []string{
	".onrender.com",
	".replit.dev",
}

// Allowlist is the immutable set of trusted origins. Build it once with
// NewAllowlist and share it between requests.
type Allowlist struct {
	origins  []string
	exact    map[string]struct{}
	patterns []string
	wildcard bool
}

// NewAllowlist merges static origins with a comma-separated list (usually the
// CORS_ORIGIN environment variable). Blank entries are dropped and duplicates
// keep their first position. Patterns are matched case-insensitively.
func NewAllowlist(static []string, extraCSV string, patterns []string) *Allowlist {
	a := &Allowlist{exact: make(map[string]struct{})}

	add := func(o string) {
		o = strings.TrimSpace(o)
		if o == "" {
			return
		}
		if _, ok := a.exact[o]; ok {
			return
		}
		a.exact[o] = struct{}{}
		a.origins = append(a.origins, o)
		if o == "*" {
			a.wildcard = true
		}
	}

	for _, o := range static {
		add(o)
	}
	for _, o := range strings.Split(extraCSV, ",") {
		add(o)
	}
	for _, p := range patterns {
		p = strings.ToLower(strings.TrimSpace(p))
		if p != "" && !slices.Contains(a.patterns, p) {
			a.patterns = append(a.patterns, p)
		}
	}

	return a
}

// Origins returns a copy of the exact-match origins in insertion order.
func (a *Allowlist) Origins() []string {
	return slices.Clone(a.origins)
}

// Patterns returns a copy of the host patterns.
func (a *Allowlist) Patterns() []string {
	return slices.Clone(a.patterns)
}

// Policy evaluates origins against an Allowlist.
type Policy struct {
	list *Allowlist
}

// NewPolicy creates a Policy backed by list.
func NewPolicy(list *Allowlist) *Policy {
	return &Policy{list: list}
}

// Allowlist returns the allowlist backing the policy.
func (p *Policy) Allowlist() *Allowlist {
	return p.list
}

// Decide returns Allow or Deny for a request. An empty origin means the
// header was absent (same-origin or server-to-server) and is always allowed.
func (p *Policy) Decide(origin, requestPath string) Decision {
	if origin == "" {
		return Allow
	}
	if p.AllowsOrigin(origin) {
		return Allow
	}
	if IsStaticAsset(requestPath) {
		return Allow
	}
	return Deny
}

// AllowsOrigin reports whether origin is trusted on its own, without the
// static asset exception.
func (p *Policy) AllowsOrigin(origin string) bool {
	if p.list.wildcard {
		return true
	}
	if _, ok := p.list.exact[origin]; ok {
		return true
	}
	lower := strings.ToLower(origin)
	for _, pat := range p.list.patterns {
		if strings.Contains(lower, pat) {
			return true
		}
	}
	return false
}

// IsStaticAsset reports whether path points at a bundled asset.
func IsStaticAsset(path string) bool {
	return strings.HasPrefix(path, "/assets") ||
		strings.HasSuffix(path, ".css") ||
		strings.HasSuffix(path, ".js")
}
