// Package session issues rolling, cookie-backed sessions held in an
// in-process memory store.
package session

import (
	"crypto/rand"
	"encoding/hex"
	"net/http"
	"time"
)

// MaxAge is the idle lifetime of a session in both profiles.
const MaxAge = 7 * 24 * time.Hour

// CookieName is the name of the session cookie.
const CookieName = "connect.sid"

// DevSecret signs cookies when no secret is configured outside production.
const DevSecret = "tiergate-dev-only-secret"

// Profile is the cookie and session policy for one deployment environment.
// It is selected once at startup and never mutated.
type Profile struct {
	CookieName string
	Secret     string
	Secure     bool
	HTTPOnly   bool
	SameSite   http.SameSite
	MaxAge     time.Duration
	Path       string
	// Domain is empty unless frontend and backend share a parent domain.
	Domain string
	// TrustProxy honors the forwarded scheme from one reverse-proxy hop.
	TrustProxy bool
	// Rolling resets the expiry on every request that touches the session.
	Rolling bool
}

// Select returns the profile for the deployment environment.
//
// Production assumes the dashboard UI is served by this backend (same-site),
// so SameSite stays Lax with Secure cookies behind a TLS-terminating proxy.
// The dev secret is only used outside production; a production process with
// no secret gets a random per-process key instead.
func Select(production bool, secret, domain string) Profile {
	p := Profile{
		CookieName: CookieName,
		Secret:     secret,
		HTTPOnly:   true,
		SameSite:   http.SameSiteLaxMode,
		MaxAge:     MaxAge,
		Path:       "/",
		Rolling:    true,
	}

	if !production {
		if p.Secret == "" {
			p.Secret = DevSecret
		}
		return p
	}

	if p.Secret == "" || p.Secret == DevSecret {
		p.Secret = randomSecret()
	}
	p.Secure = true
	p.TrustProxy = true
	p.Domain = domain
	return p
}

// MaxAgeSeconds returns the cookie Max-Age attribute value.
func (p Profile) MaxAgeSeconds() int {
	return int(p.MaxAge / time.Second)
}

func randomSecret() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		// crypto/rand never fails on supported platforms.
		panic(err)
	}
	return hex.EncodeToString(b)
}
