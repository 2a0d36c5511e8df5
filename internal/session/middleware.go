package session

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
)

const contextKey = "tiergate.session"

// Store is the persistence used by Middleware.
type Store interface {
	NewID() string
	Get(ctx context.Context, id string) (*Session, error)
	Save(ctx context.Context, sess *Session) error
	Touch(ctx context.Context, id string) (time.Time, error)
	Delete(ctx context.Context, id string) error
}

type state struct {
	sess      *Session
	stored    bool
	destroyed bool
}

// Middleware attaches a session to every request according to profile p.
//
// A signed cookie is resolved to a stored session; anything else starts an
// uninitialized session that is only saved (and only gets a cookie) once a
// handler sets a value. Stored sessions are touched on every request when
// the profile is rolling. Store writes happen just before the response
// headers are sent.
func Middleware(p Profile, store Store, logger *slog.Logger) echo.MiddlewareFunc {
	logger = logger.With("component", "session")

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := c.Request().Context()
			st := &state{}

			if ck, err := c.Cookie(p.CookieName); err == nil {
				if id, ok := Unsign(ck.Value, p.Secret); ok {
					if sess, err := store.Get(ctx, id); err == nil {
						st.sess = sess
						st.stored = true
					}
				} else {
					logger.Debug("ignoring session cookie with bad signature", "path", c.Request().URL.Path)
				}
			}
			if st.sess == nil {
				st.sess = &Session{ID: store.NewID()}
			}

			c.Set(contextKey, st)
			c.Response().Before(func() {
				commit(c, p, store, st, logger)
			})

			if err := next(c); err != nil {
				return err
			}
			// A handler that writes nothing still ends the response here,
			// so pending session changes are saved.
			if !c.Response().Committed {
				return c.NoContent(http.StatusOK)
			}
			return nil
		}
	}
}

func commit(c echo.Context, p Profile, store Store, st *state, logger *slog.Logger) {
	ctx := context.WithoutCancel(c.Request().Context())

	if st.destroyed {
		if st.stored {
			clearCookie(c, p)
		}
		return
	}

	var expires time.Time
	switch {
	case st.sess.Modified():
		if err := store.Save(ctx, st.sess); err != nil {
			logger.Error("saving session", "err", err)
			return
		}
		expires = st.sess.ExpiresAt
	case st.stored && p.Rolling:
		exp, err := store.Touch(ctx, st.sess.ID)
		if err != nil {
			if !errors.Is(err, ErrNotFound) {
				logger.Error("touching session", "err", err)
			}
			return
		}
		st.sess.ExpiresAt = exp
		expires = exp
	default:
		return
	}

	if p.Secure && !isSecure(c, p) {
		logger.Debug("not setting secure session cookie over insecure connection")
		return
	}

	c.SetCookie(&http.Cookie{
		Name:     p.CookieName,
		Value:    Sign(st.sess.ID, p.Secret),
		Path:     p.Path,
		Domain:   p.Domain,
		MaxAge:   p.MaxAgeSeconds(),
		Expires:  expires,
		Secure:   p.Secure,
		HttpOnly: p.HTTPOnly,
		SameSite: p.SameSite,
	})
}

func clearCookie(c echo.Context, p Profile) {
	c.SetCookie(&http.Cookie{
		Name:     p.CookieName,
		Value:    "",
		Path:     p.Path,
		Domain:   p.Domain,
		MaxAge:   -1,
		Secure:   p.Secure,
		HttpOnly: p.HTTPOnly,
		SameSite: p.SameSite,
	})
}

// isSecure reports whether the client connection is HTTPS. The forwarded
// scheme is only honored when the profile trusts the proxy.
func isSecure(c echo.Context, p Profile) bool {
	req := c.Request()
	if req.TLS != nil {
		return true
	}
	if !p.TrustProxy {
		return false
	}
	proto := req.Header.Get(echo.HeaderXForwardedProto)
	if i := strings.IndexByte(proto, ','); i >= 0 {
		proto = proto[:i]
	}
	return strings.EqualFold(strings.TrimSpace(proto), "https")
}

func stateFrom(c echo.Context) *state {
	st, _ := c.Get(contextKey).(*state)
	return st
}

// FromContext returns the request's session, or nil when Middleware is not
// installed.
func FromContext(c echo.Context) *Session {
	if st := stateFrom(c); st != nil && !st.destroyed {
		return st.sess
	}
	return nil
}

// Regenerate drops the current session and starts an empty one under a new
// id. Call it after a privilege change such as login.
func Regenerate(c echo.Context, store Store) error {
	st := stateFrom(c)
	if st == nil {
		return errors.New("session: middleware not installed")
	}
	if st.stored {
		if err := store.Delete(c.Request().Context(), st.sess.ID); err != nil {
			return err
		}
	}
	st.sess = &Session{ID: store.NewID()}
	st.stored = false
	st.destroyed = false
	return nil
}

// Destroy deletes the session and expires its cookie.
func Destroy(c echo.Context, store Store) error {
	st := stateFrom(c)
	if st == nil {
		return errors.New("session: middleware not installed")
	}
	if st.stored {
		if err := store.Delete(c.Request().Context(), st.sess.ID); err != nil {
			return err
		}
	}
	st.destroyed = true
	return nil
}
