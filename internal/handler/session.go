package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"tiergate/internal/session"
)

// UserIDKey is the session value set by the login flow.
const UserIDKey = "user_id"

// SessionHandler exposes the caller's session state.
type SessionHandler struct {
	store  session.Store
	logger *slog.Logger
}

// NewSessionHandler creates a SessionHandler.
func NewSessionHandler(store session.Store, logger *slog.Logger) *SessionHandler {
	return &SessionHandler{
		store:  store,
		logger: logger.With("component", "session_handler"),
	}
}

// Current reports whether the request carries an authenticated session.
// Reading it also rolls the session's expiry.
func (h *SessionHandler) Current(c echo.Context) error {
	sess := session.FromContext(c)
	if sess == nil {
		return c.JSON(http.StatusUnauthorized, map[string]any{"authenticated": false})
	}
	uid, ok := sess.Get(UserIDKey)
	if !ok {
		return c.JSON(http.StatusUnauthorized, map[string]any{"authenticated": false})
	}
	return c.JSON(http.StatusOK, map[string]any{
		"authenticated": true,
		"user_id":       uid,
		"created_at":    sess.CreatedAt.Format(time.RFC3339),
	})
}

// Logout destroys the session and expires its cookie.
func (h *SessionHandler) Logout(c echo.Context) error {
	if err := session.Destroy(c, h.store); err != nil {
		return err
	}
	h.logger.Info("session destroyed", "path", c.Request().URL.Path)
	return c.JSON(http.StatusOK, map[string]bool{"ok": true})
}
