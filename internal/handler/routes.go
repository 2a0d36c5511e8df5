package handler

import (
	"github.com/labstack/echo/v4"
)

// RegisterRoutes wires the gateway's own endpoints onto the Echo instance.
// Business routes are mounted by the application next to these.
func RegisterRoutes(e *echo.Echo, health *HealthHandler, sess *SessionHandler) {
	e.GET("/healthz", health.Healthz)
	e.GET("/api/status", health.Status)

	auth := e.Group("/api/auth")
	auth.GET("/session", sess.Current)
	auth.POST("/logout", sess.Logout)
}
