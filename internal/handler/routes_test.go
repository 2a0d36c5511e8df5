package handler

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"tiergate/internal/config"
	"tiergate/internal/session"
)

func TestRegisterRoutes_Wiring(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := session.NewMemoryStore(session.MaxAge, time.Hour, logger)
	t.Cleanup(store.Stop)

	e := echo.New()
	e.HTTPErrorHandler = NewErrorHandler(logger, nil, nil)
	e.Use(session.Middleware(session.Select(false, "", ""), store, logger))
	RegisterRoutes(e, NewHealthHandler(&config.Config{}, "test"), NewSessionHandler(store, logger))

	tests := []struct {
		name       string
		method     string
		path       string
		wantStatus int
	}{
		{"GET /healthz", http.MethodGet, "/healthz", http.StatusOK},
		{"GET /api/status", http.MethodGet, "/api/status", http.StatusOK},
		{"GET /api/auth/session", http.MethodGet, "/api/auth/session", http.StatusUnauthorized},
		{"POST /api/auth/logout", http.MethodPost, "/api/auth/logout", http.StatusOK},
		{"GET /unknown returns 404", http.MethodGet, "/unknown", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, http.NoBody)
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
		})
	}
}
