// Package server provides the local admin HTTP server for voiced.
//
// It exposes a health check, prometheus metrics, and a status endpoint
// reporting the session mode and provider reachability, with context-aware
// graceful shutdown.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fyrsmithlabs/voiced/internal/capability"
	"github.com/fyrsmithlabs/voiced/internal/config"
	"github.com/fyrsmithlabs/voiced/internal/version"
)

// StatusSource reports the live session state for /status.
type StatusSource interface {
	SessionID() string
	StartedAt() time.Time
	Mode() string
	Providers() []capability.ProviderInfo
}

// Server is the admin HTTP server.
type Server struct {
	cfg    config.ServerConfig
	echo   *echo.Echo
	status StatusSource
}

// HealthResponse is the JSON response for GET /health.
type HealthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
	Version string `json:"version"`
}

// StatusResponse is the JSON response for GET /status.
type StatusResponse struct {
	SessionID string           `json:"session_id,omitempty"`
	StartedAt time.Time        `json:"started_at,omitzero"`
	Mode      string           `json:"mode"`
	Providers []ProviderStatus `json:"providers"`
}

// ProviderStatus is one provider's entry in /status.
type ProviderStatus struct {
	ID           string `json:"id"`
	Status       string `json:"status"`
	Capabilities int    `json:"capabilities"`
	LastError    string `json:"last_error,omitempty"`
}

// NewServer creates the admin server. status may be nil, in which case
// /status reports only that the session is not attached.
func NewServer(cfg config.ServerConfig, status StatusSource) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())

	s := &Server{cfg: cfg, echo: e, status: status}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/status", s.handleStatus)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{
		Status:  "ok",
		Service: "voiced",
		Version: version.Version,
	})
}

func (s *Server) handleStatus(c echo.Context) error {
	resp := StatusResponse{Mode: "detached"}
	if s.status != nil {
		resp.SessionID = s.status.SessionID()
		resp.StartedAt = s.status.StartedAt()
		resp.Mode = s.status.Mode()
		for _, p := range s.status.Providers() {
			resp.Providers = append(resp.Providers, ProviderStatus{
				ID:           p.ID,
				Status:       p.Status.String(),
				Capabilities: p.Capabilities,
				LastError:    p.LastError,
			})
		}
	}
	return c.JSON(http.StatusOK, resp)
}

// Start runs the server until ctx is cancelled, then shuts down gracefully
// within the configured timeout. Returns http.ErrServerClosed on a clean
// shutdown.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("127.0.0.1:%d", s.cfg.Port)

	errCh := make(chan error, 1)
	go func() {
		if err := s.echo.Start(addr); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("server start: %w", err)
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(
			context.Background(),
			s.cfg.ShutdownTimeout.Duration(),
		)
		defer cancel()

		if err := s.echo.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		return http.ErrServerClosed
	}
}

// Echo returns the underlying Echo instance for registering extra routes.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}
