package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/ternarybob/exerceo/internal/app"
	"github.com/ternarybob/exerceo/internal/auth"
	"github.com/ternarybob/exerceo/internal/handlers"
	"github.com/ternarybob/exerceo/internal/models"
)

// Server manages the HTTP server and routes
type Server struct {
	app    *app.App
	router *http.ServeMux
	server *http.Server

	shutdownOnce sync.Once
	shutdownChan chan struct{}
}

// New creates a new HTTP server with the given app
func New(application *app.App) *Server {
	s := &Server{
		app: application,
	}

	// Setup routes
	s.router = s.setupRoutes()

	// Create HTTP server
	addr := fmt.Sprintf("%s:%d", application.Config.Server.Host, application.Config.Server.Port)
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.withConditionalMiddleware(s.router),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// SetShutdownChannel wires the channel the shutdown endpoint closes. main
// selects on it alongside OS signals.
func (s *Server) SetShutdownChannel(ch chan struct{}) {
	s.shutdownChan = ch
}

// Start starts the HTTP server
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.app.Config.Server.Host, s.app.Config.Server.Port)

	s.app.Logger.Info().
		Str("address", addr).
		Str("role", s.app.Config.Service.Role).
		Msg("HTTP server starting")

	s.app.Logger.Info().
		Str("url", fmt.Sprintf("http://%s:%d", s.app.Config.Server.Host, s.app.Config.Server.Port)).
		Msg("API available")

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.app.Logger.Info().Msg("Shutting down HTTP server...")

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	s.app.Logger.Info().Msg("HTTP server stopped")
	return nil
}

// ShutdownHandler handles POST /api/shutdown. Admin only; closes the
// shutdown channel so main unwinds the same way it does on SIGTERM.
func (s *Server) ShutdownHandler(w http.ResponseWriter, r *http.Request) {
	if !handlers.RequireMethod(w, r, http.MethodPost) {
		return
	}

	principal, ok := auth.PrincipalFrom(r.Context())
	if !ok {
		handlers.WriteError(w, models.ErrKindUnauthenticated, "authentication required")
		return
	}
	if !principal.HasRole(auth.RoleAdmin) {
		handlers.WriteError(w, models.ErrKindAuthInsufficient, "shutdown requires the admin role")
		return
	}

	if s.shutdownChan == nil {
		handlers.WriteError(w, models.ErrKindInternal, "shutdown endpoint not wired")
		return
	}

	s.app.Logger.Warn().
		Str("principal", principal.ID).
		Msg("Shutdown requested via API")

	handlers.WriteJSON(w, http.StatusOK, map[string]string{"status": "shutting down"})

	s.shutdownOnce.Do(func() {
		close(s.shutdownChan)
	})
}
