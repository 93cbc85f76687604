package server

import (
	"net/http"
	"strings"

	"github.com/ternarybob/exerceo/internal/handlers"
	"github.com/ternarybob/exerceo/internal/models"
)

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	// Health and metrics (unauthenticated, see authMiddleware)
	mux.HandleFunc("/health", s.app.APIHandler.HealthHandler)
	mux.Handle("/metrics", s.app.Metrics.Handler())

	// WebSocket route (progress event stream)
	mux.HandleFunc("/ws", s.app.WSHandler.HandleWebSocket)

	// API routes - Jobs
	mux.HandleFunc("/api/jobs", s.handleJobsRoute)  // GET (list), POST (submit)
	mux.HandleFunc("/api/jobs/", s.handleJobRoutes) // Handles /api/jobs/{id} and subpaths

	// API routes - Feedback (continuous training input)
	mux.HandleFunc("/api/feedback", s.app.FeedbackHandler.SubmitFeedbackHandler)

	// API routes - System
	mux.HandleFunc("/api/version", s.app.APIHandler.VersionHandler)
	mux.HandleFunc("/api/shutdown", s.ShutdownHandler) // Graceful shutdown endpoint (dev mode)

	// 404 handler for unmatched API routes
	mux.HandleFunc("/api/", s.app.APIHandler.NotFoundHandler)

	return mux
}

// handleJobsRoute routes /api/jobs requests (list and submit)
func (s *Server) handleJobsRoute(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case "GET":
		s.app.JobHandler.ListJobsHandler(w, r)
	case "POST":
		s.app.JobHandler.SubmitJobHandler(w, r)
	default:
		handlers.WriteMethodNotAllowed(w, r.Method)
	}
}

// handleJobRoutes routes /api/jobs/{id} requests to the appropriate handler
func (s *Server) handleJobRoutes(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path

	pathSuffix := strings.Trim(path[len("/api/jobs/"):], "/")
	if pathSuffix == "" {
		// Bare /api/jobs/ behaves like the collection route
		s.handleJobsRoute(w, r)
		return
	}

	// POST /api/jobs/{id}/cancel
	if r.Method == "POST" {
		if len(pathSuffix) > 7 && pathSuffix[len(pathSuffix)-7:] == "/cancel" {
			jobID := pathSuffix[:len(pathSuffix)-7]
			s.app.JobHandler.CancelJobHandler(w, r, jobID)
			return
		}
		handlers.WriteError(w, models.ErrKindNotFound, "unknown job action")
		return
	}

	// GET /api/jobs/{id}
	if r.Method == "GET" {
		if strings.Contains(pathSuffix, "/") {
			handlers.WriteError(w, models.ErrKindNotFound, "unknown job action")
			return
		}
		s.app.JobHandler.GetJobHandler(w, r, pathSuffix)
		return
	}

	handlers.WriteMethodNotAllowed(w, r.Method)
}
