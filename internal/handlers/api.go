package handlers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/exerceo/internal/common"
	"github.com/ternarybob/exerceo/internal/models"
)

// APIHandler serves liveness, version and the API fallthrough. Health is
// open in every auth mode.
type APIHandler struct {
	config    *common.Config
	startTime time.Time
	logger    arbor.ILogger
}

// NewAPIHandler creates the system handler anchored at process start.
func NewAPIHandler(config *common.Config, logger arbor.ILogger) *APIHandler {
	return &APIHandler{
		config:    config,
		startTime: time.Now(),
		logger:    logger,
	}
}

// HealthHandler reports service identity, version and uptime.
// GET /health
func (h *APIHandler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"service": h.config.Service.Name,
		"role":    h.config.Service.Role,
		"version": common.GetVersion(),
		"uptime":  time.Since(h.startTime).Round(time.Second).String(),
	})
}

// VersionHandler reports the build version.
// GET /api/version
func (h *APIHandler) VersionHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"version": common.GetFullVersion(),
	})
}

// NotFoundHandler answers unmatched API routes with the standard error body.
func (h *APIHandler) NotFoundHandler(w http.ResponseWriter, r *http.Request) {
	WriteError(w, models.ErrKindNotFound, fmt.Sprintf("no route for %s %s", r.Method, r.URL.Path))
}
