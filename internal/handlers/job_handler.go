package handlers

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/exerceo/internal/auth"
	"github.com/ternarybob/exerceo/internal/jobs"
	"github.com/ternarybob/exerceo/internal/models"
)

// JobHandler serves the job lifecycle endpoints: submit, list, get, cancel.
// It holds no domain state; all state lives behind the manager.
type JobHandler struct {
	manager  *jobs.Manager
	gate     *auth.Gate
	validate *validator.Validate
	logger   arbor.ILogger
}

// NewJobHandler creates a new job handler.
func NewJobHandler(manager *jobs.Manager, gate *auth.Gate, logger arbor.ILogger) *JobHandler {
	return &JobHandler{
		manager:  manager,
		gate:     gate,
		validate: validator.New(),
		logger:   logger,
	}
}

// SubmitJobRequest is the submit DTO. Shape validation happens here;
// semantic validation (trainer lookup, config document checks) happens
// inside Submit.
type SubmitJobRequest struct {
	TrainerKind string   `json:"trainer_kind" validate:"required"`
	ConfigRef   string   `json:"config_ref" validate:"required"`
	DatasetRef  string   `json:"dataset_ref"`
	Priority    int      `json:"priority" validate:"omitempty,min=1,max=5"`
	Tags        []string `json:"tags" validate:"omitempty,dive,required"`
}

// SubmitJobHandler accepts a training or dataset job.
// POST /api/jobs
func (h *JobHandler) SubmitJobHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	principal, ok := auth.PrincipalFrom(r.Context())
	if !ok {
		WriteError(w, models.ErrKindUnauthenticated, "no principal on request")
		return
	}

	var req SubmitJobRequest
	if err := DecodeJSON(w, r, &req); err != nil {
		WriteErrorFrom(w, err)
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		WriteError(w, models.ErrKindInvalidConfig, err.Error())
		return
	}

	kind := models.TrainerKind(req.TrainerKind)
	if !kind.IsValid() {
		WriteError(w, models.ErrKindUnknownTrainer, fmt.Sprintf("unknown trainer kind: %s", req.TrainerKind))
		return
	}

	if err := h.gate.AuthorizeSubmit(principal, kind); err != nil {
		WriteErrorFrom(w, err)
		return
	}

	job, err := h.manager.Submit(r.Context(), jobs.SubmitRequest{
		TrainerKind: kind,
		ConfigRef:   req.ConfigRef,
		DatasetRef:  req.DatasetRef,
		Priority:    req.Priority,
		SubmittedBy: principal.ID,
		Tags:        req.Tags,
	})
	if err != nil {
		h.logger.Warn().Err(err).Str("trainer_kind", req.TrainerKind).Msg("Submit rejected")
		WriteErrorFrom(w, err)
		return
	}

	WriteJSON(w, http.StatusAccepted, map[string]interface{}{
		"job_id": job.ID,
		"status": job.Status,
	})
}

// ListJobsHandler returns job records matching the query filters.
// GET /api/jobs?status=completed,failed&kind=lora&submitted_by=alice&limit=50
func (h *JobHandler) ListJobsHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	principal, ok := auth.PrincipalFrom(r.Context())
	if !ok {
		WriteError(w, models.ErrKindUnauthenticated, "no principal on request")
		return
	}
	if err := h.gate.AuthorizeRead(principal); err != nil {
		WriteErrorFrom(w, err)
		return
	}

	filter, err := filterFromQuery(r)
	if err != nil {
		WriteErrorFrom(w, err)
		return
	}

	records, err := h.manager.List(r.Context(), filter)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to list jobs")
		WriteErrorFrom(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":  records,
		"count": len(records),
	})
}

// GetJobHandler returns a single job record.
// GET /api/jobs/{id}
func (h *JobHandler) GetJobHandler(w http.ResponseWriter, r *http.Request, jobID string) {
	principal, ok := auth.PrincipalFrom(r.Context())
	if !ok {
		WriteError(w, models.ErrKindUnauthenticated, "no principal on request")
		return
	}
	if err := h.gate.AuthorizeRead(principal); err != nil {
		WriteErrorFrom(w, err)
		return
	}

	job, err := h.manager.Get(r.Context(), jobID)
	if err != nil {
		WriteErrorFrom(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, job)
}

// CancelJobHandler requests cancellation of a queued or running job.
// POST /api/jobs/{id}/cancel
func (h *JobHandler) CancelJobHandler(w http.ResponseWriter, r *http.Request, jobID string) {
	principal, ok := auth.PrincipalFrom(r.Context())
	if !ok {
		WriteError(w, models.ErrKindUnauthenticated, "no principal on request")
		return
	}

	job, err := h.manager.Get(r.Context(), jobID)
	if err != nil {
		WriteErrorFrom(w, err)
		return
	}
	if err := h.gate.CanCancel(principal, job); err != nil {
		WriteErrorFrom(w, err)
		return
	}

	if err := h.manager.Cancel(r.Context(), jobID); err != nil {
		WriteErrorFrom(w, err)
		return
	}

	// Re-read for the post-cancel status: queued jobs are already terminal,
	// running jobs report their live status until the trainer settles.
	job, err = h.manager.Get(r.Context(), jobID)
	if err != nil {
		WriteErrorFrom(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"job_id": job.ID,
		"status": job.Status,
	})
}

// filterFromQuery builds a JobFilter from list query parameters. Unknown
// status or kind values are rejected rather than silently matching nothing.
func filterFromQuery(r *http.Request) (models.JobFilter, error) {
	var filter models.JobFilter

	if raw := r.URL.Query().Get("status"); raw != "" {
		for _, entry := range strings.Split(raw, ",") {
			status := models.JobStatus(strings.TrimSpace(entry))
			if !status.IsValid() {
				return filter, fmt.Errorf("%w: unknown status %q", models.ErrInvalidConfig, entry)
			}
			filter.Statuses = append(filter.Statuses, status)
		}
	}

	if raw := r.URL.Query().Get("kind"); raw != "" {
		for _, entry := range strings.Split(raw, ",") {
			kind := models.TrainerKind(strings.TrimSpace(entry))
			if !kind.IsValid() {
				return filter, fmt.Errorf("%w: unknown trainer kind %q", models.ErrUnknownTrainer, entry)
			}
			filter.Kinds = append(filter.Kinds, kind)
		}
	}

	filter.SubmittedBy = r.URL.Query().Get("submitted_by")

	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			return filter, fmt.Errorf("%w: invalid limit %q", models.ErrInvalidConfig, raw)
		}
		filter.Limit = limit
	}

	return filter, nil
}
