package handlers

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/exerceo/internal/auth"
	"github.com/ternarybob/exerceo/internal/interfaces"
	"github.com/ternarybob/exerceo/internal/models"
)

// FeedbackHandler ingests interaction feedback into the bounded buffer the
// continuous trainer drains.
type FeedbackHandler struct {
	feedback interfaces.FeedbackProvider
	gate     *auth.Gate
	validate *validator.Validate
	logger   arbor.ILogger
}

// NewFeedbackHandler creates a new feedback handler.
func NewFeedbackHandler(feedback interfaces.FeedbackProvider, gate *auth.Gate, logger arbor.ILogger) *FeedbackHandler {
	return &FeedbackHandler{
		feedback: feedback,
		gate:     gate,
		validate: validator.New(),
		logger:   logger,
	}
}

// FeedbackRequest is the ingestion DTO.
type FeedbackRequest struct {
	Items []FeedbackItemRequest `json:"items" validate:"required,min=1,dive"`
}

// FeedbackItemRequest is one scored interaction sample.
type FeedbackItemRequest struct {
	Text  string  `json:"text" validate:"required"`
	Score float64 `json:"score"`
}

// SubmitFeedbackHandler appends items to the feedback buffer. Feedback
// feeds continuous training, so it is gated by that kind's submit roles.
// POST /api/feedback
func (h *FeedbackHandler) SubmitFeedbackHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	principal, ok := auth.PrincipalFrom(r.Context())
	if !ok {
		WriteError(w, models.ErrKindUnauthenticated, "no principal on request")
		return
	}
	if err := h.gate.AuthorizeSubmit(principal, models.TrainerKindContinuous); err != nil {
		WriteErrorFrom(w, err)
		return
	}

	var req FeedbackRequest
	if err := DecodeJSON(w, r, &req); err != nil {
		WriteErrorFrom(w, err)
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		WriteError(w, models.ErrKindInvalidConfig, err.Error())
		return
	}

	accepted := 0
	for _, item := range req.Items {
		if err := h.feedback.Submit(models.FeedbackItem{Text: item.Text, Score: item.Score}); err != nil {
			h.logger.Warn().Err(err).Msg("Feedback item rejected")
			continue
		}
		accepted++
	}

	h.logger.Debug().
		Int("accepted", accepted).
		Int("buffered", h.feedback.Len()).
		Msg("Feedback ingested")

	WriteJSON(w, http.StatusAccepted, map[string]interface{}{
		"accepted": accepted,
	})
}
