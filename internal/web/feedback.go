package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/uchat-ai/uchat/internal/log"
	"github.com/uchat-ai/uchat/internal/transcript/postgres"
)

// Feedback validation constants.
const (
	MaxFeedbackEmailLength   = 254
	MaxFeedbackNameLength    = 100
	MaxFeedbackMessageLength = 10000
)

// FeedbackStore persists feedback. Implemented by the postgres archive.
type FeedbackStore interface {
	SaveMessageFeedback(ctx context.Context, fb postgres.MessageFeedback) error
	SaveContactFeedback(ctx context.Context, fb postgres.ContactFeedback) error
}

// FeedbackHandler serves the feedback endpoints.
type FeedbackHandler struct {
	store  FeedbackStore
	logger log.Logger
}

// NewFeedbackHandler creates a feedback handler. store may be nil when no
// archive is configured; feedback is then rejected.
func NewFeedbackHandler(store FeedbackStore, logger log.Logger) *FeedbackHandler {
	return &FeedbackHandler{store: store, logger: logger}
}

// RegisterRoutes registers feedback routes on the given mux.
func (h *FeedbackHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/feedback/message", h.message)
	mux.HandleFunc("POST /api/feedback/contact", h.contact)
}

// MessageFeedbackRequest is the request body for POST /api/feedback/message.
type MessageFeedbackRequest struct {
	ProviderMessageID string `json:"message_id"`
	Kind              string `json:"kind"`
	Email             string `json:"email"`
}

func (h *FeedbackHandler) message(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		writeError(w, http.StatusServiceUnavailable, "feedback_disabled", "no feedback store configured")
		return
	}

	var req MessageFeedbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid request body")
		return
	}
	if req.ProviderMessageID == "" {
		writeError(w, http.StatusBadRequest, "missing_message_id", "message_id is required")
		return
	}
	if len(req.Email) > MaxFeedbackEmailLength {
		writeError(w, http.StatusBadRequest, "email_too_long", "email too long")
		return
	}

	err := h.store.SaveMessageFeedback(r.Context(), postgres.MessageFeedback{
		ProviderMessageID: req.ProviderMessageID,
		Kind:              req.Kind,
		Email:             req.Email,
	})
	switch {
	case errors.Is(err, postgres.ErrInvalidFeedbackKind):
		writeError(w, http.StatusBadRequest, "invalid_kind", "kind must be like or dislike")
	case errors.Is(err, postgres.ErrMessageNotFound):
		writeError(w, http.StatusNotFound, "message_not_found", "unknown message id")
	case err != nil:
		h.logger.Error("saving message feedback", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to save feedback")
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

// ContactFeedbackRequest is the request body for POST /api/feedback/contact.
type ContactFeedbackRequest struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func (h *FeedbackHandler) contact(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		writeError(w, http.StatusServiceUnavailable, "feedback_disabled", "no feedback store configured")
		return
	}

	var req ContactFeedbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid request body")
		return
	}
	if req.Message == "" {
		writeError(w, http.StatusBadRequest, "missing_message", "message is required")
		return
	}
	if len(req.Name) > MaxFeedbackNameLength || len(req.Email) > MaxFeedbackEmailLength ||
		len(req.Message) > MaxFeedbackMessageLength {
		writeError(w, http.StatusBadRequest, "field_too_long", "a field exceeds its maximum length")
		return
	}

	if err := h.store.SaveContactFeedback(r.Context(), postgres.ContactFeedback{
		Name:    req.Name,
		Email:   req.Email,
		Kind:    req.Kind,
		Message: req.Message,
	}); err != nil {
		h.logger.Error("saving contact feedback", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to save feedback")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
