package web

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/uchat-ai/uchat/internal/log"
	"github.com/uchat-ai/uchat/internal/transcript"
)

// Session validation constants.
const (
	MaxTitleLength   = 100
	MaxOwnerIDLength = 100
)

// SessionHandler handles session CRUD endpoints.
type SessionHandler struct {
	store  *transcript.Store
	logger log.Logger
}

// NewSessionHandler creates a session handler.
func NewSessionHandler(store *transcript.Store, logger log.Logger) *SessionHandler {
	return &SessionHandler{store: store, logger: logger}
}

// RegisterRoutes registers session routes on the given mux.
func (h *SessionHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/sessions", h.list)
	mux.HandleFunc("POST /api/sessions", h.create)
	mux.HandleFunc("GET /api/sessions/{id}/messages", h.messages)
	mux.HandleFunc("DELETE /api/sessions/{id}", h.delete)
}

func (h *SessionHandler) list(w http.ResponseWriter, _ *http.Request) {
	sessions := h.store.ListSessions()
	writeJSON(w, http.StatusOK, map[string]any{
		"sessions": sessions,
		"total":    len(sessions),
	})
}

// CreateSessionRequest is the request body for creating a session.
type CreateSessionRequest struct {
	OwnerID string `json:"owner_id"`
	Title   string `json:"title"`
}

func (h *SessionHandler) create(w http.ResponseWriter, r *http.Request) {
	var req CreateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid request body")
		return
	}
	if len(req.Title) > MaxTitleLength {
		writeError(w, http.StatusBadRequest, "title_too_long", "title too long (max 100 characters)")
		return
	}
	if len(req.OwnerID) > MaxOwnerIDLength {
		writeError(w, http.StatusBadRequest, "owner_id_too_long", "owner_id too long (max 100 characters)")
		return
	}
	if req.Title == "" {
		req.Title = "New Session"
	}

	sess := h.store.CreateSession(req.OwnerID, req.Title)
	writeJSON(w, http.StatusCreated, sess)
}

func (h *SessionHandler) messages(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_session_id", "session id must be a UUID")
		return
	}

	messages, err := h.store.Messages(id)
	if err != nil {
		if errors.Is(err, transcript.ErrSessionNotFound) {
			writeError(w, http.StatusNotFound, "session_not_found", "unknown session")
			return
		}
		h.logger.Error("loading transcript", "session_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to load transcript")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"messages": messages,
		"total":    len(messages),
	})
}

func (h *SessionHandler) delete(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_session_id", "session id must be a UUID")
		return
	}

	if err := h.store.DeleteSession(id); err != nil {
		if errors.Is(err, transcript.ErrSessionNotFound) {
			writeError(w, http.StatusNotFound, "session_not_found", "unknown session")
			return
		}
		h.logger.Error("deleting session", "session_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to delete session")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
