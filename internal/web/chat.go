package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/uchat-ai/uchat/internal/chat"
	"github.com/uchat-ai/uchat/internal/log"
	"github.com/uchat-ai/uchat/internal/transcript"
	"github.com/uchat-ai/uchat/internal/web/sse"
)

// TurnRunner runs and controls chat turns. Implemented by chat.Controller.
type TurnRunner interface {
	Send(ctx context.Context, sessionID uuid.UUID, prompt string) error
	Continue(ctx context.Context, sessionID uuid.UUID) error
	Cancel(sessionID uuid.UUID) bool
	Eligible(sessionID uuid.UUID) bool
}

// ChatHandler serves the turn endpoints. While a turn streams it relays
// the trailing assistant message's state to the browser as SSE: an
// "update" event per observed change and one terminal "done" event.
type ChatHandler struct {
	store  *transcript.Store
	turns  TurnRunner
	logger log.Logger
}

// NewChatHandler creates a chat handler.
func NewChatHandler(store *transcript.Store, turns TurnRunner, logger log.Logger) *ChatHandler {
	return &ChatHandler{store: store, turns: turns, logger: logger}
}

// RegisterRoutes registers chat routes on the given mux.
func (h *ChatHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/chat", h.send)
	mux.HandleFunc("POST /api/chat/continue", h.resume)
	mux.HandleFunc("POST /api/chat/cancel", h.cancel)
}

// SendRequest is the request body for POST /api/chat.
type SendRequest struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

// messageUpdate is the payload of the "update" and "done" SSE events.
type messageUpdate struct {
	MessageID         int64                 `json:"message_id"`
	Text              string                `json:"text"`
	Images            []transcript.ImageRef `json:"images,omitempty"`
	FinishReason      string                `json:"finish_reason,omitempty"`
	ProviderMessageID string                `json:"provider_message_id,omitempty"`
	Continuable       bool                  `json:"continuable,omitempty"`
}

func snapshotUpdate(msg *transcript.Message) messageUpdate {
	return messageUpdate{
		MessageID:         msg.ID,
		Text:              msg.Text,
		Images:            msg.Images,
		FinishReason:      string(msg.FinishReason),
		ProviderMessageID: msg.ProviderMessageID,
		Continuable:       msg.Complete && msg.FinishReason == transcript.FinishLength,
	}
}

func (h *ChatHandler) send(w http.ResponseWriter, r *http.Request) {
	var req SendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid request body")
		return
	}
	sessionID, err := uuid.Parse(req.SessionID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_session_id", "session_id must be a UUID")
		return
	}
	if req.Message == "" {
		writeError(w, http.StatusBadRequest, "empty_message", "message must not be empty")
		return
	}

	h.relay(w, r, sessionID, func(ctx context.Context) error {
		return h.turns.Send(ctx, sessionID, req.Message)
	})
}

// ContinueRequest is the request body for POST /api/chat/continue.
type ContinueRequest struct {
	SessionID string `json:"session_id"`
}

func (h *ChatHandler) resume(w http.ResponseWriter, r *http.Request) {
	var req ContinueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid request body")
		return
	}
	sessionID, err := uuid.Parse(req.SessionID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_session_id", "session_id must be a UUID")
		return
	}

	h.relay(w, r, sessionID, func(ctx context.Context) error {
		return h.turns.Continue(ctx, sessionID)
	})
}

// CancelRequest is the request body for POST /api/chat/cancel.
type CancelRequest struct {
	SessionID string `json:"session_id"`
}

func (h *ChatHandler) cancel(w http.ResponseWriter, r *http.Request) {
	var req CancelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid request body")
		return
	}
	sessionID, err := uuid.Parse(req.SessionID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_session_id", "session_id must be a UUID")
		return
	}

	canceled := h.turns.Cancel(sessionID)
	writeJSON(w, http.StatusOK, map[string]bool{"canceled": canceled})
}

// relay runs the turn in the background and streams the trailing
// assistant message's progress over SSE. The turn is bound to the request
// context, so a dropped connection cancels it like an explicit cancel.
//
// Fast failures (turn already in flight, not eligible, unknown session)
// resolve before the stream starts and come back as plain JSON errors.
func (h *ChatHandler) relay(w http.ResponseWriter, r *http.Request, sessionID uuid.UUID, run func(context.Context) error) {
	ctx := r.Context()

	updates, unsubscribe := h.store.Subscribe(sessionID)
	defer unsubscribe()

	errCh := make(chan error, 1)
	go func() { errCh <- run(ctx) }()

	// Wait for the first sign of life before committing to a stream.
	select {
	case err := <-errCh:
		if err != nil {
			h.writeTurnError(w, err)
			return
		}
		errCh = nil
	case <-updates:
	case <-ctx.Done():
		return
	}

	writer, err := sse.NewWriter(w)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "streaming_unsupported", err.Error())
		return
	}

	var last messageUpdate
	sentAny := false
	for {
		msg, lookupErr := h.store.LastByRole(sessionID, transcript.RoleAssistant)
		if lookupErr == nil {
			update := snapshotUpdate(msg)
			if msg.Complete {
				if err := writer.WriteEvent(ctx, "done", update); err != nil {
					h.logger.Debug("client went away during stream", "session_id", sessionID, "error", err)
				}
				h.drainTurn(errCh, sessionID)
				return
			}
			if !sentAny || changed(last, update) {
				if err := writer.WriteEvent(ctx, "update", update); err != nil {
					return
				}
				last = update
				sentAny = true
			}
		} else if errors.Is(lookupErr, transcript.ErrSessionNotFound) {
			_ = writer.WriteEvent(ctx, "error", ErrorResponse{Error: "session_deleted"})
			h.drainTurn(errCh, sessionID)
			return
		}

		select {
		case <-updates:
		case err := <-errCh:
			errCh = nil
			if err != nil {
				_ = writer.WriteEvent(ctx, "error", ErrorResponse{Error: "turn_failed", Message: err.Error()})
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// drainTurn waits for the background turn goroutine so its error is not
// lost, after the terminal event has already been sent.
func (h *ChatHandler) drainTurn(errCh chan error, sessionID uuid.UUID) {
	if errCh == nil {
		return
	}
	if err := <-errCh; err != nil {
		h.logger.Warn("turn finished with error after terminal event", "session_id", sessionID, "error", err)
	}
}

func (h *ChatHandler) writeTurnError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, chat.ErrTurnInFlight):
		writeError(w, http.StatusConflict, "turn_in_flight", "a response is already streaming for this session")
	case errors.Is(err, chat.ErrNotEligible):
		writeError(w, http.StatusConflict, "not_continuable", "the last response cannot be continued")
	case errors.Is(err, transcript.ErrSessionNotFound):
		writeError(w, http.StatusNotFound, "session_not_found", "unknown session")
	default:
		h.logger.Error("turn failed before streaming", "error", err)
		writeError(w, http.StatusBadGateway, "turn_failed", err.Error())
	}
}

func changed(a, b messageUpdate) bool {
	if a.MessageID != b.MessageID || a.Text != b.Text || len(a.Images) != len(b.Images) {
		return true
	}
	for i := range a.Images {
		if a.Images[i] != b.Images[i] {
			return true
		}
	}
	return false
}
