package stream

import (
	"context"
	"errors"
	"io"
	"strings"

	"github.com/google/uuid"

	"github.com/uchat-ai/uchat/internal/log"
	"github.com/uchat-ai/uchat/internal/transcript"
)

// TransportErrorNotice replaces the assistant text when the stream fails
// mid-flight for a reason other than user cancellation. It is a visible
// transcript entry: no silent drops, no automatic retry.
const TransportErrorNotice = "The response was interrupted by a network error. Please send your message again."

// Reducer folds one provider event stream into the trailing assistant
// message of a session.
//
// A fresh turn starts with an empty prior text; a continuation carries the
// truncated message's saved text, so every text write is prior + accumulated
// (or prior + final, final being authoritative). The reducer never touches
// any message other than the trailing assistant record, found by reverse
// search through the store.
type Reducer struct {
	store     *transcript.Store
	sessionID uuid.UUID
	prior     string
	acc       strings.Builder
	sawFinal  bool
	logger    log.Logger
}

// NewReducer creates a reducer for one turn. priorText is empty for fresh
// turns and the truncated assistant text for continuations.
func NewReducer(store *transcript.Store, sessionID uuid.UUID, priorText string, logger log.Logger) *Reducer {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Reducer{
		store:     store,
		sessionID: sessionID,
		prior:     priorText,
		logger:    logger,
	}
}

// Run consumes the stream until the transport closes, the context is
// canceled, or a transport error occurs. Events are applied in arrival
// order; malformed records are skipped and logged.
//
// Cancellation is a normal outcome: partial output is kept, the message is
// completed with finish reason aborted, and Run returns nil. A transport
// error replaces the text with TransportErrorNotice, completes the message
// with finish reason error, and is returned to the caller.
func (r *Reducer) Run(ctx context.Context, body io.Reader) error {
	sc := NewScanner(body)

	for {
		if ctx.Err() != nil {
			r.finalizeAborted()
			return nil
		}

		payload, err := sc.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				r.finalizeEOF()
				return nil
			}
			// A read torn down by cancellation is not a transport
			// failure.
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				r.finalizeAborted()
				return nil
			}
			r.finalizeTransportError()
			return err
		}

		ev, perr := Normalize([]byte(payload))
		if perr != nil {
			r.logger.Warn("skipping malformed stream record",
				"session_id", r.sessionID, "error", perr)
			continue
		}
		if err := r.Apply(ev); err != nil {
			return err
		}
	}
}

// Apply folds one event into the target message.
func (r *Reducer) Apply(ev Event) error {
	switch ev.Kind {
	case KindImages:
		// Ignored after final: the final event's list is authoritative.
		if r.sawFinal {
			return nil
		}
		return r.mutate(func(m *transcript.Message) {
			m.Images = ev.Images
		})

	case KindChunk:
		if r.sawFinal {
			return nil
		}
		r.acc.WriteString(ev.Text)
		text := r.prior + r.acc.String()
		return r.mutate(func(m *transcript.Message) {
			m.Text = text
		})

	case KindFinal:
		r.sawFinal = true
		return r.mutate(func(m *transcript.Message) {
			// Final is authoritative, not additive: any drift from
			// dropped chunks is discarded here.
			m.Text = r.prior + ev.Text
			if ev.HasImages {
				m.Images = ev.Images
			}
			m.Complete = true
			m.FinishReason = ev.FinishReason
			if ev.FinishReason == transcript.FinishStop || ev.FinishReason == transcript.FinishLength {
				m.ProviderMessageID = ev.ProviderMessageID
			}
		})

	default:
		return nil
	}
}

// SawFinal reports whether a final event has been applied.
func (r *Reducer) SawFinal() bool {
	return r.sawFinal
}

// finalizeEOF handles transport close. If the stream never delivered a
// final event the message is still left in a sane state: accumulated text
// and images are kept and the message completes with finish reason error.
func (r *Reducer) finalizeEOF() {
	if r.sawFinal {
		return
	}
	r.logger.Warn("stream ended without final event", "session_id", r.sessionID)
	if err := r.mutate(func(m *transcript.Message) {
		m.Complete = true
		m.FinishReason = transcript.FinishError
	}); err != nil {
		r.logger.Error("finalizing truncated stream", "error", err)
	}
}

// finalizeAborted completes the message after cancellation, keeping the
// partial text and images as they stand.
func (r *Reducer) finalizeAborted() {
	if r.sawFinal {
		return
	}
	if err := r.mutate(func(m *transcript.Message) {
		m.Complete = true
		m.FinishReason = transcript.FinishAborted
	}); err != nil {
		r.logger.Error("finalizing aborted stream", "error", err)
	}
}

// finalizeTransportError surfaces a mid-stream network failure in the
// transcript itself.
func (r *Reducer) finalizeTransportError() {
	if r.sawFinal {
		return
	}
	if err := r.mutate(func(m *transcript.Message) {
		m.Text = TransportErrorNotice
		m.Complete = true
		m.FinishReason = transcript.FinishError
	}); err != nil {
		r.logger.Error("finalizing failed stream", "error", err)
	}
}

func (r *Reducer) mutate(fn func(*transcript.Message)) error {
	return r.store.MutateLast(r.sessionID, transcript.RoleAssistant, fn)
}
