// Package chat owns the turn lifecycle: it appends the user message and
// the assistant placeholder, opens the provider stream, hands it to the
// stream reducer, and enforces the single-flight, cancellation and
// continuation rules on top of the transcript store.
package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/uchat-ai/uchat/internal/log"
	"github.com/uchat-ai/uchat/internal/provider"
	"github.com/uchat-ai/uchat/internal/search"
	"github.com/uchat-ai/uchat/internal/stream"
	"github.com/uchat-ai/uchat/internal/transcript"
)

// Sentinel errors for turn operations.
var (
	// ErrTurnInFlight mirrors the store invariant: one streaming turn
	// per session.
	ErrTurnInFlight = transcript.ErrTurnInFlight

	// ErrNotEligible indicates Continue was invoked while the trailing
	// assistant message is not a length-truncated completion. Callers
	// treating it as a no-op is correct; nothing was mutated.
	ErrNotEligible = errors.New("continuation not eligible")
)

// Streamer opens a completion stream. Implemented by provider.Client;
// defined here so tests can script streams.
type Streamer interface {
	OpenStream(ctx context.Context, req provider.Request) (io.ReadCloser, error)
}

// ImageSearcher returns ordered image references for a query.
// Implemented by search.Client.
type ImageSearcher interface {
	Images(ctx context.Context, query string) ([]transcript.ImageRef, error)
}

// Archiver persists a completed turn. Implemented by the postgres
// transcript archive; nil disables archiving.
type Archiver interface {
	ArchiveTurn(ctx context.Context, session transcript.Session, user, assistant transcript.Message) error
}

// Config contains all construction parameters for the Controller.
type Config struct {
	Store    *transcript.Store
	Provider Streamer
	Search   ImageSearcher // optional: nil disables image enrichment
	Archiver Archiver      // optional: nil disables archiving

	Model        string
	SystemPrompt string

	// TurnTimeout bounds one turn end to end. Zero disables it. An
	// expired timeout is treated exactly like user cancellation: the
	// partial output is kept and the message finishes as aborted.
	TurnTimeout time.Duration

	Logger log.Logger
}

func (cfg Config) validate() error {
	if cfg.Store == nil {
		return errors.New("transcript store is required")
	}
	if cfg.Provider == nil {
		return errors.New("provider is required")
	}
	if cfg.Model == "" {
		return errors.New("model is required")
	}
	return nil
}

// handle is one in-flight turn's cancellation handle.
type handle struct {
	cancel context.CancelFunc
}

// Controller runs turns. Safe for concurrent use across sessions; within
// one session the single-flight rule serializes turns.
type Controller struct {
	store    *transcript.Store
	provider Streamer
	search   ImageSearcher
	archiver Archiver

	model        string
	systemPrompt string
	turnTimeout  time.Duration

	mu       sync.Mutex
	inflight map[uuid.UUID]*handle

	logger log.Logger
}

// New creates a Controller.
func New(cfg Config) (*Controller, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid chat config: %w", err)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.NewNop()
	}
	return &Controller{
		store:        cfg.Store,
		provider:     cfg.Provider,
		search:       cfg.Search,
		archiver:     cfg.Archiver,
		model:        cfg.Model,
		systemPrompt: cfg.SystemPrompt,
		turnTimeout:  cfg.TurnTimeout,
		inflight:     make(map[uuid.UUID]*handle),
		logger:       logger,
	}, nil
}

// Send runs one fresh turn: append the user message, create the assistant
// placeholder, stream the response into it, and archive the completed
// turn. prompt is the fully pre-processed user text (attachments already
// folded in by the caller).
//
// Send blocks until the turn resolves. Starting a turn while one is in
// flight for the session returns ErrTurnInFlight.
func (c *Controller) Send(ctx context.Context, sessionID uuid.UUID, prompt string) error {
	if _, err := c.store.Append(sessionID, transcript.Message{
		Role:     transcript.RoleUser,
		Text:     prompt,
		Complete: true,
	}); err != nil {
		return fmt.Errorf("appending user message: %w", err)
	}
	if _, err := c.store.Append(sessionID, transcript.Message{
		Role: transcript.RoleAssistant,
	}); err != nil {
		return fmt.Errorf("appending assistant placeholder: %w", err)
	}

	c.enrichWithImages(ctx, sessionID, prompt)

	history, err := c.store.Messages(sessionID)
	if err != nil {
		return fmt.Errorf("loading history: %w", err)
	}
	req := buildFullHistory(c.systemPrompt, c.model, sessionID, history)

	return c.runTurn(ctx, sessionID, req, "")
}

// Continue resumes a length-truncated turn. It never creates a new
// message: the reducer stitches the next stream onto the truncated
// assistant record, prior text first. Invoking it when the trailing
// assistant message is not eligible returns ErrNotEligible without
// mutating anything.
func (c *Controller) Continue(ctx context.Context, sessionID uuid.UUID) error {
	req, priorText, err := c.reopenTruncated(sessionID)
	if err != nil {
		return err
	}
	return c.runTurn(ctx, sessionID, req, priorText)
}

// reopenTruncated checks continuation eligibility and reopens the
// truncated message as one step under the controller lock, so concurrent
// Continue calls cannot both claim the same message: the loser sees the
// reopened (incomplete) record and fails the eligibility check.
func (c *Controller) reopenTruncated(sessionID uuid.UUID) (provider.Request, string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	truncated, err := c.store.LastByRole(sessionID, transcript.RoleAssistant)
	if err != nil {
		if errors.Is(err, transcript.ErrNoMessage) {
			return provider.Request{}, "", ErrNotEligible
		}
		return provider.Request{}, "", fmt.Errorf("finding truncated message: %w", err)
	}
	if !truncated.Complete || truncated.FinishReason != transcript.FinishLength {
		return provider.Request{}, "", ErrNotEligible
	}

	lastUser, err := c.store.LastByRole(sessionID, transcript.RoleUser)
	if err != nil {
		return provider.Request{}, "", fmt.Errorf("finding last user message: %w", err)
	}

	priorText := truncated.Text

	// Reopening the message removes continuation eligibility for the
	// duration of the new stream and restores the one-incomplete-message
	// invariant while it runs.
	if err := c.store.MutateLast(sessionID, transcript.RoleAssistant, func(m *transcript.Message) {
		m.Complete = false
		m.FinishReason = transcript.FinishNone
	}); err != nil {
		return provider.Request{}, "", fmt.Errorf("reopening truncated message: %w", err)
	}

	req := buildContinuation(c.model, sessionID, lastUser.Text, priorText)
	return req, priorText, nil
}

// Eligible reports whether the session's trailing assistant message can be
// continued.
func (c *Controller) Eligible(sessionID uuid.UUID) bool {
	msg, err := c.store.LastByRole(sessionID, transcript.RoleAssistant)
	if err != nil {
		return false
	}
	return msg.Complete && msg.FinishReason == transcript.FinishLength
}

// Cancel aborts the session's in-flight turn, if any. It reports whether a
// turn was actually canceled. Cancellation is a normal outcome: the
// reducer keeps the partial output and finishes the message as aborted.
func (c *Controller) Cancel(sessionID uuid.UUID) bool {
	c.mu.Lock()
	h, ok := c.inflight[sessionID]
	if ok {
		delete(c.inflight, sessionID)
	}
	c.mu.Unlock()

	if !ok {
		return false
	}
	h.cancel()
	c.logger.Info("turn canceled", "session_id", sessionID)
	return true
}

// begin registers the turn's cancellation handle. A stale handle for the
// session is invalidated first so two sessions never share cancellation
// state and a session never has two live handles.
func (c *Controller) begin(ctx context.Context, sessionID uuid.UUID) (context.Context, context.CancelFunc) {
	var turnCtx context.Context
	var cancel context.CancelFunc
	if c.turnTimeout > 0 {
		turnCtx, cancel = context.WithTimeout(ctx, c.turnTimeout)
	} else {
		turnCtx, cancel = context.WithCancel(ctx)
	}

	c.mu.Lock()
	if prev, ok := c.inflight[sessionID]; ok {
		prev.cancel()
	}
	c.inflight[sessionID] = &handle{cancel: cancel}
	c.mu.Unlock()

	return turnCtx, cancel
}

// end removes the turn's handle if it is still the registered one.
func (c *Controller) end(sessionID uuid.UUID, cancel context.CancelFunc) {
	c.mu.Lock()
	delete(c.inflight, sessionID)
	c.mu.Unlock()
	cancel()
}

// runTurn opens the stream and reduces it into the trailing assistant
// message, then archives the completed turn.
func (c *Controller) runTurn(ctx context.Context, sessionID uuid.UUID, req provider.Request, priorText string) error {
	ctx, span := otel.Tracer("uchat/chat").Start(ctx, "chat.turn")
	span.SetAttributes(
		attribute.String("session.id", sessionID.String()),
		attribute.Bool("turn.continuation", priorText != ""),
	)
	defer span.End()

	turnCtx, cancel := c.begin(ctx, sessionID)
	defer c.end(sessionID, cancel)

	body, err := c.provider.OpenStream(turnCtx, req)
	if err != nil {
		c.failPlaceholder(sessionID, turnCtx)
		if turnCtx.Err() != nil {
			// Canceled before the stream opened; not a failure.
			return nil
		}
		span.SetStatus(codes.Error, "stream open failed")
		return fmt.Errorf("opening completion stream: %w", err)
	}
	defer func() { _ = body.Close() }()

	reducer := stream.NewReducer(c.store, sessionID, priorText, c.logger)
	if err := reducer.Run(turnCtx, body); err != nil {
		span.SetStatus(codes.Error, "stream consumption failed")
		return fmt.Errorf("consuming completion stream: %w", err)
	}

	c.archive(sessionID)
	return nil
}

// failPlaceholder finalizes the assistant placeholder when the stream
// never opened. Cancellation keeps the (empty) output as aborted; any
// other failure surfaces the transport error notice.
func (c *Controller) failPlaceholder(sessionID uuid.UUID, turnCtx context.Context) {
	canceled := turnCtx.Err() != nil
	if err := c.store.MutateLast(sessionID, transcript.RoleAssistant, func(m *transcript.Message) {
		if m.Complete {
			return
		}
		if canceled {
			m.FinishReason = transcript.FinishAborted
		} else {
			m.Text = stream.TransportErrorNotice
			m.FinishReason = transcript.FinishError
		}
		m.Complete = true
	}); err != nil {
		c.logger.Error("finalizing unopened turn", "session_id", sessionID, "error", err)
	}
}

// enrichWithImages runs the image-search collaborator when the prompt
// looks like an explicit image request, seeding the placeholder's image
// list. A provider images or final event replaces it.
func (c *Controller) enrichWithImages(ctx context.Context, sessionID uuid.UUID, prompt string) {
	if c.search == nil || !search.WantsImage(prompt) {
		return
	}
	images, err := c.search.Images(ctx, prompt)
	if err != nil {
		c.logger.Warn("image search degraded", "session_id", sessionID, "error", err)
		return
	}
	if len(images) == 0 {
		return
	}
	if err := c.store.MutateLast(sessionID, transcript.RoleAssistant, func(m *transcript.Message) {
		m.Images = images
	}); err != nil {
		c.logger.Error("attaching searched images", "session_id", sessionID, "error", err)
	}
}

// archive persists the completed turn, best effort.
func (c *Controller) archive(sessionID uuid.UUID) {
	if c.archiver == nil {
		return
	}
	sess, err := c.store.Session(sessionID)
	if err != nil {
		c.logger.Error("archiving turn: loading session", "error", err)
		return
	}
	user, err := c.store.LastByRole(sessionID, transcript.RoleUser)
	if err != nil {
		c.logger.Error("archiving turn: loading user message", "error", err)
		return
	}
	assistant, err := c.store.LastByRole(sessionID, transcript.RoleAssistant)
	if err != nil {
		c.logger.Error("archiving turn: loading assistant message", "error", err)
		return
	}

	archiveCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := c.archiver.ArchiveTurn(archiveCtx, *sess, *user, *assistant); err != nil {
		c.logger.Error("archiving turn", "session_id", sessionID, "error", err)
	}
}
