// Package web exposes the chat gateway over HTTP.
//
// Endpoints:
//
//	POST   /api/chat                    → run a turn, relay SSE to the browser
//	POST   /api/chat/continue           → continuation turn, same relay
//	POST   /api/chat/cancel             → cancel the in-flight turn
//	GET    /api/sessions                → list sessions
//	POST   /api/sessions                → create a session
//	GET    /api/sessions/{id}/messages  → full transcript
//	DELETE /api/sessions/{id}           → delete a session
//	POST   /api/upload                  → attachment extraction
//	POST   /api/feedback/message        → like/dislike a response
//	POST   /api/feedback/contact        → contact form
//	GET    /health, GET /ready          → probes
//
// File structure mirrors the endpoints: server.go (lifecycle),
// middleware.go, response.go, chat.go, session.go, upload.go,
// feedback.go, health.go.
package web

import (
	"context"
	"net/http"
	"time"

	"github.com/uchat-ai/uchat/internal/log"
	"github.com/uchat-ai/uchat/internal/transcript"
)

const (
	// DefaultAddr is the default address for the HTTP server.
	DefaultAddr = "127.0.0.1:8080"

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	ShutdownTimeout = 10 * time.Second

	// ReadHeaderTimeout is the timeout for reading request headers.
	ReadHeaderTimeout = 10 * time.Second

	// ReadTimeout is the maximum duration for reading the entire request.
	ReadTimeout = 30 * time.Second

	// IdleTimeout is the maximum time to wait for the next request on
	// keep-alive connections.
	IdleTimeout = 120 * time.Second
)

// Config carries the collaborators the server wires into its handlers.
type Config struct {
	Store     *transcript.Store
	Turns     TurnRunner
	Extractor Extractor // optional
	Feedback  FeedbackStore
	Readiness ReadinessChecker
	Logger    log.Logger
}

// Server is the chat gateway's HTTP server.
type Server struct {
	mux    *http.ServeMux
	logger log.Logger
}

// NewServer creates an HTTP server with all routes registered.
func NewServer(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = log.NewNop()
	}

	mux := http.NewServeMux()
	s := &Server{mux: mux, logger: logger}

	NewChatHandler(cfg.Store, cfg.Turns, logger).RegisterRoutes(mux)
	NewSessionHandler(cfg.Store, logger).RegisterRoutes(mux)
	NewUploadHandler(cfg.Extractor, logger).RegisterRoutes(mux)
	NewFeedbackHandler(cfg.Feedback, logger).RegisterRoutes(mux)
	NewHealthHandler(cfg.Readiness, logger).RegisterRoutes(mux)

	return s
}

// Handler returns the HTTP handler with middleware applied.
// Middleware order: recovery → logging → handler.
func (s *Server) Handler() http.Handler {
	return chain(s.mux, recoveryMiddleware(s.logger), loggingMiddleware(s.logger))
}

// Run starts the HTTP server and blocks until the context is canceled,
// then shuts down gracefully.
//
// WriteTimeout is deliberately left unset: /api/chat holds the response
// open for the lifetime of a streaming turn.
func (s *Server) Run(ctx context.Context, addr string) error {
	if addr == "" {
		addr = DefaultAddr
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: ReadHeaderTimeout,
		ReadTimeout:       ReadTimeout,
		IdleTimeout:       IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting HTTP server", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutting down HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}
