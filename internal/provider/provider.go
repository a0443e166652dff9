// Package provider is the HTTP client for the completion provider: it
// opens the event stream that the stream reducer consumes. The provider
// contract is the raw SSE byte framing; this package deliberately returns
// the response body unparsed.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/uchat-ai/uchat/internal/log"
)

// Default client settings.
const (
	// DefaultRequestsPerSecond is the proactive rate limit applied to
	// provider calls when none is configured.
	DefaultRequestsPerSecond = 2

	// DefaultBurst allows short bursts above the sustained rate.
	DefaultBurst = 4

	// errorBodyLimit caps how much of a failed response is read for the
	// error message.
	errorBodyLimit = 4096
)

// Sentinel errors.
var (
	// ErrProviderStatus indicates the provider rejected the request
	// before any stream was opened.
	ErrProviderStatus = errors.New("provider returned non-OK status")
)

// Role constants for outbound messages.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatMessage is one {role, content} pair of the outbound request.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is the payload initiating a turn: the message list (full history
// for fresh turns, reduced context for continuations), the session
// identifier and a model selector.
type Request struct {
	SessionID string        `json:"session_id"`
	Model     string        `json:"model"`
	Messages  []ChatMessage `json:"messages"`
}

// Config contains client construction parameters.
type Config struct {
	BaseURL string
	APIKey  string

	// RequestsPerSecond and Burst tune the proactive rate limiter.
	// Zero values use the defaults.
	RequestsPerSecond float64
	Burst             int

	// HTTPClient overrides the default client (tests). The default has
	// no overall timeout: streams are long-lived and bounded by context.
	HTTPClient *http.Client

	Logger log.Logger
}

// Client calls the completion provider. Safe for concurrent use.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     log.Logger
}

// New creates a provider client.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("provider base URL is required")
	}
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = DefaultRequestsPerSecond
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = DefaultBurst
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{
			Transport: &http.Transport{
				ResponseHeaderTimeout: 30 * time.Second,
			},
		}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.NewNop()
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		httpClient: httpClient,
		limiter:    rate.NewLimiter(rate.Limit(rps), burst),
		logger:     logger,
	}, nil
}

// OpenStream issues the chat request and returns the raw event stream.
// The caller owns the returned body and must close it; canceling ctx tears
// the stream down.
func (c *Client) OpenStream(ctx context.Context, req Request) (io.ReadCloser, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("waiting for rate limiter: %w", err)
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encoding chat request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building chat request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	c.logger.Debug("opening completion stream",
		"session_id", req.SessionID, "model", req.Model, "messages", len(req.Messages))

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("calling completion provider: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyLimit))
		_ = resp.Body.Close()
		return nil, fmt.Errorf("%w: %d: %s", ErrProviderStatus, resp.StatusCode, strings.TrimSpace(string(detail)))
	}
	return resp.Body, nil
}
