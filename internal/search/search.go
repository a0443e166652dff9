// Package search is the client for the image-search collaborator, plus the
// keyword heuristic that decides whether a prompt is an explicit image
// request. The heuristic is best-effort by design: it gates an optional
// enrichment, not a contract.
package search

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/uchat-ai/uchat/internal/log"
	"github.com/uchat-ai/uchat/internal/transcript"
)

// imageKeywords trigger the image-search enrichment when present in a
// prompt.
var imageKeywords = []string{"image", "diagram", "visual", "picture", "illustration"}

// WantsImage reports whether the prompt reads as an explicit image request.
func WantsImage(prompt string) bool {
	lower := strings.ToLower(prompt)
	for _, kw := range imageKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// ErrSearchUnavailable indicates the collaborator could not serve the
// query. Callers treat this as a degraded turn, not a failed one.
var ErrSearchUnavailable = errors.New("image search unavailable")

// Client calls the image-search collaborator.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     log.Logger
}

// New creates a search client. httpClient may be nil.
func New(baseURL, apiKey string, httpClient *http.Client, logger log.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	if logger == nil {
		logger = log.NewNop()
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: httpClient,
		logger:     logger,
	}
}

// Images returns ordered image references for the query.
func (c *Client) Images(ctx context.Context, query string) ([]transcript.ImageRef, error) {
	u := fmt.Sprintf("%s/search/images?q=%s", c.baseURL, url.QueryEscape(query))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("building search request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSearchUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrSearchUnavailable, resp.StatusCode)
	}

	var payload struct {
		Images []transcript.ImageRef `json:"images"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decoding search response: %w", err)
	}
	return payload.Images, nil
}
