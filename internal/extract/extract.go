// Package extract is the client for the file-extraction endpoint and the
// pre-processor that folds extracted content into an outgoing prompt.
//
// Each attached file is submitted independently: audio goes to the
// transcription route, everything else to the generic extraction route. A
// single failed extraction degrades to a placeholder notice in the prompt
// and never blocks the other files or the turn.
package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/uchat-ai/uchat/internal/log"
)

// Extraction routes on the collaborator service.
const (
	genericPath   = "/upload-file"
	audioPath     = "/transcribe-audio"
	formFieldName = "file"
)

// audioExtensions routes a file to the transcription endpoint.
var audioExtensions = map[string]bool{
	".mp3": true, ".wav": true, ".m4a": true, ".ogg": true, ".webm": true,
}

// Result is what the extraction endpoint returns for one file.
type Result struct {
	Text     string `json:"text"`
	ImageURL string `json:"image_url,omitempty"`
}

// File is one user attachment headed for extraction.
type File struct {
	Name    string
	Content io.Reader
}

// Client calls the extraction collaborator.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     log.Logger
}

// New creates an extraction client. httpClient may be nil.
func New(baseURL string, httpClient *http.Client, logger log.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 2 * time.Minute}
	}
	if logger == nil {
		logger = log.NewNop()
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		logger:     logger,
	}
}

// Extract submits one file and returns the extracted text (and media URL,
// if the endpoint produced one).
func (c *Client) Extract(ctx context.Context, file File) (Result, error) {
	path := genericPath
	if audioExtensions[strings.ToLower(filepath.Ext(file.Name))] {
		path = audioPath
	}

	var buf strings.Builder
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile(formFieldName, file.Name)
	if err != nil {
		return Result{}, fmt.Errorf("creating form file: %w", err)
	}
	if _, err := io.Copy(part, file.Content); err != nil {
		return Result{}, fmt.Errorf("reading attachment %q: %w", file.Name, err)
	}
	if err := mw.Close(); err != nil {
		return Result{}, fmt.Errorf("finalizing form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, strings.NewReader(buf.String()))
	if err != nil {
		return Result{}, fmt.Errorf("building extraction request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("calling extraction endpoint: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return Result{}, fmt.Errorf("extraction endpoint returned %d for %q", resp.StatusCode, file.Name)
	}

	var result Result
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return Result{}, fmt.Errorf("decoding extraction response: %w", err)
	}
	return result, nil
}

// Preprocess folds every attachment's extracted content into the user's
// prompt. Failures degrade per file: the placeholder notice takes the
// place of that file's content and the remaining files still run.
func (c *Client) Preprocess(ctx context.Context, userText string, files []File) string {
	if len(files) == 0 {
		return userText
	}

	var b strings.Builder
	b.WriteString(userText)

	for _, file := range files {
		result, err := c.Extract(ctx, file)
		if err != nil {
			c.logger.Warn("file extraction failed", "file", file.Name, "error", err)
			fmt.Fprintf(&b, "\n\n[Attachment %q could not be processed.]", file.Name)
			continue
		}
		if result.Text != "" {
			fmt.Fprintf(&b, "\n\nContent of attached file %q:\n%s", file.Name, result.Text)
		}
		if result.ImageURL != "" {
			fmt.Fprintf(&b, "\n\nAttached media: %s", result.ImageURL)
		}
		if result.Text == "" && result.ImageURL == "" {
			fmt.Fprintf(&b, "\n\n[Attachment %q produced no extractable content.]", file.Name)
		}
	}
	return b.String()
}
