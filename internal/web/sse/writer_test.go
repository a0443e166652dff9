package sse_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/uchat-ai/uchat/internal/web/sse"
)

func TestNewWriter(t *testing.T) {
	t.Parallel()

	w := httptest.NewRecorder()
	sseWriter, err := sse.NewWriter(w)
	if err != nil {
		t.Fatalf("NewWriter failed: %v", err)
	}
	if sseWriter == nil {
		t.Fatal("writer is nil")
	}

	headers := w.Header()
	if got := headers.Get("Content-Type"); got != "text/event-stream" {
		t.Errorf("Content-Type = %q, want text/event-stream", got)
	}
	if got := headers.Get("Cache-Control"); got != "no-cache" {
		t.Errorf("Cache-Control = %q, want no-cache", got)
	}
	if got := headers.Get("Connection"); got != "keep-alive" {
		t.Errorf("Connection = %q, want keep-alive", got)
	}
}

// noFlushWriter is a ResponseWriter that does NOT implement http.Flusher.
type noFlushWriter struct {
	header http.Header
}

func (w *noFlushWriter) Header() http.Header {
	if w.header == nil {
		w.header = make(http.Header)
	}
	return w.header
}

func (*noFlushWriter) Write([]byte) (int, error) { return 0, nil }

func (*noFlushWriter) WriteHeader(int) {}

func TestNewWriter_NoFlusher(t *testing.T) {
	t.Parallel()

	if _, err := sse.NewWriter(&noFlushWriter{}); err == nil {
		t.Error("expected error for non-Flusher ResponseWriter")
	}
}

func TestWriter_WriteEvent(t *testing.T) {
	t.Parallel()

	w := httptest.NewRecorder()
	sseWriter, err := sse.NewWriter(w)
	if err != nil {
		t.Fatalf("NewWriter failed: %v", err)
	}

	payload := map[string]string{"text": "hello"}
	if err := sseWriter.WriteEvent(context.Background(), "chunk", payload); err != nil {
		t.Fatalf("WriteEvent failed: %v", err)
	}

	body := w.Body.String()
	if !strings.Contains(body, "event: chunk\n") {
		t.Errorf("missing event line in %q", body)
	}
	if !strings.Contains(body, `data: {"text":"hello"}`+"\n") {
		t.Errorf("missing data line in %q", body)
	}
	if !strings.HasSuffix(body, "\n\n") {
		t.Errorf("missing terminating blank line in %q", body)
	}
}

func TestWriter_WriteEvent_CanceledContext(t *testing.T) {
	t.Parallel()

	w := httptest.NewRecorder()
	sseWriter, err := sse.NewWriter(w)
	if err != nil {
		t.Fatalf("NewWriter failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := sseWriter.WriteEvent(ctx, "chunk", "x"); err == nil {
		t.Error("expected error for canceled context")
	}
	if w.Body.Len() != 0 {
		t.Errorf("body written despite canceled context: %q", w.Body.String())
	}
}
