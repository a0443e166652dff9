package provider_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/uchat-ai/uchat/internal/log"
	"github.com/uchat-ai/uchat/internal/provider"
)

func TestOpenStream(t *testing.T) {
	t.Parallel()

	var gotReq provider.Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat" || r.Method != http.MethodPost {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			t.Errorf("Authorization = %q, want bearer token", got)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("decoding request: %v", err)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, "data: {\"chunk\":\"hi\"}\n")
	}))
	defer srv.Close()

	client, err := provider.New(provider.Config{
		BaseURL: srv.URL,
		APIKey:  "secret",
		Logger:  log.NewNop(),
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	body, err := client.OpenStream(context.Background(), provider.Request{
		SessionID: "s1",
		Model:     "gpt-4",
		Messages: []provider.ChatMessage{
			{Role: provider.RoleSystem, Content: "be helpful"},
			{Role: provider.RoleUser, Content: "hello"},
		},
	})
	if err != nil {
		t.Fatalf("OpenStream() error = %v", err)
	}
	defer body.Close()

	data, err := io.ReadAll(body)
	if err != nil {
		t.Fatalf("reading stream: %v", err)
	}
	if !strings.Contains(string(data), `{"chunk":"hi"}`) {
		t.Errorf("stream = %q, want raw event bytes passed through", data)
	}

	if gotReq.Model != "gpt-4" || gotReq.SessionID != "s1" || len(gotReq.Messages) != 2 {
		t.Errorf("provider saw request %+v", gotReq)
	}
}

func TestOpenStream_NonOKStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "model overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client, err := provider.New(provider.Config{BaseURL: srv.URL, Logger: log.NewNop()})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	_, err = client.OpenStream(context.Background(), provider.Request{Model: "m"})
	if !errors.Is(err, provider.ErrProviderStatus) {
		t.Fatalf("error = %v, want ErrProviderStatus", err)
	}
	if !strings.Contains(err.Error(), "model overloaded") {
		t.Errorf("error %q missing provider detail", err)
	}
}

func TestOpenStream_ContextCanceled(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	client, err := provider.New(provider.Config{BaseURL: srv.URL, Logger: log.NewNop()})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := client.OpenStream(ctx, provider.Request{Model: "m"}); err == nil {
		t.Error("OpenStream() succeeded with canceled context")
	}
}

func TestNew_RequiresBaseURL(t *testing.T) {
	t.Parallel()

	if _, err := provider.New(provider.Config{}); err == nil {
		t.Error("New() succeeded without base URL")
	}
}
