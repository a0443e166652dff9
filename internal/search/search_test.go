package search_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/uchat-ai/uchat/internal/log"
	"github.com/uchat-ai/uchat/internal/search"
)

func TestWantsImage(t *testing.T) {
	t.Parallel()

	tests := []struct {
		prompt string
		want   bool
	}{
		{"show me a diagram of TCP handshake", true},
		{"generate an IMAGE of a cat", true},
		{"a visual explanation please", true},
		{"draw me a picture of the solar system", true},
		{"explain TCP handshake", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := search.WantsImage(tt.prompt); got != tt.want {
			t.Errorf("WantsImage(%q) = %v, want %v", tt.prompt, got, tt.want)
		}
	}
}

func TestImages(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("q"); got != "tcp handshake" {
			t.Errorf("query = %q, want %q", got, "tcp handshake")
		}
		if got := r.Header.Get("X-API-Key"); got != "k" {
			t.Errorf("api key header = %q", got)
		}
		_, _ = io.WriteString(w, `{"images":["https://img/1.png",{"title":"Handshake","image":"https://img/2.png"}]}`)
	}))
	defer srv.Close()

	client := search.New(srv.URL, "k", nil, log.NewNop())
	images, err := client.Images(context.Background(), "tcp handshake")
	if err != nil {
		t.Fatalf("Images() error = %v", err)
	}

	if len(images) != 2 {
		t.Fatalf("len(images) = %d, want 2", len(images))
	}
	if images[0].URL != "https://img/1.png" || images[1].Title != "Handshake" {
		t.Errorf("images = %+v", images)
	}
}

func TestImages_Unavailable(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	client := search.New(srv.URL, "", nil, log.NewNop())
	_, err := client.Images(context.Background(), "anything")
	if !errors.Is(err, search.ErrSearchUnavailable) {
		t.Errorf("error = %v, want ErrSearchUnavailable", err)
	}
}
