package extract_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/uchat-ai/uchat/internal/extract"
	"github.com/uchat-ai/uchat/internal/log"
)

func TestExtract_RoutesByFileKind(t *testing.T) {
	t.Parallel()

	var paths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parsing multipart: %v", err)
		}
		_, _ = io.WriteString(w, `{"text":"extracted"}`)
	}))
	defer srv.Close()

	client := extract.New(srv.URL, nil, log.NewNop())

	for _, name := range []string{"notes.pdf", "memo.mp3"} {
		if _, err := client.Extract(context.Background(), extract.File{
			Name: name, Content: strings.NewReader("payload"),
		}); err != nil {
			t.Fatalf("Extract(%q) error = %v", name, err)
		}
	}

	want := []string{"/upload-file", "/transcribe-audio"}
	for i := range want {
		if paths[i] != want[i] {
			t.Errorf("request %d hit %q, want %q", i, paths[i], want[i])
		}
	}
}

func TestPreprocess_FoldsExtractedText(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"text":"quarterly numbers","image_url":"https://files/chart.png"}`)
	}))
	defer srv.Close()

	client := extract.New(srv.URL, nil, log.NewNop())
	prompt := client.Preprocess(context.Background(), "summarize this", []extract.File{
		{Name: "report.pdf", Content: strings.NewReader("...")},
	})

	if !strings.HasPrefix(prompt, "summarize this") {
		t.Errorf("prompt = %q, want user text first", prompt)
	}
	if !strings.Contains(prompt, "quarterly numbers") {
		t.Errorf("prompt = %q, want extracted text folded in", prompt)
	}
	if !strings.Contains(prompt, "https://files/chart.png") {
		t.Errorf("prompt = %q, want media URL folded in", prompt)
	}
}

func TestPreprocess_SingleFailureDoesNotBlockOthers(t *testing.T) {
	t.Parallel()

	var n int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		n++
		if n == 1 {
			http.Error(w, "unreadable", http.StatusUnprocessableEntity)
			return
		}
		_, _ = io.WriteString(w, `{"text":"second file text"}`)
	}))
	defer srv.Close()

	client := extract.New(srv.URL, nil, log.NewNop())
	prompt := client.Preprocess(context.Background(), "compare these", []extract.File{
		{Name: "broken.docx", Content: strings.NewReader("x")},
		{Name: "fine.txt", Content: strings.NewReader("y")},
	})

	if !strings.Contains(prompt, `"broken.docx" could not be processed`) {
		t.Errorf("prompt = %q, want placeholder for failed file", prompt)
	}
	if !strings.Contains(prompt, "second file text") {
		t.Errorf("prompt = %q, want surviving file's text", prompt)
	}
}

func TestPreprocess_NoFiles(t *testing.T) {
	t.Parallel()

	client := extract.New("http://unused", nil, log.NewNop())
	if got := client.Preprocess(context.Background(), "plain question", nil); got != "plain question" {
		t.Errorf("Preprocess() = %q, want prompt unchanged", got)
	}
}
