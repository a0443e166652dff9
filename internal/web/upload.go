package web

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/uchat-ai/uchat/internal/extract"
	"github.com/uchat-ai/uchat/internal/log"
)

// Upload limits.
const (
	MaxUploadBytes  = 32 << 20 // whole multipart form
	MaxUploadFiles  = 8
	uploadFieldName = "files"
)

// Extractor pre-processes uploaded attachments into prompt text.
// Implemented by extract.Client.
type Extractor interface {
	Preprocess(ctx context.Context, userText string, files []extract.File) string
}

// UploadHandler folds uploaded attachments into a prompt the chat
// endpoint can send as-is.
type UploadHandler struct {
	extractor Extractor
	logger    log.Logger
}

// NewUploadHandler creates an upload handler. extractor may be nil when
// no extraction service is configured; uploads are then rejected.
func NewUploadHandler(extractor Extractor, logger log.Logger) *UploadHandler {
	return &UploadHandler{extractor: extractor, logger: logger}
}

// RegisterRoutes registers the upload route on the given mux.
func (h *UploadHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/upload", h.upload)
}

// UploadResponse is the response body for POST /api/upload.
type UploadResponse struct {
	Prompt string `json:"prompt"`
}

func (h *UploadHandler) upload(w http.ResponseWriter, r *http.Request) {
	if h.extractor == nil {
		writeError(w, http.StatusServiceUnavailable, "uploads_disabled", "no extraction service configured")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, MaxUploadBytes)
	if err := r.ParseMultipartForm(MaxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_upload", "invalid multipart form")
		return
	}

	message := r.FormValue("message")
	headers := r.MultipartForm.File[uploadFieldName]
	if len(headers) > MaxUploadFiles {
		writeError(w, http.StatusBadRequest, "too_many_files",
			fmt.Sprintf("at most %d files per upload", MaxUploadFiles))
		return
	}

	files := make([]extract.File, 0, len(headers))
	for _, fh := range headers {
		f, err := fh.Open()
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_upload", "unreadable file part")
			return
		}
		content, err := io.ReadAll(f)
		_ = f.Close()
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_upload", "unreadable file part")
			return
		}
		files = append(files, extract.File{Name: fh.Filename, Content: bytes.NewReader(content)})
	}

	prompt := h.extractor.Preprocess(r.Context(), message, files)
	writeJSON(w, http.StatusOK, UploadResponse{Prompt: prompt})
}
