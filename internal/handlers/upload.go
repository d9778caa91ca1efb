package handlers

import (
	"mime"
	"net/http"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/pliu/murmur/internal/blob"
)

type UploadResponse struct {
	URL      string `json:"url"`
	Type     string `json:"type"`
	Filename string `json:"filename"`
}

type UploadHandler struct {
	Blobs    *blob.Store
	MaxBytes int64
	Log      zerolog.Logger
}

// Upload stores the multipart field "media" and returns its URL. The URL
// is then sent as media_url on a message.
func (h *UploadHandler) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.MaxBytes)
	if err := r.ParseMultipartForm(h.MaxBytes); err != nil {
		http.Error(w, "Upload too large or malformed", http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("media")
	if err != nil {
		http.Error(w, "No file uploaded", http.StatusBadRequest)
		return
	}
	defer file.Close()

	url, err := h.Blobs.Save(file, header.Filename)
	if err != nil {
		h.Log.Error().Err(err).Msg("failed to store upload")
		http.Error(w, "Error uploading file", http.StatusInternalServerError)
		return
	}

	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		contentType = mime.TypeByExtension(filepath.Ext(header.Filename))
	}
	writeJSON(w, http.StatusOK, UploadResponse{URL: url, Type: contentType, Filename: header.Filename})
}
