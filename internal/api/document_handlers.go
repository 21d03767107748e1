package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/samber/lo"

	"preik/internal/parser"
)

const uploadField = "file"

// handleUpload ingests a multipart document upload. The file name becomes
// the source name, so uploading the same file again replaces it.
func (h *Handler) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.MaxUploadBytes)
	if err := r.ParseMultipartForm(h.MaxUploadBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("file is larger than %d bytes", h.MaxUploadBytes))
			return
		}
		writeError(w, http.StatusBadRequest, "Invalid multipart form")
		return
	}
	defer r.MultipartForm.RemoveAll()

	storeID, err := storeFor(r, r.FormValue("store_id"))
	if err != nil {
		respondError(w, r, err)
		return
	}

	file, header, err := r.FormFile(uploadField)
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing file field")
		return
	}
	defer file.Close()

	name := filepath.Base(filepath.Clean("/" + header.Filename))
	ext := strings.ToLower(filepath.Ext(name))
	if !lo.Contains(parser.SupportedExtensions, ext) {
		respondError(w, r, fmt.Errorf("%w: %q", parser.ErrUnsupportedFormat, ext))
		return
	}

	dir, err := os.MkdirTemp("", "preik-upload-")
	if err != nil {
		respondError(w, r, err)
		return
	}
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, name)
	if err := saveUpload(path, file); err != nil {
		respondError(w, r, err)
		return
	}

	res, err := h.Ingest.IngestFile(r.Context(), storeID, path)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeData(w, http.StatusCreated, res)
}

func saveUpload(path string, src io.Reader) error {
	dst, err := os.Create(path)
	if err != nil {
		return err
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return err
	}
	return dst.Close()
}

type TextRequest struct {
	StoreID string `json:"store_id,omitempty"`
	Source  string `json:"source"`
	Text    string `json:"text"`
}

func (h *Handler) handleText(w http.ResponseWriter, r *http.Request) {
	var req TextRequest
	if err := decodeJSONBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	storeID, err := storeFor(r, req.StoreID)
	if err != nil {
		respondError(w, r, err)
		return
	}
	res, err := h.Ingest.IngestText(r.Context(), storeID, req.Source, req.Text)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeData(w, http.StatusCreated, res)
}

func (h *Handler) handleDeleteSource(w http.ResponseWriter, r *http.Request) {
	storeID, err := storeFor(r, r.URL.Query().Get("store_id"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	source := strings.TrimSpace(r.URL.Query().Get("source"))
	if source == "" {
		writeError(w, http.StatusBadRequest, "source is required")
		return
	}
	n, err := h.Documents.DeleteSource(r.Context(), storeID, source)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, map[string]any{"source": source, "deleted": n})
}

func (h *Handler) handleDocumentStats(w http.ResponseWriter, r *http.Request) {
	storeID, err := storeFor(r, r.URL.Query().Get("store_id"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	n, err := h.Documents.CountChunks(r.Context(), storeID)
	if err != nil {
		respondError(w, r, err)
		return
	}
	stats := map[string]any{"store_id": storeID, "chunks": n}
	if lister, ok := h.Documents.(SourceLister); ok {
		sources, err := lister.ListSources(r.Context(), storeID)
		if err != nil {
			respondError(w, r, err)
			return
		}
		stats["sources"] = sources
	}
	writeData(w, http.StatusOK, stats)
}
