package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/gorilla/mux"

	"synopsis/internal/domain"
	"synopsis/pkg/utils"
)

// Handler serves the read-only document inspection API
type Handler struct {
	documents domain.DocumentUseCase
}

// NewHandler creates a new HTTP handler
func NewHandler(documents domain.DocumentUseCase) *Handler {
	return &Handler{documents: documents}
}

// DocumentListResponse is the body of GET /api/documents
type DocumentListResponse struct {
	Documents []string `json:"documents"`
}

// PatchListResponse is the body of GET /api/documents/{name}/patches
type PatchListResponse struct {
	Name    string           `json:"name"`
	Version uint64           `json:"version"`
	Since   uint64           `json:"since"`
	Commits []*domain.Commit `json:"commits"`
}

// HealthResponse is the body of GET /healthz
type HealthResponse struct {
	Status string `json:"status"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warnw("failed to write response", "error", err)
	}
}

// documentName returns the unescaped {name} route variable
func documentName(r *http.Request) (string, error) {
	name, err := url.PathUnescape(mux.Vars(r)["name"])
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrInvalidName, err)
	}
	if err := domain.ValidateName(name); err != nil {
		return "", err
	}
	return name, nil
}

// loadDocument resolves the named document or records the matching error
func (h *Handler) loadDocument(r *http.Request) (*domain.Document, bool) {
	name, err := documentName(r)
	if err != nil {
		utils.SetError(r, err, http.StatusBadRequest)
		return nil, false
	}

	doc, err := h.documents.Snapshot(r.Context(), name)
	switch {
	case errors.Is(err, domain.ErrDocumentNotFound):
		utils.SetErrorWithMessage(r, err, http.StatusNotFound, fmt.Sprintf("document %q not found", name))
		return nil, false
	case err != nil:
		utils.SetErrorWithMessage(r, err, http.StatusInternalServerError, "failed to load document")
		return nil, false
	}
	return doc, true
}

// ListDocuments returns the names of all documents
func (h *Handler) ListDocuments(w http.ResponseWriter, r *http.Request) {
	names, err := h.documents.List(r.Context())
	if err != nil {
		utils.SetErrorWithMessage(r, err, http.StatusInternalServerError, "failed to list documents")
		return
	}
	if names == nil {
		names = []string{}
	}
	writeJSON(w, http.StatusOK, DocumentListResponse{Documents: names})
}

// GetDocument returns the current value and version of a document
func (h *Handler) GetDocument(w http.ResponseWriter, r *http.Request) {
	doc, ok := h.loadDocument(r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

// GetPatches returns the recorded commits of a document after ?since=N
func (h *Handler) GetPatches(w http.ResponseWriter, r *http.Request) {
	var since uint64
	if raw := r.URL.Query().Get("since"); raw != "" {
		v, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			utils.SetErrorWithMessage(r, err, http.StatusBadRequest, "since must be a non-negative integer")
			return
		}
		since = v
	}

	doc, ok := h.loadDocument(r)
	if !ok {
		return
	}

	commits, err := h.documents.History(doc.Name, since)
	if err != nil {
		utils.SetErrorWithMessage(r, err, http.StatusInternalServerError, "failed to load history")
		return
	}
	if commits == nil {
		commits = []*domain.Commit{}
	}

	writeJSON(w, http.StatusOK, PatchListResponse{
		Name:    doc.Name,
		Version: doc.Version,
		Since:   since,
		Commits: commits,
	})
}

// Health reports liveness
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}
