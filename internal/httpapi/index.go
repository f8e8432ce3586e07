package httpapi

import (
	"net/http"
	"strconv"

	"github.com/moabualruz/rice-search/internal/indexer"
)

// indexRequest is the ingest body. "files" is the wire name for
// documents.
type indexRequest struct {
	Files []indexer.Document `json:"files"`
	Force bool               `json:"force,omitempty"`
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	store := r.PathValue("name")

	var req indexRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error())
		return
	}
	if len(req.Files) == 0 {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "files must not be empty")
		return
	}

	result, err := s.app.Indexer.Index(r.Context(), store, req.Files, indexer.Options{
		Force:        req.Force,
		ConnectionID: r.Header.Get("X-Connection-ID"),
	})
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.app.Metrics.IndexedFiles.Add(float64(result.Indexed))
	s.app.Metrics.IndexedChunks.Add(float64(result.ChunksTotal))
	// Per-document failures surface inside the 200 body.
	writeJSON(w, http.StatusOK, result)
}

// deleteRequest removes documents by explicit paths or by prefix.
type deleteRequest struct {
	Paths      []string `json:"paths,omitempty"`
	PathPrefix string   `json:"path_prefix,omitempty"`
}

func (s *Server) handleIndexDelete(w http.ResponseWriter, r *http.Request) {
	store := r.PathValue("name")

	var req deleteRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error())
		return
	}

	var removed int
	var err error
	switch {
	case len(req.Paths) > 0:
		removed, err = s.app.Indexer.Delete(r.Context(), store, req.Paths)
	case req.PathPrefix != "":
		removed, err = s.app.Indexer.DeleteByPrefix(r.Context(), store, req.PathPrefix)
	default:
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "paths or path_prefix is required")
		return
	}
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"removed": removed})
}

type syncRequest struct {
	CurrentPaths []string `json:"current_paths"`
}

func (s *Server) handleIndexSync(w http.ResponseWriter, r *http.Request) {
	store := r.PathValue("name")

	var req syncRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error())
		return
	}

	removed, err := s.app.Indexer.Sync(r.Context(), store, req.CurrentPaths)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"removed": removed})
}

type reindexRequest struct {
	Version string `json:"version,omitempty"`
}

func (s *Server) handleReindex(w http.ResponseWriter, r *http.Request) {
	store := r.PathValue("name")

	var req reindexRequest
	if r.ContentLength > 0 {
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error())
			return
		}
	}

	result, err := s.app.Indexer.Reindex(r.Context(), store, indexer.Options{Version: req.Version})
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleIndexFiles(w http.ResponseWriter, r *http.Request) {
	store := r.PathValue("name")

	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	pageSize, _ := strconv.Atoi(r.URL.Query().Get("page_size"))
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 || pageSize > 1000 {
		pageSize = 50
	}

	// Existence check so unknown stores 404 instead of listing empty.
	if _, err := s.app.Registry.Get(store); err != nil {
		s.writeServiceError(w, err)
		return
	}

	files, total := s.app.Tracker.List(store, page, pageSize)
	writeJSON(w, http.StatusOK, map[string]any{
		"files":     files,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}
