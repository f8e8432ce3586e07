package httpapi

import (
	"net/http"
)

// ML pass-through endpoints: thin adapters over the gateway for
// operational checks and client-side experimentation.

type mlTextsRequest struct {
	Texts []string `json:"texts"`
}

func (s *Server) handleMLEmbed(w http.ResponseWriter, r *http.Request) {
	var req mlTextsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error())
		return
	}
	if len(req.Texts) == 0 || len(req.Texts) > 256 {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "texts must contain 1-256 entries")
		return
	}

	vectors, err := s.app.Gateway.Embed(r.Context(), req.Texts)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"model":   s.app.Gateway.EmbedModelID(),
		"vectors": vectors,
	})
}

func (s *Server) handleMLSparse(w http.ResponseWriter, r *http.Request) {
	var req mlTextsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error())
		return
	}
	if len(req.Texts) == 0 || len(req.Texts) > 256 {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "texts must contain 1-256 entries")
		return
	}

	vectors, err := s.app.Gateway.SparseEncode(r.Context(), req.Texts)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"vectors": vectors})
}

type mlRerankRequest struct {
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
	TopK      int      `json:"top_k,omitempty"`
}

func (s *Server) handleMLRerank(w http.ResponseWriter, r *http.Request) {
	var req mlRerankRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error())
		return
	}
	if req.Query == "" || len(req.Documents) == 0 {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "query and documents are required")
		return
	}

	scores, err := s.app.Gateway.Rerank(r.Context(), "", req.Query, req.Documents, req.TopK)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": scores})
}
