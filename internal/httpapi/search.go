package httpapi

import (
	"net/http"

	"github.com/moabualruz/rice-search/internal/search"
	"github.com/moabualruz/rice-search/internal/vecengine"
)

// searchRequest is the /search request body.
type searchRequest struct {
	Query           string        `json:"query"`
	TopK            int           `json:"top_k,omitempty"`
	Filter          *searchFilter `json:"filter,omitempty"`
	EnableReranking *bool         `json:"enable_reranking,omitempty"`
	RerankTopK      int           `json:"rerank_top_k,omitempty"`
	IncludeContent  bool          `json:"include_content,omitempty"`
	SparseWeight    *float64      `json:"sparse_weight,omitempty"`
	DenseWeight     *float64      `json:"dense_weight,omitempty"`
	GroupByFile     bool          `json:"group_by_file,omitempty"`
	MaxPerFile      int           `json:"max_per_file,omitempty"`
	Explain         bool          `json:"explain,omitempty"`
	Version         string        `json:"version,omitempty"`
}

type searchFilter struct {
	PathPrefix   string   `json:"path_prefix,omitempty"`
	Languages    []string `json:"languages,omitempty"`
	ConnectionID string   `json:"connection_id,omitempty"`
}

// connectionScope resolves the effective connection scope: an explicit
// filter value wins; "*" and "all" opt out of the header default.
func connectionScope(r *http.Request, filter *searchFilter) string {
	if filter != nil && filter.ConnectionID != "" {
		if filter.ConnectionID == "*" || filter.ConnectionID == "all" {
			return ""
		}
		return filter.ConnectionID
	}
	return r.Header.Get("X-Connection-ID")
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	s.serveSearch(w, r, "")
}

func (s *Server) handleSearchDense(w http.ResponseWriter, r *http.Request) {
	s.serveSearch(w, r, "dense")
}

func (s *Server) handleSearchSparse(w http.ResponseWriter, r *http.Request) {
	s.serveSearch(w, r, "sparse")
}

func (s *Server) serveSearch(w http.ResponseWriter, r *http.Request, mode string) {
	store := r.PathValue("name")

	var req searchRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error())
		return
	}

	opts := search.Options{
		TopK:            req.TopK,
		EnableReranking: req.EnableReranking,
		RerankTopK:      req.RerankTopK,
		IncludeContent:  req.IncludeContent,
		SparseWeight:    req.SparseWeight,
		DenseWeight:     req.DenseWeight,
		GroupByFile:     req.GroupByFile,
		MaxPerFile:      req.MaxPerFile,
		Explain:         req.Explain,
		Version:         req.Version,
		Mode:            mode,
	}
	if req.Filter != nil {
		opts.Filter = vecengine.Filter{
			PathPrefix: req.Filter.PathPrefix,
			Languages:  req.Filter.Languages,
		}
	}
	if conn := connectionScope(r, req.Filter); conn != "" {
		opts.Filter.ConnectionID = conn
		opts.ConnectionID = conn
	}

	resp, err := s.app.Search.Search(r.Context(), store, req.Query, opts)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}
