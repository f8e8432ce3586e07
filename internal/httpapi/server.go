// Package httpapi serves the stable HTTP/JSON surface. Handlers are
// thin: validation and error mapping here, semantics in the service
// packages.
package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"runtime/debug"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/moabualruz/rice-search/internal/app"
	"github.com/moabualruz/rice-search/internal/wsingest"
	"github.com/moabualruz/rice-search/pkg/version"
)

// Server is the HTTP API server.
type Server struct {
	app    *app.App
	logger *slog.Logger
	ws     *wsingest.Handler
}

// NewServer creates the API server.
func NewServer(a *app.App, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		app:    a,
		logger: logger,
		ws:     wsingest.NewHandler(a, logger),
	}
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Search
	mux.HandleFunc("POST /v1/stores/{name}/search", s.handleSearch)
	mux.HandleFunc("POST /v1/stores/{name}/search/dense", s.handleSearchDense)
	mux.HandleFunc("POST /v1/stores/{name}/search/sparse", s.handleSearchSparse)

	// Index
	mux.HandleFunc("POST /v1/stores/{name}/index", s.handleIndex)
	mux.HandleFunc("DELETE /v1/stores/{name}/index", s.handleIndexDelete)
	mux.HandleFunc("POST /v1/stores/{name}/index/sync", s.handleIndexSync)
	mux.HandleFunc("POST /v1/stores/{name}/index/reindex", s.handleReindex)
	mux.HandleFunc("GET /v1/stores/{name}/index/files", s.handleIndexFiles)

	// Stores
	mux.HandleFunc("GET /v1/stores", s.handleStoreList)
	mux.HandleFunc("POST /v1/stores", s.handleStoreCreate)
	mux.HandleFunc("GET /v1/stores/{name}", s.handleStoreGet)
	mux.HandleFunc("DELETE /v1/stores/{name}", s.handleStoreDelete)
	mux.HandleFunc("GET /v1/stores/{name}/stats", s.handleStoreStats)

	// Versions
	mux.HandleFunc("POST /v1/stores/{name}/versions", s.handleVersionCreate)
	mux.HandleFunc("POST /v1/stores/{name}/versions/{version}/ready", s.handleVersionReady)
	mux.HandleFunc("POST /v1/stores/{name}/versions/{version}/promote", s.handleVersionPromote)
	mux.HandleFunc("DELETE /v1/stores/{name}/versions/{version}", s.handleVersionDelete)

	// ML pass-through
	mux.HandleFunc("POST /v1/ml/embed", s.handleMLEmbed)
	mux.HandleFunc("POST /v1/ml/sparse", s.handleMLSparse)
	mux.HandleFunc("POST /v1/ml/rerank", s.handleMLRerank)

	// Health and observability
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.HandleFunc("GET /readyz", s.handleReadyz)
	mux.HandleFunc("GET /v1/health", s.handleHealth)
	mux.HandleFunc("GET /v1/version", s.handleVersion)
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.app.PromRegistry, promhttp.HandlerOpts{}))
	mux.HandleFunc("GET /v1/observability/stats", s.handleObsStats)
	mux.HandleFunc("GET /v1/observability/query-stats", s.handleObsQueryStats)
	mux.HandleFunc("GET /v1/observability/recent-queries", s.handleObsRecent)
	mux.HandleFunc("GET /v1/observability/telemetry", s.handleObsTelemetry)

	// Streaming ingest
	mux.Handle("GET /v1/ingest/ws", s.ws)

	return s.recover(s.track(mux))
}

// track counts in-flight requests for the drain path. Health probes are
// exempt so readiness stays observable during drain.
func (s *Server) track(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/healthz", "/readyz", "/metrics":
			next.ServeHTTP(w, r)
			return
		}
		if s.app.Draining() {
			writeError(w, http.StatusServiceUnavailable, "SHUTTING_DOWN", "server is draining")
			return
		}
		done := s.app.TrackRequest()
		defer done()
		next.ServeHTTP(w, r)
	})
}

// recover converts handler panics into sanitized 500s.
func (s *Server) recover(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.app.Metrics.PanicsTotal.Inc()
				s.logger.Error("handler panic",
					slog.Any("panic", rec),
					slog.String("path", r.URL.Path),
					slog.String("stack", string(debug.Stack())))
				writeError(w, http.StatusInternalServerError, "INTERNAL", "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if !s.app.Ready(r.Context()) {
		writeError(w, http.StatusServiceUnavailable, "NOT_READY", "not ready")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.app.Health(r.Context()))
}

func (s *Server) handleVersion(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, version.GetInfo())
}

// decodeJSON decodes a request body, rejecting unknown fields.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
