package httpapi

import (
	"net/http"
	"strconv"
)

func (s *Server) handleObsStats(w http.ResponseWriter, r *http.Request) {
	hits, misses := s.app.Gateway.CacheStats()
	writeJSON(w, http.StatusOK, map[string]any{
		"stores":       s.app.Collector.AllStats(),
		"cache_hits":   hits,
		"cache_misses": misses,
		"in_flight":    s.app.InFlight(),
		"ml":           s.app.Gateway.Health(r.Context()),
	})
}

func (s *Server) handleObsQueryStats(w http.ResponseWriter, r *http.Request) {
	store := r.URL.Query().Get("store")
	if store == "" {
		writeJSON(w, http.StatusOK, s.app.Collector.AllStats())
		return
	}
	writeJSON(w, http.StatusOK, s.app.Collector.Stats(store))
}

func (s *Server) handleObsRecent(w http.ResponseWriter, r *http.Request) {
	n, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if n <= 0 || n > 500 {
		n = 50
	}
	writeJSON(w, http.StatusOK, map[string]any{"queries": s.app.Collector.Recent(n)})
}

func (s *Server) handleObsTelemetry(w http.ResponseWriter, r *http.Request) {
	n, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if n <= 0 || n > 1000 {
		n = 100
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"records": s.app.Collector.Recent(n),
		"stats":   s.app.Collector.AllStats(),
	})
}
