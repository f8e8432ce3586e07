package httpapi

import (
	"net/http"

	"github.com/moabualruz/rice-search/internal/bus"
	"github.com/moabualruz/rice-search/internal/registry"
)

type createStoreRequest struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

func (s *Server) handleStoreList(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"stores": s.app.Registry.List()})
}

func (s *Server) handleStoreCreate(w http.ResponseWriter, r *http.Request) {
	var req createStoreRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error())
		return
	}

	st, err := s.app.Registry.Create(req.Name, req.Description)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	// New stores get a first active version immediately so ingest works
	// without a separate version workflow.
	vcfg := registry.DefaultVersionConfig()
	vcfg.EmbeddingModel = s.app.Gateway.EmbedModelID()
	vcfg.EmbeddingDim = s.app.Gateway.Dimensions()
	v, err := s.app.Registry.CreateVersion(req.Name, vcfg)
	if err == nil {
		if err := s.app.Registry.MarkReady(req.Name, v.ID); err == nil {
			_ = s.app.Registry.Promote(req.Name, v.ID)
		}
	}

	st, _ = s.app.Registry.Get(req.Name)
	writeJSON(w, http.StatusCreated, st)
}

func (s *Server) handleStoreGet(w http.ResponseWriter, r *http.Request) {
	st, err := s.app.Registry.Get(r.PathValue("name"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleStoreDelete(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	st, err := s.app.Registry.Get(name)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	// Drop engine collections for every version, then metadata and
	// tracker state.
	for _, v := range st.Versions {
		if res, err := s.app.Registry.Resolve(name, v.ID); err == nil {
			_ = s.app.Engine.DropCollection(r.Context(), res.DenseName)
		}
	}
	if err := s.app.Registry.Delete(name, true); err != nil {
		s.writeServiceError(w, err)
		return
	}
	_ = s.app.Tracker.DeleteStore(name)

	writeJSON(w, http.StatusOK, map[string]string{"deleted": name})
}

func (s *Server) handleStoreStats(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	st, err := s.app.Registry.Get(name)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	files, chunks, err := s.app.Indexer.Stats(r.Context(), name)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	activeID := ""
	if v := st.Active(); v != nil {
		activeID = v.ID
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"store":          name,
		"active_version": activeID,
		"versions":       len(st.Versions),
		"files":          files,
		"chunks":         chunks,
		"query_stats":    s.app.Collector.Stats(name),
	})
}

type createVersionRequest struct {
	Config registry.VersionConfig `json:"config"`
}

func (s *Server) handleVersionCreate(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	var req createVersionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error())
		return
	}
	if req.Config.EmbeddingModel == "" {
		req.Config.EmbeddingModel = s.app.Gateway.EmbedModelID()
		req.Config.EmbeddingDim = s.app.Gateway.Dimensions()
	}

	v, err := s.app.Registry.CreateVersion(name, req.Config)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, v)
}

func (s *Server) handleVersionReady(w http.ResponseWriter, r *http.Request) {
	if err := s.app.Registry.MarkReady(r.PathValue("name"), r.PathValue("version")); err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) handleVersionPromote(w http.ResponseWriter, r *http.Request) {
	name, versionID := r.PathValue("name"), r.PathValue("version")
	if err := s.app.Registry.Promote(name, versionID); err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.app.Bus.Publish(bus.TopicVersionPromoted, map[string]string{
		"store":   name,
		"version": versionID,
	})
	writeJSON(w, http.StatusOK, map[string]string{"status": "active"})
}

func (s *Server) handleVersionDelete(w http.ResponseWriter, r *http.Request) {
	name, versionID := r.PathValue("name"), r.PathValue("version")

	res, resolveErr := s.app.Registry.Resolve(name, versionID)
	if err := s.app.Registry.DeleteVersion(name, versionID); err != nil {
		s.writeServiceError(w, err)
		return
	}
	if resolveErr == nil {
		_ = s.app.Engine.DropCollection(r.Context(), res.DenseName)
	}
	writeJSON(w, http.StatusOK, map[string]string{"deleted": versionID})
}
