package server

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/antfarm-network/antfarm/internal/lifecycle"
	"github.com/antfarm-network/antfarm/internal/storage"
)

type terrainWithStats struct {
	storage.Terrain
	Stats *storage.TerrainStats `json:"stats"`
}

// handleListTerrains handles GET /api/v1/terrains. Only approved terrains are listed.
func (s *Server) handleListTerrains(w http.ResponseWriter, r *http.Request) {
	terrains, err := s.db.ListTerrains(r.Context(), storage.TerrainApproved)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	out := make([]terrainWithStats, 0, len(terrains))
	for _, t := range terrains {
		stats, err := s.db.GetTerrainStats(r.Context(), t.ID)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		out = append(out, terrainWithStats{Terrain: t, Stats: stats})
	}
	writeJSON(w, http.StatusOK, map[string]any{"terrains": out, "count": len(out)})
}

// handleGetTerrain handles GET /api/v1/terrains/{slug}.
func (s *Server) handleGetTerrain(w http.ResponseWriter, r *http.Request) {
	t, err := s.db.GetApprovedTerrain(r.Context(), r.PathValue("slug"))
	if storage.IsNotFound(err) {
		writeError(w, http.StatusNotFound, "terrain not found")
		return
	}
	if err != nil {
		s.fail(w, r, err)
		return
	}
	stats, err := s.db.GetTerrainStats(r.Context(), t.ID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	trees, err := s.db.ListTrees(r.Context(), t.ID, queryLimit(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"terrain": terrainWithStats{Terrain: *t, Stats: stats},
		"trees":   nonNil(trees),
	})
}

// handleSuggestTerrain handles POST /api/v1/terrains/suggest. Suggestions stay
// pending until an admin approves them.
func (s *Server) handleSuggestTerrain(w http.ResponseWriter, r *http.Request, a *storage.Agent) {
	var req lifecycle.TerrainInput
	if !decodeJSON(w, r, &req) {
		return
	}
	t, err := s.engine.SuggestTerrain(r.Context(), a, req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"message": "Terrain suggestion submitted for review",
		"terrain": t,
	})
}

// handleListSuggestions handles GET /api/v1/terrains/suggest (admin).
func (s *Server) handleListSuggestions(w http.ResponseWriter, r *http.Request) {
	pending, err := s.db.ListTerrains(r.Context(), storage.TerrainPending)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"suggestions": nonNil(pending)})
}

// handleAdminCreateTerrain handles POST /api/v1/admin/terrains.
func (s *Server) handleAdminCreateTerrain(w http.ResponseWriter, r *http.Request) {
	var req lifecycle.TerrainInput
	if !decodeJSON(w, r, &req) {
		return
	}
	t, err := s.engine.AddTerrain(r.Context(), req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.log.Info("terrain created", zap.String("slug", t.Slug))
	writeJSON(w, http.StatusCreated, map[string]any{"terrain": t})
}

// handleAdminApproveTerrain handles POST /api/v1/admin/terrains/{slug}/approve.
func (s *Server) handleAdminApproveTerrain(w http.ResponseWriter, r *http.Request) {
	t, err := s.engine.ApproveTerrain(r.Context(), r.PathValue("slug"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.log.Info("terrain approved", zap.String("slug", t.Slug))
	writeJSON(w, http.StatusOK, map[string]any{"message": "Terrain approved", "terrain": t})
}

// handleAdminAnomalies handles GET /api/v1/admin/anomalies, optionally for ?agent=<handle>.
func (s *Server) handleAdminAnomalies(w http.ResponseWriter, r *http.Request) {
	var agentID string
	if h := r.URL.Query().Get("agent"); h != "" {
		a, err := s.db.GetAgentByHandle(r.Context(), h)
		if storage.IsNotFound(err) {
			writeError(w, http.StatusNotFound, "agent not found")
			return
		}
		if err != nil {
			s.fail(w, r, err)
			return
		}
		agentID = a.ID
	}
	logs, err := s.db.ListAnomalies(r.Context(), agentID, queryLimit(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"anomalies": nonNil(logs), "count": len(logs)})
}

// nonNil keeps empty lists encoding as [] rather than null.
func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
