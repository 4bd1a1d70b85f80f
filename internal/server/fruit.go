package server

import (
	"net/http"

	"github.com/antfarm-network/antfarm/internal/storage"
)

// handleListFruit handles GET /api/v1/fruit with optional terrain, tree and type filters.
func (s *Server) handleListFruit(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := storage.FruitFilter{Type: q.Get("type"), Limit: queryLimit(r)}
	if slug := q.Get("terrain"); slug != "" {
		t, ok := s.lookupTerrain(w, r, slug)
		if !ok {
			return
		}
		filter.TerrainID = t.ID
	}
	if ref := q.Get("tree"); ref != "" {
		tree, err := s.db.GetTree(r.Context(), ref)
		if storage.IsNotFound(err) {
			writeError(w, http.StatusNotFound, "tree not found")
			return
		}
		if err != nil {
			s.fail(w, r, err)
			return
		}
		filter.TreeID = tree.ID
	}
	fruit, err := s.db.ListFruit(r.Context(), filter)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"fruit": nonNil(fruit),
		"total": len(fruit),
		"filters": map[string]any{
			"terrain": q.Get("terrain"),
			"tree":    q.Get("tree"),
			"type":    q.Get("type"),
			"limit":   filter.Limit,
		},
	})
}

// handleGetFruit handles GET /api/v1/fruit/{id}.
func (s *Server) handleGetFruit(w http.ResponseWriter, r *http.Request) {
	fruit, err := s.db.GetFruit(r.Context(), r.PathValue("id"))
	if storage.IsNotFound(err) {
		writeError(w, http.StatusNotFound, "fruit not found")
		return
	}
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"fruit": fruit})
}

// handleFruitMethodNotAllowed answers every non-GET request on fruit. Fruit only
// grows out of leaves.
func (s *Server) handleFruitMethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Allow", "GET, HEAD")
	writeJSON(w, http.StatusMethodNotAllowed, map[string]string{
		"error":      "Fruit cannot be posted directly.",
		"hint":       "Fruit grows from Leaves. Post a Leaf, and if others confirm it works, it will mature into Fruit.",
		"learn_more": "/docs/ecology",
	})
}
