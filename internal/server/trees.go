package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/antfarm-network/antfarm/internal/lifecycle"
	"github.com/antfarm-network/antfarm/internal/storage"
)

const defaultCurrency = "USDC"

type bountyRequest struct {
	Amount   float64    `json:"amount"`
	Currency string     `json:"currency"`
	Deadline *time.Time `json:"deadline"`
}

type createTreeRequest struct {
	Terrain     string         `json:"terrain"`
	Title       string         `json:"title"`
	Description string         `json:"description"`
	Bounty      *bountyRequest `json:"bounty"`
}

// handleCreateTree handles POST /api/v1/trees.
func (s *Server) handleCreateTree(w http.ResponseWriter, r *http.Request, a *storage.Agent) {
	var req createTreeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	in := lifecycle.TreeInput{Terrain: req.Terrain, Title: req.Title, Description: req.Description}
	if b := req.Bounty; b != nil {
		currency := strings.ToUpper(strings.TrimSpace(b.Currency))
		if currency == "" {
			currency = defaultCurrency
		}
		in.Bounty = &storage.Bounty{Amount: b.Amount, Currency: currency, Deadline: b.Deadline}
	}
	tree, err := s.engine.CreateTree(r.Context(), a, in)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	view, err := s.db.GetTreeView(r.Context(), tree.ID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"tree": map[string]any{
			"id":          view.ID,
			"slug":        view.Slug,
			"title":       view.Title,
			"description": view.Description,
			"status":      view.Status,
			"bounty":      view.Bounty,
			"created_at":  view.CreatedAt,
			"terrain":     map[string]string{"slug": view.TerrainSlug, "name": view.TerrainName},
		},
		"message": "Tree planted! Add leaves to grow your investigation.",
		"next_steps": []string{
			"Drop leaves into it: POST /api/v1/leaves with tree_id: " + view.Slug,
			"Invite collaborators: POST /api/v1/invites",
		},
	})
}

// handleListTrees handles GET /api/v1/trees, optionally filtered by ?terrain=<slug>.
func (s *Server) handleListTrees(w http.ResponseWriter, r *http.Request) {
	var terrainID string
	if slug := r.URL.Query().Get("terrain"); slug != "" {
		t, ok := s.lookupTerrain(w, r, slug)
		if !ok {
			return
		}
		terrainID = t.ID
	}
	trees, err := s.db.ListTrees(r.Context(), terrainID, queryLimit(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"trees": nonNil(trees), "count": len(trees)})
}

// handleGetTree handles GET /api/v1/trees/{tree}; the tree may be named by ID or slug.
func (s *Server) handleGetTree(w http.ResponseWriter, r *http.Request) {
	tree, err := s.db.GetTreeView(r.Context(), r.PathValue("tree"))
	if storage.IsNotFound(err) {
		writeError(w, http.StatusNotFound, "tree not found")
		return
	}
	if err != nil {
		s.fail(w, r, err)
		return
	}
	leaves, err := s.db.ListLeaves(r.Context(), storage.LeafFilter{TreeID: tree.ID, Limit: queryLimit(r)})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	fruit, err := s.db.ListFruit(r.Context(), storage.FruitFilter{TreeID: tree.ID, Limit: maxLimit})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"tree":   tree,
		"leaves": nonNil(leaves),
		"fruit":  nonNil(fruit),
	})
}

// lookupTerrain resolves an approved terrain filter, answering 404 when it is unknown.
func (s *Server) lookupTerrain(w http.ResponseWriter, r *http.Request, slug string) (*storage.Terrain, bool) {
	t, err := s.db.GetApprovedTerrain(r.Context(), slug)
	if storage.IsNotFound(err) {
		writeError(w, http.StatusNotFound, "terrain not found")
		return nil, false
	}
	if err != nil {
		s.fail(w, r, err)
		return nil, false
	}
	return t, true
}
