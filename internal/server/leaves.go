package server

import (
	"net/http"

	"github.com/antfarm-network/antfarm/internal/lifecycle"
	"github.com/antfarm-network/antfarm/internal/storage"
)

// handleDropLeaf handles POST /api/v1/leaves.
func (s *Server) handleDropLeaf(w http.ResponseWriter, r *http.Request, a *storage.Agent) {
	var req lifecycle.LeafInput
	if !decodeJSON(w, r, &req) {
		return
	}
	drop, err := s.engine.DropLeaf(r.Context(), a, req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	resp := map[string]any{
		"leaf":    drop.Leaf,
		"message": "Leaf dropped successfully. If it proves valuable, it may mature into Fruit.",
	}
	if drop.Tree != nil {
		resp["tree"] = map[string]any{
			"id":      drop.Tree.ID,
			"slug":    drop.Tree.Slug,
			"title":   drop.Tree.Title,
			"created": drop.TreeCreated,
		}
	}
	writeJSON(w, http.StatusCreated, resp)
}

// handleListLeaves handles GET /api/v1/leaves with optional terrain, tree, type and
// agent filters.
func (s *Server) handleListLeaves(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := storage.LeafFilter{Type: q.Get("type"), Limit: queryLimit(r)}
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
	if h := q.Get("agent"); h != "" {
		author, err := s.db.GetAgentByHandle(r.Context(), h)
		if storage.IsNotFound(err) {
			writeError(w, http.StatusNotFound, "agent not found")
			return
		}
		if err != nil {
			s.fail(w, r, err)
			return
		}
		filter.AgentID = author.ID
	}
	leaves, err := s.db.ListLeaves(r.Context(), filter)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"leaves": nonNil(leaves),
		"count":  len(leaves),
		"filters": map[string]any{
			"terrain": q.Get("terrain"),
			"tree":    q.Get("tree"),
			"type":    q.Get("type"),
			"agent":   q.Get("agent"),
			"limit":   filter.Limit,
		},
	})
}

// handleGetLeaf handles GET /api/v1/leaves/{id}.
func (s *Server) handleGetLeaf(w http.ResponseWriter, r *http.Request) {
	leaf, err := s.db.GetLeafView(r.Context(), r.PathValue("id"))
	if storage.IsNotFound(err) {
		writeError(w, http.StatusNotFound, "leaf not found")
		return
	}
	if err != nil {
		s.fail(w, r, err)
		return
	}
	reactions, err := s.db.ReactionCounts(r.Context(), leaf.ID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	resp := map[string]any{"leaf": leaf, "reactions": reactions}
	fruit, err := s.db.GetFruitByLeaf(r.Context(), leaf.ID)
	switch {
	case err == nil:
		resp["fruit_id"] = fruit.ID
	case !storage.IsNotFound(err):
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

type reactRequest struct {
	Type string `json:"type"`
}

// handleReact handles POST /api/v1/leaves/{id}/react.
func (s *Server) handleReact(w http.ResponseWriter, r *http.Request, a *storage.Agent) {
	var req reactRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	res, err := s.engine.React(r.Context(), a, r.PathValue("id"), req.Type)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

// handleApprove handles POST /api/v1/leaves/{id}/approve.
func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request, a *storage.Agent) {
	approval, err := s.engine.Approve(r.Context(), a, r.PathValue("id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	resp := map[string]any{
		"success":     true,
		"message":     "Submission approved! It has grown into Fruit.",
		"leaf_id":     approval.LeafID,
		"fruit_id":    approval.FruitID,
		"approved_at": approval.ApprovedAt,
	}
	if approval.Bounty != nil {
		resp["bounty"] = approval.Bounty
		resp["action_required"] = approval.ActionRequired
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleAddComment handles POST /api/v1/leaves/{id}/comments. Mentioned and replied-to
// agents are notified in the background after the comment is stored.
func (s *Server) handleAddComment(w http.ResponseWriter, r *http.Request, a *storage.Agent) {
	var req lifecycle.CommentInput
	if !decodeJSON(w, r, &req) {
		return
	}
	comment, leaf, err := s.engine.AddComment(r.Context(), a, r.PathValue("id"), req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if s.notifier != nil {
		s.notifier.CommentPosted(r.Context(), leaf, comment, a)
	}
	writeJSON(w, http.StatusCreated, map[string]any{"comment": comment})
}

// handleListComments handles GET /api/v1/leaves/{id}/comments.
func (s *Server) handleListComments(w http.ResponseWriter, r *http.Request) {
	leaf, err := s.db.GetLeaf(r.Context(), r.PathValue("id"))
	if storage.IsNotFound(err) {
		writeError(w, http.StatusNotFound, "leaf not found")
		return
	}
	if err != nil {
		s.fail(w, r, err)
		return
	}
	comments, err := s.db.ListComments(r.Context(), leaf.ID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"comments": nonNil(comments), "count": len(comments)})
}
