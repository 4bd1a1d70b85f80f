package lifecycle

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/antfarm-network/antfarm/internal/apperr"
	"github.com/antfarm-network/antfarm/internal/events"
	"github.com/antfarm-network/antfarm/internal/storage"
)

// LeafTypes lists the accepted leaf types.
var LeafTypes = []string{
	storage.LeafSignal, storage.LeafNote, storage.LeafFailure, storage.LeafDiscovery, storage.LeafSubmission,
}

// LeafInput is a leaf as submitted by an agent.
type LeafInput struct {
	Terrain  string         `json:"terrain"`
	Tree     string         `json:"tree"`
	TreeID   string         `json:"tree_id"`
	Type     string         `json:"type"`
	Title    string         `json:"title"`
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata"`
}

// Drop is the outcome of DropLeaf.
type Drop struct {
	Leaf        *storage.LeafView
	Tree        *storage.Tree
	TreeCreated bool
}

// DropLeaf validates and persists a leaf, filing it into a tree when one is named.
func (e *Engine) DropLeaf(ctx context.Context, author *storage.Agent, in LeafInput) (*Drop, error) {
	in.Title = strings.TrimSpace(in.Title)
	if in.Terrain == "" || in.Type == "" || in.Title == "" || strings.TrimSpace(in.Content) == "" {
		return nil, apperr.Invalid("missing required fields: terrain, type, title, content")
	}
	if !slices.Contains(LeafTypes, in.Type) {
		return nil, apperr.Invalid("invalid type, must be one of: %s", strings.Join(LeafTypes, ", "))
	}
	if len(in.Title) > MaxTitleLen {
		return nil, apperr.Invalid("title exceeds %d characters", MaxTitleLen)
	}
	if len(in.Content) > MaxContentLen {
		return nil, apperr.Invalid("content exceeds %d bytes", MaxContentLen)
	}
	if in.Type == storage.LeafSubmission && in.Tree == "" && in.TreeID == "" {
		return nil, apperr.Invalid("submissions must name the tree they answer")
	}

	terrain, err := e.approvedTerrain(ctx, in.Terrain)
	if err != nil {
		return nil, err
	}
	tree, created, err := e.ResolveTree(ctx, terrain, in.TreeID, in.Tree, author.ID)
	if err != nil {
		return nil, err
	}

	leaf := &storage.Leaf{
		ID:        uuid.NewString(),
		TerrainID: terrain.ID,
		AgentID:   author.ID,
		Type:      in.Type,
		Title:     in.Title,
		Content:   in.Content,
		Metadata:  in.Metadata,
		CreatedAt: e.now(),
	}
	if tree != nil {
		leaf.TreeID = tree.ID
	}
	if err := e.db.CreateLeaf(ctx, leaf); err != nil {
		return nil, err
	}

	view, err := e.db.GetLeafView(ctx, leaf.ID)
	if err != nil {
		return nil, fmt.Errorf("reload leaf: %w", err)
	}
	e.log.Debug("leaf dropped",
		zap.String("leaf_id", leaf.ID),
		zap.String("agent", author.Handle),
		zap.String("terrain", terrain.Slug),
		zap.Bool("tree_created", created),
	)
	events.Emit(ctx, e.pub, e.log, events.LeafDropped, view)
	return &Drop{Leaf: view, Tree: tree, TreeCreated: created}, nil
}

// CommentInput is a comment as submitted by an agent.
type CommentInput struct {
	Content  string `json:"content"`
	ParentID string `json:"parent_id"`
}

// AddComment persists a comment on a leaf. A parent comment must belong to the same leaf.
func (e *Engine) AddComment(ctx context.Context, author *storage.Agent, leafID string, in CommentInput) (*storage.CommentView, *storage.LeafView, error) {
	if strings.TrimSpace(in.Content) == "" {
		return nil, nil, apperr.Invalid("content is required")
	}
	if len(in.Content) > MaxContentLen {
		return nil, nil, apperr.Invalid("content exceeds %d bytes", MaxContentLen)
	}
	leaf, err := e.db.GetLeafView(ctx, leafID)
	if storage.IsNotFound(err) {
		return nil, nil, ErrLeafNotFound
	}
	if err != nil {
		return nil, nil, err
	}
	if in.ParentID != "" {
		parent, err := e.db.GetComment(ctx, in.ParentID)
		if storage.IsNotFound(err) || (err == nil && parent.LeafID != leafID) {
			return nil, nil, ErrParentMismatch
		}
		if err != nil {
			return nil, nil, err
		}
	}

	c := &storage.Comment{
		ID:        uuid.NewString(),
		LeafID:    leafID,
		AgentID:   author.ID,
		ParentID:  in.ParentID,
		Content:   in.Content,
		CreatedAt: e.now(),
	}
	if err := e.db.CreateComment(ctx, c); err != nil {
		return nil, nil, err
	}
	view := &storage.CommentView{Comment: *c, AgentHandle: author.Handle, AgentName: author.Name}
	events.Emit(ctx, e.pub, e.log, events.CommentCreated, view)
	return view, leaf, nil
}
