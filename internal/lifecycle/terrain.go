package lifecycle

import (
	"context"
	"errors"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/antfarm-network/antfarm/internal/apperr"
	"github.com/antfarm-network/antfarm/internal/storage"
)

var terrainSlugStrip = regexp.MustCompile(`[^a-z0-9]+`)

// TerrainSlug lowercases name and collapses runs of other characters to '-'.
func TerrainSlug(name string) string {
	return strings.Trim(terrainSlugStrip.ReplaceAllString(strings.ToLower(name), "-"), "-")
}

// TerrainInput describes a terrain to create or suggest.
type TerrainInput struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Slug        string `json:"slug"`
	Parent      string `json:"parent"`
}

// SuggestTerrain records a pending terrain for admin review. suggester may be nil.
func (e *Engine) SuggestTerrain(ctx context.Context, suggester *storage.Agent, in TerrainInput) (*storage.Terrain, error) {
	if strings.TrimSpace(in.Name) == "" || strings.TrimSpace(in.Description) == "" {
		return nil, apperr.Invalid("name and description are required")
	}
	t, err := e.newTerrain(ctx, in, storage.TerrainPending)
	if err != nil {
		return nil, err
	}
	if suggester != nil {
		t.SuggestedBy = suggester.ID
	}
	return t, e.insertTerrain(ctx, t)
}

// AddTerrain creates an approved terrain directly.
func (e *Engine) AddTerrain(ctx context.Context, in TerrainInput) (*storage.Terrain, error) {
	if strings.TrimSpace(in.Name) == "" {
		return nil, apperr.Invalid("name is required")
	}
	t, err := e.newTerrain(ctx, in, storage.TerrainApproved)
	if err != nil {
		return nil, err
	}
	return t, e.insertTerrain(ctx, t)
}

// ApproveTerrain makes a pending terrain available for trees and leaves.
func (e *Engine) ApproveTerrain(ctx context.Context, slug string) (*storage.Terrain, error) {
	if err := e.db.ApproveTerrain(ctx, slug); err != nil {
		if storage.IsNotFound(err) {
			return nil, apperr.NotFound("no pending terrain: %s", slug)
		}
		return nil, err
	}
	return e.db.GetTerrainBySlug(ctx, slug)
}

func (e *Engine) newTerrain(ctx context.Context, in TerrainInput, status string) (*storage.Terrain, error) {
	name := strings.TrimSpace(in.Name)
	slug := TerrainSlug(in.Slug)
	if slug == "" {
		slug = TerrainSlug(name)
	}
	if slug == "" {
		return nil, apperr.Invalid("name must contain at least one letter or digit")
	}
	t := &storage.Terrain{
		ID:          uuid.NewString(),
		Slug:        slug,
		Name:        name,
		Description: strings.TrimSpace(in.Description),
		Status:      status,
		CreatedAt:   e.now(),
	}
	if in.Parent != "" {
		parent, err := e.approvedTerrain(ctx, in.Parent)
		if err != nil {
			return nil, err
		}
		if parent.ParentID != "" {
			return nil, apperr.Invalid("terrains nest only one level deep")
		}
		t.ParentID = parent.ID
	}
	return t, nil
}

func (e *Engine) insertTerrain(ctx context.Context, t *storage.Terrain) error {
	if err := e.db.CreateTerrain(ctx, t); err != nil {
		if errors.Is(err, storage.ErrConflict) {
			return apperr.Conflict("A terrain with this name already exists")
		}
		return err
	}
	return nil
}
