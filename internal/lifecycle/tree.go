package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/antfarm-network/antfarm/internal/apperr"
	"github.com/antfarm-network/antfarm/internal/storage"
)

const maxSlugLen = 50

var (
	slugStrip      = regexp.MustCompile(`[^a-z0-9\s-]`)
	slugWhitespace = regexp.MustCompile(`\s+`)
)

// Slugify lowercases title, keeps only [a-z0-9], whitespace and '-', turns whitespace
// runs into '-' and truncates to 50 characters. An empty result becomes "tree".
func Slugify(title string) string {
	s := strings.ToLower(strings.TrimSpace(title))
	s = slugStrip.ReplaceAllString(s, "")
	s = slugWhitespace.ReplaceAllString(s, "-")
	if len(s) > maxSlugLen {
		s = s[:maxSlugLen]
	}
	if s == "" {
		return "tree"
	}
	return s
}

// TreeSlug returns the slug for a new tree: the slugified title plus a base36
// millisecond suffix.
func TreeSlug(title string, at time.Time) string {
	return Slugify(title) + "-" + strconv.FormatInt(at.UnixMilli(), 36)
}

// isSuffixOf reports whether slug is base or base plus one '-'-separated suffix.
func isSuffixOf(slug, base string) bool {
	if slug == base {
		return true
	}
	rest, ok := strings.CutPrefix(slug, base+"-")
	return ok && rest != "" && !strings.Contains(rest, "-")
}

// TreeInput describes a tree created directly through the API.
type TreeInput struct {
	Terrain     string
	Title       string
	Description string
	Bounty      *storage.Bounty
}

// CreateTree plants a tree in an approved terrain on behalf of creator.
func (e *Engine) CreateTree(ctx context.Context, creator *storage.Agent, in TreeInput) (*storage.Tree, error) {
	in.Title = strings.TrimSpace(in.Title)
	if in.Terrain == "" || in.Title == "" {
		return nil, apperr.Invalid("missing required fields: terrain, title")
	}
	if len(in.Title) > MaxTitleLen {
		return nil, apperr.Invalid("title exceeds %d characters", MaxTitleLen)
	}
	if b := in.Bounty; b != nil {
		if b.Amount <= 0 {
			return nil, apperr.Invalid("bounty amount must be positive")
		}
		if b.Deadline != nil && b.Deadline.Before(e.now()) {
			return nil, apperr.Invalid("bounty deadline is in the past")
		}
		b.Status = storage.BountyOpen
	}
	terrain, err := e.approvedTerrain(ctx, in.Terrain)
	if err != nil {
		return nil, err
	}
	now := e.now()
	tree := &storage.Tree{
		ID:          uuid.NewString(),
		TerrainID:   terrain.ID,
		Slug:        TreeSlug(in.Title, now),
		Title:       in.Title,
		Description: in.Description,
		Status:      storage.TreeGrowing,
		CreatedBy:   creator.ID,
		Bounty:      in.Bounty,
		CreatedAt:   now,
	}
	if err := e.db.CreateTree(ctx, tree); err != nil {
		if errors.Is(err, storage.ErrConflict) {
			return nil, apperr.Conflict("a tree with this slug already exists, retry")
		}
		return nil, err
	}
	return tree, nil
}

// ResolveTree returns the tree a leaf belongs to. A treeRef (ID or slug) must name a
// tree in terrain; otherwise a non-empty title is matched against existing trees in
// terrain and a new tree is planted when none matches. Both empty yields (nil, false, nil).
func (e *Engine) ResolveTree(ctx context.Context, terrain *storage.Terrain, treeRef, title, authorID string) (*storage.Tree, bool, error) {
	if treeRef != "" {
		tree, err := e.db.GetTree(ctx, treeRef)
		if storage.IsNotFound(err) {
			return nil, false, ErrTreeMismatch
		}
		if err != nil {
			return nil, false, err
		}
		if tree.TerrainID != terrain.ID {
			return nil, false, ErrTreeMismatch
		}
		return tree, false, nil
	}
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, false, nil
	}

	base := Slugify(title)
	if tree, err := e.findTree(ctx, terrain.ID, base); err != nil || tree != nil {
		return tree, false, err
	}

	now := e.now()
	tree := &storage.Tree{
		ID:        uuid.NewString(),
		TerrainID: terrain.ID,
		Slug:      base + "-" + strconv.FormatInt(now.UnixMilli(), 36),
		Title:     title,
		Status:    storage.TreeGrowing,
		CreatedBy: authorID,
		CreatedAt: now,
	}
	err := e.db.CreateTree(ctx, tree)
	if errors.Is(err, storage.ErrConflict) {
		// Planted concurrently by another request in the same millisecond.
		existing, ferr := e.findTree(ctx, terrain.ID, base)
		if ferr != nil {
			return nil, false, ferr
		}
		if existing != nil {
			return existing, false, nil
		}
	}
	if err != nil {
		return nil, false, fmt.Errorf("plant tree: %w", err)
	}
	return tree, true, nil
}

func (e *Engine) findTree(ctx context.Context, terrainID, base string) (*storage.Tree, error) {
	candidates, err := e.db.TreesBySlugPrefix(ctx, terrainID, base, 100)
	if err != nil {
		return nil, err
	}
	for i := range candidates {
		if isSuffixOf(candidates[i].Slug, base) {
			return &candidates[i], nil
		}
	}
	return nil, nil
}

func (e *Engine) approvedTerrain(ctx context.Context, slug string) (*storage.Terrain, error) {
	terrain, err := e.db.GetApprovedTerrain(ctx, slug)
	if storage.IsNotFound(err) {
		return nil, ErrTerrainNotFound
	}
	if err != nil {
		return nil, err
	}
	return terrain, nil
}
