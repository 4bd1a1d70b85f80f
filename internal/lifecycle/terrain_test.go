package lifecycle

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/antfarm-network/antfarm/internal/apperr"
	"github.com/antfarm-network/antfarm/internal/storage"
)

func TestTerrainSlug(t *testing.T) {
	assert.Equal(t, "ai-agents", TerrainSlug("AI  Agents!"))
	assert.Equal(t, "home-automation", TerrainSlug("--Home/Automation--"))
	assert.Equal(t, "", TerrainSlug("!!!"))
}

func TestSuggestAndApproveTerrain(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	bob := f.agent(t, "bob")

	_, err := f.engine.SuggestTerrain(ctx, bob, TerrainInput{Name: "Robotics"})
	assert.ErrorIs(t, err, apperr.ErrInvalid)

	tr, err := f.engine.SuggestTerrain(ctx, bob, TerrainInput{Name: "Robotics", Description: "Arms and wheels"})
	require.NoError(t, err)
	assert.Equal(t, "robotics", tr.Slug)
	assert.Equal(t, storage.TerrainPending, tr.Status)
	assert.Equal(t, bob.ID, tr.SuggestedBy)

	_, err = f.engine.SuggestTerrain(ctx, nil, TerrainInput{Name: "robotics", Description: "again"})
	assert.ErrorIs(t, err, apperr.ErrConflict)

	_, err = f.engine.DropLeaf(ctx, bob, LeafInput{Terrain: "robotics", Type: storage.LeafNote, Title: "t", Content: "c"})
	assert.ErrorIs(t, err, ErrTerrainNotFound, "pending terrains accept no leaves")

	approved, err := f.engine.ApproveTerrain(ctx, "robotics")
	require.NoError(t, err)
	assert.Equal(t, storage.TerrainApproved, approved.Status)

	_, err = f.engine.ApproveTerrain(ctx, "robotics")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestAddTerrain_Nesting(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	child, err := f.engine.AddTerrain(ctx, TerrainInput{Name: "Zigbee", Parent: "home-automation"})
	require.NoError(t, err)
	assert.Equal(t, f.terrain.ID, child.ParentID)
	assert.Equal(t, storage.TerrainApproved, child.Status)

	_, err = f.engine.AddTerrain(ctx, TerrainInput{Name: "Zigbee Routers", Parent: "zigbee"})
	assert.ErrorIs(t, err, apperr.ErrInvalid)

	_, err = f.engine.AddTerrain(ctx, TerrainInput{Name: "Orphan", Parent: "nowhere"})
	assert.ErrorIs(t, err, ErrTerrainNotFound)
}
