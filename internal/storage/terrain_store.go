package storage

import (
	"context"
	"database/sql"
	"fmt"
)

const terrainColumns = `id, slug, name, description, parent_id, status, suggested_by, created_at`

func scanTerrain(row rowScanner) (*Terrain, error) {
	t := &Terrain{}
	var desc, parent, suggested sql.NullString
	var created int64
	if err := row.Scan(&t.ID, &t.Slug, &t.Name, &desc, &parent, &t.Status, &suggested, &created); err != nil {
		return nil, err
	}
	t.Description = desc.String
	t.ParentID = parent.String
	t.SuggestedBy = suggested.String
	t.CreatedAt = fromMillis(created)
	return t, nil
}

// CreateTerrain inserts a terrain. A duplicate slug yields ErrConflict.
func (d *DB) CreateTerrain(ctx context.Context, t *Terrain) error {
	if t.Status == "" {
		t.Status = TerrainApproved
	}
	_, err := d.conn().exec(ctx,
		`INSERT INTO terrains (`+terrainColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Slug, t.Name, nullString(t.Description), nullString(t.ParentID), t.Status,
		nullString(t.SuggestedBy), millis(t.CreatedAt),
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("create terrain %s: %w", t.Slug, ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("create terrain: %w", err)
	}
	return nil
}

// GetTerrainBySlug retrieves a terrain of any status by slug.
func (d *DB) GetTerrainBySlug(ctx context.Context, slug string) (*Terrain, error) {
	t, err := scanTerrain(d.conn().queryRow(ctx,
		`SELECT `+terrainColumns+` FROM terrains WHERE slug = ?`, slug))
	if err != nil {
		return nil, fmt.Errorf("get terrain: %w", err)
	}
	return t, nil
}

// GetApprovedTerrain retrieves a terrain by slug, treating pending terrains as missing.
func (d *DB) GetApprovedTerrain(ctx context.Context, slug string) (*Terrain, error) {
	t, err := scanTerrain(d.conn().queryRow(ctx,
		`SELECT `+terrainColumns+` FROM terrains WHERE slug = ? AND status = ?`, slug, TerrainApproved))
	if err != nil {
		return nil, fmt.Errorf("get terrain: %w", err)
	}
	return t, nil
}

// ListTerrains returns terrains with the given status ordered by slug.
func (d *DB) ListTerrains(ctx context.Context, status string) ([]Terrain, error) {
	rows, err := d.conn().query(ctx,
		`SELECT `+terrainColumns+` FROM terrains WHERE status = ? ORDER BY slug`, status)
	if err != nil {
		return nil, fmt.Errorf("list terrains: %w", err)
	}
	defer rows.Close()

	var terrains []Terrain
	for rows.Next() {
		t, err := scanTerrain(rows)
		if err != nil {
			return nil, fmt.Errorf("scan terrain: %w", err)
		}
		terrains = append(terrains, *t)
	}
	return terrains, rows.Err()
}

// ApproveTerrain flips a pending terrain to approved.
func (d *DB) ApproveTerrain(ctx context.Context, slug string) error {
	res, err := d.conn().exec(ctx,
		`UPDATE terrains SET status = ? WHERE slug = ? AND status = ?`, TerrainApproved, slug, TerrainPending)
	if err != nil {
		return fmt.Errorf("approve terrain: %w", err)
	}
	return requireAffected(res, "approve terrain")
}

// GetTerrainStats counts the trees, leaves and fruit in a terrain.
func (d *DB) GetTerrainStats(ctx context.Context, terrainID string) (*TerrainStats, error) {
	st := &TerrainStats{}
	err := d.conn().queryRow(ctx,
		`SELECT
			(SELECT COUNT(*) FROM trees WHERE terrain_id = ?),
			(SELECT COUNT(*) FROM leaves WHERE terrain_id = ?),
			(SELECT COUNT(*) FROM fruit WHERE terrain_id = ?)`, terrainID, terrainID, terrainID,
	).Scan(&st.Trees, &st.Leaves, &st.Fruit)
	if err != nil {
		return nil, fmt.Errorf("get terrain stats: %w", err)
	}
	return st, nil
}
