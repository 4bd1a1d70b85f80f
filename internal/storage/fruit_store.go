package storage

import (
	"context"
	"database/sql"
	"fmt"
)

const fruitColumns = `f.id, f.leaf_id, f.tree_id, f.terrain_id, f.agent_id, f.type, f.title, f.content, f.created_at`

const fruitViewJoins = ` FROM fruit f
	JOIN agents a ON a.id = f.agent_id
	LEFT JOIN terrains tr ON tr.id = f.terrain_id
	LEFT JOIN trees t ON t.id = f.tree_id`

func scanFruit(row rowScanner, extra ...any) (*Fruit, error) {
	f := &Fruit{}
	var tree, terrain sql.NullString
	var created int64
	dest := []any{&f.ID, &f.LeafID, &tree, &terrain, &f.AgentID, &f.Type, &f.Title, &f.Content, &created}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	f.TreeID = tree.String
	f.TerrainID = terrain.String
	f.CreatedAt = fromMillis(created)
	return f, nil
}

func scanFruitView(row rowScanner) (*FruitView, error) {
	v := &FruitView{}
	var terrainSlug, treeSlug sql.NullString
	f, err := scanFruit(row, &v.AgentHandle, &v.AgentName, &terrainSlug, &treeSlug)
	if err != nil {
		return nil, err
	}
	v.Fruit = *f
	v.TerrainSlug = terrainSlug.String
	v.TreeSlug = treeSlug.String
	return v, nil
}

func insertFruit(ctx context.Context, c conn, f *Fruit) error {
	_, err := c.exec(ctx,
		`INSERT INTO fruit (id, leaf_id, tree_id, terrain_id, agent_id, type, title, content, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		f.ID, f.LeafID, nullString(f.TreeID), nullString(f.TerrainID), f.AgentID, f.Type, f.Title, f.Content,
		millis(f.CreatedAt),
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("grow fruit for leaf %s: %w", f.LeafID, ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("grow fruit: %w", err)
	}
	return nil
}

// MatureLeaf grows fruit for a leaf and credits its author in one transaction.
// It reports false, with no error, when the leaf already bore fruit.
func (d *DB) MatureLeaf(ctx context.Context, f *Fruit, credibilityDelta float64) (bool, error) {
	grown := false
	err := d.withTx(ctx, func(c conn) error {
		res, err := c.exec(ctx,
			`INSERT INTO fruit (id, leaf_id, tree_id, terrain_id, agent_id, type, title, content, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT (leaf_id) DO NOTHING`,
			f.ID, f.LeafID, nullString(f.TreeID), nullString(f.TerrainID), f.AgentID, f.Type, f.Title, f.Content,
			millis(f.CreatedAt),
		)
		if err != nil {
			return fmt.Errorf("mature leaf: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("mature leaf rows affected: %w", err)
		}
		if n == 0 {
			return nil
		}
		grown = true
		return adjustCredibility(ctx, c, f.AgentID, credibilityDelta)
	})
	return grown, err
}

// GetFruit retrieves a fruit by ID with its author, terrain and tree.
func (d *DB) GetFruit(ctx context.Context, id string) (*FruitView, error) {
	v, err := scanFruitView(d.conn().queryRow(ctx,
		`SELECT `+fruitColumns+`, a.handle, a.name, tr.slug, t.slug`+fruitViewJoins+` WHERE f.id = ?`, id))
	if err != nil {
		return nil, fmt.Errorf("get fruit: %w", err)
	}
	return v, nil
}

// GetFruitByLeaf retrieves the fruit grown from a leaf.
func (d *DB) GetFruitByLeaf(ctx context.Context, leafID string) (*Fruit, error) {
	f, err := scanFruit(d.conn().queryRow(ctx, `SELECT `+fruitColumns+` FROM fruit f WHERE f.leaf_id = ?`, leafID))
	if err != nil {
		return nil, fmt.Errorf("get fruit by leaf: %w", err)
	}
	return f, nil
}

// ListFruit returns fruit matching filter, newest first.
func (d *DB) ListFruit(ctx context.Context, filter FruitFilter) ([]FruitView, error) {
	query := `SELECT ` + fruitColumns + `, a.handle, a.name, tr.slug, t.slug` + fruitViewJoins + ` WHERE 1 = 1`
	var args []any
	if filter.TerrainID != "" {
		query += ` AND f.terrain_id = ?`
		args = append(args, filter.TerrainID)
	}
	if filter.TreeID != "" {
		query += ` AND f.tree_id = ?`
		args = append(args, filter.TreeID)
	}
	if filter.Type != "" {
		query += ` AND f.type = ?`
		args = append(args, filter.Type)
	}
	query += ` ORDER BY f.created_at DESC LIMIT ?`
	args = append(args, clampLimit(filter.Limit, 50, 100))

	rows, err := d.conn().query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list fruit: %w", err)
	}
	defer rows.Close()

	var out []FruitView
	for rows.Next() {
		v, err := scanFruitView(rows)
		if err != nil {
			return nil, fmt.Errorf("scan fruit: %w", err)
		}
		out = append(out, *v)
	}
	return out, rows.Err()
}

// CountFruit counts fruit for a leaf; used to check the one-fruit-per-leaf invariant.
func (d *DB) CountFruit(ctx context.Context, leafID string) (int, error) {
	var n int
	if err := d.conn().queryRow(ctx, `SELECT COUNT(*) FROM fruit WHERE leaf_id = ?`, leafID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count fruit: %w", err)
	}
	return n, nil
}
