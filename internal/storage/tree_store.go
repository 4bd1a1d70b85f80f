package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

const treeColumns = `t.id, t.terrain_id, t.slug, t.title, t.description, t.status, t.created_by,
	t.bounty_amount, t.bounty_currency, t.bounty_deadline, t.bounty_status, t.created_at, t.updated_at`

func scanTree(row rowScanner, extra ...any) (*Tree, error) {
	t := &Tree{}
	var desc, createdBy, currency, bountyStatus sql.NullString
	var amount sql.NullFloat64
	var deadline sql.NullInt64
	var created, updated int64
	dest := []any{&t.ID, &t.TerrainID, &t.Slug, &t.Title, &desc, &t.Status, &createdBy,
		&amount, &currency, &deadline, &bountyStatus, &created, &updated}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	t.Description = desc.String
	t.CreatedBy = createdBy.String
	t.CreatedAt = fromMillis(created)
	t.UpdatedAt = fromMillis(updated)
	if amount.Valid {
		t.Bounty = &Bounty{
			Amount:   amount.Float64,
			Currency: currency.String,
			Deadline: timePtr(deadline),
			Status:   bountyStatus.String,
		}
	}
	return t, nil
}

// CreateTree inserts a tree. A duplicate slug yields ErrConflict.
func (d *DB) CreateTree(ctx context.Context, t *Tree) error {
	return createTree(ctx, d.conn(), t)
}

func createTree(ctx context.Context, c conn, t *Tree) error {
	if t.Status == "" {
		t.Status = TreeGrowing
	}
	if t.UpdatedAt.IsZero() {
		t.UpdatedAt = t.CreatedAt
	}
	var amount sql.NullFloat64
	var currency, status sql.NullString
	var deadline sql.NullInt64
	if b := t.Bounty; b != nil {
		amount = nullFloat(&b.Amount)
		if b.Currency == "" {
			b.Currency = "USDC"
		}
		if b.Status == "" {
			b.Status = BountyOpen
		}
		currency = nullString(b.Currency)
		status = nullString(b.Status)
		deadline = nullMillis(b.Deadline)
	}
	_, err := c.exec(ctx,
		`INSERT INTO trees (id, terrain_id, slug, title, description, status, created_by,
		 bounty_amount, bounty_currency, bounty_deadline, bounty_status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.TerrainID, t.Slug, t.Title, nullString(t.Description), t.Status, nullString(t.CreatedBy),
		amount, currency, deadline, status, millis(t.CreatedAt), millis(t.UpdatedAt),
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("create tree %s: %w", t.Slug, ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("create tree: %w", err)
	}
	return nil
}

// GetTree retrieves a tree by ID or slug.
func (d *DB) GetTree(ctx context.Context, idOrSlug string) (*Tree, error) {
	t, err := scanTree(d.conn().queryRow(ctx,
		`SELECT `+treeColumns+` FROM trees t WHERE t.id = ? OR t.slug = ?`, idOrSlug, idOrSlug))
	if err != nil {
		return nil, fmt.Errorf("get tree: %w", err)
	}
	return t, nil
}

// TreesBySlugPrefix returns trees in terrainID whose slug is prefix or starts with
// prefix followed by '-', oldest first.
func (d *DB) TreesBySlugPrefix(ctx context.Context, terrainID, prefix string, limit int) ([]Tree, error) {
	rows, err := d.conn().query(ctx,
		`SELECT `+treeColumns+` FROM trees t
		 WHERE t.terrain_id = ? AND (t.slug = ? OR t.slug LIKE ?)
		 ORDER BY t.created_at ASC, t.slug ASC LIMIT ?`,
		terrainID, prefix, stripLikeWildcards(prefix)+"-%", clampLimit(limit, 50, 500))
	if err != nil {
		return nil, fmt.Errorf("find trees by slug: %w", err)
	}
	defer rows.Close()

	var trees []Tree
	for rows.Next() {
		t, err := scanTree(rows)
		if err != nil {
			return nil, fmt.Errorf("scan tree: %w", err)
		}
		trees = append(trees, *t)
	}
	return trees, rows.Err()
}

// GetTreeView retrieves a tree by ID or slug with its terrain and counts.
func (d *DB) GetTreeView(ctx context.Context, idOrSlug string) (*TreeView, error) {
	v := &TreeView{}
	t, err := scanTree(d.conn().queryRow(ctx,
		`SELECT `+treeColumns+`, tr.slug, tr.name,
			(SELECT COUNT(*) FROM leaves l WHERE l.tree_id = t.id),
			(SELECT COUNT(*) FROM fruit f WHERE f.tree_id = t.id)
		 FROM trees t JOIN terrains tr ON tr.id = t.terrain_id
		 WHERE t.id = ? OR t.slug = ?`, idOrSlug, idOrSlug),
		&v.TerrainSlug, &v.TerrainName, &v.LeafCount, &v.FruitCount)
	if err != nil {
		return nil, fmt.Errorf("get tree view: %w", err)
	}
	v.Tree = *t
	return v, nil
}

// ListTrees returns trees newest first, optionally restricted to one terrain.
func (d *DB) ListTrees(ctx context.Context, terrainID string, limit int) ([]TreeView, error) {
	query := `SELECT ` + treeColumns + `, tr.slug, tr.name,
			(SELECT COUNT(*) FROM leaves l WHERE l.tree_id = t.id),
			(SELECT COUNT(*) FROM fruit f WHERE f.tree_id = t.id)
		 FROM trees t JOIN terrains tr ON tr.id = t.terrain_id`
	var args []any
	if terrainID != "" {
		query += ` WHERE t.terrain_id = ?`
		args = append(args, terrainID)
	}
	query += ` ORDER BY t.created_at DESC LIMIT ?`
	args = append(args, clampLimit(limit, 50, 100))

	rows, err := d.conn().query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list trees: %w", err)
	}
	defer rows.Close()

	var trees []TreeView
	for rows.Next() {
		var v TreeView
		t, err := scanTree(rows, &v.TerrainSlug, &v.TerrainName, &v.LeafCount, &v.FruitCount)
		if err != nil {
			return nil, fmt.Errorf("scan tree: %w", err)
		}
		v.Tree = *t
		trees = append(trees, v)
	}
	return trees, rows.Err()
}

// stripLikeWildcards drops '%' and '_' so a prefix cannot widen the LIKE match.
func stripLikeWildcards(s string) string {
	return strings.NewReplacer("%", "", "_", "").Replace(s)
}
