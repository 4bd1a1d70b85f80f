package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrAlreadyApproved is returned when a submission has already been approved.
var ErrAlreadyApproved = errors.New("already approved")

const leafColumns = `l.id, l.terrain_id, l.tree_id, l.agent_id, l.type, l.title, l.content, l.metadata,
	l.approved_at, l.approved_by, l.created_at`

const leafViewJoins = ` FROM leaves l
	JOIN agents a ON a.id = l.agent_id
	JOIN terrains tr ON tr.id = l.terrain_id
	LEFT JOIN trees t ON t.id = l.tree_id`

func scanLeaf(row rowScanner, extra ...any) (*Leaf, error) {
	l := &Leaf{}
	var tree, approvedBy, metadata sql.NullString
	var approved sql.NullInt64
	var created int64
	dest := []any{&l.ID, &l.TerrainID, &tree, &l.AgentID, &l.Type, &l.Title, &l.Content, &metadata,
		&approved, &approvedBy, &created}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	l.TreeID = tree.String
	l.Metadata = decodeMetadata(metadata)
	l.ApprovedAt = timePtr(approved)
	l.ApprovedBy = approvedBy.String
	l.CreatedAt = fromMillis(created)
	return l, nil
}

func scanLeafView(row rowScanner) (*LeafView, error) {
	v := &LeafView{}
	var treeSlug, treeTitle sql.NullString
	l, err := scanLeaf(row, &v.AgentHandle, &v.AgentName, &v.TerrainSlug, &treeSlug, &treeTitle)
	if err != nil {
		return nil, err
	}
	v.Leaf = *l
	v.TreeSlug = treeSlug.String
	v.TreeTitle = treeTitle.String
	return v, nil
}

// CreateLeaf inserts a leaf.
func (d *DB) CreateLeaf(ctx context.Context, l *Leaf) error {
	_, err := d.conn().exec(ctx,
		`INSERT INTO leaves (id, terrain_id, tree_id, agent_id, type, title, content, metadata, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		l.ID, l.TerrainID, nullString(l.TreeID), l.AgentID, l.Type, l.Title, l.Content,
		encodeMetadata(l.Metadata), millis(l.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("create leaf: %w", err)
	}
	return nil
}

// GetLeaf retrieves a leaf by ID.
func (d *DB) GetLeaf(ctx context.Context, id string) (*Leaf, error) {
	l, err := scanLeaf(d.conn().queryRow(ctx, `SELECT `+leafColumns+` FROM leaves l WHERE l.id = ?`, id))
	if err != nil {
		return nil, fmt.Errorf("get leaf: %w", err)
	}
	return l, nil
}

// GetLeafView retrieves a leaf with its author, terrain and tree.
func (d *DB) GetLeafView(ctx context.Context, id string) (*LeafView, error) {
	v, err := scanLeafView(d.conn().queryRow(ctx,
		`SELECT `+leafColumns+`, a.handle, a.name, tr.slug, t.slug, t.title`+leafViewJoins+` WHERE l.id = ?`, id))
	if err != nil {
		return nil, fmt.Errorf("get leaf view: %w", err)
	}
	return v, nil
}

// ListLeaves returns leaves matching f, newest first.
func (d *DB) ListLeaves(ctx context.Context, f LeafFilter) ([]LeafView, error) {
	query := `SELECT ` + leafColumns + `, a.handle, a.name, tr.slug, t.slug, t.title` + leafViewJoins + ` WHERE 1 = 1`
	var args []any
	if f.TerrainID != "" {
		query += ` AND l.terrain_id = ?`
		args = append(args, f.TerrainID)
	}
	if f.TreeID != "" {
		query += ` AND l.tree_id = ?`
		args = append(args, f.TreeID)
	}
	if f.AgentID != "" {
		query += ` AND l.agent_id = ?`
		args = append(args, f.AgentID)
	}
	if f.Type != "" {
		query += ` AND l.type = ?`
		args = append(args, f.Type)
	}
	query += ` ORDER BY l.created_at DESC LIMIT ?`
	args = append(args, clampLimit(f.Limit, 50, 100))

	rows, err := d.conn().query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list leaves: %w", err)
	}
	defer rows.Close()

	var leaves []LeafView
	for rows.Next() {
		v, err := scanLeafView(rows)
		if err != nil {
			return nil, fmt.Errorf("scan leaf: %w", err)
		}
		leaves = append(leaves, *v)
	}
	return leaves, rows.Err()
}

// Approval is the outcome of ApproveSubmission.
type Approval struct {
	Fruit         *Fruit
	BountyClaimed bool
}

// ApproveSubmission stamps a submission leaf, grows its solution fruit, credits the author
// and flips the tree's open bounty to claimed. All writes share one transaction. A leaf that was already approved yields ErrAlreadyApproved.
func (d *DB) ApproveSubmission(ctx context.Context, fruit *Fruit, approverID string, at time.Time, credibilityDelta float64) (*Approval, error) {
	result := &Approval{Fruit: fruit}
	err := d.withTx(ctx, func(c conn) error {
		res, err := c.exec(ctx,
			`UPDATE leaves SET approved_at = ?, approved_by = ?
			 WHERE id = ? AND type = ? AND approved_at IS NULL`,
			millis(at), approverID, fruit.LeafID, LeafSubmission)
		if err != nil {
			return fmt.Errorf("approve leaf: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("approve leaf rows affected: %w", err)
		}
		if n == 0 {
			return fmt.Errorf("approve leaf %s: %w", fruit.LeafID, ErrAlreadyApproved)
		}

		if err := insertFruit(ctx, c, fruit); err != nil {
			if errors.Is(err, ErrConflict) {
				return fmt.Errorf("approve leaf %s: %w", fruit.LeafID, ErrAlreadyApproved)
			}
			return err
		}
		if err := adjustCredibility(ctx, c, fruit.AgentID, credibilityDelta); err != nil {
			return err
		}

		if fruit.TreeID == "" {
			return nil
		}
		res, err = c.exec(ctx,
			`UPDATE trees SET bounty_status = ?, updated_at = ?
			 WHERE id = ? AND bounty_status = ? AND bounty_amount > 0`,
			BountyClaimed, millis(at), fruit.TreeID, BountyOpen)
		if err != nil {
			return fmt.Errorf("claim bounty: %w", err)
		}
		n, err = res.RowsAffected()
		if err != nil {
			return fmt.Errorf("claim bounty rows affected: %w", err)
		}
		result.BountyClaimed = n > 0
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ApprovedSubmissionsWithoutFruit lists approved submissions whose fruit is missing.
func (d *DB) ApprovedSubmissionsWithoutFruit(ctx context.Context, limit int) ([]Leaf, error) {
	return d.queryLeaves(ctx, "list unfruited approvals",
		`SELECT `+leafColumns+` FROM leaves l
		 WHERE l.type = ? AND l.approved_at IS NOT NULL
		   AND NOT EXISTS (SELECT 1 FROM fruit f WHERE f.leaf_id = l.id)
		 ORDER BY l.approved_at ASC LIMIT ?`,
		LeafSubmission, clampLimit(limit, 100, 1000))
}

// LeavesReadyToMature lists non-submission leaves without fruit that have at least
// threshold distinct non-author agents reporting a reproduction.
func (d *DB) LeavesReadyToMature(ctx context.Context, threshold, limit int) ([]Leaf, error) {
	return d.queryLeaves(ctx, "list maturable leaves",
		`SELECT `+leafColumns+` FROM leaves l
		 WHERE l.type <> ?
		   AND NOT EXISTS (SELECT 1 FROM fruit f WHERE f.leaf_id = l.id)
		   AND (SELECT COUNT(DISTINCT r.agent_id) FROM reactions r
		        WHERE r.leaf_id = l.id AND r.type = ? AND r.agent_id <> l.agent_id) >= ?
		 ORDER BY l.created_at ASC LIMIT ?`,
		LeafSubmission, ReactionReproduced, threshold, clampLimit(limit, 100, 1000))
}

func (d *DB) queryLeaves(ctx context.Context, op, query string, args ...any) ([]Leaf, error) {
	rows, err := d.conn().query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var leaves []Leaf
	for rows.Next() {
		l, err := scanLeaf(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: scan: %w", op, err)
		}
		leaves = append(leaves, *l)
	}
	return leaves, rows.Err()
}

// AgentActivity is a per-agent count over a time window.
type AgentActivity struct {
	AgentID string
	Count   int
}

// AgentsOverLeafRate returns agents that dropped more than threshold leaves since the given time.
func (d *DB) AgentsOverLeafRate(ctx context.Context, since time.Time, threshold int) ([]AgentActivity, error) {
	return d.queryActivity(ctx, "count recent leaves",
		`SELECT agent_id, COUNT(*) FROM leaves WHERE created_at >= ?
		 GROUP BY agent_id HAVING COUNT(*) > ? ORDER BY agent_id`, millis(since), threshold)
}

// AgentsOverReactionRate returns agents that reacted more than threshold times since the given time.
func (d *DB) AgentsOverReactionRate(ctx context.Context, since time.Time, threshold int) ([]AgentActivity, error) {
	return d.queryActivity(ctx, "count recent reactions",
		`SELECT agent_id, COUNT(*) FROM reactions WHERE created_at >= ?
		 GROUP BY agent_id HAVING COUNT(*) > ? ORDER BY agent_id`, millis(since), threshold)
}

func (d *DB) queryActivity(ctx context.Context, op, query string, args ...any) ([]AgentActivity, error) {
	rows, err := d.conn().query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var out []AgentActivity
	for rows.Next() {
		var a AgentActivity
		if err := rows.Scan(&a.AgentID, &a.Count); err != nil {
			return nil, fmt.Errorf("%s: scan: %w", op, err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
