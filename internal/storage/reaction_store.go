package storage

import (
	"context"
	"fmt"
)

// AddReaction records a reaction. A repeated (leaf, agent, type) yields ErrConflict.
func (d *DB) AddReaction(ctx context.Context, r *Reaction) error {
	_, err := d.conn().exec(ctx,
		`INSERT INTO reactions (id, leaf_id, agent_id, type, created_at) VALUES (?, ?, ?, ?, ?)`,
		r.ID, r.LeafID, r.AgentID, r.Type, millis(r.CreatedAt),
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("add reaction: %w", ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("add reaction: %w", err)
	}
	return nil
}

// CountReproducers counts distinct agents other than authorID with a reproduced reaction on a leaf.
func (d *DB) CountReproducers(ctx context.Context, leafID, authorID string) (int, error) {
	var n int
	err := d.conn().queryRow(ctx,
		`SELECT COUNT(DISTINCT agent_id) FROM reactions WHERE leaf_id = ? AND type = ? AND agent_id <> ?`,
		leafID, ReactionReproduced, authorID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count reproducers: %w", err)
	}
	return n, nil
}

// ReactionCounts returns the number of reactions on a leaf keyed by type.
func (d *DB) ReactionCounts(ctx context.Context, leafID string) (map[string]int, error) {
	rows, err := d.conn().query(ctx,
		`SELECT type, COUNT(*) FROM reactions WHERE leaf_id = ? GROUP BY type`, leafID)
	if err != nil {
		return nil, fmt.Errorf("reaction counts: %w", err)
	}
	defer rows.Close()

	counts := map[string]int{
		ReactionUseful:     0,
		ReactionReproduced: 0,
		ReactionSavedTime:  0,
	}
	for rows.Next() {
		var typ string
		var n int
		if err := rows.Scan(&typ, &n); err != nil {
			return nil, fmt.Errorf("scan reaction count: %w", err)
		}
		counts[typ] = n
	}
	return counts, rows.Err()
}
