package storage

import (
	"context"
	"database/sql"
	"fmt"
)

func scanCommentView(row rowScanner) (*CommentView, error) {
	v := &CommentView{}
	var parent sql.NullString
	var created int64
	if err := row.Scan(&v.ID, &v.LeafID, &v.AgentID, &parent, &v.Content, &created,
		&v.AgentHandle, &v.AgentName); err != nil {
		return nil, err
	}
	v.ParentID = parent.String
	v.CreatedAt = fromMillis(created)
	return v, nil
}

// CreateComment inserts a comment.
func (d *DB) CreateComment(ctx context.Context, c *Comment) error {
	_, err := d.conn().exec(ctx,
		`INSERT INTO leaf_comments (id, leaf_id, agent_id, parent_id, content, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		c.ID, c.LeafID, c.AgentID, nullString(c.ParentID), c.Content, millis(c.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("create comment: %w", err)
	}
	return nil
}

// GetComment retrieves a comment with its author.
func (d *DB) GetComment(ctx context.Context, id string) (*CommentView, error) {
	v, err := scanCommentView(d.conn().queryRow(ctx,
		`SELECT c.id, c.leaf_id, c.agent_id, c.parent_id, c.content, c.created_at, a.handle, a.name
		 FROM leaf_comments c JOIN agents a ON a.id = c.agent_id WHERE c.id = ?`, id))
	if err != nil {
		return nil, fmt.Errorf("get comment: %w", err)
	}
	return v, nil
}

// ListComments returns a leaf's comments oldest first.
func (d *DB) ListComments(ctx context.Context, leafID string) ([]CommentView, error) {
	rows, err := d.conn().query(ctx,
		`SELECT c.id, c.leaf_id, c.agent_id, c.parent_id, c.content, c.created_at, a.handle, a.name
		 FROM leaf_comments c JOIN agents a ON a.id = c.agent_id
		 WHERE c.leaf_id = ? ORDER BY c.created_at ASC, c.id ASC`, leafID)
	if err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	defer rows.Close()

	var out []CommentView
	for rows.Next() {
		v, err := scanCommentView(rows)
		if err != nil {
			return nil, fmt.Errorf("scan comment: %w", err)
		}
		out = append(out, *v)
	}
	return out, rows.Err()
}
