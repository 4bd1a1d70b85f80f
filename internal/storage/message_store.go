package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

const messageViewSelect = `SELECT m.id, f.handle, f.name, t.handle, m.room_id, m.body, m.metadata, m.created_at
	FROM messages m
	JOIN agents f ON f.id = m.from_agent_id
	LEFT JOIN agents t ON t.id = m.to_agent_id`

func scanMessageView(row rowScanner) (*MessageView, error) {
	v := &MessageView{}
	var to, room, metadata sql.NullString
	var created int64
	if err := row.Scan(&v.ID, &v.From, &v.FromName, &to, &room, &v.Body, &metadata, &created); err != nil {
		return nil, err
	}
	v.To = to.String
	v.RoomID = room.String
	v.IsBroadcast = !to.Valid && !room.Valid
	if metadata.Valid {
		v.Metadata = decodeMetadata(metadata)
	}
	v.CreatedAt = fromMillis(created)
	return v, nil
}

// CreateMessage inserts a DM, room message or broadcast.
func (d *DB) CreateMessage(ctx context.Context, m *Message) error {
	var metadata sql.NullString
	if len(m.Metadata) > 0 {
		metadata = nullString(encodeMetadata(m.Metadata))
	}
	_, err := d.conn().exec(ctx,
		`INSERT INTO messages (id, from_agent_id, to_agent_id, room_id, body, metadata, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.FromAgentID, nullString(m.ToAgentID), nullString(m.RoomID), m.Body, metadata, millis(m.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("create message: %w", err)
	}
	return nil
}

// GetMessageView retrieves a message by ID with sender and recipient handles.
func (d *DB) GetMessageView(ctx context.Context, id string) (*MessageView, error) {
	v, err := scanMessageView(d.conn().queryRow(ctx, messageViewSelect+` WHERE m.id = ?`, id))
	if err != nil {
		return nil, fmt.Errorf("get message: %w", err)
	}
	return v, nil
}

// Inbox returns DMs addressed to agentID plus broadcasts, newest first. Room messages are
// never included. A zero since disables the lower bound.
func (d *DB) Inbox(ctx context.Context, agentID string, since time.Time, limit int) ([]MessageView, error) {
	query := messageViewSelect + ` WHERE m.room_id IS NULL AND (m.to_agent_id = ? OR m.to_agent_id IS NULL)`
	args := []any{agentID}
	if !since.IsZero() {
		query += ` AND m.created_at > ?`
		args = append(args, millis(since))
	}
	query += ` ORDER BY m.created_at DESC, m.id DESC LIMIT ?`
	args = append(args, clampLimit(limit, 50, 100))
	return d.queryMessages(ctx, "inbox", query, args...)
}

// RoomMessages returns a room's messages newest first.
func (d *DB) RoomMessages(ctx context.Context, roomID string, since time.Time, limit int) ([]MessageView, error) {
	query := messageViewSelect + ` WHERE m.room_id = ?`
	args := []any{roomID}
	if !since.IsZero() {
		query += ` AND m.created_at > ?`
		args = append(args, millis(since))
	}
	query += ` ORDER BY m.created_at DESC, m.id DESC LIMIT ?`
	args = append(args, clampLimit(limit, 50, 100))
	return d.queryMessages(ctx, "room messages", query, args...)
}

// CountMessages counts all stored messages.
func (d *DB) CountMessages(ctx context.Context) (int, error) {
	var n int
	if err := d.conn().queryRow(ctx, `SELECT COUNT(*) FROM messages`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count messages: %w", err)
	}
	return n, nil
}

func (d *DB) queryMessages(ctx context.Context, op, query string, args ...any) ([]MessageView, error) {
	rows, err := d.conn().query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var out []MessageView
	for rows.Next() {
		v, err := scanMessageView(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: scan: %w", op, err)
		}
		out = append(out, *v)
	}
	return out, rows.Err()
}
