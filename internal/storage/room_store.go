package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

const roomColumns = `r.id, r.slug, r.name, r.is_public, r.invite_code, r.created_by, r.created_at`

func scanRoom(row rowScanner, extra ...any) (*Room, error) {
	r := &Room{}
	var code sql.NullString
	var created int64
	dest := []any{&r.ID, &r.Slug, &r.Name, &r.IsPublic, &code, &r.CreatedBy, &created}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	r.InviteCode = code.String
	r.CreatedAt = fromMillis(created)
	return r, nil
}

// CreateRoom inserts a room and its initial members in one transaction. A duplicate
// slug yields ErrConflict. Repeated member IDs are stored once.
func (d *DB) CreateRoom(ctx context.Context, r *Room, memberIDs []string) error {
	return d.withTx(ctx, func(c conn) error {
		_, err := c.exec(ctx,
			`INSERT INTO rooms (id, slug, name, is_public, invite_code, created_by, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			r.ID, r.Slug, r.Name, r.IsPublic, nullString(r.InviteCode), r.CreatedBy, millis(r.CreatedAt),
		)
		if isUniqueViolation(err) {
			return fmt.Errorf("create room %s: %w", r.Slug, ErrConflict)
		}
		if err != nil {
			return fmt.Errorf("create room: %w", err)
		}
		for _, id := range append([]string{r.CreatedBy}, memberIDs...) {
			if _, err := addRoomMember(ctx, c, r.ID, id, r.CreatedAt); err != nil {
				return err
			}
		}
		return nil
	})
}

// GetRoom retrieves a room by ID or slug.
func (d *DB) GetRoom(ctx context.Context, idOrSlug string) (*Room, error) {
	r, err := scanRoom(d.conn().queryRow(ctx,
		`SELECT `+roomColumns+` FROM rooms r WHERE r.id = ? OR r.slug = ?`, idOrSlug, idOrSlug))
	if err != nil {
		return nil, fmt.Errorf("get room: %w", err)
	}
	return r, nil
}

// AddRoomMember adds agentID to a room. It reports false when the agent was already a member.
func (d *DB) AddRoomMember(ctx context.Context, roomID, agentID string, at time.Time) (bool, error) {
	return addRoomMember(ctx, d.conn(), roomID, agentID, at)
}

func addRoomMember(ctx context.Context, c conn, roomID, agentID string, at time.Time) (bool, error) {
	res, err := c.exec(ctx,
		`INSERT INTO room_members (room_id, agent_id, joined_at) VALUES (?, ?, ?)
		 ON CONFLICT (room_id, agent_id) DO NOTHING`,
		roomID, agentID, millis(at))
	if err != nil {
		return false, fmt.Errorf("add room member: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("add room member rows affected: %w", err)
	}
	return n > 0, nil
}

// IsRoomMember reports whether agentID belongs to a room.
func (d *DB) IsRoomMember(ctx context.Context, roomID, agentID string) (bool, error) {
	var n int
	err := d.conn().queryRow(ctx,
		`SELECT COUNT(*) FROM room_members WHERE room_id = ? AND agent_id = ?`, roomID, agentID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check room member: %w", err)
	}
	return n > 0, nil
}

// CountRoomMembers counts a room's members.
func (d *DB) CountRoomMembers(ctx context.Context, roomID string) (int, error) {
	var n int
	if err := d.conn().queryRow(ctx, `SELECT COUNT(*) FROM room_members WHERE room_id = ?`, roomID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count room members: %w", err)
	}
	return n, nil
}

// ListRoomsForAgent returns the rooms agentID belongs to, most recently joined first.
func (d *DB) ListRoomsForAgent(ctx context.Context, agentID string) ([]RoomSummary, error) {
	return d.queryRooms(ctx, "list agent rooms",
		`SELECT `+roomColumns+`, (SELECT COUNT(*) FROM room_members c WHERE c.room_id = r.id)
		 FROM rooms r JOIN room_members m ON m.room_id = r.id
		 WHERE m.agent_id = ? ORDER BY m.joined_at DESC`, agentID)
}

// ListPublicRooms returns public rooms, largest first.
func (d *DB) ListPublicRooms(ctx context.Context, limit int) ([]RoomSummary, error) {
	return d.queryRooms(ctx, "list public rooms",
		`SELECT `+roomColumns+`, (SELECT COUNT(*) FROM room_members c WHERE c.room_id = r.id) AS member_count
		 FROM rooms r WHERE r.is_public = ? ORDER BY member_count DESC, r.created_at ASC LIMIT ?`,
		true, clampLimit(limit, 50, 100))
}

func (d *DB) queryRooms(ctx context.Context, op, query string, args ...any) ([]RoomSummary, error) {
	rows, err := d.conn().query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var out []RoomSummary
	for rows.Next() {
		var s RoomSummary
		r, err := scanRoom(rows, &s.MemberCount)
		if err != nil {
			return nil, fmt.Errorf("%s: scan: %w", op, err)
		}
		s.Room = *r
		out = append(out, s)
	}
	return out, rows.Err()
}
