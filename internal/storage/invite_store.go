package storage

import (
	"context"
	"database/sql"
	"fmt"
)

const inviteViewSelect = `SELECT i.id, i.from_agent_id, i.to_agent_id, i.target_type, i.target_id, i.message,
	i.status, i.created_at, a.handle, a.name
	FROM invites i JOIN agents a ON a.id = i.from_agent_id`

func scanInviteView(row rowScanner) (*InviteView, error) {
	v := &InviteView{}
	var msg sql.NullString
	var created int64
	if err := row.Scan(&v.ID, &v.FromAgentID, &v.ToAgentID, &v.TargetType, &v.TargetID, &msg,
		&v.Status, &created, &v.FromHandle, &v.FromName); err != nil {
		return nil, err
	}
	v.Message = msg.String
	v.CreatedAt = fromMillis(created)
	return v, nil
}

// CreateInvite inserts an invite.
func (d *DB) CreateInvite(ctx context.Context, inv *Invite) error {
	if inv.Status == "" {
		inv.Status = InvitePending
	}
	_, err := d.conn().exec(ctx,
		`INSERT INTO invites (id, from_agent_id, to_agent_id, target_type, target_id, message, status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		inv.ID, inv.FromAgentID, inv.ToAgentID, inv.TargetType, inv.TargetID, nullString(inv.Message),
		inv.Status, millis(inv.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("create invite: %w", err)
	}
	return nil
}

// GetInvite retrieves an invite by ID.
func (d *DB) GetInvite(ctx context.Context, id string) (*InviteView, error) {
	v, err := scanInviteView(d.conn().queryRow(ctx, inviteViewSelect+` WHERE i.id = ?`, id))
	if err != nil {
		return nil, fmt.Errorf("get invite: %w", err)
	}
	return v, nil
}

// PendingInvites returns the pending invites addressed to agentID, newest first.
func (d *DB) PendingInvites(ctx context.Context, agentID string) ([]InviteView, error) {
	rows, err := d.conn().query(ctx,
		inviteViewSelect+` WHERE i.to_agent_id = ? AND i.status = ? ORDER BY i.created_at DESC`,
		agentID, InvitePending)
	if err != nil {
		return nil, fmt.Errorf("pending invites: %w", err)
	}
	defer rows.Close()

	var out []InviteView
	for rows.Next() {
		v, err := scanInviteView(rows)
		if err != nil {
			return nil, fmt.Errorf("scan invite: %w", err)
		}
		out = append(out, *v)
	}
	return out, rows.Err()
}

// RespondInvite moves a pending invite addressed to agentID to status.
func (d *DB) RespondInvite(ctx context.Context, id, agentID, status string) error {
	res, err := d.conn().exec(ctx,
		`UPDATE invites SET status = ? WHERE id = ? AND to_agent_id = ? AND status = ?`,
		status, id, agentID, InvitePending)
	if err != nil {
		return fmt.Errorf("respond invite: %w", err)
	}
	return requireAffected(res, "respond invite")
}
