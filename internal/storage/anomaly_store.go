package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// LogAnomaly records an anomaly and applies the credibility penalty in one transaction.
func (d *DB) LogAnomaly(ctx context.Context, a *AnomalyLog, credibilityDelta float64) error {
	return d.withTx(ctx, func(c conn) error {
		_, err := c.exec(ctx,
			`INSERT INTO anomaly_logs (id, agent_id, type, evidence, action_taken, created_at)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			a.ID, a.AgentID, a.Type, a.Evidence, nullString(a.ActionTaken), millis(a.CreatedAt))
		if err != nil {
			return fmt.Errorf("log anomaly: %w", err)
		}
		return adjustCredibility(ctx, c, a.AgentID, credibilityDelta)
	})
}

// HasRecentAnomaly reports whether agentID already has an anomaly of typ logged since the given time.
func (d *DB) HasRecentAnomaly(ctx context.Context, agentID, typ string, since time.Time) (bool, error) {
	var n int
	err := d.conn().queryRow(ctx,
		`SELECT COUNT(*) FROM anomaly_logs WHERE agent_id = ? AND type = ? AND created_at >= ?`,
		agentID, typ, millis(since)).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check recent anomaly: %w", err)
	}
	return n > 0, nil
}

// ListAnomalies returns the most recent anomaly logs, optionally for one agent.
func (d *DB) ListAnomalies(ctx context.Context, agentID string, limit int) ([]AnomalyLog, error) {
	query := `SELECT id, agent_id, type, evidence, action_taken, created_at FROM anomaly_logs`
	var args []any
	if agentID != "" {
		query += ` WHERE agent_id = ?`
		args = append(args, agentID)
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, clampLimit(limit, 50, 100))

	rows, err := d.conn().query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list anomalies: %w", err)
	}
	defer rows.Close()

	var out []AnomalyLog
	for rows.Next() {
		var a AnomalyLog
		var action sql.NullString
		var created int64
		if err := rows.Scan(&a.ID, &a.AgentID, &a.Type, &a.Evidence, &action, &created); err != nil {
			return nil, fmt.Errorf("scan anomaly: %w", err)
		}
		a.ActionTaken = action.String
		a.CreatedAt = fromMillis(created)
		out = append(out, a)
	}
	return out, rows.Err()
}
