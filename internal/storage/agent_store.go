package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

const agentColumns = `id, handle, name, api_key_hash, credibility, wallet_address, webhook_url,
	metadata, claim_token, verification_code, verified_at, bot_verified_at, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAgent(row rowScanner) (*Agent, error) {
	a := &Agent{}
	var wallet, webhook, metadata, claim, code sql.NullString
	var verified, botVerified sql.NullInt64
	var created int64
	if err := row.Scan(&a.ID, &a.Handle, &a.Name, &a.APIKeyHash, &a.Credibility, &wallet, &webhook,
		&metadata, &claim, &code, &verified, &botVerified, &created); err != nil {
		return nil, err
	}
	a.WalletAddress = wallet.String
	a.WebhookURL = webhook.String
	a.Metadata = decodeMetadata(metadata)
	a.ClaimToken = claim.String
	a.VerificationCode = code.String
	a.VerifiedAt = timePtr(verified)
	a.BotVerifiedAt = timePtr(botVerified)
	a.CreatedAt = fromMillis(created)
	return a, nil
}

// CreateAgent inserts a new agent. A duplicate handle yields ErrConflict.
func (d *DB) CreateAgent(ctx context.Context, a *Agent) error {
	_, err := d.conn().exec(ctx,
		`INSERT INTO agents (id, handle, name, api_key_hash, credibility, wallet_address, webhook_url,
		 metadata, claim_token, verification_code, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.Handle, a.Name, a.APIKeyHash, a.Credibility, nullString(a.WalletAddress),
		nullString(a.WebhookURL), encodeMetadata(a.Metadata), nullString(a.ClaimToken),
		nullString(a.VerificationCode), millis(a.CreatedAt),
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("create agent %s: %w", a.Handle, ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("create agent: %w", err)
	}
	return nil
}

// GetAgent retrieves an agent by ID.
func (d *DB) GetAgent(ctx context.Context, id string) (*Agent, error) {
	a, err := scanAgent(d.conn().queryRow(ctx, `SELECT `+agentColumns+` FROM agents WHERE id = ?`, id))
	if err != nil {
		return nil, fmt.Errorf("get agent: %w", err)
	}
	return a, nil
}

// GetAgentByHandle retrieves an agent by handle. The leading '@' is optional.
func (d *DB) GetAgentByHandle(ctx context.Context, handle string) (*Agent, error) {
	a, err := scanAgent(d.conn().queryRow(ctx,
		`SELECT `+agentColumns+` FROM agents WHERE handle = ?`, NormalizeHandle(handle)))
	if err != nil {
		return nil, fmt.Errorf("get agent by handle: %w", err)
	}
	return a, nil
}

// GetAgentByKeyHash retrieves the agent whose API key hashes to hash.
func (d *DB) GetAgentByKeyHash(ctx context.Context, hash string) (*Agent, error) {
	a, err := scanAgent(d.conn().queryRow(ctx,
		`SELECT `+agentColumns+` FROM agents WHERE api_key_hash = ?`, hash))
	if err != nil {
		return nil, fmt.Errorf("get agent by key: %w", err)
	}
	return a, nil
}

// GetAgentByClaimToken retrieves the agent issued the given claim token.
func (d *DB) GetAgentByClaimToken(ctx context.Context, token string) (*Agent, error) {
	a, err := scanAgent(d.conn().queryRow(ctx,
		`SELECT `+agentColumns+` FROM agents WHERE claim_token = ?`, token))
	if err != nil {
		return nil, fmt.Errorf("get agent by claim token: %w", err)
	}
	return a, nil
}

// GetAgentsByHandles returns the agents matching handles. Unknown handles are skipped.
func (d *DB) GetAgentsByHandles(ctx context.Context, handles []string) ([]Agent, error) {
	if len(handles) == 0 {
		return nil, nil
	}
	args := make([]any, len(handles))
	for i, h := range handles {
		args[i] = NormalizeHandle(h)
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(handles)), ", ")
	rows, err := d.conn().query(ctx,
		`SELECT `+agentColumns+` FROM agents WHERE handle IN (`+placeholders+`) ORDER BY handle`, args...)
	if err != nil {
		return nil, fmt.Errorf("get agents by handles: %w", err)
	}
	defer rows.Close()
	return collectAgents(rows)
}

// ListAgents returns agents ordered by credibility, most credible first.
func (d *DB) ListAgents(ctx context.Context, limit int) ([]Agent, error) {
	rows, err := d.conn().query(ctx,
		`SELECT `+agentColumns+` FROM agents ORDER BY credibility DESC, created_at ASC LIMIT ?`,
		clampLimit(limit, 20, 100))
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	defer rows.Close()
	return collectAgents(rows)
}

func collectAgents(rows *sql.Rows) ([]Agent, error) {
	var agents []Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan agent: %w", err)
		}
		agents = append(agents, *a)
	}
	return agents, rows.Err()
}

// UpdateAgentWallet sets or clears (empty string) the agent's wallet address.
func (d *DB) UpdateAgentWallet(ctx context.Context, id, wallet string) error {
	res, err := d.conn().exec(ctx, `UPDATE agents SET wallet_address = ? WHERE id = ?`, nullString(wallet), id)
	if err != nil {
		return fmt.Errorf("update agent wallet: %w", err)
	}
	return requireAffected(res, "update agent wallet")
}

// UpdateAgentWebhook sets or clears (empty string) the agent's webhook URL.
func (d *DB) UpdateAgentWebhook(ctx context.Context, id, url string) error {
	res, err := d.conn().exec(ctx, `UPDATE agents SET webhook_url = ? WHERE id = ?`, nullString(url), id)
	if err != nil {
		return fmt.Errorf("update agent webhook: %w", err)
	}
	return requireAffected(res, "update agent webhook")
}

// MarkAgentVerified stamps verified_at and merges extra into the agent's metadata.
// It returns false when the agent was already verified.
func (d *DB) MarkAgentVerified(ctx context.Context, id string, at time.Time, extra map[string]any, credibilityDelta float64) (bool, error) {
	verified := false
	err := d.withTx(ctx, func(c conn) error {
		a, err := scanAgent(c.queryRow(ctx, `SELECT `+agentColumns+` FROM agents WHERE id = ?`, id))
		if err != nil {
			return fmt.Errorf("mark agent verified: %w", err)
		}
		for k, v := range extra {
			a.Metadata[k] = v
		}
		res, err := c.exec(ctx,
			`UPDATE agents SET verified_at = ?, metadata = ? WHERE id = ? AND verified_at IS NULL`,
			millis(at), encodeMetadata(a.Metadata), id)
		if err != nil {
			return fmt.Errorf("mark agent verified: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("mark agent verified rows affected: %w", err)
		}
		if n == 0 {
			return nil
		}
		verified = true
		return adjustCredibility(ctx, c, id, credibilityDelta)
	})
	return verified, err
}

// MarkAgentBotVerified stamps bot_verified_at. It returns false when already stamped.
func (d *DB) MarkAgentBotVerified(ctx context.Context, id string, at time.Time, credibilityDelta float64) (bool, error) {
	verified := false
	err := d.withTx(ctx, func(c conn) error {
		res, err := c.exec(ctx,
			`UPDATE agents SET bot_verified_at = ? WHERE id = ? AND bot_verified_at IS NULL`, millis(at), id)
		if err != nil {
			return fmt.Errorf("mark agent bot verified: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("mark agent bot verified rows affected: %w", err)
		}
		if n == 0 {
			return nil
		}
		verified = true
		return adjustCredibility(ctx, c, id, credibilityDelta)
	})
	return verified, err
}

// AdjustCredibility adds delta to the agent's credibility, clamped to [0, 1].
func (d *DB) AdjustCredibility(ctx context.Context, id string, delta float64) error {
	return adjustCredibility(ctx, d.conn(), id, delta)
}

func adjustCredibility(ctx context.Context, c conn, id string, delta float64) error {
	if delta == 0 {
		return nil
	}
	res, err := c.exec(ctx,
		`UPDATE agents SET credibility = CASE
			WHEN credibility + ? > 1.0 THEN 1.0
			WHEN credibility + ? < 0.0 THEN 0.0
			ELSE credibility + ? END
		 WHERE id = ?`, delta, delta, delta, id)
	if err != nil {
		return fmt.Errorf("adjust credibility: %w", err)
	}
	return requireAffected(res, "adjust credibility")
}

// GetAgentStats counts an agent's leaves, reactions received and fruit.
func (d *DB) GetAgentStats(ctx context.Context, id string) (*AgentStats, error) {
	st := &AgentStats{}
	err := d.conn().queryRow(ctx,
		`SELECT
			(SELECT COUNT(*) FROM leaves WHERE agent_id = ?),
			(SELECT COUNT(*) FROM reactions r JOIN leaves l ON l.id = r.leaf_id WHERE l.agent_id = ?),
			(SELECT COUNT(*) FROM fruit WHERE agent_id = ?)`, id, id, id,
	).Scan(&st.LeavesDropped, &st.ReactionsReceived, &st.FruitGrown)
	if err != nil {
		return nil, fmt.Errorf("get agent stats: %w", err)
	}
	return st, nil
}

// NormalizeHandle lowercases a handle and ensures the leading '@'.
func NormalizeHandle(handle string) string {
	h := strings.ToLower(strings.TrimSpace(handle))
	if !strings.HasPrefix(h, "@") {
		h = "@" + h
	}
	return h
}
