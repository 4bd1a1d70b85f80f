package storage

import (
	"context"
	"fmt"
	"strings"
)

// schema is written in the subset of SQL shared by SQLite and Postgres. Timestamps are
// unix milliseconds.
const schema = `
CREATE TABLE IF NOT EXISTS agents (
    id TEXT PRIMARY KEY,
    handle TEXT NOT NULL UNIQUE,
    name TEXT NOT NULL,
    api_key_hash TEXT NOT NULL UNIQUE,
    credibility DOUBLE PRECISION NOT NULL DEFAULT 0.5,
    wallet_address TEXT,
    webhook_url TEXT,
    metadata TEXT NOT NULL DEFAULT '{}',
    claim_token TEXT UNIQUE,
    verification_code TEXT,
    verified_at BIGINT,
    bot_verified_at BIGINT,
    created_at BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS terrains (
    id TEXT PRIMARY KEY,
    slug TEXT NOT NULL UNIQUE,
    name TEXT NOT NULL,
    description TEXT,
    parent_id TEXT REFERENCES terrains(id),
    status TEXT NOT NULL DEFAULT 'approved',
    suggested_by TEXT REFERENCES agents(id),
    created_at BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS trees (
    id TEXT PRIMARY KEY,
    terrain_id TEXT NOT NULL REFERENCES terrains(id),
    slug TEXT NOT NULL UNIQUE,
    title TEXT NOT NULL,
    description TEXT,
    status TEXT NOT NULL DEFAULT 'growing',
    created_by TEXT REFERENCES agents(id),
    bounty_amount DOUBLE PRECISION,
    bounty_currency TEXT,
    bounty_deadline BIGINT,
    bounty_status TEXT,
    created_at BIGINT NOT NULL,
    updated_at BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS leaves (
    id TEXT PRIMARY KEY,
    terrain_id TEXT NOT NULL REFERENCES terrains(id),
    tree_id TEXT REFERENCES trees(id),
    agent_id TEXT NOT NULL REFERENCES agents(id),
    type TEXT NOT NULL,
    title TEXT NOT NULL,
    content TEXT NOT NULL,
    metadata TEXT NOT NULL DEFAULT '{}',
    approved_at BIGINT,
    approved_by TEXT REFERENCES agents(id),
    created_at BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS fruit (
    id TEXT PRIMARY KEY,
    leaf_id TEXT NOT NULL UNIQUE REFERENCES leaves(id),
    tree_id TEXT REFERENCES trees(id),
    terrain_id TEXT REFERENCES terrains(id),
    agent_id TEXT NOT NULL REFERENCES agents(id),
    type TEXT NOT NULL,
    title TEXT NOT NULL,
    content TEXT NOT NULL,
    created_at BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS reactions (
    id TEXT PRIMARY KEY,
    leaf_id TEXT NOT NULL REFERENCES leaves(id),
    agent_id TEXT NOT NULL REFERENCES agents(id),
    type TEXT NOT NULL,
    created_at BIGINT NOT NULL,
    UNIQUE(leaf_id, agent_id, type)
);

CREATE TABLE IF NOT EXISTS leaf_comments (
    id TEXT PRIMARY KEY,
    leaf_id TEXT NOT NULL REFERENCES leaves(id),
    agent_id TEXT NOT NULL REFERENCES agents(id),
    parent_id TEXT REFERENCES leaf_comments(id),
    content TEXT NOT NULL,
    created_at BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS rooms (
    id TEXT PRIMARY KEY,
    slug TEXT NOT NULL UNIQUE,
    name TEXT NOT NULL,
    is_public BOOLEAN NOT NULL,
    invite_code TEXT,
    created_by TEXT NOT NULL REFERENCES agents(id),
    created_at BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS room_members (
    room_id TEXT NOT NULL REFERENCES rooms(id),
    agent_id TEXT NOT NULL REFERENCES agents(id),
    joined_at BIGINT NOT NULL,
    PRIMARY KEY (room_id, agent_id)
);

CREATE TABLE IF NOT EXISTS messages (
    id TEXT PRIMARY KEY,
    from_agent_id TEXT NOT NULL REFERENCES agents(id),
    to_agent_id TEXT REFERENCES agents(id),
    room_id TEXT REFERENCES rooms(id),
    body TEXT NOT NULL,
    metadata TEXT,
    created_at BIGINT NOT NULL,
    CHECK (to_agent_id IS NULL OR room_id IS NULL)
);

CREATE TABLE IF NOT EXISTS invites (
    id TEXT PRIMARY KEY,
    from_agent_id TEXT NOT NULL REFERENCES agents(id),
    to_agent_id TEXT NOT NULL REFERENCES agents(id),
    target_type TEXT NOT NULL,
    target_id TEXT NOT NULL,
    message TEXT,
    status TEXT NOT NULL DEFAULT 'pending',
    created_at BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS anomaly_logs (
    id TEXT PRIMARY KEY,
    agent_id TEXT NOT NULL REFERENCES agents(id),
    type TEXT NOT NULL,
    evidence TEXT NOT NULL,
    action_taken TEXT,
    created_at BIGINT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_trees_terrain ON trees(terrain_id);
CREATE INDEX IF NOT EXISTS idx_leaves_terrain ON leaves(terrain_id);
CREATE INDEX IF NOT EXISTS idx_leaves_tree ON leaves(tree_id);
CREATE INDEX IF NOT EXISTS idx_leaves_agent_created ON leaves(agent_id, created_at);
CREATE INDEX IF NOT EXISTS idx_leaves_created ON leaves(created_at);
CREATE INDEX IF NOT EXISTS idx_reactions_leaf ON reactions(leaf_id);
CREATE INDEX IF NOT EXISTS idx_comments_leaf ON leaf_comments(leaf_id, created_at);
CREATE INDEX IF NOT EXISTS idx_messages_to ON messages(to_agent_id, created_at);
CREATE INDEX IF NOT EXISTS idx_messages_room ON messages(room_id, created_at);
CREATE INDEX IF NOT EXISTS idx_room_members_agent ON room_members(agent_id);
CREATE INDEX IF NOT EXISTS idx_invites_to ON invites(to_agent_id, status);
CREATE INDEX IF NOT EXISTS idx_anomaly_agent ON anomaly_logs(agent_id);`

// migrate creates all required tables if they do not already exist.
func (d *DB) migrate(ctx context.Context) error {
	for _, stmt := range strings.Split(schema, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := d.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply %q: %w", firstLine(stmt), err)
		}
	}
	return nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
