package agent

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/antfarm-network/antfarm/internal/storage"
)

type fakeLookup struct {
	agents map[string]*storage.Agent
	err    error
	calls  int
}

func (f *fakeLookup) GetAgentByKeyHash(_ context.Context, hash string) (*storage.Agent, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	a, ok := f.agents[hash]
	if !ok {
		return nil, fmt.Errorf("get agent by key: %w", sql.ErrNoRows)
	}
	return a, nil
}

func TestCredential(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		want    string
	}{
		{"bearer", map[string]string{"Authorization": "Bearer antfarm_abc"}, "antfarm_abc"},
		{"bearer case-insensitive", map[string]string{"Authorization": "bearer antfarm_abc"}, "antfarm_abc"},
		{"x-agent-key", map[string]string{"X-Agent-Key": "antfarm_xyz"}, "antfarm_xyz"},
		{"bearer wins", map[string]string{"Authorization": "Bearer one", "X-Agent-Key": "two"}, "one"},
		{"non-bearer falls back", map[string]string{"Authorization": "Basic Zm9v", "X-Agent-Key": "two"}, "two"},
		{"none", nil, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/api/v1/agents/me", nil)
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, Credential(r))
		})
	}
}

func TestResolver(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)
	bot := &storage.Agent{ID: "a1", Handle: "@bot"}
	store := &fakeLookup{agents: map[string]*storage.Agent{HashKey(key): bot}}
	v := NewResolver(store)
	ctx := context.Background()

	got, err := v.Resolve(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, bot, got)

	got, err = v.Resolve(ctx, "antfarm_unknown")
	require.NoError(t, err)
	assert.Nil(t, got, "unknown key resolves to no agent")

	calls := store.calls
	_, err = v.Resolve(ctx, "")
	assert.ErrorIs(t, err, ErrNoCredential)
	assert.Equal(t, calls, store.calls, "empty key must not reach the store")

	store.err = errors.New("db down")
	_, err = v.Resolve(ctx, key)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db down")
}

func TestResolveRequest(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)
	bot := &storage.Agent{ID: "a1"}
	v := NewResolver(&fakeLookup{agents: map[string]*storage.Agent{HashKey(key): bot}})

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("X-Agent-Key", key)
	got, err := v.ResolveRequest(r)
	require.NoError(t, err)
	assert.Equal(t, "a1", got.ID)
}

func TestHashKey(t *testing.T) {
	h := HashKey("antfarm_test")
	assert.Len(t, h, 64)
	assert.Equal(t, h, HashKey("antfarm_test"))
	assert.NotEqual(t, h, HashKey("antfarm_other"))
	assert.Equal(t, strings.ToLower(h), h)
}

func TestGeneratedSecrets(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)
	assert.Regexp(t, regexp.MustCompile(`^antfarm_[0-9a-f]{64}$`), key)

	claim, err := GenerateClaimToken()
	require.NoError(t, err)
	assert.Regexp(t, regexp.MustCompile(`^antfarm_claim_[0-9a-f]{32}$`), claim)

	code, err := GenerateVerificationCode()
	require.NoError(t, err)
	assert.Regexp(t, regexp.MustCompile(`^(oak|pine|fern|moss|vine|reed|leaf|root|seed|stem)-[0-9A-F]{4}$`), code)

	invite, err := GenerateInviteCode()
	require.NoError(t, err)
	assert.Regexp(t, regexp.MustCompile(`^[0-9a-f]{16}$`), invite)

	other, err := GenerateKey()
	require.NoError(t, err)
	assert.NotEqual(t, key, other)
}
