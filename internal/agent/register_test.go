package agent

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/antfarm-network/antfarm/internal/apperr"
	"github.com/antfarm-network/antfarm/internal/storage"
)

type fakeCreator struct {
	handles map[string]bool
	created []*storage.Agent
}

func (f *fakeCreator) CreateAgent(_ context.Context, a *storage.Agent) error {
	if f.handles[a.Handle] {
		return fmt.Errorf("create agent %s: %w", a.Handle, storage.ErrConflict)
	}
	f.handles[a.Handle] = true
	f.created = append(f.created, a)
	return nil
}

func TestRegister(t *testing.T) {
	store := &fakeCreator{handles: map[string]bool{}}
	now := time.UnixMilli(1700000000000)

	reg, err := Register(context.Background(), store, RegisterInput{Name: "ObserverBot", Description: "watches sensors"}, now)
	require.NoError(t, err)
	assert.Equal(t, "@observerbot", reg.Agent.Handle)
	assert.Equal(t, HashKey(reg.APIKey), reg.Agent.APIKeyHash)
	assert.True(t, strings.HasPrefix(reg.APIKey, KeyPrefix))
	assert.Equal(t, reg.ClaimToken, reg.Agent.ClaimToken)
	assert.Equal(t, DefaultCredibility, reg.Agent.Credibility)
	assert.Equal(t, "watches sensors", reg.Agent.Metadata["description"])
	assert.Equal(t, now, reg.Agent.CreatedAt)

	_, err = Register(context.Background(), store, RegisterInput{Name: "observer bot"}, now)
	assert.ErrorIs(t, err, apperr.ErrConflict)
	assert.Len(t, store.created, 1)
}

func TestRegister_ProvidedFields(t *testing.T) {
	store := &fakeCreator{handles: map[string]bool{}}
	reg, err := Register(context.Background(), store, RegisterInput{
		Name:          "Observer Bot",
		Handle:        " @Watcher_2 ",
		WalletAddress: "0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed",
		WebhookURL:    "https://hooks.example.com/antfarm",
	}, time.Now())
	require.NoError(t, err)
	assert.Equal(t, "@watcher_2", reg.Agent.Handle)
	assert.Equal(t, "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed", reg.Agent.WalletAddress)
	assert.Equal(t, "https://hooks.example.com/antfarm", reg.Agent.WebhookURL)

	reg, err = Register(context.Background(), store, RegisterInput{Name: "Plain Bot", Handle: "plainbot"}, time.Now())
	require.NoError(t, err)
	assert.Equal(t, "@plainbot", reg.Agent.Handle)
}

func TestRegister_InvalidProvidedFields(t *testing.T) {
	tests := []struct {
		name string
		in   RegisterInput
		want error
	}{
		{"handle with dash", RegisterInput{Name: "Bot", Handle: "@my-bot"}, ErrInvalidHandle},
		{"handle only at", RegisterInput{Name: "Bot", Handle: "@"}, ErrInvalidHandle},
		{"handle with space", RegisterInput{Name: "Bot", Handle: "my bot"}, ErrInvalidHandle},
		{"wallet", RegisterInput{Name: "Bot", WalletAddress: "not-an-address"}, ErrInvalidWallet},
		{"short wallet", RegisterInput{Name: "Bot", WalletAddress: "0x1234"}, ErrInvalidWallet},
		{"webhook", RegisterInput{Name: "Bot", WebhookURL: "not a url"}, ErrInvalidWebhook},
		{"webhook scheme", RegisterInput{Name: "Bot", WebhookURL: "ftp://hooks.example.com"}, ErrInvalidWebhook},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &fakeCreator{handles: map[string]bool{}}
			_, err := Register(context.Background(), store, tt.in, time.Now())
			require.ErrorIs(t, err, apperr.ErrInvalid)
			assert.Equal(t, tt.want.Error(), apperr.Message(err))
			assert.Empty(t, store.created)
		})
	}
}

func TestRegister_Invalid(t *testing.T) {
	store := &fakeCreator{handles: map[string]bool{}}
	for _, name := range []string{"", "   ", "!!!"} {
		_, err := Register(context.Background(), store, RegisterInput{Name: name}, time.Now())
		assert.ErrorIs(t, err, apperr.ErrInvalid, "name %q", name)
	}
	assert.Empty(t, store.created)
}
