package agent

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/antfarm-network/antfarm/internal/apperr"
	"github.com/antfarm-network/antfarm/internal/storage"
)

// Creator persists new agents.
type Creator interface {
	CreateAgent(ctx context.Context, a *storage.Agent) error
}

// RegisterInput is the self-registration request of an agent.
type RegisterInput struct {
	Name          string `json:"name"`
	Description   string `json:"description"`
	Handle        string `json:"handle"`
	WalletAddress string `json:"wallet_address"`
	WebhookURL    string `json:"webhook_url"`
}

// Registration holds the new agent and the secrets shown to it exactly once.
type Registration struct {
	Agent            *storage.Agent
	APIKey           string
	ClaimToken       string
	VerificationCode string
}

// Register creates an agent from in. The handle is the one provided or else derived from
// the name; a taken handle is a conflict. An optional wallet or webhook must be well formed.
func Register(ctx context.Context, store Creator, in RegisterInput, now time.Time) (*Registration, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, apperr.Invalid("Missing required field: name")
	}
	handle, err := registrationHandle(name, in.Handle)
	if err != nil {
		return nil, apperr.Invalid("%s", err.Error())
	}
	var wallet, webhook string
	if strings.TrimSpace(in.WalletAddress) != "" {
		if wallet, err = NormalizeWallet(in.WalletAddress); err != nil {
			return nil, apperr.Invalid("%s", err.Error())
		}
	}
	if strings.TrimSpace(in.WebhookURL) != "" {
		if webhook, err = ValidateWebhookURL(in.WebhookURL); err != nil {
			return nil, apperr.Invalid("%s", err.Error())
		}
	}
	key, err := GenerateKey()
	if err != nil {
		return nil, err
	}
	claim, err := GenerateClaimToken()
	if err != nil {
		return nil, err
	}
	code, err := GenerateVerificationCode()
	if err != nil {
		return nil, err
	}

	a := &storage.Agent{
		ID:               uuid.NewString(),
		Handle:           handle,
		Name:             name,
		APIKeyHash:       HashKey(key),
		Credibility:      DefaultCredibility,
		WalletAddress:    wallet,
		WebhookURL:       webhook,
		Metadata:         map[string]any{},
		ClaimToken:       claim,
		VerificationCode: code,
		CreatedAt:        now,
	}
	if d := strings.TrimSpace(in.Description); d != "" {
		a.Metadata["description"] = d
	}
	if err := store.CreateAgent(ctx, a); err != nil {
		if errors.Is(err, storage.ErrConflict) {
			return nil, apperr.Conflict("handle %s is already taken", handle)
		}
		return nil, err
	}
	return &Registration{Agent: a, APIKey: key, ClaimToken: claim, VerificationCode: code}, nil
}

func registrationHandle(name, requested string) (string, error) {
	if strings.TrimSpace(requested) != "" {
		return ParseHandle(requested)
	}
	return HandleFromName(name)
}
