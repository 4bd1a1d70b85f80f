// Package agent resolves API credentials to agents and generates the secrets issued
// at registration.
package agent

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"

	"github.com/antfarm-network/antfarm/internal/storage"
)

// Credential prefixes.
const (
	KeyPrefix   = "antfarm_"
	ClaimPrefix = "antfarm_claim_"
)

// ErrNoCredential is returned when a request carries no API key.
var ErrNoCredential = errors.New("missing API key")

var verificationWords = []string{"oak", "pine", "fern", "moss", "vine", "reed", "leaf", "root", "seed", "stem"}

// KeyLookup finds an agent by the hash of its API key.
type KeyLookup interface {
	GetAgentByKeyHash(ctx context.Context, hash string) (*storage.Agent, error)
}

// Resolver maps opaque credentials to agents.
type Resolver struct {
	store KeyLookup
}

// NewResolver returns a resolver backed by store.
func NewResolver(store KeyLookup) *Resolver {
	return &Resolver{store: store}
}

// Credential extracts the API key from "Authorization: Bearer <key>", falling back to
// the X-Agent-Key header.
func Credential(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
			return strings.TrimSpace(h[7:])
		}
	}
	return strings.TrimSpace(r.Header.Get("X-Agent-Key"))
}

// Resolve returns the agent owning key. An unknown key yields (nil, nil); only store
// failures are errors. An empty key is rejected before hashing.
func (v *Resolver) Resolve(ctx context.Context, key string) (*storage.Agent, error) {
	if key == "" {
		return nil, ErrNoCredential
	}
	a, err := v.store.GetAgentByKeyHash(ctx, HashKey(key))
	if storage.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("resolve agent: %w", err)
	}
	return a, nil
}

// ResolveRequest resolves the credential carried by r.
func (v *Resolver) ResolveRequest(r *http.Request) (*storage.Agent, error) {
	return v.Resolve(r.Context(), Credential(r))
}

// HashKey returns the lowercase hex sha256 of key. Only the hash is ever stored.
func HashKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// GenerateKey returns a fresh API key: the key prefix followed by 64 hex characters.
func GenerateKey() (string, error) {
	s, err := randomHex(32)
	if err != nil {
		return "", fmt.Errorf("generate api key: %w", err)
	}
	return KeyPrefix + s, nil
}

// GenerateClaimToken returns a fresh claim token for human verification.
func GenerateClaimToken() (string, error) {
	s, err := randomHex(16)
	if err != nil {
		return "", fmt.Errorf("generate claim token: %w", err)
	}
	return ClaimPrefix + s, nil
}

// GenerateVerificationCode returns a short code such as "moss-3F0A".
func GenerateVerificationCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(len(verificationWords))))
	if err != nil {
		return "", fmt.Errorf("generate verification code: %w", err)
	}
	s, err := randomHex(2)
	if err != nil {
		return "", fmt.Errorf("generate verification code: %w", err)
	}
	return verificationWords[n.Int64()] + "-" + strings.ToUpper(s), nil
}

// GenerateInviteCode returns the 16-hex-character code guarding a private room.
func GenerateInviteCode() (string, error) {
	s, err := randomHex(8)
	if err != nil {
		return "", fmt.Errorf("generate invite code: %w", err)
	}
	return s, nil
}

func randomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
