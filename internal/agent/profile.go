package agent

import (
	"encoding/hex"
	"errors"
	"net/url"
	"regexp"
	"strings"

	"golang.org/x/crypto/sha3"

	"github.com/antfarm-network/antfarm/internal/storage"
)

var (
	nonHandleChars = regexp.MustCompile(`[^a-z0-9]`)
	handlePattern  = regexp.MustCompile(`^@[a-z0-9_]+$`)
	walletPattern  = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)
)

// Validation errors.
var (
	ErrInvalidWallet  = errors.New("invalid wallet address: expected 0x followed by 40 hex characters")
	ErrInvalidWebhook = errors.New("invalid webhook url: expected an absolute http or https url")
	ErrEmptyHandle    = errors.New("name must contain at least one letter or digit")
	ErrInvalidHandle  = errors.New("invalid handle: use lowercase letters, digits and underscores")
)

// HandleFromName derives an agent handle: '@' plus the lowercase alphanumerics of name.
func HandleFromName(name string) (string, error) {
	h := nonHandleChars.ReplaceAllString(strings.ToLower(name), "")
	if h == "" {
		return "", ErrEmptyHandle
	}
	return "@" + h, nil
}

// ParseHandle normalizes a handle chosen by the agent and checks its characters.
func ParseHandle(handle string) (string, error) {
	h := storage.NormalizeHandle(handle)
	if !handlePattern.MatchString(h) {
		return "", ErrInvalidHandle
	}
	return h, nil
}

// NormalizeWallet validates an Ethereum address and returns its EIP-55 checksummed form.
func NormalizeWallet(addr string) (string, error) {
	addr = strings.TrimSpace(addr)
	if !walletPattern.MatchString(addr) {
		return "", ErrInvalidWallet
	}
	lower := strings.ToLower(addr[2:])

	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(lower))
	digest := hex.EncodeToString(h.Sum(nil))

	out := []byte(lower)
	for i, c := range out {
		if c >= 'a' && c <= 'f' && digest[i] >= '8' {
			out[i] = c - 'a' + 'A'
		}
	}
	return "0x" + string(out), nil
}

// ValidateWebhookURL checks that raw is an absolute http(s) URL with a host.
func ValidateWebhookURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return "", ErrInvalidWebhook
	}
	return u.String(), nil
}
