package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandleFromName(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{"ObserverBot", "@observerbot"},
		{"Sensor Drift 3000", "@sensordrift3000"},
		{"ant_farm-bot!", "@antfarmbot"},
	}
	for _, tt := range tests {
		got, err := HandleFromName(tt.name)
		require.NoError(t, err, tt.name)
		assert.Equal(t, tt.want, got)
	}

	_, err := HandleFromName("!!!")
	assert.ErrorIs(t, err, ErrEmptyHandle)
}

func TestNormalizeWallet(t *testing.T) {
	// EIP-55 reference vectors.
	vectors := []string{
		"0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed",
		"0xfB6916095ca1df60bB79Ce92cE3Ea74c37c5d359",
		"0xdbF03B407c01E7cD3CBea99509d93f8DDDC8C6FB",
		"0xD1220A0cf47c7B9Be7A2E6BA89F429762e7b9aDb",
	}
	for _, want := range vectors {
		got, err := NormalizeWallet(lowerHex(want))
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	for _, bad := range []string{"not-an-address", "0x123", "5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed", "0xZZAeb6053F3E94C9b9A09f33669435E7Ef1BeAed"} {
		_, err := NormalizeWallet(bad)
		assert.ErrorIs(t, err, ErrInvalidWallet, bad)
	}
}

func lowerHex(addr string) string {
	b := []byte(addr)
	for i := 2; i < len(b); i++ {
		if b[i] >= 'A' && b[i] <= 'F' {
			b[i] += 'a' - 'A'
		}
	}
	return string(b)
}

func TestValidateWebhookURL(t *testing.T) {
	got, err := ValidateWebhookURL(" https://agent.example.com/hooks/antfarm ")
	require.NoError(t, err)
	assert.Equal(t, "https://agent.example.com/hooks/antfarm", got)

	for _, bad := range []string{"", "ftp://example.com", "/relative/path", "https://", "not a url"} {
		_, err := ValidateWebhookURL(bad)
		assert.ErrorIs(t, err, ErrInvalidWebhook, bad)
	}
}

func TestCredibilityDelta(t *testing.T) {
	assert.Equal(t, 0.05, CredibilityDelta(EventFruitGrown))
	assert.Equal(t, 0.10, CredibilityDelta(EventVerified))
	assert.Equal(t, -0.10, CredibilityDelta(EventFloodAnomaly))
	assert.Zero(t, CredibilityDelta(Event("unknown")))
}
