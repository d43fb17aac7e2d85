package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProviderConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     ProviderConfig
		wantErr string
	}{
		{
			name: "complete",
			cfg:  ProviderConfig{APIKey: "key-1", From: "Polyvox <notify@polyvox.example>"},
		},
		{
			name:    "missing api key",
			cfg:     ProviderConfig{From: "Polyvox <notify@polyvox.example>"},
			wantErr: "provider.api_key",
		},
		{
			name:    "missing from",
			cfg:     ProviderConfig{APIKey: "key-1"},
			wantErr: "provider.from",
		},
		{
			name:    "empty",
			cfg:     ProviderConfig{},
			wantErr: "provider.api_key",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	// the embedded defaults ship without credentials; sending commands must
	// refuse to start on them
	require.Error(t, cfg.Provider.Validate())
	assert.Equal(t, "resend", cfg.Provider.Name)
	assert.Equal(t, 25, cfg.Digest.LimitEntities)
	assert.Equal(t, 20, cfg.Digest.MaxEventsPerDigest)
}
