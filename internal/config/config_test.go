package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("SERVICE_ACCOUNT_FILE", "/secrets/sa.json")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "3000", cfg.HTTPPort)
	assert.Equal(t, []string{"*"}, cfg.CORSAllowedOrigins)
	assert.Equal(t, "/secrets/sa.json", cfg.ServiceAccountFile)
	assert.True(t, cfg.TokenCache)
	assert.Equal(t, 10*time.Second, cfg.AuthTimeout)
	assert.Equal(t, 10*time.Second, cfg.ProviderTimeout)
	assert.Equal(t, 4, cfg.DeliveryConcurrency)
	assert.Equal(t, RegistryFirestore, cfg.RegistryBackend)
	assert.Equal(t, "admin", cfg.AdminRole)
	assert.Equal(t, "users", cfg.SubscriberCollection)
	assert.Equal(t, "fcmToken", cfg.AddressField)
	assert.Equal(t, 24*time.Hour, cfg.SuppressionTTL)
	assert.Empty(t, cfg.RabbitURL)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("HTTP_PORT", "8082")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://admin.example.com,https://shop.example.com")
	t.Setenv("TOKEN_CACHE", "false")
	t.Setenv("PROVIDER_TIMEOUT", "3s")
	t.Setenv("DELIVERY_CONCURRENCY", "8")
	t.Setenv("REGISTRY_BACKEND", "postgres")
	t.Setenv("DATABASE_URL", "postgres://localhost/push")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8082", cfg.HTTPPort)
	assert.Equal(t, []string{"https://admin.example.com", "https://shop.example.com"}, cfg.CORSAllowedOrigins)
	assert.False(t, cfg.TokenCache)
	assert.Equal(t, 3*time.Second, cfg.ProviderTimeout)
	assert.Equal(t, 8, cfg.DeliveryConcurrency)
	assert.Equal(t, RegistryPostgres, cfg.RegistryBackend)
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{
			name:    "postgres without database url",
			env:     map[string]string{"REGISTRY_BACKEND": "postgres"},
			wantErr: "DATABASE_URL",
		},
		{
			name:    "unknown backend",
			env:     map[string]string{"REGISTRY_BACKEND": "mongo"},
			wantErr: "invalid REGISTRY_BACKEND",
		},
		{
			name:    "zero concurrency",
			env:     map[string]string{"DELIVERY_CONCURRENCY": "0"},
			wantErr: "DELIVERY_CONCURRENCY",
		},
		{
			name:    "bad duration",
			env:     map[string]string{"AUTH_TIMEOUT": "soon"},
			wantErr: "parse environment",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
