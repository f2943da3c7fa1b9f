package bootstrap

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yashshrestha-maitri/triton-agentic-poc-sub003/config"
	"github.com/yashshrestha-maitri/triton-agentic-poc-sub003/internal/data/cryptoutil"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestResolveSecrets(t *testing.T) {
	const key = "correct horse battery staple"
	box, err := cryptoutil.NewBoxFromString(key)
	require.NoError(t, err)
	sealed, err := box.Seal([]byte("gemini-key"))
	require.NoError(t, err)

	t.Run("opens sealed values", func(t *testing.T) {
		cfg := &config.AppConfig{SecretKey: key}
		cfg.Agent.APIKey = sealed
		cfg.Postgres.Password = "plain"

		require.NoError(t, ResolveSecrets(cfg))
		assert.Equal(t, "gemini-key", cfg.Agent.APIKey)
		assert.Equal(t, "plain", cfg.Postgres.Password)
	})

	t.Run("sealed value without key", func(t *testing.T) {
		cfg := &config.AppConfig{}
		cfg.Agent.APIKey = sealed
		err := ResolveSecrets(cfg)
		require.Error(t, err)
		assert.ErrorIs(t, err, cryptoutil.ErrNoKey)
		assert.Contains(t, err.Error(), "AGENT_API_KEY")
	})

	t.Run("wrong key", func(t *testing.T) {
		cfg := &config.AppConfig{SecretKey: "another passphrase"}
		cfg.Redis.Password = sealed
		require.Error(t, ResolveSecrets(cfg))
	})

	t.Run("nil config", func(t *testing.T) {
		require.Error(t, ResolveSecrets(nil))
	})
}

func TestValidateServiceConfig(t *testing.T) {
	cfg := &config.AppConfig{
		Services:       "http,reaper",
		StorageBackend: config.StorageBackendMemory,
		QueueBackend:   config.QueueBackendMemory,
		CacheBackend:   config.CacheBackendMemory,
		Agent:          config.AgentConfig{Provider: config.AgentProviderFixture},
	}
	require.NoError(t, ValidateServiceConfig(cfg))
	assert.Equal(t, []string{"http", "reaper"}, GetEnabledServices(cfg))

	cfg.QueueBackend = config.QueueBackendPostgres
	require.Error(t, ValidateServiceConfig(cfg))

	cfg.Services = ""
	require.Error(t, ValidateServiceConfig(cfg))
	assert.Empty(t, GetEnabledServices(cfg))

	require.Error(t, ValidateServiceConfig(nil))
}
