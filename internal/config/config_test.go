package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFromEnv(t *testing.T) {
	secretsDir = t.TempDir()
	t.Cleanup(func() { secretsDir = "/run/secrets" })
	require.NoError(t, os.WriteFile(filepath.Join(secretsDir, "ai_api_key"), []byte("sk-test\n"), 0o600))

	t.Setenv("AI_API_KEY", "")
	t.Setenv("AI_MODEL", "gpt-4o-mini")
	t.Setenv("HTTP_PORT", "9090")
	t.Setenv("STORAGE_BACKEND", "redis")
	t.Setenv("CORS_ALLOWED_ORIGINS", "http://a.test,http://b.test")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "9090", cfg.HTTPPort)
	assert.Equal(t, StorageRedis, cfg.StorageBackend)
	assert.Equal(t, "sk-test", cfg.AIAPIKey)
	assert.Equal(t, []string{"http://a.test", "http://b.test"}, cfg.CORSAllowedOrigins)
	assert.Equal(t, "gpt-4o-mini", cfg.AIModel)
	assert.Equal(t, "info", cfg.LoggerConfig().Level)
}

func TestConfigValidate(t *testing.T) {
	cfg := Config{StorageBackend: StoragePostgres, MaxConcurrentScenes: 1}
	assert.Error(t, cfg.Validate())

	cfg.DatabaseURL = "postgres://localhost/improv"
	assert.NoError(t, cfg.Validate())

	cfg.StorageBackend = "cassandra"
	assert.Error(t, cfg.Validate())

	cfg = Config{StorageBackend: StorageMemory}
	assert.Error(t, cfg.Validate())
}

func TestReadSecret(t *testing.T) {
	secretsDir = t.TempDir()
	t.Cleanup(func() { secretsDir = "/run/secrets" })

	_, err := ReadSecret("missing")
	assert.Error(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(secretsDir, "blank"), []byte("  \n"), 0o600))
	_, err = ReadSecret("blank")
	assert.Error(t, err)
}
