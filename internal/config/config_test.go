package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg := Load(filepath.Join(t.TempDir(), "missing.env"))
	assert.Equal(t, Default().HTTPAddr, cfg.HTTPAddr)
	assert.Equal(t, 5*time.Second, cfg.LockTimeout)
	assert.Empty(t, cfg.KafkaBrokers)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte(
		"HTTP_ADDR=:9000\nLOCK_TIMEOUT=250ms\nKAFKA_BROKERS=a:9092, b:9092\nSPOTEX_CONFIG_PROBE=file\n"), 0o600))

	t.Setenv("HTTP_ADDR", ":9100")
	t.Setenv("TOKEN_TTL", "1h")
	t.Setenv("LOG_LEVEL", "debug")

	cfg := Load(path)
	assert.Equal(t, ":9100", cfg.HTTPAddr)
	assert.Equal(t, 250*time.Millisecond, cfg.LockTimeout)
	assert.Equal(t, time.Hour, cfg.TokenTTL)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, []string{"a:9092", "b:9092"}, cfg.KafkaBrokers)

	// godotenv.Load never overrides variables that are already set, so
	// clean up what the file introduced.
	for _, k := range []string{"LOCK_TIMEOUT", "KAFKA_BROKERS", "SPOTEX_CONFIG_PROBE"} {
		os.Unsetenv(k)
	}
}

func TestLoad_BadDurationKeepsDefault(t *testing.T) {
	t.Setenv("LOCK_TIMEOUT", "soon")
	cfg := Load(filepath.Join(t.TempDir(), "missing.env"))
	assert.Equal(t, Default().LockTimeout, cfg.LockTimeout)
}
