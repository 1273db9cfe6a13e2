package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/yourorg/zkspend/internal/config"
)

func env(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func TestDefaults(t *testing.T) {
	c, err := config.FromEnv(env(nil))
	require.NoError(t, err)
	require.Equal(t, config.Default(), c)
	require.Equal(t, 3001, c.Port)
	require.Equal(t, "solana-mainnet", c.Network)
	require.Equal(t, ":3001", c.Addr())
	require.Equal(t, 3, c.SettleAttempts)
	require.Equal(t, time.Second, c.SettleBackoff)
}

func TestFromEnv(t *testing.T) {
	c, err := config.FromEnv(env(map[string]string{
		"ZKSPEND_PORT":              "8080",
		"ZKSPEND_NETWORK":           "solana-devnet",
		"ZKSPEND_DEBUG":             "true",
		"ZKSPEND_SETTLER_URL":       "https://settler.example.com",
		"ZKSPEND_DATABASE_URL":      "postgres://zk@db/zkspend",
		"ZKSPEND_BATCH_CONCURRENCY": "16",
		"ZKSPEND_SETTLE_BACKOFF":    "250ms",
		"ZKSPEND_SETTLE_TIMEOUT":    "5s",
		"ZKSPEND_LOG_LEVEL":         "",
	}))
	require.NoError(t, err)
	require.Equal(t, 8080, c.Port)
	require.Equal(t, "solana-devnet", c.Network)
	require.True(t, c.Debug)
	require.Equal(t, "https://settler.example.com", c.SettlerURL)
	require.Equal(t, "postgres://zk@db/zkspend", c.DatabaseURL)
	require.Equal(t, 16, c.BatchConcurrency)
	require.Equal(t, 250*time.Millisecond, c.SettleBackoff)
	require.Equal(t, 5*time.Second, c.SettleTimeout)
	// empty means unset
	require.Equal(t, "info", c.LogLevel)
}

func TestFromEnvErrors(t *testing.T) {
	for name, vars := range map[string]map[string]string{
		"port not a number": {"ZKSPEND_PORT": "http"},
		"port out of range": {"ZKSPEND_PORT": "70000"},
		"bad bool":          {"ZKSPEND_DEBUG": "maybe"},
		"bad duration":      {"ZKSPEND_SETTLE_TIMEOUT": "soon"},
		"zero attempts":     {"ZKSPEND_SETTLE_ATTEMPTS": "0"},
		"zero concurrency":  {"ZKSPEND_BATCH_CONCURRENCY": "0"},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := config.FromEnv(env(vars))
			require.Error(t, err)
		})
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.env")
	require.NoError(t, os.WriteFile(path, []byte("ZKSPEND_CIRCUIT_DIR=/srv/artifacts\nZKSPEND_PORT=4000\n"), 0o600))
	t.Setenv("ZKSPEND_PORT", "5000")
	t.Cleanup(func() { os.Unsetenv("ZKSPEND_CIRCUIT_DIR") })

	c, err := config.Load(path, filepath.Join(dir, "missing.env"))
	require.NoError(t, err)
	require.Equal(t, "/srv/artifacts", c.CircuitDir)
	// already set in the environment
	require.Equal(t, 5000, c.Port)
}
