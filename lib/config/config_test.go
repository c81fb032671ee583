package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("ZOCKER_PREFIX", "")
	t.Setenv("ZOCKER_PULL_TIMEOUT", "")
	t.Setenv("ZOCKER_FETCH_TIMEOUT", "")

	cfg := Load()
	require.Equal(t, "/tmp/zocker", cfg.StorePrefix)
	require.Equal(t, 120, cfg.PullTimeoutSeconds)
	require.Equal(t, 60, cfg.FetchTimeoutSeconds)
	require.NoError(t, cfg.Validate())
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("ZOCKER_PREFIX", "/var/lib/zocker")
	t.Setenv("ZOCKER_PULL_ENABLED", "false")

	cfg := Load()
	require.Equal(t, "/var/lib/zocker", cfg.StorePrefix)
	require.False(t, cfg.PullEnabled)
}

func TestValidateRejectsEmptyPrefix(t *testing.T) {
	cfg := &Config{StorePrefix: "", PullTimeoutSeconds: 1, FetchTimeoutSeconds: 1}
	require.Error(t, cfg.Validate())
}

func TestValidateRejectsNonPositiveTimeouts(t *testing.T) {
	cfg := &Config{StorePrefix: "/tmp/x", PullTimeoutSeconds: 0, FetchTimeoutSeconds: 1}
	require.Error(t, cfg.Validate())
}
