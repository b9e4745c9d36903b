package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"), logrus.New())
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 100, cfg.Server.MaxConnections)
	assert.Equal(t, 30*time.Second, cfg.Server.AuthTimeout())
	assert.True(t, cfg.Server.Coalitions.Enabled)
	assert.False(t, cfg.Payments.Enabled)
	assert.Equal(t, "memory", cfg.Store.Backend)
}

func TestLoadConfig_FileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 9090
  rate_limit_per_minute: 10
  coalitions:
    enabled: true
    allow_rejoin_inactive: true
payments:
  enabled: true
  min_amount: "500"
  timeout_minutes: 5
logging:
  level: debug
`), 0o644))

	cfg, err := LoadConfig(path, logrus.New())
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 10, cfg.Server.RateLimitPerMinute)
	assert.True(t, cfg.Server.Coalitions.AllowRejoinInactive)
	assert.True(t, cfg.Payments.Enabled)
	assert.Equal(t, "500", cfg.Payments.MinAmount)
	assert.Equal(t, 5*time.Minute, cfg.Payments.PaymentTimeout())
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadConfig_EnvironmentOverrides(t *testing.T) {
	t.Setenv("A2A_PORT", "7070")
	t.Setenv("A2A_RATE_LIMIT", "5")
	t.Setenv("LOG_LEVEL", "warn")

	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"), logrus.New())
	require.NoError(t, err)

	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, 5, cfg.Server.RateLimitPerMinute)
	assert.Equal(t, "warn", cfg.Logging.Level)
}

func TestLoadConfig_Validation(t *testing.T) {
	cases := []struct {
		name string
		yaml string
	}{
		{"bad port", "server:\n  port: 99999\n"},
		{"bad min amount", "payments:\n  enabled: true\n  min_amount: \"lots\"\n"},
		{"postgres without url", "store:\n  backend: postgres\n"},
		{"unknown backend", "store:\n  backend: redis\n"},
		{"chain without rpc", "chain:\n  enabled: true\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.yaml")
			require.NoError(t, os.WriteFile(path, []byte(tc.yaml), 0o644))

			_, err := LoadConfig(path, logrus.New())
			assert.Error(t, err)
		})
	}
}
