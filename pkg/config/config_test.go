package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultsValidate(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	require.Equal(t, "sqlite", cfg.Storage.Driver)
	require.Equal(t, 200, cfg.Audit.Capacity)
	require.Equal(t, 60, cfg.Compliance.CacheTTLS)
	require.Equal(t, "admin", cfg.Admin.Username)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	require.Equal(t, DefaultConfig().Storage.Path, cfg.Storage.Path)
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
storage:
  driver: memory
  namespace: custom
admin:
  username: operator
  login_limit: 3
logging:
  level: debug
  json: true
tracing:
  log_spans: true
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	require.Equal(t, "memory", cfg.Storage.Driver)
	require.Equal(t, "custom", cfg.Storage.Namespace)
	require.Equal(t, "operator", cfg.Admin.Username)
	require.Equal(t, 3, cfg.Admin.LoginLimit)
	require.Equal(t, "debug", cfg.Logging.Level)
	require.True(t, cfg.Logging.JSON)
	require.True(t, cfg.Tracing.LogSpans)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("VERITAS_STORAGE_DRIVER", "memory")
	t.Setenv("VERITAS_ADMIN_USERNAME", "enver")
	t.Setenv("VERITAS_LOG_LEVEL", "warn")
	t.Setenv("VERITAS_COMPLIANCE_TTL_S", "120")

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, "memory", cfg.Storage.Driver)
	require.Equal(t, "enver", cfg.Admin.Username)
	require.Equal(t, "warn", cfg.Logging.Level)
	require.Equal(t, 120, cfg.Compliance.CacheTTLS)
}

func TestValidateRejections(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown driver", func(c *Config) { c.Storage.Driver = "postgres" }},
		{"sqlite without path", func(c *Config) { c.Storage.Path = "" }},
		{"missing admin user", func(c *Config) { c.Admin.Username = "" }},
		{"hash without salt", func(c *Config) { c.Admin.PasswordHash = "h"; c.Admin.Salt = "" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(cfg)
			require.Error(t, cfg.Validate())
		})
	}
}

func TestValidateNormalizes(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Audit.Capacity = -1
	cfg.Compliance.CacheTTLS = 0
	cfg.Tracing.SampleRatio = 5
	require.NoError(t, cfg.Validate())
	require.Equal(t, 200, cfg.Audit.Capacity)
	require.Equal(t, 60, cfg.Compliance.CacheTTLS)
	require.Equal(t, float64(1), cfg.Tracing.SampleRatio)
}
