package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsAreValid(t *testing.T) {
	assert.NoError(t, Defaults().Validate())
}

func TestLoad_FileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vaultpilot.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
port: 9090
cycle:
  tick_spec: "@every 30s"
  workers: 8
  lease_ttl: 10m
prices:
  max_age: 5m
backup:
  enabled: true
  bucket: vault-backups
`), 0644))

	t.Setenv("VAULTPILOT_CONFIG", path)
	t.Setenv("VAULTPILOT_DATA_DIR", filepath.Join(dir, "data"))
	t.Setenv("VAULTPILOT_WORKERS", "2")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, "@every 30s", cfg.Cycle.TickSpec)
	assert.Equal(t, 2, cfg.Cycle.Workers, "environment overrides the file")
	assert.Equal(t, 10*time.Minute, cfg.Cycle.LeaseTTL)
	assert.Equal(t, 5*time.Minute, cfg.Prices.MaxAge)
	assert.Equal(t, 30*time.Second, cfg.Cycle.InstructionTimeout, "unset keys keep defaults")
	assert.True(t, cfg.Backup.Enabled)
	assert.Equal(t, "vault-backups", cfg.Backup.Bucket)
	assert.True(t, filepath.IsAbs(cfg.DataDir))
	assert.DirExists(t, cfg.DataDir)
}

func TestLoad_BadFile(t *testing.T) {
	t.Setenv("VAULTPILOT_CONFIG", filepath.Join(t.TempDir(), "missing.yaml"))
	_, err := Load()
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad port", func(c *Config) { c.Port = 0 }},
		{"bad driver", func(c *Config) { c.DBDriver = "postgres" }},
		{"no workers", func(c *Config) { c.Cycle.Workers = 0 }},
		{"lease shorter than swap", func(c *Config) { c.Cycle.LeaseTTL = time.Second }},
		{"fee out of range", func(c *Config) { c.Cycle.SwapFeeBp = 10000 }},
		{"bad tick", func(c *Config) { c.Cycle.TickSpec = "sometimes" }},
		{"backup without bucket", func(c *Config) { c.Backup.Enabled = true }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
