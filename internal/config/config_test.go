package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("APP_ENV", "development")

	cfg, err := Load()
	require.NoError(t, err)

	assert.True(t, cfg.Webhook.EnforceSignature)
	assert.Equal(t, 15*time.Minute, cfg.Scan.RepoScanTimeout)
	assert.Equal(t, 3, cfg.Scan.MaxRetries)
	assert.Equal(t, 10*time.Second, cfg.Scan.RetryBaseDelay)
	assert.Equal(t, 250, cfg.Scan.SweepBatchSize)
	assert.Equal(t, "The Firewall", cfg.Publisher.StatusContext)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("WORKER_CONCURRENCY", "2")
	t.Setenv("WEBHOOK_ENFORCE_SIGNATURE", "false")
	t.Setenv("SCAN_REPO_TIMEOUT", "5m")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.Worker.Concurrency)
	assert.False(t, cfg.Webhook.EnforceSignature)
	assert.Equal(t, 5*time.Minute, cfg.Scan.RepoScanTimeout)
}

func TestValidate(t *testing.T) {
	t.Setenv("APP_ENV", "development")
	base := func() *Config {
		cfg, err := Load()
		require.NoError(t, err)
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"archive without bucket", func(c *Config) { c.Archive.Enabled = true }},
		{"slack without url", func(c *Config) { c.Slack.Enabled = true }},
		{"zero concurrency", func(c *Config) { c.Worker.Concurrency = 0 }},
		{"bad log level", func(c *Config) { c.Log.Level = "trace" }},
		{"production without db password", func(c *Config) { c.App.Env = EnvProduction }},
		{"production without signatures", func(c *Config) {
			c.App.Env = EnvProduction
			c.Database.Password = "pw"
			c.Database.SSLMode = "require"
			c.Admin.APIKey = "0123456789abcdef0123456789abcdef"
			c.Encryption.Key = "0123456789abcdef0123456789abcdef"
			c.Webhook.EnforceSignature = false
		}},
		{"production without encryption key", func(c *Config) {
			c.App.Env = EnvProduction
			c.Database.Password = "pw"
			c.Database.SSLMode = "require"
			c.Admin.APIKey = "0123456789abcdef0123456789abcdef"
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestDatabaseConfig_DSN(t *testing.T) {
	c := DatabaseConfig{Host: "db", Port: 5432, User: "u", Password: "p", Name: "n", SSLMode: "disable"}
	assert.Equal(t, "host=db port=5432 user=u password=p dbname=n sslmode=disable", c.DSN())
}
