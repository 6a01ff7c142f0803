package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	cfg := Defaults()
	cfg.Wallet.PrivateKey = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
	cfg.Wallet.FunderAddress = "0x370e81c93aa113274321339e69049187cce03bb9"
	cfg.CopyTrader.SourceAddress = "0x8fcf3a1a78a1a4b952b9a1f0b1e6e4e6f53df684"
	return cfg
}

func TestValidateAcceptsDefaults(t *testing.T) {
	cfg := validConfig()
	require.NoError(t, cfg.Validate())
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := map[string]func(*Config){
		"unknown mode":        func(c *Config) { c.Mode = "arbitrage" },
		"bad log level":       func(c *Config) { c.LogLevel = "verbose" },
		"no wallet key":       func(c *Config) { c.Wallet.PrivateKey = ""; c.Wallet.EncryptedKeyPath = "" },
		"no funder":           func(c *Config) { c.Wallet.FunderAddress = "" },
		"no source":           func(c *Config) { c.CopyTrader.SourceAddress = "" },
		"zero poll interval":  func(c *Config) { c.CopyTrader.PollInterval = duration{} },
		"bad signature type":  func(c *Config) { c.Polymarket.SignatureType = 3 },
		"no clob host":        func(c *Config) { c.Polymarket.ClobHost = "" },
		"bad supabase port":   func(c *Config) { c.Supabase.Port = 0 },
		"inverted pool sizes": func(c *Config) { c.Supabase.PoolMinConns = 20 },
		"bad server port":     func(c *Config) { c.Server.Port = 99999 },
		"archive without s3":  func(c *Config) { c.Archive.Enabled = true; c.S3.Bucket = "" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := validConfig()
			mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestValidateMonitorModeNeedsNoWallet(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "monitor"
	require.NoError(t, cfg.Validate())
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("POLYMIRROR_MODE", "once")
	t.Setenv("POLYMIRROR_COPYTRADER_SOURCE_ADDRESS", "0xsource")
	t.Setenv("POLYMIRROR_COPYTRADER_POLL_INTERVAL", "45s")
	t.Setenv("POLYMIRROR_SUPABASE_RUN_MIGRATIONS", "false")
	t.Setenv("POLYMIRROR_SERVER_CORS_ORIGINS", "https://a.example, https://b.example")

	cfg := Defaults()
	applyEnvOverrides(&cfg)

	assert.Equal(t, "once", cfg.Mode)
	assert.Equal(t, "0xsource", cfg.CopyTrader.SourceAddress)
	assert.Equal(t, 45*time.Second, cfg.CopyTrader.PollInterval.Duration)
	assert.False(t, cfg.Supabase.RunMigrations)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.CORSOrigins)
}

func TestRedactedConfig(t *testing.T) {
	cfg := validConfig()
	cfg.Supabase.Password = "db-pass"
	cfg.Server.APIKey = "api-key"
	cfg.Notify.TelegramToken = "tg-token"

	red := RedactedConfig(&cfg)

	assert.Equal(t, "***", red.Wallet.PrivateKey)
	assert.Equal(t, "***", red.Supabase.Password)
	assert.Equal(t, "***", red.Server.APIKey)
	assert.Equal(t, "***", red.Notify.TelegramToken)
	// Originals untouched.
	assert.Equal(t, "db-pass", cfg.Supabase.Password)
	// Non-secret fields pass through.
	assert.Equal(t, cfg.CopyTrader.SourceAddress, red.CopyTrader.SourceAddress)
}
