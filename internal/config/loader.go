package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies POLYMIRROR_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known POLYMIRROR_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Wallet ──
	setStr(&cfg.Wallet.PrivateKey, "POLYMIRROR_WALLET_PRIVATE_KEY")
	setStr(&cfg.Wallet.FunderAddress, "POLYMIRROR_WALLET_FUNDER_ADDRESS")
	setStr(&cfg.Wallet.EncryptedKeyPath, "POLYMIRROR_WALLET_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Wallet.KeyPassword, "POLYMIRROR_WALLET_KEY_PASSWORD")

	// ── Polymarket ──
	setStr(&cfg.Polymarket.ClobHost, "POLYMIRROR_POLYMARKET_CLOB_HOST")
	setStr(&cfg.Polymarket.DataHost, "POLYMIRROR_POLYMARKET_DATA_HOST")
	setInt(&cfg.Polymarket.ChainID, "POLYMIRROR_POLYMARKET_CHAIN_ID")
	setInt(&cfg.Polymarket.SignatureType, "POLYMIRROR_POLYMARKET_SIGNATURE_TYPE")

	// ── CopyTrader ──
	setStr(&cfg.CopyTrader.SourceAddress, "POLYMIRROR_COPYTRADER_SOURCE_ADDRESS")
	setDuration(&cfg.CopyTrader.PollInterval, "POLYMIRROR_COPYTRADER_POLL_INTERVAL")
	setDuration(&cfg.CopyTrader.LockTTL, "POLYMIRROR_COPYTRADER_LOCK_TTL")

	// ── Supabase ──
	setStr(&cfg.Supabase.DSN, "POLYMIRROR_SUPABASE_DSN")
	setStr(&cfg.Supabase.Host, "POLYMIRROR_SUPABASE_HOST")
	setInt(&cfg.Supabase.Port, "POLYMIRROR_SUPABASE_PORT")
	setStr(&cfg.Supabase.Database, "POLYMIRROR_SUPABASE_DATABASE")
	setStr(&cfg.Supabase.User, "POLYMIRROR_SUPABASE_USER")
	setStr(&cfg.Supabase.Password, "POLYMIRROR_SUPABASE_PASSWORD")
	setStr(&cfg.Supabase.SSLMode, "POLYMIRROR_SUPABASE_SSL_MODE")
	setInt(&cfg.Supabase.PoolMaxConns, "POLYMIRROR_SUPABASE_POOL_MAX_CONNS")
	setInt(&cfg.Supabase.PoolMinConns, "POLYMIRROR_SUPABASE_POOL_MIN_CONNS")
	setBool(&cfg.Supabase.RunMigrations, "POLYMIRROR_SUPABASE_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "POLYMIRROR_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "POLYMIRROR_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "POLYMIRROR_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "POLYMIRROR_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "POLYMIRROR_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "POLYMIRROR_REDIS_TLS_ENABLED")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "POLYMIRROR_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "POLYMIRROR_S3_REGION")
	setStr(&cfg.S3.Bucket, "POLYMIRROR_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "POLYMIRROR_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "POLYMIRROR_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "POLYMIRROR_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "POLYMIRROR_S3_FORCE_PATH_STYLE")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "POLYMIRROR_ARCHIVE_ENABLED")
	setInt(&cfg.Archive.RetentionDays, "POLYMIRROR_ARCHIVE_RETENTION_DAYS")
	setStr(&cfg.Archive.Cron, "POLYMIRROR_ARCHIVE_CRON")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "POLYMIRROR_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "POLYMIRROR_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "POLYMIRROR_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "POLYMIRROR_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "POLYMIRROR_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateWindow, "POLYMIRROR_SERVER_RATE_WINDOW")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "POLYMIRROR_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "POLYMIRROR_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "POLYMIRROR_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "POLYMIRROR_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "POLYMIRROR_MODE")
	setStr(&cfg.LogLevel, "POLYMIRROR_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
