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
// built-in defaults, applies CHARTBETS_* environment variable overrides, and
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

// applyEnvOverrides reads well-known CHARTBETS_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Registry ──
	setStr(&cfg.Registry.AdminAddress, "CHARTBETS_REGISTRY_ADMIN_ADDRESS")
	setStr(&cfg.Registry.AuthorityAddress, "CHARTBETS_REGISTRY_AUTHORITY_ADDRESS")
	setStr(&cfg.Registry.TreasuryAddress, "CHARTBETS_REGISTRY_TREASURY_ADDRESS")

	// ── Authority ──
	setStr(&cfg.Authority.EncryptedKeyPath, "CHARTBETS_AUTHORITY_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Authority.KeyPassword, "CHARTBETS_AUTHORITY_KEY_PASSWORD")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "CHARTBETS_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "CHARTBETS_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "CHARTBETS_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "CHARTBETS_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "CHARTBETS_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "CHARTBETS_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "CHARTBETS_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "CHARTBETS_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "CHARTBETS_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "CHARTBETS_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "CHARTBETS_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "CHARTBETS_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "CHARTBETS_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "CHARTBETS_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "CHARTBETS_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "CHARTBETS_REDIS_TLS_ENABLED")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "CHARTBETS_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "CHARTBETS_S3_REGION")
	setStr(&cfg.S3.Bucket, "CHARTBETS_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "CHARTBETS_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "CHARTBETS_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "CHARTBETS_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "CHARTBETS_S3_FORCE_PATH_STYLE")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "CHARTBETS_ARCHIVE_ENABLED")
	setDuration(&cfg.Archive.Interval, "CHARTBETS_ARCHIVE_INTERVAL")
	setStr(&cfg.Archive.Prefix, "CHARTBETS_ARCHIVE_PREFIX")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "CHARTBETS_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "CHARTBETS_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "CHARTBETS_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.AdminToken, "CHARTBETS_SERVER_ADMIN_TOKEN")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "CHARTBETS_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "CHARTBETS_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "CHARTBETS_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "CHARTBETS_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "CHARTBETS_MODE")
	setStr(&cfg.LogLevel, "CHARTBETS_LOG_LEVEL")
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
