package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads the TOML file at path, merges it over the built-in defaults,
// applies RISKENGINE_* environment variable overrides, and returns the
// result. The caller should invoke Config.Validate() afterwards.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env if present; missing files are fine.
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides overwrites Config fields from well-known RISKENGINE_*
// environment variables, so operators can inject secrets at deploy time
// without touching the TOML file.
func applyEnvOverrides(cfg *Config) {
	setStr(&cfg.Postgres.DSN, "RISKENGINE_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "RISKENGINE_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "RISKENGINE_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "RISKENGINE_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "RISKENGINE_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "RISKENGINE_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "RISKENGINE_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "RISKENGINE_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "RISKENGINE_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "RISKENGINE_POSTGRES_RUN_MIGRATIONS")

	setStr(&cfg.Redis.Addr, "RISKENGINE_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "RISKENGINE_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "RISKENGINE_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "RISKENGINE_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "RISKENGINE_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "RISKENGINE_REDIS_TLS_ENABLED")

	setStr(&cfg.S3.Endpoint, "RISKENGINE_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "RISKENGINE_S3_REGION")
	setStr(&cfg.S3.Bucket, "RISKENGINE_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "RISKENGINE_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "RISKENGINE_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "RISKENGINE_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "RISKENGINE_S3_FORCE_PATH_STYLE")

	setStr(&cfg.Oracle.WsURL, "RISKENGINE_ORACLE_WS_URL")
	setStringSlice(&cfg.Oracle.Denoms, "RISKENGINE_ORACLE_DENOMS")

	setStr(&cfg.Vaults.BaseURL, "RISKENGINE_VAULTS_BASE_URL")

	setStr(&cfg.Engine.CloseFactor, "RISKENGINE_ENGINE_CLOSE_FACTOR")
	setStr(&cfg.Engine.ProtocolFeeCollector, "RISKENGINE_ENGINE_PROTOCOL_FEE_COLLECTOR")
	setDuration(&cfg.Engine.LockTTL, "RISKENGINE_ENGINE_LOCK_TTL")
	setDuration(&cfg.Engine.AccrualInterval, "RISKENGINE_ENGINE_ACCRUAL_INTERVAL")

	setBool(&cfg.Monitor.Enabled, "RISKENGINE_MONITOR_ENABLED")
	setDuration(&cfg.Monitor.Interval, "RISKENGINE_MONITOR_INTERVAL")
	setInt(&cfg.Monitor.PageSize, "RISKENGINE_MONITOR_PAGE_SIZE")
	setInt(&cfg.Monitor.Workers, "RISKENGINE_MONITOR_WORKERS")

	setBool(&cfg.Archive.Enabled, "RISKENGINE_ARCHIVE_ENABLED")
	setDuration(&cfg.Archive.Interval, "RISKENGINE_ARCHIVE_INTERVAL")
	setInt(&cfg.Archive.RetentionDays, "RISKENGINE_ARCHIVE_RETENTION_DAYS")

	setBool(&cfg.Server.Enabled, "RISKENGINE_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "RISKENGINE_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "RISKENGINE_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "RISKENGINE_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimitPerMinute, "RISKENGINE_SERVER_RATE_LIMIT_PER_MINUTE")

	setStr(&cfg.Notify.TelegramToken, "RISKENGINE_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "RISKENGINE_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "RISKENGINE_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "RISKENGINE_NOTIFY_EVENTS")

	setStr(&cfg.Mode, "RISKENGINE_MODE")
	setStr(&cfg.LogLevel, "RISKENGINE_LOG_LEVEL")
}

// Typed env-var helpers. Each mutates the target only when the variable is
// present and non-empty.

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
			if p = strings.TrimSpace(p); p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
