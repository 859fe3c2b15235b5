// Package config defines the top-level configuration for the risk engine
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Config is the root configuration. Fields are populated from a TOML file
// and then optionally overridden by RISKENGINE_* environment variables.
type Config struct {
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Oracle   OracleConfig   `toml:"oracle"`
	Vaults   VaultsConfig   `toml:"vaults"`
	Engine   EngineConfig   `toml:"engine"`
	Monitor  MonitorConfig  `toml:"monitor"`
	Archive  ArchiveConfig  `toml:"archive"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// PostgresConfig holds PostgreSQL connection parameters. A non-empty DSN
// wins over the individual fields.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// OracleConfig holds the oracle price stream parameters.
type OracleConfig struct {
	// WsURL is the price stream WebSocket endpoint.
	WsURL string `toml:"ws_url"`
	// Denoms to subscribe to. Usually the full set of listed markets.
	Denoms []string `toml:"denoms"`
}

// VaultsConfig holds the external vault adapter parameters. An empty
// BaseURL disables vault valuation; vault positions then count for
// nothing.
type VaultsConfig struct {
	BaseURL string `toml:"base_url"`
}

// EngineConfig holds the lending engine's operational parameters.
type EngineConfig struct {
	// CloseFactor caps the fraction of one debt position repayable per
	// liquidation, as a decimal string, e.g. "0.5".
	CloseFactor string `toml:"close_factor"`
	// ProtocolFeeCollector is the account credited with the protocol's
	// share of liquidation bonuses.
	ProtocolFeeCollector string `toml:"protocol_fee_collector"`
	// LockTTL bounds how long a market write lock may be held.
	LockTTL duration `toml:"lock_ttl"`
	// AccrualInterval drives the background accrual sweep across all
	// markets. Zero disables the sweep.
	AccrualInterval duration `toml:"accrual_interval"`
}

// MonitorConfig holds the account health monitor parameters.
type MonitorConfig struct {
	Enabled  bool     `toml:"enabled"`
	Interval duration `toml:"interval"`
	PageSize int      `toml:"page_size"`
	Workers  int      `toml:"workers"`
}

// ArchiveConfig holds cold storage archival parameters.
type ArchiveConfig struct {
	Enabled       bool     `toml:"enabled"`
	Interval      duration `toml:"interval"`
	RetentionDays int      `toml:"retention_days"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	// APIKey guards the API when set. Empty disables authentication.
	APIKey string `toml:"api_key"`
	// RateLimitPerMinute bounds requests per client IP. Zero disables it.
	RateLimitPerMinute int `toml:"rate_limit_per_minute"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration wraps time.Duration so the TOML decoder can parse strings like
// "5m" or "30s".
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable defaults. These match
// config.example.toml.
func Defaults() Config {
	return Config{
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "riskengine",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "riskengine-data",
			ForcePathStyle: true,
		},
		Oracle: OracleConfig{
			WsURL: "ws://localhost:8080/stream",
		},
		Engine: EngineConfig{
			CloseFactor:          "0.5",
			ProtocolFeeCollector: "protocol_fee_collector",
			LockTTL:              duration{10 * time.Second},
			AccrualInterval:      duration{time.Minute},
		},
		Monitor: MonitorConfig{
			Enabled:  true,
			Interval: duration{30 * time.Second},
			PageSize: 200,
			Workers:  8,
		},
		Archive: ArchiveConfig{
			Enabled:       false,
			Interval:      duration{24 * time.Hour},
			RetentionDays: 90,
		},
		Server: ServerConfig{
			Enabled:            true,
			Port:               8000,
			CORSOrigins:        []string{"http://localhost:3000"},
			RateLimitPerMinute: 600,
		},
		Notify: NotifyConfig{
			Events: []string{"liquidatable", "above_max_ltv"},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"server":  true,
	"monitor": true,
	"full":    true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks the Config and returns a combined error naming every
// problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: server, monitor, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	if strings.TrimSpace(c.Postgres.DSN) == "" {
		if c.Postgres.Host == "" {
			errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
		}
		if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
			errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
		}
		if c.Postgres.Database == "" {
			errs = append(errs, "postgres: database must not be empty")
		}
	}
	if c.Postgres.PoolMaxConns < 1 {
		errs = append(errs, "postgres: pool_max_conns must be >= 1")
	}
	if c.Postgres.PoolMinConns < 0 {
		errs = append(errs, "postgres: pool_min_conns must be >= 0")
	}
	if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
	}

	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	if c.Archive.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty when archival is enabled")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when archival is enabled")
		}
		if c.Archive.RetentionDays < 1 {
			errs = append(errs, "archive: retention_days must be >= 1")
		}
	}

	if c.Oracle.WsURL == "" {
		errs = append(errs, "oracle: ws_url must not be empty")
	}

	if cf, err := decimal.NewFromString(c.Engine.CloseFactor); err != nil {
		errs = append(errs, fmt.Sprintf("engine: close_factor %q is not a decimal", c.Engine.CloseFactor))
	} else if cf.Sign() <= 0 || cf.GreaterThan(decimal.New(1, 0)) {
		errs = append(errs, "engine: close_factor must be in (0, 1]")
	}
	if c.Engine.ProtocolFeeCollector == "" {
		errs = append(errs, "engine: protocol_fee_collector must not be empty")
	}
	if c.Engine.LockTTL.Duration <= 0 {
		errs = append(errs, "engine: lock_ttl must be positive")
	}

	if c.Monitor.Enabled {
		if c.Monitor.Interval.Duration <= 0 {
			errs = append(errs, "monitor: interval must be positive")
		}
		if c.Monitor.PageSize < 1 {
			errs = append(errs, "monitor: page_size must be >= 1")
		}
		if c.Monitor.Workers < 1 {
			errs = append(errs, "monitor: workers must be >= 1")
		}
	}

	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimitPerMinute < 0 {
			errs = append(errs, "server: rate_limit_per_minute must be >= 0")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// CloseFactorDecimal returns the parsed close factor. Call Validate first;
// an unparseable value comes back as zero.
func (c *Config) CloseFactorDecimal() decimal.Decimal {
	cf, err := decimal.NewFromString(c.Engine.CloseFactor)
	if err != nil {
		return decimal.Zero
	}
	return cf
}
