package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Load reads the configuration file at path over the defaults, then applies
// CASTBET_* environment overrides. Files ending in .yaml or .yml are YAML;
// anything else is TOML. An empty path uses defaults and environment only.
// The result is not validated.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		switch strings.ToLower(filepath.Ext(path)) {
		case ".yaml", ".yml":
			data, err := os.ReadFile(path)
			if err != nil {
				return nil, fmt.Errorf("config: read %s: %w", path, err)
			}
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("config: decode %s: %w", path, err)
			}
		default:
			if _, err := toml.DecodeFile(path, &cfg); err != nil {
				return nil, fmt.Errorf("config: decode %s: %w", path, err)
			}
		}
	}

	// .env is optional
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)
	return &cfg, nil
}

// applyEnvOverrides lets deployments inject secrets without touching the
// config file.
func applyEnvOverrides(cfg *Config) {
	// ── Engine ──
	setInt(&cfg.Engine.HouseBps, "CASTBET_ENGINE_HOUSE_BPS")
	setInt(&cfg.Engine.CreatorBps, "CASTBET_ENGINE_CREATOR_BPS")
	setInt(&cfg.Engine.ReferrerBps, "CASTBET_ENGINE_REFERRER_BPS")
	setInt(&cfg.Engine.ReporterBps, "CASTBET_ENGINE_REPORTER_BPS")
	setStr(&cfg.Engine.BondFloor, "CASTBET_ENGINE_BOND_FLOOR")
	setInt(&cfg.Engine.BondBps, "CASTBET_ENGINE_BOND_BPS")
	setDuration(&cfg.Engine.ChallengeWindow, "CASTBET_ENGINE_CHALLENGE_WINDOW")
	setInt(&cfg.Engine.MaxBonusBps, "CASTBET_ENGINE_MAX_BONUS_BPS")
	setStr(&cfg.Engine.MinSeed, "CASTBET_ENGINE_MIN_SEED")
	setInt(&cfg.Engine.MaxBatchSize, "CASTBET_ENGINE_MAX_BATCH_SIZE")

	// ── Roles ──
	setStr(&cfg.Roles.Admin, "CASTBET_ROLES_ADMIN")
	setStringSlice(&cfg.Roles.Operators, "CASTBET_ROLES_OPERATORS")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "CASTBET_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "CASTBET_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "CASTBET_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "CASTBET_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "CASTBET_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "CASTBET_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "CASTBET_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "CASTBET_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "CASTBET_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "CASTBET_POSTGRES_RUN_MIGRATIONS")

	// ── SQLite ──
	setStr(&cfg.SQLite.Path, "CASTBET_SQLITE_PATH")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "CASTBET_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "CASTBET_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "CASTBET_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "CASTBET_REDIS_POOL_SIZE")
	setBool(&cfg.Redis.TLSEnabled, "CASTBET_REDIS_TLS_ENABLED")
	setStr(&cfg.Redis.Prefix, "CASTBET_REDIS_PREFIX")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "CASTBET_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "CASTBET_S3_REGION")
	setStr(&cfg.S3.Bucket, "CASTBET_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "CASTBET_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "CASTBET_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "CASTBET_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "CASTBET_S3_FORCE_PATH_STYLE")

	// ── Keeper ──
	setDuration(&cfg.Keeper.Interval, "CASTBET_KEEPER_INTERVAL")
	setInt(&cfg.Keeper.BatchSize, "CASTBET_KEEPER_BATCH_SIZE")
	setFloat64(&cfg.Keeper.RatePerSecond, "CASTBET_KEEPER_RATE_PER_SECOND")
	setStr(&cfg.Keeper.PrivateKey, "CASTBET_KEEPER_PRIVATE_KEY")
	setStr(&cfg.Keeper.EncryptedKeyPath, "CASTBET_KEEPER_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Keeper.KeyPassword, "CASTBET_KEEPER_KEY_PASSWORD")
	setStr(&cfg.Keeper.ServerURL, "CASTBET_KEEPER_SERVER_URL")
	setStr(&cfg.Keeper.APIKey, "CASTBET_KEEPER_API_KEY")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "CASTBET_ARCHIVE_ENABLED")
	setDuration(&cfg.Archive.Retention, "CASTBET_ARCHIVE_RETENTION")
	setDuration(&cfg.Archive.Interval, "CASTBET_ARCHIVE_INTERVAL")

	// ── Server ──
	setInt(&cfg.Server.Port, "CASTBET_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "CASTBET_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "CASTBET_SERVER_API_KEY")
	setBool(&cfg.Server.RequireSignatures, "CASTBET_SERVER_REQUIRE_SIGNATURES")
	setInt(&cfg.Server.RateLimit, "CASTBET_SERVER_RATE_LIMIT")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "CASTBET_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "CASTBET_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "CASTBET_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "CASTBET_NOTIFY_EVENTS")

	// ── Log ──
	setStr(&cfg.Log.Level, "CASTBET_LOG_LEVEL")
	setStr(&cfg.Log.File, "CASTBET_LOG_FILE")

	// ── Top-level ──
	setStr(&cfg.Mode, "CASTBET_MODE")
	setStr(&cfg.Journal, "CASTBET_JOURNAL")
	setStr(&cfg.HaltDump, "CASTBET_HALT_DUMP")
}

// Typed env-var helpers. Each only mutates the target when the variable is
// set and parses.

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

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
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
