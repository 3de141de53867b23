// Package config defines the castbet configuration tree and its validation.
package config

import (
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/alanyoungcy/castbet/internal/domain"
	"github.com/alanyoungcy/castbet/internal/ledger"
	"github.com/alanyoungcy/castbet/internal/settlement"
)

// Config is the root configuration. Fields come from a TOML or YAML file and
// are then overridden by CASTBET_* environment variables.
type Config struct {
	Engine   EngineConfig   `toml:"engine" yaml:"engine"`
	Roles    RolesConfig    `toml:"roles" yaml:"roles"`
	Postgres PostgresConfig `toml:"postgres" yaml:"postgres"`
	SQLite   SQLiteConfig   `toml:"sqlite" yaml:"sqlite"`
	Redis    RedisConfig    `toml:"redis" yaml:"redis"`
	S3       S3Config       `toml:"s3" yaml:"s3"`
	Keeper   KeeperConfig   `toml:"keeper" yaml:"keeper"`
	Archive  ArchiveConfig  `toml:"archive" yaml:"archive"`
	Server   ServerConfig   `toml:"server" yaml:"server"`
	Notify   NotifyConfig   `toml:"notify" yaml:"notify"`
	Log      LogConfig      `toml:"log" yaml:"log"`
	Mode     string         `toml:"mode" yaml:"mode"`
	// Journal selects the journal backend: "postgres" or "sqlite".
	Journal string `toml:"journal" yaml:"journal"`
	// HaltDump is where the sequencer writes its state if it halts.
	HaltDump string `toml:"halt_dump" yaml:"halt_dump"`
}

// EngineConfig holds the economic parameters. Amounts are whole-token
// decimal strings ("10", "2.5").
type EngineConfig struct {
	HouseBps        int      `toml:"house_bps" yaml:"house_bps"`
	CreatorBps      int      `toml:"creator_bps" yaml:"creator_bps"`
	ReferrerBps     int      `toml:"referrer_bps" yaml:"referrer_bps"`
	ReporterBps     int      `toml:"reporter_bps" yaml:"reporter_bps"`
	BondFloor       string   `toml:"bond_floor" yaml:"bond_floor"`
	BondBps         int      `toml:"bond_bps" yaml:"bond_bps"`
	ChallengeWindow duration `toml:"challenge_window" yaml:"challenge_window"`
	MaxBonusBps     int      `toml:"max_bonus_bps" yaml:"max_bonus_bps"`
	MinSeed         string   `toml:"min_seed" yaml:"min_seed"`
	MaxBatchSize    int      `toml:"max_batch_size" yaml:"max_batch_size"`
	MaxQuestionSize int      `toml:"max_question_size" yaml:"max_question_size"`
}

// RolesConfig names the admin and the initial operators. Later changes go
// through journaled grant/revoke commands.
type RolesConfig struct {
	Admin     string   `toml:"admin" yaml:"admin"`
	Operators []string `toml:"operators" yaml:"operators"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn" yaml:"dsn"`
	Host          string `toml:"host" yaml:"host"`
	Port          int    `toml:"port" yaml:"port"`
	Database      string `toml:"database" yaml:"database"`
	User          string `toml:"user" yaml:"user"`
	Password      string `toml:"password" yaml:"password"`
	SSLMode       string `toml:"ssl_mode" yaml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns" yaml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns" yaml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations" yaml:"run_migrations"`
}

// SQLiteConfig holds the embedded database location.
type SQLiteConfig struct {
	Path string `toml:"path" yaml:"path"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr" yaml:"addr"`
	Password   string `toml:"password" yaml:"password"`
	DB         int    `toml:"db" yaml:"db"`
	PoolSize   int    `toml:"pool_size" yaml:"pool_size"`
	MaxRetries int    `toml:"max_retries" yaml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled" yaml:"tls_enabled"`
	Prefix     string `toml:"prefix" yaml:"prefix"`
}

// S3Config holds object storage parameters for the archive.
type S3Config struct {
	Endpoint       string `toml:"endpoint" yaml:"endpoint"`
	Region         string `toml:"region" yaml:"region"`
	Bucket         string `toml:"bucket" yaml:"bucket"`
	AccessKey      string `toml:"access_key" yaml:"access_key"`
	SecretKey      string `toml:"secret_key" yaml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl" yaml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style" yaml:"force_path_style"`
}

// KeeperConfig controls the finalize/distribute agent.
type KeeperConfig struct {
	Interval         duration `toml:"interval" yaml:"interval"`
	BatchSize        int      `toml:"batch_size" yaml:"batch_size"`
	RatePerSecond    float64  `toml:"rate_per_second" yaml:"rate_per_second"`
	Burst            int      `toml:"burst" yaml:"burst"`
	LockTTL          duration `toml:"lock_ttl" yaml:"lock_ttl"`
	PrivateKey       string   `toml:"private_key" yaml:"private_key"`
	EncryptedKeyPath string   `toml:"encrypted_key_path" yaml:"encrypted_key_path"`
	KeyPassword      string   `toml:"key_password" yaml:"key_password"`
	// ServerURL is the API the standalone keeper drives. Full and embedded
	// modes call the ledger in process and ignore it.
	ServerURL string `toml:"server_url" yaml:"server_url"`
	APIKey    string `toml:"api_key" yaml:"api_key"`
}

// ArchiveConfig controls export of settled markets to S3.
type ArchiveConfig struct {
	Enabled   bool     `toml:"enabled" yaml:"enabled"`
	Retention duration `toml:"retention" yaml:"retention"`
	Interval  duration `toml:"interval" yaml:"interval"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Port        int      `toml:"port" yaml:"port"`
	CORSOrigins []string `toml:"cors_origins" yaml:"cors_origins"`
	APIKey      string   `toml:"api_key" yaml:"api_key"`
	// RequireSignatures makes every mutating request carry an EIP-191
	// signature of the caller; otherwise X-Castbet-Address is trusted.
	RequireSignatures bool     `toml:"require_signatures" yaml:"require_signatures"`
	SignatureSkew     duration `toml:"signature_skew" yaml:"signature_skew"`
	RateLimit         int      `toml:"rate_limit" yaml:"rate_limit"`
	RateWindow        duration `toml:"rate_window" yaml:"rate_window"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token" yaml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id" yaml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url" yaml:"discord_webhook_url"`
	Events            []string `toml:"events" yaml:"events"`
}

// LogConfig controls the slog handler and optional file rotation.
type LogConfig struct {
	Level      string `toml:"level" yaml:"level"`
	File       string `toml:"file" yaml:"file"`
	MaxSizeMB  int    `toml:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups" yaml:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days" yaml:"max_age_days"`
	Compress   bool   `toml:"compress" yaml:"compress"`
}

// duration wraps time.Duration so "5m" and "24h" decode from TOML and YAML.
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler for the TOML decoder.
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *duration) UnmarshalYAML(value *yaml.Node) error {
	return d.UnmarshalText([]byte(value.Value))
}

// Defaults returns a Config populated with the production defaults.
func Defaults() Config {
	p := settlement.DefaultParams()
	return Config{
		Engine: EngineConfig{
			HouseBps:        int(p.Fees.HouseBps),
			CreatorBps:      int(p.Fees.CreatorBps),
			ReferrerBps:     int(p.Fees.ReferrerBps),
			ReporterBps:     int(p.Fees.ReporterBps),
			BondFloor:       p.BondFloor.Display(),
			BondBps:         int(p.BondBps),
			ChallengeWindow: duration{p.ChallengeWindow},
			MaxBonusBps:     int(p.MaxBonusBps),
			MinSeed:         p.MinSeed.Display(),
			MaxBatchSize:    p.MaxBatchSize,
			MaxQuestionSize: p.MaxQuestionSize,
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "castbet",
			User:          "castbet",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  1,
			RunMigrations: true,
		},
		SQLite: SQLiteConfig{Path: "castbet.db"},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
			Prefix:     "castbet:",
		},
		S3: S3Config{Region: "us-east-1"},
		Keeper: KeeperConfig{
			Interval:      duration{30 * time.Second},
			BatchSize:     100,
			RatePerSecond: 5,
			Burst:         5,
			LockTTL:       duration{2 * time.Minute},
		},
		Archive: ArchiveConfig{
			Retention: duration{30 * 24 * time.Hour},
			Interval:  duration{6 * time.Hour},
		},
		Server: ServerConfig{
			Port:          8080,
			SignatureSkew: duration{5 * time.Minute},
			RateLimit:     120,
			RateWindow:    duration{time.Minute},
		},
		Log: LogConfig{
			Level:      "info",
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 28,
		},
		Mode:     "server",
		Journal:  "postgres",
		HaltDump: "castbet-halt.json",
	}
}

var validModes = map[string]bool{
	"server":   true,
	"keeper":   true,
	"full":     true,
	"embedded": true,
	"report":   true,
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// NeedsRedis reports whether the mode uses the Redis cache, bus and locks.
func (c *Config) NeedsRedis() bool {
	return c.Mode == "server" || c.Mode == "keeper" || c.Mode == "full"
}

// NeedsKeeperKey reports whether the mode runs the keeper.
func (c *Config) NeedsKeeperKey() bool {
	return c.Mode == "keeper" || c.Mode == "full"
}

// Params converts the engine section into settlement parameters.
func (c *Config) Params() (settlement.Params, error) {
	e := c.Engine
	floor, err := ledger.ParseUSDC(e.BondFloor)
	if err != nil {
		return settlement.Params{}, fmt.Errorf("engine.bond_floor: %w", err)
	}
	seed, err := ledger.ParseUSDC(e.MinSeed)
	if err != nil {
		return settlement.Params{}, fmt.Errorf("engine.min_seed: %w", err)
	}
	for name, v := range map[string]int{
		"house_bps": e.HouseBps, "creator_bps": e.CreatorBps, "referrer_bps": e.ReferrerBps,
		"reporter_bps": e.ReporterBps, "bond_bps": e.BondBps, "max_bonus_bps": e.MaxBonusBps,
	} {
		if v < 0 {
			return settlement.Params{}, fmt.Errorf("engine.%s must be >= 0", name)
		}
	}
	p := settlement.Params{
		Fees: settlement.FeeSchedule{
			HouseBps:    uint64(e.HouseBps),
			CreatorBps:  uint64(e.CreatorBps),
			ReferrerBps: uint64(e.ReferrerBps),
			ReporterBps: uint64(e.ReporterBps),
		},
		BondFloor:       floor,
		BondBps:         uint64(e.BondBps),
		ChallengeWindow: e.ChallengeWindow.Duration,
		MaxBonusBps:     uint64(e.MaxBonusBps),
		MinSeed:         seed,
		MaxBatchSize:    e.MaxBatchSize,
		MaxQuestionSize: e.MaxQuestionSize,
	}
	return p, p.Validate()
}

// Authorizer builds the initial role table.
func (c *Config) Authorizer() (*settlement.Authorizer, error) {
	admin, err := domain.ParseAddress(c.Roles.Admin)
	if err != nil {
		return nil, fmt.Errorf("roles.admin: %w", err)
	}
	ops := make([]domain.Address, 0, len(c.Roles.Operators))
	for _, s := range c.Roles.Operators {
		op, err := domain.ParseAddress(s)
		if err != nil {
			return nil, fmt.Errorf("roles.operators: %w", err)
		}
		ops = append(ops, op)
	}
	return settlement.NewAuthorizer(admin, ops...), nil
}

// Validate checks the configuration and reports every problem at once.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: server, keeper, full, embedded, report)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.Log.Level)] {
		errs = append(errs, fmt.Sprintf("unknown log.level %q (valid: debug, info, warn, error)", c.Log.Level))
	}

	if _, err := c.Params(); err != nil {
		errs = append(errs, "engine: "+err.Error())
	}
	if _, err := c.Authorizer(); err != nil {
		errs = append(errs, err.Error())
	}

	switch c.Journal {
	case "postgres":
		if c.Mode == "embedded" {
			errs = append(errs, "journal: embedded mode requires journal = \"sqlite\"")
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
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}
	case "sqlite":
		if c.SQLite.Path == "" {
			errs = append(errs, "sqlite: path must not be empty")
		}
	default:
		errs = append(errs, fmt.Sprintf("unknown journal %q (valid: postgres, sqlite)", c.Journal))
	}

	if c.NeedsRedis() && c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty for mode "+c.Mode)
	}

	if c.NeedsKeeperKey() {
		if c.Keeper.PrivateKey == "" && c.Keeper.EncryptedKeyPath == "" {
			errs = append(errs, "keeper: either private_key or encrypted_key_path must be set for mode "+c.Mode)
		}
		if c.Keeper.EncryptedKeyPath != "" && c.Keeper.KeyPassword == "" {
			errs = append(errs, "keeper: key_password is required when encrypted_key_path is set")
		}
		if c.Keeper.Interval.Duration <= 0 {
			errs = append(errs, "keeper: interval must be positive")
		}
		if c.Keeper.RatePerSecond <= 0 {
			errs = append(errs, "keeper: rate_per_second must be positive")
		}
	}
	if c.Mode == "keeper" && c.Keeper.ServerURL == "" {
		errs = append(errs, "keeper: server_url is required for mode keeper")
	}

	if c.Archive.Enabled {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket is required when archive is enabled")
		}
		if c.Archive.Retention.Duration <= 0 {
			errs = append(errs, "archive: retention must be positive")
		}
	}

	if c.Mode != "report" && c.Mode != "keeper" {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
	}
	if c.Server.RateLimit < 0 {
		errs = append(errs, "server: rate_limit must be >= 0")
	}

	if (c.Notify.TelegramToken == "") != (c.Notify.TelegramChatID == "") {
		errs = append(errs, "notify: telegram_token and telegram_chat_id must be set together")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
