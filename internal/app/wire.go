package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/alanyoungcy/castbet/internal/blob/s3"
	"github.com/alanyoungcy/castbet/internal/cache/redis"
	"github.com/alanyoungcy/castbet/internal/config"
	"github.com/alanyoungcy/castbet/internal/domain"
	"github.com/alanyoungcy/castbet/internal/notify"
	"github.com/alanyoungcy/castbet/internal/server/handler"
	"github.com/alanyoungcy/castbet/internal/store/postgres"
	"github.com/alanyoungcy/castbet/internal/store/sqlite"
)

// Dependencies bundles every backing dependency the application modes need.
// Fields a mode does not use are nil. It is constructed by Wire and torn down
// by the returned cleanup function.
type Dependencies struct {
	// Stores
	Journal     domain.JournalStore
	MarketStore domain.MarketStore
	AuditStore  domain.AuditStore

	// Caches
	MarketCache domain.MarketCache
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager
	SignalBus   *redis.SignalBus

	// Blob storage
	Archiver *s3blob.MarketArchiver

	// Notifications
	Notifier *notify.Notifier

	// Health reports each wired backend by name.
	Health map[string]handler.Pinger
}

// pingFunc adapts a health check function to handler.Pinger.
type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

// needsJournal reports whether the mode replays the ledger in process. The
// standalone keeper talks to a server instead.
func needsJournal(mode string) bool {
	return mode != "keeper"
}

// needsS3 reports whether the mode runs the archiver.
func needsS3(cfg *config.Config) bool {
	return cfg.Archive.Enabled && (cfg.Mode == "server" || cfg.Mode == "full")
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{Health: make(map[string]handler.Pinger)}

	// --- Journal and projections ---
	if needsJournal(cfg.Mode) {
		switch cfg.Journal {
		case "postgres":
			pgClient, err := postgres.New(ctx, postgres.ClientConfig{
				DSN:      cfg.Postgres.DSN,
				Host:     cfg.Postgres.Host,
				Port:     cfg.Postgres.Port,
				Database: cfg.Postgres.Database,
				User:     cfg.Postgres.User,
				Password: cfg.Postgres.Password,
				SSLMode:  cfg.Postgres.SSLMode,
				MaxConns: cfg.Postgres.PoolMaxConns,
				MinConns: cfg.Postgres.PoolMinConns,
			})
			if err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres: %w", err)
			}
			closers = append(closers, pgClient.Close)

			if cfg.Postgres.RunMigrations {
				if err := pgClient.RunMigrations(ctx); err != nil {
					cleanup()
					return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
				}
			}

			pool := pgClient.Pool()
			deps.Journal = postgres.NewJournalStore(pool)
			deps.MarketStore = postgres.NewMarketStore(pool)
			deps.AuditStore = postgres.NewAuditStore(pool)
			deps.Health["postgres"] = pgClient

		case "sqlite":
			db, err := sqlite.Open(cfg.SQLite.Path)
			if err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: sqlite: %w", err)
			}
			closers = append(closers, func() { _ = db.Close() })

			deps.Journal = db.Journal()
			deps.MarketStore = db.Markets()
			deps.Health["sqlite"] = db

		default:
			cleanup()
			return nil, nil, fmt.Errorf("wire: unknown journal %q", cfg.Journal)
		}
	}

	// --- Redis ---
	if cfg.NeedsRedis() {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
			Prefix:     cfg.Redis.Prefix,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.MarketCache = redis.NewMarketCache(redisClient)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.LockManager = redis.NewLockManager(redisClient)
		deps.SignalBus = redis.NewSignalBus(redisClient)
		deps.Health["redis"] = redisClient
	}

	// --- S3 archive ---
	if needsS3(cfg) && deps.MarketStore != nil {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}

		deps.Archiver = s3blob.NewArchiver(
			s3blob.NewWriter(s3Client),
			s3blob.NewReader(s3Client),
			deps.MarketStore,
			deps.Journal,
			deps.AuditStore,
			logger,
		)
		deps.Health["s3"] = pingFunc(s3Client.Health)
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}
