package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/castbet/internal/crypto"
	"github.com/alanyoungcy/castbet/internal/domain"
	"github.com/alanyoungcy/castbet/internal/keeper"
	"github.com/alanyoungcy/castbet/internal/report"
	"github.com/alanyoungcy/castbet/internal/sequencer"
	"github.com/alanyoungcy/castbet/internal/server"
	"github.com/alanyoungcy/castbet/internal/server/middleware"
	"github.com/alanyoungcy/castbet/internal/server/ws"
	"github.com/alanyoungcy/castbet/internal/service"
	"github.com/alanyoungcy/castbet/internal/settlement"
)

// ledgerCore is the in-process ledger: the sequencer that owns the engine,
// the projector that follows it and the service the API reads through.
type ledgerCore struct {
	seq       *sequencer.Sequencer
	projector *service.Projector
	svc       *service.LedgerService
}

// ServerMode serves the HTTP and WebSocket API over the in-process ledger and
// archives settled markets when the archive is enabled.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")

	g, ctx := errgroup.WithContext(ctx)

	hub, pubs := a.newHub(deps)
	core, err := a.startLedger(ctx, g, deps, pubs...)
	if err != nil {
		return fmt.Errorf("server mode: %w", err)
	}
	a.startHTTPServer(ctx, g, deps, core, hub)
	a.startArchiver(ctx, g, deps)

	return g.Wait()
}

// KeeperMode runs only the keeper, driving a remote castbet server through its
// signed API. Several keepers may run; the Redis lock lets one act per tick.
func (a *App) KeeperMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting keeper mode", slog.String("server_url", a.cfg.Keeper.ServerURL))

	signer, err := crypto.LoadSigner(a.keyConfig())
	if err != nil {
		return fmt.Errorf("keeper mode: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)
	remote := keeper.NewRemote(a.cfg.Keeper.ServerURL, a.cfg.Keeper.APIKey, signer)
	a.startKeeper(ctx, g, remote, deps.LockManager, signer.Address())
	return g.Wait()
}

// FullMode starts every subsystem in one process: the ledger, the API, the
// keeper and the archiver.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	signer, err := crypto.LoadSigner(a.keyConfig())
	if err != nil {
		return fmt.Errorf("full mode: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)

	hub, pubs := a.newHub(deps)
	core, err := a.startLedger(ctx, g, deps, pubs...)
	if err != nil {
		return fmt.Errorf("full mode: %w", err)
	}
	a.startHTTPServer(ctx, g, deps, core, hub)
	a.startKeeper(ctx, g, keeper.NewLocal(core.svc), deps.LockManager, signer.Address())
	a.startArchiver(ctx, g, deps)

	return g.Wait()
}

// EmbeddedMode runs everything on a single SQLite file with no Redis or
// object storage: in-memory rate limiting, events straight to the hub and a
// local keeper.
func (a *App) EmbeddedMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting embedded mode", slog.String("sqlite_path", a.cfg.SQLite.Path))

	identity, err := a.embeddedKeeperIdentity()
	if err != nil {
		return fmt.Errorf("embedded mode: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)

	hub, pubs := a.newHub(deps)
	core, err := a.startLedger(ctx, g, deps, pubs...)
	if err != nil {
		return fmt.Errorf("embedded mode: %w", err)
	}
	a.startHTTPServer(ctx, g, deps, core, hub)
	a.startKeeper(ctx, g, keeper.NewLocal(core.svc), nil, identity)

	return g.Wait()
}

// ReportMode replays the journal, prints the ledger tables and exits. A
// ledger that fails its solvency check makes the report fail.
func (a *App) ReportMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting report mode")

	core, err := a.buildLedger(ctx, deps)
	if err != nil {
		return fmt.Errorf("report mode: %w", err)
	}
	return report.NewPrinter(os.Stdout).Print(core.svc)
}

// buildLedger creates the engine from configuration and rebuilds it from the
// journal. Publishers receive every event committed after the replay.
func (a *App) buildLedger(ctx context.Context, deps *Dependencies, pubs ...service.EventPublisher) (*ledgerCore, error) {
	params, err := a.cfg.Params()
	if err != nil {
		return nil, fmt.Errorf("engine params: %w", err)
	}
	auth, err := a.cfg.Authorizer()
	if err != nil {
		return nil, fmt.Errorf("roles: %w", err)
	}
	engine, err := settlement.NewEngine(params, auth)
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}

	projector := service.NewProjector(service.ProjectorConfig{
		Markets:    deps.MarketStore,
		Cache:      deps.MarketCache,
		Audit:      deps.AuditStore,
		Publishers: pubs,
		Notifier:   deps.Notifier,
		Logger:     a.logger,
	})
	seq := sequencer.New(sequencer.Config{
		Engine:   engine,
		Journal:  deps.Journal,
		OnCommit: projector.Enqueue,
		DumpPath: a.cfg.HaltDump,
		Logger:   a.logger,
	})

	start := time.Now()
	n, err := seq.Replay(ctx)
	if err != nil {
		return nil, fmt.Errorf("replay: %w", err)
	}
	a.logger.InfoContext(ctx, "ledger rebuilt from journal",
		slog.Int("entries", n),
		slog.Uint64("last_seq", seq.LastSeq()),
		slog.Duration("took", time.Since(start)),
	)

	return &ledgerCore{
		seq:       seq,
		projector: projector,
		svc:       service.NewLedgerService(seq, a.logger),
	}, nil
}

// startLedger builds the ledger, refreshes the projections from the replayed
// state and starts the sequencer and projector goroutines.
func (a *App) startLedger(ctx context.Context, g *errgroup.Group, deps *Dependencies, pubs ...service.EventPublisher) (*ledgerCore, error) {
	core, err := a.buildLedger(ctx, deps, pubs...)
	if err != nil {
		return nil, err
	}
	if _, err := core.projector.Resync(ctx, core.svc); err != nil {
		return nil, fmt.Errorf("resync projections: %w", err)
	}

	g.Go(func() error {
		err := core.seq.Run(ctx)
		if ctx.Err() != nil && !errors.Is(err, domain.ErrHalted) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		return core.projector.Run(ctx, core.svc)
	})
	return core, nil
}

// newHub creates the WebSocket hub and returns the publishers the projector
// should feed. With Redis every replica's hub follows the signal bus; without
// it the projector feeds the local hub directly.
func (a *App) newHub(deps *Dependencies) (*ws.Hub, []service.EventPublisher) {
	cfg := ws.Config{Mode: a.cfg.Mode, StartedAt: time.Now().UTC()}
	if deps.SignalBus != nil {
		return ws.NewHub(deps.SignalBus, a.logger, cfg), []service.EventPublisher{deps.SignalBus}
	}
	hub := ws.NewHub(nil, a.logger, cfg)
	return hub, []service.EventPublisher{hub}
}

// startHTTPServer registers the API over core and runs it until ctx ends.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, core *ledgerCore, hub *ws.Hub) {
	var limiter domain.RateLimiter = middleware.NewLocalLimiter()
	if deps.RateLimiter != nil {
		limiter = deps.RateLimiter
	}

	srv := server.NewServer(server.Config{
		Port:              a.cfg.Server.Port,
		CORSOrigins:       a.cfg.Server.CORSOrigins,
		APIKey:            a.cfg.Server.APIKey,
		RequireSignatures: a.cfg.Server.RequireSignatures,
		SignatureSkew:     a.cfg.Server.SignatureSkew.Duration,
		RateLimit:         a.cfg.Server.RateLimit,
		RateWindow:        a.cfg.Server.RateWindow.Duration,
	}, server.NewHandlers(core.svc, deps.Journal, deps.Health, a.logger), hub, limiter, a.logger)

	g.Go(func() error {
		err := hub.Run(ctx)
		if ctx.Err() != nil {
			return nil
		}
		return err
	})

	g.Go(func() error {
		port := a.cfg.Server.Port
		a.logger.InfoContext(ctx, "HTTP server listening",
			slog.Int("port", port),
			slog.String("url", fmt.Sprintf("http://localhost:%d", port)),
		)
		return srv.Start()
	})

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}

// startKeeper runs the finalize/distribute loop as identity.
func (a *App) startKeeper(ctx context.Context, g *errgroup.Group, l keeper.Ledger, locks domain.LockManager, identity domain.Address) {
	k := keeper.New(l, locks, identity, keeper.Config{
		Interval:      a.cfg.Keeper.Interval.Duration,
		BatchSize:     a.cfg.Keeper.BatchSize,
		RatePerSecond: a.cfg.Keeper.RatePerSecond,
		Burst:         a.cfg.Keeper.Burst,
		LockTTL:       a.cfg.Keeper.LockTTL.Duration,
	}, a.logger)

	g.Go(func() error {
		err := k.Run(ctx)
		if ctx.Err() != nil {
			return nil
		}
		return err
	})
}

// startArchiver periodically exports paid-out markets older than the
// retention period. It is a no-op when no archiver is wired.
func (a *App) startArchiver(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	if deps.Archiver == nil {
		return
	}
	interval := a.cfg.Archive.Interval.Duration
	if interval <= 0 {
		interval = 6 * time.Hour
	}
	retention := a.cfg.Archive.Retention.Duration
	logger := a.logger.With(slog.String("component", "archive_loop"))

	g.Go(func() error {
		runOnce := func() {
			before := time.Now().UTC().Add(-retention)
			n, err := deps.Archiver.ArchiveMarkets(ctx, before)
			if err != nil {
				logger.ErrorContext(ctx, "archive run failed", slog.String("error", err.Error()))
				return
			}
			if n > 0 {
				logger.InfoContext(ctx, "markets archived",
					slog.Int64("count", n),
					slog.Time("before", before),
				)
			}
		}

		runOnce()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				runOnce()
			}
		}
	})
}

func (a *App) keyConfig() crypto.KeyConfig {
	return crypto.KeyConfig{
		RawPrivateKey:    a.cfg.Keeper.PrivateKey,
		EncryptedKeyPath: a.cfg.Keeper.EncryptedKeyPath,
		KeyPassword:      a.cfg.Keeper.KeyPassword,
	}
}

// embeddedKeeperIdentity uses the configured keeper key when there is one and
// the admin address otherwise. Finalize and distribute are open to any
// caller, so the identity only labels the journal entries.
func (a *App) embeddedKeeperIdentity() (domain.Address, error) {
	if a.cfg.Keeper.PrivateKey != "" || a.cfg.Keeper.EncryptedKeyPath != "" {
		signer, err := crypto.LoadSigner(a.keyConfig())
		if err != nil {
			return domain.ZeroAddress, err
		}
		return signer.Address(), nil
	}
	return domain.ParseAddress(a.cfg.Roles.Admin)
}
