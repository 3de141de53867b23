// Package keeper is the off-chain cron agent that advances markets nobody
// else is advancing: it finalizes unchallenged proposals once their window
// closes and pays resolved markets out in batches.
package keeper

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/alanyoungcy/castbet/internal/domain"
	"github.com/alanyoungcy/castbet/internal/settlement"
)

const tickLockKey = "keeper:tick"

// Due is the keeper's work list for one tick.
type Due struct {
	Finalize   []string `json:"finalize"`
	Distribute []string `json:"distribute"`
}

// Ledger is the keeper's view of the settlement service. It is satisfied
// in-process by Local and over HTTP by Remote.
type Ledger interface {
	Due(ctx context.Context) (Due, error)
	Finalize(ctx context.Context, marketID string, caller domain.Address) error
	Distribute(ctx context.Context, marketID string, caller domain.Address, batchSize int) (settlement.BatchResult, error)
}

// Config tunes the keeper loop.
type Config struct {
	Interval      time.Duration
	BatchSize     int
	RatePerSecond float64
	Burst         int
	LockTTL       time.Duration
	// MaxBatches caps distribute calls per market per tick; zero means no cap.
	MaxBatches int
}

// Stats summarizes one tick.
type Stats struct {
	Skipped     bool
	Finalized   int
	Batches     int
	PaidOut     int
	Failures    int
	Transferred int
}

// Keeper drives due markets forward.
type Keeper struct {
	ledger   Ledger
	locks    domain.LockManager
	identity domain.Address
	limiter  *rate.Limiter
	cfg      Config
	logger   *slog.Logger
}

// New creates a Keeper that signs as identity. locks may be nil when only
// one keeper can run, as in embedded mode.
func New(ledger Ledger, locks domain.LockManager, identity domain.Address, cfg Config, logger *slog.Logger) *Keeper {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 2 * time.Minute
	}
	limit := rate.Inf
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Keeper{
		ledger:   ledger,
		locks:    locks,
		identity: identity,
		limiter:  rate.NewLimiter(limit, burst),
		cfg:      cfg,
		logger:   logger.With(slog.String("component", "keeper")),
	}
}

// Run ticks immediately and then on every interval until ctx is cancelled.
func (k *Keeper) Run(ctx context.Context) error {
	k.logger.Info("keeper started",
		slog.String("identity", k.identity.Hex()),
		slog.Duration("interval", k.cfg.Interval),
	)
	k.runTick(ctx)

	ticker := time.NewTicker(k.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			k.logger.Info("keeper stopped")
			return ctx.Err()
		case <-ticker.C:
			k.runTick(ctx)
		}
	}
}

func (k *Keeper) runTick(ctx context.Context) {
	stats, err := k.Tick(ctx)
	if err != nil {
		if ctx.Err() == nil {
			k.logger.ErrorContext(ctx, "keeper tick failed", slog.String("error", err.Error()))
		}
		return
	}
	if stats.Finalized > 0 || stats.Batches > 0 || stats.Failures > 0 {
		k.logger.InfoContext(ctx, "keeper tick",
			slog.Int("finalized", stats.Finalized),
			slog.Int("batches", stats.Batches),
			slog.Int("paid_out", stats.PaidOut),
			slog.Int("transfers", stats.Transferred),
			slog.Int("failures", stats.Failures),
		)
	}
}

// Tick runs one pass. When another keeper holds the tick lock the pass is
// skipped.
func (k *Keeper) Tick(ctx context.Context) (Stats, error) {
	var stats Stats
	if k.locks != nil {
		unlock, err := k.locks.Acquire(ctx, tickLockKey, k.cfg.LockTTL)
		if errors.Is(err, domain.ErrLockHeld) {
			k.logger.DebugContext(ctx, "another keeper holds the tick lock")
			stats.Skipped = true
			return stats, nil
		}
		if err != nil {
			return stats, err
		}
		defer unlock()
	}

	due, err := k.ledger.Due(ctx)
	if err != nil {
		return stats, err
	}

	for _, id := range due.Finalize {
		if err := k.limiter.Wait(ctx); err != nil {
			return stats, err
		}
		if err := k.ledger.Finalize(ctx, id, k.identity); err != nil {
			k.failed(ctx, &stats, "finalize", id, err)
			continue
		}
		stats.Finalized++
		// a finalized market is immediately payable
		due.Distribute = append(due.Distribute, id)
	}

	for _, id := range dedupe(due.Distribute) {
		if err := k.distribute(ctx, id, &stats); err != nil {
			return stats, err
		}
	}
	return stats, nil
}

func (k *Keeper) distribute(ctx context.Context, id string, stats *Stats) error {
	for n := 0; k.cfg.MaxBatches == 0 || n < k.cfg.MaxBatches; n++ {
		if err := k.limiter.Wait(ctx); err != nil {
			return err
		}
		res, err := k.ledger.Distribute(ctx, id, k.identity, k.cfg.BatchSize)
		if err != nil {
			if !errors.Is(err, domain.ErrNothingToDistribute) {
				k.failed(ctx, stats, "distribute", id, err)
			}
			return nil
		}
		stats.Batches++
		stats.Transferred += len(res.Transfers)
		if res.PaidOut {
			stats.PaidOut++
			return nil
		}
	}
	return nil
}

func (k *Keeper) failed(ctx context.Context, stats *Stats, op, id string, err error) {
	stats.Failures++
	level := slog.LevelWarn
	// another caller got there first
	if errors.Is(err, domain.ErrInvalidState) {
		level = slog.LevelDebug
	}
	k.logger.Log(ctx, level, "keeper "+op+" failed",
		slog.String("market_id", id),
		slog.String("error", err.Error()),
	)
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := ids[:0:0]
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}
