package service

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/alanyoungcy/castbet/internal/domain"
	"github.com/alanyoungcy/castbet/internal/notify"
	"github.com/alanyoungcy/castbet/internal/sequencer"
)

// EventPublisher fans committed events out to live subscribers. The Redis
// signal bus and the websocket hub both implement it.
type EventPublisher interface {
	PublishEvent(ctx context.Context, ev domain.Event) error
}

// ProjectorConfig wires the projection targets. Every target is optional.
type ProjectorConfig struct {
	Markets    domain.MarketStore
	Cache      domain.MarketCache
	Audit      domain.AuditStore
	Publishers []EventPublisher
	Notifier   *notify.Notifier
	QueueSize  int
	// ResyncInterval is how often Run checks for dropped commits and
	// rewrites the projections when any were lost. Defaults to 5s.
	ResyncInterval time.Duration
	Logger         *slog.Logger
}

type projection struct {
	event domain.Event
	view  *domain.MarketView
}

// Projector keeps the read side in step with the ledger. Commits are queued
// from the sequencer goroutine and applied by Run; a failing target is logged
// and skipped so the ledger never waits on it.
type Projector struct {
	markets    domain.MarketStore
	cache      domain.MarketCache
	audit      domain.AuditStore
	publishers []EventPublisher
	notifier   *notify.Notifier
	queue      chan projection
	dropped    atomic.Uint64
	interval   time.Duration
	logger     *slog.Logger
}

// NewProjector creates a Projector.
func NewProjector(cfg ProjectorConfig) *Projector {
	size := cfg.QueueSize
	if size <= 0 {
		size = 1024
	}
	interval := cfg.ResyncInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Projector{
		markets:    cfg.Markets,
		cache:      cfg.Cache,
		audit:      cfg.Audit,
		publishers: cfg.Publishers,
		notifier:   cfg.Notifier,
		queue:      make(chan projection, size),
		interval:   interval,
		logger:     logger.With(slog.String("component", "projector")),
	}
}

// EventFromCommit describes a committed command as a ledger event.
func EventFromCommit(c sequencer.Committed) domain.Event {
	ev := domain.Event{
		Type:      c.Result.Event,
		Seq:       c.Entry.Seq,
		MarketID:  c.Entry.MarketID,
		Caller:    c.Entry.Caller,
		At:        c.Entry.At,
		Transfers: c.Result.Transfers,
	}
	data := map[string]any{"op": c.Entry.Op, "request_id": c.Entry.RequestID}
	if b := c.Result.Bet; b != nil {
		data["side"] = string(b.Position.Side)
		data["shares"] = b.Shares.String()
		data["weight_bps"] = b.Weight
		data["net"] = b.Fees.Net.String()
	}
	if b := c.Result.Batch; b != nil {
		data["processed"] = b.Processed
		data["remaining"] = b.Remaining
		data["paid_out"] = b.PaidOut
	}
	ev.Data = data
	return ev
}

// Enqueue records c for projection. It never blocks: when the queue is full
// the commit is dropped and counted, and Run repairs the market rows with
// Resync on its next check.
func (p *Projector) Enqueue(c sequencer.Committed) {
	pr := projection{event: EventFromCommit(c)}
	if m := c.Result.Market; m != nil {
		v := domain.NewMarketView(m, c.Entry.At)
		pr.view = &v
	}
	select {
	case p.queue <- pr:
	default:
		p.dropped.Add(1)
		p.logger.Warn("projection queue full, commit dropped",
			slog.Uint64("seq", c.Entry.Seq),
			slog.String("market_id", c.Entry.MarketID),
		)
	}
}

// Dropped returns the number of commits lost to a full queue.
func (p *Projector) Dropped() uint64 { return p.dropped.Load() }

// Run applies queued projections until ctx is cancelled, then drains what is
// already queued. When commits were dropped it resyncs from ls.
func (p *Projector) Run(ctx context.Context, ls *LedgerService) error {
	p.logger.Info("projector started")
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.drain(context.Background())
			p.logger.Info("projector stopped")
			return nil
		case pr := <-p.queue:
			p.apply(ctx, pr)
		case <-ticker.C:
			if ls == nil || p.Dropped() == 0 {
				continue
			}
			p.drain(ctx)
			if _, err := p.Resync(ctx, ls); err != nil && ctx.Err() == nil {
				p.logger.WarnContext(ctx, "resync failed", slog.String("error", err.Error()))
			}
		}
	}
}

func (p *Projector) drain(ctx context.Context) {
	for {
		select {
		case pr := <-p.queue:
			p.apply(ctx, pr)
		default:
			return
		}
	}
}

func (p *Projector) apply(ctx context.Context, pr projection) {
	ev := pr.event
	if pr.view != nil {
		p.project(ctx, *pr.view)
	}
	for _, pub := range p.publishers {
		if err := pub.PublishEvent(ctx, ev); err != nil {
			p.logger.WarnContext(ctx, "publish failed",
				slog.String("event", string(ev.Type)),
				slog.Uint64("seq", ev.Seq),
				slog.String("error", err.Error()),
			)
		}
	}
	if p.audit != nil {
		detail := map[string]any{
			"seq":    ev.Seq,
			"caller": ev.Caller.Hex(),
			"at":     ev.At,
		}
		if ev.MarketID != "" {
			detail["market_id"] = ev.MarketID
		}
		for k, v := range ev.Data {
			detail[k] = v
		}
		if len(ev.Transfers) > 0 {
			detail["transfers"] = len(ev.Transfers)
		}
		if err := p.audit.Log(ctx, string(ev.Type), detail); err != nil {
			p.logger.WarnContext(ctx, "audit log failed",
				slog.Uint64("seq", ev.Seq),
				slog.String("error", err.Error()),
			)
		}
	}
	if p.notifier.Enabled() && pr.view != nil {
		if msg, ok := notify.FromEvent(ev, *pr.view); ok {
			if err := p.notifier.Notify(ctx, string(ev.Type), msg); err != nil {
				p.logger.WarnContext(ctx, "notification failed",
					slog.String("event", string(ev.Type)),
					slog.String("market_id", ev.MarketID),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

func (p *Projector) project(ctx context.Context, v domain.MarketView) {
	if p.markets != nil {
		if err := p.markets.Upsert(ctx, v); err != nil {
			p.logger.WarnContext(ctx, "market projection failed",
				slog.String("market_id", v.ID),
				slog.String("error", err.Error()),
			)
		}
	}
	if p.cache != nil {
		if err := p.cache.Set(ctx, v); err != nil {
			p.logger.WarnContext(ctx, "cache set failed",
				slog.String("market_id", v.ID),
				slog.String("error", err.Error()),
			)
		}
	}
}

// Resync rewrites every market row and cache entry from the ledger. It runs
// after replay and from Run whenever commits were dropped.
func (p *Projector) Resync(ctx context.Context, ls *LedgerService) (int, error) {
	lost := p.dropped.Swap(0)
	views := ls.Markets(domain.MarketFilter{})
	for _, v := range views {
		if err := ctx.Err(); err != nil {
			p.dropped.Add(lost)
			return 0, err
		}
		p.project(ctx, v)
	}
	p.logger.InfoContext(ctx, "projections resynced", slog.Int("markets", len(views)))
	return len(views), nil
}

// PublisherFunc adapts a plain function to an EventPublisher.
type PublisherFunc func(domain.Event)

// PublishEvent calls f.
func (f PublisherFunc) PublishEvent(_ context.Context, ev domain.Event) error {
	f(ev)
	return nil
}
