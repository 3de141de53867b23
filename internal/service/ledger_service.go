package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/castbet/internal/domain"
	"github.com/alanyoungcy/castbet/internal/ledger"
	"github.com/alanyoungcy/castbet/internal/sequencer"
	"github.com/alanyoungcy/castbet/internal/settlement"
)

// LedgerService is the entry point for every ledger operation. Writes go
// through the sequencer; reads take a consistent snapshot of the engine.
type LedgerService struct {
	seq    *sequencer.Sequencer
	clock  func() time.Time
	logger *slog.Logger
}

// NewLedgerService creates a LedgerService over seq.
func NewLedgerService(seq *sequencer.Sequencer, logger *slog.Logger) *LedgerService {
	if logger == nil {
		logger = slog.Default()
	}
	return &LedgerService{
		seq:    seq,
		clock:  func() time.Time { return time.Now().UTC() },
		logger: logger.With(slog.String("component", "ledger_service")),
	}
}

// Submit applies cmd under requestID. Retrying a request ID that was already
// applied returns domain.ErrDuplicateRequest.
func (s *LedgerService) Submit(ctx context.Context, requestID string, cmd settlement.Command) (sequencer.Committed, error) {
	c, err := s.seq.Submit(ctx, requestID, cmd)
	if err != nil {
		s.logger.DebugContext(ctx, "command rejected",
			slog.String("op", cmd.Op()),
			slog.String("market_id", cmd.Market()),
			slog.String("error", err.Error()),
		)
		return sequencer.Committed{}, fmt.Errorf("ledger_service: %s: %w", cmd.Op(), err)
	}
	s.logger.InfoContext(ctx, "command applied",
		slog.String("op", cmd.Op()),
		slog.String("market_id", cmd.Market()),
		slog.Uint64("seq", c.Entry.Seq),
	)
	return c, nil
}

// Market returns the current view of one market.
func (s *LedgerService) Market(id string) (domain.MarketView, error) {
	var (
		v   domain.MarketView
		err error
	)
	now := s.clock()
	s.seq.Read(func(e *settlement.Engine) {
		var m *domain.Market
		if m, err = e.Market(id); err == nil {
			v = domain.NewMarketView(m, now)
		}
	})
	return v, err
}

// Markets lists markets in creation order, optionally narrowed to a state
// and creator.
func (s *LedgerService) Markets(filter domain.MarketFilter) []domain.MarketView {
	now := s.clock()
	out := make([]domain.MarketView, 0)
	s.seq.Read(func(e *settlement.Engine) {
		for _, m := range e.Markets() {
			v := domain.NewMarketView(m, now)
			if filter.State != "" && v.State != filter.State {
				continue
			}
			if filter.Creator != nil && v.Creator != *filter.Creator {
				continue
			}
			if filter.Since != nil && v.CreatedAt.Before(*filter.Since) {
				continue
			}
			if filter.Until != nil && !v.CreatedAt.Before(*filter.Until) {
				continue
			}
			out = append(out, v)
		}
	})
	return page(out, filter.Offset, filter.Limit)
}

func page[T any](items []T, offset, limit int) []T {
	if offset > 0 {
		if offset >= len(items) {
			return items[:0]
		}
		items = items[offset:]
	}
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

// Quote prices a reference bet of stake on both sides of a market.
func (s *LedgerService) Quote(id string, stake ledger.Amount) (settlement.Quote, error) {
	var (
		q   settlement.Quote
		err error
	)
	now := s.clock()
	s.seq.Read(func(e *settlement.Engine) {
		q, err = e.Quote(id, stake, now)
	})
	return q, err
}

// Balances returns the credit ledgers of addr.
func (s *LedgerService) Balances(addr domain.Address) domain.Balances {
	var b domain.Balances
	s.seq.Read(func(e *settlement.Engine) { b = e.Balances(addr) })
	return b
}

// AccountBalance pairs an address with its credit ledgers.
type AccountBalance struct {
	Address  domain.Address  `json:"address"`
	Balances domain.Balances `json:"balances"`
}

// AllBalances lists every account with a non-zero credit ledger.
func (s *LedgerService) AllBalances() []AccountBalance {
	out := make([]AccountBalance, 0)
	s.seq.Read(func(e *settlement.Engine) {
		for _, addr := range e.Accounts() {
			if b := e.Balances(addr); !b.IsZero() {
				out = append(out, AccountBalance{Address: addr, Balances: b})
			}
		}
	})
	return out
}

// House returns the protocol's accumulated fees and swept dust.
func (s *LedgerService) House() ledger.Amount {
	var h ledger.Amount
	s.seq.Read(func(e *settlement.Engine) { h = e.House() })
	return h
}

// MarketPositions lists the positions of one market in placement order.
func (s *LedgerService) MarketPositions(id string) ([]domain.Position, error) {
	var (
		ps  []domain.Position
		err error
	)
	s.seq.Read(func(e *settlement.Engine) { ps, err = e.MarketPositions(id) })
	return ps, err
}

// AccountPositions lists every position held by account.
func (s *LedgerService) AccountPositions(account domain.Address) []domain.Position {
	var ps []domain.Position
	s.seq.Read(func(e *settlement.Engine) { ps = e.AccountPositions(account) })
	return ps
}

// Solvency runs the conservation check against the current state.
func (s *LedgerService) Solvency() (settlement.SolvencyReport, error) {
	var (
		r   settlement.SolvencyReport
		err error
	)
	s.seq.Read(func(e *settlement.Engine) { r, err = e.CheckSolvency() })
	return r, err
}

// Roles describes the current admin and operator set.
type Roles struct {
	Admin     domain.Address   `json:"admin"`
	Operators []domain.Address `json:"operators"`
}

// Roles returns the admin and operators.
func (s *LedgerService) Roles() Roles {
	var r Roles
	s.seq.Read(func(e *settlement.Engine) {
		r = Roles{Admin: e.Authorizer().Admin(), Operators: e.Authorizer().Operators()}
	})
	return r
}

// Params returns the engine's economic parameters.
func (s *LedgerService) Params() settlement.Params {
	var p settlement.Params
	s.seq.Read(func(e *settlement.Engine) { p = e.Params() })
	return p
}

// LastSeq returns the sequence number of the last applied command.
func (s *LedgerService) LastSeq() uint64 { return s.seq.LastSeq() }

// Due lists the markets a keeper can advance at now: proposals whose
// challenge window has closed, and resolved markets not yet fully paid.
type Due struct {
	Finalize   []string
	Distribute []string
}

// DueAt scans the engine for keeper work.
func (s *LedgerService) DueAt(now time.Time) Due {
	var d Due
	s.seq.Read(func(e *settlement.Engine) {
		window := e.Params().ChallengeWindow
		for _, m := range e.Markets() {
			switch p := m.Phase.(type) {
			case domain.Proposed:
				if !now.Before(p.Proposal.ProposedAt.Add(window)) {
					d.Finalize = append(d.Finalize, m.ID)
				}
			case domain.Resolved:
				if !m.PaidOut {
					d.Distribute = append(d.Distribute, m.ID)
				}
			}
		}
	})
	return d
}
