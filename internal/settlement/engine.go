package settlement

import (
	"fmt"
	"sort"
	"time"

	"github.com/alanyoungcy/castbet/internal/domain"
	"github.com/alanyoungcy/castbet/internal/ledger"
)

// Engine holds all markets, positions and credit balances.
type Engine struct {
	params Params
	auth   *Authorizer

	markets   map[string]*domain.Market
	order     []string
	positions map[domain.PositionKey]*domain.Position
	balances  map[domain.Address]domain.Balances
	house     ledger.Amount

	// inflow and outflow count every unit that entered or left the engine.
	inflow  ledger.Amount
	outflow ledger.Amount
}

// NewEngine creates an empty engine. It fails on invalid params.
func NewEngine(params Params, auth *Authorizer) (*Engine, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if auth == nil {
		return nil, fmt.Errorf("settlement: nil authorizer")
	}
	return &Engine{
		params:    params,
		auth:      auth,
		markets:   make(map[string]*domain.Market),
		positions: make(map[domain.PositionKey]*domain.Position),
		balances:  make(map[domain.Address]domain.Balances),
	}, nil
}

// Params returns the engine parameters.
func (e *Engine) Params() Params { return e.params }

// Authorizer returns the role set.
func (e *Engine) Authorizer() *Authorizer { return e.auth }

func (e *Engine) market(id string) (*domain.Market, error) {
	m, ok := e.markets[id]
	if !ok {
		return nil, fmt.Errorf("settlement: %s: %w", id, domain.ErrMarketNotFound)
	}
	return m, nil
}

func invalidState(op string, m *domain.Market, now time.Time, reason string, expected ...domain.State) error {
	return &domain.InvalidStateError{
		Op:       op,
		MarketID: m.ID,
		Expected: expected,
		Actual:   m.StateAt(now),
		Reason:   reason,
	}
}

// ledgerTx stages credit-balance and flow changes so an operation applies all
// of them or none. The first error sticks; commit is only called when err is
// nil and cannot fail.
type ledgerTx struct {
	e        *Engine
	balances map[domain.Address]domain.Balances
	house    ledger.Amount
	inflow   ledger.Amount
	outflow  ledger.Amount
	err      error
}

func (e *Engine) begin() *ledgerTx {
	return &ledgerTx{
		e:        e,
		balances: make(map[domain.Address]domain.Balances),
		house:    e.house,
		inflow:   e.inflow,
		outflow:  e.outflow,
	}
}

func (t *ledgerTx) balance(addr domain.Address) domain.Balances {
	if b, ok := t.balances[addr]; ok {
		return b
	}
	return t.e.balances[addr]
}

func (t *ledgerTx) add(dst *ledger.Amount, amt ledger.Amount) {
	if t.err != nil || amt.IsZero() {
		return
	}
	v, err := dst.Add(amt)
	if err != nil {
		t.err = err
		return
	}
	*dst = v
}

// credit adds amt to one of addr's ledgers.
func (t *ledgerTx) credit(addr domain.Address, kind domain.BalanceKind, amt ledger.Amount) {
	if kind == domain.BalanceHouse {
		t.add(&t.house, amt)
		return
	}
	b := t.balance(addr)
	switch kind {
	case domain.BalanceCreatorFees:
		t.add(&b.CreatorFees, amt)
	case domain.BalanceReferral:
		t.add(&b.ReferralRewards, amt)
	case domain.BalanceBond:
		t.add(&b.Bonds, amt)
	}
	t.balances[addr] = b
}

func (t *ledgerTx) receive(amt ledger.Amount) { t.add(&t.inflow, amt) }
func (t *ledgerTx) send(amt ledger.Amount)    { t.add(&t.outflow, amt) }

func (t *ledgerTx) commit() {
	for addr, b := range t.balances {
		if b.IsZero() {
			delete(t.e.balances, addr)
			continue
		}
		t.e.balances[addr] = b
	}
	t.e.house = t.house
	t.e.inflow = t.inflow
	t.e.outflow = t.outflow
}

// debit subtracts amt from *dst, recording the first failure on t.
func (t *ledgerTx) debit(dst *ledger.Amount, amt ledger.Amount) {
	if t.err != nil || amt.IsZero() {
		return
	}
	v, err := dst.Sub(amt)
	if err != nil {
		t.err = err
		return
	}
	*dst = v
}

// Market returns a copy of the market.
func (e *Engine) Market(id string) (*domain.Market, error) {
	m, err := e.market(id)
	if err != nil {
		return nil, err
	}
	return m.Clone(), nil
}

// Markets returns copies of all markets in creation order.
func (e *Engine) Markets() []*domain.Market {
	out := make([]*domain.Market, 0, len(e.order))
	for _, id := range e.order {
		out = append(out, e.markets[id].Clone())
	}
	return out
}

// Position returns a copy of one position.
func (e *Engine) Position(key domain.PositionKey) (domain.Position, bool) {
	p, ok := e.positions[key]
	if !ok {
		return domain.Position{}, false
	}
	return *p, true
}

// MarketPositions returns copies of a market's positions in bet order.
func (e *Engine) MarketPositions(id string) ([]domain.Position, error) {
	m, err := e.market(id)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Position, 0, len(m.Positions))
	for _, k := range m.Positions {
		out = append(out, *e.positions[k])
	}
	return out, nil
}

// AccountPositions returns copies of every position held by account.
func (e *Engine) AccountPositions(account domain.Address) []domain.Position {
	var out []domain.Position
	for _, id := range e.order {
		for _, side := range []domain.Side{domain.SideYes, domain.SideNo} {
			if p, ok := e.positions[domain.PositionKey{MarketID: id, Account: account, Side: side}]; ok {
				out = append(out, *p)
			}
		}
	}
	return out
}

// Balances returns the credit balances of addr.
func (e *Engine) Balances(addr domain.Address) domain.Balances { return e.balances[addr] }

// House returns the house balance.
func (e *Engine) House() ledger.Amount { return e.house }

// Accounts returns every address with a non-zero balance, sorted.
func (e *Engine) Accounts() []domain.Address {
	out := make([]domain.Address, 0, len(e.balances))
	for addr := range e.balances {
		out = append(out, addr)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Cmp(out[j]) < 0 })
	return out
}
