package settlement

import (
	"fmt"
	"strings"

	"github.com/alanyoungcy/castbet/internal/domain"
	"github.com/alanyoungcy/castbet/internal/ledger"
)

// SolvencyReport summarizes the conservation check.
type SolvencyReport struct {
	Inflow   ledger.Amount `json:"inflow"`
	Outflow  ledger.Amount `json:"outflow"`
	Escrow   ledger.Amount `json:"escrow"`
	Balances ledger.Amount `json:"balances"`
	House    ledger.Amount `json:"house"`
	Markets  int           `json:"markets"`
	Problems []string      `json:"problems,omitempty"`
}

// OK reports whether every identity held.
func (r SolvencyReport) OK() bool { return len(r.Problems) == 0 }

// CheckSolvency verifies that every unit that entered and has not left is
// held either in a market escrow or in a credit balance, and that each
// market's escrow covers exactly what it still owes.
func (e *Engine) CheckSolvency() (SolvencyReport, error) {
	r := SolvencyReport{Inflow: e.inflow, Outflow: e.outflow, House: e.house, Markets: len(e.order)}
	var err error
	for _, id := range e.order {
		m := e.markets[id]
		if r.Escrow, err = r.Escrow.Add(m.Escrow); err != nil {
			return r, err
		}
		if p := checkMarket(m); p != "" {
			r.Problems = append(r.Problems, p)
		}
	}
	for _, b := range e.balances {
		total, err := b.Total()
		if err != nil {
			return r, err
		}
		if r.Balances, err = r.Balances.Add(total); err != nil {
			return r, err
		}
	}
	held, err := ledger.Sum(r.Escrow, r.Balances, r.House)
	if err != nil {
		return r, err
	}
	net, err := r.Inflow.Sub(r.Outflow)
	if err != nil {
		r.Problems = append(r.Problems, fmt.Sprintf("outflow %s exceeds inflow %s", r.Outflow, r.Inflow))
	} else if !net.Eq(held) {
		r.Problems = append(r.Problems, fmt.Sprintf("net inflow %s != held %s", net, held))
	}
	if !r.OK() {
		return r, fmt.Errorf("solvency: %s: %w", strings.Join(r.Problems, "; "), ErrInsolvent)
	}
	return r, nil
}

func checkMarket(m *domain.Market) string {
	pool, err := m.Pool()
	if err != nil {
		return fmt.Sprintf("market %s: %v", m.ID, err)
	}
	if pool.Gt(m.Received) {
		return fmt.Sprintf("market %s: pool %s exceeds received %s", m.ID, pool, m.Received)
	}
	var want ledger.Amount
	switch p := m.Phase.(type) {
	case domain.Open:
		want = pool
	case domain.Proposed:
		want, err = pool.Add(p.Proposal.Bond)
	case domain.Disputed:
		want, err = ledger.Sum(pool, p.Proposal.Bond, p.Challenge.Bond)
	case domain.Resolved:
		s := p.Settlement
		var owed ledger.Amount
		if owed, err = s.Reserved.Sub(s.Paid); err == nil {
			want, err = owed.Sub(s.Dust)
		}
	}
	if err != nil {
		return fmt.Sprintf("market %s: %v", m.ID, err)
	}
	if !m.Escrow.Eq(want) {
		return fmt.Sprintf("market %s: escrow %s, owes %s", m.ID, m.Escrow, want)
	}
	return ""
}
