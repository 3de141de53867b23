package settlement

import (
	"fmt"
	"time"

	"github.com/alanyoungcy/castbet/internal/domain"
	"github.com/alanyoungcy/castbet/internal/ledger"
)

type payment struct {
	key    domain.PositionKey
	amount ledger.Amount
}

// pay marks the positions paid and emits their transfers. Amounts come out of
// escrow and are bounded by the settlement's reserved total.
func (e *Engine) pay(next *domain.Market, res *domain.Resolved, payments []payment, tx *ledgerTx) []domain.Transfer {
	reason := domain.TransferPayout
	if res.Settlement.Mode == domain.ModeRefund {
		reason = domain.TransferRefund
	}
	var transfers []domain.Transfer
	for _, p := range payments {
		tx.debit(&next.Escrow, p.amount)
		tx.add(&res.Settlement.Paid, p.amount)
		tx.send(p.amount)
		if !p.amount.IsZero() {
			transfers = append(transfers, domain.Transfer{
				To:       p.key.Account,
				Amount:   p.amount,
				Reason:   reason,
				MarketID: next.ID,
			})
		}
	}
	if tx.err == nil && res.Settlement.Paid.Gt(res.Settlement.Reserved) {
		tx.err = fmt.Errorf("paid %s exceeds reserved %s: %w", res.Settlement.Paid, res.Settlement.Reserved, ErrInsolvent)
	}
	return transfers
}

func (e *Engine) markPaid(payments []payment) {
	for _, p := range payments {
		pos := e.positions[p.key]
		pos.Paid = true
		pos.Payout = p.amount
	}
}

// ClaimWinnings pays every unpaid eligible position account holds in a
// RESOLVED market. A claim that finds only already-paid positions fails with
// ErrAlreadyClaimed; one that finds nothing eligible fails with
// ErrNothingToClaim.
func (e *Engine) ClaimWinnings(now time.Time, c ClaimWinnings) ([]domain.Transfer, error) {
	m, err := e.market(c.MarketID)
	if err != nil {
		return nil, err
	}
	res, ok := m.Phase.(domain.Resolved)
	if !ok {
		return nil, invalidState(OpClaimWinnings, m, now, "", domain.StateResolved)
	}

	var (
		payments    []payment
		alreadyPaid bool
	)
	for _, side := range []domain.Side{domain.SideYes, domain.SideNo} {
		key := domain.PositionKey{MarketID: m.ID, Account: c.Account, Side: side}
		pos, ok := e.positions[key]
		if !ok {
			continue
		}
		amt, eligible, err := PayoutFor(res.Settlement, pos)
		if err != nil {
			return nil, fmt.Errorf("claim %s: %w", m.ID, err)
		}
		switch {
		case !eligible:
		case pos.Paid:
			alreadyPaid = true
		default:
			payments = append(payments, payment{key: key, amount: amt})
		}
	}
	if len(payments) == 0 {
		if alreadyPaid {
			return nil, fmt.Errorf("claim %s by %s: %w", m.ID, c.Account.Hex(), domain.ErrAlreadyClaimed)
		}
		return nil, fmt.Errorf("claim %s by %s: %w", m.ID, c.Account.Hex(), domain.ErrNothingToClaim)
	}

	next := *m
	tx := e.begin()
	transfers := e.pay(&next, &res, payments, tx)
	if tx.err != nil {
		return nil, fmt.Errorf("claim %s: %w", m.ID, tx.err)
	}
	next.Phase = res
	next.UpdatedAt = now
	tx.commit()
	*m = next
	e.markPaid(payments)
	return transfers, nil
}

// BatchResult reports one distributeWinnings call.
type BatchResult struct {
	Processed int               `json:"processed"`
	Cursor    int               `json:"cursor"`
	Remaining int               `json:"remaining"`
	PaidOut   bool              `json:"paid_out"`
	Dust      ledger.Amount     `json:"dust"`
	Transfers []domain.Transfer `json:"transfers"`
}

// DistributeWinnings pays up to batchSize positions from the market's cursor.
// It resumes where the previous call stopped; after the last position it
// sweeps the rounding dust to the house and marks the market paid out, and
// any further call fails with ErrNothingToDistribute.
func (e *Engine) DistributeWinnings(now time.Time, c DistributeWinnings) (BatchResult, error) {
	m, err := e.market(c.MarketID)
	if err != nil {
		return BatchResult{}, err
	}
	res, ok := m.Phase.(domain.Resolved)
	if !ok {
		return BatchResult{}, invalidState(OpDistributeWinnings, m, now, "", domain.StateResolved)
	}
	if m.PaidOut || m.Cursor > len(m.Positions) {
		return BatchResult{}, fmt.Errorf("distribute %s: %w", m.ID, domain.ErrNothingToDistribute)
	}
	if c.BatchSize <= 0 {
		return BatchResult{}, fmt.Errorf("distribute %s: batch size %d: %w", m.ID, c.BatchSize, domain.ErrInvalidArgument)
	}
	batch := min(c.BatchSize, e.params.MaxBatchSize)
	end := min(m.Cursor+batch, len(m.Positions))

	var payments []payment
	for _, key := range m.Positions[m.Cursor:end] {
		pos := e.positions[key]
		if pos.Paid {
			continue
		}
		amt, eligible, err := PayoutFor(res.Settlement, pos)
		if err != nil {
			return BatchResult{}, fmt.Errorf("distribute %s: %w", m.ID, err)
		}
		if eligible {
			payments = append(payments, payment{key: key, amount: amt})
		}
	}

	next := *m
	tx := e.begin()
	out := BatchResult{Processed: end - m.Cursor, Cursor: end, Remaining: len(m.Positions) - end}
	out.Transfers = e.pay(&next, &res, payments, tx)
	if end == len(m.Positions) && tx.err == nil {
		dust, err := res.Settlement.Reserved.Sub(res.Settlement.Paid)
		if err != nil {
			tx.err = err
		}
		res.Settlement.Dust = dust
		tx.debit(&next.Escrow, dust)
		tx.credit(domain.ZeroAddress, domain.BalanceHouse, dust)
		next.PaidOut = true
		out.PaidOut, out.Dust = true, dust
	}
	if tx.err != nil {
		return BatchResult{}, fmt.Errorf("distribute %s: %w", m.ID, tx.err)
	}
	next.Cursor = end
	next.Phase = res
	next.UpdatedAt = now
	tx.commit()
	*m = next
	e.markPaid(payments)
	return out, nil
}
