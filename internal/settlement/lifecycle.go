package settlement

import (
	"fmt"
	"strings"
	"time"

	"github.com/alanyoungcy/castbet/internal/domain"
	"github.com/alanyoungcy/castbet/internal/ledger"
)

// CreateMarket opens a market. The seed must be even and is split equally
// into dead liquidity on both sides.
func (e *Engine) CreateMarket(now time.Time, c CreateMarket) (*domain.Market, error) {
	c.ID = strings.TrimSpace(c.ID)
	c.Question = strings.TrimSpace(c.Question)
	switch {
	case c.ID == "":
		return nil, fmt.Errorf("create market: empty id: %w", domain.ErrInvalidArgument)
	case c.Question == "" || len(c.Question) > e.params.MaxQuestionSize:
		return nil, fmt.Errorf("create market %s: question length must be 1..%d: %w", c.ID, e.params.MaxQuestionSize, domain.ErrInvalidArgument)
	case c.Creator == domain.ZeroAddress:
		return nil, fmt.Errorf("create market %s: zero creator: %w", c.ID, domain.ErrInvalidArgument)
	case !c.Deadline.After(now):
		return nil, fmt.Errorf("create market %s: deadline %s not in the future: %w", c.ID, c.Deadline.Format(time.RFC3339), domain.ErrInvalidArgument)
	case c.BonusWindow < 0:
		return nil, fmt.Errorf("create market %s: negative bonus window: %w", c.ID, domain.ErrInvalidArgument)
	case c.Seed.Lt(e.params.MinSeed):
		return nil, fmt.Errorf("create market %s: seed %s below minimum %s: %w", c.ID, c.Seed, e.params.MinSeed, domain.ErrInvalidArgument)
	case !c.Seed.IsEven():
		return nil, fmt.Errorf("create market %s: seed %s must be even: %w", c.ID, c.Seed, domain.ErrInvalidArgument)
	}
	if _, ok := e.markets[c.ID]; ok {
		return nil, fmt.Errorf("create market %s: %w", c.ID, domain.ErrMarketExists)
	}

	tx := e.begin()
	tx.receive(c.Seed)
	if tx.err != nil {
		return nil, fmt.Errorf("create market %s: %w", c.ID, tx.err)
	}
	half := c.Seed.Half()
	m := &domain.Market{
		ID:          c.ID,
		Creator:     c.Creator,
		Question:    c.Question,
		CreatedAt:   now,
		Deadline:    c.Deadline,
		BonusWindow: c.BonusWindow,
		Phase:       domain.Open{},
		SeedYes:     half,
		SeedNo:      half,
		Received:    c.Seed,
		Escrow:      c.Seed,
		UpdatedAt:   now,
	}
	tx.commit()
	e.markets[m.ID] = m
	e.order = append(e.order, m.ID)
	return m.Clone(), nil
}

// ProposeOutcome posts a bonded result for a LOCKED market.
func (e *Engine) ProposeOutcome(now time.Time, c ProposeOutcome) error {
	m, err := e.market(c.MarketID)
	if err != nil {
		return err
	}
	if st := m.StateAt(now); st != domain.StateLocked {
		return invalidState(OpProposeOutcome, m, now, "", domain.StateLocked)
	}
	if !c.Outcome.Valid() {
		return fmt.Errorf("propose %s: outcome %q: %w", m.ID, c.Outcome, domain.ErrInvalidArgument)
	}
	if c.Proposer == domain.ZeroAddress {
		return fmt.Errorf("propose %s: zero proposer: %w", m.ID, domain.ErrInvalidArgument)
	}
	pool, err := m.Pool()
	if err != nil {
		return fmt.Errorf("propose %s: %w", m.ID, err)
	}
	if err := checkBond(c.Bond, e.params.MinBond(pool)); err != nil {
		return fmt.Errorf("propose %s: %w", m.ID, err)
	}

	next := *m
	tx := e.begin()
	tx.receive(c.Bond)
	tx.add(&next.Received, c.Bond)
	tx.add(&next.Escrow, c.Bond)
	if tx.err != nil {
		return fmt.Errorf("propose %s: %w", m.ID, tx.err)
	}
	next.Phase = domain.Proposed{Proposal: domain.Proposal{
		Proposer:   c.Proposer,
		Outcome:    c.Outcome,
		Bond:       c.Bond,
		Evidence:   c.Evidence,
		ProposedAt: now,
	}}
	next.UpdatedAt = now
	tx.commit()
	*m = next
	return nil
}

// ChallengeOutcome disputes a proposal inside the challenge window with a
// bond at least as large as the proposer's.
func (e *Engine) ChallengeOutcome(now time.Time, c ChallengeOutcome) error {
	m, err := e.market(c.MarketID)
	if err != nil {
		return err
	}
	p, ok := m.Phase.(domain.Proposed)
	if !ok {
		return invalidState(OpChallengeOutcome, m, now, "", domain.StateProposed)
	}
	closes := p.Proposal.ProposedAt.Add(e.params.ChallengeWindow)
	if !now.Before(closes) {
		return invalidState(OpChallengeOutcome, m, now, "challenge window closed at "+closes.Format(time.RFC3339), domain.StateProposed)
	}
	if c.Challenger == domain.ZeroAddress || c.Challenger == p.Proposal.Proposer {
		return fmt.Errorf("challenge %s: challenger must differ from proposer: %w", m.ID, domain.ErrInvalidArgument)
	}
	if err := checkBond(c.Bond, p.Proposal.Bond); err != nil {
		return fmt.Errorf("challenge %s: %w", m.ID, err)
	}

	next := *m
	tx := e.begin()
	tx.receive(c.Bond)
	tx.add(&next.Received, c.Bond)
	tx.add(&next.Escrow, c.Bond)
	if tx.err != nil {
		return fmt.Errorf("challenge %s: %w", m.ID, tx.err)
	}
	next.Phase = domain.Disputed{
		Proposal: p.Proposal,
		Challenge: domain.Challenge{
			Challenger:   c.Challenger,
			Bond:         c.Bond,
			Evidence:     c.Evidence,
			ChallengedAt: now,
		},
	}
	next.UpdatedAt = now
	tx.commit()
	*m = next
	return nil
}

// FinalizeOutcome accepts an unchallenged proposal once the window has
// elapsed. Anyone may call it.
func (e *Engine) FinalizeOutcome(now time.Time, c FinalizeOutcome) error {
	m, err := e.market(c.MarketID)
	if err != nil {
		return err
	}
	p, ok := m.Phase.(domain.Proposed)
	if !ok {
		return invalidState(OpFinalizeOutcome, m, now, "", domain.StateProposed)
	}
	closes := p.Proposal.ProposedAt.Add(e.params.ChallengeWindow)
	if now.Before(closes) {
		return invalidState(OpFinalizeOutcome, m, now, "challenge window open until "+closes.Format(time.RFC3339), domain.StateProposed)
	}
	prop := p.Proposal
	return e.resolve(m, now, resolution{
		op:       OpFinalizeOutcome,
		outcome:  prop.Outcome,
		path:     domain.PathUnchallenged,
		reporter: prop.Proposer,
		proposal: &prop,
		bonds:    []bondCredit{{to: prop.Proposer, amount: prop.Bond}},
	})
}

// ResolveDispute applies an arbitration verdict to a DISPUTED market.
func (e *Engine) ResolveDispute(now time.Time, c ResolveDispute) error {
	if err := e.auth.Authorize(c.Caller, domain.CapArbitrate); err != nil {
		return fmt.Errorf("resolve dispute %s: %w", c.MarketID, err)
	}
	m, err := e.market(c.MarketID)
	if err != nil {
		return err
	}
	d, ok := m.Phase.(domain.Disputed)
	if !ok {
		return invalidState(OpResolveDispute, m, now, "", domain.StateDisputed)
	}
	prop, ch := d.Proposal, d.Challenge
	v := c.Verdict

	if v.Reopen {
		if !v.NewDeadline.After(now) {
			return fmt.Errorf("reopen %s: new deadline must be in the future: %w", m.ID, domain.ErrInvalidArgument)
		}
		next := *m
		tx := e.begin()
		tx.credit(prop.Proposer, domain.BalanceBond, prop.Bond)
		tx.credit(ch.Challenger, domain.BalanceBond, ch.Bond)
		tx.debit(&next.Escrow, prop.Bond)
		tx.debit(&next.Escrow, ch.Bond)
		if tx.err != nil {
			return fmt.Errorf("reopen %s: %w", m.ID, tx.err)
		}
		next.Phase = domain.Open{}
		next.Deadline = v.NewDeadline
		next.Reopened++
		next.UpdatedAt = now
		tx.commit()
		*m = next
		return nil
	}

	if !v.Outcome.Valid() {
		return fmt.Errorf("resolve dispute %s: outcome %q: %w", m.ID, v.Outcome, domain.ErrInvalidArgument)
	}
	var winner domain.Address
	switch v.Winner {
	case PartyProposer:
		if v.Outcome != prop.Outcome {
			return fmt.Errorf("resolve dispute %s: proposer wins only with the proposed outcome %s: %w", m.ID, prop.Outcome, domain.ErrInvalidArgument)
		}
		winner = prop.Proposer
	case PartyChallenger:
		if v.Outcome == prop.Outcome {
			return fmt.Errorf("resolve dispute %s: challenger wins only with an outcome other than %s: %w", m.ID, prop.Outcome, domain.ErrInvalidArgument)
		}
		winner = ch.Challenger
	default:
		return fmt.Errorf("resolve dispute %s: winner %q: %w", m.ID, v.Winner, domain.ErrInvalidArgument)
	}
	return e.resolve(m, now, resolution{
		op:        OpResolveDispute,
		outcome:   v.Outcome,
		path:      domain.PathArbitration,
		reporter:  winner,
		proposal:  &prop,
		challenge: &ch,
		bonds: []bondCredit{
			{to: winner, amount: prop.Bond},
			{to: winner, amount: ch.Bond},
		},
	})
}

// VoidMarket settles any non-terminal market as refund-only and returns any
// posted bonds to their owners.
func (e *Engine) VoidMarket(now time.Time, c VoidMarket) error {
	if err := e.auth.Authorize(c.Caller, domain.CapVoid); err != nil {
		return fmt.Errorf("void %s: %w", c.MarketID, err)
	}
	m, err := e.market(c.MarketID)
	if err != nil {
		return err
	}
	r := resolution{op: OpVoidMarket, void: true, reason: c.Reason, path: domain.PathVoid}
	switch p := m.Phase.(type) {
	case domain.Open:
	case domain.Proposed:
		prop := p.Proposal
		r.proposal = &prop
		r.bonds = []bondCredit{{to: prop.Proposer, amount: prop.Bond}}
	case domain.Disputed:
		prop, ch := p.Proposal, p.Challenge
		r.proposal, r.challenge = &prop, &ch
		r.bonds = []bondCredit{
			{to: prop.Proposer, amount: prop.Bond},
			{to: ch.Challenger, amount: ch.Bond},
		}
	default:
		return invalidState(OpVoidMarket, m, now, "", domain.StateOpen, domain.StateLocked, domain.StateProposed, domain.StateDisputed)
	}
	return e.resolve(m, now, r)
}

type bondCredit struct {
	to     domain.Address
	amount ledger.Amount
}

type resolution struct {
	op        string
	outcome   domain.Outcome
	void      bool
	reason    string
	path      domain.ResolutionPath
	reporter  domain.Address
	proposal  *domain.Proposal
	challenge *domain.Challenge
	bonds     []bondCredit
}

// resolve moves a market to RESOLVED: bonds and the reporter reward go to
// address balances, the dead share to the house and returned seed to the
// creator. What remains in escrow is exactly the amount reserved for bettors.
func (e *Engine) resolve(m *domain.Market, now time.Time, r resolution) error {
	s, err := Settle(m, r.outcome, r.void, r.reporter, e.params.Fees)
	if err != nil {
		return fmt.Errorf("%s %s: %w", r.op, m.ID, err)
	}
	next := *m
	tx := e.begin()
	for _, b := range r.bonds {
		tx.credit(b.to, domain.BalanceBond, b.amount)
		tx.debit(&next.Escrow, b.amount)
	}
	if !s.ReporterReward.IsZero() {
		tx.credit(r.reporter, domain.BalanceBond, s.ReporterReward)
		tx.debit(&next.Escrow, s.ReporterReward)
	}
	tx.credit(domain.ZeroAddress, domain.BalanceHouse, s.DeadShare)
	tx.debit(&next.Escrow, s.DeadShare)
	tx.credit(m.Creator, domain.BalanceCreatorFees, s.SeedReturned)
	tx.debit(&next.Escrow, s.SeedReturned)
	if tx.err == nil && !next.Escrow.Eq(s.Reserved) {
		tx.err = fmt.Errorf("escrow %s does not match reserved %s: %w", next.Escrow, s.Reserved, ErrInsolvent)
	}
	if tx.err != nil {
		return fmt.Errorf("%s %s: %w", r.op, m.ID, tx.err)
	}
	next.Phase = domain.Resolved{
		Outcome:    r.outcome,
		Void:       r.void,
		Reason:     r.reason,
		Path:       r.path,
		Proposal:   r.proposal,
		Challenge:  r.challenge,
		ResolvedAt: now,
		Settlement: s,
	}
	next.Cursor = 0
	next.UpdatedAt = now
	tx.commit()
	*m = next
	return nil
}
