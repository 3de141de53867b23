package settlement

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/alanyoungcy/castbet/internal/domain"
	"github.com/alanyoungcy/castbet/internal/ledger"
)

// Operation names, as journaled.
const (
	OpCreateMarket       = "create_market"
	OpPlaceBet           = "place_bet"
	OpProposeOutcome     = "propose_outcome"
	OpChallengeOutcome   = "challenge_outcome"
	OpFinalizeOutcome    = "finalize_outcome"
	OpResolveDispute     = "resolve_dispute"
	OpVoidMarket         = "void_market"
	OpClaimWinnings      = "claim_winnings"
	OpDistributeWinnings = "distribute_winnings"
	OpWithdraw           = "withdraw"
	OpGrantOperator      = "grant_operator"
	OpRevokeOperator     = "revoke_operator"
)

// Command is a state-mutating request. Commands are plain data so they can be
// journaled and replayed.
type Command interface {
	Op() string
	Market() string
	Actor() domain.Address
}

type CreateMarket struct {
	ID          string         `json:"id"`
	Creator     domain.Address `json:"creator"`
	Question    string         `json:"question"`
	Deadline    time.Time      `json:"deadline"`
	BonusWindow time.Duration  `json:"bonus_window"`
	Seed        ledger.Amount  `json:"seed"`
}

type PlaceBet struct {
	MarketID     string         `json:"market_id"`
	Bettor       domain.Address `json:"bettor"`
	Side         domain.Side    `json:"side"`
	Amount       ledger.Amount  `json:"amount"`
	MinSharesOut ledger.Amount  `json:"min_shares_out"`
	Referrer     domain.Address `json:"referrer"`
}

type ProposeOutcome struct {
	MarketID string         `json:"market_id"`
	Proposer domain.Address `json:"proposer"`
	Outcome  domain.Outcome `json:"outcome"`
	Bond     ledger.Amount  `json:"bond"`
	Evidence string         `json:"evidence"`
}

type ChallengeOutcome struct {
	MarketID   string         `json:"market_id"`
	Challenger domain.Address `json:"challenger"`
	Bond       ledger.Amount  `json:"bond"`
	Evidence   string         `json:"evidence"`
}

type FinalizeOutcome struct {
	MarketID string         `json:"market_id"`
	Caller   domain.Address `json:"caller"`
}

// Party names a side of a dispute.
type Party string

const (
	PartyProposer   Party = "proposer"
	PartyChallenger Party = "challenger"
)

// Verdict is an arbitration decision: either a winner and final outcome, or
// a reopen with a new betting deadline.
type Verdict struct {
	Winner      Party          `json:"winner,omitempty"`
	Outcome     domain.Outcome `json:"outcome,omitempty"`
	Reopen      bool           `json:"reopen,omitempty"`
	NewDeadline time.Time      `json:"new_deadline,omitempty"`
}

type ResolveDispute struct {
	MarketID string         `json:"market_id"`
	Caller   domain.Address `json:"caller"`
	Verdict  Verdict        `json:"verdict"`
}

type VoidMarket struct {
	MarketID string         `json:"market_id"`
	Caller   domain.Address `json:"caller"`
	Reason   string         `json:"reason"`
}

type ClaimWinnings struct {
	MarketID string         `json:"market_id"`
	Account  domain.Address `json:"account"`
}

type DistributeWinnings struct {
	MarketID  string         `json:"market_id"`
	Caller    domain.Address `json:"caller"`
	BatchSize int            `json:"batch_size"`
}

// Withdraw empties one of the caller's credit ledgers. For the house ledger
// the caller must be the admin and To receives the funds.
type Withdraw struct {
	Caller domain.Address     `json:"caller"`
	Kind   domain.BalanceKind `json:"kind"`
	To     domain.Address     `json:"to"`
}

type GrantOperator struct {
	Caller   domain.Address `json:"caller"`
	Operator domain.Address `json:"operator"`
}

type RevokeOperator struct {
	Caller   domain.Address `json:"caller"`
	Operator domain.Address `json:"operator"`
}

func (CreateMarket) Op() string       { return OpCreateMarket }
func (PlaceBet) Op() string           { return OpPlaceBet }
func (ProposeOutcome) Op() string     { return OpProposeOutcome }
func (ChallengeOutcome) Op() string   { return OpChallengeOutcome }
func (FinalizeOutcome) Op() string    { return OpFinalizeOutcome }
func (ResolveDispute) Op() string     { return OpResolveDispute }
func (VoidMarket) Op() string         { return OpVoidMarket }
func (ClaimWinnings) Op() string      { return OpClaimWinnings }
func (DistributeWinnings) Op() string { return OpDistributeWinnings }
func (Withdraw) Op() string           { return OpWithdraw }
func (GrantOperator) Op() string      { return OpGrantOperator }
func (RevokeOperator) Op() string     { return OpRevokeOperator }

func (c CreateMarket) Market() string       { return c.ID }
func (c PlaceBet) Market() string           { return c.MarketID }
func (c ProposeOutcome) Market() string     { return c.MarketID }
func (c ChallengeOutcome) Market() string   { return c.MarketID }
func (c FinalizeOutcome) Market() string    { return c.MarketID }
func (c ResolveDispute) Market() string     { return c.MarketID }
func (c VoidMarket) Market() string         { return c.MarketID }
func (c ClaimWinnings) Market() string      { return c.MarketID }
func (c DistributeWinnings) Market() string { return c.MarketID }
func (Withdraw) Market() string             { return "" }
func (GrantOperator) Market() string        { return "" }
func (RevokeOperator) Market() string       { return "" }

func (c CreateMarket) Actor() domain.Address       { return c.Creator }
func (c PlaceBet) Actor() domain.Address           { return c.Bettor }
func (c ProposeOutcome) Actor() domain.Address     { return c.Proposer }
func (c ChallengeOutcome) Actor() domain.Address   { return c.Challenger }
func (c FinalizeOutcome) Actor() domain.Address    { return c.Caller }
func (c ResolveDispute) Actor() domain.Address     { return c.Caller }
func (c VoidMarket) Actor() domain.Address         { return c.Caller }
func (c ClaimWinnings) Actor() domain.Address      { return c.Account }
func (c DistributeWinnings) Actor() domain.Address { return c.Caller }
func (c Withdraw) Actor() domain.Address           { return c.Caller }
func (c GrantOperator) Actor() domain.Address      { return c.Caller }
func (c RevokeOperator) Actor() domain.Address     { return c.Caller }

// DecodeCommand rebuilds a journaled command.
func DecodeCommand(op string, payload json.RawMessage) (Command, error) {
	var cmd Command
	switch op {
	case OpCreateMarket:
		cmd = &CreateMarket{}
	case OpPlaceBet:
		cmd = &PlaceBet{}
	case OpProposeOutcome:
		cmd = &ProposeOutcome{}
	case OpChallengeOutcome:
		cmd = &ChallengeOutcome{}
	case OpFinalizeOutcome:
		cmd = &FinalizeOutcome{}
	case OpResolveDispute:
		cmd = &ResolveDispute{}
	case OpVoidMarket:
		cmd = &VoidMarket{}
	case OpClaimWinnings:
		cmd = &ClaimWinnings{}
	case OpDistributeWinnings:
		cmd = &DistributeWinnings{}
	case OpWithdraw:
		cmd = &Withdraw{}
	case OpGrantOperator:
		cmd = &GrantOperator{}
	case OpRevokeOperator:
		cmd = &RevokeOperator{}
	default:
		return nil, fmt.Errorf("settlement: unknown op %q: %w", op, domain.ErrInvalidArgument)
	}
	if err := json.Unmarshal(payload, cmd); err != nil {
		return nil, fmt.Errorf("settlement: decode %s: %w", op, err)
	}
	return deref(cmd), nil
}

func deref(cmd Command) Command {
	switch c := cmd.(type) {
	case *CreateMarket:
		return *c
	case *PlaceBet:
		return *c
	case *ProposeOutcome:
		return *c
	case *ChallengeOutcome:
		return *c
	case *FinalizeOutcome:
		return *c
	case *ResolveDispute:
		return *c
	case *VoidMarket:
		return *c
	case *ClaimWinnings:
		return *c
	case *DistributeWinnings:
		return *c
	case *Withdraw:
		return *c
	case *GrantOperator:
		return *c
	case *RevokeOperator:
		return *c
	}
	return cmd
}

// Result describes the effect of an applied command.
type Result struct {
	Event     domain.EventType
	Market    *domain.Market
	Transfers []domain.Transfer
	Bet       *BetResult
	Batch     *BatchResult
}

// Apply dispatches cmd to the matching operation.
func (e *Engine) Apply(now time.Time, cmd Command) (Result, error) {
	var (
		res Result
		err error
	)
	switch c := cmd.(type) {
	case CreateMarket:
		res.Event = domain.EventMarketCreated
		_, err = e.CreateMarket(now, c)
	case PlaceBet:
		res.Event = domain.EventBetPlaced
		var bet BetResult
		if bet, err = e.PlaceBet(now, c); err == nil {
			res.Bet = &bet
		}
	case ProposeOutcome:
		res.Event = domain.EventOutcomeProposed
		err = e.ProposeOutcome(now, c)
	case ChallengeOutcome:
		res.Event = domain.EventOutcomeChallenged
		err = e.ChallengeOutcome(now, c)
	case FinalizeOutcome:
		res.Event = domain.EventOutcomeFinalized
		err = e.FinalizeOutcome(now, c)
	case ResolveDispute:
		res.Event = domain.EventDisputeResolved
		if c.Verdict.Reopen {
			res.Event = domain.EventMarketReopened
		}
		err = e.ResolveDispute(now, c)
	case VoidMarket:
		res.Event = domain.EventMarketVoided
		err = e.VoidMarket(now, c)
	case ClaimWinnings:
		res.Event = domain.EventWinningsClaimed
		res.Transfers, err = e.ClaimWinnings(now, c)
	case DistributeWinnings:
		res.Event = domain.EventWinningsDistributed
		var batch BatchResult
		if batch, err = e.DistributeWinnings(now, c); err == nil {
			res.Batch = &batch
			res.Transfers = batch.Transfers
		}
	case Withdraw:
		res.Event = domain.EventWithdrawal
		var tr domain.Transfer
		if tr, err = e.Withdraw(now, c); err == nil {
			res.Transfers = []domain.Transfer{tr}
		}
	case GrantOperator:
		res.Event = domain.EventRoleChanged
		err = e.GrantOperator(c)
	case RevokeOperator:
		res.Event = domain.EventRoleChanged
		err = e.RevokeOperator(c)
	default:
		return Result{}, fmt.Errorf("settlement: unsupported command %T: %w", cmd, domain.ErrInvalidArgument)
	}
	if err != nil {
		return Result{}, err
	}
	if id := cmd.Market(); id != "" {
		res.Market, _ = e.Market(id)
	}
	return res, nil
}
