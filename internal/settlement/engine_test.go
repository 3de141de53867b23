package settlement

import (
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/castbet/internal/domain"
	"github.com/alanyoungcy/castbet/internal/ledger"
)

var (
	t0       = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	deadline = t0.Add(24 * time.Hour)
	locked   = deadline.Add(time.Hour)

	admin      = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	operator   = common.HexToAddress("0x00000000000000000000000000000000000000a2")
	creator    = common.HexToAddress("0x00000000000000000000000000000000000000c1")
	alice      = common.HexToAddress("0x0000000000000000000000000000000000000b01")
	bob        = common.HexToAddress("0x0000000000000000000000000000000000000b02")
	carol      = common.HexToAddress("0x0000000000000000000000000000000000000b03")
	proposer   = common.HexToAddress("0x0000000000000000000000000000000000000d01")
	challenger = common.HexToAddress("0x0000000000000000000000000000000000000d02")
)

func newEngine(t *testing.T, mutate ...func(*Params)) *Engine {
	t.Helper()
	p := DefaultParams()
	for _, fn := range mutate {
		fn(&p)
	}
	e, err := NewEngine(p, NewAuthorizer(admin, operator))
	require.NoError(t, err)
	return e
}

func lightFees(p *Params) {
	p.Fees = FeeSchedule{HouseBps: 150, CreatorBps: 100, ReporterBps: 100}
}

func createMarket(t *testing.T, e *Engine, id string, bonusWindow time.Duration) {
	t.Helper()
	_, err := e.CreateMarket(t0, CreateMarket{
		ID:          id,
		Creator:     creator,
		Question:    "Will the cast reach 1000 likes?",
		Deadline:    deadline,
		BonusWindow: bonusWindow,
		Seed:        ledger.USDC(10),
	})
	require.NoError(t, err)
}

func placeBet(t *testing.T, e *Engine, id string, who domain.Address, side domain.Side, amount ledger.Amount) BetResult {
	t.Helper()
	res, err := e.PlaceBet(t0.Add(time.Hour), PlaceBet{MarketID: id, Bettor: who, Side: side, Amount: amount})
	require.NoError(t, err)
	return res
}

func minBond(t *testing.T, e *Engine, id string) ledger.Amount {
	t.Helper()
	m, err := e.Market(id)
	require.NoError(t, err)
	pool, err := m.Pool()
	require.NoError(t, err)
	return e.Params().MinBond(pool)
}

// finalize proposes outcome at locked and finalizes after the window.
func finalize(t *testing.T, e *Engine, id string, outcome domain.Outcome) {
	t.Helper()
	require.NoError(t, e.ProposeOutcome(locked, ProposeOutcome{
		MarketID: id, Proposer: proposer, Outcome: outcome, Bond: minBond(t, e, id),
	}))
	after := locked.Add(e.Params().ChallengeWindow)
	require.NoError(t, e.FinalizeOutcome(after, FinalizeOutcome{MarketID: id, Caller: carol}))
}

func claim(t *testing.T, e *Engine, id string, who domain.Address) ledger.Amount {
	t.Helper()
	transfers, err := e.ClaimWinnings(locked.Add(48*time.Hour), ClaimWinnings{MarketID: id, Account: who})
	require.NoError(t, err)
	var total ledger.Amount
	for _, tr := range transfers {
		assert.Equal(t, who, tr.To)
		total, err = total.Add(tr.Amount)
		require.NoError(t, err)
	}
	return total
}

func requireSolvent(t *testing.T, e *Engine) SolvencyReport {
	t.Helper()
	r, err := e.CheckSolvency()
	require.NoError(t, err, "problems: %v", r.Problems)
	return r
}

func TestCreateMarket_Validation(t *testing.T) {
	e := newEngine(t)
	base := CreateMarket{ID: "m1", Creator: creator, Question: "q", Deadline: deadline, Seed: ledger.USDC(10)}

	odd := base
	odd.Seed = ledger.New(10_000_001)
	_, err := e.CreateMarket(t0, odd)
	require.ErrorIs(t, err, domain.ErrInvalidArgument)

	past := base
	past.Deadline = t0
	_, err = e.CreateMarket(t0, past)
	require.ErrorIs(t, err, domain.ErrInvalidArgument)

	m, err := e.CreateMarket(t0, base)
	require.NoError(t, err)
	assert.Equal(t, ledger.USDC(5), m.SeedYes)
	assert.Equal(t, ledger.USDC(5), m.SeedNo)
	assert.Equal(t, domain.StateOpen, m.StateAt(t0))
	assert.Equal(t, domain.StateLocked, m.StateAt(deadline))

	_, err = e.CreateMarket(t0, base)
	require.ErrorIs(t, err, domain.ErrMarketExists)
	requireSolvent(t, e)
}

func TestPlaceBet_CreditsFeesOnce(t *testing.T) {
	e := newEngine(t)
	createMarket(t, e, "m1", 0)

	_, err := e.PlaceBet(t0.Add(time.Hour), PlaceBet{
		MarketID: "m1", Bettor: alice, Side: domain.SideYes, Amount: ledger.USDC(100), Referrer: bob,
	})
	require.NoError(t, err)

	assert.Equal(t, ledger.USDC(10), e.House())
	assert.Equal(t, ledger.USDC(5), e.Balances(creator).CreatorFees)
	assert.Equal(t, ledger.USDC(5), e.Balances(bob).ReferralRewards)

	m, err := e.Market("m1")
	require.NoError(t, err)
	assert.Equal(t, ledger.USDC(80), m.TotalYes)
	assert.Equal(t, ledger.USDC(80), m.SharesYes)
	assert.Equal(t, ledger.USDC(110), m.Received)
	assert.Equal(t, ledger.USDC(90), m.Escrow)
	requireSolvent(t, e)
}

func TestPlaceBet_SelfReferralGoesToHouse(t *testing.T) {
	e := newEngine(t)
	createMarket(t, e, "m1", 0)
	_, err := e.PlaceBet(t0.Add(time.Hour), PlaceBet{
		MarketID: "m1", Bettor: alice, Side: domain.SideYes, Amount: ledger.USDC(100), Referrer: alice,
	})
	require.NoError(t, err)
	assert.Equal(t, ledger.USDC(15), e.House())
	assert.True(t, e.Balances(alice).IsZero())
}

func TestPlaceBet_RepeatBetsAccumulate(t *testing.T) {
	e := newEngine(t)
	createMarket(t, e, "m1", 0)
	placeBet(t, e, "m1", alice, domain.SideYes, ledger.USDC(10))
	res := placeBet(t, e, "m1", alice, domain.SideYes, ledger.USDC(10))

	assert.Equal(t, ledger.USDC(20), res.Position.Gross)
	assert.Equal(t, ledger.USDC(16), res.Position.Stake)
	assert.Equal(t, WeightScale, res.Position.Weight)

	positions, err := e.MarketPositions("m1")
	require.NoError(t, err)
	assert.Len(t, positions, 1)
}

func TestPlaceBet_SlippageLeavesPoolsUnchanged(t *testing.T) {
	e := newEngine(t)
	createMarket(t, e, "m1", 0)
	placeBet(t, e, "m1", bob, domain.SideNo, ledger.USDC(50))

	before, err := e.Market("m1")
	require.NoError(t, err)
	house := e.House()
	creatorFees := e.Balances(creator)

	_, err = e.PlaceBet(t0.Add(2*time.Hour), PlaceBet{
		MarketID:     "m1",
		Bettor:       alice,
		Side:         domain.SideYes,
		Amount:       ledger.USDC(100),
		MinSharesOut: ledger.New(80_000_001),
	})
	require.ErrorIs(t, err, domain.ErrSlippageExceeded)

	after, err := e.Market("m1")
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.Equal(t, house, e.House())
	assert.Equal(t, creatorFees, e.Balances(creator))
	_, ok := e.Position(domain.PositionKey{MarketID: "m1", Account: alice, Side: domain.SideYes})
	assert.False(t, ok)

	// Exactly the achievable shares is accepted.
	_, err = e.PlaceBet(t0.Add(2*time.Hour), PlaceBet{
		MarketID: "m1", Bettor: alice, Side: domain.SideYes, Amount: ledger.USDC(100), MinSharesOut: ledger.USDC(80),
	})
	require.NoError(t, err)
	requireSolvent(t, e)
}

func TestPlaceBet_OverflowLeavesStateUnchanged(t *testing.T) {
	e := newEngine(t)
	createMarket(t, e, "m1", time.Hour)
	placeBet(t, e, "m1", bob, domain.SideNo, ledger.USDC(50))

	before, err := e.Market("m1")
	require.NoError(t, err)
	house := e.House()
	creatorFees := e.Balances(creator)

	huge, err := ledger.Parse("115792089237316195423570985008687907853269984665640564039457584007913129639935")
	require.NoError(t, err)
	_, err = e.PlaceBet(t0.Add(time.Minute), PlaceBet{MarketID: "m1", Bettor: alice, Side: domain.SideYes, Amount: huge})
	require.ErrorIs(t, err, ledger.ErrOverflow)

	after, err := e.Market("m1")
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.Equal(t, house, e.House())
	assert.Equal(t, creatorFees, e.Balances(creator))
	assert.Equal(t, domain.Balances{}, e.Balances(alice))
	_, ok := e.Position(domain.PositionKey{MarketID: "m1", Account: alice, Side: domain.SideYes})
	assert.False(t, ok)
	requireSolvent(t, e)
}

func TestPayoutProportionality(t *testing.T) {
	e := newEngine(t)
	createMarket(t, e, "m1", 0)
	placeBet(t, e, "m1", alice, domain.SideYes, ledger.USDC(100))
	placeBet(t, e, "m1", bob, domain.SideYes, ledger.USDC(1000))
	placeBet(t, e, "m1", carol, domain.SideNo, ledger.USDC(100))
	finalize(t, e, "m1", domain.OutcomeYes)

	a := claim(t, e, "m1", alice)
	b := claim(t, e, "m1", bob)
	ratio, _ := b.Decimal().Div(a.Decimal()).Float64()
	assert.InDelta(t, 10.0, ratio, 0.1)
	assert.True(t, a.Gt(ledger.USDC(80)), "a winner gets more than the net stake back")

	_, err := e.ClaimWinnings(locked.Add(48*time.Hour), ClaimWinnings{MarketID: "m1", Account: carol})
	require.ErrorIs(t, err, domain.ErrNothingToClaim)
	requireSolvent(t, e)
}

func TestDeadLiquidity_FirstBettorMultiplier(t *testing.T) {
	e := newEngine(t, lightFees)
	createMarket(t, e, "m1", 0)
	placeBet(t, e, "m1", alice, domain.SideYes, ledger.USDC(1))
	finalize(t, e, "m1", domain.OutcomeYes)

	payout := claim(t, e, "m1", alice)
	mult, _ := payout.Decimal().Float64()
	assert.GreaterOrEqual(t, mult, 1.75)
	assert.LessOrEqual(t, mult, 2.0)

	// The seed earned nothing: what the dead shares would have taken went to
	// the house, and nothing is left in escrow once paid out.
	_, err := e.DistributeWinnings(locked.Add(48*time.Hour), DistributeWinnings{MarketID: "m1", BatchSize: 10})
	require.NoError(t, err)
	m, err := e.Market("m1")
	require.NoError(t, err)
	assert.True(t, m.Escrow.IsZero())
	requireSolvent(t, e)
}

func TestWinningSideWithoutBettorsGoesToHouse(t *testing.T) {
	e := newEngine(t)
	createMarket(t, e, "m1", 0)
	placeBet(t, e, "m1", carol, domain.SideNo, ledger.USDC(100))
	houseBefore := e.House()
	finalize(t, e, "m1", domain.OutcomeYes)

	m, err := e.Market("m1")
	require.NoError(t, err)
	res := m.Phase.(domain.Resolved)
	assert.True(t, res.Settlement.Reserved.IsZero())
	assert.Equal(t, res.Settlement.Distributable, res.Settlement.DeadShare)

	gain, err := e.House().Sub(houseBefore)
	require.NoError(t, err)
	assert.Equal(t, res.Settlement.Distributable, gain)
	requireSolvent(t, e)
}

func TestClaimWinnings_NoDoublePayment(t *testing.T) {
	e := newEngine(t)
	createMarket(t, e, "m1", 0)
	placeBet(t, e, "m1", alice, domain.SideYes, ledger.USDC(100))
	placeBet(t, e, "m1", bob, domain.SideYes, ledger.USDC(50))
	placeBet(t, e, "m1", carol, domain.SideNo, ledger.USDC(100))
	finalize(t, e, "m1", domain.OutcomeYes)

	first := claim(t, e, "m1", alice)
	require.False(t, first.IsZero())
	for range 3 {
		_, err := e.ClaimWinnings(locked.Add(49*time.Hour), ClaimWinnings{MarketID: "m1", Account: alice})
		require.ErrorIs(t, err, domain.ErrAlreadyClaimed)
	}

	// Batch payout skips alice and pays bob exactly once.
	batch, err := e.DistributeWinnings(locked.Add(50*time.Hour), DistributeWinnings{MarketID: "m1", BatchSize: 10})
	require.NoError(t, err)
	require.Len(t, batch.Transfers, 1)
	assert.Equal(t, bob, batch.Transfers[0].To)

	_, err = e.ClaimWinnings(locked.Add(51*time.Hour), ClaimWinnings{MarketID: "m1", Account: bob})
	require.ErrorIs(t, err, domain.ErrAlreadyClaimed)
	requireSolvent(t, e)
}

func TestDistributeWinnings_ResumableBatches(t *testing.T) {
	e := newEngine(t)
	createMarket(t, e, "m1", 0)
	bettors := []domain.Address{alice, bob, carol, proposer, challenger}
	for i, who := range bettors {
		side := domain.SideYes
		if i%2 == 1 {
			side = domain.SideNo
		}
		placeBet(t, e, "m1", who, side, ledger.New(uint64(1_000_003*(i+1))))
	}
	finalize(t, e, "m1", domain.OutcomeYes)
	now := locked.Add(48 * time.Hour)

	var cursors []int
	for {
		batch, err := e.DistributeWinnings(now, DistributeWinnings{MarketID: "m1", Caller: carol, BatchSize: 2})
		require.NoError(t, err)
		cursors = append(cursors, batch.Cursor)
		requireSolvent(t, e)
		if batch.PaidOut {
			break
		}
	}
	assert.Equal(t, []int{2, 4, 5}, cursors)

	_, err := e.DistributeWinnings(now, DistributeWinnings{MarketID: "m1", BatchSize: 2})
	require.ErrorIs(t, err, domain.ErrNothingToDistribute)

	m, err := e.Market("m1")
	require.NoError(t, err)
	assert.True(t, m.PaidOut)
	assert.True(t, m.Escrow.IsZero())
	s := m.Phase.(domain.Resolved).Settlement
	total, err := s.Paid.Add(s.Dust)
	require.NoError(t, err)
	assert.Equal(t, s.Reserved, total)
}

func TestDrawSolvency_AllActorsCanClaim(t *testing.T) {
	e := newEngine(t)
	createMarket(t, e, "m1", 0)
	placeBet(t, e, "m1", alice, domain.SideYes, ledger.USDC(100))
	placeBet(t, e, "m1", bob, domain.SideNo, ledger.USDC(100))

	require.NoError(t, e.ProposeOutcome(locked, ProposeOutcome{
		MarketID: "m1", Proposer: proposer, Outcome: domain.OutcomeYes, Bond: ledger.USDC(10),
	}))
	require.NoError(t, e.ChallengeOutcome(locked.Add(time.Hour), ChallengeOutcome{
		MarketID: "m1", Challenger: challenger, Bond: ledger.USDC(10),
	}))
	require.NoError(t, e.ResolveDispute(locked.Add(2*time.Hour), ResolveDispute{
		MarketID: "m1", Caller: admin, Verdict: Verdict{Winner: PartyChallenger, Outcome: domain.OutcomeDraw},
	}))
	requireSolvent(t, e)

	assert.Equal(t, ledger.USDC(80), claim(t, e, "m1", alice))
	assert.Equal(t, ledger.USDC(80), claim(t, e, "m1", bob))

	now := locked.Add(3 * time.Hour)
	tr, err := e.WithdrawBond(now, challenger)
	require.NoError(t, err)
	// Both bonds plus 1% of the 170 net pool, paid out of the seed.
	assert.Equal(t, ledger.New(21_700_000), tr.Amount)

	tr, err = e.WithdrawCreatorFees(now, creator)
	require.NoError(t, err)
	// 5 + 5 entry fees plus the 8.3 seed left after the reporter reward.
	assert.Equal(t, ledger.New(18_300_000), tr.Amount)

	_, err = e.WithdrawBond(now, proposer)
	require.ErrorIs(t, err, domain.ErrInsufficientBalance)

	tr, err = e.WithdrawHouseFees(now, admin, admin)
	require.NoError(t, err)
	assert.Equal(t, ledger.USDC(30), tr.Amount)

	batch, err := e.DistributeWinnings(now, DistributeWinnings{MarketID: "m1", BatchSize: 10})
	require.NoError(t, err)
	assert.True(t, batch.Dust.IsZero())

	r := requireSolvent(t, e)
	assert.Equal(t, r.Inflow, r.Outflow)
}

func TestDrawFinalized_ProposerGetsBondAndReward(t *testing.T) {
	e := newEngine(t)
	createMarket(t, e, "m1", 0)
	placeBet(t, e, "m1", alice, domain.SideYes, ledger.USDC(100))
	placeBet(t, e, "m1", bob, domain.SideNo, ledger.USDC(100))
	finalize(t, e, "m1", domain.OutcomeDraw)

	assert.Equal(t, ledger.New(11_700_000), e.Balances(proposer).Bonds)
	assert.Equal(t, ledger.USDC(80), claim(t, e, "m1", alice))
	assert.Equal(t, ledger.USDC(80), claim(t, e, "m1", bob))
	requireSolvent(t, e)
}

func TestWithdraw_ClearsBeforeTransfer(t *testing.T) {
	e := newEngine(t)
	createMarket(t, e, "m1", 0)
	placeBet(t, e, "m1", alice, domain.SideYes, ledger.USDC(100))

	tr, err := e.WithdrawCreatorFees(t0, creator)
	require.NoError(t, err)
	assert.Equal(t, ledger.USDC(5), tr.Amount)
	assert.Equal(t, domain.TransferWithdrawal, tr.Reason)

	_, err = e.WithdrawCreatorFees(t0, creator)
	require.ErrorIs(t, err, domain.ErrInsufficientBalance)

	_, err = e.WithdrawHouseFees(t0, alice, alice)
	require.ErrorIs(t, err, domain.ErrUnauthorized)
	_, err = e.WithdrawHouseFees(t0, operator, operator)
	require.ErrorIs(t, err, domain.ErrUnauthorized)
	requireSolvent(t, e)
}

func TestQuote(t *testing.T) {
	e := newEngine(t)
	createMarket(t, e, "m1", 12*time.Hour)

	q, err := e.Quote("m1", ledger.Amount{}, t0)
	require.NoError(t, err)
	assert.Equal(t, ledger.USDC(1), q.Stake)
	assert.Equal(t, uint64(5000), q.Yes.ImpliedBps)
	assert.Equal(t, WeightScale, q.Yes.Weight)
	assert.Greater(t, q.Yes.MultiplierBps, uint64(10000))
	assert.Equal(t, ledger.USDC(10), q.MinBond)

	placeBet(t, e, "m1", alice, domain.SideYes, ledger.USDC(100))
	q, err = e.Quote("m1", ledger.USDC(1), t0.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, WeightScale, q.Yes.Weight)
	assert.Greater(t, q.No.Weight, WeightScale)
	assert.Greater(t, q.No.MultiplierBps, q.Yes.MultiplierBps)
}
