package settlement

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/castbet/internal/domain"
	"github.com/alanyoungcy/castbet/internal/ledger"
)

type journaled struct {
	at      time.Time
	op      string
	payload []byte
}

// recorder applies commands and keeps what a journal would store.
type recorder struct {
	t   *testing.T
	e   *Engine
	log []journaled
}

func (r *recorder) apply(at time.Time, cmd Command) (Result, error) {
	r.t.Helper()
	res, err := r.e.Apply(at, cmd)
	if err != nil {
		return res, err
	}
	payload, mErr := json.Marshal(cmd)
	require.NoError(r.t, mErr)
	r.log = append(r.log, journaled{at: at, op: cmd.Op(), payload: payload})
	_, sErr := r.e.CheckSolvency()
	require.NoError(r.t, sErr, "after %s", cmd.Op())
	return res, nil
}

func (r *recorder) must(at time.Time, cmd Command) Result {
	r.t.Helper()
	res, err := r.apply(at, cmd)
	require.NoError(r.t, err, "%s", cmd.Op())
	return res
}

// TestRandomizedSolvency drives many markets through every resolution path
// with random bets, checking conservation after every command, then replays
// the journal into a fresh engine and expects identical state.
func TestRandomizedSolvency(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	rec := &recorder{t: t, e: newEngine(t)}
	accounts := []domain.Address{alice, bob, carol, proposer, challenger, creator}

	const markets = 8
	for i := range markets {
		rec.must(t0, CreateMarket{
			ID:          fmt.Sprintf("m%d", i),
			Creator:     creator,
			Question:    "q",
			Deadline:    deadline,
			BonusWindow: 12 * time.Hour,
			Seed:        ledger.USDC(uint64(2 * (1 + rng.Intn(20)))),
		})
	}
	for step := range 200 {
		id := fmt.Sprintf("m%d", rng.Intn(markets))
		side := domain.SideYes
		if rng.Intn(2) == 0 {
			side = domain.SideNo
		}
		var ref domain.Address
		if rng.Intn(3) == 0 {
			ref = accounts[rng.Intn(len(accounts))]
		}
		rec.must(t0.Add(time.Duration(step)*time.Minute), PlaceBet{
			MarketID: id,
			Bettor:   accounts[rng.Intn(len(accounts))],
			Side:     side,
			Amount:   ledger.New(uint64(1 + rng.Intn(500_000_000))),
			Referrer: ref,
		})
	}

	outcomes := []domain.Outcome{domain.OutcomeYes, domain.OutcomeNo, domain.OutcomeDraw}
	for i := range markets {
		id := fmt.Sprintf("m%d", i)
		now := locked
		if i%4 == 3 {
			rec.must(now, VoidMarket{MarketID: id, Caller: admin, Reason: "random"})
			continue
		}
		bond := minBond(t, rec.e, id)
		outcome := outcomes[rng.Intn(len(outcomes))]
		rec.must(now, ProposeOutcome{MarketID: id, Proposer: proposer, Outcome: outcome, Bond: bond})
		switch i % 4 {
		case 0:
			rec.must(now.Add(rec.e.Params().ChallengeWindow), FinalizeOutcome{MarketID: id, Caller: carol})
		case 1:
			rec.must(now.Add(time.Hour), ChallengeOutcome{MarketID: id, Challenger: challenger, Bond: bond})
			final := outcomes[(indexOf(outcomes, outcome)+1)%len(outcomes)]
			rec.must(now.Add(2*time.Hour), ResolveDispute{
				MarketID: id, Caller: operator, Verdict: Verdict{Winner: PartyChallenger, Outcome: final},
			})
		case 2:
			rec.must(now.Add(time.Hour), ChallengeOutcome{MarketID: id, Challenger: challenger, Bond: bond})
			rec.must(now.Add(2*time.Hour), ResolveDispute{
				MarketID: id, Caller: admin, Verdict: Verdict{Reopen: true, NewDeadline: now.Add(10 * time.Hour)},
			})
			rec.must(now.Add(3*time.Hour), PlaceBet{MarketID: id, Bettor: bob, Side: domain.SideYes, Amount: ledger.USDC(3)})
			rec.must(now.Add(4*time.Hour), VoidMarket{MarketID: id, Caller: admin})
		}
	}

	payAt := locked.Add(72 * time.Hour)
	for i := range markets {
		id := fmt.Sprintf("m%d", i)
		for _, who := range accounts[:2] {
			_, err := rec.apply(payAt, ClaimWinnings{MarketID: id, Account: who})
			if err != nil && !errors.Is(err, domain.ErrNothingToClaim) {
				require.NoError(t, err)
			}
		}
		for {
			res := rec.must(payAt, DistributeWinnings{MarketID: id, Caller: carol, BatchSize: 3})
			if res.Batch.PaidOut {
				break
			}
		}
	}
	for _, who := range accounts {
		for _, kind := range []domain.BalanceKind{domain.BalanceCreatorFees, domain.BalanceReferral, domain.BalanceBond} {
			_, err := rec.apply(payAt, Withdraw{Caller: who, Kind: kind})
			if err != nil {
				require.ErrorIs(t, err, domain.ErrInsufficientBalance)
			}
		}
	}
	rec.must(payAt, Withdraw{Caller: admin, Kind: domain.BalanceHouse, To: admin})

	report := requireSolvent(t, rec.e)
	assert.Equal(t, report.Inflow, report.Outflow, "everything that came in went out")
	assert.True(t, report.Escrow.IsZero())

	replayed := newEngine(t)
	for _, j := range rec.log {
		cmd, err := DecodeCommand(j.op, j.payload)
		require.NoError(t, err)
		_, err = replayed.Apply(j.at, cmd)
		require.NoError(t, err, "replay %s", j.op)
	}
	assert.Equal(t, rec.e.Markets(), replayed.Markets())
	assert.Equal(t, rec.e.House(), replayed.House())
	requireSolvent(t, replayed)
}

func indexOf(list []domain.Outcome, o domain.Outcome) int {
	for i, v := range list {
		if v == o {
			return i
		}
	}
	return -1
}

func TestDecodeCommand_UnknownOp(t *testing.T) {
	_, err := DecodeCommand("teleport", []byte(`{}`))
	require.ErrorIs(t, err, domain.ErrInvalidArgument)
}
