package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/castbet/internal/domain"
	"github.com/alanyoungcy/castbet/internal/ledger"
	"github.com/alanyoungcy/castbet/internal/sequencer"
	"github.com/alanyoungcy/castbet/internal/settlement"
)

var (
	t0       = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	admin    = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	creator  = common.HexToAddress("0x00000000000000000000000000000000000000c1")
	alice    = common.HexToAddress("0x0000000000000000000000000000000000000b01")
	bob      = common.HexToAddress("0x0000000000000000000000000000000000000b02")
	proposer = common.HexToAddress("0x0000000000000000000000000000000000000d01")
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type memMarkets struct {
	domain.MarketStore
	mu    sync.Mutex
	views map[string]domain.MarketView
}

func (m *memMarkets) Upsert(_ context.Context, v domain.MarketView) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.views[v.ID] = v
	return nil
}

func (m *memMarkets) get(id string) (domain.MarketView, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.views[id]
	return v, ok
}

type failingCache struct{ domain.MarketCache }

func (failingCache) Set(context.Context, domain.MarketView) error {
	return errors.New("redis down")
}

type memAudit struct {
	domain.AuditStore
	mu     sync.Mutex
	events []string
}

func (a *memAudit) Log(_ context.Context, event string, _ map[string]any) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, event)
	return nil
}

type harness struct {
	svc     *LedgerService
	proj    *Projector
	clock   *fakeClock
	markets *memMarkets
	audit   *memAudit
	events  chan domain.Event
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	engine, err := settlement.NewEngine(settlement.DefaultParams(), settlement.NewAuthorizer(admin))
	require.NoError(t, err)

	h := &harness{
		clock:   &fakeClock{now: t0},
		markets: &memMarkets{views: make(map[string]domain.MarketView)},
		audit:   &memAudit{},
		events:  make(chan domain.Event, 64),
	}
	h.proj = NewProjector(ProjectorConfig{
		Markets:    h.markets,
		Cache:      failingCache{},
		Audit:      h.audit,
		Publishers: []EventPublisher{PublisherFunc(func(ev domain.Event) { h.events <- ev })},
	})
	seq := sequencer.New(sequencer.Config{
		Engine:   engine,
		Clock:    h.clock.Now,
		OnCommit: h.proj.Enqueue,
	})
	h.svc = NewLedgerService(seq, nil)
	h.svc.clock = h.clock.Now

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = seq.Run(ctx) }()
	go func() { _ = h.proj.Run(ctx, h.svc) }()
	return h
}

func (h *harness) next(t *testing.T) domain.Event {
	t.Helper()
	select {
	case ev := <-h.events:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("no event published")
		return domain.Event{}
	}
}

func (h *harness) create(t *testing.T, id string) {
	t.Helper()
	_, err := h.svc.Submit(context.Background(), "", settlement.CreateMarket{
		ID:       id,
		Creator:  creator,
		Question: "Will it rain?",
		Deadline: t0.Add(24 * time.Hour),
		Seed:     ledger.USDC(10),
	})
	require.NoError(t, err)
}

func TestLedgerService_SubmitProjectsAndPublishes(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.create(t, "rain")
	created := h.next(t)
	assert.Equal(t, domain.EventMarketCreated, created.Type)
	assert.Equal(t, uint64(1), created.Seq)

	c, err := h.svc.Submit(ctx, "bet-1", settlement.PlaceBet{
		MarketID: "rain",
		Bettor:   alice,
		Side:     domain.SideYes,
		Amount:   ledger.USDC(100),
	})
	require.NoError(t, err)
	require.NotNil(t, c.Result.Bet)

	bet := h.next(t)
	assert.Equal(t, domain.EventBetPlaced, bet.Type)
	assert.Equal(t, "rain", bet.MarketID)
	assert.Equal(t, alice, bet.Caller)
	assert.Equal(t, "yes", bet.Data["side"])
	assert.Equal(t, "bet-1", bet.Data["request_id"])

	require.Eventually(t, func() bool {
		v, ok := h.markets.get("rain")
		return ok && v.PositionCount == 1
	}, 2*time.Second, 10*time.Millisecond)

	h.audit.mu.Lock()
	assert.Equal(t, []string{"market_created", "bet_placed"}, h.audit.events)
	h.audit.mu.Unlock()
}

func TestLedgerService_DuplicateRequest(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.create(t, "rain")

	bet := settlement.PlaceBet{MarketID: "rain", Bettor: alice, Side: domain.SideNo, Amount: ledger.USDC(5)}
	_, err := h.svc.Submit(ctx, "same", bet)
	require.NoError(t, err)
	_, err = h.svc.Submit(ctx, "same", bet)
	assert.ErrorIs(t, err, domain.ErrDuplicateRequest)

	ps, err := h.svc.MarketPositions("rain")
	require.NoError(t, err)
	require.Len(t, ps, 1)
}

func TestLedgerService_Reads(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.create(t, "a")
	h.create(t, "b")

	_, err := h.svc.Submit(ctx, "", settlement.PlaceBet{MarketID: "a", Bettor: bob, Side: domain.SideNo, Amount: ledger.USDC(20)})
	require.NoError(t, err)

	all := h.svc.Markets(domain.MarketFilter{})
	require.Len(t, all, 2)
	assert.Equal(t, "a", all[0].ID)

	limited := h.svc.Markets(domain.MarketFilter{ListOpts: domain.ListOpts{Offset: 1, Limit: 5}})
	require.Len(t, limited, 1)
	assert.Equal(t, "b", limited[0].ID)

	assert.Empty(t, h.svc.Markets(domain.MarketFilter{State: domain.StateResolved}))

	_, err = h.svc.Market("missing")
	assert.ErrorIs(t, err, domain.ErrMarketNotFound)

	q, err := h.svc.Quote("a", ledger.Amount{})
	require.NoError(t, err)
	assert.Equal(t, ledger.USDC(1), q.Stake)

	assert.Len(t, h.svc.AccountPositions(bob), 1)
	assert.False(t, h.svc.Balances(creator).IsZero(), "creator earns entry fees")

	report, err := h.svc.Solvency()
	require.NoError(t, err)
	assert.True(t, report.OK(), report.Problems)
	assert.Equal(t, uint64(3), h.svc.LastSeq())
	assert.Equal(t, admin, h.svc.Roles().Admin)
}

func TestLedgerService_DueAt(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.create(t, "rain")
	_, err := h.svc.Submit(ctx, "", settlement.PlaceBet{MarketID: "rain", Bettor: alice, Side: domain.SideYes, Amount: ledger.USDC(50)})
	require.NoError(t, err)

	h.clock.Advance(25 * time.Hour)
	_, err = h.svc.Submit(ctx, "", settlement.ProposeOutcome{
		MarketID: "rain",
		Proposer: proposer,
		Outcome:  domain.OutcomeYes,
		Bond:     ledger.USDC(10),
	})
	require.NoError(t, err)

	window := h.svc.Params().ChallengeWindow
	due := h.svc.DueAt(h.clock.Now())
	assert.Empty(t, due.Finalize)

	due = h.svc.DueAt(h.clock.Now().Add(window))
	assert.Equal(t, []string{"rain"}, due.Finalize)

	h.clock.Advance(window)
	_, err = h.svc.Submit(ctx, "", settlement.FinalizeOutcome{MarketID: "rain", Caller: bob})
	require.NoError(t, err)

	due = h.svc.DueAt(h.clock.Now())
	assert.Empty(t, due.Finalize)
	assert.Equal(t, []string{"rain"}, due.Distribute)
}

func TestProjector_EnqueueDropsWhenFull(t *testing.T) {
	p := NewProjector(ProjectorConfig{QueueSize: 1})
	c := sequencer.Committed{Entry: domain.JournalEntry{Seq: 1, Op: settlement.OpWithdraw}}
	p.Enqueue(c)
	p.Enqueue(c)
	assert.Equal(t, uint64(1), p.Dropped())
}

func TestProjector_RunRepairsDroppedCommits(t *testing.T) {
	engine, err := settlement.NewEngine(settlement.DefaultParams(), settlement.NewAuthorizer(admin))
	require.NoError(t, err)
	markets := &memMarkets{views: make(map[string]domain.MarketView)}
	proj := NewProjector(ProjectorConfig{
		Markets:        markets,
		QueueSize:      1,
		ResyncInterval: 10 * time.Millisecond,
	})
	seq := sequencer.New(sequencer.Config{Engine: engine, Clock: func() time.Time { return t0 }, OnCommit: proj.Enqueue})
	svc := NewLedgerService(seq, nil)
	svc.clock = func() time.Time { return t0 }

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = seq.Run(ctx) }()

	for _, id := range []string{"a", "b", "c"} {
		_, err := svc.Submit(ctx, "", settlement.CreateMarket{
			ID: id, Creator: creator, Question: "Will it rain?",
			Deadline: t0.Add(24 * time.Hour), Seed: ledger.USDC(10),
		})
		require.NoError(t, err)
	}
	require.Equal(t, uint64(2), proj.Dropped())

	go func() { _ = proj.Run(ctx, svc) }()
	require.Eventually(t, func() bool {
		_, a := markets.get("a")
		_, b := markets.get("b")
		_, c := markets.get("c")
		return a && b && c
	}, 2*time.Second, 10*time.Millisecond)
	assert.Eventually(t, func() bool { return proj.Dropped() == 0 }, time.Second, 10*time.Millisecond)
}

func TestEventFromCommit_Batch(t *testing.T) {
	ev := EventFromCommit(sequencer.Committed{
		Entry: domain.JournalEntry{Seq: 9, Op: settlement.OpDistributeWinnings, MarketID: "m"},
		Result: settlement.Result{
			Event: domain.EventWinningsDistributed,
			Batch: &settlement.BatchResult{Processed: 3, Remaining: 2},
		},
	})
	assert.Equal(t, domain.EventWinningsDistributed, ev.Type)
	assert.Equal(t, 3, ev.Data["processed"])
	assert.Equal(t, 2, ev.Data["remaining"])
	assert.Equal(t, false, ev.Data["paid_out"])
}
