package sequencer

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
	"github.com/alanyoungcy/castbet/internal/settlement"
)

var (
	t0      = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	admin   = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	creator = common.HexToAddress("0x00000000000000000000000000000000000000c1")
	alice   = common.HexToAddress("0x0000000000000000000000000000000000000b01")
)

type memJournal struct {
	mu      sync.Mutex
	entries []domain.JournalEntry
	failing bool
}

func (j *memJournal) Append(_ context.Context, e domain.JournalEntry) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.failing {
		return errors.New("disk full")
	}
	j.entries = append(j.entries, e)
	return nil
}

func (j *memJournal) ReadFrom(_ context.Context, after uint64, limit int) ([]domain.JournalEntry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	var out []domain.JournalEntry
	for _, e := range j.entries {
		if e.Seq > after && len(out) < limit {
			out = append(out, e)
		}
	}
	return out, nil
}

func (j *memJournal) ListByMarket(_ context.Context, id string) ([]domain.JournalEntry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	var out []domain.JournalEntry
	for _, e := range j.entries {
		if e.MarketID == id {
			out = append(out, e)
		}
	}
	return out, nil
}

func (j *memJournal) LastSeq(context.Context) (uint64, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if len(j.entries) == 0 {
		return 0, nil
	}
	return j.entries[len(j.entries)-1].Seq, nil
}

func newSequencer(t *testing.T, journal domain.JournalStore) *Sequencer {
	t.Helper()
	engine, err := settlement.NewEngine(settlement.DefaultParams(), settlement.NewAuthorizer(admin))
	require.NoError(t, err)
	var (
		mu  sync.Mutex
		now = t0
	)
	return New(Config{
		Engine:  engine,
		Journal: journal,
		Clock: func() time.Time {
			mu.Lock()
			defer mu.Unlock()
			now = now.Add(time.Minute)
			return now
		},
	})
}

func start(t *testing.T, s *Sequencer) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	t.Cleanup(cancel)
	return cancel, done
}

var createCmd = settlement.CreateMarket{
	ID:       "m1",
	Creator:  creator,
	Question: "q",
	Deadline: t0.Add(24 * time.Hour),
	Seed:     ledger.USDC(10),
}

var betCmd = settlement.PlaceBet{
	MarketID: "m1",
	Bettor:   alice,
	Side:     domain.SideYes,
	Amount:   ledger.USDC(5),
}

func TestSequencer_SubmitJournalsInOrder(t *testing.T) {
	journal := &memJournal{}
	s := newSequencer(t, journal)
	start(t, s)
	ctx := context.Background()

	c1, err := s.Submit(ctx, "req-1", createCmd)
	require.NoError(t, err)
	c2, err := s.Submit(ctx, "req-2", betCmd)
	require.NoError(t, err)

	assert.Equal(t, uint64(1), c1.Entry.Seq)
	assert.Equal(t, uint64(2), c2.Entry.Seq)
	assert.Equal(t, domain.EventBetPlaced, c2.Result.Event)
	assert.Equal(t, alice, c2.Entry.Caller)
	require.Len(t, journal.entries, 2)
	assert.Equal(t, uint64(2), s.LastSeq())

	s.Read(func(e *settlement.Engine) {
		m, err := e.Market("m1")
		require.NoError(t, err)
		assert.Equal(t, ledger.USDC(4), m.TotalYes)
	})
}

func TestSequencer_DuplicateRequest(t *testing.T) {
	journal := &memJournal{}
	s := newSequencer(t, journal)
	start(t, s)
	ctx := context.Background()

	_, err := s.Submit(ctx, "req-1", createCmd)
	require.NoError(t, err)
	_, err = s.Submit(ctx, "req-1", createCmd)
	require.ErrorIs(t, err, domain.ErrDuplicateRequest)

	// A rejected command is not journaled and its id stays usable.
	_, err = s.Submit(ctx, "req-2", settlement.PlaceBet{MarketID: "m1", Bettor: alice, Side: "maybe", Amount: ledger.USDC(1)})
	require.ErrorIs(t, err, domain.ErrInvalidArgument)
	_, err = s.Submit(ctx, "req-2", betCmd)
	require.NoError(t, err)
	assert.Len(t, journal.entries, 2)
}

func TestSequencer_ReplayRebuildsState(t *testing.T) {
	journal := &memJournal{}
	s := newSequencer(t, journal)
	cancel, _ := start(t, s)
	ctx := context.Background()
	_, err := s.Submit(ctx, "req-1", createCmd)
	require.NoError(t, err)
	_, err = s.Submit(ctx, "req-2", betCmd)
	require.NoError(t, err)
	cancel()

	restarted := newSequencer(t, journal)
	n, err := restarted.Replay(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, uint64(2), restarted.LastSeq())

	var original, rebuilt *domain.Market
	s.Read(func(e *settlement.Engine) { original, _ = e.Market("m1") })
	restarted.Read(func(e *settlement.Engine) { rebuilt, _ = e.Market("m1") })
	assert.Equal(t, original, rebuilt)

	start(t, restarted)
	_, err = restarted.Submit(ctx, "req-2", betCmd)
	require.ErrorIs(t, err, domain.ErrDuplicateRequest, "applied ids survive a restart")
}

func TestSequencer_StampsMicrosecondPrecision(t *testing.T) {
	engine, err := settlement.NewEngine(settlement.DefaultParams(), settlement.NewAuthorizer(admin))
	require.NoError(t, err)
	s := New(Config{
		Engine:  engine,
		Journal: &memJournal{},
		Clock:   func() time.Time { return t0.Add(2999 * time.Nanosecond) },
	})
	start(t, s)

	c, err := s.Submit(context.Background(), "req-1", createCmd)
	require.NoError(t, err)
	assert.Equal(t, t0.Add(2*time.Microsecond), c.Entry.At)
	s.Read(func(e *settlement.Engine) {
		m, err := e.Market("m1")
		require.NoError(t, err)
		assert.Equal(t, c.Entry.At, m.CreatedAt, "live apply and replay share one timestamp")
	})
}

func TestSequencer_ReplayDetectsGap(t *testing.T) {
	journal := &memJournal{}
	s := newSequencer(t, journal)
	start(t, s)
	ctx := context.Background()
	_, err := s.Submit(ctx, "req-1", createCmd)
	require.NoError(t, err)
	_, err = s.Submit(ctx, "req-2", betCmd)
	require.NoError(t, err)

	journal.entries[1].Seq = 3
	_, err = newSequencer(t, journal).Replay(ctx)
	require.ErrorIs(t, err, ErrSequenceGap)
}

func TestSequencer_JournalFailureHalts(t *testing.T) {
	journal := &memJournal{failing: true}
	s := newSequencer(t, journal)
	_, done := start(t, s)

	_, err := s.Submit(context.Background(), "req-1", createCmd)
	require.ErrorIs(t, err, domain.ErrHalted)

	select {
	case err := <-done:
		require.ErrorIs(t, err, domain.ErrHalted)
	case <-time.After(time.Second):
		t.Fatal("sequencer did not stop after journal failure")
	}
}
