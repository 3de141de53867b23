package keeper

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/castbet/internal/crypto"
	"github.com/alanyoungcy/castbet/internal/domain"
	"github.com/alanyoungcy/castbet/internal/settlement"
)

var operator = common.HexToAddress("0x00000000000000000000000000000000000000e1")

type fakeLedger struct {
	mu         sync.Mutex
	due        Due
	finalized  []string
	finalErr   map[string]error
	remaining  map[string]int
	batchCalls map[string]int
	callers    []domain.Address
}

func (f *fakeLedger) Due(context.Context) (Due, error) { return f.due, nil }

func (f *fakeLedger) Finalize(_ context.Context, id string, caller domain.Address) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.callers = append(f.callers, caller)
	if err := f.finalErr[id]; err != nil {
		return err
	}
	f.finalized = append(f.finalized, id)
	return nil
}

func (f *fakeLedger) Distribute(_ context.Context, id string, _ domain.Address, batch int) (settlement.BatchResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batchCalls[id]++
	left, ok := f.remaining[id]
	if !ok || left == 0 {
		return settlement.BatchResult{}, fmt.Errorf("distribute %s: %w", id, domain.ErrNothingToDistribute)
	}
	n := min(batch, left)
	f.remaining[id] = left - n
	return settlement.BatchResult{
		Processed: n,
		Remaining: left - n,
		PaidOut:   left-n == 0,
		Transfers: make([]domain.Transfer, n),
	}, nil
}

type fakeLocks struct{ held bool }

func (l *fakeLocks) Acquire(context.Context, string, time.Duration) (func(), error) {
	if l.held {
		return nil, fmt.Errorf("lock: %w", domain.ErrLockHeld)
	}
	l.held = true
	return func() { l.held = false }, nil
}

func newFake() *fakeLedger {
	return &fakeLedger{
		finalErr:   make(map[string]error),
		remaining:  make(map[string]int),
		batchCalls: make(map[string]int),
	}
}

func TestKeeper_TickFinalizesAndDistributes(t *testing.T) {
	led := newFake()
	led.due = Due{Finalize: []string{"a", "b"}, Distribute: []string{"c", "a"}}
	led.remaining["a"] = 5
	led.remaining["c"] = 2
	led.finalErr["b"] = &domain.InvalidStateError{Op: "finalize_outcome", MarketID: "b", Actual: domain.StateDisputed}

	locks := &fakeLocks{}
	k := New(led, locks, operator, Config{BatchSize: 2}, nil)

	stats, err := k.Tick(context.Background())
	require.NoError(t, err)
	assert.False(t, locks.held, "lock released after tick")

	assert.Equal(t, 1, stats.Finalized)
	assert.Equal(t, 1, stats.Failures)
	assert.Equal(t, []string{"a"}, led.finalized)
	// c: one batch of 2; a: batches of 2, 2, 1
	assert.Equal(t, 4, stats.Batches)
	assert.Equal(t, 2, stats.PaidOut)
	assert.Equal(t, 7, stats.Transferred)
	assert.Equal(t, 3, led.batchCalls["a"])
	for _, c := range led.callers {
		assert.Equal(t, operator, c)
	}
}

func TestKeeper_SkipsWhenLockHeld(t *testing.T) {
	led := newFake()
	led.due = Due{Finalize: []string{"a"}}
	k := New(led, &fakeLocks{held: true}, operator, Config{}, nil)

	stats, err := k.Tick(context.Background())
	require.NoError(t, err)
	assert.True(t, stats.Skipped)
	assert.Empty(t, led.finalized)
}

func TestKeeper_MaxBatches(t *testing.T) {
	led := newFake()
	led.due = Due{Distribute: []string{"big"}}
	led.remaining["big"] = 100
	k := New(led, nil, operator, Config{BatchSize: 10, MaxBatches: 3}, nil)

	stats, err := k.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Batches)
	assert.Equal(t, 0, stats.PaidOut)
	assert.Equal(t, 70, led.remaining["big"])
}

func TestKeeper_RunStopsOnCancel(t *testing.T) {
	k := New(newFake(), nil, operator, Config{Interval: time.Millisecond}, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, k.Run(ctx), context.DeadlineExceeded)
}

const hardhatKey = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

func TestRemote_SignsRequestsAndMapsErrors(t *testing.T) {
	signer, err := crypto.NewSigner(hardhatKey)
	require.NoError(t, err)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		ts, err := strconv.ParseInt(r.Header.Get("X-Castbet-Timestamp"), 10, 64)
		require.NoError(t, err)
		msg := crypto.RequestMessage(r.Method, r.URL.EscapedPath(), r.Header.Get("X-Request-ID"), time.Unix(ts, 0), body)
		require.NoError(t, crypto.Verify(signer.Address(), msg, r.Header.Get("X-Castbet-Signature")))
		assert.Equal(t, "k", r.Header.Get("X-API-Key"))
		assert.NotEmpty(t, r.Header.Get("X-Request-ID"))

		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/api/keeper/due":
			_ = json.NewEncoder(w).Encode(Due{Finalize: []string{"m1"}})
		case "/api/markets/m1/finalize":
			w.WriteHeader(http.StatusConflict)
			_ = json.NewEncoder(w).Encode(apiError{Error: "market m1 is disputed", Code: "invalid_state"})
		case "/api/markets/m1/distribute":
			var in map[string]int
			require.NoError(t, json.Unmarshal(body, &in))
			_ = json.NewEncoder(w).Encode(map[string]any{
				"batch": settlement.BatchResult{Processed: in["batch_size"], PaidOut: true},
			})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	r := NewRemote(srv.URL+"/", "k", signer)
	ctx := context.Background()

	due, err := r.Due(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"m1"}, due.Finalize)

	err = r.Finalize(ctx, "m1", operator)
	assert.ErrorIs(t, err, domain.ErrInvalidState)

	res, err := r.Distribute(ctx, "m1", operator, 25)
	require.NoError(t, err)
	assert.Equal(t, 25, res.Processed)
	assert.True(t, res.PaidOut)
}
