package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/castbet/internal/ledger"
)

func TestMarket_StateAt(t *testing.T) {
	deadline := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m := &Market{Deadline: deadline, Phase: Open{}}

	assert.Equal(t, StateOpen, m.StateAt(deadline.Add(-time.Nanosecond)))
	assert.Equal(t, StateLocked, m.StateAt(deadline))

	m.Phase = Proposed{}
	assert.Equal(t, StateProposed, m.StateAt(deadline.Add(time.Hour)))
}

func TestInvalidStateError(t *testing.T) {
	var err error = &InvalidStateError{
		Op:       "place_bet",
		MarketID: "m1",
		Expected: []State{StateOpen},
		Actual:   StateResolved,
	}
	wrapped := fmt.Errorf("api: %w", err)

	assert.True(t, errors.Is(wrapped, ErrInvalidState))
	var ise *InvalidStateError
	require.True(t, errors.As(wrapped, &ise))
	assert.True(t, ise.Fatal())
	assert.Contains(t, err.Error(), "want open")
}

func TestSentinelsWrap(t *testing.T) {
	assert.ErrorIs(t, ErrMarketNotFound, ErrNotFound)
	assert.ErrorIs(t, &AuthError{Capability: CapVoid}, ErrUnauthorized)
	assert.ErrorIs(t, &BondError{Posted: ledger.New(1), Required: ledger.New(2)}, ErrBondTooLow)
	assert.ErrorIs(t, fmt.Errorf("x: %w", ledger.ErrOverflow), ErrOverflow)
}

func TestParseAddress(t *testing.T) {
	a, err := ParseAddress(" 0x00000000000000000000000000000000000000A1 ")
	require.NoError(t, err)
	lower, err := ParseAddress("0x00000000000000000000000000000000000000a1")
	require.NoError(t, err)
	assert.Equal(t, lower, a)

	_, err = ParseAddress("alice")
	require.ErrorIs(t, err, ErrInvalidArgument)
}

func TestNewMarketView_Resolved(t *testing.T) {
	now := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	prop := Proposal{Outcome: OutcomeYes, Bond: ledger.USDC(10)}
	m := &Market{
		ID:    "m1",
		Phase: Resolved{Outcome: OutcomeYes, Path: PathUnchallenged, Proposal: &prop, ResolvedAt: now},
		Positions: []PositionKey{
			{MarketID: "m1", Side: SideYes},
		},
	}
	v := NewMarketView(m, now)
	assert.Equal(t, StateResolved, v.State)
	assert.Equal(t, OutcomeYes, v.Outcome)
	assert.Equal(t, 1, v.PositionCount)
	require.NotNil(t, v.ResolvedAt)

	data, err := json.Marshal(v)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"state":"resolved"`)
	assert.Contains(t, string(data), `"bond":"10000000"`)
}

func TestErrorCode(t *testing.T) {
	tests := []struct {
		err  error
		code string
	}{
		{fmt.Errorf("svc: %w", ErrMarketNotFound), "market_not_found"},
		{ErrNotFound, "not_found"},
		{&InvalidStateError{Op: "x", Actual: StateOpen}, "invalid_state"},
		{&BondError{}, "bond_too_low"},
		{ledger.ErrInsufficientBalance, "insufficient_balance"},
		{errors.New("boom"), "internal"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.code, ErrorCode(tt.err), tt.err.Error())
	}
	assert.Equal(t, ErrNothingToDistribute, CodeError("nothing_to_distribute"))
	assert.Nil(t, CodeError("internal"))
}
