package domain

import "time"

// EventType names a ledger event published to subscribers.
type EventType string

const (
	EventMarketCreated       EventType = "market_created"
	EventBetPlaced           EventType = "bet_placed"
	EventOutcomeProposed     EventType = "outcome_proposed"
	EventOutcomeChallenged   EventType = "outcome_challenged"
	EventOutcomeFinalized    EventType = "outcome_finalized"
	EventDisputeResolved     EventType = "dispute_resolved"
	EventMarketReopened      EventType = "market_reopened"
	EventMarketVoided        EventType = "market_voided"
	EventWinningsClaimed     EventType = "winnings_claimed"
	EventWinningsDistributed EventType = "winnings_distributed"
	EventWithdrawal          EventType = "withdrawal"
	EventRoleChanged         EventType = "role_changed"
)

// Event describes a committed command for projections and live clients.
type Event struct {
	Type      EventType      `json:"type"`
	Seq       uint64         `json:"seq"`
	MarketID  string         `json:"market_id,omitempty"`
	Caller    Address        `json:"caller"`
	At        time.Time      `json:"at"`
	Transfers []Transfer     `json:"transfers,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
}

// Signal bus channels.
const (
	ChannelLedger       = "ch:ledger"
	ChannelMarketPrefix = "ch:market:"
	StreamLedger        = "stream:ledger"
)

// MarketChannel returns the pub/sub channel for one market.
func MarketChannel(id string) string { return ChannelMarketPrefix + id }
