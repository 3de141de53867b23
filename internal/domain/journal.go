package domain

import (
	"encoding/json"
	"time"
)

// JournalEntry is one applied command. Replaying entries in Seq order
// through a fresh engine rebuilds the ledger exactly.
type JournalEntry struct {
	Seq        uint64          `json:"seq"`
	RequestID  string          `json:"request_id"`
	Op         string          `json:"op"`
	MarketID   string          `json:"market_id,omitempty"`
	Caller     Address         `json:"caller"`
	At         time.Time       `json:"at"`
	Payload    json.RawMessage `json:"payload"`
	RecordedAt time.Time       `json:"recorded_at"`
}
