package domain

import (
	"time"

	"github.com/alanyoungcy/castbet/internal/ledger"
)

// MarketView is the flattened, read-only projection of a market used by the
// cache, the HTTP API and the projection store. It is never read back into the
// engine.
type MarketView struct {
	ID          string    `json:"id"`
	Creator     Address   `json:"creator"`
	Question    string    `json:"question"`
	CreatedAt   time.Time `json:"created_at"`
	Deadline    time.Time `json:"deadline"`
	BonusWindow int64     `json:"bonus_window_seconds"`
	State       State     `json:"state"`

	SeedYes   ledger.Amount `json:"seed_yes"`
	SeedNo    ledger.Amount `json:"seed_no"`
	TotalYes  ledger.Amount `json:"total_yes"`
	TotalNo   ledger.Amount `json:"total_no"`
	SharesYes ledger.Amount `json:"shares_yes"`
	SharesNo  ledger.Amount `json:"shares_no"`
	Received  ledger.Amount `json:"received"`
	Escrow    ledger.Amount `json:"escrow"`

	Proposal  *Proposal  `json:"proposal,omitempty"`
	Challenge *Challenge `json:"challenge,omitempty"`

	Outcome    Outcome        `json:"outcome,omitempty"`
	Void       bool           `json:"void"`
	VoidReason string         `json:"void_reason,omitempty"`
	Path       ResolutionPath `json:"resolution_path,omitempty"`
	ResolvedAt *time.Time     `json:"resolved_at,omitempty"`
	Settlement *Settlement    `json:"settlement,omitempty"`

	PositionCount int       `json:"position_count"`
	Cursor        int       `json:"cursor"`
	PaidOut       bool      `json:"paid_out"`
	Reopened      int       `json:"reopened"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// NewMarketView flattens m as observed at now.
func NewMarketView(m *Market, now time.Time) MarketView {
	v := MarketView{
		ID:            m.ID,
		Creator:       m.Creator,
		Question:      m.Question,
		CreatedAt:     m.CreatedAt,
		Deadline:      m.Deadline,
		BonusWindow:   int64(m.BonusWindow / time.Second),
		State:         m.StateAt(now),
		SeedYes:       m.SeedYes,
		SeedNo:        m.SeedNo,
		TotalYes:      m.TotalYes,
		TotalNo:       m.TotalNo,
		SharesYes:     m.SharesYes,
		SharesNo:      m.SharesNo,
		Received:      m.Received,
		Escrow:        m.Escrow,
		PositionCount: len(m.Positions),
		Cursor:        m.Cursor,
		PaidOut:       m.PaidOut,
		Reopened:      m.Reopened,
		UpdatedAt:     m.UpdatedAt,
	}
	switch p := m.Phase.(type) {
	case Proposed:
		prop := p.Proposal
		v.Proposal = &prop
	case Disputed:
		prop, ch := p.Proposal, p.Challenge
		v.Proposal, v.Challenge = &prop, &ch
	case Resolved:
		v.Outcome = p.Outcome
		v.Void = p.Void
		if p.Void {
			v.VoidReason = p.Reason
		}
		v.Path = p.Path
		v.Proposal, v.Challenge = p.Proposal, p.Challenge
		at := p.ResolvedAt
		v.ResolvedAt = &at
		s := p.Settlement
		v.Settlement = &s
	}
	return v
}
