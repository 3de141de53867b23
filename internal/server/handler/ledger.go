package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/alanyoungcy/castbet/internal/domain"
	"github.com/alanyoungcy/castbet/internal/ledger"
	"github.com/alanyoungcy/castbet/internal/sequencer"
	"github.com/alanyoungcy/castbet/internal/server/middleware"
	"github.com/alanyoungcy/castbet/internal/service"
	"github.com/alanyoungcy/castbet/internal/settlement"
)

// Ledger defines what the handlers require from the service layer. It is
// declared locally so handlers can be tested against a fake.
type Ledger interface {
	Submit(ctx context.Context, requestID string, cmd settlement.Command) (sequencer.Committed, error)
	Market(id string) (domain.MarketView, error)
	Markets(filter domain.MarketFilter) []domain.MarketView
	Quote(id string, stake ledger.Amount) (settlement.Quote, error)
	Balances(addr domain.Address) domain.Balances
	MarketPositions(id string) ([]domain.Position, error)
	AccountPositions(account domain.Address) []domain.Position
	Solvency() (settlement.SolvencyReport, error)
	Roles() service.Roles
	House() ledger.Amount
	LastSeq() uint64
	DueAt(now time.Time) service.Due
}

var _ Ledger = (*service.LedgerService)(nil)

// commandResponse is returned by every mutating endpoint.
type commandResponse struct {
	Seq       uint64                  `json:"seq"`
	RequestID string                  `json:"request_id"`
	Event     domain.EventType        `json:"event"`
	Market    *domain.MarketView      `json:"market,omitempty"`
	Bet       *settlement.BetResult   `json:"bet,omitempty"`
	Batch     *settlement.BatchResult `json:"batch,omitempty"`
	Transfers []domain.Transfer       `json:"transfers,omitempty"`
}

func newCommandResponse(c sequencer.Committed) commandResponse {
	resp := commandResponse{
		Seq:       c.Entry.Seq,
		RequestID: c.Entry.RequestID,
		Event:     c.Result.Event,
		Bet:       c.Result.Bet,
		Batch:     c.Result.Batch,
		Transfers: c.Result.Transfers,
	}
	if c.Result.Market != nil {
		v := domain.NewMarketView(c.Result.Market, c.Entry.At)
		resp.Market = &v
	}
	return resp
}

// submit runs cmd under the request's ID and writes the outcome.
func submit(w http.ResponseWriter, r *http.Request, l Ledger, status int, cmd settlement.Command) {
	c, err := l.Submit(r.Context(), middleware.RequestID(r.Context()), cmd)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, status, newCommandResponse(c))
}

// positionView is the JSON shape of a position.
type positionView struct {
	MarketID  string         `json:"market_id"`
	Account   domain.Address `json:"account"`
	Side      domain.Side    `json:"side"`
	Gross     ledger.Amount  `json:"gross"`
	Stake     ledger.Amount  `json:"stake"`
	Shares    ledger.Amount  `json:"shares"`
	WeightBps uint64         `json:"weight_bps"`
	Referrer  domain.Address `json:"referrer"`
	Paid      bool           `json:"paid"`
	Payout    ledger.Amount  `json:"payout"`
	PlacedAt  time.Time      `json:"placed_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

func newPositionViews(ps []domain.Position) []positionView {
	out := make([]positionView, len(ps))
	for i, p := range ps {
		out[i] = positionView{
			MarketID:  p.MarketID,
			Account:   p.Account,
			Side:      p.Side,
			Gross:     p.Gross,
			Stake:     p.Stake,
			Shares:    p.Shares,
			WeightBps: p.Weight,
			Referrer:  p.Referrer,
			Paid:      p.Paid,
			Payout:    p.Payout,
			PlacedAt:  p.PlacedAt,
			UpdatedAt: p.UpdatedAt,
		}
	}
	return out
}
