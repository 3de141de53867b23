package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/castbet/internal/domain"
	"github.com/alanyoungcy/castbet/internal/ledger"
	"github.com/alanyoungcy/castbet/internal/settlement"
)

// MarketHandler serves market creation, queries and betting.
type MarketHandler struct {
	ledger  Ledger
	journal domain.JournalStore
	logger  *slog.Logger
}

// NewMarketHandler creates a MarketHandler. journal may be nil, in which
// case the history endpoint reports 404.
func NewMarketHandler(l Ledger, journal domain.JournalStore, logger *slog.Logger) *MarketHandler {
	return &MarketHandler{ledger: l, journal: journal, logger: logger}
}

type listMarketsResponse struct {
	Markets []domain.MarketView `json:"markets"`
	Limit   int                 `json:"limit"`
	Offset  int                 `json:"offset"`
}

// ListMarkets returns markets with optional state and creator filters.
// GET /api/markets?state=open&creator=0x..&limit=50&offset=0
func (h *MarketHandler) ListMarkets(w http.ResponseWriter, r *http.Request) {
	opts, err := parseListOpts(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	filter := domain.MarketFilter{State: domain.State(r.URL.Query().Get("state")), ListOpts: opts}
	if c := r.URL.Query().Get("creator"); c != "" {
		addr, err := domain.ParseAddress(c)
		if err != nil {
			writeErr(w, err)
			return
		}
		filter.Creator = &addr
	}
	writeJSON(w, http.StatusOK, listMarketsResponse{
		Markets: h.ledger.Markets(filter),
		Limit:   opts.Limit,
		Offset:  opts.Offset,
	})
}

// GetMarket returns a single market by its ID.
// GET /api/markets/{id}
func (h *MarketHandler) GetMarket(w http.ResponseWriter, r *http.Request) {
	v, err := h.ledger.Market(pathParam(r, "id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// Quote prices a reference bet. The stake query parameter is in base units.
// GET /api/markets/{id}/quote?stake=1000000
func (h *MarketHandler) Quote(w http.ResponseWriter, r *http.Request) {
	var stake ledger.Amount
	if s := r.URL.Query().Get("stake"); s != "" {
		var err error
		if stake, err = ledger.Parse(s); err != nil {
			writeErr(w, err)
			return
		}
	}
	q, err := h.ledger.Quote(pathParam(r, "id"), stake)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, q)
}

// Positions lists every position in a market.
// GET /api/markets/{id}/positions
func (h *MarketHandler) Positions(w http.ResponseWriter, r *http.Request) {
	ps, err := h.ledger.MarketPositions(pathParam(r, "id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"positions": newPositionViews(ps)})
}

// History lists the journaled commands of a market.
// GET /api/markets/{id}/history
func (h *MarketHandler) History(w http.ResponseWriter, r *http.Request) {
	if h.journal == nil {
		writeError(w, http.StatusNotFound, "not_found", "journal history is not available")
		return
	}
	id := pathParam(r, "id")
	if _, err := h.ledger.Market(id); err != nil {
		writeErr(w, err)
		return
	}
	entries, err := h.journal.ListByMarket(r.Context(), id)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: market history failed",
			slog.String("market_id", id),
			slog.String("error", err.Error()),
		)
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

type createMarketRequest struct {
	ID                 string        `json:"id"`
	Question           string        `json:"question"`
	Deadline           time.Time     `json:"deadline"`
	BonusWindowSeconds int64         `json:"bonus_window_seconds"`
	Seed               ledger.Amount `json:"seed"`
}

// CreateMarket opens a market seeded by the caller.
// POST /api/markets
func (h *MarketHandler) CreateMarket(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	var req createMarketRequest
	if err := decodeBody(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	submit(w, r, h.ledger, http.StatusCreated, settlement.CreateMarket{
		ID:          req.ID,
		Creator:     caller,
		Question:    req.Question,
		Deadline:    req.Deadline,
		BonusWindow: time.Duration(req.BonusWindowSeconds) * time.Second,
		Seed:        req.Seed,
	})
}

type placeBetRequest struct {
	Side         domain.Side    `json:"side"`
	Amount       ledger.Amount  `json:"amount"`
	MinSharesOut ledger.Amount  `json:"min_shares_out"`
	Referrer     domain.Address `json:"referrer"`
}

// PlaceBet stakes on one side of an open market.
// POST /api/markets/{id}/bets
func (h *MarketHandler) PlaceBet(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	var req placeBetRequest
	if err := decodeBody(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	submit(w, r, h.ledger, http.StatusCreated, settlement.PlaceBet{
		MarketID:     pathParam(r, "id"),
		Bettor:       caller,
		Side:         req.Side,
		Amount:       req.Amount,
		MinSharesOut: req.MinSharesOut,
		Referrer:     req.Referrer,
	})
}
