package handler

import (
	"net/http"

	"github.com/alanyoungcy/castbet/internal/domain"
	"github.com/alanyoungcy/castbet/internal/ledger"
	"github.com/alanyoungcy/castbet/internal/settlement"
)

// AccountHandler serves payouts, credit balances and role management.
type AccountHandler struct {
	ledger Ledger
}

// NewAccountHandler creates an AccountHandler.
func NewAccountHandler(l Ledger) *AccountHandler {
	return &AccountHandler{ledger: l}
}

// Claim pays the caller's position in a resolved market.
// POST /api/markets/{id}/claim
func (h *AccountHandler) Claim(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	submit(w, r, h.ledger, http.StatusOK, settlement.ClaimWinnings{
		MarketID: pathParam(r, "id"),
		Account:  caller,
	})
}

type distributeRequest struct {
	BatchSize int `json:"batch_size"`
}

// Distribute pays the next batch of positions in a resolved market.
// POST /api/markets/{id}/distribute
func (h *AccountHandler) Distribute(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	req := distributeRequest{BatchSize: 50}
	if err := decodeBody(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	submit(w, r, h.ledger, http.StatusOK, settlement.DistributeWinnings{
		MarketID:  pathParam(r, "id"),
		Caller:    caller,
		BatchSize: req.BatchSize,
	})
}

type withdrawRequest struct {
	To domain.Address `json:"to"`
}

// Withdraw empties one of the caller's credit ledgers.
// POST /api/withdrawals/{kind}
func (h *AccountHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	var req withdrawRequest
	if err := decodeBody(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	submit(w, r, h.ledger, http.StatusOK, settlement.Withdraw{
		Caller: caller,
		Kind:   domain.BalanceKind(pathParam(r, "kind")),
		To:     req.To,
	})
}

type balancesResponse struct {
	Address  domain.Address  `json:"address"`
	Balances domain.Balances `json:"balances"`
	House    *ledger.Amount  `json:"house,omitempty"`
}

// Balances returns an account's credit ledgers. The admin also sees the
// house balance.
// GET /api/accounts/{address}/balances
func (h *AccountHandler) Balances(w http.ResponseWriter, r *http.Request) {
	addr, err := domain.ParseAddress(pathParam(r, "address"))
	if err != nil {
		writeErr(w, err)
		return
	}
	resp := balancesResponse{Address: addr, Balances: h.ledger.Balances(addr)}
	if addr == h.ledger.Roles().Admin {
		house := h.ledger.House()
		resp.House = &house
	}
	writeJSON(w, http.StatusOK, resp)
}

// Positions lists every position an account holds.
// GET /api/accounts/{address}/positions
func (h *AccountHandler) Positions(w http.ResponseWriter, r *http.Request) {
	addr, err := domain.ParseAddress(pathParam(r, "address"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"address":   addr,
		"positions": newPositionViews(h.ledger.AccountPositions(addr)),
	})
}

// Roles returns the admin and operator set.
// GET /api/roles
func (h *AccountHandler) Roles(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.ledger.Roles())
}

type operatorRequest struct {
	Address domain.Address `json:"address"`
}

// GrantOperator adds an operator. Admin only.
// POST /api/operators
func (h *AccountHandler) GrantOperator(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	var req operatorRequest
	if err := decodeBody(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	submit(w, r, h.ledger, http.StatusOK, settlement.GrantOperator{Caller: caller, Operator: req.Address})
}

// RevokeOperator removes an operator. Admin only.
// DELETE /api/operators/{address}
func (h *AccountHandler) RevokeOperator(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	op, err := domain.ParseAddress(pathParam(r, "address"))
	if err != nil {
		writeErr(w, err)
		return
	}
	submit(w, r, h.ledger, http.StatusOK, settlement.RevokeOperator{Caller: caller, Operator: op})
}
