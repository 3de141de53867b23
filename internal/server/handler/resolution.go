package handler

import (
	"net/http"
	"time"

	"github.com/alanyoungcy/castbet/internal/domain"
	"github.com/alanyoungcy/castbet/internal/ledger"
	"github.com/alanyoungcy/castbet/internal/settlement"
)

// ResolutionHandler serves the optimistic resolution flow: propose,
// challenge, finalize, arbitrate and void.
type ResolutionHandler struct {
	ledger Ledger
}

// NewResolutionHandler creates a ResolutionHandler.
func NewResolutionHandler(l Ledger) *ResolutionHandler {
	return &ResolutionHandler{ledger: l}
}

type proposeRequest struct {
	Outcome  domain.Outcome `json:"outcome"`
	Bond     ledger.Amount  `json:"bond"`
	Evidence string         `json:"evidence"`
}

// Propose posts a bonded outcome for a locked market.
// POST /api/markets/{id}/propose
func (h *ResolutionHandler) Propose(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	var req proposeRequest
	if err := decodeBody(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	submit(w, r, h.ledger, http.StatusOK, settlement.ProposeOutcome{
		MarketID: pathParam(r, "id"),
		Proposer: caller,
		Outcome:  req.Outcome,
		Bond:     req.Bond,
		Evidence: req.Evidence,
	})
}

type challengeRequest struct {
	Bond     ledger.Amount `json:"bond"`
	Evidence string        `json:"evidence"`
}

// Challenge disputes the current proposal.
// POST /api/markets/{id}/challenge
func (h *ResolutionHandler) Challenge(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	var req challengeRequest
	if err := decodeBody(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	submit(w, r, h.ledger, http.StatusOK, settlement.ChallengeOutcome{
		MarketID:   pathParam(r, "id"),
		Challenger: caller,
		Bond:       req.Bond,
		Evidence:   req.Evidence,
	})
}

// Finalize settles an unchallenged proposal after its window.
// POST /api/markets/{id}/finalize
func (h *ResolutionHandler) Finalize(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	submit(w, r, h.ledger, http.StatusOK, settlement.FinalizeOutcome{
		MarketID: pathParam(r, "id"),
		Caller:   caller,
	})
}

type resolveRequest struct {
	Winner      settlement.Party `json:"winner"`
	Outcome     domain.Outcome   `json:"outcome"`
	Reopen      bool             `json:"reopen"`
	NewDeadline time.Time        `json:"new_deadline"`
}

// Resolve applies an arbitration verdict to a disputed market.
// POST /api/markets/{id}/resolve
func (h *ResolutionHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	var req resolveRequest
	if err := decodeBody(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	submit(w, r, h.ledger, http.StatusOK, settlement.ResolveDispute{
		MarketID: pathParam(r, "id"),
		Caller:   caller,
		Verdict: settlement.Verdict{
			Winner:      req.Winner,
			Outcome:     req.Outcome,
			Reopen:      req.Reopen,
			NewDeadline: req.NewDeadline,
		},
	})
}

type voidRequest struct {
	Reason string `json:"reason"`
}

// Void cancels a market and refunds every position.
// POST /api/markets/{id}/void
func (h *ResolutionHandler) Void(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	var req voidRequest
	if err := decodeBody(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	submit(w, r, h.ledger, http.StatusOK, settlement.VoidMarket{
		MarketID: pathParam(r, "id"),
		Caller:   caller,
		Reason:   req.Reason,
	})
}
