package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// Pinger reports the health of a backing dependency.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler serves health, solvency and keeper endpoints.
type HealthHandler struct {
	ledger    Ledger
	deps      map[string]Pinger
	startedAt time.Time
	logger    *slog.Logger
}

// NewHealthHandler creates a HealthHandler. deps are pinged by HealthCheck.
func NewHealthHandler(l Ledger, deps map[string]Pinger, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{ledger: l, deps: deps, startedAt: time.Now().UTC(), logger: logger}
}

// HealthCheck reports liveness, the last applied sequence number and the
// state of each dependency.
// GET /api/health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := "ok"
	deps := make(map[string]string, len(h.deps))
	for name, p := range h.deps {
		if err := p.Ping(ctx); err != nil {
			h.logger.WarnContext(ctx, "handler: dependency unhealthy",
				slog.String("dependency", name),
				slog.String("error", err.Error()),
			)
			deps[name] = err.Error()
			status = "degraded"
			continue
		}
		deps[name] = "ok"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         status,
		"last_seq":       h.ledger.LastSeq(),
		"uptime_seconds": int64(time.Since(h.startedAt).Seconds()),
		"dependencies":   deps,
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
	})
}

// Solvency runs the conservation check. A failed check answers 500 with the
// report so monitors can alert on it.
// GET /api/solvency
func (h *HealthHandler) Solvency(w http.ResponseWriter, r *http.Request) {
	report, err := h.ledger.Solvency()
	if err != nil {
		writeErr(w, err)
		return
	}
	status := http.StatusOK
	if !report.OK() {
		h.logger.ErrorContext(r.Context(), "handler: solvency check failed",
			slog.Any("problems", report.Problems),
		)
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, report)
}

// KeeperDue lists markets a keeper can advance now.
// GET /api/keeper/due
func (h *HealthHandler) KeeperDue(w http.ResponseWriter, r *http.Request) {
	d := h.ledger.DueAt(time.Now().UTC())
	if d.Finalize == nil {
		d.Finalize = []string{}
	}
	if d.Distribute == nil {
		d.Distribute = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"finalize": d.Finalize, "distribute": d.Distribute})
}
