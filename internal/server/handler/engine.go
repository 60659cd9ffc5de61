package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/copytraderbot/internal/domain"
	"github.com/alanyoungcy/copytraderbot/internal/engine"
	"github.com/alanyoungcy/copytraderbot/internal/scheduler"
)

// EngineController is the lifecycle surface the application host exposes to
// the API. Lifecycle changes go through the host because starting an engine
// involves building adapters and acquiring the per-user lock; live control
// of an already-running engine goes straight through the scheduler.
type EngineController interface {
	StartEngine(ctx context.Context, userID string) error
	StopEngine(ctx context.Context, userID string) error
	UpdateEngineConfig(ctx context.Context, userID string, update domain.ConfigUpdate) error
}

// EngineHandler serves the engine lifecycle and live-state endpoints.
type EngineHandler struct {
	ctrl   EngineController
	sched  *scheduler.Scheduler
	logger *slog.Logger
}

// NewEngineHandler creates an EngineHandler.
func NewEngineHandler(ctrl EngineController, sched *scheduler.Scheduler, logger *slog.Logger) *EngineHandler {
	return &EngineHandler{ctrl: ctrl, sched: sched, logger: logger}
}

type engineStatus struct {
	UserID        string  `json:"user_id"`
	State         string  `json:"state"`
	OpenPositions int     `json:"open_positions"`
	Cursor        int64   `json:"cursor"`
	CashBalance   float64 `json:"cash_balance"`
	Portfolio     float64 `json:"portfolio_value"`
}

func statusOf(userID string, eng *engine.Engine) engineStatus {
	stats := eng.Stats()
	return engineStatus{
		UserID:        userID,
		State:         string(eng.State()),
		OpenPositions: len(eng.Positions()),
		Cursor:        eng.Cursor(),
		CashBalance:   stats.CashBalance,
		Portfolio:     stats.PortfolioValue,
	}
}

// ListEngines returns the status of every registered engine.
// GET /api/engines
func (h *EngineHandler) ListEngines(w http.ResponseWriter, r *http.Request) {
	var out []engineStatus
	for _, userID := range h.sched.Users() {
		if eng, ok := h.sched.Get(userID); ok {
			out = append(out, statusOf(userID, eng))
		}
	}
	if out == nil {
		out = []engineStatus{}
	}
	writeJSON(w, http.StatusOK, out)
}

// GetEngine returns one engine's status.
// GET /api/engines/{userID}
func (h *EngineHandler) GetEngine(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("userID")
	eng, ok := h.sched.Get(userID)
	if !ok {
		writeError(w, http.StatusNotFound, "engine not found")
		return
	}
	writeJSON(w, http.StatusOK, statusOf(userID, eng))
}

// StartEngine brings a user's engine up from its persisted configuration.
// POST /api/engines/{userID}/start
func (h *EngineHandler) StartEngine(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("userID")
	if err := h.ctrl.StartEngine(r.Context(), userID); err != nil {
		h.writeEngineError(w, userID, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"user_id": userID, "status": "starting"})
}

// StopEngine shuts a user's engine down cooperatively.
// POST /api/engines/{userID}/stop
func (h *EngineHandler) StopEngine(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("userID")
	if err := h.ctrl.StopEngine(r.Context(), userID); err != nil {
		h.writeEngineError(w, userID, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"user_id": userID, "status": "stopped"})
}

type updateConfigRequest struct {
	TargetWallets    *[]string             `json:"target_wallets"`
	RiskProfile      *string               `json:"risk_profile"`
	Multiplier       *float64              `json:"multiplier"`
	MaxTradeNotional *float64              `json:"max_trade_notional"`
	TakeProfitPct    *float64              `json:"take_profit_pct"`
	ClearTakeProfit  bool                  `json:"clear_take_profit"`
	Cashout          *domain.CashoutPolicy `json:"cashout"`
	FeeShareBps      *int                  `json:"fee_share_bps"`
}

// UpdateConfig applies a partial configuration change, persisted and pushed
// to the live engine if one is running.
// PATCH /api/engines/{userID}/config
func (h *EngineHandler) UpdateConfig(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("userID")

	var req updateConfigRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	update := domain.ConfigUpdate{
		TargetWallets:    req.TargetWallets,
		Multiplier:       req.Multiplier,
		MaxTradeNotional: req.MaxTradeNotional,
		Cashout:          req.Cashout,
		FeeShareBps:      req.FeeShareBps,
	}
	if req.RiskProfile != nil {
		rp := domain.RiskProfile(*req.RiskProfile)
		update.RiskProfile = &rp
	}
	if req.ClearTakeProfit {
		var none *float64
		update.TakeProfitPct = &none
	} else if req.TakeProfitPct != nil {
		update.TakeProfitPct = &req.TakeProfitPct
	}

	if err := h.ctrl.UpdateEngineConfig(r.Context(), userID, update); err != nil {
		h.writeEngineError(w, userID, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"user_id": userID, "status": "updated"})
}

type emergencySellRequest struct {
	MarketID string `json:"market_id"`
	Outcome  string `json:"outcome"`
}

// EmergencySell force-closes one open position at the current price.
// POST /api/engines/{userID}/sell
func (h *EngineHandler) EmergencySell(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("userID")
	eng, ok := h.sched.Get(userID)
	if !ok {
		writeError(w, http.StatusNotFound, "engine not found")
		return
	}

	var req emergencySellRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.MarketID == "" || req.Outcome == "" {
		writeError(w, http.StatusBadRequest, "market_id and outcome are required")
		return
	}

	if err := eng.EmergencySell(r.Context(), req.MarketID, req.Outcome); err != nil {
		h.writeEngineError(w, userID, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"user_id":   userID,
		"market_id": req.MarketID,
		"outcome":   req.Outcome,
		"status":    "closed",
	})
}

// SyncPositions forces a reconciliation against the venue.
// POST /api/engines/{userID}/sync
func (h *EngineHandler) SyncPositions(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("userID")
	eng, ok := h.sched.Get(userID)
	if !ok {
		writeError(w, http.StatusNotFound, "engine not found")
		return
	}

	force := r.URL.Query().Get("force") != "false"
	if err := eng.SyncPositions(r.Context(), force); err != nil {
		h.writeEngineError(w, userID, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"user_id": userID, "status": "synced"})
}

// ListPositions returns the engine's live open positions.
// GET /api/engines/{userID}/positions
func (h *EngineHandler) ListPositions(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("userID")
	eng, ok := h.sched.Get(userID)
	if !ok {
		writeError(w, http.StatusNotFound, "engine not found")
		return
	}
	writeJSON(w, http.StatusOK, eng.Positions())
}

// GetStats returns the engine's rolling aggregates.
// GET /api/engines/{userID}/stats
func (h *EngineHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("userID")
	eng, ok := h.sched.Get(userID)
	if !ok {
		writeError(w, http.StatusNotFound, "engine not found")
		return
	}
	writeJSON(w, http.StatusOK, eng.Stats())
}

// writeEngineError maps domain errors onto HTTP statuses.
func (h *EngineHandler) writeEngineError(w http.ResponseWriter, userID string, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrNoPosition):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrNotRunning):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrMissingWallet), errors.Is(err, domain.ErrMissingKey):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, domain.ErrLockHeld):
		writeError(w, http.StatusConflict, err.Error())
	default:
		h.logger.Error("engine request failed",
			slog.String("user_id", userID),
			slog.Any("error", err),
		)
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}
