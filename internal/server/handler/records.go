package handler

import (
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/copytraderbot/internal/domain"
)

// RecordsHandler serves the persisted history endpoints: trades, cashouts,
// and the audit log.
type RecordsHandler struct {
	trades   domain.TradeRecordStore
	cashouts domain.CashoutStore
	audit    domain.AuditStore
	logger   *slog.Logger
}

// NewRecordsHandler creates a RecordsHandler.
func NewRecordsHandler(trades domain.TradeRecordStore, cashouts domain.CashoutStore, audit domain.AuditStore, logger *slog.Logger) *RecordsHandler {
	return &RecordsHandler{trades: trades, cashouts: cashouts, audit: audit, logger: logger}
}

// ListTrades returns a user's trade receipts, newest first.
// GET /api/engines/{userID}/trades
func (h *RecordsHandler) ListTrades(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("userID")

	recs, err := h.trades.ListByUser(r.Context(), userID, parseListOpts(r))
	if err != nil {
		h.logger.Error("trade listing failed", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "failed to list trades")
		return
	}
	if recs == nil {
		recs = []domain.TradeRecord{}
	}
	writeJSON(w, http.StatusOK, recs)
}

// ListCashouts returns a user's sweep receipts, newest first.
// GET /api/engines/{userID}/cashouts
func (h *RecordsHandler) ListCashouts(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("userID")

	recs, err := h.cashouts.ListCashouts(r.Context(), userID, parseListOpts(r))
	if err != nil {
		h.logger.Error("cashout listing failed", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "failed to list cashouts")
		return
	}
	if recs == nil {
		recs = []domain.CashoutRecord{}
	}
	writeJSON(w, http.StatusOK, recs)
}

// ListAudit returns a user's audit log entries, newest first.
// GET /api/engines/{userID}/audit
func (h *RecordsHandler) ListAudit(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("userID")

	entries, err := h.audit.List(r.Context(), userID, parseListOpts(r))
	if err != nil {
		h.logger.Error("audit listing failed", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "failed to list audit entries")
		return
	}
	if entries == nil {
		entries = []domain.AuditEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}
