package handler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alanyoungcy/copytraderbot/internal/domain"
	"github.com/alanyoungcy/copytraderbot/internal/engine"
	"github.com/alanyoungcy/copytraderbot/internal/scheduler"
)

type fakeController struct {
	started, stopped []string
	updates          map[string]domain.ConfigUpdate
	err              error
}

func (f *fakeController) StartEngine(ctx context.Context, userID string) error {
	f.started = append(f.started, userID)
	return f.err
}

func (f *fakeController) StopEngine(ctx context.Context, userID string) error {
	f.stopped = append(f.stopped, userID)
	return f.err
}

func (f *fakeController) UpdateEngineConfig(ctx context.Context, userID string, update domain.ConfigUpdate) error {
	if f.updates == nil {
		f.updates = make(map[string]domain.ConfigUpdate)
	}
	f.updates[userID] = update
	return f.err
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestHandler(ctrl *fakeController) (*EngineHandler, *scheduler.Scheduler) {
	sched := scheduler.New(scheduler.Config{TickInterval: time.Second}, nil, testLogger())
	return NewEngineHandler(ctrl, sched, testLogger()), sched
}

func registeredEngine(userID string) *engine.Engine {
	return engine.New(domain.EngineConfig{UserID: userID}, engine.Settings{}, time.Hour, engine.Deps{
		Logger: testLogger(),
	})
}

func doRequest(h http.HandlerFunc, method, target, userID, body string) *httptest.ResponseRecorder {
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, rd)
	req.SetPathValue("userID", userID)
	rec := httptest.NewRecorder()
	h(rec, req)
	return rec
}

func TestListEnginesEmpty(t *testing.T) {
	h, _ := newTestHandler(&fakeController{})
	rec := doRequest(h.ListEngines, http.MethodGet, "/api/engines", "", "")

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if got := strings.TrimSpace(rec.Body.String()); got != "[]" {
		t.Errorf("body = %s, want an empty array not null", got)
	}
}

func TestGetEngineStatus(t *testing.T) {
	h, sched := newTestHandler(&fakeController{})
	sched.Register("alice", registeredEngine("alice"))

	rec := doRequest(h.GetEngine, http.MethodGet, "/api/engines/alice", "alice", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var status struct {
		UserID string `json:"user_id"`
		State  string `json:"state"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if status.UserID != "alice" || status.State != "STOPPED" {
		t.Errorf("status = %+v, want alice STOPPED", status)
	}

	rec = doRequest(h.GetEngine, http.MethodGet, "/api/engines/nobody", "nobody", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown user: status = %d, want 404", rec.Code)
	}
}

func TestStartEngineAccepted(t *testing.T) {
	ctrl := &fakeController{}
	h, _ := newTestHandler(ctrl)

	rec := doRequest(h.StartEngine, http.MethodPost, "/api/engines/alice/start", "alice", "")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", rec.Code)
	}
	if len(ctrl.started) != 1 || ctrl.started[0] != "alice" {
		t.Errorf("controller starts = %v, want [alice]", ctrl.started)
	}
}

func TestStartEngineErrorMapping(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{domain.ErrNotFound, http.StatusNotFound},
		{domain.ErrMissingWallet, http.StatusUnprocessableEntity},
		{domain.ErrMissingKey, http.StatusUnprocessableEntity},
		{domain.ErrLockHeld, http.StatusConflict},
		{io.ErrUnexpectedEOF, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		h, _ := newTestHandler(&fakeController{err: tt.err})
		rec := doRequest(h.StartEngine, http.MethodPost, "/api/engines/alice/start", "alice", "")
		if rec.Code != tt.want {
			t.Errorf("error %v: status = %d, want %d", tt.err, rec.Code, tt.want)
		}
	}
}

func TestUpdateConfigTranslatesBody(t *testing.T) {
	ctrl := &fakeController{}
	h, _ := newTestHandler(ctrl)

	body := `{"multiplier": 2.0, "take_profit_pct": 0.15, "target_wallets": ["0xa", "0xb"]}`
	rec := doRequest(h.UpdateConfig, http.MethodPatch, "/api/engines/alice/config", "alice", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}

	update := ctrl.updates["alice"]
	if update.Multiplier == nil || *update.Multiplier != 2.0 {
		t.Error("multiplier not forwarded")
	}
	if update.TargetWallets == nil || len(*update.TargetWallets) != 2 {
		t.Error("target wallets not forwarded")
	}
	if update.TakeProfitPct == nil || *update.TakeProfitPct == nil || **update.TakeProfitPct != 0.15 {
		t.Error("take profit not forwarded as a set value")
	}
}

func TestUpdateConfigClearTakeProfit(t *testing.T) {
	ctrl := &fakeController{}
	h, _ := newTestHandler(ctrl)

	rec := doRequest(h.UpdateConfig, http.MethodPatch, "/api/engines/alice/config", "alice", `{"clear_take_profit": true}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	update := ctrl.updates["alice"]
	if update.TakeProfitPct == nil {
		t.Fatal("clearing must send an explicit take-profit change")
	}
	if *update.TakeProfitPct != nil {
		t.Error("cleared take-profit must carry a nil inner value")
	}
}

func TestUpdateConfigRejectsUnknownFields(t *testing.T) {
	h, _ := newTestHandler(&fakeController{})
	rec := doRequest(h.UpdateConfig, http.MethodPatch, "/api/engines/alice/config", "alice", `{"bogus": 1}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400 for unknown fields", rec.Code)
	}
}

func TestEmergencySellValidation(t *testing.T) {
	h, sched := newTestHandler(&fakeController{})
	sched.Register("alice", registeredEngine("alice"))

	rec := doRequest(h.EmergencySell, http.MethodPost, "/api/engines/alice/sell", "alice", `{"market_id": "", "outcome": ""}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("empty fields: status = %d, want 400", rec.Code)
	}

	// The registered engine is stopped, so a well-formed request conflicts.
	rec = doRequest(h.EmergencySell, http.MethodPost, "/api/engines/alice/sell", "alice", `{"market_id": "m1", "outcome": "Yes"}`)
	if rec.Code != http.StatusConflict {
		t.Errorf("stopped engine: status = %d, want 409", rec.Code)
	}

	rec = doRequest(h.EmergencySell, http.MethodPost, "/api/engines/nobody/sell", "nobody", `{"market_id": "m1", "outcome": "Yes"}`)
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown user: status = %d, want 404", rec.Code)
	}
}

func TestParseListOpts(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/trades?limit=9000&offset=20&since=2026-01-02T15:04:05Z", nil)
	opts := parseListOpts(req)

	if opts.Limit != 500 {
		t.Errorf("limit = %d, want capped 500", opts.Limit)
	}
	if opts.Offset != 20 {
		t.Errorf("offset = %d, want 20", opts.Offset)
	}
	if opts.Since == nil || opts.Since.Year() != 2026 {
		t.Errorf("since = %v, want parsed timestamp", opts.Since)
	}
	if opts.Until != nil {
		t.Errorf("until = %v, want nil when absent", opts.Until)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/trades", nil)
	opts = parseListOpts(req)
	if opts.Limit != 50 || opts.Offset != 0 {
		t.Errorf("defaults = %+v, want limit 50 offset 0", opts)
	}
}
