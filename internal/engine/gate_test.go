package engine

import (
	"context"
	"strings"
	"testing"

	"github.com/alanyoungcy/copytraderbot/internal/domain"
)

func TestGateSellWithoutPositionSkipped(t *testing.T) {
	adapter := newFakeAdapter()
	gate := NewGate(approveAll(), adapter, discardLogger())

	res := gate.Execute(context.Background(), sellSignal("m1", "Yes", 0.5), testConfig(), nil)

	if res.Status != domain.ExecSkipped {
		t.Fatalf("expected skipped, got %s", res.Status)
	}
	if adapter.orderCount() != 0 {
		t.Errorf("no order should be dispatched, got %d", adapter.orderCount())
	}
}

func TestGateDuplicateBuySkipped(t *testing.T) {
	adapter := newFakeAdapter()
	gate := NewGate(approveAll(), adapter, discardLogger())

	pos := domain.Position{MarketID: "m1", Outcome: "Yes", EntryPrice: 0.4, Shares: 100}
	res := gate.Execute(context.Background(), buySignal("m1", "Yes", 50, 0.5), testConfig(), &pos)

	if res.Status != domain.ExecSkipped {
		t.Fatalf("expected skipped, got %s", res.Status)
	}
	if adapter.orderCount() != 0 {
		t.Errorf("no order should be dispatched, got %d", adapter.orderCount())
	}
}

func TestGateBuySizing(t *testing.T) {
	tests := []struct {
		name         string
		notional     float64
		multiplier   float64
		maxNotional  float64
		wantNotional float64
	}{
		{"proportional", 50, 2.0, 200, 100},
		{"capped", 50, 2.0, 80, 80},
		{"no cap configured", 50, 3.0, 0, 150},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			adapter := newFakeAdapter()
			gate := NewGate(approveAll(), adapter, discardLogger())

			cfg := testConfig()
			cfg.Multiplier = tt.multiplier
			cfg.MaxTradeNotional = tt.maxNotional

			res := gate.Execute(context.Background(), buySignal("m1", "Yes", tt.notional, 0.5), cfg, nil)
			if res.Status != domain.ExecFilled {
				t.Fatalf("expected filled, got %s (%s)", res.Status, res.Reason)
			}

			order, ok := adapter.lastOrder()
			if !ok {
				t.Fatal("no order dispatched")
			}
			if order.Notional != tt.wantNotional {
				t.Errorf("order notional = %v, want %v", order.Notional, tt.wantNotional)
			}
		})
	}
}

func TestGateSellClosesWholePosition(t *testing.T) {
	adapter := newFakeAdapter()
	gate := NewGate(approveAll(), adapter, discardLogger())

	pos := domain.Position{MarketID: "m1", Outcome: "Yes", EntryPrice: 0.4, Shares: 100}
	res := gate.Execute(context.Background(), sellSignal("m1", "Yes", 0.5), testConfig(), &pos)

	if res.Status != domain.ExecFilled {
		t.Fatalf("expected filled, got %s (%s)", res.Status, res.Reason)
	}
	order, _ := adapter.lastOrder()
	if order.Notional != 50 { // 100 shares at 0.50
		t.Errorf("sell notional = %v, want 50", order.Notional)
	}
	if order.Side != domain.OrderSideSell {
		t.Errorf("side = %s, want sell", order.Side)
	}
}

func TestGateScorerErrorFailsClosed(t *testing.T) {
	adapter := newFakeAdapter()
	scorer := &fakeScorer{err: errScorerDown}
	gate := NewGate(scorer, adapter, discardLogger())

	res := gate.Execute(context.Background(), buySignal("m1", "Yes", 50, 0.5), testConfig(), nil)

	if res.Status != domain.ExecSkipped {
		t.Fatalf("expected skipped on scorer error, got %s", res.Status)
	}
	if !strings.Contains(res.Reason, "scorer unavailable") {
		t.Errorf("reason = %q, want scorer unavailable", res.Reason)
	}
	if adapter.orderCount() != 0 {
		t.Errorf("no order should be dispatched, got %d", adapter.orderCount())
	}
}

func TestGateScorerDenialSkips(t *testing.T) {
	adapter := newFakeAdapter()
	scorer := &fakeScorer{decision: domain.Decision{Approve: false, Reason: "too risky", Score: 0.2}}
	gate := NewGate(scorer, adapter, discardLogger())

	res := gate.Execute(context.Background(), buySignal("m1", "Yes", 50, 0.5), testConfig(), nil)

	if res.Status != domain.ExecSkipped {
		t.Fatalf("expected skipped, got %s", res.Status)
	}
	if res.Reason != "too risky" {
		t.Errorf("reason = %q, want scorer reason", res.Reason)
	}
	if res.Score != 0.2 {
		t.Errorf("score = %v, want 0.2", res.Score)
	}
	if adapter.orderCount() != 0 {
		t.Errorf("no order should be dispatched, got %d", adapter.orderCount())
	}
}

func TestGateDispatchFailure(t *testing.T) {
	adapter := newFakeAdapter()
	adapter.orderErr = errScorerDown
	gate := NewGate(approveAll(), adapter, discardLogger())

	res := gate.Execute(context.Background(), buySignal("m1", "Yes", 50, 0.5), testConfig(), nil)
	if res.Status != domain.ExecFailed {
		t.Fatalf("expected failed, got %s", res.Status)
	}
}
