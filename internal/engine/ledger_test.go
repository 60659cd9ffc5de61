package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alanyoungcy/copytraderbot/internal/domain"
)

func mkPos(market, outcome string, entry, shares float64, openedAt time.Time) domain.Position {
	pos := domain.Position{
		ID:         market + "-" + outcome,
		MarketID:   market,
		TokenID:    "token-" + market,
		Outcome:    outcome,
		EntryPrice: entry,
		Shares:     shares,
		Invested:   entry * shares,
		OpenedAt:   openedAt,
	}
	pos.Reprice(entry)
	return pos
}

func TestLedgerPutGetRemove(t *testing.T) {
	l := NewLedger(time.Hour)
	now := time.Now()

	l.Put(mkPos("m1", "Yes", 0.4, 100, now))

	if _, ok := l.Get("m1", "Yes"); !ok {
		t.Fatal("position not found after Put")
	}
	if _, ok := l.Get("m1", "No"); ok {
		t.Error("different outcome should be a separate slot")
	}
	if l.Len() != 1 {
		t.Errorf("len = %d, want 1", l.Len())
	}

	l.Remove("m1", "Yes")
	if l.Len() != 0 {
		t.Errorf("len after remove = %d, want 0", l.Len())
	}
}

func TestLedgerSnapshotOldestFirst(t *testing.T) {
	l := NewLedger(time.Hour)
	now := time.Now()

	l.Put(mkPos("m2", "Yes", 0.3, 10, now))
	l.Put(mkPos("m1", "Yes", 0.4, 10, now.Add(-time.Hour)))
	l.Put(mkPos("m3", "Yes", 0.5, 10, now.Add(time.Hour)))

	snap := l.Snapshot()
	if len(snap) != 3 {
		t.Fatalf("snapshot len = %d, want 3", len(snap))
	}
	if snap[0].MarketID != "m1" || snap[1].MarketID != "m2" || snap[2].MarketID != "m3" {
		t.Errorf("snapshot not ordered by open time: %s %s %s",
			snap[0].MarketID, snap[1].MarketID, snap[2].MarketID)
	}
}

func TestLedgerOpenValue(t *testing.T) {
	l := NewLedger(time.Hour)
	now := time.Now()

	p1 := mkPos("m1", "Yes", 0.5, 100, now) // value 50
	p2 := mkPos("m2", "Yes", 0.25, 80, now) // value 20
	l.Put(p1)
	l.Put(p2)

	if got := l.OpenValue(); got != 70 {
		t.Errorf("open value = %v, want 70", got)
	}
}

func TestLedgerSoftReconcile(t *testing.T) {
	l := NewLedger(time.Hour)
	now := time.Now()
	l.Put(mkPos("m1", "Yes", 0.5, 100, now))
	l.Put(mkPos("m2", "Yes", 0.5, 100, now))

	prices := map[string]float64{"m1": 0.75}
	l.SoftReconcile(context.Background(), func(ctx context.Context, marketID, tokenID string) (float64, error) {
		p, ok := prices[marketID]
		if !ok {
			return 0, errors.New("no price")
		}
		return p, nil
	})

	p1, _ := l.Get("m1", "Yes")
	if p1.LastPrice != 0.75 {
		t.Errorf("m1 last price = %v, want 0.75", p1.LastPrice)
	}
	if p1.UnrealizedPnL != 25 { // (0.75 - 0.50) * 100
		t.Errorf("m1 unrealized = %v, want 25", p1.UnrealizedPnL)
	}

	// A failed fetch leaves the stale price in place.
	p2, _ := l.Get("m2", "Yes")
	if p2.LastPrice != 0.5 {
		t.Errorf("m2 last price = %v, want stale 0.5", p2.LastPrice)
	}
}

func TestLedgerHardReconcileRebuilds(t *testing.T) {
	l := NewLedger(time.Hour)
	opened := time.Now().Add(-time.Hour).UTC()
	prev := mkPos("m1", "Yes", 0.4, 100, opened)
	l.Put(prev)
	l.Put(mkPos("gone", "Yes", 0.2, 50, opened))

	adapter := newFakeAdapter()
	adapter.positions = []domain.VenuePosition{
		{MarketID: "m1", TokenID: "token-m1", Outcome: "Yes", Shares: 120, AvgPrice: 0.42, CurPrice: 0.5},
		{MarketID: "m9", TokenID: "token-m9", Outcome: "No", Shares: 10, AvgPrice: 0.1, CurPrice: 0.15},
		{MarketID: "dust", TokenID: "token-dust", Outcome: "Yes", Shares: 0, AvgPrice: 0.3, CurPrice: 0.3},
	}

	if err := l.HardReconcile(context.Background(), adapter, true); err != nil {
		t.Fatalf("hard reconcile: %v", err)
	}

	if l.Len() != 2 {
		t.Fatalf("len = %d, want 2 (dust and stale slots dropped)", l.Len())
	}
	if _, ok := l.Get("gone", "Yes"); ok {
		t.Error("position absent at venue should be dropped")
	}

	p1, _ := l.Get("m1", "Yes")
	if p1.Shares != 120 {
		t.Errorf("m1 shares = %v, want venue's 120", p1.Shares)
	}
	if p1.ID != prev.ID || !p1.OpenedAt.Equal(opened) {
		t.Error("tracked slot should keep its identity and open time")
	}
	if p1.LastPrice != 0.5 {
		t.Errorf("m1 last price = %v, want 0.5", p1.LastPrice)
	}
}

func TestLedgerHardReconcileThrottled(t *testing.T) {
	l := NewLedger(time.Hour)
	adapter := newFakeAdapter()
	adapter.positions = []domain.VenuePosition{
		{MarketID: "m1", TokenID: "t", Outcome: "Yes", Shares: 10, AvgPrice: 0.4, CurPrice: 0.4},
	}

	if err := l.HardReconcile(context.Background(), adapter, true); err != nil {
		t.Fatalf("forced reconcile: %v", err)
	}

	adapter.mu.Lock()
	adapter.positions = nil
	adapter.mu.Unlock()

	// Within the throttle window, a non-forced pass is a no-op.
	if err := l.HardReconcile(context.Background(), adapter, false); err != nil {
		t.Fatalf("throttled reconcile: %v", err)
	}
	if l.Len() != 1 {
		t.Errorf("throttled pass should not touch the ledger, len = %d", l.Len())
	}

	// Forced passes always run.
	if err := l.HardReconcile(context.Background(), adapter, true); err != nil {
		t.Fatalf("second forced reconcile: %v", err)
	}
	if l.Len() != 0 {
		t.Errorf("forced pass should rebuild, len = %d", l.Len())
	}
}
