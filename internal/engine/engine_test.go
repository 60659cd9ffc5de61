package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alanyoungcy/copytraderbot/internal/domain"
)

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func startTestEngine(t *testing.T, cfg domain.EngineConfig, adapter *fakeAdapter, scorer *fakeScorer, src *fakeSource) *Engine {
	t.Helper()

	eng := New(cfg, testSettings(), time.Hour, Deps{
		Adapter: adapter,
		Scorer:  scorer,
		NewSource: func(wallets []string, cursor int64) SignalSource {
			src.mu.Lock()
			src.wallets = append([]string(nil), wallets...)
			if src.cursor < cursor {
				src.cursor = cursor
			}
			src.mu.Unlock()
			return src
		},
		Logger: discardLogger(),
	})
	if err := eng.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = eng.Stop(ctx)
	})
	return eng
}

func TestEngineStartValidation(t *testing.T) {
	adapter := newFakeAdapter()
	deps := Deps{Adapter: adapter, Scorer: approveAll(), NewSource: func([]string, int64) SignalSource { return &fakeSource{} }, Logger: discardLogger()}

	noWallets := testConfig()
	noWallets.TargetWallets = nil
	eng := New(noWallets, testSettings(), time.Hour, deps)
	if err := eng.Start(context.Background()); !errors.Is(err, domain.ErrMissingWallet) {
		t.Errorf("start without wallets: %v, want ErrMissingWallet", err)
	}

	noKey := testConfig()
	noKey.PrivateKey = ""
	noKey.EncryptedKeyPath = ""
	eng = New(noKey, testSettings(), time.Hour, deps)
	if err := eng.Start(context.Background()); !errors.Is(err, domain.ErrMissingKey) {
		t.Errorf("start without credentials: %v, want ErrMissingKey", err)
	}
}

func TestEngineConcurrentStartRunsOneLoop(t *testing.T) {
	adapter := newFakeAdapter()
	adapter.initGate = make(chan struct{})

	var mu sync.Mutex
	sources := 0
	eng := New(testConfig(), testSettings(), time.Hour, Deps{
		Adapter: adapter,
		Scorer:  approveAll(),
		NewSource: func(wallets []string, cursor int64) SignalSource {
			mu.Lock()
			sources++
			mu.Unlock()
			return &fakeSource{cursor: cursor}
		},
		Logger: discardLogger(),
	})

	// Both callers race into Start while the adapter is still initializing.
	// Only one may win the claim and build a signal source.
	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = eng.Start(context.Background())
		}(i)
	}
	time.Sleep(20 * time.Millisecond)
	close(adapter.initGate)
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("start %d: %v", i, err)
		}
	}
	waitFor(t, "active", func() bool { return eng.State() == StateActive })

	mu.Lock()
	n := sources
	mu.Unlock()
	if n != 1 {
		t.Errorf("signal source built %d times, want 1", n)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := eng.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
}

func TestEngineStartRetriesAfterInitFailure(t *testing.T) {
	adapter := newFakeAdapter()
	adapter.initErr = errors.New("rpc unavailable")

	eng := New(testConfig(), testSettings(), time.Hour, Deps{
		Adapter:   adapter,
		Scorer:    approveAll(),
		NewSource: func([]string, int64) SignalSource { return &fakeSource{} },
		Logger:    discardLogger(),
	})

	if err := eng.Start(context.Background()); err == nil {
		t.Fatal("start with a failing adapter should error")
	}
	if eng.State() != StateStopped {
		t.Fatalf("state after failed start = %s, want STOPPED", eng.State())
	}

	// The failed claim must be fully rolled back so the next attempt works.
	adapter.initErr = nil
	if err := eng.Start(context.Background()); err != nil {
		t.Fatalf("restart after failure: %v", err)
	}
	waitFor(t, "active", func() bool { return eng.State() == StateActive })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := eng.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
}

func TestEngineWaitsForFunding(t *testing.T) {
	adapter := newFakeAdapter()
	adapter.setBalance(0)

	eng := startTestEngine(t, testConfig(), adapter, approveAll(), &fakeSource{})

	waitFor(t, "funding wait", func() bool { return eng.State() == StateFundingWait })

	adapter.setBalance(100)
	waitFor(t, "active after funding", func() bool { return eng.State() == StateActive })
}

func TestEngineBuySignalOpensPosition(t *testing.T) {
	adapter := newFakeAdapter()
	src := &fakeSource{}
	eng := startTestEngine(t, testConfig(), adapter, approveAll(), src)
	waitFor(t, "active", func() bool { return eng.State() == StateActive })

	src.queue(buySignal("m1", "Yes", 40, 0.40))
	eng.Tick()

	waitFor(t, "position open", func() bool { return len(eng.Positions()) == 1 })

	order, ok := adapter.lastOrder()
	if !ok || order.Side != domain.OrderSideBuy || order.Notional != 40 {
		t.Fatalf("order = %+v ok=%v, want buy of 40", order, ok)
	}

	pos := eng.Positions()[0]
	if !approx(pos.Shares, 100) || pos.EntryPrice != 0.40 {
		t.Errorf("position = %+v, want 100 shares at 0.40", pos)
	}

	waitFor(t, "stats", func() bool {
		stats := eng.Stats()
		return stats.TradeCount == 1 && stats.Volume == 40
	})
	stats := eng.Stats()
	if !approx(stats.PortfolioValue, stats.CashBalance+40) {
		t.Errorf("portfolio value %v != cash %v + open value 40", stats.PortfolioValue, stats.CashBalance)
	}
}

func TestEngineDuplicateBuySkipped(t *testing.T) {
	adapter := newFakeAdapter()
	src := &fakeSource{}
	eng := startTestEngine(t, testConfig(), adapter, approveAll(), src)
	waitFor(t, "active", func() bool { return eng.State() == StateActive })

	first := buySignal("m1", "Yes", 40, 0.40)
	second := buySignal("m1", "Yes", 60, 0.42)
	second.TradeID = "trade-m1-Yes-2"
	src.queue(first, second)
	eng.Tick()

	// A later open in another market confirms the whole batch was drained.
	src.queue(buySignal("m2", "Yes", 20, 0.50))
	eng.Tick()
	waitFor(t, "both markets open", func() bool { return len(eng.Positions()) == 2 })

	if n := adapter.orderCount(); n != 2 {
		t.Errorf("orders = %d, want 2 (duplicate open rejected)", n)
	}
	pos, _ := eng.ledger.Get("m1", "Yes")
	if pos.EntryPrice != 0.40 {
		t.Errorf("m1 entry = %v, want the first signal's 0.40", pos.EntryPrice)
	}
}

func TestEngineSellRealizesPnL(t *testing.T) {
	adapter := newFakeAdapter()
	src := &fakeSource{}
	eng := startTestEngine(t, testConfig(), adapter, approveAll(), src)
	waitFor(t, "active", func() bool { return eng.State() == StateActive })

	src.queue(buySignal("m1", "Yes", 40, 0.40))
	eng.Tick()
	waitFor(t, "position open", func() bool { return len(eng.Positions()) == 1 })

	src.queue(sellSignal("m1", "Yes", 0.50))
	eng.Tick()
	waitFor(t, "position closed", func() bool { return len(eng.Positions()) == 0 })

	// Sold 100 shares at 0.50 against a 0.40 entry.
	waitFor(t, "realized pnl", func() bool { return approx(eng.Stats().RealizedPnL, 10) })
	stats := eng.Stats()
	if stats.Wins != 1 || stats.Losses != 0 {
		t.Errorf("wins/losses = %d/%d, want 1/0", stats.Wins, stats.Losses)
	}
	if stats.TradeCount != 2 {
		t.Errorf("trade count = %d, want 2", stats.TradeCount)
	}
}

func TestEnginePartialSellKeepsResidue(t *testing.T) {
	adapter := newFakeAdapter()
	src := &fakeSource{}
	eng := startTestEngine(t, testConfig(), adapter, approveAll(), src)
	waitFor(t, "active", func() bool { return eng.State() == StateActive })

	src.queue(buySignal("m1", "Yes", 40, 0.40))
	eng.Tick()
	waitFor(t, "position open", func() bool { return len(eng.Positions()) == 1 })

	// The venue fills only half of the requested exit.
	adapter.setOutcome(&domain.OrderOutcome{
		Status:         domain.ExecPartial,
		OrderID:        "order-2",
		FilledNotional: 25,
		FilledShares:   50,
		AvgPrice:       0.50,
		TxRef:          "0xtx2",
	})
	src.queue(sellSignal("m1", "Yes", 0.50))
	eng.Tick()

	// Sold 50 of 100 shares at 0.50 against a 0.40 entry.
	waitFor(t, "realized pnl", func() bool { return approx(eng.Stats().RealizedPnL, 5) })

	positions := eng.Positions()
	if len(positions) != 1 {
		t.Fatalf("positions after partial exit = %d, want the residue to stay", len(positions))
	}
	pos := positions[0]
	if !approx(pos.Shares, 50) || pos.EntryPrice != 0.40 {
		t.Errorf("residue = %+v, want 50 shares at the 0.40 entry", pos)
	}
	if !approx(pos.Invested, 20) {
		t.Errorf("residue invested = %v, want 20", pos.Invested)
	}

	stats := eng.Stats()
	if stats.Wins != 1 {
		t.Errorf("wins = %d, want 1", stats.Wins)
	}
	if stats.TradeCount != 2 {
		t.Errorf("trade count = %d, want 2", stats.TradeCount)
	}
}

func TestEngineUpdateConfigKeepsCursor(t *testing.T) {
	adapter := newFakeAdapter()
	src := &fakeSource{}
	eng := startTestEngine(t, testConfig(), adapter, approveAll(), src)
	waitFor(t, "active", func() bool { return eng.State() == StateActive })

	src.queue(buySignal("m1", "Yes", 40, 0.40))
	eng.Tick()
	waitFor(t, "signal processed", func() bool { return len(eng.Positions()) == 1 })
	cursorBefore := eng.Cursor()

	wallets := []string{"0xwhale", "0xother"}
	mult := 2.5
	err := eng.UpdateConfig(context.Background(), domain.ConfigUpdate{
		TargetWallets: &wallets,
		Multiplier:    &mult,
	})
	if err != nil {
		t.Fatalf("update config: %v", err)
	}

	cfg := eng.Config()
	if cfg.Multiplier != 2.5 || len(cfg.TargetWallets) != 2 {
		t.Errorf("config not applied: %+v", cfg)
	}
	if src.updateCount() != 1 {
		t.Errorf("source updates = %d, want 1", src.updateCount())
	}
	if eng.Cursor() != cursorBefore {
		t.Errorf("cursor changed across config update: %d != %d", eng.Cursor(), cursorBefore)
	}
}

func TestEngineStartCursorReachesSource(t *testing.T) {
	adapter := newFakeAdapter()
	var gotCursor int64

	cfg := testConfig()
	cfg.StartCursor = 12345

	eng := New(cfg, testSettings(), time.Hour, Deps{
		Adapter: adapter,
		Scorer:  approveAll(),
		NewSource: func(wallets []string, cursor int64) SignalSource {
			gotCursor = cursor
			return &fakeSource{cursor: cursor}
		},
		Logger: discardLogger(),
	})
	if err := eng.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = eng.Stop(ctx)
	}()

	waitFor(t, "active", func() bool { return eng.State() == StateActive })
	if gotCursor != 12345 {
		t.Errorf("source cursor = %d, want configured 12345", gotCursor)
	}
}

func TestEngineEmergencySell(t *testing.T) {
	adapter := newFakeAdapter()
	src := &fakeSource{}
	eng := startTestEngine(t, testConfig(), adapter, approveAll(), src)
	waitFor(t, "active", func() bool { return eng.State() == StateActive })

	if err := eng.EmergencySell(context.Background(), "m1", "Yes"); !errors.Is(err, domain.ErrNoPosition) {
		t.Errorf("emergency sell without position: %v, want ErrNoPosition", err)
	}

	src.queue(buySignal("m1", "Yes", 40, 0.40))
	eng.Tick()
	waitFor(t, "position open", func() bool { return len(eng.Positions()) == 1 })

	if err := eng.EmergencySell(context.Background(), "m1", "Yes"); err != nil {
		t.Fatalf("emergency sell: %v", err)
	}
	if len(eng.Positions()) != 0 {
		t.Error("position should be gone after emergency sell")
	}
	order, _ := adapter.lastOrder()
	if order.Side != domain.OrderSideSell {
		t.Errorf("last order side = %s, want sell", order.Side)
	}
}

func TestEngineWatchdogTakeProfitExit(t *testing.T) {
	adapter := newFakeAdapter()
	adapter.setPrice(0.40)
	src := &fakeSource{}

	tp := 0.10
	cfg := testConfig()
	cfg.TakeProfitPct = &tp

	eng := startTestEngine(t, cfg, adapter, approveAll(), src)
	waitFor(t, "active", func() bool { return eng.State() == StateActive })

	src.queue(buySignal("m1", "Yes", 40, 0.40))
	eng.Tick()
	waitFor(t, "position open", func() bool { return len(eng.Positions()) == 1 })

	// Below threshold: the watchdog leaves the position alone.
	adapter.setPrice(0.43)
	time.Sleep(4 * testSettings().WatchdogInterval)
	if len(eng.Positions()) != 1 {
		t.Fatal("position closed below the take-profit threshold")
	}

	// Past threshold: the watchdog force-exits.
	adapter.setPrice(0.45)
	waitFor(t, "watchdog exit", func() bool { return len(eng.Positions()) == 0 })

	order, _ := adapter.lastOrder()
	if order.Side != domain.OrderSideSell || order.Price != 0.45 {
		t.Errorf("exit order = %+v, want sell at 0.45", order)
	}
	waitFor(t, "realized pnl from exit", func() bool { return approx(eng.Stats().RealizedPnL, 5) })
}

func TestEngineStopIsCooperative(t *testing.T) {
	adapter := newFakeAdapter()
	src := &fakeSource{}
	eng := startTestEngine(t, testConfig(), adapter, approveAll(), src)
	waitFor(t, "active", func() bool { return eng.State() == StateActive })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := eng.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if eng.State() != StateStopped {
		t.Errorf("state = %s, want STOPPED", eng.State())
	}

	// Stopping twice is a no-op.
	if err := eng.Stop(ctx); err != nil {
		t.Errorf("second stop: %v", err)
	}

	// Control calls against a stopped engine fail cleanly.
	if err := eng.SyncPositions(context.Background(), true); !errors.Is(err, domain.ErrNotRunning) {
		t.Errorf("sync on stopped engine: %v, want ErrNotRunning", err)
	}
}
