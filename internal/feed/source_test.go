package feed

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alanyoungcy/copytraderbot/internal/domain"
)

type fakeTradeFeed struct {
	mu     sync.Mutex
	trades []domain.TradeSignal
	err    error
	calls  []int64
}

func (f *fakeTradeFeed) TradesSince(ctx context.Context, wallets []string, since int64) ([]domain.TradeSignal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, since)
	if f.err != nil {
		return nil, f.err
	}
	var out []domain.TradeSignal
	for _, t := range f.trades {
		if t.Cursor() >= since {
			out = append(out, t)
		}
	}
	return out, nil
}

func sig(id string, observed int64) domain.TradeSignal {
	return domain.TradeSignal{
		TradeID:    id,
		MarketID:   "m1",
		TokenID:    "t1",
		Outcome:    "Yes",
		Side:       domain.OrderSideBuy,
		Notional:   10,
		Price:      0.5,
		Trader:     "0xwhale",
		ObservedAt: time.Unix(observed, 0),
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestSource(f *fakeTradeFeed, cursor int64) *Source {
	return NewSource(f, []string{"0xwhale"}, cursor, time.Millisecond, testLogger())
}

func TestSourceYieldsNewSignalsAndAdvancesCursor(t *testing.T) {
	feed := &fakeTradeFeed{trades: []domain.TradeSignal{
		sig("a", 100), sig("b", 105), sig("c", 110),
	}}
	src := newTestSource(feed, 100)

	got := src.Poll(context.Background())
	if len(got) != 3 {
		t.Fatalf("poll yielded %d signals, want 3", len(got))
	}
	if src.Cursor() != 110 {
		t.Errorf("cursor = %d, want 110", src.Cursor())
	}
}

func TestSourceFiltersBeforeCursor(t *testing.T) {
	feed := &fakeTradeFeed{trades: []domain.TradeSignal{
		sig("old", 50), sig("new", 200),
	}}
	src := newTestSource(feed, 100)

	got := src.Poll(context.Background())
	if len(got) != 1 || got[0].TradeID != "new" {
		t.Fatalf("poll = %v, want just the new signal", got)
	}
}

func TestSourceDeduplicates(t *testing.T) {
	feed := &fakeTradeFeed{trades: []domain.TradeSignal{sig("a", 100)}}
	src := newTestSource(feed, 100)

	if got := src.Poll(context.Background()); len(got) != 1 {
		t.Fatalf("first poll = %d signals, want 1", len(got))
	}

	// The same trade sits exactly at the advanced cursor; the dedup set
	// must swallow it on the next cycle.
	time.Sleep(5 * time.Millisecond)
	if got := src.Poll(context.Background()); len(got) != 0 {
		t.Fatalf("second poll = %d signals, want 0", len(got))
	}
}

func TestSourcePacesVenueQueries(t *testing.T) {
	feed := &fakeTradeFeed{}
	src := NewSource(feed, []string{"0xwhale"}, 100, time.Hour, testLogger())

	src.Poll(context.Background())
	src.Poll(context.Background())
	src.Poll(context.Background())

	feed.mu.Lock()
	calls := len(feed.calls)
	feed.mu.Unlock()
	if calls != 1 {
		t.Errorf("venue queried %d times, want 1 within the pacing window", calls)
	}
}

func TestSourceSkipsCycleOnFeedError(t *testing.T) {
	feed := &fakeTradeFeed{err: errors.New("venue down")}
	src := newTestSource(feed, 100)

	if got := src.Poll(context.Background()); got != nil {
		t.Fatalf("poll = %v, want nil on feed error", got)
	}
	if src.Cursor() != 100 {
		t.Errorf("cursor moved on a failed cycle: %d", src.Cursor())
	}
}

func TestSourceUpdateTargetsKeepsCursor(t *testing.T) {
	feed := &fakeTradeFeed{trades: []domain.TradeSignal{sig("a", 150)}}
	src := newTestSource(feed, 100)

	src.Poll(context.Background())
	if src.Cursor() != 150 {
		t.Fatalf("cursor = %d, want 150", src.Cursor())
	}

	src.UpdateTargets([]string{"0xwhale", "0xother"})
	if src.Cursor() != 150 {
		t.Errorf("cursor = %d after target update, want unchanged 150", src.Cursor())
	}
}

func TestSourceEmptyWalletsYieldsNothing(t *testing.T) {
	feed := &fakeTradeFeed{trades: []domain.TradeSignal{sig("a", 100)}}
	src := NewSource(feed, nil, 100, time.Millisecond, testLogger())

	if got := src.Poll(context.Background()); got != nil {
		t.Fatalf("poll = %v, want nil with no wallets", got)
	}
	feed.mu.Lock()
	defer feed.mu.Unlock()
	if len(feed.calls) != 0 {
		t.Error("venue must not be queried with no wallets")
	}
}
