package polymarket

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
)

// tradeFeedServer serves a fixed newest-first trade history, sliced by the
// limit/offset parameters the way the venue's data API does.
type tradeFeedServer struct {
	mu       sync.Mutex
	trades   []apiTrade
	requests int
}

func newTradeFeedServer(newest, count int64) *tradeFeedServer {
	s := &tradeFeedServer{}
	for i := int64(0); i < count; i++ {
		ts := newest - i
		s.trades = append(s.trades, apiTrade{
			TransactionHash: fmt.Sprintf("0xtrade-%d", ts),
			ProxyWallet:     "0xwhale",
			ConditionID:     "m1",
			Asset:           "token-1",
			Outcome:         "Yes",
			Side:            "BUY",
			Size:            10,
			Price:           0.5,
			Timestamp:       ts,
		})
	}
	return s
}

func (s *tradeFeedServer) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.requests++
		s.mu.Unlock()

		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
		if offset > len(s.trades) {
			offset = len(s.trades)
		}
		end := offset + limit
		if end > len(s.trades) {
			end = len(s.trades)
		}
		_ = json.NewEncoder(w).Encode(s.trades[offset:end])
	}
}

func (s *tradeFeedServer) requestCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests
}

func TestTradesSincePagesUntilCursorCrossed(t *testing.T) {
	// 250 trades one second apart, newest at t=1000. A cursor of 801 spans
	// exactly two full pages, so the client must fetch a third to see the
	// history cross the cursor.
	feed := newTradeFeedServer(1000, 250)
	srv := httptest.NewServer(feed.handler())
	defer srv.Close()

	client := NewDataClient(srv.URL)
	signals, err := client.TradesSince(context.Background(), []string{"0xwhale"}, 801)
	if err != nil {
		t.Fatalf("trades since: %v", err)
	}

	if len(signals) != 200 {
		t.Fatalf("signals = %d, want all 200 at or after the cursor", len(signals))
	}
	if got := signals[0].ObservedAt.Unix(); got != 801 {
		t.Errorf("first signal at %d, want oldest-first from 801", got)
	}
	if got := signals[len(signals)-1].ObservedAt.Unix(); got != 1000 {
		t.Errorf("last signal at %d, want 1000", got)
	}
	if n := feed.requestCount(); n != 3 {
		t.Errorf("requests = %d, want paging to stop after crossing the cursor", n)
	}
}

func TestTradesSinceStopsOnShortPage(t *testing.T) {
	// Fewer trades than one page and none older than the cursor: a single
	// short page ends the walk.
	feed := newTradeFeedServer(1000, 30)
	srv := httptest.NewServer(feed.handler())
	defer srv.Close()

	client := NewDataClient(srv.URL)
	signals, err := client.TradesSince(context.Background(), []string{"0xwhale"}, 0)
	if err != nil {
		t.Fatalf("trades since: %v", err)
	}

	if len(signals) != 30 {
		t.Errorf("signals = %d, want 30", len(signals))
	}
	if n := feed.requestCount(); n != 1 {
		t.Errorf("requests = %d, want 1", n)
	}
}

func TestTradesSinceFirstPageContainsCursor(t *testing.T) {
	feed := newTradeFeedServer(1000, 250)
	srv := httptest.NewServer(feed.handler())
	defer srv.Close()

	client := NewDataClient(srv.URL)
	signals, err := client.TradesSince(context.Background(), []string{"0xwhale"}, 951)
	if err != nil {
		t.Fatalf("trades since: %v", err)
	}

	if len(signals) != 50 {
		t.Errorf("signals = %d, want the 50 at or after 951", len(signals))
	}
	if n := feed.requestCount(); n != 1 {
		t.Errorf("requests = %d, want 1 once the first page crosses", n)
	}
}

func TestTradesSinceNoWallets(t *testing.T) {
	client := NewDataClient("http://unused.invalid")
	signals, err := client.TradesSince(context.Background(), nil, 0)
	if err != nil {
		t.Fatalf("trades since: %v", err)
	}
	if signals != nil {
		t.Errorf("signals = %v, want none without target wallets", signals)
	}
}
