package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/alanyoungcy/copytraderbot/internal/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// approx compares USD and share amounts that pass through float division.
func approx(a, b float64) bool {
	return math.Abs(a-b) < 1e-6
}

// fakeAdapter is an in-memory stand-in for the venue binding. Orders fill
// completely at the requested price unless orderErr or outcome is set.
type fakeAdapter struct {
	mu sync.Mutex

	balance   float64
	positions []domain.VenuePosition
	price     float64
	funder    string

	orders   []domain.OrderRequest
	orderErr error
	outcome  *domain.OrderOutcome

	initErr  error
	authErr  error
	initGate chan struct{}
}

func newFakeAdapter() *fakeAdapter {
	return &fakeAdapter{balance: 1000, price: 0.5, funder: "0xfunder"}
}

func (f *fakeAdapter) Initialize(ctx context.Context) error {
	if f.initGate != nil {
		<-f.initGate
	}
	return f.initErr
}
func (f *fakeAdapter) Authenticate(ctx context.Context) error { return f.authErr }

func (f *fakeAdapter) FetchBalance(ctx context.Context, address string) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.balance, nil
}

func (f *fakeAdapter) setBalance(v float64) {
	f.mu.Lock()
	f.balance = v
	f.mu.Unlock()
}

func (f *fakeAdapter) GetMarketPrice(ctx context.Context, marketID, tokenID string) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.price, nil
}

func (f *fakeAdapter) setPrice(v float64) {
	f.mu.Lock()
	f.price = v
	f.mu.Unlock()
}

func (f *fakeAdapter) GetOrderBook(ctx context.Context, tokenID string) (domain.OrderBook, error) {
	return domain.OrderBook{}, nil
}

func (f *fakeAdapter) GetPositions(ctx context.Context, address string) ([]domain.VenuePosition, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.VenuePosition(nil), f.positions...), nil
}

func (f *fakeAdapter) CreateOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderOutcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.orders = append(f.orders, req)
	if f.orderErr != nil {
		return domain.OrderOutcome{}, f.orderErr
	}
	if f.outcome != nil {
		return *f.outcome, nil
	}
	return domain.OrderOutcome{
		Status:         domain.ExecFilled,
		OrderID:        "order-1",
		FilledNotional: req.Notional,
		FilledShares:   req.Notional / req.Price,
		AvgPrice:       req.Price,
		TxRef:          "0xtx",
	}, nil
}

func (f *fakeAdapter) setOutcome(o *domain.OrderOutcome) {
	f.mu.Lock()
	f.outcome = o
	f.mu.Unlock()
}

func (f *fakeAdapter) orderCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.orders)
}

func (f *fakeAdapter) lastOrder() (domain.OrderRequest, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.orders) == 0 {
		return domain.OrderRequest{}, false
	}
	return f.orders[len(f.orders)-1], true
}

func (f *fakeAdapter) CancelOrder(ctx context.Context, orderID string) error { return nil }

func (f *fakeAdapter) RedeemPosition(ctx context.Context, marketID, tokenID string) (string, error) {
	return "0xredeem", nil
}

func (f *fakeAdapter) GetFunderAddress() string { return f.funder }

var _ domain.ExchangeAdapter = (*fakeAdapter)(nil)

// fakeScorer returns a fixed decision, or an error when err is set.
type fakeScorer struct {
	mu       sync.Mutex
	decision domain.Decision
	err      error
	requests []domain.ScoreRequest
}

func approveAll() *fakeScorer {
	return &fakeScorer{decision: domain.Decision{Approve: true, Score: 0.9}}
}

func (f *fakeScorer) Analyze(ctx context.Context, req domain.ScoreRequest) (domain.Decision, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.err != nil {
		return domain.Decision{}, f.err
	}
	return f.decision, nil
}

var _ domain.AdvisoryScorer = (*fakeScorer)(nil)

// fakeSource hands out queued signal batches, one batch per Poll.
type fakeSource struct {
	mu      sync.Mutex
	batches [][]domain.TradeSignal
	wallets []string
	cursor  int64
	updates [][]string
}

func (f *fakeSource) queue(sigs ...domain.TradeSignal) {
	f.mu.Lock()
	f.batches = append(f.batches, sigs)
	f.mu.Unlock()
}

func (f *fakeSource) Poll(ctx context.Context) []domain.TradeSignal {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.batches) == 0 {
		return nil
	}
	batch := f.batches[0]
	f.batches = f.batches[1:]
	for _, sig := range batch {
		if c := sig.Cursor(); c > f.cursor {
			f.cursor = c
		}
	}
	return batch
}

func (f *fakeSource) UpdateTargets(wallets []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.wallets = append([]string(nil), wallets...)
	f.updates = append(f.updates, f.wallets)
}

func (f *fakeSource) Cursor() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cursor
}

func (f *fakeSource) updateCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.updates)
}

var _ SignalSource = (*fakeSource)(nil)

var errScorerDown = errors.New("scorer down")

func testConfig() domain.EngineConfig {
	return domain.EngineConfig{
		UserID:           "user-1",
		TargetWallets:    []string{"0xwhale"},
		PrivateKey:       "deadbeef",
		FunderAddress:    "0xfunder",
		RiskProfile:      domain.RiskModerate,
		Multiplier:       1.0,
		MaxTradeNotional: 100,
		Enabled:          true,
	}
}

func testSettings() Settings {
	return Settings{
		MinFundingUSD:       1,
		FundingPollInterval: 5 * time.Millisecond,
		WatchdogInterval:    25 * time.Millisecond,
		SweepDebounce:       time.Hour,
		SoftReconcileMin:    time.Hour,
		EnrichTimeout:       10 * time.Millisecond,
	}
}

func buySignal(market, outcome string, notional, price float64) domain.TradeSignal {
	return domain.TradeSignal{
		TradeID:    "trade-" + market + "-" + outcome,
		MarketID:   market,
		TokenID:    "token-" + market,
		Outcome:    outcome,
		Side:       domain.OrderSideBuy,
		Notional:   notional,
		Price:      price,
		Trader:     "0xwhale",
		ObservedAt: time.Now(),
	}
}

func sellSignal(market, outcome string, price float64) domain.TradeSignal {
	sig := buySignal(market, outcome, 0, price)
	sig.TradeID = "sell-" + market + "-" + outcome
	sig.Side = domain.OrderSideSell
	return sig
}
