package domain

import (
	"context"
	"time"
)

// OrderRequest is the engine-side order instruction handed to the exchange
// adapter. Notional is in USD; the adapter derives share amounts from the
// limit price.
type OrderRequest struct {
	MarketID string
	TokenID  string
	Side     OrderSide
	Notional float64
	Price    float64 // limit price; 0 lets the adapter cross the book
}

// OrderOutcome is the adapter's structured result for one order attempt.
// Adapters return errors only for transport-level failures; venue rejections
// come back as Status values.
type OrderOutcome struct {
	Status         ExecStatus
	OrderID        string
	FilledNotional float64
	FilledShares   float64
	AvgPrice       float64
	TxRef          string
	Message        string
}

// ExchangeAdapter is the capability interface over one market venue. The
// engine treats it as an opaque, possibly-failing remote service: every
// method returns a structured result or an explicit error, never panics.
type ExchangeAdapter interface {
	// Initialize prepares the adapter binding (clients, credential load).
	Initialize(ctx context.Context) error
	// Authenticate performs the venue handshake (API key derivation).
	Authenticate(ctx context.Context) error
	FetchBalance(ctx context.Context, address string) (float64, error)
	GetMarketPrice(ctx context.Context, marketID, tokenID string) (float64, error)
	GetOrderBook(ctx context.Context, tokenID string) (OrderBook, error)
	GetPositions(ctx context.Context, address string) ([]VenuePosition, error)
	CreateOrder(ctx context.Context, req OrderRequest) (OrderOutcome, error)
	CancelOrder(ctx context.Context, orderID string) error
	RedeemPosition(ctx context.Context, marketID, tokenID string) (string, error)
	// GetFunderAddress returns the proxy wallet holding the user's funds.
	GetFunderAddress() string
}

// MarketEnricher fetches best-effort display metadata for a market.
// Implementations should bound the call with a short timeout; callers
// tolerate failure and fall back to empty metadata.
type MarketEnricher interface {
	GetMarketMeta(ctx context.Context, marketID string) (MarketMeta, error)
}

// WalletTradeFeed queries the venue for trades made by a set of wallets at
// or after the given Unix-seconds cursor, oldest first.
type WalletTradeFeed interface {
	TradesSince(ctx context.Context, wallets []string, since int64) ([]TradeSignal, error)
}

// Withdrawer moves settled cash off the venue to an external address and
// returns a transaction reference.
type Withdrawer interface {
	Withdraw(ctx context.Context, amount float64, destination string) (string, error)
}

// ScoreRequest carries the context the advisory scorer needs to judge one
// signal.
type ScoreRequest struct {
	MarketID    string
	TokenID     string
	Outcome     string
	Side        OrderSide
	Notional    float64
	Price       float64
	RiskProfile RiskProfile
}

// Decision is the advisory scorer's verdict.
type Decision struct {
	Approve bool
	Reason  string
	Score   float64
}

// AdvisoryScorer is the external risk-advisory component consulted before
// every dispatch. An error from Analyze is treated as a denial.
type AdvisoryScorer interface {
	Analyze(ctx context.Context, req ScoreRequest) (Decision, error)
}

// EngineCallbacks is the best-effort outbound surface toward the
// persistence and presentation layers. Implementations log their own
// failures; nothing propagates back into the engine's control flow, so the
// methods return no error.
type EngineCallbacks interface {
	OnPositionsUpdate(ctx context.Context, userID string, positions []Position)
	OnStatsUpdate(ctx context.Context, stats UserStats)
	OnTradeComplete(ctx context.Context, rec TradeRecord)
	OnCashout(ctx context.Context, rec CashoutRecord)
	OnFeePaid(ctx context.Context, evt FeeDistributionEvent)
}

// NopCallbacks discards every callback. Useful for tests and monitor mode.
type NopCallbacks struct{}

func (NopCallbacks) OnPositionsUpdate(context.Context, string, []Position) {}
func (NopCallbacks) OnStatsUpdate(context.Context, UserStats)              {}
func (NopCallbacks) OnTradeComplete(context.Context, TradeRecord)          {}
func (NopCallbacks) OnCashout(context.Context, CashoutRecord)              {}
func (NopCallbacks) OnFeePaid(context.Context, FeeDistributionEvent)       {}

// VenueTrade is one entry from the venue-wide (not user-specific) trade
// feed the scheduler broadcasts to registered listeners.
type VenueTrade struct {
	MarketID  string
	TokenID   string
	Side      OrderSide
	Price     float64
	Size      float64
	Timestamp time.Time
}
