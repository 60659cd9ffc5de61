package domain

import "time"

// TradeStatus tracks the lifecycle of a persisted trade record.
type TradeStatus string

const (
	TradeStatusOpen   TradeStatus = "open"
	TradeStatusClosed TradeStatus = "closed"
)

// TradeRecord is the persistent receipt for one copied trade. A record is
// created open on a filled BUY and closed on the matching filled SELL
// (signal-driven, manual, or watchdog-driven).
type TradeRecord struct {
	ID           string
	UserID       string
	MarketID     string
	TokenID      string
	Outcome      string
	Side         OrderSide
	Notional     float64
	Shares       float64
	Price        float64
	SourceTrader string
	TxRef        string
	Title        string
	Status       TradeStatus
	RealizedPnL  *float64
	ExitPrice    *float64
	CreatedAt    time.Time
	ClosedAt     *time.Time
}

// CashoutRecord is the immutable receipt emitted when the fund sweep
// withdraws surplus cash to the user's destination address.
type CashoutRecord struct {
	ID          string
	UserID      string
	Amount      float64
	Destination string
	TxRef       string
	CreatedAt   time.Time
}

// FeeDistributionEvent is the immutable receipt emitted when a share of
// realized profit is paid out after a profitable close.
type FeeDistributionEvent struct {
	ID        string
	UserID    string
	TradeID   string
	Amount    float64
	CreatedAt time.Time
}
