package domain

import "time"

// OrderSide indicates whether a trade buys or sells outcome tokens.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// TradeSignal is a venue trade observed for one of a user's target wallets.
// Signals are immutable: the signal source produces them in observation
// order and the engine consumes each exactly once.
type TradeSignal struct {
	TradeID    string // venue trade / transaction reference, used for dedup
	MarketID   string
	TokenID    string
	Outcome    string // outcome label, e.g. "Yes"
	Side       OrderSide
	Notional   float64 // USD size of the observed trade
	Price      float64 // fill price of the observed trade
	Trader     string  // source wallet that made the trade
	ObservedAt time.Time
}

// Cursor returns the Unix-seconds resume point a follower should persist
// after processing this signal.
func (s TradeSignal) Cursor() int64 {
	return s.ObservedAt.Unix()
}

// ExecStatus classifies the outcome of acting on a signal.
type ExecStatus string

const (
	ExecFilled  ExecStatus = "filled"
	ExecPartial ExecStatus = "partial"
	ExecSkipped ExecStatus = "skipped"
	ExecFailed  ExecStatus = "failed"
)

// ExecutionResult is the structured outcome of the execution gate for one
// signal. The caller never retries a failed result; a later signal
// supersedes it.
type ExecutionResult struct {
	Status   ExecStatus
	Notional float64 // executed USD notional
	Shares   float64 // executed share count
	Price    float64 // average fill price
	TxRef    string  // venue order/transaction reference, if any
	Reason   string  // skip or failure reason
	Score    float64 // advisory score, when the scorer was consulted
}
