package domain

import "time"

// MarketMeta is best-effort display metadata fetched from the venue's
// metadata API. All fields may be empty; enrichment failure never blocks
// trade execution.
type MarketMeta struct {
	Title      string
	Image      string
	MarketSlug string
	EventSlug  string
	Resolved   bool
}

// Position is one open exposure tracked by an engine's ledger. Exactly one
// live Position exists per (market, outcome) per user; the execution gate
// enforces the invariant by rejecting duplicate opens.
type Position struct {
	ID            string
	MarketID      string
	TokenID       string
	Outcome       string
	EntryPrice    float64
	Shares        float64
	Invested      float64 // USD notional paid at entry
	LastPrice     float64 // refreshed on each reconciliation pass
	UnrealizedPnL float64
	UnrealizedPct float64
	Meta          MarketMeta
	OpenedAt      time.Time
}

// Key identifies the (market, outcome) slot this position occupies.
func (p Position) Key() string {
	return p.MarketID + "|" + p.Outcome
}

// Value returns the current mark-to-market USD value of the position.
func (p Position) Value() float64 {
	return p.Shares * p.LastPrice
}

// Reprice updates the last observed price and the derived unrealized P&L.
func (p *Position) Reprice(price float64) {
	p.LastPrice = price
	p.UnrealizedPnL = (price - p.EntryPrice) * p.Shares
	if p.EntryPrice > 0 {
		p.UnrealizedPct = (price - p.EntryPrice) / p.EntryPrice
	}
}

// VenuePosition is the venue's authoritative view of an on-chain holding,
// used by hard reconciliation to rebuild the ledger after a crash.
type VenuePosition struct {
	MarketID   string
	TokenID    string
	Outcome    string
	Shares     float64
	AvgPrice   float64
	CurPrice   float64
	Title      string
	Image      string
	MarketSlug string
	EventSlug  string
	Redeemable bool
}

// PriceLevel is one side level of an order book.
type PriceLevel struct {
	Price float64
	Size  float64
}

// OrderBook is a snapshot of the venue book for one outcome token.
type OrderBook struct {
	TokenID string
	Bids    []PriceLevel // best bid first
	Asks    []PriceLevel // best ask first
}

// BestBid returns the highest bid price, or 0 when the book is empty.
func (b OrderBook) BestBid() float64 {
	if len(b.Bids) == 0 {
		return 0
	}
	return b.Bids[0].Price
}

// BestAsk returns the lowest ask price, or 0 when the book is empty.
func (b OrderBook) BestAsk() float64 {
	if len(b.Asks) == 0 {
		return 0
	}
	return b.Asks[0].Price
}
