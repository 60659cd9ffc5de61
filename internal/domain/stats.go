package domain

import "time"

// UserStats are the rolling aggregates one engine maintains for its user.
// They are mutated only by the engine after a trade or reconciliation
// completes; external readers receive copies through the callbacks.
type UserStats struct {
	UserID           string
	RealizedPnL      float64
	Volume           float64
	TradeCount       int
	Wins             int
	Losses           int
	CashBalance      float64
	PortfolioValue   float64 // CashBalance + Σ shares × lastPrice
	AllowanceGranted bool
	UpdatedAt        time.Time
}

// RecordTrade folds one executed trade into the aggregates. realized is nil
// for an opening BUY and set for a closing SELL.
func (s *UserStats) RecordTrade(notional float64, realized *float64) {
	s.TradeCount++
	s.Volume += notional
	if realized != nil {
		s.RealizedPnL += *realized
		if *realized >= 0 {
			s.Wins++
		} else {
			s.Losses++
		}
	}
	s.UpdatedAt = time.Now().UTC()
}
