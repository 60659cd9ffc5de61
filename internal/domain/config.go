// Package domain defines the core types shared by the copy-trading engine,
// the scheduler, and the infrastructure adapters. Types here carry no
// behaviour beyond small derived-value helpers; all mutation happens inside
// the owning engine.
package domain

import "time"

// RiskProfile selects how aggressively the advisory scorer judges signals
// for a user.
type RiskProfile string

const (
	RiskConservative RiskProfile = "conservative"
	RiskModerate     RiskProfile = "moderate"
	RiskAggressive   RiskProfile = "aggressive"
)

// CashoutPolicy controls the fund sweep service. When enabled, settled cash
// above RetentionCeiling is withdrawn to Destination on each sweep tick.
type CashoutPolicy struct {
	Enabled          bool
	RetentionCeiling float64 // USD kept on the venue
	Destination      string  // withdrawal address
}

// EngineConfig is the per-user configuration an Engine is built from. It is
// immutable at start and mutated only through Engine.UpdateConfig, which
// applies a ConfigUpdate on the engine's own goroutine.
type EngineConfig struct {
	UserID        string
	TargetWallets []string // wallets whose trades are copied

	// Venue credentials: either a raw hex key or a path to an encrypted
	// key file plus its password. Resolved by the key manager at start.
	PrivateKey       string
	EncryptedKeyPath string
	KeyPassword      string
	FunderAddress    string // proxy wallet holding the user's funds

	RiskProfile      RiskProfile
	Multiplier       float64  // copied notional = signal notional × Multiplier
	MaxTradeNotional float64  // hard USD cap per dispatched order
	TakeProfitPct    *float64 // e.g. 0.10 closes at +10%; nil disables
	Cashout          CashoutPolicy
	FeeShareBps      int // share of realized profit paid out as fees

	// StartCursor is the Unix-seconds resume point for the signal source.
	// Zero means "now": a fresh engine never replays historical trades.
	StartCursor int64

	Enabled   bool
	UpdatedAt time.Time
}

// ConfigUpdate is a partial EngineConfig change. Nil fields are left
// untouched. TakeProfitPct uses a double pointer so callers can distinguish
// "no change" (nil) from "disable take-profit" (pointer to nil).
type ConfigUpdate struct {
	TargetWallets    *[]string
	RiskProfile      *RiskProfile
	Multiplier       *float64
	MaxTradeNotional *float64
	TakeProfitPct    **float64
	Cashout          *CashoutPolicy
	FeeShareBps      *int
}

// Apply merges the update into cfg and returns the result.
func (u ConfigUpdate) Apply(cfg EngineConfig) EngineConfig {
	if u.TargetWallets != nil {
		cfg.TargetWallets = append([]string(nil), (*u.TargetWallets)...)
	}
	if u.RiskProfile != nil {
		cfg.RiskProfile = *u.RiskProfile
	}
	if u.Multiplier != nil {
		cfg.Multiplier = *u.Multiplier
	}
	if u.MaxTradeNotional != nil {
		cfg.MaxTradeNotional = *u.MaxTradeNotional
	}
	if u.TakeProfitPct != nil {
		cfg.TakeProfitPct = *u.TakeProfitPct
	}
	if u.Cashout != nil {
		cfg.Cashout = *u.Cashout
	}
	if u.FeeShareBps != nil {
		cfg.FeeShareBps = *u.FeeShareBps
	}
	cfg.UpdatedAt = time.Now().UTC()
	return cfg
}
