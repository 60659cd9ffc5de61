package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and time filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// EngineConfigStore persists per-user engine configurations. The host reads
// enabled configs at startup to rebuild engines after a crash.
type EngineConfigStore interface {
	Upsert(ctx context.Context, cfg EngineConfig) error
	Get(ctx context.Context, userID string) (EngineConfig, error)
	ListEnabled(ctx context.Context) ([]EngineConfig, error)
	SetEnabled(ctx context.Context, userID string, enabled bool) error
}

// TradeRecordStore persists trade receipts.
type TradeRecordStore interface {
	Create(ctx context.Context, rec TradeRecord) error
	Close(ctx context.Context, id string, exitPrice, realizedPnL float64, closedAt time.Time) error
	GetOpenByMarket(ctx context.Context, userID, marketID, outcome string) (TradeRecord, error)
	ListByUser(ctx context.Context, userID string, opts ListOpts) ([]TradeRecord, error)
	// LastTimestamp returns the observation time of the user's most recent
	// record, used to derive the crash-resume cursor.
	LastTimestamp(ctx context.Context, userID string) (time.Time, error)
	// ListClosedBefore returns closed records older than the cutoff, for
	// archival to blob storage.
	ListClosedBefore(ctx context.Context, cutoff time.Time, limit int) ([]TradeRecord, error)
	DeleteByIDs(ctx context.Context, ids []string) error
}

// CashoutStore persists sweep and fee-distribution receipts, append-only.
type CashoutStore interface {
	InsertCashout(ctx context.Context, rec CashoutRecord) error
	InsertFeeEvent(ctx context.Context, evt FeeDistributionEvent) error
	ListCashouts(ctx context.Context, userID string, opts ListOpts) ([]CashoutRecord, error)
}

// StatsStore persists the rolling per-user aggregates.
type StatsStore interface {
	Upsert(ctx context.Context, stats UserStats) error
	Get(ctx context.Context, userID string) (UserStats, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	UserID    string
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log of engine decisions.
type AuditStore interface {
	Log(ctx context.Context, userID, event string, detail map[string]any) error
	List(ctx context.Context, userID string, opts ListOpts) ([]AuditEntry, error)
}
