package domain

import (
	"context"
	"time"
)

// PriceCache provides fast access to the latest observed token prices,
// shared between the reconciliation passes and the watchdog.
type PriceCache interface {
	SetPrice(ctx context.Context, tokenID string, price float64, ts time.Time) error
	GetPrice(ctx context.Context, tokenID string) (float64, time.Time, error)
}

// CursorStore persists each user's signal resume cursor (Unix seconds) so
// an engine restarted after a crash never replays or skips a trade.
type CursorStore interface {
	SetCursor(ctx context.Context, userID string, cursor int64) error
	GetCursor(ctx context.Context, userID string) (int64, error)
}

// RateLimiter bounds the aggregate outbound call rate against the venue
// across all engines (and across process replicas when backed by Redis).
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// LockManager provides per-user execution locks. The host acquires one lock
// per engine so two replicas never run the same user concurrently.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// SignalBus fans engine events out to the presentation layer.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}
