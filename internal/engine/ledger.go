package engine

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/copytraderbot/internal/domain"
)

// Ledger is one engine's in-memory table of open positions, keyed by
// (market, outcome). All mutation happens on the engine's loop goroutine;
// the lock exists so accessors can take consistent snapshots from other
// goroutines.
type Ledger struct {
	mu        sync.RWMutex
	positions map[string]domain.Position

	lastHardSync time.Time
	throttle     time.Duration
}

// NewLedger creates an empty Ledger. throttle bounds how often a non-forced
// hard reconciliation may run.
func NewLedger(throttle time.Duration) *Ledger {
	return &Ledger{
		positions: make(map[string]domain.Position),
		throttle:  throttle,
	}
}

func posKey(marketID, outcome string) string {
	return marketID + "|" + outcome
}

// Get returns the open position for a (market, outcome) slot.
func (l *Ledger) Get(marketID, outcome string) (domain.Position, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	pos, ok := l.positions[posKey(marketID, outcome)]
	return pos, ok
}

// Put stores a position. Putting into an occupied slot overwrites it; the
// execution gate rejects duplicate opens before this point.
func (l *Ledger) Put(pos domain.Position) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.positions[pos.Key()] = pos
}

// Remove drops the position for a (market, outcome) slot.
func (l *Ledger) Remove(marketID, outcome string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.positions, posKey(marketID, outcome))
}

// Len returns the number of open positions.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.positions)
}

// Snapshot returns a copy of all open positions, oldest first.
func (l *Ledger) Snapshot() []domain.Position {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]domain.Position, 0, len(l.positions))
	for _, pos := range l.positions {
		out = append(out, pos)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].OpenedAt.Before(out[j].OpenedAt)
	})
	return out
}

// OpenValue returns the mark-to-market USD value of all open positions.
func (l *Ledger) OpenValue() float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var total float64
	for _, pos := range l.positions {
		total += pos.Value()
	}
	return total
}

// priceFn resolves the current price for one outcome token.
type priceFn func(ctx context.Context, marketID, tokenID string) (float64, error)

// SoftReconcile re-prices every tracked position. A failed price fetch
// leaves that position's stale price in place rather than aborting the
// pass.
func (l *Ledger) SoftReconcile(ctx context.Context, price priceFn) {
	for _, pos := range l.Snapshot() {
		p, err := price(ctx, pos.MarketID, pos.TokenID)
		if err != nil || p <= 0 {
			continue
		}

		l.mu.Lock()
		cur, ok := l.positions[pos.Key()]
		if ok {
			cur.Reprice(p)
			l.positions[pos.Key()] = cur
		}
		l.mu.Unlock()
	}
}

// HardReconcile replaces the whole ledger with the venue's authoritative
// position list. Unless forced, passes within the throttle window are
// skipped. This is the source of truth after a crash, since in-memory
// positions are lost on restart.
func (l *Ledger) HardReconcile(ctx context.Context, adapter domain.ExchangeAdapter, force bool) error {
	l.mu.Lock()
	if !force && time.Since(l.lastHardSync) < l.throttle {
		l.mu.Unlock()
		return nil
	}
	l.mu.Unlock()

	venuePositions, err := adapter.GetPositions(ctx, adapter.GetFunderAddress())
	if err != nil {
		return err
	}

	rebuilt := make(map[string]domain.Position, len(venuePositions))
	now := time.Now().UTC()
	for _, vp := range venuePositions {
		if vp.Shares <= 0 {
			continue
		}
		pos := domain.Position{
			ID:         uuid.New().String(),
			MarketID:   vp.MarketID,
			TokenID:    vp.TokenID,
			Outcome:    vp.Outcome,
			EntryPrice: vp.AvgPrice,
			Shares:     vp.Shares,
			Invested:   vp.AvgPrice * vp.Shares,
			Meta: domain.MarketMeta{
				Title:      vp.Title,
				Image:      vp.Image,
				MarketSlug: vp.MarketSlug,
				EventSlug:  vp.EventSlug,
				Resolved:   vp.Redeemable,
			},
			OpenedAt: now,
		}
		pos.Reprice(vp.CurPrice)

		// Keep the original open time and record identity when the slot
		// was already tracked.
		l.mu.RLock()
		if prev, ok := l.positions[pos.Key()]; ok {
			pos.ID = prev.ID
			pos.OpenedAt = prev.OpenedAt
			if pos.Meta.Title == "" {
				pos.Meta = prev.Meta
			}
		}
		l.mu.RUnlock()

		rebuilt[pos.Key()] = pos
	}

	l.mu.Lock()
	l.positions = rebuilt
	l.lastHardSync = time.Now()
	l.mu.Unlock()
	return nil
}
