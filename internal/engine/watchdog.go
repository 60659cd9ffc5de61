package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/alanyoungcy/copytraderbot/internal/domain"
)

// priceFreshness is how recent a cached price must be for the watchdog to
// trust it without hitting the venue.
const priceFreshness = 30 * time.Second

// ExitDecision is one position the watchdog wants closed, at the price that
// crossed the threshold.
type ExitDecision struct {
	Position domain.Position
	Price    float64
}

// Watchdog inspects open positions on a timer and picks out those whose
// unrealized gain crossed the take-profit threshold, plus those whose
// market has resolved. It decides; the engine executes, so all ledger
// mutation stays on the engine loop.
type Watchdog struct {
	adapter domain.ExchangeAdapter
	prices  domain.PriceCache
	logger  *slog.Logger
}

// NewWatchdog creates a Watchdog. prices may be nil, in which case every
// inspection hits the venue.
func NewWatchdog(adapter domain.ExchangeAdapter, prices domain.PriceCache, logger *slog.Logger) *Watchdog {
	return &Watchdog{
		adapter: adapter,
		prices:  prices,
		logger:  logger.With(slog.String("component", "watchdog")),
	}
}

// Inspect re-prices the given positions and returns the take-profit exits
// and the resolved positions. threshold <= 0 disables take-profit exits;
// repricing and resolution detection still run. Per-position errors are
// swallowed so one bad price feed does not block the rest of the pass.
func (w *Watchdog) Inspect(ctx context.Context, positions []domain.Position, threshold float64) (exits []ExitDecision, resolved []domain.Position) {
	for _, pos := range positions {
		if pos.Meta.Resolved {
			resolved = append(resolved, pos)
			continue
		}

		price, err := w.currentPrice(ctx, pos)
		if err != nil {
			w.logger.WarnContext(ctx, "price fetch failed",
				slog.String("market_id", pos.MarketID),
				slog.Any("error", err),
			)
			continue
		}
		if price <= 0 || pos.EntryPrice <= 0 {
			continue
		}

		if threshold > 0 {
			gain := (price - pos.EntryPrice) / pos.EntryPrice
			if gain >= threshold {
				exits = append(exits, ExitDecision{Position: pos, Price: price})
			}
		}
	}
	return exits, resolved
}

// currentPrice prefers a fresh cached price over a venue round trip and
// refreshes the cache after a venue fetch.
func (w *Watchdog) currentPrice(ctx context.Context, pos domain.Position) (float64, error) {
	if w.prices != nil {
		if price, ts, err := w.prices.GetPrice(ctx, pos.TokenID); err == nil && time.Since(ts) < priceFreshness {
			return price, nil
		}
	}

	price, err := w.adapter.GetMarketPrice(ctx, pos.MarketID, pos.TokenID)
	if err != nil {
		return 0, err
	}
	if w.prices != nil {
		if err := w.prices.SetPrice(ctx, pos.TokenID, price, time.Now()); err != nil {
			w.logger.WarnContext(ctx, "price cache write failed", slog.Any("error", err))
		}
	}
	return price, nil
}
