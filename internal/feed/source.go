// Package feed produces trade signals for the engines: a per-user polling
// source over the venue's wallet trade feed, and a venue-wide websocket
// feed the scheduler broadcasts to listeners.
package feed

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/alanyoungcy/copytraderbot/internal/domain"
)

// seenCap bounds the dedup set. Old entries are evicted in insertion order
// once the cap is reached.
const seenCap = 4096

// Source yields a restartable, time-ordered sequence of trade signals for
// one user's target wallets. Poll is cheap to call often: an internal rate
// limiter paces the actual venue queries, so the scheduler can grant poll
// opportunities faster than the configured interval without increasing
// venue load.
type Source struct {
	feed   domain.WalletTradeFeed
	logger *slog.Logger
	pacer  *rate.Limiter

	mu      sync.Mutex
	wallets []string
	cursor  int64
	seen    map[string]struct{}
	order   []string
}

// NewSource creates a Source. cursor is the Unix-seconds resume point;
// signals observed before it are never yielded. pollInterval paces venue
// queries.
func NewSource(feed domain.WalletTradeFeed, wallets []string, cursor int64, pollInterval time.Duration, logger *slog.Logger) *Source {
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	return &Source{
		feed:    feed,
		logger:  logger.With(slog.String("component", "signal_source")),
		pacer:   rate.NewLimiter(rate.Every(pollInterval), 1),
		wallets: append([]string(nil), wallets...),
		cursor:  cursor,
		seen:    make(map[string]struct{}),
	}
}

// Poll returns the next batch of unseen signals in observation order. It
// returns nil both when paced out and when the venue query fails; a
// transient venue error skips the cycle rather than terminating the
// sequence.
func (s *Source) Poll(ctx context.Context) []domain.TradeSignal {
	if !s.pacer.Allow() {
		return nil
	}

	s.mu.Lock()
	wallets := append([]string(nil), s.wallets...)
	cursor := s.cursor
	s.mu.Unlock()

	if len(wallets) == 0 {
		return nil
	}

	trades, err := s.feed.TradesSince(ctx, wallets, cursor)
	if err != nil {
		s.logger.WarnContext(ctx, "poll failed, skipping cycle", slog.Any("error", err))
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.TradeSignal
	for _, sig := range trades {
		if sig.Cursor() < s.cursor {
			continue
		}
		if _, dup := s.seen[sig.TradeID]; dup {
			continue
		}
		s.remember(sig.TradeID)
		if sig.Cursor() > s.cursor {
			s.cursor = sig.Cursor()
		}
		out = append(out, sig)
	}
	return out
}

// UpdateTargets replaces the watched wallet set without losing the cursor.
func (s *Source) UpdateTargets(wallets []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.wallets = append([]string(nil), wallets...)
}

// Cursor returns the current resume point.
func (s *Source) Cursor() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor
}

// remember adds a trade ID to the dedup set, evicting the oldest entry
// when full. Caller holds s.mu.
func (s *Source) remember(tradeID string) {
	if len(s.order) >= seenCap {
		delete(s.seen, s.order[0])
		s.order = s.order[1:]
	}
	s.seen[tradeID] = struct{}{}
	s.order = append(s.order, tradeID)
}
