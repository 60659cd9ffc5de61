// Package scheduler multiplexes polling work across every registered
// engine. Engines never poll on their own clock; the scheduler grants each
// one a tick in round-robin order so N users share the venue's rate budget
// fairly instead of multiplying it.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/copytraderbot/internal/domain"
	"github.com/alanyoungcy/copytraderbot/internal/engine"
)

// rateKey is the shared sliding-window bucket for outbound venue calls.
const rateKey = "venue"

// Config holds the scheduler's pacing parameters.
type Config struct {
	TickInterval    time.Duration
	VenueRateLimit  int
	VenueRateWindow time.Duration
}

// Scheduler owns the engine registry and the global tick loop.
type Scheduler struct {
	cfg     Config
	limiter domain.RateLimiter
	logger  *slog.Logger

	mu      sync.RWMutex
	engines map[string]*engine.Engine
	order   []string
	next    int
}

// New creates a Scheduler. limiter may be nil, in which case ticks are
// paced by TickInterval alone.
func New(cfg Config, limiter domain.RateLimiter, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		cfg:     cfg,
		limiter: limiter,
		logger:  logger.With(slog.String("component", "scheduler")),
		engines: make(map[string]*engine.Engine),
	}
}

// Register adds an engine to the rotation. Re-registering a user replaces
// the previous engine without disturbing the rotation order.
func (s *Scheduler) Register(userID string, eng *engine.Engine) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.engines[userID]; !ok {
		s.order = append(s.order, userID)
	}
	s.engines[userID] = eng
}

// Deregister removes an engine from the rotation and returns it, or nil if
// the user was not registered.
func (s *Scheduler) Deregister(userID string) *engine.Engine {
	s.mu.Lock()
	defer s.mu.Unlock()

	eng, ok := s.engines[userID]
	if !ok {
		return nil
	}
	delete(s.engines, userID)
	for i, id := range s.order {
		if id == userID {
			s.order = append(s.order[:i], s.order[i+1:]...)
			if s.next > i {
				s.next--
			}
			break
		}
	}
	return eng
}

// Get returns the engine registered for a user.
func (s *Scheduler) Get(userID string) (*engine.Engine, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	eng, ok := s.engines[userID]
	return eng, ok
}

// Users returns the registered user IDs in rotation order.
func (s *Scheduler) Users() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.order...)
}

// Len returns the number of registered engines.
func (s *Scheduler) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.engines)
}

// Run drives the tick loop until ctx is cancelled. Each tick grants one
// engine one unit of polling work, gated by the shared venue rate budget.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	s.logger.InfoContext(ctx, "scheduler running",
		slog.Duration("tick_interval", s.cfg.TickInterval),
		slog.Int("venue_rate_limit", s.cfg.VenueRateLimit),
	)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return
		case <-ticker.C:
			s.tickNext(ctx)
		}
	}
}

// tickNext advances the round-robin cursor and ticks that engine if the
// venue rate budget allows. A denied budget skips the whole tick; the
// cursor does not advance, so the same engine goes first once the window
// frees up.
func (s *Scheduler) tickNext(ctx context.Context) {
	s.mu.RLock()
	if len(s.order) == 0 {
		s.mu.RUnlock()
		return
	}
	idx := s.next % len(s.order)
	eng := s.engines[s.order[idx]]
	s.mu.RUnlock()

	if s.limiter != nil && s.cfg.VenueRateLimit > 0 {
		allowed, err := s.limiter.Allow(ctx, rateKey, s.cfg.VenueRateLimit, s.cfg.VenueRateWindow)
		if err != nil {
			s.logger.WarnContext(ctx, "rate limiter check failed", slog.Any("error", err))
			return
		}
		if !allowed {
			return
		}
	}

	s.mu.Lock()
	s.next = (idx + 1) % len(s.order)
	s.mu.Unlock()

	eng.Tick()
}

// StopAll stops every registered engine, bounded by ctx.
func (s *Scheduler) StopAll(ctx context.Context) {
	for _, userID := range s.Users() {
		if eng, ok := s.Get(userID); ok {
			if err := eng.Stop(ctx); err != nil {
				s.logger.WarnContext(ctx, "engine stop failed",
					slog.String("user_id", userID),
					slog.Any("error", err),
				)
			}
		}
	}
}
