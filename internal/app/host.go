package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/copytraderbot/internal/config"
	"github.com/alanyoungcy/copytraderbot/internal/crypto"
	"github.com/alanyoungcy/copytraderbot/internal/domain"
	"github.com/alanyoungcy/copytraderbot/internal/engine"
	"github.com/alanyoungcy/copytraderbot/internal/feed"
	"github.com/alanyoungcy/copytraderbot/internal/platform/polymarket"
	"github.com/alanyoungcy/copytraderbot/internal/scheduler"
	"github.com/alanyoungcy/copytraderbot/internal/scorer"
)

// engineLockTTL bounds how long a replica's claim on a user outlives the
// process. A crashed host frees its users after this window.
const engineLockTTL = 15 * time.Minute

// Host builds and owns the per-user engines: it resolves resume cursors,
// holds the per-user distributed locks, and registers engines with the
// scheduler. It implements the control API's lifecycle surface.
type Host struct {
	cfg       *config.Config
	deps      *Dependencies
	sched     *scheduler.Scheduler
	callbacks domain.EngineCallbacks
	logger    *slog.Logger

	mu       sync.Mutex
	unlocks  map[string]func()
	starting map[string]bool
}

// NewHost creates a Host.
func NewHost(cfg *config.Config, deps *Dependencies, sched *scheduler.Scheduler, callbacks domain.EngineCallbacks, logger *slog.Logger) *Host {
	return &Host{
		cfg:       cfg,
		deps:      deps,
		sched:     sched,
		callbacks: callbacks,
		logger:    logger.With(slog.String("component", "host")),
		unlocks:   make(map[string]func()),
		starting:  make(map[string]bool),
	}
}

// StartAll boots an engine for every enabled configuration. One user's
// failure (bad key, lock held by another replica) never blocks the rest.
func (h *Host) StartAll(ctx context.Context) error {
	configs, err := h.deps.ConfigStore.ListEnabled(ctx)
	if err != nil {
		return fmt.Errorf("app: list enabled configs: %w", err)
	}

	for _, ecfg := range configs {
		if err := h.startFromConfig(ctx, ecfg); err != nil {
			h.logger.WarnContext(ctx, "engine start failed",
				slog.String("user_id", ecfg.UserID),
				slog.Any("error", err),
			)
		}
	}
	h.logger.InfoContext(ctx, "engines started", slog.Int("count", h.sched.Len()))
	return nil
}

// StartEngine brings one user's engine up from its persisted configuration.
func (h *Host) StartEngine(ctx context.Context, userID string) error {
	ecfg, err := h.deps.ConfigStore.Get(ctx, userID)
	if err != nil {
		return fmt.Errorf("app: load config for %s: %w", userID, err)
	}
	return h.startFromConfig(ctx, ecfg)
}

func (h *Host) startFromConfig(ctx context.Context, ecfg domain.EngineConfig) error {
	userID := ecfg.UserID

	// One start per user at a time. The loser of a concurrent start treats
	// the user as already starting, same as the engine's own idempotent
	// Start.
	h.mu.Lock()
	if h.starting[userID] {
		h.mu.Unlock()
		return nil
	}
	h.starting[userID] = true
	h.mu.Unlock()
	defer func() {
		h.mu.Lock()
		delete(h.starting, userID)
		h.mu.Unlock()
	}()

	// An engine that is merely stopped gets rebuilt so it picks up the
	// latest persisted configuration; a live one is left alone.
	if eng, ok := h.sched.Get(userID); ok && eng.State() != engine.StateStopped {
		return nil
	}

	if h.deps.LockManager != nil {
		h.mu.Lock()
		_, held := h.unlocks[userID]
		h.mu.Unlock()
		if !held {
			unlock, err := h.deps.LockManager.Acquire(ctx, "user:"+userID, engineLockTTL)
			if err != nil {
				return fmt.Errorf("app: acquire lock for %s: %w", userID, err)
			}
			h.mu.Lock()
			h.unlocks[userID] = unlock
			h.mu.Unlock()
		}
	}

	ecfg.StartCursor = h.resumeCursor(ctx, ecfg)

	eng := h.buildEngine(ecfg)
	if err := eng.Start(ctx); err != nil {
		h.releaseLock(userID)
		return err
	}
	h.sched.Register(userID, eng)
	return nil
}

// StopEngine shuts one user's engine down, removes it from the scheduler
// rotation so it stops consuming tick slots, and releases its lock.
func (h *Host) StopEngine(ctx context.Context, userID string) error {
	eng, ok := h.sched.Get(userID)
	if !ok {
		return domain.ErrNotFound
	}
	err := eng.Stop(ctx)
	h.sched.Deregister(userID)
	h.releaseLock(userID)
	return err
}

// UpdateEngineConfig persists a partial configuration change and pushes it
// to the live engine when one is running.
func (h *Host) UpdateEngineConfig(ctx context.Context, userID string, update domain.ConfigUpdate) error {
	ecfg, err := h.deps.ConfigStore.Get(ctx, userID)
	if err != nil {
		return fmt.Errorf("app: load config for %s: %w", userID, err)
	}
	if err := h.deps.ConfigStore.Upsert(ctx, update.Apply(ecfg)); err != nil {
		return fmt.Errorf("app: persist config for %s: %w", userID, err)
	}

	if eng, ok := h.sched.Get(userID); ok {
		if err := eng.UpdateConfig(ctx, update); err != nil && !errors.Is(err, domain.ErrNotRunning) {
			return err
		}
	}
	return nil
}

// StopAll stops every engine and releases all locks, bounded by ctx.
func (h *Host) StopAll(ctx context.Context) {
	h.sched.StopAll(ctx)
	h.mu.Lock()
	for userID, unlock := range h.unlocks {
		unlock()
		delete(h.unlocks, userID)
	}
	h.mu.Unlock()
}

func (h *Host) releaseLock(userID string) {
	h.mu.Lock()
	if unlock, ok := h.unlocks[userID]; ok {
		unlock()
		delete(h.unlocks, userID)
	}
	h.mu.Unlock()
}

// resumeCursor picks the signal resume point after a restart: the persisted
// cursor when Redis has one, otherwise one second past the last recorded
// trade, otherwise the configured start cursor.
func (h *Host) resumeCursor(ctx context.Context, ecfg domain.EngineConfig) int64 {
	if h.deps.CursorStore != nil {
		if cursor, err := h.deps.CursorStore.GetCursor(ctx, ecfg.UserID); err == nil && cursor > 0 {
			return cursor
		}
	}
	if h.deps.TradeStore != nil {
		if ts, err := h.deps.TradeStore.LastTimestamp(ctx, ecfg.UserID); err == nil && !ts.IsZero() {
			return ts.Unix() + 1
		}
	}
	return ecfg.StartCursor
}

// buildEngine assembles one user's engine: venue adapter, scorer client,
// signal source factory, and the shared stores.
func (h *Host) buildEngine(ecfg domain.EngineConfig) *engine.Engine {
	adapter := polymarket.NewAdapter(polymarket.Config{
		ClobHost:      h.cfg.Polymarket.ClobHost,
		GammaHost:     h.cfg.Polymarket.GammaHost,
		DataHost:      h.cfg.Polymarket.DataHost,
		ChainID:       h.cfg.Polymarket.ChainID,
		SignatureType: h.cfg.Polymarket.SignatureType,
		EnrichTimeout: h.cfg.Engine.EnrichTimeout.Duration,
		Key: crypto.KeySource{
			RawPrivateKey:    ecfg.PrivateKey,
			EncryptedKeyPath: ecfg.EncryptedKeyPath,
			KeyPassword:      ecfg.KeyPassword,
		},
		FunderAddress: ecfg.FunderAddress,
	})

	settings := engine.Settings{
		MinFundingUSD:       h.cfg.Engine.MinFundingUSD,
		FundingPollInterval: h.cfg.Engine.FundingPollInterval.Duration,
		WatchdogInterval:    h.cfg.Engine.WatchdogInterval.Duration,
		SweepDebounce:       h.cfg.Engine.SweepDebounce.Duration,
		SoftReconcileMin:    h.cfg.Engine.SignalPollInterval.Duration,
		EnrichTimeout:       h.cfg.Engine.EnrichTimeout.Duration,
	}

	pollInterval := h.cfg.Engine.SignalPollInterval.Duration
	logger := h.logger.With(slog.String("user_id", ecfg.UserID))

	return engine.New(ecfg, settings, h.cfg.Engine.ReconcileThrottle.Duration, engine.Deps{
		Adapter:    adapter,
		Enricher:   adapter,
		Scorer:     scorer.New(h.cfg.Scorer.BaseURL, h.cfg.Scorer.ApiKey, h.cfg.Scorer.Timeout.Duration),
		Withdrawer: adapter,
		Trades:     h.deps.TradeStore,
		Cashouts:   h.deps.CashoutStore,
		Stats:      h.deps.StatsStore,
		Audit:      h.deps.AuditStore,
		Cursors:    h.deps.CursorStore,
		Prices:     h.deps.PriceCache,
		Callbacks:  h.callbacks,
		NewSource: func(wallets []string, cursor int64) engine.SignalSource {
			return feed.NewSource(adapter, wallets, cursor, pollInterval, logger)
		},
		Logger: logger,
	})
}
