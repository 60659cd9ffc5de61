// Package engine implements the per-user copy-trading automaton: lifecycle
// state machine, signal loop, execution gate, position ledger, fund sweep,
// and take-profit watchdog. One Engine owns one user; its ledger and stats
// are mutated only on the engine's own loop goroutine, with timers and
// external control requests funnelled in as messages.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/copytraderbot/internal/domain"
)

// State is the engine lifecycle state.
type State string

const (
	StateStopped        State = "STOPPED"
	StateStarting       State = "STARTING"
	StateFundingWait    State = "FUNDING_WAIT"
	StateAuthenticating State = "AUTHENTICATING"
	StateActive         State = "ACTIVE"
)

// Settings are the process-wide engine timings, shared by every user.
type Settings struct {
	MinFundingUSD       float64
	FundingPollInterval time.Duration
	WatchdogInterval    time.Duration
	SweepDebounce       time.Duration
	SoftReconcileMin    time.Duration
	EnrichTimeout       time.Duration
}

// SignalSource yields trade signals for the engine's target wallets. Poll
// must be cheap when there is nothing new; UpdateTargets must not lose the
// cursor.
type SignalSource interface {
	Poll(ctx context.Context) []domain.TradeSignal
	UpdateTargets(wallets []string)
	Cursor() int64
}

// Deps are the engine's collaborators. Adapter, Scorer, and NewSource are
// required; the rest degrade gracefully when nil.
type Deps struct {
	Adapter    domain.ExchangeAdapter
	Enricher   domain.MarketEnricher
	Scorer     domain.AdvisoryScorer
	Withdrawer domain.Withdrawer
	Trades     domain.TradeRecordStore
	Cashouts   domain.CashoutStore
	Stats      domain.StatsStore
	Audit      domain.AuditStore
	Cursors    domain.CursorStore
	Prices     domain.PriceCache
	Callbacks  domain.EngineCallbacks
	NewSource  func(wallets []string, cursor int64) SignalSource
	Logger     *slog.Logger
}

// allowanceFetcher is the optional adapter capability for reading the
// spending allowance flag.
type allowanceFetcher interface {
	FetchAllowance(ctx context.Context) (bool, error)
}

type cmdKind int

const (
	cmdUpdateConfig cmdKind = iota
	cmdEmergencySell
	cmdSyncPositions
)

type command struct {
	kind     cmdKind
	update   domain.ConfigUpdate
	marketID string
	outcome  string
	force    bool
	reply    chan error
}

// Engine is the per-user automaton.
type Engine struct {
	settings Settings
	deps     Deps
	logger   *slog.Logger

	ledger   *Ledger
	gate     *Gate
	sweeper  *Sweeper
	watchdog *Watchdog

	cmds  chan command
	ticks chan struct{}

	mu     sync.Mutex
	cfg    domain.EngineConfig
	stats  domain.UserStats
	state  State
	source SignalSource
	cancel context.CancelFunc
	done   chan struct{}

	sweepTimer *time.Timer
	lastSoft   time.Time
}

// New creates an Engine for one user. It does not touch the network; Start
// does.
func New(cfg domain.EngineConfig, settings Settings, reconcileThrottle time.Duration, deps Deps) *Engine {
	if deps.Callbacks == nil {
		deps.Callbacks = domain.NopCallbacks{}
	}
	logger := deps.Logger.With(
		slog.String("component", "engine"),
		slog.String("user_id", cfg.UserID),
	)

	return &Engine{
		settings: settings,
		deps:     deps,
		logger:   logger,
		ledger:   NewLedger(reconcileThrottle),
		gate:     NewGate(deps.Scorer, deps.Adapter, logger),
		sweeper:  NewSweeper(deps.Adapter, deps.Withdrawer, deps.Cashouts, logger),
		watchdog: NewWatchdog(deps.Adapter, deps.Prices, logger),
		cmds:     make(chan command),
		ticks:    make(chan struct{}, 1),
		cfg:      cfg,
		stats:    domain.UserStats{UserID: cfg.UserID},
		state:    StateStopped,
	}
}

// Start brings the engine up. It is an idempotent no-op when the engine is
// already starting or running. Configuration errors are fatal and leave the
// engine STOPPED; funding and authentication proceed asynchronously.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.state != StateStopped {
		e.mu.Unlock()
		return nil
	}
	cfg := e.cfg
	if len(cfg.TargetWallets) == 0 {
		e.mu.Unlock()
		return fmt.Errorf("engine: start %s: %w", cfg.UserID, domain.ErrMissingWallet)
	}
	if cfg.PrivateKey == "" && cfg.EncryptedKeyPath == "" {
		e.mu.Unlock()
		return fmt.Errorf("engine: start %s: %w", cfg.UserID, domain.ErrMissingKey)
	}
	// Claim the engine before the adapter network call so a concurrent
	// Start sees STARTING and backs off instead of spawning a second loop.
	// cancel and done are armed here too, so Stop works during the whole
	// startup window.
	runCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	e.state = StateStarting
	e.cancel = cancel
	e.done = done
	e.mu.Unlock()

	if err := e.deps.Adapter.Initialize(ctx); err != nil {
		cancel()
		e.mu.Lock()
		e.state = StateStopped
		e.cancel = nil
		e.mu.Unlock()
		close(done)
		return fmt.Errorf("engine: initialize adapter for %s: %w", cfg.UserID, err)
	}

	e.logger.InfoContext(ctx, "engine starting")
	go e.run(runCtx, done)
	return nil
}

// Stop shuts the engine down cooperatively: in-flight signal processing
// finishes, then the loop exits. ctx bounds how long Stop waits for that.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	if e.state == StateStopped || e.cancel == nil {
		e.mu.Unlock()
		return nil
	}
	cancel := e.cancel
	done := e.done
	e.mu.Unlock()

	cancel()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("engine: stop: %w", ctx.Err())
	}
}

// Tick grants the engine one unit of polling work. It never blocks: a tick
// arriving while the loop is busy coalesces with the pending one.
func (e *Engine) Tick() {
	select {
	case e.ticks <- struct{}{}:
	default:
	}
}

// UpdateConfig applies a partial configuration change to the live engine
// without a restart. The running signal source keeps its cursor.
func (e *Engine) UpdateConfig(ctx context.Context, update domain.ConfigUpdate) error {
	return e.send(ctx, command{kind: cmdUpdateConfig, update: update})
}

// EmergencySell force-closes the open position for a (market, outcome)
// slot at the best available price, bypassing the scorer.
func (e *Engine) EmergencySell(ctx context.Context, marketID, outcome string) error {
	return e.send(ctx, command{kind: cmdEmergencySell, marketID: marketID, outcome: outcome})
}

// SyncPositions reconciles the ledger against the venue's authoritative
// position list. Non-forced syncs are throttled.
func (e *Engine) SyncPositions(ctx context.Context, force bool) error {
	return e.send(ctx, command{kind: cmdSyncPositions, force: force})
}

// State returns the current lifecycle state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Config returns a snapshot of the engine's configuration.
func (e *Engine) Config() domain.EngineConfig {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg
}

// Stats returns a snapshot of the user's rolling aggregates.
func (e *Engine) Stats() domain.UserStats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stats
}

// Positions returns a snapshot of the open positions, oldest first.
func (e *Engine) Positions() []domain.Position {
	return e.ledger.Snapshot()
}

// Cursor returns the signal source's resume point, or 0 before services
// started.
func (e *Engine) Cursor() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.source == nil {
		return 0
	}
	return e.source.Cursor()
}

// send delivers a command to the loop goroutine and waits for its reply.
func (e *Engine) send(ctx context.Context, cmd command) error {
	e.mu.Lock()
	if e.state == StateStopped {
		e.mu.Unlock()
		return domain.ErrNotRunning
	}
	done := e.done
	e.mu.Unlock()

	cmd.reply = make(chan error, 1)
	select {
	case e.cmds <- cmd:
	case <-done:
		return domain.ErrNotRunning
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-cmd.reply:
		return err
	case <-done:
		return domain.ErrNotRunning
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) transition(state State) {
	e.mu.Lock()
	prev := e.state
	e.state = state
	e.mu.Unlock()
	if prev != state {
		e.logger.Info("state transition",
			slog.String("from", string(prev)),
			slog.String("to", string(state)),
		)
	}
}

// run is the engine's single goroutine: funding wait, authentication,
// service startup, then the command loop.
func (e *Engine) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	defer e.transition(StateStopped)

	if !e.awaitFunding(ctx) {
		return
	}

	e.transition(StateAuthenticating)
	if err := e.deps.Adapter.Authenticate(ctx); err != nil {
		e.logger.Error("authentication failed", slog.Any("error", err))
		return
	}

	e.startServices(ctx)
	e.transition(StateActive)
	e.loop(ctx)
}

// awaitFunding blocks until the account is funded or the engine stops. An
// account counts as funded when its settled balance reaches the minimum or
// the venue already holds open positions for it.
func (e *Engine) awaitFunding(ctx context.Context) bool {
	if e.funded(ctx) {
		return true
	}

	e.transition(StateFundingWait)
	e.logger.InfoContext(ctx, "waiting for funding",
		slog.Float64("min_funding_usd", e.settings.MinFundingUSD),
	)

	ticker := time.NewTicker(e.settings.FundingPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return false
		case cmd := <-e.cmds:
			e.handleIdleCommand(cmd)
		case <-e.ticks:
			// No polling work before ACTIVE.
		case <-ticker.C:
			if e.funded(ctx) {
				return true
			}
		}
	}
}

func (e *Engine) funded(ctx context.Context) bool {
	funder := e.deps.Adapter.GetFunderAddress()
	balance, err := e.deps.Adapter.FetchBalance(ctx, funder)
	if err != nil {
		e.logger.WarnContext(ctx, "balance check failed", slog.Any("error", err))
		return false
	}
	if balance >= e.settings.MinFundingUSD {
		return true
	}

	// A wallet holding open positions is already trading even when its
	// settled cash is below the minimum.
	positions, err := e.deps.Adapter.GetPositions(ctx, funder)
	if err != nil {
		return false
	}
	return len(positions) > 0
}

// startServices builds the signal source, restores persisted stats, and
// performs the initial forced reconciliation before any signal is accepted.
func (e *Engine) startServices(ctx context.Context) {
	e.mu.Lock()
	cfg := e.cfg
	e.mu.Unlock()

	cursor := cfg.StartCursor
	if cursor <= 0 {
		// A fresh engine never replays historical trades.
		cursor = time.Now().Unix()
	}
	source := e.deps.NewSource(cfg.TargetWallets, cursor)

	e.mu.Lock()
	e.source = source
	e.mu.Unlock()

	if e.deps.Stats != nil {
		if stats, err := e.deps.Stats.Get(ctx, cfg.UserID); err == nil {
			e.mu.Lock()
			e.stats = stats
			e.mu.Unlock()
		}
	}

	if err := e.ledger.HardReconcile(ctx, e.deps.Adapter, true); err != nil {
		e.logger.WarnContext(ctx, "initial reconciliation failed", slog.Any("error", err))
	}
	e.syncStats(ctx)
	e.publishPositions(ctx)
}

func (e *Engine) loop(ctx context.Context) {
	watchdogTicker := time.NewTicker(e.settings.WatchdogInterval)
	defer watchdogTicker.Stop()

	e.sweepTimer = time.NewTimer(e.settings.SweepDebounce)
	defer e.sweepTimer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-e.cmds:
			e.handleCommand(ctx, cmd)
		case <-e.ticks:
			e.pollSignals(ctx)
		case <-watchdogTicker.C:
			e.watchdogPass(ctx)
		case <-e.sweepTimer.C:
			e.sweepPass(ctx)
		}
	}
}

// pollSignals drains one poll's worth of signals, processing them in
// observation order. A stop during the batch lets the signal in flight
// finish and drops the rest.
func (e *Engine) pollSignals(ctx context.Context) {
	for _, sig := range e.source.Poll(ctx) {
		select {
		case <-ctx.Done():
			return
		default:
		}
		e.processSignal(ctx, sig)
	}
}

func (e *Engine) processSignal(ctx context.Context, sig domain.TradeSignal) {
	cfg := e.Config()

	var posPtr *domain.Position
	if pos, ok := e.ledger.Get(sig.MarketID, sig.Outcome); ok {
		posPtr = &pos
	}

	res := e.gate.Execute(ctx, sig, cfg, posPtr)
	e.audit(ctx, "signal_"+string(res.Status), map[string]any{
		"trade_id":  sig.TradeID,
		"market_id": sig.MarketID,
		"outcome":   sig.Outcome,
		"side":      string(sig.Side),
		"notional":  res.Notional,
		"reason":    res.Reason,
		"score":     res.Score,
	})

	switch res.Status {
	case domain.ExecFilled, domain.ExecPartial:
		if sig.Side == domain.OrderSideBuy {
			e.applyBuy(ctx, cfg, sig, res)
		} else {
			e.applySell(ctx, cfg, *posPtr, res)
		}
		e.armSweep()
	case domain.ExecSkipped:
		e.logger.DebugContext(ctx, "signal skipped",
			slog.String("trade_id", sig.TradeID),
			slog.String("reason", res.Reason),
		)
	case domain.ExecFailed:
		e.logger.WarnContext(ctx, "signal execution failed",
			slog.String("trade_id", sig.TradeID),
			slog.String("reason", res.Reason),
		)
	}

	e.persistCursor(ctx, sig.Cursor())
	e.softReconcile(ctx)
	e.syncStats(ctx)
	e.publishPositions(ctx)
}

// applyBuy creates the position and its open trade record after a filled
// BUY.
func (e *Engine) applyBuy(ctx context.Context, cfg domain.EngineConfig, sig domain.TradeSignal, res domain.ExecutionResult) {
	now := time.Now().UTC()

	pos := domain.Position{
		ID:         uuid.New().String(),
		MarketID:   sig.MarketID,
		TokenID:    sig.TokenID,
		Outcome:    sig.Outcome,
		EntryPrice: res.Price,
		Shares:     res.Shares,
		Invested:   res.Notional,
		Meta:       e.enrich(ctx, sig.MarketID),
		OpenedAt:   now,
	}
	pos.Reprice(res.Price)
	e.ledger.Put(pos)

	rec := domain.TradeRecord{
		ID:           uuid.New().String(),
		UserID:       cfg.UserID,
		MarketID:     sig.MarketID,
		TokenID:      sig.TokenID,
		Outcome:      sig.Outcome,
		Side:         domain.OrderSideBuy,
		Notional:     res.Notional,
		Shares:       res.Shares,
		Price:        res.Price,
		SourceTrader: sig.Trader,
		TxRef:        res.TxRef,
		Title:        pos.Meta.Title,
		Status:       domain.TradeStatusOpen,
		CreatedAt:    now,
	}
	if e.deps.Trades != nil {
		if err := e.deps.Trades.Create(ctx, rec); err != nil {
			e.logger.WarnContext(ctx, "trade record create failed", slog.Any("error", err))
		}
	}

	e.mu.Lock()
	e.stats.RecordTrade(res.Notional, nil)
	e.mu.Unlock()

	e.logger.InfoContext(ctx, "position opened",
		slog.String("market_id", sig.MarketID),
		slog.String("outcome", sig.Outcome),
		slog.Float64("notional", res.Notional),
		slog.Float64("price", res.Price),
	)
	e.deps.Callbacks.OnTradeComplete(ctx, rec)
}

// shareDust is the residue below which a sell counts as closing the whole
// position. Fill shares come back through float division, so an exact
// comparison against the tracked share count is not reliable.
const shareDust = 1e-6

// applySell settles a filled or partially filled SELL, crediting realized
// P&L as executed notional minus sold shares at entry price, and
// distributes the configured fee share from a profitable close. A partial
// fill leaves the unsold residue tracked at the original entry price.
func (e *Engine) applySell(ctx context.Context, cfg domain.EngineConfig, pos domain.Position, res domain.ExecutionResult) {
	now := time.Now().UTC()
	realized := res.Notional - res.Shares*pos.EntryPrice

	remaining := pos.Shares - res.Shares
	full := remaining <= shareDust
	if full {
		e.ledger.Remove(pos.MarketID, pos.Outcome)
	} else {
		left := pos
		left.Shares = remaining
		left.Invested = remaining * pos.EntryPrice
		left.Reprice(res.Price)
		e.ledger.Put(left)
	}

	closed := domain.TradeRecord{
		UserID:      cfg.UserID,
		MarketID:    pos.MarketID,
		TokenID:     pos.TokenID,
		Outcome:     pos.Outcome,
		Side:        domain.OrderSideSell,
		Notional:    res.Notional,
		Shares:      res.Shares,
		Price:       pos.EntryPrice,
		TxRef:       res.TxRef,
		Title:       pos.Meta.Title,
		Status:      domain.TradeStatusClosed,
		RealizedPnL: &realized,
		ExitPrice:   &res.Price,
		CreatedAt:   pos.OpenedAt,
		ClosedAt:    &now,
	}
	if e.deps.Trades != nil {
		if rec, err := e.deps.Trades.GetOpenByMarket(ctx, cfg.UserID, pos.MarketID, pos.Outcome); err == nil {
			closed.ID = rec.ID
			closed.SourceTrader = rec.SourceTrader
			closed.CreatedAt = rec.CreatedAt
			// The persisted record stays open across partial fills; it
			// closes once the residue is gone.
			if full {
				if err := e.deps.Trades.Close(ctx, rec.ID, res.Price, realized, now); err != nil {
					e.logger.WarnContext(ctx, "trade record close failed", slog.Any("error", err))
				}
			}
		} else {
			e.logger.WarnContext(ctx, "no open trade record for closed position",
				slog.String("market_id", pos.MarketID),
				slog.String("outcome", pos.Outcome),
			)
		}
	}

	e.mu.Lock()
	e.stats.RecordTrade(res.Notional, &realized)
	e.mu.Unlock()

	msg := "position closed"
	if !full {
		msg = "position reduced"
	}
	e.logger.InfoContext(ctx, msg,
		slog.String("market_id", pos.MarketID),
		slog.String("outcome", pos.Outcome),
		slog.Float64("realized_pnl", realized),
	)
	e.deps.Callbacks.OnTradeComplete(ctx, closed)

	if realized > 0 && cfg.FeeShareBps > 0 {
		e.distributeFee(ctx, cfg, closed.ID, realized)
	}
}

// distributeFee pays out the configured share of realized profit.
func (e *Engine) distributeFee(ctx context.Context, cfg domain.EngineConfig, tradeID string, realized float64) {
	evt := domain.FeeDistributionEvent{
		ID:        uuid.New().String(),
		UserID:    cfg.UserID,
		TradeID:   tradeID,
		Amount:    realized * float64(cfg.FeeShareBps) / 10000,
		CreatedAt: time.Now().UTC(),
	}
	if e.deps.Cashouts != nil {
		if err := e.deps.Cashouts.InsertFeeEvent(ctx, evt); err != nil {
			e.logger.WarnContext(ctx, "fee event insert failed", slog.Any("error", err))
		}
	}
	e.deps.Callbacks.OnFeePaid(ctx, evt)
}

// watchdogPass re-prices open positions, drops resolved markets, and
// force-exits positions past the take-profit threshold.
func (e *Engine) watchdogPass(ctx context.Context) {
	cfg := e.Config()

	threshold := 0.0
	if cfg.TakeProfitPct != nil {
		threshold = *cfg.TakeProfitPct
	}

	exits, resolved := e.watchdog.Inspect(ctx, e.ledger.Snapshot(), threshold)

	for _, pos := range resolved {
		// Resolved markets go through redemption, not a sell; the position
		// leaves the ledger without P&L credit.
		if txRef, err := e.deps.Adapter.RedeemPosition(ctx, pos.MarketID, pos.TokenID); err != nil {
			e.logger.WarnContext(ctx, "redeem failed", slog.Any("error", err))
		} else {
			e.audit(ctx, "position_redeemed", map[string]any{
				"market_id": pos.MarketID,
				"outcome":   pos.Outcome,
				"tx_ref":    txRef,
			})
		}
		e.ledger.Remove(pos.MarketID, pos.Outcome)
	}

	for _, exit := range exits {
		res := e.gate.Dispatch(ctx, domain.OrderRequest{
			MarketID: exit.Position.MarketID,
			TokenID:  exit.Position.TokenID,
			Side:     domain.OrderSideSell,
			Notional: exit.Position.Shares * exit.Price,
			Price:    exit.Price,
		})
		if res.Status != domain.ExecFilled && res.Status != domain.ExecPartial {
			e.logger.WarnContext(ctx, "take-profit exit failed",
				slog.String("market_id", exit.Position.MarketID),
				slog.String("reason", res.Reason),
			)
			continue
		}

		e.audit(ctx, "watchdog_exit", map[string]any{
			"market_id":   exit.Position.MarketID,
			"outcome":     exit.Position.Outcome,
			"entry_price": exit.Position.EntryPrice,
			"exit_price":  exit.Price,
		})
		e.applySell(ctx, cfg, exit.Position, res)
		e.armSweep()
	}

	if len(exits) > 0 || len(resolved) > 0 {
		e.syncStats(ctx)
	}
	e.publishPositions(ctx)
}

// sweepPass runs the fund sweep once. Failures re-arm the debounce timer
// so the sweep retries naturally.
func (e *Engine) sweepPass(ctx context.Context) {
	cfg := e.Config()

	rec, err := e.sweeper.Sweep(ctx, cfg)
	if err != nil {
		e.logger.WarnContext(ctx, "sweep failed", slog.Any("error", err))
		e.armSweep()
		return
	}
	if rec == nil {
		return
	}

	e.audit(ctx, "cashout", map[string]any{
		"amount":      rec.Amount,
		"destination": rec.Destination,
		"tx_ref":      rec.TxRef,
	})
	e.deps.Callbacks.OnCashout(ctx, *rec)
	e.syncStats(ctx)
}

func (e *Engine) handleCommand(ctx context.Context, cmd command) {
	switch cmd.kind {
	case cmdUpdateConfig:
		e.mu.Lock()
		e.cfg = cmd.update.Apply(e.cfg)
		cfg := e.cfg
		source := e.source
		e.mu.Unlock()

		if source != nil && cmd.update.TargetWallets != nil {
			source.UpdateTargets(cfg.TargetWallets)
		}
		e.logger.InfoContext(ctx, "config updated")
		cmd.reply <- nil

	case cmdEmergencySell:
		cmd.reply <- e.emergencySell(ctx, cmd.marketID, cmd.outcome)

	case cmdSyncPositions:
		err := e.ledger.HardReconcile(ctx, e.deps.Adapter, cmd.force)
		if err == nil {
			e.syncStats(ctx)
			e.publishPositions(ctx)
		}
		cmd.reply <- err
	}
}

// handleIdleCommand services control requests while the engine is still
// waiting for funding. Only configuration updates apply; everything else
// needs a running service set.
func (e *Engine) handleIdleCommand(cmd command) {
	if cmd.kind == cmdUpdateConfig {
		e.mu.Lock()
		e.cfg = cmd.update.Apply(e.cfg)
		e.mu.Unlock()
		cmd.reply <- nil
		return
	}
	cmd.reply <- domain.ErrNotRunning
}

func (e *Engine) emergencySell(ctx context.Context, marketID, outcome string) error {
	pos, ok := e.ledger.Get(marketID, outcome)
	if !ok {
		return domain.ErrNoPosition
	}

	price, err := e.watchdog.currentPrice(ctx, pos)
	if err != nil || price <= 0 {
		price = pos.LastPrice
	}
	if price <= 0 {
		price = pos.EntryPrice
	}

	res := e.gate.Dispatch(ctx, domain.OrderRequest{
		MarketID: pos.MarketID,
		TokenID:  pos.TokenID,
		Side:     domain.OrderSideSell,
		Notional: pos.Shares * price,
		Price:    price,
	})
	if res.Status != domain.ExecFilled && res.Status != domain.ExecPartial {
		return fmt.Errorf("engine: emergency sell %s/%s: %s", marketID, outcome, res.Reason)
	}

	cfg := e.Config()
	e.audit(ctx, "emergency_sell", map[string]any{
		"market_id": marketID,
		"outcome":   outcome,
		"price":     res.Price,
	})
	e.applySell(ctx, cfg, pos, res)
	e.armSweep()
	e.syncStats(ctx)
	e.publishPositions(ctx)
	return nil
}

// softReconcile re-prices the ledger, throttled so a burst of signals does
// not hammer the price endpoints.
func (e *Engine) softReconcile(ctx context.Context) {
	if time.Since(e.lastSoft) < e.settings.SoftReconcileMin {
		return
	}
	e.lastSoft = time.Now()

	e.ledger.SoftReconcile(ctx, func(ctx context.Context, marketID, tokenID string) (float64, error) {
		return e.watchdog.currentPrice(ctx, domain.Position{MarketID: marketID, TokenID: tokenID})
	})
}

// syncStats refreshes cash balance and allowance from the venue and
// recomputes the portfolio value identity.
func (e *Engine) syncStats(ctx context.Context) {
	funder := e.deps.Adapter.GetFunderAddress()

	cash, cashErr := e.deps.Adapter.FetchBalance(ctx, funder)
	if cashErr != nil {
		e.logger.WarnContext(ctx, "balance refresh failed", slog.Any("error", cashErr))
	}

	var allowance *bool
	if af, ok := e.deps.Adapter.(allowanceFetcher); ok {
		if granted, err := af.FetchAllowance(ctx); err == nil {
			allowance = &granted
		}
	}

	e.mu.Lock()
	if cashErr == nil {
		e.stats.CashBalance = cash
	}
	if allowance != nil {
		e.stats.AllowanceGranted = *allowance
	}
	e.stats.PortfolioValue = e.stats.CashBalance + e.ledger.OpenValue()
	e.stats.UpdatedAt = time.Now().UTC()
	stats := e.stats
	e.mu.Unlock()

	if e.deps.Stats != nil {
		if err := e.deps.Stats.Upsert(ctx, stats); err != nil {
			e.logger.WarnContext(ctx, "stats persist failed", slog.Any("error", err))
		}
	}
	e.deps.Callbacks.OnStatsUpdate(ctx, stats)
}

func (e *Engine) publishPositions(ctx context.Context) {
	e.mu.Lock()
	userID := e.cfg.UserID
	e.mu.Unlock()
	e.deps.Callbacks.OnPositionsUpdate(ctx, userID, e.ledger.Snapshot())
}

// enrich fetches display metadata with a bounded timeout; failure degrades
// to empty metadata.
func (e *Engine) enrich(ctx context.Context, marketID string) domain.MarketMeta {
	if e.deps.Enricher == nil {
		return domain.MarketMeta{}
	}

	enrichCtx, cancel := context.WithTimeout(ctx, e.settings.EnrichTimeout)
	defer cancel()

	meta, err := e.deps.Enricher.GetMarketMeta(enrichCtx, marketID)
	if err != nil {
		e.logger.DebugContext(ctx, "enrichment failed",
			slog.String("market_id", marketID),
			slog.Any("error", err),
		)
		return domain.MarketMeta{}
	}
	return meta
}

func (e *Engine) persistCursor(ctx context.Context, cursor int64) {
	if e.deps.Cursors == nil {
		return
	}
	e.mu.Lock()
	userID := e.cfg.UserID
	e.mu.Unlock()
	if err := e.deps.Cursors.SetCursor(ctx, userID, cursor); err != nil {
		e.logger.WarnContext(ctx, "cursor persist failed", slog.Any("error", err))
	}
}

func (e *Engine) audit(ctx context.Context, event string, detail map[string]any) {
	if e.deps.Audit == nil {
		return
	}
	e.mu.Lock()
	userID := e.cfg.UserID
	e.mu.Unlock()
	if err := e.deps.Audit.Log(ctx, userID, event, detail); err != nil {
		e.logger.WarnContext(ctx, "audit log failed", slog.Any("error", err))
	}
}

// armSweep debounces the fund sweep after a completed trade. Loop
// goroutine only.
func (e *Engine) armSweep() {
	if e.sweepTimer == nil {
		return
	}
	if !e.sweepTimer.Stop() {
		select {
		case <-e.sweepTimer.C:
		default:
		}
	}
	e.sweepTimer.Reset(e.settings.SweepDebounce)
}
