package engine

import (
	"context"
	"log/slog"

	"github.com/alanyoungcy/copytraderbot/internal/domain"
)

// Gate decides whether a signal becomes an order. It consults the advisory
// scorer, sizes approved signals, and dispatches through the exchange
// adapter. It never retries: by the time a retry could fire the market has
// moved and the signal is stale.
type Gate struct {
	scorer  domain.AdvisoryScorer
	adapter domain.ExchangeAdapter
	logger  *slog.Logger
}

// NewGate creates a Gate.
func NewGate(scorer domain.AdvisoryScorer, adapter domain.ExchangeAdapter, logger *slog.Logger) *Gate {
	return &Gate{
		scorer:  scorer,
		adapter: adapter,
		logger:  logger.With(slog.String("component", "gate")),
	}
}

// Execute runs the full gate for one signal. pos is the user's open
// position for the signal's (market, outcome) slot, nil when none exists.
func (g *Gate) Execute(ctx context.Context, sig domain.TradeSignal, cfg domain.EngineConfig, pos *domain.Position) domain.ExecutionResult {
	// A SELL for a position this engine never opened is dropped: closing
	// it would corrupt P&L with no known entry price.
	if sig.Side == domain.OrderSideSell && pos == nil {
		return domain.ExecutionResult{
			Status: domain.ExecSkipped,
			Reason: "no open position for sell signal",
		}
	}
	if sig.Side == domain.OrderSideBuy && pos != nil {
		return domain.ExecutionResult{
			Status: domain.ExecSkipped,
			Reason: "position already open for market outcome",
		}
	}

	notional := g.size(sig, cfg, pos)
	if notional <= 0 {
		return domain.ExecutionResult{
			Status: domain.ExecSkipped,
			Reason: "sized notional is zero",
		}
	}

	decision, err := g.scorer.Analyze(ctx, domain.ScoreRequest{
		MarketID:    sig.MarketID,
		TokenID:     sig.TokenID,
		Outcome:     sig.Outcome,
		Side:        sig.Side,
		Notional:    notional,
		Price:       sig.Price,
		RiskProfile: cfg.RiskProfile,
	})
	if err != nil {
		// A scorer failure fails closed.
		g.logger.WarnContext(ctx, "scorer unavailable, denying signal",
			slog.String("trade_id", sig.TradeID),
			slog.Any("error", err),
		)
		return domain.ExecutionResult{
			Status: domain.ExecSkipped,
			Reason: "scorer unavailable: " + err.Error(),
		}
	}
	if !decision.Approve {
		return domain.ExecutionResult{
			Status: domain.ExecSkipped,
			Reason: decision.Reason,
			Score:  decision.Score,
		}
	}

	result := g.Dispatch(ctx, domain.OrderRequest{
		MarketID: sig.MarketID,
		TokenID:  sig.TokenID,
		Side:     sig.Side,
		Notional: notional,
		Price:    sig.Price,
	})
	result.Score = decision.Score
	return result
}

// Dispatch sends one order to the adapter and translates the outcome. It is
// used directly, bypassing the scorer, for watchdog exits and emergency
// sells of positions the engine already holds.
func (g *Gate) Dispatch(ctx context.Context, req domain.OrderRequest) domain.ExecutionResult {
	outcome, err := g.adapter.CreateOrder(ctx, req)
	if err != nil {
		g.logger.WarnContext(ctx, "order dispatch failed",
			slog.String("market_id", req.MarketID),
			slog.String("side", string(req.Side)),
			slog.Float64("notional", req.Notional),
			slog.Any("error", err),
		)
		return domain.ExecutionResult{
			Status: domain.ExecFailed,
			Reason: err.Error(),
		}
	}

	return domain.ExecutionResult{
		Status:   outcome.Status,
		Notional: outcome.FilledNotional,
		Shares:   outcome.FilledShares,
		Price:    outcome.AvgPrice,
		TxRef:    outcome.TxRef,
		Reason:   outcome.Message,
	}
}

// size computes the order notional. BUYs copy the signal proportionally,
// capped by the per-trade maximum. SELLs close the whole tracked position
// at the signal price.
func (g *Gate) size(sig domain.TradeSignal, cfg domain.EngineConfig, pos *domain.Position) float64 {
	if sig.Side == domain.OrderSideSell && pos != nil {
		return pos.Shares * sig.Price
	}

	notional := sig.Notional * cfg.Multiplier
	if cfg.MaxTradeNotional > 0 && notional > cfg.MaxTradeNotional {
		notional = cfg.MaxTradeNotional
	}
	return notional
}
