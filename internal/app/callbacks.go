package app

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/alanyoungcy/copytraderbot/internal/domain"
	"github.com/alanyoungcy/copytraderbot/internal/notify"
)

// eventChannelPrefix is the per-user pub/sub channel prefix the WebSocket
// hub subscribes to.
const eventChannelPrefix = "copybot:events:"

// Callbacks fans engine events out to the signal bus and the notifier.
// Everything here is best-effort: a dead Redis or webhook never feeds back
// into the engine's control flow.
type Callbacks struct {
	bus      domain.SignalBus
	notifier *notify.Notifier
	logger   *slog.Logger
}

// NewCallbacks creates the callback sink. bus and notifier may be nil.
func NewCallbacks(bus domain.SignalBus, notifier *notify.Notifier, logger *slog.Logger) *Callbacks {
	return &Callbacks{
		bus:      bus,
		notifier: notifier,
		logger:   logger.With(slog.String("component", "callbacks")),
	}
}

var _ domain.EngineCallbacks = (*Callbacks)(nil)

func (c *Callbacks) OnPositionsUpdate(ctx context.Context, userID string, positions []domain.Position) {
	c.publish(ctx, userID, "positions", positions)
}

func (c *Callbacks) OnStatsUpdate(ctx context.Context, stats domain.UserStats) {
	c.publish(ctx, stats.UserID, "stats", stats)
}

func (c *Callbacks) OnTradeComplete(ctx context.Context, rec domain.TradeRecord) {
	c.publish(ctx, rec.UserID, "trade", rec)
	if c.notifier != nil {
		c.notifier.TradeExecuted(ctx, rec)
	}
}

func (c *Callbacks) OnCashout(ctx context.Context, rec domain.CashoutRecord) {
	c.publish(ctx, rec.UserID, "cashout", rec)
	if c.notifier != nil {
		c.notifier.Cashout(ctx, rec)
	}
}

func (c *Callbacks) OnFeePaid(ctx context.Context, evt domain.FeeDistributionEvent) {
	c.publish(ctx, evt.UserID, "fee_paid", evt)
	if c.notifier != nil {
		c.notifier.FeePaid(ctx, evt)
	}
}

// publish pushes one JSON event envelope onto the user's bus channel.
func (c *Callbacks) publish(ctx context.Context, userID, event string, data any) {
	if c.bus == nil {
		return
	}

	payload, err := json.Marshal(map[string]any{
		"event":   event,
		"user_id": userID,
		"ts":      time.Now().UTC().Format(time.RFC3339),
		"data":    data,
	})
	if err != nil {
		c.logger.Warn("event marshal failed", slog.String("event", event), slog.Any("error", err))
		return
	}

	if err := c.bus.Publish(ctx, eventChannelPrefix+userID, payload); err != nil {
		c.logger.WarnContext(ctx, "event publish failed",
			slog.String("event", event),
			slog.String("user_id", userID),
			slog.Any("error", err),
		)
	}
}
