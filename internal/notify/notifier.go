// Package notify fans engine events out to operator channels (Telegram,
// Discord). Delivery is best-effort: a failed send is logged and never
// blocks the engine that raised the event.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/alanyoungcy/copytraderbot/internal/domain"
)

// Event types operators can filter on.
const (
	EventTradeExecuted = "trade_executed"
	EventWatchdogExit  = "watchdog_exit"
	EventCashout       = "cashout"
	EventFeePaid       = "fee_paid"
	EventEngineError   = "engine_error"
)

// Notifier dispatches messages to one or more Senders, filtered by event
// type. An empty allow-list passes everything.
type Notifier struct {
	senders []Sender
	events  map[string]bool
	logger  *slog.Logger
}

// NewNotifier creates a Notifier delivering to the given senders. Only
// events named in the events slice are forwarded; empty means all.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		allowed[strings.TrimSpace(e)] = true
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Notify sends a message to all senders when the event type is allowed.
func (n *Notifier) Notify(ctx context.Context, event, title, message string) {
	if len(n.events) > 0 && !n.events[event] {
		return
	}
	n.dispatch(ctx, title, message)
}

// TradeExecuted announces a filled copy trade.
func (n *Notifier) TradeExecuted(ctx context.Context, rec domain.TradeRecord) {
	title := fmt.Sprintf("Trade executed: %s %s", strings.ToUpper(string(rec.Side)), rec.Outcome)
	body := fmt.Sprintf("%s\n$%.2f @ %.3f (%.2f shares)\nuser %s, copied from %s",
		rec.Title, rec.Notional, rec.Price, rec.Shares, rec.UserID, shortAddr(rec.SourceTrader))
	if rec.RealizedPnL != nil {
		body += fmt.Sprintf("\nrealized P&L: $%+.2f", *rec.RealizedPnL)
	}
	n.Notify(ctx, EventTradeExecuted, title, body)
}

// WatchdogExit announces a take-profit close.
func (n *Notifier) WatchdogExit(ctx context.Context, userID string, pos domain.Position, price float64) {
	title := "Take-profit exit"
	body := fmt.Sprintf("%s (%s)\nentry %.3f, exit %.3f, %.2f shares\nuser %s",
		pos.Meta.Title, pos.Outcome, pos.EntryPrice, price, pos.Shares, userID)
	n.Notify(ctx, EventWatchdogExit, title, body)
}

// Cashout announces a completed sweep withdrawal.
func (n *Notifier) Cashout(ctx context.Context, rec domain.CashoutRecord) {
	title := "Cashout"
	body := fmt.Sprintf("$%.2f swept to %s\nuser %s, tx %s",
		rec.Amount, shortAddr(rec.Destination), rec.UserID, rec.TxRef)
	n.Notify(ctx, EventCashout, title, body)
}

// FeePaid announces a fee distribution from realized profit.
func (n *Notifier) FeePaid(ctx context.Context, evt domain.FeeDistributionEvent) {
	title := "Fee distributed"
	body := fmt.Sprintf("$%.2f from trade %s\nuser %s", evt.Amount, evt.TradeID, evt.UserID)
	n.Notify(ctx, EventFeePaid, title, body)
}

// EngineError announces an engine entering a degraded or stopped state.
func (n *Notifier) EngineError(ctx context.Context, userID, detail string) {
	n.Notify(ctx, EventEngineError, "Engine error: "+userID, detail)
}

// dispatch sends to every sender; one failure never blocks the rest.
func (n *Notifier) dispatch(ctx context.Context, title, message string) {
	for _, s := range n.senders {
		sendCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		err := s.Send(sendCtx, title, message)
		cancel()
		if err != nil {
			n.logger.WarnContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.Any("error", err),
			)
		}
	}
}

// shortAddr truncates a hex address for display.
func shortAddr(addr string) string {
	if len(addr) <= 10 {
		return addr
	}
	return addr[:6] + "..." + addr[len(addr)-4:]
}
