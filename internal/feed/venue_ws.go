package feed

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/copytraderbot/internal/domain"
)

const (
	wsWriteWait         = 10 * time.Second
	wsPongWait          = 60 * time.Second
	wsPingPeriod        = (wsPongWait * 9) / 10
	wsReconnectDelay    = 2 * time.Second
	wsMaxReconnectDelay = 60 * time.Second
)

// VenueTradeHandler receives one venue-wide trade event.
type VenueTradeHandler func(domain.VenueTrade)

// VenueFeed maintains a websocket subscription to the venue's market-wide
// last-trade channel and dispatches events to registered handlers. It
// reconnects with exponential backoff and restores subscriptions; a dropped
// connection loses events without affecting the per-user signal sources,
// which are the authoritative path.
type VenueFeed struct {
	wsURL  string
	logger *slog.Logger

	mu       sync.Mutex
	conn     *websocket.Conn
	assetIDs []string
	closed   bool

	handlerMu sync.RWMutex
	handlers  []VenueTradeHandler

	done chan struct{}
}

// NewVenueFeed creates a feed for the given websocket endpoint.
func NewVenueFeed(wsURL string, logger *slog.Logger) *VenueFeed {
	return &VenueFeed{
		wsURL:  wsURL,
		logger: logger.With(slog.String("component", "venue_feed")),
		done:   make(chan struct{}),
	}
}

// OnTrade registers a handler for every venue trade event.
func (f *VenueFeed) OnTrade(h VenueTradeHandler) {
	f.handlerMu.Lock()
	defer f.handlerMu.Unlock()
	f.handlers = append(f.handlers, h)
}

// Connect dials the venue websocket, subscribes to the tracked assets, and
// starts the read and ping loops.
func (f *VenueFeed) Connect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return domain.ErrContextDone
	}

	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	conn, _, err := dialer.DialContext(ctx, f.wsURL, nil)
	if err != nil {
		return err
	}
	f.conn = conn

	conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})

	if len(f.assetIDs) > 0 {
		if err := f.sendSubscribe(f.assetIDs); err != nil {
			return err
		}
	}

	go f.readLoop(conn)
	go f.pingLoop(conn)
	return nil
}

// Subscribe tracks asset IDs for last-trade events, surviving reconnects.
func (f *VenueFeed) Subscribe(assetIDs []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.assetIDs = append(f.assetIDs, assetIDs...)
	if f.conn == nil {
		return nil
	}
	return f.sendSubscribe(assetIDs)
}

// Close shuts down the connection and stops the loops.
func (f *VenueFeed) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return nil
	}
	f.closed = true
	close(f.done)

	if f.conn != nil {
		_ = f.conn.WriteMessage(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		)
		return f.conn.Close()
	}
	return nil
}

// sendSubscribe writes a subscribe command. Caller holds f.mu.
func (f *VenueFeed) sendSubscribe(assetIDs []string) error {
	cmd := map[string]any{
		"type":       "subscribe",
		"channel":    "last_trade_price",
		"assets_ids": assetIDs,
	}
	data, err := json.Marshal(cmd)
	if err != nil {
		return err
	}
	f.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return f.conn.WriteMessage(websocket.TextMessage, data)
}

func (f *VenueFeed) readLoop(conn *websocket.Conn) {
	for {
		select {
		case <-f.done:
			return
		default:
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-f.done:
				return
			default:
			}
			f.reconnect()
			return
		}

		f.dispatch(message)
	}
}

func (f *VenueFeed) pingLoop(conn *websocket.Conn) {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-f.done:
			return
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// reconnect re-dials with exponential backoff until success or shutdown.
func (f *VenueFeed) reconnect() {
	delay := wsReconnectDelay
	for {
		select {
		case <-f.done:
			return
		case <-time.After(delay):
		}

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
		err := f.Connect(ctx)
		cancel()
		if err == nil {
			f.logger.Info("venue feed reconnected")
			return
		}

		f.logger.Warn("venue feed reconnect failed", slog.Any("error", err))
		delay *= 2
		if delay > wsMaxReconnectDelay {
			delay = wsMaxReconnectDelay
		}
	}
}

// wsTradeEvent is the venue's last-trade message shape.
type wsTradeEvent struct {
	EventType string `json:"event_type"`
	AssetID   string `json:"asset_id"`
	Market    string `json:"market"`
	Side      string `json:"side"`
	Price     string `json:"price"`
	Size      string `json:"size"`
	Timestamp string `json:"timestamp"`
}

func (f *VenueFeed) dispatch(message []byte) {
	var evt wsTradeEvent
	if err := json.Unmarshal(message, &evt); err != nil {
		return
	}
	if evt.EventType != "last_trade_price" {
		return
	}

	price, _ := strconv.ParseFloat(evt.Price, 64)
	size, _ := strconv.ParseFloat(evt.Size, 64)
	tsMillis, _ := strconv.ParseInt(evt.Timestamp, 10, 64)

	side := domain.OrderSideBuy
	if evt.Side == "SELL" || evt.Side == "sell" {
		side = domain.OrderSideSell
	}

	trade := domain.VenueTrade{
		MarketID:  evt.Market,
		TokenID:   evt.AssetID,
		Side:      side,
		Price:     price,
		Size:      size,
		Timestamp: time.UnixMilli(tsMillis),
	}

	f.handlerMu.RLock()
	handlers := f.handlers
	f.handlerMu.RUnlock()
	for _, h := range handlers {
		h(trade)
	}
}
