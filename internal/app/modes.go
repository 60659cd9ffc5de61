package app

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/copytraderbot/internal/domain"
	"github.com/alanyoungcy/copytraderbot/internal/feed"
	"github.com/alanyoungcy/copytraderbot/internal/scheduler"
	"github.com/alanyoungcy/copytraderbot/internal/server"
	"github.com/alanyoungcy/copytraderbot/internal/server/handler"
	"github.com/alanyoungcy/copytraderbot/internal/server/ws"
)

// Per-client budget for the control API. The venue budget lives in the
// scheduler; this one only shields the HTTP surface.
const (
	apiRateLimit  = 120
	apiRateWindow = time.Minute
)

// TradeMode runs the engines and scheduler without the control API.
func (a *App) TradeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting trade mode")
	return a.runServices(ctx, deps, true, false)
}

// MonitorMode runs the control API and event stream only. Engines are not
// auto-started; operators can still bring individual users up through the
// API.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting monitor mode")
	return a.runServices(ctx, deps, false, true)
}

// FullMode runs everything: engines, scheduler, venue feed, archiver, and
// the control API.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")
	return a.runServices(ctx, deps, true, true)
}

func (a *App) runServices(ctx context.Context, deps *Dependencies, startEngines, serveAPI bool) error {
	callbacks := NewCallbacks(deps.SignalBus, deps.Notifier, a.logger)
	sched := scheduler.New(scheduler.Config{
		TickInterval:    a.cfg.Scheduler.TickInterval.Duration,
		VenueRateLimit:  a.cfg.Scheduler.VenueRateLimit,
		VenueRateWindow: a.cfg.Scheduler.VenueRateWindow.Duration,
	}, deps.RateLimiter, a.logger)
	host := NewHost(a.cfg, deps, sched, callbacks, a.logger)

	if startEngines {
		if err := host.StartAll(ctx); err != nil {
			return err
		}
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		sched.Run(ctx)
		return nil
	})

	// Engines stop cooperatively once the context falls.
	g.Go(func() error {
		<-ctx.Done()
		stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		host.StopAll(stopCtx)
		return nil
	})

	if a.cfg.Scheduler.FeedEnabled && a.cfg.Polymarket.WsHost != "" {
		a.runVenueFeed(ctx, g, deps, sched)
	}

	if deps.Archiver != nil {
		g.Go(func() error {
			a.runArchiver(ctx, deps)
			return nil
		})
	}

	if serveAPI && a.cfg.Server.Enabled {
		a.runControlAPI(ctx, g, deps, sched, host)
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// runVenueFeed streams venue-wide last-trade prices into the shared price
// cache so watchdog and reconciliation passes mostly skip the REST round
// trip. Subscriptions track the union of open-position tokens.
func (a *App) runVenueFeed(ctx context.Context, g *errgroup.Group, deps *Dependencies, sched *scheduler.Scheduler) {
	vf := feed.NewVenueFeed(a.cfg.Polymarket.WsHost, a.logger)
	vf.OnTrade(func(t domain.VenueTrade) {
		writeCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := deps.PriceCache.SetPrice(writeCtx, t.TokenID, t.Price, t.Timestamp); err != nil {
			a.logger.Warn("feed price cache write failed", slog.Any("error", err))
		}
	})

	g.Go(func() error {
		if err := vf.Connect(ctx); err != nil {
			a.logger.WarnContext(ctx, "venue feed connect failed, continuing without it",
				slog.Any("error", err),
			)
			return nil
		}
		defer vf.Close()

		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()

		var subscribed []string
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				tokens := openTokenIDs(sched)
				if len(tokens) == 0 || equalStrings(tokens, subscribed) {
					continue
				}
				if err := vf.Subscribe(tokens); err != nil {
					a.logger.WarnContext(ctx, "feed subscribe failed", slog.Any("error", err))
					continue
				}
				subscribed = tokens
			}
		}
	})
}

// openTokenIDs collects the distinct outcome tokens currently held across
// all engines, sorted for stable comparison.
func openTokenIDs(sched *scheduler.Scheduler) []string {
	seen := make(map[string]bool)
	for _, userID := range sched.Users() {
		eng, ok := sched.Get(userID)
		if !ok {
			continue
		}
		for _, pos := range eng.Positions() {
			if pos.TokenID != "" {
				seen[pos.TokenID] = true
			}
		}
	}

	tokens := make([]string, 0, len(seen))
	for t := range seen {
		tokens = append(tokens, t)
	}
	sort.Strings(tokens)
	return tokens
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// runArchiver moves old closed trade records to blob storage on the
// configured interval.
func (a *App) runArchiver(ctx context.Context, deps *Dependencies) {
	interval := a.cfg.Archive.Interval.Duration
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := deps.Archiver.Run(ctx)
			if err != nil {
				a.logger.WarnContext(ctx, "archive run failed", slog.Any("error", err))
				continue
			}
			if n > 0 {
				a.logger.InfoContext(ctx, "archived trade records", slog.Int64("count", n))
			}
		}
	}
}

// runControlAPI starts the HTTP server and the WebSocket hub.
func (a *App) runControlAPI(ctx context.Context, g *errgroup.Group, deps *Dependencies, sched *scheduler.Scheduler, host *Host) {
	hub := ws.NewHub(deps.SignalBus, a.logger)
	g.Go(func() error {
		if err := hub.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})

	checks := map[string]handler.HealthCheckFn{
		"postgres": func(ctx context.Context) error { return deps.Postgres.Pool().Ping(ctx) },
		"redis":    deps.Redis.Ping,
	}

	srv := server.New(server.Config{
		Port:        a.cfg.Server.Port,
		APIKey:      a.cfg.Server.APIKey,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		RateLimit:   apiRateLimit,
		RateWindow:  apiRateWindow,
	}, server.Handlers{
		Health:  handler.NewHealthHandler(checks),
		Engines: handler.NewEngineHandler(host, sched, a.logger),
		Records: handler.NewRecordsHandler(deps.TradeStore, deps.CashoutStore, deps.AuditStore, a.logger),
	}, hub, deps.RateLimiter, a.logger)

	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}
