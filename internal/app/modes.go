package app

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mars-protocol/riskengine/internal/feed"
	"github.com/mars-protocol/riskengine/internal/server"
	"github.com/mars-protocol/riskengine/internal/server/handler"
	"github.com/mars-protocol/riskengine/internal/service"
)

// services bundles the engine services built on top of Dependencies.
type services struct {
	positions   *service.PositionService
	markets     *service.MarketService
	accrual     *service.AccrualService
	lending     *service.LendingService
	liquidation *service.LiquidationService
	monitor     *service.MonitorService
}

func (a *App) buildServices(deps *Dependencies) *services {
	positions := service.NewPositionService(
		deps.MarketStore, deps.BalanceStore, deps.VaultStore,
		deps.Reporter, deps.PriceCache, a.logger,
	)
	markets := service.NewMarketService(deps.MarketStore, deps.AuditStore, a.logger)
	accrual := service.NewAccrualService(
		deps.MarketStore, deps.SnapshotStore, deps.LockManager,
		service.AccrualConfig{LockTTL: a.cfg.Engine.LockTTL.Duration},
		a.logger,
	)
	lending := service.NewLendingService(
		deps.MarketStore, deps.BalanceStore, positions, deps.PriceCache,
		deps.LockManager, deps.AuditStore,
		service.LendingConfig{LockTTL: a.cfg.Engine.LockTTL.Duration},
		a.logger,
	)
	liquidation := service.NewLiquidationService(
		deps.MarketStore, deps.BalanceStore, positions, deps.LiquidationStore,
		deps.PriceCache, deps.LockManager, deps.AuditStore,
		service.LiquidationConfig{
			CloseFactor:          a.cfg.CloseFactorDecimal(),
			ProtocolFeeCollector: a.cfg.Engine.ProtocolFeeCollector,
			LockTTL:              a.cfg.Engine.LockTTL.Duration,
		},
		a.logger,
	)
	monitor := service.NewMonitorService(
		deps.BalanceStore, positions, deps.Notifier,
		service.MonitorConfig{
			Interval: a.cfg.Monitor.Interval.Duration,
			PageSize: a.cfg.Monitor.PageSize,
			Workers:  a.cfg.Monitor.Workers,
		},
		a.logger,
	)

	return &services{
		positions:   positions,
		markets:     markets,
		accrual:     accrual,
		lending:     lending,
		liquidation: liquidation,
		monitor:     monitor,
	}
}

// ServerMode runs the oracle price feed, the periodic accrual sweep, and
// the HTTP API.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")

	g, ctx := errgroup.WithContext(ctx)
	svcs := a.buildServices(deps)

	a.startOracleFeed(ctx, g, deps)
	a.startAccrualLoop(ctx, g, svcs)
	a.startHTTPServer(ctx, g, deps, svcs)

	return g.Wait()
}

// MonitorMode runs the oracle price feed and the account health monitor.
// The HTTP API is started only when enabled in the configuration.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting monitor mode")

	g, ctx := errgroup.WithContext(ctx)
	svcs := a.buildServices(deps)

	a.startOracleFeed(ctx, g, deps)
	g.Go(func() error {
		err := svcs.monitor.Run(ctx)
		if ctx.Err() != nil {
			return nil
		}
		return err
	})

	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps, svcs)
	}

	return g.Wait()
}

// FullMode runs every subsystem: feed, accrual sweep, monitor, archival,
// and the HTTP API.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)
	svcs := a.buildServices(deps)

	a.startOracleFeed(ctx, g, deps)
	a.startAccrualLoop(ctx, g, svcs)

	if a.cfg.Monitor.Enabled {
		g.Go(func() error {
			err := svcs.monitor.Run(ctx)
			if ctx.Err() != nil {
				return nil
			}
			return err
		})
	}

	a.startArchiveLoop(ctx, g, deps)

	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps, svcs)
	}

	return g.Wait()
}

// startOracleFeed adds the WebSocket price feed goroutine. The feed keeps
// reconnecting until the context is cancelled.
func (a *App) startOracleFeed(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	oracleFeed := feed.NewOracleFeed(a.cfg.Oracle.WsURL, a.cfg.Oracle.Denoms, deps.PriceCache, a.logger)
	g.Go(func() error {
		err := oracleFeed.Run(ctx)
		if ctx.Err() != nil {
			return nil
		}
		return err
	})
}

// startAccrualLoop adds the periodic sweep that advances every market's
// indices. Individual market failures are logged inside AccrueAll; a
// failed sweep never stops the loop.
func (a *App) startAccrualLoop(ctx context.Context, g *errgroup.Group, svcs *services) {
	interval := a.cfg.Engine.AccrualInterval.Duration
	if interval <= 0 {
		a.logger.InfoContext(ctx, "accrual sweep disabled")
		return
	}

	g.Go(func() error {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				if err := svcs.accrual.AccrueAll(ctx, time.Now().UTC()); err != nil {
					a.logger.ErrorContext(ctx, "accrual sweep failed",
						slog.String("error", err.Error()),
					)
				}
			}
		}
	})
}

// startArchiveLoop adds the cold storage archival goroutine. Records older
// than the retention window are uploaded to object storage; rows are never
// deleted here.
func (a *App) startArchiveLoop(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	if deps.Archiver == nil {
		return
	}

	g.Go(func() error {
		ticker := time.NewTicker(a.cfg.Archive.Interval.Duration)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				cutoff := time.Now().UTC().AddDate(0, 0, -a.cfg.Archive.RetentionDays)

				n, err := deps.Archiver.ArchiveLiquidations(ctx, cutoff)
				if err != nil {
					a.logger.ErrorContext(ctx, "liquidation archival failed",
						slog.String("error", err.Error()),
					)
				} else if n > 0 {
					a.logger.InfoContext(ctx, "archived liquidations",
						slog.Int64("count", n),
						slog.Time("cutoff", cutoff),
					)
				}

				n, err = deps.Archiver.ArchiveRateSnapshots(ctx, cutoff)
				if err != nil {
					a.logger.ErrorContext(ctx, "rate snapshot archival failed",
						slog.String("error", err.Error()),
					)
				} else if n > 0 {
					a.logger.InfoContext(ctx, "archived rate snapshots",
						slog.Int64("count", n),
						slog.Time("cutoff", cutoff),
					)
				}
			}
		}
	})
}

// startHTTPServer builds the handlers, starts the API server, and shuts it
// down gracefully when the context is cancelled.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, svcs *services) {
	checks := make(map[string]handler.Pinger, len(deps.Pingers))
	for name, ping := range deps.Pingers {
		checks[name] = ping
	}

	handlers := server.Handlers{
		Health:       handler.NewHealthHandler(checks, a.logger),
		Markets:      handler.NewMarketHandler(svcs.markets, svcs.accrual, a.logger),
		Accounts:     handler.NewAccountHandler(svcs.positions, a.logger),
		Lending:      handler.NewLendingHandler(svcs.lending, a.logger),
		Liquidations: handler.NewLiquidationHandler(svcs.liquidation, a.logger),
	}

	srv := server.NewServer(server.Config{
		Port:               a.cfg.Server.Port,
		CORSOrigins:        a.cfg.Server.CORSOrigins,
		APIKey:             a.cfg.Server.APIKey,
		RateLimitPerMinute: a.cfg.Server.RateLimitPerMinute,
	}, handlers, deps.RateLimiter, a.logger)

	g.Go(func() error {
		a.logger.InfoContext(ctx, "HTTP server listening",
			slog.Int("port", a.cfg.Server.Port),
		)
		return srv.Start()
	})

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		a.logger.InfoContext(ctx, "HTTP server shutting down")
		return srv.Shutdown(shutCtx)
	})
}
