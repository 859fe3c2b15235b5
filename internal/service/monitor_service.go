package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mars-protocol/riskengine/internal/domain"
	"github.com/mars-protocol/riskengine/internal/health"
	"github.com/mars-protocol/riskengine/internal/notify"
)

// MonitorConfig holds the tunables of the monitor service.
type MonitorConfig struct {
	// Interval between scans.
	Interval time.Duration
	// PageSize bounds each accounts-with-debt page.
	PageSize int
	// Workers bounds concurrent health computations per scan.
	Workers int
}

// MonitorService periodically scans every account with debt, computes its
// health snapshot and per-asset liquidation prices, and alerts operators
// when an account becomes liquidatable or crosses its max loan-to-value.
// It is a pure read path: nothing is mutated.
type MonitorService struct {
	balances  domain.BalanceStore
	positions *PositionService
	notifier  *notify.Notifier
	cfg       MonitorConfig
	logger    *slog.Logger
}

// NewMonitorService creates a MonitorService with all required
// dependencies.
func NewMonitorService(
	balances domain.BalanceStore,
	positions *PositionService,
	notifier *notify.Notifier,
	cfg MonitorConfig,
	logger *slog.Logger,
) *MonitorService {
	return &MonitorService{
		balances:  balances,
		positions: positions,
		notifier:  notifier,
		cfg:       cfg,
		logger:    logger,
	}
}

// Run scans on the configured interval until the context is canceled.
func (s *MonitorService) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	s.logger.InfoContext(ctx, "monitor_service: started",
		slog.Duration("interval", s.cfg.Interval),
	)

	for {
		select {
		case <-ctx.Done():
			s.logger.InfoContext(ctx, "monitor_service: stopped")
			return ctx.Err()
		case <-ticker.C:
			if err := s.Scan(ctx); err != nil {
				s.logger.ErrorContext(ctx, "monitor_service: scan failed",
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// Scan walks every account holding debt and alerts on unhealthy ones.
func (s *MonitorService) Scan(ctx context.Context) error {
	offset := 0
	scanned := 0
	var flagged atomic.Int64

	for {
		accounts, err := s.balances.ListAccountsWithDebt(ctx, domain.ListOpts{
			Limit:  s.cfg.PageSize,
			Offset: offset,
		})
		if err != nil {
			return fmt.Errorf("monitor_service: list accounts: %w", err)
		}
		if len(accounts) == 0 {
			break
		}

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(s.cfg.Workers)
		for _, account := range accounts {
			g.Go(func() error {
				hit, err := s.checkAccount(gctx, account)
				if err != nil {
					// Keep scanning the rest of the page.
					s.logger.WarnContext(gctx, "monitor_service: account check failed",
						slog.String("account", account),
						slog.String("error", err.Error()),
					)
					return nil
				}
				if hit {
					flagged.Add(1)
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return fmt.Errorf("monitor_service: scan page: %w", err)
		}

		scanned += len(accounts)
		if len(accounts) < s.cfg.PageSize {
			break
		}
		offset += s.cfg.PageSize
	}

	s.logger.InfoContext(ctx, "monitor_service: scan complete",
		slog.Int("scanned", scanned),
		slog.Int64("flagged", flagged.Load()),
	)
	return nil
}

func (s *MonitorService) checkAccount(ctx context.Context, account string) (bool, error) {
	state, err := s.positions.AccountState(ctx, account, domain.AccountKindDefault)
	if err != nil {
		return false, err
	}
	snap := health.Compute(state)

	switch {
	case snap.Liquidatable:
		msg := fmt.Sprintf("account %s is liquidatable\nliq health factor: %s\ndebt value: %s",
			account, snap.LiquidationHealthFactor, snap.TotalDebtValue)
		if err := s.notifier.Notify(ctx, "liquidatable", "Account liquidatable", msg); err != nil {
			s.logger.WarnContext(ctx, "monitor_service: notify failed",
				slog.String("account", account),
				slog.String("error", err.Error()),
			)
		}
		return true, nil
	case snap.AboveMaxLTV:
		msg := fmt.Sprintf("account %s is above max LTV\nmax-ltv health factor: %s%s",
			account, snap.MaxLTVHealthFactor, s.liquidationPrices(snap, state))
		if err := s.notifier.Notify(ctx, "above_max_ltv", "Account above max LTV", msg); err != nil {
			s.logger.WarnContext(ctx, "monitor_service: notify failed",
				slog.String("account", account),
				slog.String("error", err.Error()),
			)
		}
		return true, nil
	}
	return false, nil
}

// liquidationPrices renders the price at which each collateral asset
// would tip the account into liquidation, as a monitoring signal.
func (s *MonitorService) liquidationPrices(snap domain.HealthSnapshot, state health.AccountState) string {
	var b strings.Builder
	for _, c := range state.Collateral {
		price := health.LiquidationPrice(snap, c)
		if price == nil {
			continue
		}
		fmt.Fprintf(&b, "\n%s liquidation price: %s (now %s)", c.Denom, price, c.Price)
	}
	return b.String()
}
