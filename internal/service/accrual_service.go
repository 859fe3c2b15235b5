package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mars-protocol/riskengine/internal/domain"
	"github.com/mars-protocol/riskengine/internal/rates"
)

// AccrualConfig holds the tunables of the accrual service.
type AccrualConfig struct {
	// LockTTL bounds how long a market write lock may be held.
	LockTTL time.Duration
}

// AccrualService advances market indices and rates. It is the single
// writer path for a market's accrual state: every call serializes on the
// market's distributed lock, so concurrent accruals of different markets
// proceed independently while a shared market is touched by one writer at
// a time.
type AccrualService struct {
	markets   domain.MarketStore
	snapshots domain.RateSnapshotStore
	locks     domain.LockManager
	cfg       AccrualConfig
	logger    *slog.Logger
}

// NewAccrualService creates an AccrualService with all required
// dependencies.
func NewAccrualService(
	markets domain.MarketStore,
	snapshots domain.RateSnapshotStore,
	locks domain.LockManager,
	cfg AccrualConfig,
	logger *slog.Logger,
) *AccrualService {
	return &AccrualService{
		markets:   markets,
		snapshots: snapshots,
		locks:     locks,
		cfg:       cfg,
		logger:    logger,
	}
}

// Accrue advances one market to now and persists the result. Calling it
// twice with the same timestamp is a no-op on the second call.
func (s *AccrualService) Accrue(ctx context.Context, denom string, now time.Time) (domain.AssetMarket, error) {
	unlock, err := s.locks.Acquire(ctx, marketLockKey(denom), s.cfg.LockTTL)
	if err != nil {
		return domain.AssetMarket{}, fmt.Errorf("accrual_service: lock %s: %w", denom, err)
	}
	defer unlock()

	m, err := s.markets.GetByDenom(ctx, denom)
	if err != nil {
		return domain.AssetMarket{}, fmt.Errorf("accrual_service: get %s: %w", denom, err)
	}

	res, err := rates.Accrue(&m, now)
	if err != nil {
		return domain.AssetMarket{}, fmt.Errorf("accrual_service: accrue %s: %w", denom, err)
	}
	if !res.Advanced {
		return m, nil
	}

	if res.RateClamped {
		// Recoverable: the dynamic controller hit its bounds and the value
		// was clamped. Worth surfacing because persistent clamping means
		// the model is mistuned for the market.
		s.logger.WarnContext(ctx, "accrual_service: borrow rate clamped",
			slog.String("denom", denom),
			slog.String("borrow_rate", m.BorrowRate.String()),
		)
	}

	if err := s.markets.Update(ctx, m); err != nil {
		return domain.AssetMarket{}, fmt.Errorf("accrual_service: update %s: %w", denom, err)
	}

	snap := domain.RateSnapshot{
		Denom:          m.Denom,
		BorrowRate:     m.BorrowRate,
		LiquidityRate:  m.LiquidityRate,
		LiquidityIndex: m.LiquidityIndex,
		DebtIndex:      m.DebtIndex,
		Utilization:    res.Utilization,
		ObservedAt:     now,
	}
	if err := s.snapshots.Insert(ctx, snap); err != nil {
		// History is best-effort; the market state itself is committed.
		s.logger.WarnContext(ctx, "accrual_service: snapshot insert failed",
			slog.String("denom", denom),
			slog.String("error", err.Error()),
		)
	}

	return m, nil
}

// AccrueAll advances every listed market to now. Failures on individual
// markets are logged and skipped so one broken market cannot stall the
// rest; the first error is returned after the sweep completes.
func (s *AccrualService) AccrueAll(ctx context.Context, now time.Time) error {
	markets, err := s.markets.List(ctx, domain.ListOpts{})
	if err != nil {
		return fmt.Errorf("accrual_service: list markets: %w", err)
	}

	var firstErr error
	for _, m := range markets {
		if _, err := s.Accrue(ctx, m.Denom, now); err != nil {
			s.logger.ErrorContext(ctx, "accrual_service: market accrual failed",
				slog.String("denom", m.Denom),
				slog.String("error", err.Error()),
			)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// marketLockKey names the distributed lock serializing writers of one
// market's accrual state.
func marketLockKey(denom string) string {
	return "market:" + denom
}
