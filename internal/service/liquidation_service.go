package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/mars-protocol/riskengine/internal/domain"
	"github.com/mars-protocol/riskengine/internal/health"
	"github.com/mars-protocol/riskengine/internal/rates"
)

// LiquidationConfig holds the tunables of the liquidation service.
type LiquidationConfig struct {
	// CloseFactor caps the fraction of a single debt position repayable in
	// one liquidation call.
	CloseFactor decimal.Decimal
	// ProtocolFeeCollector is the account credited with the protocol's
	// share of seized collateral.
	ProtocolFeeCollector string
	// LockTTL bounds how long the market write locks may be held.
	LockTTL time.Duration
}

// LiquidationRequest describes one liquidation attempt.
type LiquidationRequest struct {
	Liquidator      string
	Account         string
	Kind            domain.AccountKind
	DebtDenom       string
	CollateralDenom string
	// RepayAmount is the underlying amount of debt the liquidator repays.
	RepayAmount decimal.Decimal
	Now         time.Time
}

// LiquidationService executes liquidations of unhealthy accounts: repay a
// bounded slice of debt, seize collateral plus a bonus, split the bonus
// with the protocol. All checks run against an in-memory post-state before
// anything is persisted, so a failed liquidation mutates nothing.
type LiquidationService struct {
	markets      domain.MarketStore
	balances     domain.BalanceStore
	positions    *PositionService
	liquidations domain.LiquidationStore
	prices       domain.PriceCache
	locks        domain.LockManager
	audit        domain.AuditStore
	cfg          LiquidationConfig
	logger       *slog.Logger
}

// NewLiquidationService creates a LiquidationService with all required
// dependencies.
func NewLiquidationService(
	markets domain.MarketStore,
	balances domain.BalanceStore,
	positions *PositionService,
	liquidations domain.LiquidationStore,
	prices domain.PriceCache,
	locks domain.LockManager,
	audit domain.AuditStore,
	cfg LiquidationConfig,
	logger *slog.Logger,
) *LiquidationService {
	return &LiquidationService{
		markets:      markets,
		balances:     balances,
		positions:    positions,
		liquidations: liquidations,
		prices:       prices,
		locks:        locks,
		audit:        audit,
		cfg:          cfg,
		logger:       logger,
	}
}

// Liquidate executes one liquidation. The account must be liquidatable on
// the pre-snapshot, the repaid amount must respect the close factor, and
// the post-state health factor must strictly improve, all verified before
// any store write.
func (s *LiquidationService) Liquidate(ctx context.Context, req LiquidationRequest) (domain.LiquidationRecord, error) {
	if !req.RepayAmount.IsPositive() {
		return domain.LiquidationRecord{}, fmt.Errorf("liquidation_service: repay amount must be positive")
	}
	// Without a collector the protocol cut would vanish and the market's
	// scaled totals would drift from the sum of balances.
	if s.cfg.ProtocolFeeCollector == "" {
		return domain.LiquidationRecord{}, fmt.Errorf("liquidation_service: protocol fee collector not configured")
	}

	unlock, err := s.lockMarkets(ctx, req.DebtDenom, req.CollateralDenom)
	if err != nil {
		return domain.LiquidationRecord{}, err
	}
	defer unlock()

	debtMarket, err := s.accrueMarket(ctx, req.DebtDenom, req.Now)
	if err != nil {
		return domain.LiquidationRecord{}, err
	}
	collMarket := debtMarket
	if req.CollateralDenom != req.DebtDenom {
		collMarket, err = s.accrueMarket(ctx, req.CollateralDenom, req.Now)
		if err != nil {
			return domain.LiquidationRecord{}, err
		}
	}

	state, err := s.positions.AccountState(ctx, req.Account, req.Kind)
	if err != nil {
		return domain.LiquidationRecord{}, err
	}
	pre := health.Compute(state)
	if !pre.Liquidatable {
		return domain.LiquidationRecord{}, fmt.Errorf("liquidation_service: account %s: %w", req.Account, domain.ErrNotLiquidatable)
	}

	debtBal, err := s.balances.Get(ctx, req.Account, req.DebtDenom, domain.BalanceKindDebt)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.LiquidationRecord{}, fmt.Errorf("liquidation_service: %s owes no %s: %w", req.Account, req.DebtDenom, domain.ErrNotFound)
		}
		return domain.LiquidationRecord{}, fmt.Errorf("liquidation_service: get debt: %w", err)
	}
	outstanding := debtBal.Underlying(debtMarket.DebtIndex)

	maxRepay := outstanding.Mul(s.cfg.CloseFactor)
	if req.RepayAmount.GreaterThan(maxRepay) {
		return domain.LiquidationRecord{}, fmt.Errorf("liquidation_service: repay %s exceeds close-factor max %s: %w",
			req.RepayAmount, maxRepay, domain.ErrCloseFactorExceeded)
	}

	liqBonus, protocolCut := health.Bonus(*pre.LiquidationHealthFactor, collMarket.LiquidationBonus, collMarket.ProtocolLiquidationFee)

	debtQuote, err := s.prices.GetPrice(ctx, req.DebtDenom)
	if err != nil {
		return domain.LiquidationRecord{}, fmt.Errorf("liquidation_service: price %s: %w", req.DebtDenom, domain.ErrNoPriceQuote)
	}
	collQuote, err := s.prices.GetPrice(ctx, req.CollateralDenom)
	if err != nil {
		return domain.LiquidationRecord{}, fmt.Errorf("liquidation_service: price %s: %w", req.CollateralDenom, domain.ErrNoPriceQuote)
	}

	repaidValue := req.RepayAmount.Mul(debtQuote.Price)
	seizedTotal := repaidValue.Mul(one.Add(liqBonus).Add(protocolCut)).Div(collQuote.Price)
	liquidatorSeized := repaidValue.Mul(one.Add(liqBonus)).Div(collQuote.Price)
	protocolSeized := seizedTotal.Sub(liquidatorSeized)

	collBal, err := s.balances.Get(ctx, req.Account, req.CollateralDenom, domain.BalanceKindDeposit)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.LiquidationRecord{}, fmt.Errorf("liquidation_service: %s holds no %s collateral: %w", req.Account, req.CollateralDenom, domain.ErrInsufficientCapacity)
		}
		return domain.LiquidationRecord{}, fmt.Errorf("liquidation_service: get collateral: %w", err)
	}
	deposited := collBal.Underlying(collMarket.LiquidityIndex)
	if seizedTotal.GreaterThan(deposited) {
		return domain.LiquidationRecord{}, fmt.Errorf("liquidation_service: seize %s exceeds deposited %s: %w",
			seizedTotal, deposited, domain.ErrInsufficientCapacity)
	}

	// Replay the liquidation against the in-memory state and require the
	// health factor to strictly improve before committing anything.
	post := health.Compute(applyLiquidation(state, req, seizedTotal))
	if post.LiquidationHealthFactor != nil &&
		!post.LiquidationHealthFactor.GreaterThan(*pre.LiquidationHealthFactor) {
		return domain.LiquidationRecord{}, fmt.Errorf("liquidation_service: health factor would not improve (%s -> %s): %w",
			pre.LiquidationHealthFactor, post.LiquidationHealthFactor, domain.ErrNotLiquidatable)
	}

	// Commit: burn debt, move collateral, record.
	repayScaled := req.RepayAmount.Div(debtMarket.DebtIndex)
	if req.RepayAmount.Equal(outstanding) {
		repayScaled = debtBal.ScaledAmount
	}
	seizedScaled := seizedTotal.Div(collMarket.LiquidityIndex)
	liquidatorScaled := liquidatorSeized.Div(collMarket.LiquidityIndex)

	if err := s.applyScaledDelta(ctx, debtBal, repayScaled.Neg(), req.Now); err != nil {
		return domain.LiquidationRecord{}, err
	}
	if err := s.applyScaledDelta(ctx, collBal, seizedScaled.Neg(), req.Now); err != nil {
		return domain.LiquidationRecord{}, err
	}

	liquidatorBal, err := s.balances.Get(ctx, req.Liquidator, req.CollateralDenom, domain.BalanceKindDeposit)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			return domain.LiquidationRecord{}, fmt.Errorf("liquidation_service: get liquidator balance: %w", err)
		}
		liquidatorBal = domain.ScaledBalance{
			Account: req.Liquidator,
			Denom:   req.CollateralDenom,
			Kind:    domain.BalanceKindDeposit,
		}
	}
	if err := s.applyScaledDelta(ctx, liquidatorBal, liquidatorScaled, req.Now); err != nil {
		return domain.LiquidationRecord{}, err
	}

	// The protocol's cut moves to the fee collector account, so the
	// market's scaled totals keep matching the sum of balances.
	protocolScaled := seizedScaled.Sub(liquidatorScaled)
	if protocolScaled.IsPositive() {
		feeBal, err := s.balances.Get(ctx, s.cfg.ProtocolFeeCollector, req.CollateralDenom, domain.BalanceKindDeposit)
		if err != nil {
			if !errors.Is(err, domain.ErrNotFound) {
				return domain.LiquidationRecord{}, fmt.Errorf("liquidation_service: get fee collector balance: %w", err)
			}
			feeBal = domain.ScaledBalance{
				Account: s.cfg.ProtocolFeeCollector,
				Denom:   req.CollateralDenom,
				Kind:    domain.BalanceKindDeposit,
			}
		}
		if err := s.applyScaledDelta(ctx, feeBal, protocolScaled, req.Now); err != nil {
			return domain.LiquidationRecord{}, err
		}
	}

	debtMarket.TotalScaledDebt = debtMarket.TotalScaledDebt.Sub(repayScaled)
	if debtMarket.TotalScaledDebt.IsNegative() {
		debtMarket.TotalScaledDebt = decimal.Zero
	}
	if err := s.markets.Update(ctx, debtMarket); err != nil {
		return domain.LiquidationRecord{}, fmt.Errorf("liquidation_service: update market %s: %w", req.DebtDenom, err)
	}

	rec := domain.LiquidationRecord{
		ID:               uuid.NewString(),
		Account:          req.Account,
		Liquidator:       req.Liquidator,
		DebtDenom:        req.DebtDenom,
		CollateralDenom:  req.CollateralDenom,
		DebtRepaid:       req.RepayAmount,
		CollateralSeized: seizedTotal,
		Bonus:            liqBonus,
		ProtocolFee:      protocolCut,
		PreHealthFactor:  *pre.LiquidationHealthFactor,
		ExecutedAt:       req.Now,
	}
	if post.LiquidationHealthFactor != nil {
		rec.PostHealthFactor = *post.LiquidationHealthFactor
	}

	if err := s.liquidations.Insert(ctx, rec); err != nil {
		return domain.LiquidationRecord{}, fmt.Errorf("liquidation_service: insert record: %w", err)
	}

	if err := s.audit.Log(ctx, "liquidation", map[string]any{
		"account":     req.Account,
		"liquidator":  req.Liquidator,
		"debt_denom":  req.DebtDenom,
		"coll_denom":  req.CollateralDenom,
		"debt_repaid": req.RepayAmount.String(),
		"seized":      seizedTotal.String(),
		"protocol":    protocolSeized.String(),
	}); err != nil {
		s.logger.WarnContext(ctx, "liquidation_service: audit log failed",
			slog.String("error", err.Error()),
		)
	}

	s.logger.InfoContext(ctx, "liquidation_service: liquidation executed",
		slog.String("account", req.Account),
		slog.String("liquidator", req.Liquidator),
		slog.String("debt_repaid", req.RepayAmount.String()),
		slog.String("collateral_seized", seizedTotal.String()),
	)

	return rec, nil
}

// ListRecent returns the most recent liquidation records.
func (s *LiquidationService) ListRecent(ctx context.Context, limit int) ([]domain.LiquidationRecord, error) {
	recs, err := s.liquidations.ListRecent(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("liquidation_service: list recent: %w", err)
	}
	return recs, nil
}

// applyLiquidation returns a copy of the account state with the repaid
// debt removed and the seized collateral deducted.
func applyLiquidation(state health.AccountState, req LiquidationRequest, seized decimal.Decimal) health.AccountState {
	out := state
	out.Debts = append([]health.DebtAsset(nil), state.Debts...)
	out.Collateral = append([]health.CollateralAsset(nil), state.Collateral...)

	for i := range out.Debts {
		if out.Debts[i].Denom == req.DebtDenom {
			out.Debts[i].Amount = out.Debts[i].Amount.Sub(req.RepayAmount)
			if out.Debts[i].Amount.IsNegative() {
				out.Debts[i].Amount = decimal.Zero
			}
			break
		}
	}
	for i := range out.Collateral {
		if out.Collateral[i].Denom == req.CollateralDenom {
			out.Collateral[i].Amount = out.Collateral[i].Amount.Sub(seized)
			if out.Collateral[i].Amount.IsNegative() {
				out.Collateral[i].Amount = decimal.Zero
			}
			break
		}
	}
	return out
}

// lockMarkets acquires both market locks in denom order so two concurrent
// liquidations touching the same pair cannot deadlock.
func (s *LiquidationService) lockMarkets(ctx context.Context, a, b string) (func(), error) {
	denoms := []string{a}
	if b != a {
		denoms = append(denoms, b)
		sort.Strings(denoms)
	}

	var unlocks []func()
	for _, denom := range denoms {
		unlock, err := s.locks.Acquire(ctx, marketLockKey(denom), s.cfg.LockTTL)
		if err != nil {
			for _, u := range unlocks {
				u()
			}
			return nil, fmt.Errorf("liquidation_service: lock %s: %w", denom, err)
		}
		unlocks = append(unlocks, unlock)
	}

	return func() {
		for i := len(unlocks) - 1; i >= 0; i-- {
			unlocks[i]()
		}
	}, nil
}

// accrueMarket settles a market's interest and persists it.
func (s *LiquidationService) accrueMarket(ctx context.Context, denom string, now time.Time) (domain.AssetMarket, error) {
	m, err := s.markets.GetByDenom(ctx, denom)
	if err != nil {
		return domain.AssetMarket{}, fmt.Errorf("liquidation_service: get market %s: %w", denom, err)
	}
	if _, err := rates.Accrue(&m, now); err != nil {
		return domain.AssetMarket{}, fmt.Errorf("liquidation_service: accrue %s: %w", denom, err)
	}
	if err := s.markets.Update(ctx, m); err != nil {
		return domain.AssetMarket{}, fmt.Errorf("liquidation_service: update market %s: %w", denom, err)
	}
	return m, nil
}

func (s *LiquidationService) applyScaledDelta(ctx context.Context, bal domain.ScaledBalance, delta decimal.Decimal, now time.Time) error {
	bal.ScaledAmount = bal.ScaledAmount.Add(delta)
	if bal.ScaledAmount.IsNegative() {
		bal.ScaledAmount = decimal.Zero
	}
	bal.UpdatedAt = now
	if err := s.balances.Upsert(ctx, bal); err != nil {
		return fmt.Errorf("liquidation_service: upsert balance %s/%s: %w", bal.Account, bal.Denom, err)
	}
	return nil
}
