package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mars-protocol/riskengine/internal/domain"
	"github.com/mars-protocol/riskengine/internal/health"
	"github.com/mars-protocol/riskengine/internal/rates"
)

// LendingConfig holds the tunables of the lending service.
type LendingConfig struct {
	// LockTTL bounds how long a market write lock may be held.
	LockTTL time.Duration
}

// LendingService executes the four balance-mutating operations: deposit,
// borrow, repay, withdraw. Each operation serializes on the market's
// distributed lock, settles accrued interest first, validates every
// precondition against a consistent snapshot, and only then mutates
// state, so a rejected call leaves balances untouched.
type LendingService struct {
	markets   domain.MarketStore
	balances  domain.BalanceStore
	positions *PositionService
	prices    domain.PriceCache
	locks     domain.LockManager
	audit     domain.AuditStore
	cfg       LendingConfig
	logger    *slog.Logger
}

// NewLendingService creates a LendingService with all required
// dependencies.
func NewLendingService(
	markets domain.MarketStore,
	balances domain.BalanceStore,
	positions *PositionService,
	prices domain.PriceCache,
	locks domain.LockManager,
	audit domain.AuditStore,
	cfg LendingConfig,
	logger *slog.Logger,
) *LendingService {
	return &LendingService{
		markets:   markets,
		balances:  balances,
		positions: positions,
		prices:    prices,
		locks:     locks,
		audit:     audit,
		cfg:       cfg,
		logger:    logger,
	}
}

// Deposit adds amount of denom to the account's collateral. The deposit
// is rejected when the market has deposits disabled or the deposit cap
// would be exceeded.
func (s *LendingService) Deposit(ctx context.Context, account, denom string, amount decimal.Decimal, now time.Time) error {
	if !amount.IsPositive() {
		return fmt.Errorf("lending_service: deposit amount must be positive")
	}

	unlock, err := s.locks.Acquire(ctx, marketLockKey(denom), s.cfg.LockTTL)
	if err != nil {
		return fmt.Errorf("lending_service: lock %s: %w", denom, err)
	}
	defer unlock()

	m, err := s.markets.GetByDenom(ctx, denom)
	if err != nil {
		return fmt.Errorf("lending_service: get market %s: %w", denom, err)
	}
	if !m.DepositEnabled {
		return fmt.Errorf("lending_service: market %s: %w", denom, domain.ErrDepositDisabled)
	}
	if _, err := rates.Accrue(&m, now); err != nil {
		return fmt.Errorf("lending_service: accrue %s: %w", denom, err)
	}

	if m.IsDepositCapActive() && m.UnderlyingLiquidity().Add(amount).GreaterThan(m.DepositCap) {
		return fmt.Errorf("lending_service: market %s cap %s: %w", denom, m.DepositCap, domain.ErrDepositCapExceeded)
	}

	scaled := amount.Div(m.LiquidityIndex)
	if err := s.adjustBalance(ctx, account, denom, domain.BalanceKindDeposit, scaled, now); err != nil {
		return err
	}

	m.TotalScaledLiquidity = m.TotalScaledLiquidity.Add(scaled)
	if err := s.markets.Update(ctx, m); err != nil {
		return fmt.Errorf("lending_service: update market %s: %w", denom, err)
	}

	s.logOp(ctx, "deposit", account, denom, amount)
	return nil
}

// Borrow lends amount of denom to the account. Rejected when borrowing is
// disabled, the market lacks lendable liquidity, or the resulting
// position would sit above its max loan-to-value.
func (s *LendingService) Borrow(ctx context.Context, account string, kind domain.AccountKind, denom string, amount decimal.Decimal, now time.Time) error {
	if !amount.IsPositive() {
		return fmt.Errorf("lending_service: borrow amount must be positive")
	}

	unlock, err := s.locks.Acquire(ctx, marketLockKey(denom), s.cfg.LockTTL)
	if err != nil {
		return fmt.Errorf("lending_service: lock %s: %w", denom, err)
	}
	defer unlock()

	m, err := s.markets.GetByDenom(ctx, denom)
	if err != nil {
		return fmt.Errorf("lending_service: get market %s: %w", denom, err)
	}
	if !m.BorrowEnabled {
		return fmt.Errorf("lending_service: market %s: %w", denom, domain.ErrBorrowDisabled)
	}
	if _, err := rates.Accrue(&m, now); err != nil {
		return fmt.Errorf("lending_service: accrue %s: %w", denom, err)
	}
	if amount.GreaterThan(m.AvailableLiquidity()) {
		return fmt.Errorf("lending_service: market %s liquidity %s: %w", denom, m.AvailableLiquidity(), domain.ErrInsufficientCapacity)
	}

	// Commit the accrual before the health read so the snapshot reflects
	// settled interest.
	if err := s.markets.Update(ctx, m); err != nil {
		return fmt.Errorf("lending_service: update market %s: %w", denom, err)
	}

	state, err := s.positions.AccountState(ctx, account, kind)
	if err != nil {
		return err
	}
	quote, err := s.prices.GetPrice(ctx, denom)
	if err != nil {
		return fmt.Errorf("lending_service: price %s: %w", denom, domain.ErrNoPriceQuote)
	}
	state.Debts = append(state.Debts, health.DebtAsset{
		Denom:  denom,
		Amount: amount,
		Price:  quote.Price,
	})
	if snap := health.Compute(state); snap.AboveMaxLTV {
		return fmt.Errorf("lending_service: borrow %s %s for %s: %w", amount, denom, account, domain.ErrBelowLiquidationThreshold)
	}

	scaled := amount.Div(m.DebtIndex)
	if err := s.adjustBalance(ctx, account, denom, domain.BalanceKindDebt, scaled, now); err != nil {
		return err
	}

	m.TotalScaledDebt = m.TotalScaledDebt.Add(scaled)
	if err := s.markets.Update(ctx, m); err != nil {
		return fmt.Errorf("lending_service: update market %s: %w", denom, err)
	}

	s.logOp(ctx, "borrow", account, denom, amount)
	return nil
}

// Repay pays down the account's debt in denom and returns the amount
// actually applied, capped at the outstanding debt so overpayment is
// returned rather than absorbed.
func (s *LendingService) Repay(ctx context.Context, account, denom string, amount decimal.Decimal, now time.Time) (decimal.Decimal, error) {
	if !amount.IsPositive() {
		return decimal.Zero, fmt.Errorf("lending_service: repay amount must be positive")
	}

	unlock, err := s.locks.Acquire(ctx, marketLockKey(denom), s.cfg.LockTTL)
	if err != nil {
		return decimal.Zero, fmt.Errorf("lending_service: lock %s: %w", denom, err)
	}
	defer unlock()

	m, err := s.markets.GetByDenom(ctx, denom)
	if err != nil {
		return decimal.Zero, fmt.Errorf("lending_service: get market %s: %w", denom, err)
	}
	if _, err := rates.Accrue(&m, now); err != nil {
		return decimal.Zero, fmt.Errorf("lending_service: accrue %s: %w", denom, err)
	}

	bal, err := s.balances.Get(ctx, account, denom, domain.BalanceKindDebt)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return decimal.Zero, fmt.Errorf("lending_service: %s owes no %s: %w", account, denom, domain.ErrNotFound)
		}
		return decimal.Zero, fmt.Errorf("lending_service: get debt %s/%s: %w", account, denom, err)
	}

	outstanding := bal.Underlying(m.DebtIndex)
	repaid := amount
	scaled := amount.Div(m.DebtIndex)
	if repaid.GreaterThanOrEqual(outstanding) {
		// Full repayment burns the exact scaled amount, leaving no dust.
		repaid = outstanding
		scaled = bal.ScaledAmount
	}

	if err := s.adjustBalance(ctx, account, denom, domain.BalanceKindDebt, scaled.Neg(), now); err != nil {
		return decimal.Zero, err
	}

	m.TotalScaledDebt = m.TotalScaledDebt.Sub(scaled)
	if m.TotalScaledDebt.IsNegative() {
		m.TotalScaledDebt = decimal.Zero
	}
	if err := s.markets.Update(ctx, m); err != nil {
		return decimal.Zero, fmt.Errorf("lending_service: update market %s: %w", denom, err)
	}

	s.logOp(ctx, "repay", account, denom, repaid)
	return repaid, nil
}

// Withdraw removes amount of denom from the account's collateral.
// Rejected when the account holds less, the market cannot release that
// much liquidity, or the remaining position would sit above its max
// loan-to-value.
func (s *LendingService) Withdraw(ctx context.Context, account string, kind domain.AccountKind, denom string, amount decimal.Decimal, now time.Time) error {
	if !amount.IsPositive() {
		return fmt.Errorf("lending_service: withdraw amount must be positive")
	}

	unlock, err := s.locks.Acquire(ctx, marketLockKey(denom), s.cfg.LockTTL)
	if err != nil {
		return fmt.Errorf("lending_service: lock %s: %w", denom, err)
	}
	defer unlock()

	m, err := s.markets.GetByDenom(ctx, denom)
	if err != nil {
		return fmt.Errorf("lending_service: get market %s: %w", denom, err)
	}
	if _, err := rates.Accrue(&m, now); err != nil {
		return fmt.Errorf("lending_service: accrue %s: %w", denom, err)
	}

	bal, err := s.balances.Get(ctx, account, denom, domain.BalanceKindDeposit)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("lending_service: %s holds no %s: %w", account, denom, domain.ErrInsufficientCapacity)
		}
		return fmt.Errorf("lending_service: get deposit %s/%s: %w", account, denom, err)
	}

	deposited := bal.Underlying(m.LiquidityIndex)
	if amount.GreaterThan(deposited) {
		return fmt.Errorf("lending_service: %s deposited %s %s: %w", account, deposited, denom, domain.ErrInsufficientCapacity)
	}
	if amount.GreaterThan(m.AvailableLiquidity()) {
		return fmt.Errorf("lending_service: market %s liquidity %s: %w", denom, m.AvailableLiquidity(), domain.ErrInsufficientCapacity)
	}

	if err := s.markets.Update(ctx, m); err != nil {
		return fmt.Errorf("lending_service: update market %s: %w", denom, err)
	}

	state, err := s.positions.AccountState(ctx, account, kind)
	if err != nil {
		return err
	}
	for i := range state.Collateral {
		if state.Collateral[i].Denom == denom {
			state.Collateral[i].Amount = state.Collateral[i].Amount.Sub(amount)
			break
		}
	}
	if snap := health.Compute(state); snap.AboveMaxLTV {
		return fmt.Errorf("lending_service: withdraw %s %s for %s: %w", amount, denom, account, domain.ErrBelowLiquidationThreshold)
	}

	scaled := amount.Div(m.LiquidityIndex)
	if amount.Equal(deposited) {
		scaled = bal.ScaledAmount
	}
	if err := s.adjustBalance(ctx, account, denom, domain.BalanceKindDeposit, scaled.Neg(), now); err != nil {
		return err
	}

	m.TotalScaledLiquidity = m.TotalScaledLiquidity.Sub(scaled)
	if m.TotalScaledLiquidity.IsNegative() {
		m.TotalScaledLiquidity = decimal.Zero
	}
	if err := s.markets.Update(ctx, m); err != nil {
		return fmt.Errorf("lending_service: update market %s: %w", denom, err)
	}

	s.logOp(ctx, "withdraw", account, denom, amount)
	return nil
}

// adjustBalance applies a scaled delta to the (account, denom, kind)
// balance, creating it when absent. A resulting zero scaled amount deletes
// the row through the store's upsert contract.
func (s *LendingService) adjustBalance(ctx context.Context, account, denom string, kind domain.BalanceKind, delta decimal.Decimal, now time.Time) error {
	bal, err := s.balances.Get(ctx, account, denom, kind)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("lending_service: get balance %s/%s: %w", account, denom, err)
		}
		bal = domain.ScaledBalance{Account: account, Denom: denom, Kind: kind}
	}

	bal.ScaledAmount = bal.ScaledAmount.Add(delta)
	if bal.ScaledAmount.IsNegative() {
		bal.ScaledAmount = decimal.Zero
	}
	bal.UpdatedAt = now

	if err := s.balances.Upsert(ctx, bal); err != nil {
		return fmt.Errorf("lending_service: upsert balance %s/%s: %w", account, denom, err)
	}
	return nil
}

func (s *LendingService) logOp(ctx context.Context, op, account, denom string, amount decimal.Decimal) {
	if err := s.audit.Log(ctx, op, map[string]any{
		"account": account,
		"denom":   denom,
		"amount":  amount.String(),
	}); err != nil {
		s.logger.WarnContext(ctx, "lending_service: audit log failed",
			slog.String("op", op),
			slog.String("error", err.Error()),
		)
	}

	s.logger.InfoContext(ctx, "lending_service: "+op,
		slog.String("account", account),
		slog.String("denom", denom),
		slog.String("amount", amount.String()),
	)
}
