package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/mars-protocol/riskengine/internal/domain"
	"github.com/mars-protocol/riskengine/internal/health"
)

// PositionService aggregates an account's exposure: scaled balances
// converted to underlying amounts through current indices, vault positions
// valued by the external reporter, and one batched price lookup covering
// every denom involved. All health and capacity queries build on the
// resulting priced state.
type PositionService struct {
	markets  domain.MarketStore
	balances domain.BalanceStore
	vaults   domain.VaultPositionStore
	reporter domain.VaultReporter
	prices   domain.PriceCache
	logger   *slog.Logger
}

// NewPositionService creates a PositionService with all required
// dependencies.
func NewPositionService(
	markets domain.MarketStore,
	balances domain.BalanceStore,
	vaults domain.VaultPositionStore,
	reporter domain.VaultReporter,
	prices domain.PriceCache,
	logger *slog.Logger,
) *PositionService {
	return &PositionService{
		markets:  markets,
		balances: balances,
		vaults:   vaults,
		reporter: reporter,
		prices:   prices,
		logger:   logger,
	}
}

// GetPosition returns the account's full exposure in underlying units,
// converting each scaled balance through its market's current index.
// Indices are read as committed; callers needing up-to-the-second interest
// should accrue the involved markets first.
func (s *PositionService) GetPosition(ctx context.Context, account string, kind domain.AccountKind) (domain.Position, error) {
	balances, err := s.balances.ListByAccount(ctx, account)
	if err != nil {
		return domain.Position{}, fmt.Errorf("position_service: list balances for %s: %w", account, err)
	}

	pos := domain.Position{Account: account, Kind: kind}
	seen := map[string]domain.AssetMarket{}
	for _, b := range balances {
		m, ok := seen[b.Denom]
		if !ok {
			m, err = s.markets.GetByDenom(ctx, b.Denom)
			if err != nil {
				return domain.Position{}, fmt.Errorf("position_service: market %s: %w", b.Denom, err)
			}
			seen[b.Denom] = m
		}

		switch b.Kind {
		case domain.BalanceKindDeposit:
			pos.Deposits = append(pos.Deposits, domain.Coin{
				Denom:  b.Denom,
				Amount: b.Underlying(m.LiquidityIndex),
			})
		case domain.BalanceKindDebt:
			pos.Debts = append(pos.Debts, domain.Coin{
				Denom:  b.Denom,
				Amount: b.Underlying(m.DebtIndex),
			})
		}
	}

	vaultPositions, err := s.vaults.ListByAccount(ctx, account)
	if err != nil {
		return domain.Position{}, fmt.Errorf("position_service: list vaults for %s: %w", account, err)
	}
	pos.Vaults = vaultPositions

	return pos, nil
}

// AccountState resolves a position against a single consistent price
// snapshot and each market's risk parameters, producing the input the
// health computer and capacity estimators operate on.
func (s *PositionService) AccountState(ctx context.Context, account string, kind domain.AccountKind) (health.AccountState, error) {
	pos, err := s.GetPosition(ctx, account, kind)
	if err != nil {
		return health.AccountState{}, err
	}

	denomSet := map[string]struct{}{}
	denoms := make([]string, 0, len(pos.Deposits)+len(pos.Debts))
	for _, coins := range [][]domain.Coin{pos.Deposits, pos.Debts} {
		for _, c := range coins {
			if _, ok := denomSet[c.Denom]; ok {
				continue
			}
			denomSet[c.Denom] = struct{}{}
			denoms = append(denoms, c.Denom)
		}
	}

	prices := map[string]decimal.Decimal{}
	if len(denoms) > 0 {
		prices, err = s.prices.GetPrices(ctx, denoms)
		if err != nil {
			return health.AccountState{}, fmt.Errorf("position_service: get prices: %w", err)
		}
	}

	state := health.AccountState{Account: account, Kind: kind}

	for _, c := range pos.Deposits {
		price, ok := prices[c.Denom]
		if !ok {
			return health.AccountState{}, fmt.Errorf("position_service: deposit %s: %w", c.Denom, domain.ErrNoPriceQuote)
		}
		m, err := s.markets.GetByDenom(ctx, c.Denom)
		if err != nil {
			return health.AccountState{}, fmt.Errorf("position_service: market %s: %w", c.Denom, err)
		}
		state.Collateral = append(state.Collateral, health.CollateralAsset{
			Denom:                c.Denom,
			Amount:               c.Amount,
			Price:                price,
			MaxLoanToValue:       m.MaxLoanToValue,
			LiquidationThreshold: m.LiquidationThreshold,
		})
	}

	for _, c := range pos.Debts {
		price, ok := prices[c.Denom]
		if !ok {
			return health.AccountState{}, fmt.Errorf("position_service: debt %s: %w", c.Denom, domain.ErrNoPriceQuote)
		}
		state.Debts = append(state.Debts, health.DebtAsset{
			Denom:  c.Denom,
			Amount: c.Amount,
			Price:  price,
		})
	}

	for _, v := range pos.Vaults {
		value, err := s.reporter.VaultValue(ctx, v.VaultID, v)
		if err != nil {
			return health.AccountState{}, fmt.Errorf("position_service: vault value %s: %w", v.VaultID, err)
		}
		cfg, err := s.reporter.VaultConfig(ctx, v.VaultID)
		if err != nil {
			return health.AccountState{}, fmt.Errorf("position_service: vault config %s: %w", v.VaultID, err)
		}
		state.Vaults = append(state.Vaults, health.VaultHolding{
			VaultID:              v.VaultID,
			Value:                value.Amount,
			MaxLoanToValue:       cfg.MaxLoanToValue,
			LiquidationThreshold: cfg.LiquidationThreshold,
			Whitelisted:          cfg.Whitelisted,
		})
	}

	return state, nil
}

// ComputeHealth returns the account's current health snapshot.
func (s *PositionService) ComputeHealth(ctx context.Context, account string, kind domain.AccountKind) (domain.HealthSnapshot, error) {
	state, err := s.AccountState(ctx, account, kind)
	if err != nil {
		return domain.HealthSnapshot{}, err
	}
	return health.Compute(state), nil
}

// MaxBorrow returns the largest amount of denom the account can borrow
// while staying at or above a max-LTV health factor of 1, bounded by the
// market's lendable liquidity and by the destination's deposit cap (the
// market's remaining headroom for the deposit target, the vault's cap for
// the vault target). For the vault target, vaultID selects the
// destination vault whose loan-to-value weighting applies.
func (s *PositionService) MaxBorrow(ctx context.Context, account string, kind domain.AccountKind, denom string, target health.BorrowTarget, vaultID string) (decimal.Decimal, error) {
	state, err := s.AccountState(ctx, account, kind)
	if err != nil {
		return decimal.Zero, err
	}
	m, err := s.markets.GetByDenom(ctx, denom)
	if err != nil {
		return decimal.Zero, fmt.Errorf("position_service: market %s: %w", denom, err)
	}
	quote, err := s.prices.GetPrice(ctx, denom)
	if err != nil {
		return decimal.Zero, fmt.Errorf("position_service: price %s: %w", denom, domain.ErrNoPriceQuote)
	}

	q := health.BorrowQuery{
		Price:              quote.Price,
		Target:             target,
		AvailableLiquidity: m.AvailableLiquidity(),
	}
	switch target {
	case health.TargetDeposit:
		q.TargetLTV = m.MaxLoanToValue
		if m.IsDepositCapActive() {
			headroom := m.DepositCap.Sub(m.UnderlyingLiquidity())
			if headroom.IsNegative() {
				headroom = decimal.Zero
			}
			q.DepositCapHeadroom = &headroom
		}
	case health.TargetVault:
		cfg, err := s.reporter.VaultConfig(ctx, vaultID)
		if err != nil {
			return decimal.Zero, fmt.Errorf("position_service: vault config %s: %w", vaultID, err)
		}
		if cfg.Whitelisted {
			q.TargetLTV = cfg.MaxLoanToValue
		}
		// A delisted vault gives the deposit no borrowing power, same as
		// the wallet target. Its deposit cap still binds.
		if cfg.DepositCap.IsPositive() {
			vaultCap := cfg.DepositCap
			q.DepositCapHeadroom = &vaultCap
		}
	}

	return health.MaxBorrow(health.Compute(state), q), nil
}

// MaxWithdraw returns the largest amount of denom the account can withdraw
// while staying healthy, bounded by its deposited amount.
func (s *PositionService) MaxWithdraw(ctx context.Context, account string, kind domain.AccountKind, denom string) (decimal.Decimal, error) {
	state, err := s.AccountState(ctx, account, kind)
	if err != nil {
		return decimal.Zero, err
	}

	for _, c := range state.Collateral {
		if c.Denom == denom {
			return health.MaxWithdraw(health.Compute(state), c.Price, c.MaxLoanToValue, c.Amount), nil
		}
	}
	return decimal.Zero, nil
}

// MaxSwap returns the largest amount of the from asset that can be swapped
// into the to asset while staying healthy. The margin kind treats the swap
// as a synthetic borrow of the from asset.
func (s *PositionService) MaxSwap(ctx context.Context, account string, kind domain.AccountKind, fromDenom, toDenom string) (decimal.Decimal, error) {
	state, err := s.AccountState(ctx, account, kind)
	if err != nil {
		return decimal.Zero, err
	}

	from, err := s.swapLeg(ctx, fromDenom)
	if err != nil {
		return decimal.Zero, err
	}
	to, err := s.swapLeg(ctx, toDenom)
	if err != nil {
		return decimal.Zero, err
	}

	var balance decimal.Decimal
	for _, c := range state.Collateral {
		if c.Denom == fromDenom {
			balance = c.Amount
			break
		}
	}

	return health.MaxSwap(health.Compute(state), from, to, kind, balance), nil
}

// LiquidationPrice returns the price of denom at which the account would
// become liquidatable, nil when no such price exists.
func (s *PositionService) LiquidationPrice(ctx context.Context, account string, kind domain.AccountKind, denom string) (*decimal.Decimal, error) {
	state, err := s.AccountState(ctx, account, kind)
	if err != nil {
		return nil, err
	}

	for _, c := range state.Collateral {
		if c.Denom == denom {
			return health.LiquidationPrice(health.Compute(state), c), nil
		}
	}
	return nil, nil
}

func (s *PositionService) swapLeg(ctx context.Context, denom string) (health.SwapLeg, error) {
	m, err := s.markets.GetByDenom(ctx, denom)
	if err != nil {
		return health.SwapLeg{}, fmt.Errorf("position_service: market %s: %w", denom, err)
	}
	quote, err := s.prices.GetPrice(ctx, denom)
	if err != nil {
		return health.SwapLeg{}, fmt.Errorf("position_service: price %s: %w", denom, domain.ErrNoPriceQuote)
	}
	return health.SwapLeg{
		Denom:          denom,
		Price:          quote.Price,
		MaxLoanToValue: m.MaxLoanToValue,
	}, nil
}
