package service

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mars-protocol/riskengine/internal/domain"
	"github.com/mars-protocol/riskengine/internal/rates"
)

var testNow = time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

type testEnv struct {
	markets   *fakeMarketStore
	balances  *fakeBalanceStore
	vaults    *fakeVaultPositionStore
	prices    *fakePriceCache
	locks     *fakeLockManager
	audit     *fakeAuditStore
	reporter  *fakeVaultReporter
	positions *PositionService
	lending   *LendingService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	env := &testEnv{
		markets:  newFakeMarketStore(),
		balances: newFakeBalanceStore(),
		vaults:   newFakeVaultPositionStore(),
		prices:   newFakePriceCache(),
		locks:    newFakeLockManager(),
		audit:    &fakeAuditStore{},
		reporter: &fakeVaultReporter{
			values:  map[string]domain.Coin{},
			configs: map[string]domain.VaultConfig{},
		},
	}
	env.positions = NewPositionService(env.markets, env.balances, env.vaults, env.reporter, env.prices, logger)
	env.lending = NewLendingService(env.markets, env.balances, env.positions, env.prices, env.locks, env.audit,
		LendingConfig{LockTTL: 5 * time.Second}, logger)

	env.listMarket(t, "uatom", dec("0.7"), dec("0.75"), dec("10"))
	env.listMarket(t, "uusdc", dec("0.8"), dec("0.85"), dec("1"))

	return env
}

func (e *testEnv) listMarket(t *testing.T, denom string, ltv, liqThreshold, price decimal.Decimal) {
	t.Helper()
	m := domain.AssetMarket{
		Denom:                denom,
		ReserveFactor:        dec("0.2"),
		MaxLoanToValue:       ltv,
		LiquidationThreshold: liqThreshold,
		LiquidationBonus: domain.LiquidationBonus{
			StartingLB: dec("0.02"),
			Slope:      dec("0.5"),
			MinLB:      dec("0.01"),
			MaxLB:      dec("0.1"),
		},
		ProtocolLiquidationFee: dec("0.1"),
		RateModel: domain.InterestRateModel{
			Kind: domain.RateModelLinear,
			Linear: &domain.LinearModel{
				OptimalUtilization: dec("0.6"),
				Base:               dec("0"),
				Slope1:             dec("0.15"),
				Slope2:             dec("3"),
			},
		},
		BorrowEnabled:  true,
		DepositEnabled: true,
	}
	rates.InitMarket(&m, testNow)
	require.NoError(t, e.markets.Create(context.Background(), m))
	require.NoError(t, e.prices.SetPrice(context.Background(), denom, price, testNow))
}

// fund seeds uusdc pool liquidity so borrows have something to draw on.
func (e *testEnv) fund(t *testing.T) {
	t.Helper()
	require.NoError(t, e.lending.Deposit(context.Background(), "osmo1whale", "uusdc", dec("100000"), testNow))
}

func TestDepositCreatesScaledBalance(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	require.NoError(t, env.lending.Deposit(ctx, "osmo1alice", "uatom", dec("100"), testNow))

	bal, err := env.balances.Get(ctx, "osmo1alice", "uatom", domain.BalanceKindDeposit)
	require.NoError(t, err)
	assert.True(t, bal.ScaledAmount.Equal(dec("100")))

	m, err := env.markets.GetByDenom(ctx, "uatom")
	require.NoError(t, err)
	assert.True(t, m.TotalScaledLiquidity.Equal(dec("100")))
}

func TestDepositDisabled(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	m, err := env.markets.GetByDenom(ctx, "uatom")
	require.NoError(t, err)
	m.DepositEnabled = false
	require.NoError(t, env.markets.Update(ctx, m))

	err = env.lending.Deposit(ctx, "osmo1alice", "uatom", dec("100"), testNow)
	assert.ErrorIs(t, err, domain.ErrDepositDisabled)
}

func TestDepositCapExceeded(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	m, err := env.markets.GetByDenom(ctx, "uatom")
	require.NoError(t, err)
	m.DepositCap = dec("150")
	require.NoError(t, env.markets.Update(ctx, m))

	require.NoError(t, env.lending.Deposit(ctx, "osmo1alice", "uatom", dec("100"), testNow))
	err = env.lending.Deposit(ctx, "osmo1bob", "uatom", dec("60"), testNow)
	assert.ErrorIs(t, err, domain.ErrDepositCapExceeded)
}

func TestBorrowWithinCapacity(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.fund(t)

	// 100 uatom at price 10 and LTV 0.7 backs up to 700 of debt value.
	require.NoError(t, env.lending.Deposit(ctx, "osmo1alice", "uatom", dec("100"), testNow))
	require.NoError(t, env.lending.Borrow(ctx, "osmo1alice", domain.AccountKindDefault, "uusdc", dec("500"), testNow))

	bal, err := env.balances.Get(ctx, "osmo1alice", "uusdc", domain.BalanceKindDebt)
	require.NoError(t, err)
	assert.True(t, bal.ScaledAmount.Equal(dec("500")))

	snap, err := env.positions.ComputeHealth(ctx, "osmo1alice", domain.AccountKindDefault)
	require.NoError(t, err)
	require.NotNil(t, snap.MaxLTVHealthFactor)
	assert.True(t, snap.MaxLTVHealthFactor.Equal(dec("1.4")), "got %s", snap.MaxLTVHealthFactor)
}

func TestBorrowRejectedAboveMaxLTV(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.fund(t)

	require.NoError(t, env.lending.Deposit(ctx, "osmo1alice", "uatom", dec("100"), testNow))

	err := env.lending.Borrow(ctx, "osmo1alice", domain.AccountKindDefault, "uusdc", dec("701"), testNow)
	assert.ErrorIs(t, err, domain.ErrBelowLiquidationThreshold)

	// Nothing was committed.
	_, err = env.balances.Get(ctx, "osmo1alice", "uusdc", domain.BalanceKindDebt)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestBorrowInsufficientLiquidity(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// Pool holds only 100 uusdc.
	require.NoError(t, env.lending.Deposit(ctx, "osmo1whale", "uusdc", dec("100"), testNow))
	require.NoError(t, env.lending.Deposit(ctx, "osmo1alice", "uatom", dec("100"), testNow))

	err := env.lending.Borrow(ctx, "osmo1alice", domain.AccountKindDefault, "uusdc", dec("200"), testNow)
	assert.ErrorIs(t, err, domain.ErrInsufficientCapacity)
}

func TestBorrowDisabled(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.fund(t)

	m, err := env.markets.GetByDenom(ctx, "uusdc")
	require.NoError(t, err)
	m.BorrowEnabled = false
	require.NoError(t, env.markets.Update(ctx, m))

	require.NoError(t, env.lending.Deposit(ctx, "osmo1alice", "uatom", dec("100"), testNow))
	err = env.lending.Borrow(ctx, "osmo1alice", domain.AccountKindDefault, "uusdc", dec("10"), testNow)
	assert.ErrorIs(t, err, domain.ErrBorrowDisabled)
}

func TestRepayCappedAtOutstanding(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.fund(t)

	require.NoError(t, env.lending.Deposit(ctx, "osmo1alice", "uatom", dec("100"), testNow))
	require.NoError(t, env.lending.Borrow(ctx, "osmo1alice", domain.AccountKindDefault, "uusdc", dec("500"), testNow))

	repaid, err := env.lending.Repay(ctx, "osmo1alice", "uusdc", dec("600"), testNow)
	require.NoError(t, err)
	assert.True(t, repaid.Equal(dec("500")), "got %s", repaid)

	// Full repayment removes the debt row entirely.
	_, err = env.balances.Get(ctx, "osmo1alice", "uusdc", domain.BalanceKindDebt)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	m, err := env.markets.GetByDenom(ctx, "uusdc")
	require.NoError(t, err)
	assert.True(t, m.TotalScaledDebt.IsZero())
}

func TestWithdrawHealthGate(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.fund(t)

	require.NoError(t, env.lending.Deposit(ctx, "osmo1alice", "uatom", dec("100"), testNow))
	require.NoError(t, env.lending.Borrow(ctx, "osmo1alice", domain.AccountKindDefault, "uusdc", dec("500"), testNow))

	// Headroom is 200; each uatom carries 7 of borrowing power, so 28 can
	// leave but 30 cannot.
	require.NoError(t, env.lending.Withdraw(ctx, "osmo1alice", domain.AccountKindDefault, "uatom", dec("28"), testNow))
	err := env.lending.Withdraw(ctx, "osmo1alice", domain.AccountKindDefault, "uatom", dec("30"), testNow)
	assert.ErrorIs(t, err, domain.ErrBelowLiquidationThreshold)
}

func TestWithdrawAllWithoutDebt(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	require.NoError(t, env.lending.Deposit(ctx, "osmo1alice", "uatom", dec("100"), testNow))
	require.NoError(t, env.lending.Withdraw(ctx, "osmo1alice", domain.AccountKindDefault, "uatom", dec("100"), testNow))

	_, err := env.balances.Get(ctx, "osmo1alice", "uatom", domain.BalanceKindDeposit)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	m, err := env.markets.GetByDenom(ctx, "uatom")
	require.NoError(t, err)
	assert.True(t, m.TotalScaledLiquidity.IsZero())
}

func TestWithdrawMoreThanDeposited(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	require.NoError(t, env.lending.Deposit(ctx, "osmo1alice", "uatom", dec("100"), testNow))

	err := env.lending.Withdraw(ctx, "osmo1alice", domain.AccountKindDefault, "uatom", dec("101"), testNow)
	assert.ErrorIs(t, err, domain.ErrInsufficientCapacity)
}
