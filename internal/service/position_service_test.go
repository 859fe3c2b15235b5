package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mars-protocol/riskengine/internal/domain"
	"github.com/mars-protocol/riskengine/internal/health"
)

func TestGetPositionConvertsThroughIndices(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	require.NoError(t, env.lending.Deposit(ctx, "osmo1alice", "uatom", dec("100"), testNow))

	// Bump the liquidity index as if interest had accrued.
	m, err := env.markets.GetByDenom(ctx, "uatom")
	require.NoError(t, err)
	m.LiquidityIndex = dec("1.1")
	require.NoError(t, env.markets.Update(ctx, m))

	pos, err := env.positions.GetPosition(ctx, "osmo1alice", domain.AccountKindDefault)
	require.NoError(t, err)
	require.Len(t, pos.Deposits, 1)
	assert.Equal(t, "uatom", pos.Deposits[0].Denom)
	assert.True(t, pos.Deposits[0].Amount.Equal(dec("110")),
		"got %s", pos.Deposits[0].Amount)
}

func TestComputeHealthNoDebt(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	require.NoError(t, env.lending.Deposit(ctx, "osmo1alice", "uatom", dec("100"), testNow))

	snap, err := env.positions.ComputeHealth(ctx, "osmo1alice", domain.AccountKindDefault)
	require.NoError(t, err)

	assert.Nil(t, snap.MaxLTVHealthFactor)
	assert.Nil(t, snap.LiquidationHealthFactor)
	assert.False(t, snap.Liquidatable)
	assert.False(t, snap.AboveMaxLTV)
	assert.True(t, snap.TotalCollateralValue.Equal(dec("1000")))
}

func TestComputeHealthWithDebt(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.fund(t)

	require.NoError(t, env.lending.Deposit(ctx, "osmo1alice", "uatom", dec("100"), testNow))
	require.NoError(t, env.lending.Borrow(ctx, "osmo1alice", domain.AccountKindDefault, "uusdc", dec("200"), testNow))

	snap, err := env.positions.ComputeHealth(ctx, "osmo1alice", domain.AccountKindDefault)
	require.NoError(t, err)

	// Collateral 100 uatom at 10 with LTV 0.7 carries 700 of borrowing
	// power against 200 of debt.
	require.NotNil(t, snap.MaxLTVHealthFactor)
	assert.True(t, snap.MaxLTVHealthFactor.Equal(dec("3.5")),
		"got %s", snap.MaxLTVHealthFactor)
	assert.False(t, snap.Liquidatable)
}

func TestAccountStateMissingPrice(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	require.NoError(t, env.lending.Deposit(ctx, "osmo1alice", "uatom", dec("100"), testNow))
	env.prices.quotes = map[string]domain.PriceQuote{}

	_, err := env.positions.AccountState(ctx, "osmo1alice", domain.AccountKindDefault)
	assert.ErrorIs(t, err, domain.ErrNoPriceQuote)
}

func TestMaxBorrowWalletTarget(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.fund(t)

	require.NoError(t, env.lending.Deposit(ctx, "osmo1alice", "uatom", dec("100"), testNow))

	max, err := env.positions.MaxBorrow(ctx, "osmo1alice", domain.AccountKindDefault, "uusdc", health.TargetWallet, "")
	require.NoError(t, err)
	assert.True(t, max.Equal(dec("700")), "got %s", max)
}

func TestMaxBorrowDepositTargetBoundedByDepositCap(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.fund(t)

	// The pool already holds 100000 uusdc against a 100050 cap, so only
	// 50 more can be redeposited no matter how much health allows.
	m, err := env.markets.GetByDenom(ctx, "uusdc")
	require.NoError(t, err)
	m.DepositCap = dec("100050")
	require.NoError(t, env.markets.Update(ctx, m))

	require.NoError(t, env.lending.Deposit(ctx, "osmo1alice", "uatom", dec("100"), testNow))

	max, err := env.positions.MaxBorrow(ctx, "osmo1alice", domain.AccountKindDefault, "uusdc", health.TargetDeposit, "")
	require.NoError(t, err)
	assert.True(t, max.Equal(dec("50")), "got %s", max)
}

func TestMaxBorrowVaultTargetRequiresWhitelist(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.fund(t)

	require.NoError(t, env.lending.Deposit(ctx, "osmo1alice", "uatom", dec("100"), testNow))

	env.reporter.configs["vault-1"] = domain.VaultConfig{
		VaultID:        "vault-1",
		MaxLoanToValue: dec("0.5"),
		Whitelisted:    false,
	}

	// A delisted vault adds no borrowing power, so the limit matches the
	// wallet target.
	max, err := env.positions.MaxBorrow(ctx, "osmo1alice", domain.AccountKindDefault, "uusdc", health.TargetVault, "vault-1")
	require.NoError(t, err)
	assert.True(t, max.Equal(dec("700")), "got %s", max)
}

func TestVaultHoldingCountsWhenWhitelisted(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	require.NoError(t, env.vaults.Upsert(ctx, domain.VaultPosition{
		Account: "osmo1alice",
		VaultID: "vault-1",
		Amount:  dec("50"),
	}))
	env.reporter.values["vault-1"] = domain.Coin{Denom: "uusdc", Amount: dec("500")}
	env.reporter.configs["vault-1"] = domain.VaultConfig{
		VaultID:              "vault-1",
		MaxLoanToValue:       dec("0.5"),
		LiquidationThreshold: dec("0.55"),
		Whitelisted:          true,
	}

	snap, err := env.positions.ComputeHealth(ctx, "osmo1alice", domain.AccountKindDefault)
	require.NoError(t, err)
	assert.True(t, snap.TotalCollateralValue.Equal(dec("500")))
	assert.True(t, snap.MaxLTVAdjustedCollateral.Equal(dec("250")),
		"got %s", snap.MaxLTVAdjustedCollateral)
}

func TestLiquidationPriceNilWithoutDebt(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	require.NoError(t, env.lending.Deposit(ctx, "osmo1alice", "uatom", dec("100"), testNow))

	price, err := env.positions.LiquidationPrice(ctx, "osmo1alice", domain.AccountKindDefault, "uatom")
	require.NoError(t, err)
	assert.Nil(t, price)
}
