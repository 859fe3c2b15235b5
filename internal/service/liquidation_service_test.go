package service

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mars-protocol/riskengine/internal/domain"
)

func newLiquidationEnv(t *testing.T) (*testEnv, *LiquidationService, *fakeLiquidationStore) {
	t.Helper()
	env := newTestEnv(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := &fakeLiquidationStore{}
	svc := NewLiquidationService(env.markets, env.balances, env.positions, store, env.prices, env.locks, env.audit,
		LiquidationConfig{
			CloseFactor:          dec("0.5"),
			ProtocolFeeCollector: "osmo1protocol",
			LockTTL:              5 * time.Second,
		}, logger)
	return env, svc, store
}

// underwater sets up an account that was healthy at borrow time and became
// liquidatable after its debt asset appreciated.
func underwater(t *testing.T, env *testEnv) {
	t.Helper()
	ctx := context.Background()
	env.fund(t)
	require.NoError(t, env.lending.Deposit(ctx, "osmo1alice", "uatom", dec("100"), testNow))
	require.NoError(t, env.lending.Borrow(ctx, "osmo1alice", domain.AccountKindDefault, "uusdc", dec("500"), testNow))

	// Debt value climbs from 500 to 800 against 750 of
	// threshold-weighted collateral.
	require.NoError(t, env.prices.SetPrice(ctx, "uusdc", dec("1.6"), testNow))
}

func TestLiquidateHappyPath(t *testing.T) {
	env, svc, store := newLiquidationEnv(t)
	ctx := context.Background()
	underwater(t, env)

	pre, err := env.positions.ComputeHealth(ctx, "osmo1alice", domain.AccountKindDefault)
	require.NoError(t, err)
	require.True(t, pre.Liquidatable)
	require.True(t, pre.LiquidationHealthFactor.Equal(dec("0.9375")))

	rec, err := svc.Liquidate(ctx, LiquidationRequest{
		Liquidator:      "osmo1keeper",
		Account:         "osmo1alice",
		Kind:            domain.AccountKindDefault,
		DebtDenom:       "uusdc",
		CollateralDenom: "uatom",
		RepayAmount:     dec("200"),
		Now:             testNow,
	})
	require.NoError(t, err)

	// bonus(0.9375) = 0.02 + 0.5*0.0625 = 0.05125, protocol keeps 10%.
	assert.True(t, rec.Bonus.Equal(dec("0.046125")), "got %s", rec.Bonus)
	assert.True(t, rec.ProtocolFee.Equal(dec("0.005125")), "got %s", rec.ProtocolFee)
	// seized = 200*1.6 * 1.05125 / 10 = 33.64 uatom.
	assert.True(t, rec.CollateralSeized.Equal(dec("33.64")), "got %s", rec.CollateralSeized)
	assert.True(t, rec.PostHealthFactor.GreaterThan(rec.PreHealthFactor))

	// Debt shrank, collateral moved, the liquidator and the protocol both
	// got their shares.
	debtBal, err := env.balances.Get(ctx, "osmo1alice", "uusdc", domain.BalanceKindDebt)
	require.NoError(t, err)
	assert.True(t, debtBal.ScaledAmount.Equal(dec("300")))

	keeperBal, err := env.balances.Get(ctx, "osmo1keeper", "uatom", domain.BalanceKindDeposit)
	require.NoError(t, err)
	assert.True(t, keeperBal.ScaledAmount.Equal(dec("33.476")), "got %s", keeperBal.ScaledAmount)

	feeBal, err := env.balances.Get(ctx, "osmo1protocol", "uatom", domain.BalanceKindDeposit)
	require.NoError(t, err)
	assert.True(t, feeBal.ScaledAmount.Equal(dec("0.164")), "got %s", feeBal.ScaledAmount)

	recs, err := store.ListRecent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.NotEmpty(t, recs[0].ID)
}

func TestLiquidateHealthyAccountRejected(t *testing.T) {
	env, svc, _ := newLiquidationEnv(t)
	ctx := context.Background()
	env.fund(t)
	require.NoError(t, env.lending.Deposit(ctx, "osmo1alice", "uatom", dec("100"), testNow))
	require.NoError(t, env.lending.Borrow(ctx, "osmo1alice", domain.AccountKindDefault, "uusdc", dec("500"), testNow))

	_, err := svc.Liquidate(ctx, LiquidationRequest{
		Liquidator:      "osmo1keeper",
		Account:         "osmo1alice",
		Kind:            domain.AccountKindDefault,
		DebtDenom:       "uusdc",
		CollateralDenom: "uatom",
		RepayAmount:     dec("100"),
		Now:             testNow,
	})
	assert.ErrorIs(t, err, domain.ErrNotLiquidatable)
}

func TestLiquidateRequiresFeeCollector(t *testing.T) {
	env, _, store := newLiquidationEnv(t)
	ctx := context.Background()
	underwater(t, env)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := NewLiquidationService(env.markets, env.balances, env.positions, store, env.prices, env.locks, env.audit,
		LiquidationConfig{
			CloseFactor: dec("0.5"),
			LockTTL:     5 * time.Second,
		}, logger)

	// An unset collector has nowhere to credit the protocol cut, so the
	// liquidation must refuse rather than drop it.
	_, err := svc.Liquidate(ctx, LiquidationRequest{
		Liquidator:      "osmo1keeper",
		Account:         "osmo1alice",
		Kind:            domain.AccountKindDefault,
		DebtDenom:       "uusdc",
		CollateralDenom: "uatom",
		RepayAmount:     dec("200"),
		Now:             testNow,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fee collector")

	// Nothing was written.
	bal, err := env.balances.Get(ctx, "osmo1alice", "uusdc", domain.BalanceKindDebt)
	require.NoError(t, err)
	assert.True(t, bal.ScaledAmount.Equal(dec("500")))
}

func TestLiquidateCloseFactorExceeded(t *testing.T) {
	env, svc, _ := newLiquidationEnv(t)
	ctx := context.Background()
	underwater(t, env)

	// Close factor 0.5 caps the repay at 250 of the 500 outstanding.
	_, err := svc.Liquidate(ctx, LiquidationRequest{
		Liquidator:      "osmo1keeper",
		Account:         "osmo1alice",
		Kind:            domain.AccountKindDefault,
		DebtDenom:       "uusdc",
		CollateralDenom: "uatom",
		RepayAmount:     dec("300"),
		Now:             testNow,
	})
	assert.ErrorIs(t, err, domain.ErrCloseFactorExceeded)

	// The rejection left the debt untouched.
	bal, err := env.balances.Get(ctx, "osmo1alice", "uusdc", domain.BalanceKindDebt)
	require.NoError(t, err)
	assert.True(t, bal.ScaledAmount.Equal(dec("500")))
}
