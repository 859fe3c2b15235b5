package rates

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mars-protocol/riskengine/internal/domain"
)

var t0 = time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

func testMarket(model domain.InterestRateModel) domain.AssetMarket {
	m := domain.AssetMarket{
		Denom:                "uosmo",
		ReserveFactor:        dec("0.2"),
		MaxLoanToValue:       dec("0.7"),
		LiquidationThreshold: dec("0.75"),
		RateModel:            model,
		BorrowEnabled:        true,
		DepositEnabled:       true,
	}
	InitMarket(&m, t0)
	m.TotalScaledLiquidity = dec("1000")
	m.TotalScaledDebt = dec("500")
	return m
}

func TestAccrueSameTimestampIsNoOp(t *testing.T) {
	m := testMarket(linearModel())
	before := m

	res, err := Accrue(&m, t0)

	require.NoError(t, err)
	assert.False(t, res.Advanced)
	assert.Equal(t, before, m)
}

func TestAccrueAdvancesIndices(t *testing.T) {
	m := testMarket(linearModel())
	m.BorrowRate = dec("0.1")
	m.LiquidityRate = dec("0.04")

	res, err := Accrue(&m, t0.Add(domain.SecondsPerYear*time.Second))

	require.NoError(t, err)
	assert.True(t, res.Advanced)
	// index_new = index_old * (1 + rate * elapsed / seconds_per_year)
	assert.True(t, m.DebtIndex.Equal(dec("1.1")), "debt index %s", m.DebtIndex)
	assert.True(t, m.LiquidityIndex.Equal(dec("1.04")), "liquidity index %s", m.LiquidityIndex)
}

func TestAccrueIndicesMonotonic(t *testing.T) {
	m := testMarket(linearModel())

	prevLiquidity := m.LiquidityIndex
	prevDebt := m.DebtIndex

	now := t0
	for i := 0; i < 50; i++ {
		now = now.Add(time.Duration(1+i*37) * time.Second)
		_, err := Accrue(&m, now)
		require.NoError(t, err)

		assert.True(t, m.LiquidityIndex.GreaterThanOrEqual(prevLiquidity),
			"liquidity index decreased at step %d", i)
		assert.True(t, m.DebtIndex.GreaterThanOrEqual(prevDebt),
			"debt index decreased at step %d", i)
		util := m.Utilization()
		assert.True(t, util.GreaterThanOrEqual(decimal.Zero) && util.LessThanOrEqual(dec("1")))

		prevLiquidity = m.LiquidityIndex
		prevDebt = m.DebtIndex
	}
}

func TestLinearModelRecomputesEveryAccrual(t *testing.T) {
	m := testMarket(linearModel())

	res, err := Accrue(&m, t0.Add(time.Second))

	require.NoError(t, err)
	assert.True(t, res.RateRecomputed)
	// utilization 500/1000 = 0.5, below the 0.6 kink: 0.15*(0.5/0.6) = 0.125
	assert.True(t, m.BorrowRate.Equal(dec("0.125")), "got %s", m.BorrowRate)
	// 0.125 * 0.5 * (1 - 0.2) = 0.05
	assert.True(t, m.LiquidityRate.Equal(dec("0.05")), "got %s", m.LiquidityRate)
	assert.Equal(t, uint32(0), m.TxsSinceRateUpdate)
}

func TestDynamicHysteresisTxThreshold(t *testing.T) {
	model := dynamicModel()
	model.Dynamic.UpdateThresholdTxs = 3
	model.Dynamic.UpdateThresholdSeconds = 0 // tx gate only
	m := testMarket(model)
	m.TotalScaledDebt = dec("800") // utilization 0.8, away from the 0.5 setpoint
	m.BorrowRate = dec("0.3")
	initialRate := m.BorrowRate

	// The first N-1 interactions must not change the borrow rate.
	now := t0
	for i := 0; i < 2; i++ {
		now = now.Add(time.Second)
		res, err := Accrue(&m, now)
		require.NoError(t, err)
		assert.False(t, res.RateRecomputed, "recomputed at tx %d", i+1)
		assert.True(t, m.BorrowRate.Equal(initialRate))
	}
	assert.Equal(t, uint32(2), m.TxsSinceRateUpdate)

	// The N-th interaction allows the rate to change.
	now = now.Add(time.Second)
	res, err := Accrue(&m, now)
	require.NoError(t, err)
	assert.True(t, res.RateRecomputed)
	assert.False(t, m.BorrowRate.Equal(initialRate))
	assert.Equal(t, uint32(0), m.TxsSinceRateUpdate)
}

func TestDynamicHysteresisTimeThreshold(t *testing.T) {
	model := dynamicModel()
	model.Dynamic.UpdateThresholdTxs = 1000
	model.Dynamic.UpdateThresholdSeconds = 3600
	m := testMarket(model)
	m.TotalScaledDebt = dec("800")
	m.BorrowRate = dec("0.3")
	initialRate := m.BorrowRate

	res, err := Accrue(&m, t0.Add(30*time.Minute))
	require.NoError(t, err)
	assert.False(t, res.RateRecomputed)
	assert.True(t, m.BorrowRate.Equal(initialRate))

	// One hour since the last rate update crosses the elapsed gate.
	res, err = Accrue(&m, t0.Add(time.Hour))
	require.NoError(t, err)
	assert.True(t, res.RateRecomputed)
	assert.False(t, m.BorrowRate.Equal(initialRate))
}

func TestDynamicRateStaysWithinBounds(t *testing.T) {
	model := dynamicModel()
	model.Dynamic.UpdateThresholdTxs = 1
	m := testMarket(model)
	// Heavily utilized market pushes the controller upward every accrual.
	m.TotalScaledDebt = dec("900")

	now := t0
	for i := 0; i < 20; i++ {
		now = now.Add(time.Minute)
		_, err := Accrue(&m, now)
		require.NoError(t, err)

		assert.True(t, m.BorrowRate.GreaterThanOrEqual(model.Dynamic.MinBorrowRate))
		assert.True(t, m.BorrowRate.LessThanOrEqual(model.Dynamic.MaxBorrowRate))
	}
	// The controller must have saturated at the cap by now.
	assert.True(t, m.BorrowRate.Equal(model.Dynamic.MaxBorrowRate), "got %s", m.BorrowRate)
}

func TestAccrueDebtWithoutLiquidity(t *testing.T) {
	m := testMarket(linearModel())
	m.TotalScaledLiquidity = decimal.Zero
	m.TotalScaledDebt = dec("10")

	_, err := Accrue(&m, t0.Add(time.Second))

	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInvalidUtilization)
}

func TestInitMarket(t *testing.T) {
	m := domain.AssetMarket{Denom: "uatom", RateModel: dynamicModel()}

	InitMarket(&m, t0)

	assert.True(t, m.LiquidityIndex.Equal(dec("1")))
	assert.True(t, m.DebtIndex.Equal(dec("1")))
	assert.True(t, m.BorrowRate.Equal(m.RateModel.Dynamic.MinBorrowRate))
	assert.Equal(t, t0, m.LastUpdated)
	assert.Equal(t, t0, m.RateUpdated)
}
