package rates

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mars-protocol/riskengine/internal/domain"
)

// utilizationTolerance absorbs index rounding when re-deriving utilization.
// Anything above 1 by more than this is a bookkeeping bug, not rounding.
var utilizationTolerance = decimal.New(1, -9)

var secondsPerYear = decimal.NewFromInt(domain.SecondsPerYear)

// AccrualResult reports what an accrual pass did to a market.
type AccrualResult struct {
	// Advanced is false when no time elapsed since the last accrual; the
	// market is left untouched in that case.
	Advanced bool
	// RateRecomputed is true when the borrow and liquidity rates were
	// re-evaluated (always for the linear model, hysteresis-gated for the
	// dynamic model).
	RateRecomputed bool
	// RateClamped is true when the dynamic model hit its rate bounds.
	RateClamped bool
	// Utilization is the post-accrual utilization, clamped to [0, 1].
	Utilization decimal.Decimal
}

// Accrue advances the market's liquidity and debt indices from LastUpdated
// to now using the rates in force, then re-derives utilization and, subject
// to the update-hysteresis policy, recomputes the rates.
//
// The index advance itself is never skipped for elapsed time: hysteresis
// only bounds rate recomputation. Repeated calls at the same timestamp are
// no-ops, and both indices are non-decreasing across calls with
// non-decreasing timestamps.
func Accrue(m *domain.AssetMarket, now time.Time) (AccrualResult, error) {
	elapsed := now.Unix() - m.LastUpdated.Unix()
	if elapsed <= 0 {
		return AccrualResult{Advanced: false, Utilization: m.Utilization()}, nil
	}

	elapsedDec := decimal.NewFromInt(elapsed)

	// index_new = index_old * (1 + rate * elapsed / seconds_per_year)
	m.DebtIndex = m.DebtIndex.Mul(one.Add(m.BorrowRate.Mul(elapsedDec).Div(secondsPerYear)))
	m.LiquidityIndex = m.LiquidityIndex.Mul(one.Add(m.LiquidityRate.Mul(elapsedDec).Div(secondsPerYear)))
	m.LastUpdated = now

	utilization, err := deriveUtilization(m)
	if err != nil {
		return AccrualResult{Advanced: true, Utilization: utilization}, err
	}

	result := AccrualResult{Advanced: true, Utilization: utilization}

	recompute := true
	if m.RateModel.Kind == domain.RateModelDynamic {
		dyn := m.RateModel.Dynamic
		if dyn == nil {
			return result, fmt.Errorf("rates: market %s: dynamic model params missing", m.Denom)
		}
		m.TxsSinceRateUpdate++
		txsDue := dyn.UpdateThresholdTxs > 0 && m.TxsSinceRateUpdate >= dyn.UpdateThresholdTxs
		timeDue := dyn.UpdateThresholdSeconds > 0 && now.Unix()-m.RateUpdated.Unix() >= dyn.UpdateThresholdSeconds
		recompute = txsDue || timeDue
	}

	if recompute {
		rate, clamped, err := BorrowRate(m.RateModel, utilization, m.BorrowRate)
		if err != nil {
			return result, fmt.Errorf("rates: market %s: %w", m.Denom, err)
		}
		m.BorrowRate = rate
		m.LiquidityRate = LiquidityRate(rate, utilization, m.ReserveFactor)
		m.RateUpdated = now
		m.TxsSinceRateUpdate = 0
		result.RateRecomputed = true
		result.RateClamped = clamped
	}

	m.UpdatedAt = now
	return result, nil
}

// deriveUtilization recomputes utilization from the scaled totals and
// indices, tolerating sub-tolerance overshoot from rounding.
func deriveUtilization(m *domain.AssetMarket) (decimal.Decimal, error) {
	liquidity := m.UnderlyingLiquidity()
	if !liquidity.IsPositive() {
		if m.UnderlyingDebt().IsPositive() {
			return decimal.Zero, fmt.Errorf("rates: market %s has debt without liquidity: %w", m.Denom, domain.ErrInvalidUtilization)
		}
		return decimal.Zero, nil
	}

	raw := m.UnderlyingDebt().Div(liquidity)
	if raw.IsNegative() {
		return decimal.Zero, fmt.Errorf("rates: market %s utilization %s: %w", m.Denom, raw, domain.ErrInvalidUtilization)
	}
	if raw.GreaterThan(one.Add(utilizationTolerance)) {
		return one, fmt.Errorf("rates: market %s utilization %s: %w", m.Denom, raw, domain.ErrInvalidUtilization)
	}
	if raw.GreaterThan(one) {
		return one, nil
	}
	return raw, nil
}

// InitMarket sets the accrual state of a freshly listed market: both
// indices at 1, zero rates, and watermarks at the listing time.
func InitMarket(m *domain.AssetMarket, now time.Time) {
	m.LiquidityIndex = one
	m.DebtIndex = one
	m.BorrowRate = decimal.Zero
	m.LiquidityRate = decimal.Zero
	if m.RateModel.Kind == domain.RateModelDynamic && m.RateModel.Dynamic != nil {
		m.BorrowRate = m.RateModel.Dynamic.MinBorrowRate
	}
	m.TotalScaledLiquidity = decimal.Zero
	m.TotalScaledDebt = decimal.Zero
	m.LastUpdated = now
	m.RateUpdated = now
	m.TxsSinceRateUpdate = 0
	m.CreatedAt = now
	m.UpdatedAt = now
}
