// Package rates implements the interest rate models and the index accrual
// engine for the asset market registry. Everything here is pure computation
// over an in-memory AssetMarket; persistence and locking live in the
// service layer.
package rates

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/mars-protocol/riskengine/internal/domain"
)

var one = decimal.New(1, 0)

// BorrowRate evaluates the market's rate model at the given utilization.
// The previous rate is only consulted by the dynamic model, which adjusts
// incrementally rather than recomputing from scratch. The returned clamped
// flag reports whether the dynamic model hit its [min, max] bounds.
func BorrowRate(model domain.InterestRateModel, utilization, previous decimal.Decimal) (rate decimal.Decimal, clamped bool, err error) {
	switch model.Kind {
	case domain.RateModelLinear:
		if model.Linear == nil {
			return decimal.Zero, false, fmt.Errorf("rates: linear model params missing")
		}
		return linearRate(*model.Linear, utilization), false, nil
	case domain.RateModelDynamic:
		if model.Dynamic == nil {
			return decimal.Zero, false, fmt.Errorf("rates: dynamic model params missing")
		}
		rate, clamped = dynamicRate(*model.Dynamic, utilization, previous)
		return rate, clamped, nil
	default:
		return decimal.Zero, false, fmt.Errorf("rates: unknown rate model kind %q", model.Kind)
	}
}

// linearRate is the two-segment kinked curve. Below the kink the rate rises
// from Base proportionally to utilization/optimal; above it the rate
// continues from the kink value with the steeper Slope2 applied to the
// fraction of the remaining utilization range.
func linearRate(m domain.LinearModel, utilization decimal.Decimal) decimal.Decimal {
	if m.OptimalUtilization.IsPositive() && utilization.LessThanOrEqual(m.OptimalUtilization) {
		// base + slope1 * (u / u_opt)
		return m.Base.Add(m.Slope1.Mul(utilization).Div(m.OptimalUtilization))
	}

	kinkRate := m.Base.Add(m.Slope1)
	denom := one.Sub(m.OptimalUtilization)
	if !denom.IsPositive() {
		return kinkRate
	}
	// kink + slope2 * (u - u_opt) / (1 - u_opt)
	excess := utilization.Sub(m.OptimalUtilization)
	return kinkRate.Add(m.Slope2.Mul(excess).Div(denom))
}

// dynamicRate applies a two-gain proportional controller: the rate moves
// from its previous value by kp * (utilization - optimal), with the steeper
// Kp2 gain once the error magnitude exceeds the augmentation threshold.
// The output is clamped to [MinBorrowRate, MaxBorrowRate].
func dynamicRate(m domain.DynamicModel, utilization, previous decimal.Decimal) (decimal.Decimal, bool) {
	utilizationErr := utilization.Sub(m.OptimalUtilization)

	kp := m.Kp1
	if utilizationErr.Abs().GreaterThan(m.KpAugmentationThreshold) {
		kp = m.Kp2
	}

	rate := previous.Add(kp.Mul(utilizationErr))

	if rate.LessThan(m.MinBorrowRate) {
		return m.MinBorrowRate, true
	}
	if rate.GreaterThan(m.MaxBorrowRate) {
		return m.MaxBorrowRate, true
	}
	return rate, false
}

// LiquidityRate is the share of borrower interest passed to depositors:
// borrow_rate * utilization * (1 - reserve_factor).
func LiquidityRate(borrowRate, utilization, reserveFactor decimal.Decimal) decimal.Decimal {
	return borrowRate.Mul(utilization).Mul(one.Sub(reserveFactor))
}

// ValidateModel checks a rate model's parameters at market listing time.
func ValidateModel(model domain.InterestRateModel) error {
	switch model.Kind {
	case domain.RateModelLinear:
		m := model.Linear
		if m == nil {
			return fmt.Errorf("rates: linear model params missing")
		}
		if !m.OptimalUtilization.IsPositive() || m.OptimalUtilization.GreaterThanOrEqual(one) {
			return fmt.Errorf("rates: optimal utilization must be in (0, 1), got %s", m.OptimalUtilization)
		}
		if m.Base.IsNegative() || m.Slope1.IsNegative() || m.Slope2.IsNegative() {
			return fmt.Errorf("rates: linear model slopes and base must be non-negative")
		}
		return nil
	case domain.RateModelDynamic:
		m := model.Dynamic
		if m == nil {
			return fmt.Errorf("rates: dynamic model params missing")
		}
		if m.MinBorrowRate.IsNegative() {
			return fmt.Errorf("rates: min borrow rate must be non-negative, got %s", m.MinBorrowRate)
		}
		if m.MaxBorrowRate.LessThanOrEqual(m.MinBorrowRate) {
			return fmt.Errorf("rates: max borrow rate %s must exceed min %s", m.MaxBorrowRate, m.MinBorrowRate)
		}
		if !m.OptimalUtilization.IsPositive() || m.OptimalUtilization.GreaterThanOrEqual(one) {
			return fmt.Errorf("rates: optimal utilization must be in (0, 1), got %s", m.OptimalUtilization)
		}
		if m.Kp1.IsNegative() || m.Kp2.IsNegative() {
			return fmt.Errorf("rates: proportional gains must be non-negative")
		}
		if m.UpdateThresholdTxs == 0 && m.UpdateThresholdSeconds <= 0 {
			return fmt.Errorf("rates: dynamic model needs at least one update threshold")
		}
		return nil
	default:
		return fmt.Errorf("rates: unknown rate model kind %q", model.Kind)
	}
}
