package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// SecondsPerYear is the accrual year used when converting annual rates to
// per-second index growth.
const SecondsPerYear = 31_536_000

// RateModelKind discriminates the interest rate model variants.
type RateModelKind string

const (
	RateModelLinear  RateModelKind = "linear"
	RateModelDynamic RateModelKind = "dynamic"
)

// LinearModel is a two-segment (kinked) rate curve: below the optimal
// utilization the rate rises from Base with Slope1; above it the rate
// continues from the kink with the steeper Slope2.
type LinearModel struct {
	OptimalUtilization decimal.Decimal `json:"optimalUtilization"`
	Base               decimal.Decimal `json:"base"`
	Slope1             decimal.Decimal `json:"slope1"`
	Slope2             decimal.Decimal `json:"slope2"`
}

// DynamicModel adjusts the rate incrementally from its previous value with a
// two-gain proportional controller on the utilization error. Recomputation is
// gated by the tx-count and elapsed-time thresholds; index accrual itself is
// never skipped.
type DynamicModel struct {
	MinBorrowRate           decimal.Decimal `json:"minBorrowRate"`
	MaxBorrowRate           decimal.Decimal `json:"maxBorrowRate"`
	Kp1                     decimal.Decimal `json:"kp1"`
	Kp2                     decimal.Decimal `json:"kp2"`
	OptimalUtilization      decimal.Decimal `json:"optimalUtilization"`
	KpAugmentationThreshold decimal.Decimal `json:"kpAugmentationThreshold"`
	UpdateThresholdTxs      uint32          `json:"updateThresholdTxs"`
	UpdateThresholdSeconds  int64           `json:"updateThresholdSeconds"`
}

// InterestRateModel is a tagged union over the rate model variants. Exactly
// one of Linear or Dynamic is non-nil, matching Kind.
type InterestRateModel struct {
	Kind    RateModelKind `json:"kind"`
	Linear  *LinearModel  `json:"linear,omitempty"`
	Dynamic *DynamicModel `json:"dynamic,omitempty"`
}

// LiquidationBonus parameterizes the liquidator incentive curve:
// bonus(hf) = clamp(StartingLB + Slope*(1-hf), MinLB, MaxLB).
type LiquidationBonus struct {
	StartingLB decimal.Decimal `json:"startingLb"`
	Slope      decimal.Decimal `json:"slope"`
	MinLB      decimal.Decimal `json:"minLb"`
	MaxLB      decimal.Decimal `json:"maxLb"`
}

// AssetMarket is the per-denom registry entry: risk parameters plus the
// mutable accrual state (indices, rates, hysteresis watermarks).
//
// LiquidityIndex and DebtIndex start at 1 and never decrease. A holder's
// underlying amount is always scaled_amount * index, so no per-holder
// bookkeeping is needed to apply interest.
type AssetMarket struct {
	Denom string `json:"denom"`

	LiquidityIndex decimal.Decimal `json:"liquidityIndex"`
	DebtIndex      decimal.Decimal `json:"debtIndex"`
	BorrowRate     decimal.Decimal `json:"borrowRate"`
	LiquidityRate  decimal.Decimal `json:"liquidityRate"`

	TotalScaledLiquidity decimal.Decimal `json:"totalScaledLiquidity"`
	TotalScaledDebt      decimal.Decimal `json:"totalScaledDebt"`

	// LastUpdated is the index accrual watermark; it advances on every
	// accrual so interest is never double-counted.
	LastUpdated time.Time `json:"lastUpdated"`
	// RateUpdated and TxsSinceRateUpdate are the dynamic-model hysteresis
	// watermarks; they reset only when the rate is recomputed.
	RateUpdated        time.Time `json:"rateUpdated"`
	TxsSinceRateUpdate uint32    `json:"txsSinceRateUpdate"`

	ReserveFactor        decimal.Decimal `json:"reserveFactor"`
	MaxLoanToValue       decimal.Decimal `json:"maxLoanToValue"`
	LiquidationThreshold decimal.Decimal `json:"liquidationThreshold"`

	LiquidationBonus       LiquidationBonus `json:"liquidationBonus"`
	ProtocolLiquidationFee decimal.Decimal  `json:"protocolLiquidationFee"`

	RateModel InterestRateModel `json:"rateModel"`

	BorrowEnabled  bool            `json:"borrowEnabled"`
	DepositEnabled bool            `json:"depositEnabled"`
	DepositCap     decimal.Decimal `json:"depositCap"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// UnderlyingLiquidity returns the current total deposited amount,
// total_scaled_liquidity * liquidity_index.
func (m *AssetMarket) UnderlyingLiquidity() decimal.Decimal {
	return m.TotalScaledLiquidity.Mul(m.LiquidityIndex)
}

// UnderlyingDebt returns the current total borrowed amount,
// total_scaled_debt * debt_index.
func (m *AssetMarket) UnderlyingDebt() decimal.Decimal {
	return m.TotalScaledDebt.Mul(m.DebtIndex)
}

// AvailableLiquidity is the amount currently withdrawable/borrowable from
// the pool. Clamped at zero to tolerate rounding.
func (m *AssetMarket) AvailableLiquidity() decimal.Decimal {
	avail := m.UnderlyingLiquidity().Sub(m.UnderlyingDebt())
	if avail.IsNegative() {
		return decimal.Zero
	}
	return avail
}

// Utilization returns debt/liquidity clamped to [0, 1]. A market with no
// liquidity reports zero utilization.
func (m *AssetMarket) Utilization() decimal.Decimal {
	liquidity := m.UnderlyingLiquidity()
	if !liquidity.IsPositive() {
		return decimal.Zero
	}
	util := m.UnderlyingDebt().Div(liquidity)
	if util.IsNegative() {
		return decimal.Zero
	}
	one := decimal.New(1, 0)
	if util.GreaterThan(one) {
		return one
	}
	return util
}

// IsDepositCapActive reports whether the market enforces a deposit cap.
// A zero or negative cap means uncapped.
func (m *AssetMarket) IsDepositCapActive() bool {
	return m.DepositCap.IsPositive()
}
