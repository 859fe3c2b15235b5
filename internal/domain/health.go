package domain

import "github.com/shopspring/decimal"

// HealthSnapshot is the derived solvency view of one account. It is
// recomputed on demand from a Position, current market state, and prices;
// it is never persisted because it is a function of fast-moving prices.
//
// The two health factors are nil for zero-debt accounts: "no debt" is a
// sentinel healthy state, not an error, and such accounts are never
// liquidatable regardless of collateral composition.
type HealthSnapshot struct {
	TotalCollateralValue decimal.Decimal `json:"totalCollateralValue"`
	TotalDebtValue       decimal.Decimal `json:"totalDebtValue"`

	MaxLTVAdjustedCollateral        decimal.Decimal `json:"maxLtvAdjustedCollateral"`
	LiqThresholdAdjustedCollateral  decimal.Decimal `json:"liquidationThresholdAdjustedCollateral"`

	MaxLTVHealthFactor      *decimal.Decimal `json:"maxLtvHealthFactor"`
	LiquidationHealthFactor *decimal.Decimal `json:"liquidationHealthFactor"`

	Liquidatable bool `json:"liquidatable"`
	AboveMaxLTV  bool `json:"aboveMaxLtv"`
}

// HasDebt reports whether the snapshot carries any debt value.
func (s HealthSnapshot) HasDebt() bool {
	return s.TotalDebtValue.IsPositive()
}
