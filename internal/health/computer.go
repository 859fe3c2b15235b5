// Package health computes risk-weighted solvency metrics for lending
// accounts: health factors, borrow and withdraw capacity, and the
// liquidation bonus curve. Everything here is a pure computation over a
// priced account state; persistence and price retrieval live elsewhere.
package health

import (
	"github.com/shopspring/decimal"

	"github.com/mars-protocol/riskengine/internal/domain"
)

var one = decimal.New(1, 0)

// CollateralAsset is a deposit valued at current prices together with the
// risk parameters of its market.
type CollateralAsset struct {
	Denom                string
	Amount               decimal.Decimal
	Price                decimal.Decimal
	MaxLoanToValue       decimal.Decimal
	LiquidationThreshold decimal.Decimal
}

// Value returns Amount times Price.
func (c CollateralAsset) Value() decimal.Decimal {
	return c.Amount.Mul(c.Price)
}

// DebtAsset is a debt valued at current prices.
type DebtAsset struct {
	Denom  string
	Amount decimal.Decimal
	Price  decimal.Decimal
}

// Value returns Amount times Price.
func (d DebtAsset) Value() decimal.Decimal {
	return d.Amount.Mul(d.Price)
}

// VaultHolding is a vault position already valued in the reference denom
// by the vault's own reporter.
type VaultHolding struct {
	VaultID              string
	Value                decimal.Decimal
	MaxLoanToValue       decimal.Decimal
	LiquidationThreshold decimal.Decimal
	Whitelisted          bool
}

// AccountState is the fully priced input to Compute: every deposit, debt
// and vault position of one account resolved against a single consistent
// price snapshot.
type AccountState struct {
	Account    string
	Kind       domain.AccountKind
	Collateral []CollateralAsset
	Debts      []DebtAsset
	Vaults     []VaultHolding
}

// Compute derives a HealthSnapshot from a priced account state.
//
// Non-whitelisted vaults contribute nothing to the max-LTV adjusted
// collateral but still count toward the liquidation-threshold adjusted
// collateral, so delisting a vault blocks new borrowing against it without
// instantly pushing holders into liquidation.
//
// Zero-debt accounts carry nil health factors and are never liquidatable
// or above max LTV, regardless of collateral composition.
func Compute(state AccountState) domain.HealthSnapshot {
	var snap domain.HealthSnapshot
	snap.TotalCollateralValue = decimal.Zero
	snap.TotalDebtValue = decimal.Zero
	snap.MaxLTVAdjustedCollateral = decimal.Zero
	snap.LiqThresholdAdjustedCollateral = decimal.Zero

	for _, c := range state.Collateral {
		value := c.Value()
		snap.TotalCollateralValue = snap.TotalCollateralValue.Add(value)
		snap.MaxLTVAdjustedCollateral = snap.MaxLTVAdjustedCollateral.Add(value.Mul(c.MaxLoanToValue))
		snap.LiqThresholdAdjustedCollateral = snap.LiqThresholdAdjustedCollateral.Add(value.Mul(c.LiquidationThreshold))
	}

	for _, v := range state.Vaults {
		snap.TotalCollateralValue = snap.TotalCollateralValue.Add(v.Value)
		if v.Whitelisted {
			snap.MaxLTVAdjustedCollateral = snap.MaxLTVAdjustedCollateral.Add(v.Value.Mul(v.MaxLoanToValue))
		}
		snap.LiqThresholdAdjustedCollateral = snap.LiqThresholdAdjustedCollateral.Add(v.Value.Mul(v.LiquidationThreshold))
	}

	for _, d := range state.Debts {
		snap.TotalDebtValue = snap.TotalDebtValue.Add(d.Value())
	}

	if !snap.TotalDebtValue.IsPositive() {
		return snap
	}

	maxLTVHF := snap.MaxLTVAdjustedCollateral.Div(snap.TotalDebtValue)
	liqHF := snap.LiqThresholdAdjustedCollateral.Div(snap.TotalDebtValue)
	snap.MaxLTVHealthFactor = &maxLTVHF
	snap.LiquidationHealthFactor = &liqHF
	snap.AboveMaxLTV = maxLTVHF.LessThan(one)
	snap.Liquidatable = liqHF.LessThan(one)
	return snap
}
