package health

import (
	"github.com/shopspring/decimal"

	"github.com/mars-protocol/riskengine/internal/domain"
)

// BorrowTarget says where a borrowed asset ends up, which decides whether
// it feeds back into the account's collateral.
type BorrowTarget string

const (
	// TargetWallet sends the borrowed asset out of the account; it adds
	// debt but no collateral.
	TargetWallet BorrowTarget = "wallet"
	// TargetDeposit redeposits the borrowed asset as collateral in its own
	// market.
	TargetDeposit BorrowTarget = "deposit"
	// TargetVault deposits the borrowed asset into a vault, using the
	// vault's loan-to-value weighting.
	TargetVault BorrowTarget = "vault"
)

// BorrowQuery parameterizes MaxBorrow for one asset.
type BorrowQuery struct {
	Price  decimal.Decimal
	Target BorrowTarget
	// TargetLTV is the max loan-to-value of wherever the borrowed asset
	// lands (the asset's own market for TargetDeposit, the vault's config
	// for TargetVault). Ignored for TargetWallet.
	TargetLTV decimal.Decimal
	// AvailableLiquidity caps the result at what the market can actually
	// lend out.
	AvailableLiquidity decimal.Decimal
	// DepositCapHeadroom caps the result at what the destination can still
	// absorb: the market's remaining cap for TargetDeposit, the vault's
	// for TargetVault. Nil means no cap applies.
	DepositCapHeadroom *decimal.Decimal
}

// MaxBorrow returns the largest additional amount of an asset the account
// can borrow while keeping its max-LTV health factor at or above 1,
// truncated to whole base units.
//
// Solving (caf + x*price*ltv_target) / (debt + x*price) >= 1 for x gives
// x = headroom / (price * (1 - ltv_target)), with ltv_target = 0 for the
// wallet target. headroom is caf - debt.
func MaxBorrow(snap domain.HealthSnapshot, q BorrowQuery) decimal.Decimal {
	if !q.Price.IsPositive() {
		return decimal.Zero
	}
	headroom := snap.MaxLTVAdjustedCollateral.Sub(snap.TotalDebtValue)
	if !headroom.IsPositive() {
		return decimal.Zero
	}

	retention := one
	if q.Target == TargetDeposit || q.Target == TargetVault {
		retention = one.Sub(q.TargetLTV)
	}

	var max decimal.Decimal
	if retention.IsPositive() {
		max = headroom.Div(q.Price.Mul(retention))
	} else {
		// Redeposit at LTV >= 1 never degrades health; only market
		// liquidity bounds the borrow.
		max = q.AvailableLiquidity
	}

	if max.GreaterThan(q.AvailableLiquidity) {
		max = q.AvailableLiquidity
	}
	if q.DepositCapHeadroom != nil && max.GreaterThan(*q.DepositCapHeadroom) {
		max = *q.DepositCapHeadroom
	}
	if max.IsNegative() {
		return decimal.Zero
	}
	return max.Floor()
}

// MaxWithdraw returns the largest amount of a deposited asset the account
// can remove while staying at or above a max-LTV health factor of 1,
// bounded by the actual deposited amount and truncated to whole base
// units. A zero-debt account can always withdraw everything.
func MaxWithdraw(snap domain.HealthSnapshot, price, maxLTV, deposited decimal.Decimal) decimal.Decimal {
	if !snap.HasDebt() {
		return deposited.Floor()
	}
	headroom := snap.MaxLTVAdjustedCollateral.Sub(snap.TotalDebtValue)
	if !headroom.IsPositive() {
		return decimal.Zero
	}

	weight := price.Mul(maxLTV)
	if !weight.IsPositive() {
		// The asset carries no borrowing power, so removing it cannot
		// degrade health.
		return deposited.Floor()
	}

	max := headroom.Div(weight)
	if max.GreaterThan(deposited) {
		max = deposited
	}
	return max.Floor()
}

// SwapLeg describes one side of a prospective collateral swap.
type SwapLeg struct {
	Denom          string
	Price          decimal.Decimal
	MaxLoanToValue decimal.Decimal
}

// MaxSwap returns the largest amount of the from asset that can be swapped
// into the to asset while keeping the max-LTV health factor at or above 1.
//
// In the default account kind the swap only reshuffles existing
// collateral: swapping x of from removes x*p_from*ltv_from of adjusted
// collateral and adds x*p_from*ltv_to back (value conserved), so the swap
// is unconstrained when the destination LTV is at least the source LTV and
// otherwise solves x = headroom / (p_from * (ltv_from - ltv_to)). The
// unconstrained case holds even for accounts already above max LTV, since
// such a swap can never reduce adjusted collateral.
//
// In the margin kind the from asset is borrowed synthetically, so debt
// grows by the full swap value while collateral grows by its LTV-weighted
// value: x = headroom / (p_from * (1 - ltv_to)).
//
// balance bounds the result in the default kind; margin swaps are bounded
// only by health.
func MaxSwap(snap domain.HealthSnapshot, from, to SwapLeg, kind domain.AccountKind, balance decimal.Decimal) decimal.Decimal {
	if !from.Price.IsPositive() {
		return decimal.Zero
	}
	headroom := snap.MaxLTVAdjustedCollateral.Sub(snap.TotalDebtValue)

	if kind == domain.AccountKindMargin {
		retention := one.Sub(to.MaxLoanToValue)
		if !retention.IsPositive() || !headroom.IsPositive() {
			return decimal.Zero
		}
		return headroom.Div(from.Price.Mul(retention)).Floor()
	}

	if to.MaxLoanToValue.GreaterThanOrEqual(from.MaxLoanToValue) {
		return balance.Floor()
	}
	if !headroom.IsPositive() {
		return decimal.Zero
	}

	max := headroom.Div(from.Price.Mul(from.MaxLoanToValue.Sub(to.MaxLoanToValue)))
	if max.GreaterThan(balance) {
		max = balance
	}
	return max.Floor()
}

// LiquidationPrice returns the price of one collateral asset at which the
// account's liquidation health factor crosses exactly 1, holding every
// other valued position fixed.
//
// Isolating the target price in ltac / debt = 1 gives
// p = (debt - ltac_other) / (amount * liq_threshold). The result is nil
// when the account has no debt or holds none of the asset's borrowing
// power (the factor can never cross 1 through that price), and zero when
// the rest of the collateral alone already covers the debt at the
// liquidation threshold.
func LiquidationPrice(snap domain.HealthSnapshot, holding CollateralAsset) *decimal.Decimal {
	if !snap.HasDebt() {
		return nil
	}
	weight := holding.Amount.Mul(holding.LiquidationThreshold)
	if !weight.IsPositive() {
		return nil
	}

	otherLTAC := snap.LiqThresholdAdjustedCollateral.Sub(
		holding.Value().Mul(holding.LiquidationThreshold))
	if otherLTAC.GreaterThanOrEqual(snap.TotalDebtValue) {
		zero := decimal.Zero
		return &zero
	}

	price := snap.TotalDebtValue.Sub(otherLTAC).Div(weight)
	return &price
}
