package health

import (
	"github.com/shopspring/decimal"

	"github.com/mars-protocol/riskengine/internal/domain"
)

// Bonus evaluates the liquidation bonus curve at a health factor and
// splits it between the liquidator and the protocol.
//
// bonus = clamp(starting_lb + slope * (1 - hf), min_lb, max_lb), so the
// incentive grows linearly as health degrades below 1 and is bounded on
// both sides. protocolFee is the fraction of the bonus retained by the
// protocol; the remainder goes to the liquidator.
func Bonus(healthFactor decimal.Decimal, curve domain.LiquidationBonus, protocolFee decimal.Decimal) (liquidatorBonus, protocolCut decimal.Decimal) {
	bonus := curve.StartingLB.Add(curve.Slope.Mul(one.Sub(healthFactor)))
	if bonus.LessThan(curve.MinLB) {
		bonus = curve.MinLB
	}
	if bonus.GreaterThan(curve.MaxLB) {
		bonus = curve.MaxLB
	}

	protocolCut = bonus.Mul(protocolFee)
	liquidatorBonus = bonus.Sub(protocolCut)
	return liquidatorBonus, protocolCut
}
