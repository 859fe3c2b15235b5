package health

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mars-protocol/riskengine/internal/domain"
)

func bonusCurve() domain.LiquidationBonus {
	return domain.LiquidationBonus{
		StartingLB: dec("0.02"),
		Slope:      dec("0.5"),
		MinLB:      dec("0.01"),
		MaxLB:      dec("0.1"),
	}
}

func TestBonusGrowsAsHealthDegrades(t *testing.T) {
	// hf 0.9: 0.02 + 0.5*0.1 = 0.07, split 10% to the protocol.
	liq, fee := Bonus(dec("0.9"), bonusCurve(), dec("0.1"))

	assert.True(t, fee.Equal(dec("0.007")), "got %s", fee)
	assert.True(t, liq.Equal(dec("0.063")), "got %s", liq)
}

func TestBonusClampedAtMax(t *testing.T) {
	liq, fee := Bonus(dec("0.2"), bonusCurve(), dec("0.1"))

	assert.True(t, liq.Add(fee).Equal(dec("0.1")))
}

func TestBonusFlooredAtMin(t *testing.T) {
	// A barely unhealthy position still pays at least the floor.
	curve := bonusCurve()
	curve.StartingLB = dec("0")
	curve.Slope = dec("0.001")

	liq, fee := Bonus(dec("0.999"), curve, dec("0"))

	assert.True(t, liq.Add(fee).Equal(curve.MinLB))
	assert.True(t, fee.IsZero())
}
