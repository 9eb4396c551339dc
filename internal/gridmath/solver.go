// Package gridmath implements the pure-arithmetic pieces of the trading
// core: the Order-Amount Solver and the Grid Planner. Every quantity is
// a decimal.Decimal — floating point is disallowed in this package.
package gridmath

import (
	"github.com/shopspring/decimal"
)

// maxAmountIterations caps the Amount Solver's step-up loop against
// pathological inputs.
const maxAmountIterations = 100

// precisionUnit converts an amount_precision value — either a
// decimal-place count (an integer >= 1) or a step size (a number < 1) —
// into the Decimal step that one "unit" of precision represents. Grounded
// on original_source/src/services/grid_strategy.py's
// _get_precision_unit.
func precisionUnit(amountPrecision decimal.Decimal) decimal.Decimal {
	if amountPrecision.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		places := int32(amountPrecision.IntPart())
		return decimal.New(1, -places)
	}
	return amountPrecision
}

// AmountForCost implements the Order-Amount Solver contract: converts a target cost in quote currency plus a limit price into
// an order amount that respects the exchange's amount step/precision and
// yields an executed cost (amount*price) >= orderSize.
func AmountForCost(orderSize, price, amountPrecision, minAmount decimal.Decimal) decimal.Decimal {
	step := precisionUnit(amountPrecision)
	places := decimalPlaces(step)

	raw := orderSize.Div(price)
	amount := raw.Truncate(places)

	for i := 0; i < maxAmountIterations; i++ {
		if amount.Mul(price).GreaterThanOrEqual(orderSize) {
			break
		}
		amount = amount.Add(step)
	}

	if amount.LessThan(minAmount) {
		amount = minAmount
	}
	return amount
}

// decimalPlaces returns the number of fractional decimal digits a step
// size like 0.001 represents, so Truncate can round down to it.
func decimalPlaces(step decimal.Decimal) int32 {
	exp := step.Exponent()
	if exp >= 0 {
		return 0
	}
	return -exp
}
