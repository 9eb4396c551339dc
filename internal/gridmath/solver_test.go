package gridmath

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestAmountForCost_UniformCostInvariant(t *testing.T) {
	// order_size=5, price=130, amount_precision=0.001,
	// min=0.01 -> amount=0.039, not 0.038, because 0.038*130=4.94 < 5 while
	// 0.039*130=5.07 >= 5.
	amount := AmountForCost(dec("5"), dec("130"), dec("0.001"), dec("0.01"))
	assert.True(t, amount.Equal(dec("0.039")), "got %s", amount)
}

func TestAmountForCost_RoundTripContract(t *testing.T) {
	cases := []struct {
		name            string
		orderSize       decimal.Decimal
		price           decimal.Decimal
		amountPrecision decimal.Decimal
		minAmount       decimal.Decimal
	}{
		{"fractional step", dec("10"), dec("1.5"), dec("0.01"), dec("1")},
		{"decimal-place count", dec("20"), dec("3.333"), dec("3"), dec("0.5")},
		{"tiny price", dec("5"), dec("0.0001"), dec("1"), dec("1000")},
		{"min amount dominates", dec("1"), dec("100000"), dec("0.00001"), dec("0.001")},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			amount := AmountForCost(tc.orderSize, tc.price, tc.amountPrecision, tc.minAmount)

			require.True(t, amount.GreaterThanOrEqual(tc.minAmount), "amount below min_amount")

			cost := amount.Mul(tc.price)
			if amount.Equal(tc.minAmount) && cost.LessThan(tc.orderSize) {
				// the min_amount floor is allowed to undercut the target cost.
				return
			}
			assert.True(t, cost.GreaterThanOrEqual(tc.orderSize), "amount*price=%s < order_size=%s", cost, tc.orderSize)
		})
	}
}

func TestAmountForCost_LegalStep(t *testing.T) {
	amount := AmountForCost(dec("7"), dec("2"), dec("0.01"), dec("0"))
	// amount must be an exact multiple of the 0.01 step.
	scaled := amount.Mul(decimal.NewFromInt(100))
	assert.True(t, scaled.Equal(scaled.Truncate(0)), "amount %s is not a legal 0.01 step", amount)
}
