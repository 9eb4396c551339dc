package gridmath

import (
	"github.com/shopspring/decimal"
)

// RangeLevels computes the arithmetic price ladder P[i] = lower + i*step
// for i in [0, levels], where step = (upper-lower)/levels.
// levels must be even; callers validate that before calling.
func RangeLevels(lower, upper decimal.Decimal, levels int) []decimal.Decimal {
	step := upper.Sub(lower).Div(decimal.NewFromInt(int64(levels)))
	out := make([]decimal.Decimal, levels+1)
	for i := 0; i <= levels; i++ {
		out[i] = lower.Add(step.Mul(decimal.NewFromInt(int64(i))))
	}
	return out
}

// RangeBuySellSplit splits a RangeLevels ladder into the lower-half buy
// levels and the upper-half sell levels. The
// center level (index levels/2, equal to the reference price when the
// ladder spans it) sits exactly at the current price and belongs to
// neither side, so it is skipped.
func RangeBuySellSplit(ladder []decimal.Decimal) (buys, sells []decimal.Decimal) {
	half := len(ladder) / 2
	return ladder[:half], ladder[half+1:]
}

// FlatBuyPrices computes buy prices starting - i*increment for i in
// [1, buyCount].
func FlatBuyPrices(starting, increment decimal.Decimal, buyCount int) []decimal.Decimal {
	out := make([]decimal.Decimal, buyCount)
	for i := 1; i <= buyCount; i++ {
		out[i-1] = starting.Sub(increment.Mul(decimal.NewFromInt(int64(i))))
	}
	return out
}

// FlatSellPrices computes sell prices starting + j*increment for j in
// [1, sellCount].
func FlatSellPrices(starting, increment decimal.Decimal, sellCount int) []decimal.Decimal {
	out := make([]decimal.Decimal, sellCount)
	for j := 1; j <= sellCount; j++ {
		out[j-1] = starting.Add(increment.Mul(decimal.NewFromInt(int64(j))))
	}
	return out
}

// RoundPriceDown rounds a price down to pricePrecision decimal places —
// every price is rounded down before placement.
func RoundPriceDown(price decimal.Decimal, pricePrecision int32) decimal.Decimal {
	return price.Truncate(pricePrecision)
}

// QuoteRoundingPlaces returns the decimal places used to round a
// quote-currency cost: 2 for stablecoin quotes, 8 otherwise.
func QuoteRoundingPlaces(quoteCurrency string) int32 {
	switch quoteCurrency {
	case "USDT", "USDC", "BUSD", "USD", "DAI", "FDUSD", "TUSD":
		return 2
	default:
		return 8
	}
}
