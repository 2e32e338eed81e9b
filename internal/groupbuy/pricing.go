package groupbuy

import "github.com/shopspring/decimal"

// MinorUnitPlaces is the currency's minor unit (cents / fen).
const MinorUnitPlaces = 2

var hundred = decimal.NewFromInt(100)

// UnitPrice applies a membership discount percentage to the base price and rounds
// half-up to the minor unit. A zero or negative discount leaves the price as is.
func UnitPrice(base, discountPct decimal.Decimal) decimal.Decimal {
	if !discountPct.IsPositive() {
		return base.Round(MinorUnitPlaces)
	}
	if discountPct.GreaterThan(hundred) {
		discountPct = hundred
	}
	factor := hundred.Sub(discountPct).Div(hundred)
	// decimal.Round rounds half away from zero, which is half-up for prices.
	return base.Mul(factor).Round(MinorUnitPlaces)
}

func LineTotal(unit decimal.Decimal, qty int) decimal.Decimal {
	return unit.Mul(decimal.NewFromInt(int64(qty)))
}

// Commission is rate * total, rounded half-up to the minor unit.
func Commission(total, rate decimal.Decimal) decimal.Decimal {
	return total.Mul(rate).Round(MinorUnitPlaces)
}

// LoyaltyPoints credits one point per whole currency unit spent.
func LoyaltyPoints(total decimal.Decimal) int {
	return int(total.Floor().IntPart())
}

// Money renders an amount with exactly two decimals.
func Money(d decimal.Decimal) string {
	return d.StringFixed(MinorUnitPlaces)
}
