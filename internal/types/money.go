// README: Common money helpers used across modules (decimal amounts, HALF_UP rounding).
package types

import "github.com/shopspring/decimal"

var hundred = decimal.NewFromInt(100)

// RoundMoney rounds to 2 decimal places, half away from zero.
func RoundMoney(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// Percent returns amount * rate / 100 rounded with RoundMoney.
func Percent(amount, rate decimal.Decimal) decimal.Decimal {
	return RoundMoney(amount.Mul(rate).Div(hundred))
}

// Money parses a decimal literal and panics on malformed input. Intended for constants and tests.
func Money(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}
