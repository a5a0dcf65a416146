package calculator

import "github.com/shopspring/decimal"

// Places is the number of decimal places money is kept to (cents).
const Places = 2

// Epsilon is the tolerance below which a balance counts as settled.
var Epsilon = decimal.New(1, -Places)

// IsSettled reports whether |amount| <= Epsilon.
func IsSettled(amount decimal.Decimal) bool {
	return amount.Abs().LessThanOrEqual(Epsilon)
}

// IsMoney reports whether amount has no precision beyond cents.
func IsMoney(amount decimal.Decimal) bool {
	return amount.Equal(amount.Round(Places))
}

// sum adds up the values of a contribution map.
func sum(contributions map[int64]decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, amount := range contributions {
		total = total.Add(amount)
	}
	return total
}
