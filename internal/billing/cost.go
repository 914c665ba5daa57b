package billing

import "github.com/shopspring/decimal"

var secondsPerMinute = decimal.NewFromInt(60)

// ComputeCost returns durationSeconds/60*ratePerMinute in minor units, rounded
// half up to a whole unit. There is no minimum charge.
func ComputeCost(ratePerMinute, durationSeconds int64) int64 {
	if ratePerMinute <= 0 || durationSeconds <= 0 {
		return 0
	}
	cost := decimal.NewFromInt(durationSeconds).
		Mul(decimal.NewFromInt(ratePerMinute)).
		Div(secondsPerMinute).
		Round(0)
	return cost.IntPart()
}
