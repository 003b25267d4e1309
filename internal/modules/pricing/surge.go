// README: Pure surge multiplier and delivery-fee functions.
package pricing

import (
	"math"
	"time"

	"github.com/shopspring/decimal"
)

// PeakMultiplier is 1.2 during lunch [11:00,13:00) and dinner [18:00,20:00) local time.
func PeakMultiplier(t time.Time) decimal.Decimal {
	h := t.Hour()
	if (h >= 11 && h < 13) || (h >= 18 && h < 20) {
		return peakFactor
	}
	return one
}

// SupplyDemandMultiplier ramps linearly from 1.0 at pending/available = 1 to 2.0 at 3.
func SupplyDemandMultiplier(pending, available int) decimal.Decimal {
	if available <= 0 {
		return maxSupplyRate
	}
	if pending <= 0 {
		return one
	}
	r := decimal.NewFromInt(int64(pending)).Div(decimal.NewFromInt(int64(available)))
	if r.LessThanOrEqual(one) {
		return one
	}
	m := one.Add(r.Sub(one).Mul(half))
	return decimal.Min(m, maxSupplyRate).Round(2)
}

// WeatherMultiplier bands OpenWeatherMap condition codes.
func WeatherMultiplier(w Weather) decimal.Decimal {
	code := w.ConditionCode
	switch {
	case code >= 200 && code < 300: // thunderstorm
		return decimal.NewFromFloat(1.5)
	case code >= 300 && code < 400: // drizzle
		return decimal.NewFromFloat(1.1)
	case code >= 502 && code <= 504, code >= 520 && code < 600:
		return decimal.NewFromFloat(1.4)
	case code == 511:
		return decimal.NewFromFloat(1.3)
	case code >= 500 && code < 600:
		return decimal.NewFromFloat(1.2)
	case code >= 600 && code < 700: // snow
		return decimal.NewFromFloat(1.4)
	case code >= 700 && code < 800: // mist, fog, dust
		return decimal.NewFromFloat(1.1)
	default:
		return one
	}
}

// CombineSurge multiplies the signals and clamps the product to [1, maxSurge].
func CombineSurge(weather, peak, supplyDemand decimal.Decimal, maxSurge decimal.Decimal) decimal.Decimal {
	surge := weather.Mul(peak).Mul(supplyDemand).Round(2)
	if maxSurge.LessThan(one) {
		maxSurge = one
	}
	surge = decimal.Min(surge, maxSurge)
	return decimal.Max(surge, one)
}

// DeliveryFee charges the base fee plus perKm for every started km beyond the base distance,
// scaled by surge and rounded to whole currency units.
func DeliveryFee(fs FeeSchedule, distanceKm float64, surge decimal.Decimal) decimal.Decimal {
	extraKm := math.Max(0, math.Ceil(distanceKm-fs.BaseDistanceKm))
	fee := fs.BaseFee.Add(fs.PerKmFee.Mul(decimal.NewFromFloat(extraKm)))
	return fee.Mul(surge).Round(0)
}
