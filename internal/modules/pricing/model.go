// README: Surge multipliers, delivery-fee quote and weather condition types.
package pricing

import (
	"time"

	"github.com/shopspring/decimal"
)

var (
	one           = decimal.NewFromInt(1)
	half          = decimal.NewFromFloat(0.5)
	peakFactor    = decimal.NewFromFloat(1.2)
	maxSupplyRate = decimal.NewFromInt(2)
)

// DefaultMaxSurge applies when MAX_SURGE_MULTIPLIER is unset or unparseable.
const DefaultMaxSurge = 2.5

// Weather is the current condition at a coordinate, using OpenWeatherMap condition codes.
type Weather struct {
	ConditionCode int    `json:"condition_code"`
	Description   string `json:"description"`
}

type Breakdown struct {
	Weather      decimal.Decimal `json:"weather"`
	Peak         decimal.Decimal `json:"peak"`
	SupplyDemand decimal.Decimal `json:"supply_demand"`
}

type Quote struct {
	DistanceKm float64         `json:"distance_km"`
	Surge      decimal.Decimal `json:"surge"`
	Fee        decimal.Decimal `json:"fee"`
	Breakdown  Breakdown       `json:"breakdown"`
	QuotedAt   time.Time       `json:"quoted_at"`
}

// FeeSchedule holds the base delivery fee inputs.
type FeeSchedule struct {
	BaseFee        decimal.Decimal
	PerKmFee       decimal.Decimal
	BaseDistanceKm float64
	Location       *time.Location
}
