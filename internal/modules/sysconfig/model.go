// README: System configuration keys and entry model.
package sysconfig

import "time"

const (
	KeyRestaurantCommissionRate  = "DEFAULT_RESTAURANT_COMMISSION_RATE"
	KeyDriverCommissionRate      = "DRIVER_COMMISSION_RATE"
	KeyMaxSurgeMultiplier        = "MAX_SURGE_MULTIPLIER"
	KeyRestaurantResponseTimeout = "RESTAURANT_RESPONSE_TIMEOUT_MINUTES"
	KeyDriverAssignmentTimeout   = "DRIVER_ASSIGNMENT_TIMEOUT_MINUTES"
	KeyDefaultDriverCODLimit     = "DEFAULT_DRIVER_COD_LIMIT"
)

type Entry struct {
	Key           string
	Value         string
	Description   string
	LastUpdatedBy string
	UpdatedAt     time.Time
}
