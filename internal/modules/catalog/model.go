// README: Reference data (customers, restaurants, drivers, dishes, menu options).
package catalog

import (
	"fmt"

	"github.com/shopspring/decimal"

	"platter/internal/types"
)

var ErrNotFound = fmt.Errorf("catalog: %w", types.ErrReferenceNotFound)

type DriverStatus string

const (
	DriverOnline    DriverStatus = "ONLINE"
	DriverAvailable DriverStatus = "AVAILABLE"
	DriverBusy      DriverStatus = "BUSY"
	DriverOffline   DriverStatus = "OFFLINE"
)

type Customer struct {
	ID   types.ID
	Name string
}

type Restaurant struct {
	ID       types.ID
	OwnerID  types.ID
	Name     string
	Location types.Point
	// CommissionRate overrides the platform default when valid.
	CommissionRate decimal.NullDecimal
}

type Driver struct {
	ID       types.ID
	Name     string
	Status   DriverStatus
	CODLimit decimal.NullDecimal
}

type Dish struct {
	ID           types.ID
	RestaurantID types.ID
	Name         string
	Price        decimal.Decimal
	Available    bool
}

type MenuOption struct {
	ID         types.ID
	DishID     types.ID
	Name       string
	ExtraPrice decimal.Decimal
}
