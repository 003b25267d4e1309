// README: Earnings summary, commission split and payment results.
package settlement

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"platter/internal/types"
)

var (
	ErrAlreadyExists    = fmt.Errorf("earnings summary: %w", types.ErrAlreadyExists)
	ErrNotFound         = fmt.Errorf("earnings summary: %w", types.ErrReferenceNotFound)
	ErrBadRequest       = fmt.Errorf("settlement: %w", types.ErrValidation)
	ErrInvalidState     = fmt.Errorf("settlement: %w", types.ErrInvalidStateTransition)
	ErrCODLimitExceeded = fmt.Errorf("cod limit exceeded: %w", types.ErrValidation)
	ErrInvalidSignature = errors.New("gateway callback signature mismatch")
	ErrAmountMismatch   = fmt.Errorf("gateway amount does not match order total: %w", types.ErrValidation)
)

var (
	DefaultRestaurantRate = decimal.NewFromInt(15)
	DefaultDriverRate     = decimal.NewFromInt(80)
	DefaultCODLimit       = decimal.NewFromInt(2000000)
)

// ReasonInsufficientFunds is reported in PaymentResult when the payer cannot cover the total.
const ReasonInsufficientFunds = "INSUFFICIENT_FUNDS"

// EarningsSummary is the one-per-order record of how the order's money is split.
type EarningsSummary struct {
	OrderID                    types.ID        `json:"order_id"`
	Subtotal                   decimal.Decimal `json:"subtotal"`
	DeliveryFee                decimal.Decimal `json:"delivery_fee"`
	RestaurantCommissionRate   decimal.Decimal `json:"restaurant_commission_rate"`
	RestaurantCommissionAmount decimal.Decimal `json:"restaurant_commission_amount"`
	RestaurantNetEarning       decimal.Decimal `json:"restaurant_net_earning"`
	DriverCommissionRate       decimal.Decimal `json:"driver_commission_rate"`
	DriverCommissionAmount     decimal.Decimal `json:"driver_commission_amount"`
	DriverNetEarning           decimal.Decimal `json:"driver_net_earning"`
	PlatformTotalEarning       decimal.Decimal `json:"platform_total_earning"`
	// PaidOutAt is set once the restaurant and driver shares have left the platform wallet.
	PaidOutAt *time.Time `json:"paid_out_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// ComputeSplit applies both commission rates (percent) and rounds every amount half-up to 2 decimals.
func ComputeSplit(orderID types.ID, subtotal, deliveryFee, restaurantRate, driverRate decimal.Decimal) EarningsSummary {
	rc := types.Percent(subtotal, restaurantRate)
	dc := types.Percent(deliveryFee, driverRate)
	return EarningsSummary{
		OrderID:                    orderID,
		Subtotal:                   subtotal,
		DeliveryFee:                deliveryFee,
		RestaurantCommissionRate:   restaurantRate,
		RestaurantCommissionAmount: rc,
		RestaurantNetEarning:       types.RoundMoney(subtotal.Sub(rc)),
		DriverCommissionRate:       driverRate,
		DriverCommissionAmount:     dc,
		DriverNetEarning:           types.RoundMoney(deliveryFee.Sub(dc)),
		PlatformTotalEarning:       rc.Add(dc),
	}
}

// PaymentResult is returned instead of an error when the payer's balance is too low.
type PaymentResult struct {
	OrderID     types.ID        `json:"order_id"`
	Success     bool            `json:"success"`
	AlreadyPaid bool            `json:"already_paid,omitempty"`
	Reason      string          `json:"reason,omitempty"`
	Balance     decimal.Decimal `json:"balance"`
	Required    decimal.Decimal `json:"required"`
}

type GatewayResult struct {
	OrderID        types.ID        `json:"order_id"`
	Success        bool            `json:"success"`
	AlreadyPaid    bool            `json:"already_paid,omitempty"`
	Deleted        bool            `json:"deleted,omitempty"`
	Amount         decimal.Decimal `json:"amount"`
	TransactionRef string          `json:"transaction_ref"`
	ResponseCode   string          `json:"response_code"`
}
