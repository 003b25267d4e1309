// README: Order aggregate, status graph and payment enums.
package order

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"platter/internal/types"
)

type Status string

const (
	StatusNone      Status = "NONE"
	StatusPending   Status = "PENDING"
	StatusConfirmed Status = "CONFIRMED"
	StatusPreparing Status = "PREPARING"
	StatusReady     Status = "READY"
	StatusAssigned  Status = "ASSIGNED"
	StatusDelivered Status = "DELIVERED"
	StatusCancelled Status = "CANCELLED"
	StatusRejected  Status = "REJECTED"
)

type PaymentMethod string

const (
	PaymentWallet  PaymentMethod = "WALLET"
	PaymentCOD     PaymentMethod = "COD"
	PaymentGateway PaymentMethod = "GATEWAY"
)

func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentWallet, PaymentCOD, PaymentGateway:
		return true
	}
	return false
}

type PaymentStatus string

const (
	PaymentUnpaid PaymentStatus = "UNPAID"
	PaymentPaid   PaymentStatus = "PAID"
)

const (
	ActorCustomer   = "customer"
	ActorRestaurant = "restaurant"
	ActorDriver     = "driver"
	ActorSystem     = "system"
	ActorJanitor    = "janitor"
)

var (
	ErrInvalidState = fmt.Errorf("order: %w", types.ErrInvalidStateTransition)
	ErrNotFound     = fmt.Errorf("order: %w", types.ErrReferenceNotFound)
	ErrBadRequest   = fmt.Errorf("order: bad request: %w", types.ErrValidation)
	ErrConflict     = errors.New("order state conflict")
	ErrRefundFailed = errors.New("order cancelled but refund failed")
)

type Item struct {
	DishID    types.ID        `json:"dish_id"`
	Quantity  int             `json:"quantity"`
	OptionIDs []types.ID      `json:"option_ids,omitempty"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	LineTotal decimal.Decimal `json:"line_total"`
}

type Order struct {
	ID                 types.ID        `json:"id"`
	CustomerID         types.ID        `json:"customer_id"`
	RestaurantID       types.ID        `json:"restaurant_id"`
	DriverID           *types.ID       `json:"driver_id,omitempty"`
	Status             Status          `json:"status"`
	StatusVersion      int             `json:"status_version"`
	Items              []Item          `json:"items"`
	Subtotal           decimal.Decimal `json:"subtotal"`
	DeliveryFee        decimal.Decimal `json:"delivery_fee"`
	Discount           decimal.Decimal `json:"discount"`
	TotalAmount        decimal.Decimal `json:"total_amount"`
	SurgeMultiplier    decimal.Decimal `json:"surge_multiplier"`
	DistanceKm         float64         `json:"distance_km"`
	PaymentMethod      PaymentMethod   `json:"payment_method"`
	PaymentStatus      PaymentStatus   `json:"payment_status"`
	DeliveryPoint      types.Point     `json:"delivery_point"`
	DeliveryAddress    string          `json:"delivery_address"`
	Note               string          `json:"note,omitempty"`
	CancellationReason *string         `json:"cancellation_reason,omitempty"`
	RejectionReason    *string         `json:"rejection_reason,omitempty"`
	CreatedAt          time.Time       `json:"created_at"`
	ConfirmedAt        *time.Time      `json:"confirmed_at,omitempty"`
	PreparingAt        *time.Time      `json:"preparing_at,omitempty"`
	AssignedAt         *time.Time      `json:"assigned_at,omitempty"`
	DeliveredAt        *time.Time      `json:"delivered_at,omitempty"`
	CancelledAt        *time.Time      `json:"cancelled_at,omitempty"`
	PaidAt             *time.Time      `json:"paid_at,omitempty"`
}

func (o *Order) Paid() bool { return o.PaymentStatus == PaymentPaid }

type Event struct {
	ID         int64     `json:"id"`
	OrderID    types.ID  `json:"order_id"`
	FromStatus Status    `json:"from_status"`
	ToStatus   Status    `json:"to_status"`
	ActorType  string    `json:"actor_type"`
	ActorID    *types.ID `json:"actor_id,omitempty"`
	Note       string    `json:"note,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// AllowedTransitions represents the order state flow (diagram) as code.
// Statuses absent from the map are terminal.
var AllowedTransitions = map[Status][]Status{
	StatusPending:   {StatusConfirmed, StatusRejected, StatusCancelled},
	StatusConfirmed: {StatusPreparing, StatusCancelled},
	StatusPreparing: {StatusReady, StatusAssigned, StatusCancelled},
	StatusReady:     {StatusAssigned, StatusCancelled},
	StatusAssigned:  {StatusDelivered, StatusCancelled},
}

func CanTransition(from, to Status) bool {
	next, ok := AllowedTransitions[from]
	if !ok {
		return false
	}
	for _, s := range next {
		if s == to {
			return true
		}
	}
	return false
}

func IsTerminal(s Status) bool {
	_, ok := AllowedTransitions[s]
	return !ok
}

// AllStatuses lists every real status, in lifecycle order.
var AllStatuses = []Status{
	StatusPending, StatusConfirmed, StatusPreparing, StatusReady,
	StatusAssigned, StatusDelivered, StatusCancelled, StatusRejected,
}

func ParseStatus(s string) (Status, bool) {
	for _, st := range AllStatuses {
		if string(st) == s {
			return st, true
		}
	}
	return "", false
}
