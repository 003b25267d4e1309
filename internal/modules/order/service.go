// README: Order service implements the delivery state machine, payment hooks and settlement trigger.
package order

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"platter/internal/events"
	"platter/internal/modules/catalog"
	"platter/internal/modules/pricing"
	"platter/internal/types"
)

// maxCASAttempts bounds re-reads after a lost optimistic update.
const maxCASAttempts = 3

type Repository interface {
	Create(ctx context.Context, o *Order) error
	Get(ctx context.Context, id types.ID) (*Order, error)
	UpdateStatus(ctx context.Context, u StatusUpdate) (bool, error)
	MarkPaid(ctx context.Context, id types.ID, at time.Time) (bool, error)
	DeleteUnpaidGateway(ctx context.Context, id types.ID) (bool, error)
	AppendEvent(ctx context.Context, e *Event) error
	ListEvents(ctx context.Context, orderID types.ID) ([]Event, error)
	ListAbandonedGateway(ctx context.Context, cutoff time.Time, limit int) ([]types.ID, error)
	ListPendingBefore(ctx context.Context, cutoff time.Time, limit int) ([]types.ID, error)
	ListPreparingUnassignedBefore(ctx context.Context, cutoff time.Time, limit int) ([]types.ID, error)
	ListDeliveredUnsettled(ctx context.Context, limit int) ([]types.ID, error)
}

type Catalog interface {
	Customer(ctx context.Context, id types.ID) (*catalog.Customer, error)
	Restaurant(ctx context.Context, id types.ID) (*catalog.Restaurant, error)
	Driver(ctx context.Context, id types.ID) (*catalog.Driver, error)
	Dish(ctx context.Context, id types.ID) (*catalog.Dish, error)
	MenuOption(ctx context.Context, id types.ID) (*catalog.MenuOption, error)
}

type Pricing interface {
	Quote(ctx context.Context, restaurant, destination types.Point) (pricing.Quote, error)
}

// Settlement is invoked once an order is delivered.
type Settlement interface {
	HasSummary(ctx context.Context, orderID types.ID) (bool, error)
	Settle(ctx context.Context, o *Order) error
}

// Refunder returns captured money to the customer.
type Refunder interface {
	Refund(ctx context.Context, o *Order, reason string) error
}

type CODValidator interface {
	ValidateCOD(ctx context.Context, driverID types.ID, amount decimal.Decimal) error
}

type Service struct {
	store      Repository
	catalog    Catalog
	pricing    Pricing
	settlement Settlement
	refunder   Refunder
	cod        CODValidator
	publisher  events.Publisher
	log        *slog.Logger
	now        func() time.Time
}

func NewService(store Repository, catalog Catalog, pricing Pricing) *Service {
	return &Service{
		store:     store,
		catalog:   catalog,
		pricing:   pricing,
		publisher: events.Nop{},
		log:       slog.Default(),
		now:       time.Now,
	}
}

// Settlement reads orders through this service, so it is wired after construction.
func (s *Service) SetSettlement(st Settlement) { s.settlement = st }

func (s *Service) SetRefunder(r Refunder) { s.refunder = r }

func (s *Service) SetCODValidator(v CODValidator) { s.cod = v }

func (s *Service) SetPublisher(p events.Publisher) { s.publisher = p }

func (s *Service) SetLogger(l *slog.Logger) { s.log = l }

type CreateItem struct {
	DishID    types.ID
	Quantity  int
	OptionIDs []types.ID
}

type CreateCommand struct {
	CustomerID      types.ID
	RestaurantID    types.ID
	Items           []CreateItem
	DeliveryPoint   types.Point
	DeliveryAddress string
	PaymentMethod   PaymentMethod
	Discount        decimal.Decimal
	Note            string
}

type StatusCommand struct {
	OrderID   types.ID
	Status    Status
	ActorType string
	ActorID   *types.ID
	Reason    string
}

type AssignCommand struct {
	OrderID   types.ID
	DriverID  types.ID
	ActorType string
}

type CancelCommand struct {
	OrderID   types.ID
	ActorType string
	ActorID   *types.ID
	Reason    string
}

type RejectCommand struct {
	OrderID      types.ID
	RestaurantID types.ID
	Reason       string
}

func (s *Service) Create(ctx context.Context, cmd CreateCommand) (*Order, error) {
	if cmd.CustomerID == "" || cmd.RestaurantID == "" || len(cmd.Items) == 0 || !cmd.PaymentMethod.Valid() {
		return nil, ErrBadRequest
	}
	if cmd.Discount.IsNegative() {
		return nil, ErrBadRequest
	}
	if _, err := s.catalog.Customer(ctx, cmd.CustomerID); err != nil {
		return nil, err
	}
	restaurant, err := s.catalog.Restaurant(ctx, cmd.RestaurantID)
	if err != nil {
		return nil, err
	}

	items, subtotal, err := s.priceItems(ctx, restaurant.ID, cmd.Items)
	if err != nil {
		return nil, err
	}

	quote := pricing.Quote{Surge: decimal.NewFromInt(1), Fee: decimal.Zero}
	if s.pricing != nil {
		quote, err = s.pricing.Quote(ctx, restaurant.Location, cmd.DeliveryPoint)
		if err != nil {
			return nil, err
		}
	}

	gross := subtotal.Add(quote.Fee)
	if cmd.Discount.GreaterThan(gross) {
		return nil, ErrBadRequest
	}

	now := s.now()
	o := &Order{
		ID:              types.NewID(),
		CustomerID:      cmd.CustomerID,
		RestaurantID:    restaurant.ID,
		Status:          StatusPending,
		Items:           items,
		Subtotal:        subtotal,
		DeliveryFee:     quote.Fee,
		Discount:        cmd.Discount,
		TotalAmount:     gross.Sub(cmd.Discount),
		SurgeMultiplier: quote.Surge,
		DistanceKm:      quote.DistanceKm,
		PaymentMethod:   cmd.PaymentMethod,
		PaymentStatus:   PaymentUnpaid,
		DeliveryPoint:   cmd.DeliveryPoint,
		DeliveryAddress: cmd.DeliveryAddress,
		Note:            cmd.Note,
		CreatedAt:       now,
	}
	if err := s.store.Create(ctx, o); err != nil {
		return nil, err
	}
	s.recordEvent(ctx, o.ID, StatusNone, StatusPending, ActorCustomer, &o.CustomerID, "")

	e := events.New(events.TypeOrderCreated, o.ID)
	e.To = string(StatusPending)
	e.ActorType, e.ActorID = ActorCustomer, string(o.CustomerID)
	e.Payload = map[string]any{
		"restaurant_id":  string(o.RestaurantID),
		"total_amount":   o.TotalAmount.String(),
		"payment_method": string(o.PaymentMethod),
	}
	s.publisher.Publish(ctx, e)
	return o, nil
}

func (s *Service) priceItems(ctx context.Context, restaurantID types.ID, in []CreateItem) ([]Item, decimal.Decimal, error) {
	subtotal := decimal.Zero
	items := make([]Item, 0, len(in))
	for _, ci := range in {
		if ci.DishID == "" || ci.Quantity <= 0 {
			return nil, decimal.Zero, ErrBadRequest
		}
		dish, err := s.catalog.Dish(ctx, ci.DishID)
		if err != nil {
			return nil, decimal.Zero, err
		}
		if dish.RestaurantID != restaurantID || !dish.Available {
			return nil, decimal.Zero, fmt.Errorf("dish %s not orderable here: %w", ci.DishID, ErrBadRequest)
		}
		unit := dish.Price
		for _, optID := range ci.OptionIDs {
			opt, err := s.catalog.MenuOption(ctx, optID)
			if err != nil {
				return nil, decimal.Zero, err
			}
			if opt.DishID != dish.ID {
				return nil, decimal.Zero, fmt.Errorf("option %s does not belong to dish %s: %w", optID, dish.ID, ErrBadRequest)
			}
			unit = unit.Add(opt.ExtraPrice)
		}
		line := unit.Mul(decimal.NewFromInt(int64(ci.Quantity)))
		items = append(items, Item{
			DishID:    dish.ID,
			Quantity:  ci.Quantity,
			OptionIDs: ci.OptionIDs,
			UnitPrice: unit,
			LineTotal: line,
		})
		subtotal = subtotal.Add(line)
	}
	return items, types.RoundMoney(subtotal), nil
}

func (s *Service) Get(ctx context.Context, id types.ID) (*Order, error) {
	return s.store.Get(ctx, id)
}

func (s *Service) History(ctx context.Context, id types.ID) ([]Event, error) {
	if _, err := s.store.Get(ctx, id); err != nil {
		return nil, err
	}
	return s.store.ListEvents(ctx, id)
}

// UpdateStatus moves an order along the graph. Cancellation, rejection and driver
// assignment carry extra data and are routed to their dedicated operations.
func (s *Service) UpdateStatus(ctx context.Context, cmd StatusCommand) (*Order, error) {
	switch cmd.Status {
	case StatusCancelled:
		return s.Cancel(ctx, CancelCommand{OrderID: cmd.OrderID, ActorType: cmd.ActorType, ActorID: cmd.ActorID, Reason: cmd.Reason})
	case StatusRejected:
		return s.Reject(ctx, RejectCommand{OrderID: cmd.OrderID, Reason: cmd.Reason})
	case StatusAssigned:
		o, err := s.store.Get(ctx, cmd.OrderID)
		if err != nil {
			return nil, err
		}
		if IsTerminal(o.Status) {
			return nil, fmt.Errorf("%s -> %s: %w", o.Status, StatusAssigned, ErrInvalidState)
		}
		return nil, fmt.Errorf("assignment requires a driver: %w", ErrBadRequest)
	case "", StatusNone:
		return nil, ErrBadRequest
	}

	o, from, err := s.transition(ctx, cmd.OrderID, cmd.Status, transitionOpts{
		actorType: cmd.ActorType,
		actorID:   cmd.ActorID,
	})
	if err != nil {
		return nil, err
	}
	if o.Status == StatusDelivered {
		s.settle(ctx, o)
	}
	s.publishTransition(ctx, events.TypeOrderStatusChanged, o, from, cmd.ActorType, cmd.ActorID)
	return o, nil
}

// AssignDriver attaches a driver and moves the order to ASSIGNED. COD orders are
// only assignable to drivers whose cash limit covers the total.
func (s *Service) AssignDriver(ctx context.Context, cmd AssignCommand) (*Order, error) {
	if cmd.OrderID == "" || cmd.DriverID == "" {
		return nil, ErrBadRequest
	}
	if _, err := s.catalog.Driver(ctx, cmd.DriverID); err != nil {
		return nil, err
	}
	actor := cmd.ActorType
	if actor == "" {
		actor = ActorDriver
	}
	driverID := cmd.DriverID
	o, from, err := s.transition(ctx, cmd.OrderID, StatusAssigned, transitionOpts{
		actorType: actor,
		actorID:   &driverID,
		driverID:  &driverID,
		check: func(cur *Order) error {
			if cur.PaymentMethod == PaymentCOD && s.cod != nil {
				return s.cod.ValidateCOD(ctx, driverID, cur.TotalAmount)
			}
			return nil
		},
	})
	if err != nil {
		return nil, err
	}
	s.publishTransition(ctx, events.TypeDriverAssigned, o, from, actor, &driverID)
	return o, nil
}

// Cancel fails with ErrInvalidState for terminal orders. Paid WALLET and GATEWAY
// orders are refunded; a refund failure is returned wrapped in ErrRefundFailed
// while the cancellation stays committed.
func (s *Service) Cancel(ctx context.Context, cmd CancelCommand) (*Order, error) {
	reason := cmd.Reason
	if reason == "" {
		reason = "cancelled"
	}
	o, from, err := s.transition(ctx, cmd.OrderID, StatusCancelled, transitionOpts{
		actorType: cmd.ActorType,
		actorID:   cmd.ActorID,
		reason:    &reason,
	})
	if err != nil {
		return nil, err
	}
	s.publishTransition(ctx, events.TypeOrderCancelled, o, from, cmd.ActorType, cmd.ActorID)
	return o, s.refundIfPaid(ctx, o, reason)
}

// Reject is the restaurant declining a PENDING order.
func (s *Service) Reject(ctx context.Context, cmd RejectCommand) (*Order, error) {
	reason := cmd.Reason
	if reason == "" {
		reason = "rejected by restaurant"
	}
	var actorID *types.ID
	if cmd.RestaurantID != "" {
		actorID = &cmd.RestaurantID
	}
	o, from, err := s.transition(ctx, cmd.OrderID, StatusRejected, transitionOpts{
		actorType: ActorRestaurant,
		actorID:   actorID,
		reason:    &reason,
		check: func(cur *Order) error {
			if cmd.RestaurantID != "" && cur.RestaurantID != cmd.RestaurantID {
				return ErrBadRequest
			}
			return nil
		},
	})
	if err != nil {
		return nil, err
	}
	s.publishTransition(ctx, events.TypeOrderStatusChanged, o, from, ActorRestaurant, actorID)
	return o, s.refundIfPaid(ctx, o, reason)
}

// MarkPaid records payment capture; false means it was already paid.
func (s *Service) MarkPaid(ctx context.Context, id types.ID) (bool, error) {
	ok, err := s.store.MarkPaid(ctx, id, s.now())
	if err != nil || !ok {
		return ok, err
	}
	s.publisher.Publish(ctx, events.New(events.TypeOrderPaid, id))
	return true, nil
}

// DeleteAbandoned physically removes an unpaid gateway order.
func (s *Service) DeleteAbandoned(ctx context.Context, id types.ID) (bool, error) {
	return s.store.DeleteUnpaidGateway(ctx, id)
}

// Resettle runs settlement for a delivered order that has no earnings summary yet.
func (s *Service) Resettle(ctx context.Context, id types.ID) error {
	o, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if o.Status != StatusDelivered {
		return ErrInvalidState
	}
	if s.settlement == nil {
		return nil
	}
	return s.settlement.Settle(ctx, o)
}

func (s *Service) AbandonedGatewayOrders(ctx context.Context, cutoff time.Time, limit int) ([]types.ID, error) {
	return s.store.ListAbandonedGateway(ctx, cutoff, limit)
}

func (s *Service) PendingOrdersBefore(ctx context.Context, cutoff time.Time, limit int) ([]types.ID, error) {
	return s.store.ListPendingBefore(ctx, cutoff, limit)
}

func (s *Service) UnassignedPreparingBefore(ctx context.Context, cutoff time.Time, limit int) ([]types.ID, error) {
	return s.store.ListPreparingUnassignedBefore(ctx, cutoff, limit)
}

func (s *Service) DeliveredUnsettled(ctx context.Context, limit int) ([]types.ID, error) {
	return s.store.ListDeliveredUnsettled(ctx, limit)
}

type transitionOpts struct {
	actorType string
	actorID   *types.ID
	driverID  *types.ID
	reason    *string
	// check runs against the freshly read order before each write attempt.
	check func(cur *Order) error
}

// transition re-validates against the current row on every attempt so a
// caller acting on stale state fails with ErrInvalidState instead of clobbering.
func (s *Service) transition(ctx context.Context, id types.ID, to Status, opts transitionOpts) (*Order, Status, error) {
	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		o, err := s.store.Get(ctx, id)
		if err != nil {
			return nil, "", err
		}
		if !CanTransition(o.Status, to) {
			return nil, "", fmt.Errorf("%s -> %s: %w", o.Status, to, ErrInvalidState)
		}
		if opts.check != nil {
			if err := opts.check(o); err != nil {
				return nil, "", err
			}
		}
		now := s.now()
		ok, err := s.store.UpdateStatus(ctx, StatusUpdate{
			ID:       o.ID,
			From:     o.Status,
			To:       to,
			Version:  o.StatusVersion,
			DriverID: opts.driverID,
			Reason:   opts.reason,
			At:       now,
		})
		if err != nil {
			return nil, "", err
		}
		if !ok {
			continue
		}
		note := ""
		if opts.reason != nil {
			note = *opts.reason
		}
		s.recordEvent(ctx, o.ID, o.Status, to, opts.actorType, opts.actorID, note)

		updated, err := s.store.Get(ctx, id)
		if err != nil {
			return nil, "", err
		}
		return updated, o.Status, nil
	}
	return nil, "", ErrConflict
}

func (s *Service) settle(ctx context.Context, o *Order) {
	if s.settlement == nil {
		return
	}
	has, err := s.settlement.HasSummary(ctx, o.ID)
	if err != nil {
		s.log.Error("settlement check failed", "order_id", string(o.ID), "err", err)
		return
	}
	if has {
		return
	}
	if err := s.settlement.Settle(ctx, o); err != nil && !errors.Is(err, types.ErrAlreadyExists) {
		// the janitor retries delivered orders without a summary
		s.log.Error("settlement failed", "order_id", string(o.ID), "err", err)
	}
}

func (s *Service) refundIfPaid(ctx context.Context, o *Order, reason string) error {
	if !o.Paid() || o.PaymentMethod == PaymentCOD || s.refunder == nil {
		return nil
	}
	if err := s.refunder.Refund(ctx, o, reason); err != nil {
		s.log.Error("refund after cancellation failed", "order_id", string(o.ID), "err", err)
		return fmt.Errorf("%w: %w", ErrRefundFailed, err)
	}
	return nil
}

func (s *Service) recordEvent(ctx context.Context, id types.ID, from, to Status, actorType string, actorID *types.ID, note string) {
	if actorType == "" {
		actorType = ActorSystem
	}
	err := s.store.AppendEvent(ctx, &Event{
		OrderID:    id,
		FromStatus: from,
		ToStatus:   to,
		ActorType:  actorType,
		ActorID:    actorID,
		Note:       note,
		CreatedAt:  s.now(),
	})
	if err != nil {
		s.log.Warn("append order event failed", "order_id", string(id), "to", string(to), "err", err)
	}
}

func (s *Service) publishTransition(ctx context.Context, typ events.Type, o *Order, from Status, actorType string, actorID *types.ID) {
	e := events.New(typ, o.ID)
	e.From, e.To = string(from), string(o.Status)
	e.ActorType = actorType
	if actorID != nil {
		e.ActorID = string(*actorID)
	}
	if o.DriverID != nil {
		e.Payload = map[string]any{"driver_id": string(*o.DriverID)}
	}
	s.publisher.Publish(ctx, e)
}
