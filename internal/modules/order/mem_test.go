package order

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"platter/internal/events"
	"platter/internal/modules/catalog"
	"platter/internal/modules/pricing"
	"platter/internal/types"
)

// memStore mirrors Store's compare-and-set semantics in memory.
type memStore struct {
	mu      sync.Mutex
	orders  map[types.ID]*Order
	events  []Event
	summary map[types.ID]bool
}

func newMemStore() *memStore {
	return &memStore{orders: map[types.ID]*Order{}, summary: map[types.ID]bool{}}
}

func clone(o *Order) *Order {
	cp := *o
	cp.Items = append([]Item(nil), o.Items...)
	return &cp
}

func (m *memStore) Create(ctx context.Context, o *Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders[o.ID] = clone(o)
	return nil
}

func (m *memStore) Get(ctx context.Context, id types.ID) (*Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(o), nil
}

func (m *memStore) UpdateStatus(ctx context.Context, u StatusUpdate) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[u.ID]
	if !ok || o.Status != u.From || o.StatusVersion != u.Version {
		return false, nil
	}
	o.Status = u.To
	o.StatusVersion++
	if u.DriverID != nil {
		d := *u.DriverID
		o.DriverID = &d
	}
	at := u.At
	switch u.To {
	case StatusConfirmed:
		if o.ConfirmedAt == nil {
			o.ConfirmedAt = &at
		}
	case StatusPreparing:
		if o.PreparingAt == nil {
			o.PreparingAt = &at
		}
	case StatusAssigned:
		o.AssignedAt = &at
	case StatusDelivered:
		if o.DeliveredAt == nil {
			o.DeliveredAt = &at
		}
	case StatusCancelled:
		o.CancelledAt = &at
		o.CancellationReason = u.Reason
	case StatusRejected:
		o.RejectionReason = u.Reason
	}
	return true, nil
}

func (m *memStore) MarkPaid(ctx context.Context, id types.ID, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok || o.PaymentStatus == PaymentPaid {
		return false, nil
	}
	o.PaymentStatus = PaymentPaid
	o.PaidAt = &at
	return true, nil
}

func (m *memStore) DeleteUnpaidGateway(ctx context.Context, id types.ID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok || o.PaymentMethod != PaymentGateway || o.PaymentStatus != PaymentUnpaid || o.Status == StatusDelivered {
		return false, nil
	}
	delete(m.orders, id)
	return true, nil
}

func (m *memStore) AppendEvent(ctx context.Context, e *Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *e
	cp.ID = int64(len(m.events) + 1)
	m.events = append(m.events, cp)
	return nil
}

func (m *memStore) ListEvents(ctx context.Context, orderID types.ID) ([]Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Event
	for _, e := range m.events {
		if e.OrderID == orderID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *memStore) list(match func(o *Order) bool, key func(o *Order) time.Time, limit int) []types.ID {
	m.mu.Lock()
	defer m.mu.Unlock()
	var hits []*Order
	for _, o := range m.orders {
		if match(o) {
			hits = append(hits, o)
		}
	}
	sort.Slice(hits, func(i, j int) bool { return key(hits[i]).Before(key(hits[j])) })
	var out []types.ID
	for _, o := range hits {
		if len(out) == limit {
			break
		}
		out = append(out, o.ID)
	}
	return out
}

func createdAt(o *Order) time.Time { return o.CreatedAt }

func (m *memStore) ListAbandonedGateway(ctx context.Context, cutoff time.Time, limit int) ([]types.ID, error) {
	return m.list(func(o *Order) bool {
		return o.PaymentMethod == PaymentGateway && o.PaymentStatus == PaymentUnpaid &&
			o.Status != StatusDelivered && !o.CreatedAt.After(cutoff)
	}, createdAt, limit), nil
}

func (m *memStore) ListPendingBefore(ctx context.Context, cutoff time.Time, limit int) ([]types.ID, error) {
	return m.list(func(o *Order) bool {
		return o.Status == StatusPending && !o.CreatedAt.After(cutoff)
	}, createdAt, limit), nil
}

func (m *memStore) ListPreparingUnassignedBefore(ctx context.Context, cutoff time.Time, limit int) ([]types.ID, error) {
	return m.list(func(o *Order) bool {
		return o.Status == StatusPreparing && o.DriverID == nil && o.PreparingAt != nil && !o.PreparingAt.After(cutoff)
	}, func(o *Order) time.Time { return *o.PreparingAt }, limit), nil
}

func (m *memStore) ListDeliveredUnsettled(ctx context.Context, limit int) ([]types.ID, error) {
	return m.list(func(o *Order) bool {
		return o.Status == StatusDelivered && !m.summary[o.ID]
	}, createdAt, limit), nil
}

type fakeCatalog struct{}

func (fakeCatalog) Customer(ctx context.Context, id types.ID) (*catalog.Customer, error) {
	if id != "c1" {
		return nil, catalog.ErrNotFound
	}
	return &catalog.Customer{ID: id}, nil
}

func (fakeCatalog) Restaurant(ctx context.Context, id types.ID) (*catalog.Restaurant, error) {
	switch id {
	case "r1", "r2":
		return &catalog.Restaurant{ID: id, OwnerID: "owner-" + id, Location: types.Point{Lat: 10.77, Lng: 106.70}}, nil
	}
	return nil, catalog.ErrNotFound
}

func (fakeCatalog) Driver(ctx context.Context, id types.ID) (*catalog.Driver, error) {
	if id == "d1" || id == "d2" {
		return &catalog.Driver{ID: id, Status: catalog.DriverAvailable}, nil
	}
	return nil, catalog.ErrNotFound
}

func (fakeCatalog) Dish(ctx context.Context, id types.ID) (*catalog.Dish, error) {
	switch id {
	case "pho":
		return &catalog.Dish{ID: id, RestaurantID: "r1", Price: decimal.NewFromInt(50000), Available: true}, nil
	case "soldout":
		return &catalog.Dish{ID: id, RestaurantID: "r1", Price: decimal.NewFromInt(40000), Available: false}, nil
	case "pizza":
		return &catalog.Dish{ID: id, RestaurantID: "r2", Price: decimal.NewFromInt(120000), Available: true}, nil
	}
	return nil, catalog.ErrNotFound
}

func (fakeCatalog) MenuOption(ctx context.Context, id types.ID) (*catalog.MenuOption, error) {
	switch id {
	case "beef":
		return &catalog.MenuOption{ID: id, DishID: "pho", ExtraPrice: decimal.NewFromInt(15000)}, nil
	case "cheese":
		return &catalog.MenuOption{ID: id, DishID: "pizza", ExtraPrice: decimal.NewFromInt(20000)}, nil
	}
	return nil, catalog.ErrNotFound
}

type fixedPricing struct{ fee, surge string }

func (p fixedPricing) Quote(ctx context.Context, from, to types.Point) (pricing.Quote, error) {
	return pricing.Quote{
		DistanceKm: 3.2,
		Surge:      decimal.RequireFromString(p.surge),
		Fee:        decimal.RequireFromString(p.fee),
	}, nil
}

// fakeSettlement records summaries in the shared memStore like the real engine's unique key.
type fakeSettlement struct {
	store *memStore
	mu    sync.Mutex
	calls int
	err   error
}

func (f *fakeSettlement) HasSummary(ctx context.Context, id types.ID) (bool, error) {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	return f.store.summary[id], nil
}

func (f *fakeSettlement) Settle(ctx context.Context, o *Order) error {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	if f.store.summary[o.ID] {
		return types.ErrAlreadyExists
	}
	f.store.summary[o.ID] = true
	return nil
}

type fakeRefunder struct {
	refunded []types.ID
	err      error
}

func (f *fakeRefunder) Refund(ctx context.Context, o *Order, reason string) error {
	if f.err != nil {
		return f.err
	}
	f.refunded = append(f.refunded, o.ID)
	return nil
}

type codLimit struct{ limit decimal.Decimal }

var errCODLimit = errors.New("cod limit exceeded")

func (c codLimit) ValidateCOD(ctx context.Context, driverID types.ID, amount decimal.Decimal) error {
	if amount.GreaterThan(c.limit) {
		return errCODLimit
	}
	return nil
}

type capturePublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (c *capturePublisher) Publish(ctx context.Context, e events.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
}

func (c *capturePublisher) types() []events.Type {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]events.Type, len(c.events))
	for i, e := range c.events {
		out[i] = e.Type
	}
	return out
}
