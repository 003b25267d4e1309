// README: Order lifecycle events and the fire-and-forget publisher contract.
package events

import (
	"context"
	"time"

	"github.com/google/uuid"

	"platter/internal/types"
)

type Type string

const (
	TypeOrderCreated       Type = "order.created"
	TypeOrderStatusChanged Type = "order.status_changed"
	TypeDriverAssigned     Type = "order.driver_assigned"
	TypeOrderCancelled     Type = "order.cancelled"
	TypeOrderPaid          Type = "order.paid"
)

type Event struct {
	ID         string         `json:"id"`
	Type       Type           `json:"type"`
	OrderID    types.ID       `json:"order_id"`
	From       string         `json:"from,omitempty"`
	To         string         `json:"to,omitempty"`
	ActorType  string         `json:"actor_type,omitempty"`
	ActorID    string         `json:"actor_id,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
	Payload    map[string]any `json:"payload,omitempty"`
}

// New returns an event stamped with a fresh id and the current time.
func New(typ Type, orderID types.ID) Event {
	return Event{
		ID:         uuid.NewString(),
		Type:       typ,
		OrderID:    orderID,
		OccurredAt: time.Now().UTC(),
	}
}

// Publisher delivers events without acknowledgement. Implementations must not
// block the caller on transport failures; they log and drop instead.
type Publisher interface {
	Publish(ctx context.Context, e Event)
}

// Fanout publishes every event to each publisher in order.
type Fanout []Publisher

func (f Fanout) Publish(ctx context.Context, e Event) {
	for _, p := range f {
		if p != nil {
			p.Publish(ctx, e)
		}
	}
}

type Nop struct{}

func (Nop) Publish(context.Context, Event) {}
