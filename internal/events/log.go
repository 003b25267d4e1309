// README: Structured-log event sink used when no broker is configured.
package events

import (
	"context"
	"log/slog"
)

// LogPublisher writes events to the structured log. Used when no broker is configured.
type LogPublisher struct {
	log *slog.Logger
}

func NewLogPublisher(log *slog.Logger) *LogPublisher {
	if log == nil {
		log = slog.Default()
	}
	return &LogPublisher{log: log}
}

func (p *LogPublisher) Publish(ctx context.Context, e Event) {
	p.log.InfoContext(ctx, "order event",
		"event_id", e.ID,
		"type", string(e.Type),
		"order_id", string(e.OrderID),
		"from", e.From,
		"to", e.To,
		"actor_type", e.ActorType,
	)
}
