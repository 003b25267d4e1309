// README: Firebase Cloud Messaging sink; pushes each event to the order's topic.
package events

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"firebase.google.com/go/v4/messaging"
)

type messagingClient interface {
	Send(ctx context.Context, message *messaging.Message) (string, error)
}

type FCMPublisher struct {
	client  messagingClient
	timeout time.Duration
	log     *slog.Logger
}

func NewFCMPublisher(client messagingClient, log *slog.Logger) *FCMPublisher {
	if log == nil {
		log = slog.Default()
	}
	return &FCMPublisher{client: client, timeout: 5 * time.Second, log: log}
}

// Topic returns the FCM topic clients subscribe to for one order.
func Topic(e Event) string {
	return "order_" + string(e.OrderID)
}

// Publish sends in the background; the caller's cancellation does not abort the push.
func (p *FCMPublisher) Publish(ctx context.Context, e Event) {
	msg := toMessage(e)
	go func() {
		sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.timeout)
		defer cancel()
		if _, err := p.client.Send(sendCtx, msg); err != nil {
			p.log.Error("fcm send failed", "event_id", e.ID, "topic", msg.Topic, "err", err)
		}
	}()
}

func toMessage(e Event) *messaging.Message {
	data := map[string]string{
		"event_id":    e.ID,
		"type":        string(e.Type),
		"order_id":    string(e.OrderID),
		"occurred_at": e.OccurredAt.Format(time.RFC3339),
	}
	if e.From != "" {
		data["from"] = e.From
	}
	if e.To != "" {
		data["to"] = e.To
	}
	for k, v := range e.Payload {
		data[k] = fmt.Sprint(v)
	}
	return &messaging.Message{Topic: Topic(e), Data: data}
}
