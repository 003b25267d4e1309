// README: Kafka event sink; buffered async producer keyed by order id.
package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type KafkaPublisher struct {
	w     messageWriter
	inbox chan kafka.Message
	stop  chan struct{}
	done  chan struct{}
	once  sync.Once
	log   *slog.Logger
}

func NewKafkaPublisher(brokers []string, topic string, buf int, log *slog.Logger) *KafkaPublisher {
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: 50 * time.Millisecond,
	}
	return newKafkaPublisher(w, buf, log)
}

func newKafkaPublisher(w messageWriter, buf int, log *slog.Logger) *KafkaPublisher {
	if log == nil {
		log = slog.Default()
	}
	if buf <= 0 {
		buf = 256
	}
	return &KafkaPublisher{
		w:     w,
		inbox: make(chan kafka.Message, buf),
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
		log:   log,
	}
}

// Start runs the write loop until ctx is done or Close is called, then flushes the buffer.
func (p *KafkaPublisher) Start(ctx context.Context) {
	go func() {
		for {
			select {
			case <-ctx.Done():
				p.drain()
				return
			case <-p.stop:
				p.drain()
				return
			case m := <-p.inbox:
				p.write(m)
			}
		}
	}()
}

func (p *KafkaPublisher) Publish(ctx context.Context, e Event) {
	body, err := json.Marshal(e)
	if err != nil {
		p.log.Error("kafka publish: marshal event", "type", string(e.Type), "err", err)
		return
	}
	m := kafka.Message{
		Key:   []byte(e.OrderID),
		Value: body,
		Time:  e.OccurredAt,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(e.Type)},
		},
	}
	select {
	case <-p.stop:
		p.log.Warn("kafka publish after close, dropped", "event_id", e.ID)
	case p.inbox <- m:
	default:
		p.log.Warn("kafka buffer full, event dropped", "event_id", e.ID, "order_id", string(e.OrderID))
	}
}

func (p *KafkaPublisher) Close() { p.once.Do(func() { close(p.stop) }) }

func (p *KafkaPublisher) WaitClosed() { <-p.done }

func (p *KafkaPublisher) write(m kafka.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.w.WriteMessages(ctx, m); err != nil {
		p.log.Error("kafka write failed", "key", string(m.Key), "err", err)
	}
}

func (p *KafkaPublisher) drain() {
	defer close(p.done)
	for {
		select {
		case m := <-p.inbox:
			p.write(m)
		default:
			if err := p.w.Close(); err != nil {
				p.log.Error("kafka writer close", "err", err)
			}
			return
		}
	}
}
