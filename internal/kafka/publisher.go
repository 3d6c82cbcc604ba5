// Package kafka publishes order events to a Kafka topic.
package kafka

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/cardapiopro/cardapio-api/internal/domain/order"
)

const envelopeVersion = 1

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher implements order.Publisher. Messages are keyed by order ID so all
// events of one order land on the same partition in order.
type Publisher struct {
	w        messageWriter
	producer string
	now      func() time.Time
}

var _ order.Publisher = (*Publisher)(nil)

// NewPublisher creates an asynchronous publisher writing to topic. Delivery
// failures are reported to lg.
func NewPublisher(brokers []string, topic, producer string, lg *zap.Logger) *Publisher {
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		Async:        true,
		BatchTimeout: 50 * time.Millisecond,
		Completion: func(messages []kafka.Message, err error) {
			if err != nil {
				lg.Warn("Deliver order events", zap.Int("count", len(messages)), zap.Error(err))
			}
		},
	}
	return &Publisher{w: w, producer: producer, now: time.Now}
}

// Publish enqueues e.
func (p *Publisher) Publish(ctx context.Context, e order.Event) error {
	msg := kafka.Message{
		Key:   []byte(e.OrderID),
		Value: p.encode(e),
		Time:  p.now(),
		Headers: []kafka.Header{
			{Key: "x-event-type", Value: []byte(e.Name)},
			{Key: "x-event-version", Value: []byte("1")},
		},
	}
	if err := p.w.WriteMessages(ctx, msg); err != nil {
		return errors.Wrap(err, "write message")
	}
	return nil
}

// Close flushes pending messages.
func (p *Publisher) Close() error {
	return p.w.Close()
}

func (p *Publisher) encode(e order.Event) []byte {
	var enc jx.Encoder
	enc.Obj(func(enc *jx.Encoder) {
		enc.Field("event_id", func(enc *jx.Encoder) { enc.Str(uuid.NewString()) })
		enc.Field("event_type", func(enc *jx.Encoder) { enc.Str(e.Name) })
		enc.Field("event_version", func(enc *jx.Encoder) { enc.Int(envelopeVersion) })
		enc.Field("occurred_at", func(enc *jx.Encoder) { enc.Str(e.OccurredAt.UTC().Format(time.RFC3339Nano)) })
		enc.Field("producer", func(enc *jx.Encoder) { enc.Str(p.producer) })
		enc.Field("correlation_id", func(enc *jx.Encoder) { enc.Str(e.OrderID) })
		enc.Field("payload", func(enc *jx.Encoder) {
			enc.Obj(func(enc *jx.Encoder) {
				enc.Field("order_id", func(enc *jx.Encoder) { enc.Str(e.OrderID) })
				enc.Field("order_number", func(enc *jx.Encoder) { enc.Int64(e.Number) })
				enc.Field("status", func(enc *jx.Encoder) { enc.Str(string(e.Status)) })
				enc.Field("payment_status", func(enc *jx.Encoder) { enc.Str(string(e.Payment)) })
				enc.Field("total", func(enc *jx.Encoder) { enc.Str(e.Total) })
			})
		})
	})
	return enc.Bytes()
}
