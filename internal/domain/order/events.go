package order

import (
	"context"
	"time"
)

// Event names published by the order service.
const (
	EventCreated       = "order.created"
	EventStatusChanged = "order.status_changed"
	EventPaymentStatus = "order.payment_status_changed"
)

// Event describes a change to an order.
type Event struct {
	Name       string
	OrderID    string
	Number     int64
	Status     Status
	Payment    PaymentStatus
	Total      string
	OccurredAt time.Time
}

// Publisher delivers order events to downstream consumers. Delivery is best
// effort: the order service logs failures and carries on.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, Event) error { return nil }

func newEvent(name string, o *Order) Event {
	return Event{
		Name:       name,
		OrderID:    o.ID,
		Number:     o.Number,
		Status:     o.Status,
		Payment:    o.PaymentStatus,
		Total:      o.Total.StringFixed(2),
		OccurredAt: o.UpdatedAt,
	}
}
