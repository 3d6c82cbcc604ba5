package order

import (
	"strings"
	"time"

	"github.com/cardapiopro/cardapio-api/internal/apperr"
)

// Status is the order lifecycle state.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusConfirmed Status = "CONFIRMED"
	StatusPreparing Status = "PREPARING"
	StatusReady     Status = "READY"
	StatusDelivered Status = "DELIVERED"
	StatusCancelled Status = "CANCELLED"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusPreparing, StatusReady, StatusDelivered, StatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether no further status change is allowed.
func (s Status) Terminal() bool {
	return s == StatusDelivered || s == StatusCancelled
}

// CheckTransition reports whether an order may move from current to next.
//
// Forward moves may skip intermediate states. Nothing returns to PENDING, and
// DELIVERED and CANCELLED orders never change again, cancellation included.
func CheckTransition(current, next Status) error {
	if !next.Valid() {
		return apperr.Validation("unknown order status %q", next)
	}
	switch {
	case current == StatusCancelled:
		return apperr.IllegalTransition("cancelled order cannot be changed")
	case current == StatusDelivered:
		return apperr.IllegalTransition("delivered order cannot be changed")
	case next == StatusPending && current != StatusPending:
		return apperr.IllegalTransition("order cannot return to %s", StatusPending)
	}
	return nil
}

// Transition moves o to next, stamping UpdatedAt.
func Transition(o *Order, next Status, now time.Time) error {
	if next == StatusCancelled {
		return apperr.Validation("cancellation requires a reason")
	}
	if err := CheckTransition(o.Status, next); err != nil {
		return err
	}
	o.Status = next
	o.UpdatedAt = now
	return nil
}

// Cancel moves o to CANCELLED and appends the reason to its notes.
func Cancel(o *Order, reason string, now time.Time) error {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return apperr.Validation("cancellation reason is required")
	}
	if err := CheckTransition(o.Status, StatusCancelled); err != nil {
		return err
	}
	o.Status = StatusCancelled
	o.Notes = appendNote(o.Notes, "Cancelled: "+reason)
	o.UpdatedAt = now
	return nil
}

// SetPaymentStatus sets the payment status directly.
func SetPaymentStatus(o *Order, s PaymentStatus, now time.Time) error {
	if !s.Valid() {
		return apperr.Validation("unknown payment status %q", s)
	}
	o.PaymentStatus = s
	o.UpdatedAt = now
	return nil
}

func appendNote(notes, note string) string {
	if strings.TrimSpace(notes) == "" {
		return note
	}
	return notes + " | " + note
}
