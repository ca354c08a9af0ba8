package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	orderdomain "github.com/dmehra2102/scrap-pickup/internal/order/domain"
	paymentdomain "github.com/dmehra2102/scrap-pickup/internal/payment/domain"
)

type Kind string

const (
	KindOrderAccepted  Kind = "order_accepted"
	KindOrderCancelled Kind = "order_cancelled"
	KindPaymentSent    Kind = "payment_sent"
	KindPaymentReceipt Kind = "payment_received"
)

type Notification struct {
	ID        int64
	UserID    uuid.UUID
	OrderID   uuid.UUID
	Kind      Kind
	Message   string
	EventKey  string
	IsRead    bool
	CreatedAt time.Time
}

// EventKey identifies the business event, not the Kafka delivery, so a
// redelivered or re-published event maps onto the same rows.
func EventKey(eventType string, orderID uuid.UUID) string {
	return eventType + ":" + orderID.String()
}

// FromEvent turns one lifecycle event into the notifications it causes.
// Event types nobody is notified about yield nil.
func FromEvent(eventType string, payload []byte, now time.Time) ([]Notification, error) {
	switch eventType {
	case orderdomain.EventOrderAccepted:
		var e orderdomain.OrderAccepted
		if err := json.Unmarshal(payload, &e); err != nil {
			return nil, fmt.Errorf("decode %s: %w", eventType, err)
		}
		return []Notification{{
			UserID:    e.OwnerID,
			OrderID:   e.OrderID,
			Kind:      KindOrderAccepted,
			Message:   "A collector accepted your pickup order.",
			EventKey:  EventKey(eventType, e.OrderID),
			CreatedAt: now,
		}}, nil

	case orderdomain.EventOrderCancelled:
		var e orderdomain.OrderCancelled
		if err := json.Unmarshal(payload, &e); err != nil {
			return nil, fmt.Errorf("decode %s: %w", eventType, err)
		}
		// Whoever did not cancel hears about it.
		out := make([]Notification, 0, 1)
		key := EventKey(eventType, e.OrderID)
		if e.CancelledBy != e.OwnerID {
			out = append(out, Notification{
				UserID: e.OwnerID, OrderID: e.OrderID, Kind: KindOrderCancelled,
				Message: "Your pickup order was cancelled by the collector.", EventKey: key, CreatedAt: now,
			})
		}
		if e.CollectorID != nil && *e.CollectorID != e.CancelledBy {
			out = append(out, Notification{
				UserID: *e.CollectorID, OrderID: e.OrderID, Kind: KindOrderCancelled,
				Message: "An order assigned to you was cancelled by its owner.", EventKey: key, CreatedAt: now,
			})
		}
		return out, nil

	case paymentdomain.EventPaymentSettled:
		var e paymentdomain.PaymentSettled
		if err := json.Unmarshal(payload, &e); err != nil {
			return nil, fmt.Errorf("decode %s: %w", eventType, err)
		}
		key := EventKey(eventType, e.OrderID)
		return []Notification{
			{
				UserID: e.PayeeID, OrderID: e.OrderID, Kind: KindPaymentReceipt,
				Message:  fmt.Sprintf("You received %s (%s) for your pickup order.", e.Amount, e.Method),
				EventKey: key, CreatedAt: now,
			},
			{
				UserID: e.PayerID, OrderID: e.OrderID, Kind: KindPaymentSent,
				Message:  fmt.Sprintf("Order completed. You paid %s (%s).", e.Amount, e.Method),
				EventKey: key, CreatedAt: now,
			},
		}, nil
	}
	return nil, nil
}
