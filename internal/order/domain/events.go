package domain

import (
	"time"

	"github.com/google/uuid"
)

const AggregateType = "order"

const (
	EventOrderCreated      = "OrderCreated"
	EventOrderAccepted     = "OrderAccepted"
	EventOrderCancelled    = "OrderCancelled"
	EventOrderItemsChanged = "OrderItemsChanged"
	EventOrderImages       = "OrderImagesAttached"
)

type OrderCreated struct {
	OrderID   uuid.UUID `json:"order_id"`
	OwnerID   uuid.UUID `json:"owner_id"`
	Address   string    `json:"pickup_address"`
	Lat       float64   `json:"lat"`
	Lon       float64   `json:"lon"`
	ItemCount int       `json:"item_count"`
	CreatedAt time.Time `json:"created_at"`
}

type OrderAccepted struct {
	OrderID     uuid.UUID `json:"order_id"`
	OwnerID     uuid.UUID `json:"owner_id"`
	CollectorID uuid.UUID `json:"collector_id"`
	Note        string    `json:"note,omitempty"`
	AcceptedAt  time.Time `json:"accepted_at"`
}

type OrderCancelled struct {
	OrderID     uuid.UUID  `json:"order_id"`
	OwnerID     uuid.UUID  `json:"owner_id"`
	CollectorID *uuid.UUID `json:"collector_id,omitempty"`
	CancelledBy uuid.UUID  `json:"cancelled_by"`
	CancelledAt time.Time  `json:"cancelled_at"`
}

type OrderItemsChanged struct {
	OrderID   uuid.UUID `json:"order_id"`
	ItemCount int       `json:"item_count"`
}

type OrderImagesAttached struct {
	OrderID     uuid.UUID `json:"order_id"`
	CollectorID uuid.UUID `json:"collector_id"`
	ImageURLs   []string  `json:"image_urls"`
}
