package http

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/dmehra2102/scrap-pickup/internal/order/domain"
)

type createOrderRequest struct {
	PickupAddress string        `json:"pickup_address" validate:"required,max=500"`
	Latitude      *float64      `json:"latitude" validate:"omitempty,gte=-90,lte=90"`
	Longitude     *float64      `json:"longitude" validate:"omitempty,gte=-180,lte=180"`
	Items         []itemRequest `json:"items" validate:"dive"`
}

type itemRequest struct {
	CategoryID uuid.UUID       `json:"category_id" validate:"required"`
	Quantity   decimal.Decimal `json:"quantity"`
}

type updateItemRequest struct {
	Quantity decimal.Decimal `json:"quantity"`
}

type acceptRequest struct {
	Note string `json:"note" validate:"max=500"`
}

type imagesRequest struct {
	ImageURLs []string `json:"image_urls" validate:"required,min=1,max=2,dive,required,url"`
}

type reviewRequest struct {
	Rating  int    `json:"rating" validate:"required,min=1,max=5"`
	Comment string `json:"comment" validate:"max=1000"`
}

type itemResponse struct {
	ID           uuid.UUID        `json:"id"`
	CategoryID   uuid.UUID        `json:"category_id"`
	Quantity     decimal.Decimal  `json:"quantity"`
	PricePerUnit *decimal.Decimal `json:"price_per_unit"`
}

type orderResponse struct {
	ID              uuid.UUID        `json:"id"`
	OwnerID         uuid.UUID        `json:"owner_id"`
	CollectorID     *uuid.UUID       `json:"collector_id"`
	PickupAddress   string           `json:"pickup_address"`
	Latitude        float64          `json:"latitude"`
	Longitude       float64          `json:"longitude"`
	Status          string           `json:"status"`
	TotalAmountPaid *decimal.Decimal `json:"total_amount_paid"`
	CollectorNote   string           `json:"collector_note,omitempty"`
	ImageURLs       []string         `json:"image_urls"`
	Items           []itemResponse   `json:"items"`
	CreatedAt       time.Time        `json:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
}

type nearbyOrderResponse struct {
	orderResponse
	DistanceKm           float64  `json:"distance_km"`
	TravelTimeSeconds    *float64 `json:"travel_time_seconds"`
	TravelDistanceMeters *float64 `json:"travel_distance_meters"`
}

type acceptResponse struct {
	ID          uuid.UUID  `json:"id"`
	Status      string     `json:"status"`
	CollectorID *uuid.UUID `json:"collector_id"`
	Note        string     `json:"note"`
}

type reviewResponse struct {
	ID        uuid.UUID `json:"id"`
	OrderID   uuid.UUID `json:"order_id"`
	UserID    uuid.UUID `json:"user_id"`
	Rating    int       `json:"rating"`
	Comment   string    `json:"comment"`
	CreatedAt time.Time `json:"created_at"`
}

func toOrderResponse(o domain.Order) orderResponse {
	items := make([]itemResponse, 0, len(o.Items))
	for _, it := range o.Items {
		items = append(items, itemResponse{
			ID:           it.ID,
			CategoryID:   it.CategoryID,
			Quantity:     it.Quantity,
			PricePerUnit: it.PricePerUnit,
		})
	}
	images := o.ImageURLs
	if images == nil {
		images = []string{}
	}
	return orderResponse{
		ID:              o.ID,
		OwnerID:         o.OwnerID,
		CollectorID:     o.CollectorID,
		PickupAddress:   o.PickupAddress,
		Latitude:        o.Location.Lat,
		Longitude:       o.Location.Lon,
		Status:          string(o.Status),
		TotalAmountPaid: o.TotalAmountPaid,
		CollectorNote:   o.CollectorNote,
		ImageURLs:       images,
		Items:           items,
		CreatedAt:       o.CreatedAt,
		UpdatedAt:       o.UpdatedAt,
	}
}

func toOrderResponses(orders []domain.Order) []orderResponse {
	out := make([]orderResponse, 0, len(orders))
	for _, o := range orders {
		out = append(out, toOrderResponse(o))
	}
	return out
}

func toNearbyResponse(n domain.NearbyOrder) nearbyOrderResponse {
	return nearbyOrderResponse{
		orderResponse:        toOrderResponse(n.Order),
		DistanceKm:           n.DistanceKm,
		TravelTimeSeconds:    n.TravelTimeSeconds,
		TravelDistanceMeters: n.TravelDistanceMeters,
	}
}

func toReviewResponse(rv domain.Review) reviewResponse {
	return reviewResponse{
		ID:        rv.ID,
		OrderID:   rv.OrderID,
		UserID:    rv.UserID,
		Rating:    rv.Rating,
		Comment:   rv.Comment,
		CreatedAt: rv.CreatedAt,
	}
}
