package application

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/dmehra2102/scrap-pickup/internal/order/domain"
	"github.com/dmehra2102/scrap-pickup/pkg/geo"
	"github.com/dmehra2102/scrap-pickup/pkg/outbox"
)

type OrderRepository interface {
	Create(ctx context.Context, o domain.Order, msg outbox.Message) error
	Get(ctx context.Context, id uuid.UUID) (domain.Order, error)
	ListByOwner(ctx context.Context, owner uuid.UUID) ([]domain.Order, error)
	ListByCollector(ctx context.Context, collector uuid.UUID) ([]domain.Order, error)
	Category(ctx context.Context, id uuid.UUID) (domain.Category, error)

	// FindNearbyPending returns pending, unassigned orders within the query
	// radius, nearest first.
	FindNearbyPending(ctx context.Context, q domain.NearbyQuery) ([]domain.Candidate, error)

	// ClaimPending assigns collector only if the order is still pending and
	// unclaimed (or already claimed by the same collector). claimed is false
	// when the condition did not hold; the order is then left untouched and
	// event is not called. Otherwise event builds the outbox message from the
	// claimed order and it is written in the same transaction.
	ClaimPending(ctx context.Context, c Claim, event func(domain.Order) (outbox.Message, error)) (o domain.Order, claimed bool, err error)

	// WithLock runs fn while holding an exclusive lock on the order row. All
	// writes made through tx commit together when fn returns nil.
	WithLock(ctx context.Context, id uuid.UUID, fn func(ctx context.Context, tx OrderTx) error) error

	Review(ctx context.Context, orderID uuid.UUID) (domain.Review, error)
}

type Claim struct {
	OrderID     uuid.UUID
	CollectorID uuid.UUID
	Note        string
	At          time.Time
}

// OrderTx is the unit of work handed to WithLock callbacks.
type OrderTx interface {
	Order() domain.Order
	SaveOrder(ctx context.Context, o domain.Order) error
	InsertItem(ctx context.Context, it domain.OrderItem) error
	UpdateItemQuantity(ctx context.Context, itemID uuid.UUID, qty decimal.Decimal) error
	DeleteItem(ctx context.Context, itemID uuid.UUID) error
	InsertReview(ctx context.Context, r domain.Review) error
	Enqueue(ctx context.Context, msg outbox.Message) error
}

// TravelEstimator returns one entry per destination, in order. On partial
// failure it may return both results and an error.
type TravelEstimator interface {
	Estimate(ctx context.Context, origin geo.Point, destinations []geo.Point) ([]domain.TravelInfo, error)
}

type Geocoder interface {
	Geocode(ctx context.Context, address string) (geo.Point, error)
}
