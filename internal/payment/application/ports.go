package application

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	orderdomain "github.com/dmehra2102/scrap-pickup/internal/order/domain"
	"github.com/dmehra2102/scrap-pickup/internal/payment/domain"
	"github.com/dmehra2102/scrap-pickup/pkg/outbox"
)

type SettlementRepository interface {
	// Settle locks the order row for the lifetime of fn. Writes made through
	// tx are committed only if fn returns nil.
	Settle(ctx context.Context, orderID uuid.UUID, fn func(ctx context.Context, tx SettlementTx) error) error
	GetByOrder(ctx context.Context, orderID uuid.UUID) (domain.Transaction, error)
	Parties(ctx context.Context, payer, payee uuid.UUID) (domain.Party, domain.Party, error)
}

type SettlementTx interface {
	Order() orderdomain.Order
	// CategoryPrice returns the current estimated price per unit, or nil when
	// the category has none.
	CategoryPrice(ctx context.Context, categoryID uuid.UUID) (*decimal.Decimal, error)
	SetItemQuantity(ctx context.Context, itemID uuid.UUID, qty, pricePerUnit decimal.Decimal) error
	CompleteOrder(ctx context.Context, o orderdomain.Order) error
	InsertTransaction(ctx context.Context, t domain.Transaction) error
	Enqueue(ctx context.Context, msg outbox.Message) error
}
