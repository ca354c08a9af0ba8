package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Method string

const (
	MethodCash   Method = "cash"
	MethodWallet Method = "wallet"
)

func (m Method) Valid() bool { return m == MethodCash || m == MethodWallet }

type Status string

const (
	StatusSuccessful Status = "successful"
	StatusFailed     Status = "failed"
	StatusPending    Status = "pending"
)

// Transaction is the append-only record of one settled order.
type Transaction struct {
	ID        uuid.UUID
	OrderID   uuid.UUID
	PayerID   uuid.UUID
	PayeeID   uuid.UUID
	Amount    decimal.Decimal
	Method    Method
	Status    Status
	CreatedAt time.Time
}

// Party is the minimal public identity of a payer or payee.
type Party struct {
	ID          uuid.UUID
	FullName    string
	PhoneNumber string
}

type Receipt struct {
	Transaction
	Payer Party
	Payee Party
}

type CompletedItem struct {
	OrderItemID    uuid.UUID
	ActualQuantity decimal.Decimal
}

type CompleteCommand struct {
	OrderID     uuid.UUID
	CollectorID uuid.UUID
	Method      Method
	Items       []CompletedItem
}

// AmountScale is the number of decimals kept on settled amounts.
const AmountScale = 2
