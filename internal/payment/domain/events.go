package domain

import (
	"time"

	"github.com/google/uuid"
)

const (
	AggregateType       = "payment"
	EventPaymentSettled = "PaymentSettled"
)

type PaymentSettled struct {
	TransactionID uuid.UUID `json:"transaction_id"`
	OrderID       uuid.UUID `json:"order_id"`
	PayerID       uuid.UUID `json:"payer_id"`
	PayeeID       uuid.UUID `json:"payee_id"`
	Amount        string    `json:"amount"`
	Method        Method    `json:"method"`
	SettledAt     time.Time `json:"settled_at"`
}
