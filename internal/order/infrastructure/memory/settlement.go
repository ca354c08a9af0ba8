package memory

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/dmehra2102/scrap-pickup/internal/order/domain"
	paymentapp "github.com/dmehra2102/scrap-pickup/internal/payment/application"
	paymentdomain "github.com/dmehra2102/scrap-pickup/internal/payment/domain"
	"github.com/dmehra2102/scrap-pickup/pkg/outbox"
)

// Settlements exposes the store as a payment settlement repository. Its
// method set would otherwise clash with the order repository.
func (s *Store) Settlements() paymentapp.SettlementRepository { return settlements{s} }

type settlements struct{ s *Store }

func (r settlements) Settle(ctx context.Context, orderID uuid.UUID, fn func(ctx context.Context, tx paymentapp.SettlementTx) error) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[orderID]
	if !ok {
		return fmt.Errorf("%w: order %s", domain.ErrNotFound, orderID)
	}
	tx := &settleTx{store: s, work: clone(o)}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	s.orders[orderID] = tx.work
	if tx.txn != nil {
		s.transactions[orderID] = *tx.txn
	}
	for _, msg := range tx.pending {
		s.enqueue(msg)
	}
	return nil
}

func (r settlements) GetByOrder(_ context.Context, orderID uuid.UUID) (paymentdomain.Transaction, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.transactions[orderID]
	if !ok {
		return paymentdomain.Transaction{}, fmt.Errorf("%w: transaction for order %s", domain.ErrNotFound, orderID)
	}
	return t, nil
}

func (r settlements) Parties(_ context.Context, payer, payee uuid.UUID) (paymentdomain.Party, paymentdomain.Party, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.party(payer), s.party(payee), nil
}

func (s *Store) party(id uuid.UUID) paymentdomain.Party {
	if p, ok := s.users[id]; ok {
		return p
	}
	return paymentdomain.Party{ID: id}
}

type settleTx struct {
	store   *Store
	work    domain.Order
	txn     *paymentdomain.Transaction
	pending []outbox.Message
}

func (t *settleTx) Order() domain.Order { return clone(t.work) }

func (t *settleTx) CategoryPrice(_ context.Context, categoryID uuid.UUID) (*decimal.Decimal, error) {
	c, ok := t.store.categories[categoryID]
	if !ok {
		return nil, fmt.Errorf("%w: category %s", domain.ErrNotFound, categoryID)
	}
	if c.EstimatedPricePerUnit == nil {
		return nil, nil
	}
	p := *c.EstimatedPricePerUnit
	return &p, nil
}

func (t *settleTx) SetItemQuantity(_ context.Context, itemID uuid.UUID, qty, pricePerUnit decimal.Decimal) error {
	for i := range t.work.Items {
		if t.work.Items[i].ID == itemID {
			t.work.Items[i].Quantity = qty
			t.work.Items[i].PricePerUnit = &pricePerUnit
			t.work.Items[i].UpdatedAt = t.store.now().UTC()
			return nil
		}
	}
	return fmt.Errorf("%w: item %s", domain.ErrNotFound, itemID)
}

func (t *settleTx) CompleteOrder(_ context.Context, o domain.Order) error {
	t.work = withScalars(t.work, o)
	return nil
}

func (t *settleTx) InsertTransaction(_ context.Context, txn paymentdomain.Transaction) error {
	if _, ok := t.store.transactions[txn.OrderID]; ok || t.txn != nil {
		return fmt.Errorf("%w: order %s already settled", domain.ErrConflict, txn.OrderID)
	}
	t.txn = &txn
	return nil
}

func (t *settleTx) Enqueue(_ context.Context, msg outbox.Message) error {
	t.pending = append(t.pending, msg)
	return nil
}
