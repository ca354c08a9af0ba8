package application

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	orderdomain "github.com/dmehra2102/scrap-pickup/internal/order/domain"
	"github.com/dmehra2102/scrap-pickup/internal/payment/domain"
	"github.com/dmehra2102/scrap-pickup/pkg/outbox"
)

type Service struct {
	log  *slog.Logger
	repo SettlementRepository
	now  func() time.Time
}

func NewService(log *slog.Logger, repo SettlementRepository) *Service {
	return &Service{
		log:  log,
		repo: repo,
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// WithClock replaces the time source; tests use it for stable timestamps.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

func validate(cmd domain.CompleteCommand) error {
	if !cmd.Method.Valid() {
		return fmt.Errorf("%w: payment_method must be cash or wallet", orderdomain.ErrInvalidInput)
	}
	if len(cmd.Items) == 0 {
		return fmt.Errorf("%w: at least one item is required", orderdomain.ErrInvalidInput)
	}
	seen := make(map[uuid.UUID]struct{}, len(cmd.Items))
	for _, it := range cmd.Items {
		if _, dup := seen[it.OrderItemID]; dup {
			return fmt.Errorf("%w: item %s listed twice", orderdomain.ErrInvalidInput, it.OrderItemID)
		}
		seen[it.OrderItemID] = struct{}{}
		if err := orderdomain.ValidateQuantity(it.ActualQuantity); err != nil {
			return fmt.Errorf("actual_quantity: %w", err)
		}
	}
	return nil
}

// Complete settles an accepted order: it rewrites the submitted quantities,
// prices them at the current category price, marks the order completed and
// records the transaction. Nothing is written unless every step succeeds.
func (s *Service) Complete(ctx context.Context, cmd domain.CompleteCommand) (domain.Receipt, error) {
	if err := validate(cmd); err != nil {
		return domain.Receipt{}, err
	}

	var txn domain.Transaction
	err := s.repo.Settle(ctx, cmd.OrderID, func(ctx context.Context, tx SettlementTx) error {
		o := tx.Order()
		if err := o.CanComplete(cmd.CollectorID); err != nil {
			return err
		}

		total := decimal.Zero
		for _, in := range cmd.Items {
			item, ok := o.Item(in.OrderItemID)
			if !ok {
				return fmt.Errorf("%w: item %s does not belong to this order", orderdomain.ErrInvalidInput, in.OrderItemID)
			}
			price, err := tx.CategoryPrice(ctx, item.CategoryID)
			if err != nil {
				return err
			}
			if price == nil {
				return fmt.Errorf("%w: category %s has no price", orderdomain.ErrInvalidState, item.CategoryID)
			}
			if err := tx.SetItemQuantity(ctx, item.ID, in.ActualQuantity, *price); err != nil {
				return err
			}
			line := in.ActualQuantity.Mul(*price)
			if err := orderdomain.ValidateAmount(line); err != nil {
				return fmt.Errorf("item %s: %w", item.ID, err)
			}
			total = total.Add(line)
		}
		total = total.Round(domain.AmountScale)
		if err := orderdomain.ValidateAmount(total); err != nil {
			return fmt.Errorf("total: %w", err)
		}

		now := s.now()
		if err := o.Complete(cmd.CollectorID, total, now); err != nil {
			return err
		}
		if err := tx.CompleteOrder(ctx, o); err != nil {
			return err
		}

		txn = domain.Transaction{
			ID:        uuid.New(),
			OrderID:   o.ID,
			PayerID:   cmd.CollectorID,
			PayeeID:   o.OwnerID,
			Amount:    total,
			Method:    cmd.Method,
			Status:    domain.StatusSuccessful,
			CreatedAt: now,
		}
		if err := tx.InsertTransaction(ctx, txn); err != nil {
			return err
		}

		msg, err := outbox.NewMessage(ctx, domain.AggregateType, o.ID.String(), domain.EventPaymentSettled, domain.PaymentSettled{
			TransactionID: txn.ID,
			OrderID:       txn.OrderID,
			PayerID:       txn.PayerID,
			PayeeID:       txn.PayeeID,
			Amount:        txn.Amount.StringFixed(domain.AmountScale),
			Method:        txn.Method,
			SettledAt:     now,
		})
		if err != nil {
			return err
		}
		return tx.Enqueue(ctx, msg)
	})
	if err != nil {
		return domain.Receipt{}, err
	}

	s.log.Info("order settled", "order_id", txn.OrderID, "transaction_id", txn.ID, "amount", txn.Amount.StringFixed(domain.AmountScale))
	r, err := s.receipt(ctx, txn)
	if err != nil {
		// The settlement is committed; answer with what we have.
		s.log.Warn("receipt parties lookup failed", "order_id", txn.OrderID, "err", err)
		return domain.Receipt{
			Transaction: txn,
			Payer:       domain.Party{ID: txn.PayerID},
			Payee:       domain.Party{ID: txn.PayeeID},
		}, nil
	}
	return r, nil
}

// GetForOrder returns the settlement receipt to either party of the order.
func (s *Service) GetForOrder(ctx context.Context, orderID, actor uuid.UUID) (domain.Receipt, error) {
	txn, err := s.repo.GetByOrder(ctx, orderID)
	if err != nil {
		return domain.Receipt{}, err
	}
	if actor != txn.PayerID && actor != txn.PayeeID {
		return domain.Receipt{}, fmt.Errorf("%w: not a party to this transaction", orderdomain.ErrForbidden)
	}
	return s.receipt(ctx, txn)
}

func (s *Service) receipt(ctx context.Context, txn domain.Transaction) (domain.Receipt, error) {
	payer, payee, err := s.repo.Parties(ctx, txn.PayerID, txn.PayeeID)
	if err != nil {
		return domain.Receipt{}, err
	}
	return domain.Receipt{Transaction: txn, Payer: payer, Payee: payee}, nil
}
