package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	orderdomain "github.com/dmehra2102/scrap-pickup/internal/order/domain"
	"github.com/dmehra2102/scrap-pickup/internal/payment/application"
	"github.com/dmehra2102/scrap-pickup/internal/payment/domain"
	platformpg "github.com/dmehra2102/scrap-pickup/internal/platform/postgres"
	"github.com/dmehra2102/scrap-pickup/pkg/outbox"
)

type Repository struct {
	log  *slog.Logger
	pool *pgxpool.Pool
}

func NewRepository(log *slog.Logger, pool *pgxpool.Pool) *Repository {
	return &Repository{log: log, pool: pool}
}

// Settle runs fn in one transaction that holds SELECT ... FOR UPDATE on the
// order row, so two settlements of the same order serialise.
func (r *Repository) Settle(ctx context.Context, orderID uuid.UUID, fn func(ctx context.Context, tx application.SettlementTx) error) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	o, err := platformpg.LockOrder(ctx, tx, orderID)
	if err != nil {
		return err
	}
	if err := fn(ctx, &settleTx{tx: tx, order: o}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *Repository) GetByOrder(ctx context.Context, orderID uuid.UUID) (domain.Transaction, error) {
	var t domain.Transaction
	err := r.pool.QueryRow(ctx, `
		SELECT id, order_id, payer_id, payee_id, amount, payment_method, status, created_at
		FROM transactions WHERE order_id = $1`, orderID).
		Scan(&t.ID, &t.OrderID, &t.PayerID, &t.PayeeID, &t.Amount, &t.Method, &t.Status, &t.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Transaction{}, fmt.Errorf("%w: transaction for order %s", orderdomain.ErrNotFound, orderID)
		}
		return domain.Transaction{}, err
	}
	return t, nil
}

// Parties returns the public identity of both sides. Users missing from the
// local table come back with only their id.
func (r *Repository) Parties(ctx context.Context, payer, payee uuid.UUID) (domain.Party, domain.Party, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, full_name, phone_number FROM users WHERE id = ANY($1::uuid[])`,
		[]string{payer.String(), payee.String()})
	if err != nil {
		return domain.Party{}, domain.Party{}, err
	}
	defer rows.Close()

	found := make(map[uuid.UUID]domain.Party, 2)
	for rows.Next() {
		var p domain.Party
		if err := rows.Scan(&p.ID, &p.FullName, &p.PhoneNumber); err != nil {
			return domain.Party{}, domain.Party{}, err
		}
		found[p.ID] = p
	}
	if err := rows.Err(); err != nil {
		return domain.Party{}, domain.Party{}, err
	}
	party := func(id uuid.UUID) domain.Party {
		if p, ok := found[id]; ok {
			return p
		}
		return domain.Party{ID: id}
	}
	return party(payer), party(payee), nil
}

type settleTx struct {
	tx    pgx.Tx
	order orderdomain.Order
}

func (t *settleTx) Order() orderdomain.Order { return t.order }

func (t *settleTx) CategoryPrice(ctx context.Context, categoryID uuid.UUID) (*decimal.Decimal, error) {
	var price decimal.NullDecimal
	err := t.tx.QueryRow(ctx, `SELECT estimated_price_per_unit FROM scrap_categories WHERE id = $1`, categoryID).Scan(&price)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: category %s", orderdomain.ErrNotFound, categoryID)
		}
		return nil, err
	}
	if !price.Valid {
		return nil, nil
	}
	return &price.Decimal, nil
}

func (t *settleTx) SetItemQuantity(ctx context.Context, itemID uuid.UUID, qty, pricePerUnit decimal.Decimal) error {
	ct, err := t.tx.Exec(ctx, `
		UPDATE order_items SET quantity = $3, price_per_unit = $4, updated_at = now()
		WHERE id = $1 AND order_id = $2`, itemID, t.order.ID, qty, pricePerUnit)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("%w: item %s does not belong to this order", orderdomain.ErrInvalidInput, itemID)
	}
	return nil
}

func (t *settleTx) CompleteOrder(ctx context.Context, o orderdomain.Order) error {
	_, err := t.tx.Exec(ctx, `UPDATE orders SET status = $2, total_amount_paid = $3, updated_at = $4 WHERE id = $1`,
		o.ID, o.Status, o.TotalAmountPaid, o.UpdatedAt)
	return err
}

func (t *settleTx) InsertTransaction(ctx context.Context, txn domain.Transaction) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO transactions (id, order_id, payer_id, payee_id, amount, payment_method, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		txn.ID, txn.OrderID, txn.PayerID, txn.PayeeID, txn.Amount, txn.Method, txn.Status, txn.CreatedAt)
	if platformpg.IsUniqueViolation(err) {
		return fmt.Errorf("%w: order %s already settled", orderdomain.ErrConflict, txn.OrderID)
	}
	return err
}

func (t *settleTx) Enqueue(ctx context.Context, msg outbox.Message) error {
	return platformpg.InsertOutbox(ctx, t.tx, msg)
}
