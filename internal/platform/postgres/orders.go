package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/dmehra2102/scrap-pickup/internal/order/domain"
	"github.com/dmehra2102/scrap-pickup/pkg/outbox"
)

// OrderColumns matches ScanOrder. Columns are unqualified so the list also
// works in RETURNING clauses.
const OrderColumns = `id, owner_id, collector_id, pickup_address,
	ST_Y(location::geometry), ST_X(location::geometry),
	status, total_amount_paid, collector_note, image_urls, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

// ScanOrder reads one row selected with OrderColumns plus any extra trailing
// destinations. pgx.ErrNoRows becomes domain.ErrNotFound.
func ScanOrder(row scanner, extra ...any) (domain.Order, error) {
	var (
		o     domain.Order
		total decimal.NullDecimal
	)
	dest := []any{
		&o.ID, &o.OwnerID, &o.CollectorID, &o.PickupAddress,
		&o.Location.Lat, &o.Location.Lon,
		&o.Status, &total, &o.CollectorNote, &o.ImageURLs, &o.CreatedAt, &o.UpdatedAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Order{}, fmt.Errorf("%w: order", domain.ErrNotFound)
		}
		return domain.Order{}, err
	}
	if total.Valid {
		o.TotalAmountPaid = &total.Decimal
	}
	return o, nil
}

// LoadItems attaches items to each order, in creation order.
func LoadItems(ctx context.Context, q Querier, orders []domain.Order) error {
	if len(orders) == 0 {
		return nil
	}
	ids := make([]string, len(orders))
	index := make(map[uuid.UUID]int, len(orders))
	for i, o := range orders {
		ids[i] = o.ID.String()
		index[o.ID] = i
		orders[i].Items = nil
	}

	rows, err := q.Query(ctx, `
		SELECT id, order_id, category_id, quantity, price_per_unit, created_at, updated_at
		FROM order_items
		WHERE order_id = ANY($1::uuid[])
		ORDER BY created_at, id`, ids)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			it    domain.OrderItem
			price decimal.NullDecimal
		)
		if err := rows.Scan(&it.ID, &it.OrderID, &it.CategoryID, &it.Quantity, &price, &it.CreatedAt, &it.UpdatedAt); err != nil {
			return err
		}
		if price.Valid {
			it.PricePerUnit = &price.Decimal
		}
		i := index[it.OrderID]
		orders[i].Items = append(orders[i].Items, it)
	}
	return rows.Err()
}

// LockOrder selects the order row FOR UPDATE inside tx and loads its items.
func LockOrder(ctx context.Context, tx pgx.Tx, id uuid.UUID) (domain.Order, error) {
	o, err := ScanOrder(tx.QueryRow(ctx, `SELECT `+OrderColumns+` FROM orders WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return domain.Order{}, err
	}
	one := []domain.Order{o}
	if err := LoadItems(ctx, tx, one); err != nil {
		return domain.Order{}, err
	}
	return one[0], nil
}

func InsertOutbox(ctx context.Context, q Querier, msg outbox.Message) error {
	headers := msg.Headers
	if headers == nil {
		headers = map[string]string{}
	}
	_, err := q.Exec(ctx, `
		INSERT INTO outbox (aggregate_type, aggregate_id, type, payload, headers, traceparent, status)
		VALUES ($1, $2, $3, $4, $5, $6, 'pending')`,
		msg.AggregateType, msg.AggregateID, msg.Type, msg.Payload, headers, msg.Traceparent)
	return err
}
