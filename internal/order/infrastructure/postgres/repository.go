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

	"github.com/dmehra2102/scrap-pickup/internal/order/application"
	"github.com/dmehra2102/scrap-pickup/internal/order/domain"
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

func (r *Repository) Create(ctx context.Context, o domain.Order, msg outbox.Message) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	_, err = tx.Exec(ctx, `
		INSERT INTO orders (id, owner_id, pickup_address, location, status, created_at, updated_at)
		VALUES ($1, $2, $3, ST_SetSRID(ST_MakePoint($4, $5), 4326)::geography, $6, $7, $7)`,
		o.ID, o.OwnerID, o.PickupAddress, o.Location.Lon, o.Location.Lat, o.Status, o.CreatedAt)
	if err != nil {
		return err
	}

	batch := &pgx.Batch{}
	for _, it := range o.Items {
		batch.Queue(`
			INSERT INTO order_items (id, order_id, category_id, quantity, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $5)`,
			it.ID, o.ID, it.CategoryID, it.Quantity, it.CreatedAt)
	}
	if err = tx.SendBatch(ctx, batch).Close(); err != nil {
		if platformpg.IsUniqueViolation(err) {
			return fmt.Errorf("%w: category listed twice", domain.ErrInvalidInput)
		}
		return err
	}

	if err = platformpg.InsertOutbox(ctx, tx, msg); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *Repository) Get(ctx context.Context, id uuid.UUID) (domain.Order, error) {
	o, err := platformpg.ScanOrder(r.pool.QueryRow(ctx, `SELECT `+platformpg.OrderColumns+` FROM orders WHERE id = $1`, id))
	if err != nil {
		return domain.Order{}, err
	}
	one := []domain.Order{o}
	if err := platformpg.LoadItems(ctx, r.pool, one); err != nil {
		return domain.Order{}, err
	}
	return one[0], nil
}

func (r *Repository) ListByOwner(ctx context.Context, owner uuid.UUID) ([]domain.Order, error) {
	return r.list(ctx, `SELECT `+platformpg.OrderColumns+` FROM orders WHERE owner_id = $1 ORDER BY created_at DESC, id`, owner)
}

func (r *Repository) ListByCollector(ctx context.Context, collector uuid.UUID) ([]domain.Order, error) {
	return r.list(ctx, `SELECT `+platformpg.OrderColumns+` FROM orders WHERE collector_id = $1 ORDER BY created_at DESC, id`, collector)
}

func (r *Repository) list(ctx context.Context, sql string, args ...any) ([]domain.Order, error) {
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.Order, 0)
	for rows.Next() {
		o, err := platformpg.ScanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := platformpg.LoadItems(ctx, r.pool, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *Repository) Category(ctx context.Context, id uuid.UUID) (domain.Category, error) {
	var (
		c     domain.Category
		price decimal.NullDecimal
	)
	err := r.pool.QueryRow(ctx, `SELECT id, name, unit, estimated_price_per_unit FROM scrap_categories WHERE id = $1`, id).
		Scan(&c.ID, &c.Name, &c.Unit, &price)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Category{}, fmt.Errorf("%w: category %s", domain.ErrNotFound, id)
		}
		return domain.Category{}, err
	}
	if price.Valid {
		c.EstimatedPricePerUnit = &price.Decimal
	}
	return c, nil
}

// FindNearbyPending uses ST_DWithin so the GiST index on location prunes the
// scan; ST_Distance on geography is in meters.
func (r *Repository) FindNearbyPending(ctx context.Context, q domain.NearbyQuery) ([]domain.Candidate, error) {
	rows, err := r.pool.Query(ctx, `
		WITH origin AS (SELECT ST_SetSRID(ST_MakePoint($1, $2), 4326)::geography AS g)
		SELECT `+platformpg.OrderColumns+`, ST_Distance(location, origin.g) / 1000.0 AS distance_km
		FROM orders, origin
		WHERE status = 'pending'
		  AND collector_id IS NULL
		  AND ST_DWithin(location, origin.g, $3)
		ORDER BY distance_km, id
		LIMIT $4`,
		q.Origin.Lon, q.Origin.Lat, q.RadiusKm*1000, q.Limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.Candidate, 0)
	for rows.Next() {
		var dist float64
		o, err := platformpg.ScanOrder(rows, &dist)
		if err != nil {
			return nil, err
		}
		out = append(out, domain.Candidate{Order: o, DistanceKm: dist})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	orders := make([]domain.Order, len(out))
	for i, c := range out {
		orders[i] = c.Order
	}
	if err := platformpg.LoadItems(ctx, r.pool, orders); err != nil {
		return nil, err
	}
	for i := range out {
		out[i].Order = orders[i]
	}
	return out, nil
}

// ClaimPending is a single conditional UPDATE; the affected row decides the
// winner among concurrent collectors.
func (r *Repository) ClaimPending(ctx context.Context, c application.Claim, event func(domain.Order) (outbox.Message, error)) (domain.Order, bool, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return domain.Order{}, false, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	o, err := platformpg.ScanOrder(tx.QueryRow(ctx, `
		UPDATE orders
		SET collector_id = $2, status = 'accepted', collector_note = $3, updated_at = $4
		WHERE id = $1
		  AND status = 'pending'
		  AND (collector_id IS NULL OR collector_id = $2)
		RETURNING `+platformpg.OrderColumns,
		c.OrderID, c.CollectorID, c.Note, c.At))
	if errors.Is(err, domain.ErrNotFound) {
		return domain.Order{}, false, nil
	}
	if err != nil {
		return domain.Order{}, false, err
	}

	one := []domain.Order{o}
	if err := platformpg.LoadItems(ctx, tx, one); err != nil {
		return domain.Order{}, false, err
	}
	msg, err := event(one[0])
	if err != nil {
		return domain.Order{}, false, err
	}
	if err := platformpg.InsertOutbox(ctx, tx, msg); err != nil {
		return domain.Order{}, false, err
	}
	if err := tx.Commit(ctx); err != nil {
		return domain.Order{}, false, err
	}
	r.log.Info("order claimed", "order_id", o.ID, "collector_id", c.CollectorID)
	return one[0], true, nil
}

func (r *Repository) WithLock(ctx context.Context, id uuid.UUID, fn func(ctx context.Context, tx application.OrderTx) error) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	o, err := platformpg.LockOrder(ctx, tx, id)
	if err != nil {
		return err
	}
	if err := fn(ctx, &orderTx{tx: tx, order: o}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *Repository) Review(ctx context.Context, orderID uuid.UUID) (domain.Review, error) {
	var rv domain.Review
	err := r.pool.QueryRow(ctx, `
		SELECT id, order_id, user_id, rating, comment, created_at
		FROM reviews WHERE order_id = $1`, orderID).
		Scan(&rv.ID, &rv.OrderID, &rv.UserID, &rv.Rating, &rv.Comment, &rv.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Review{}, fmt.Errorf("%w: review for order %s", domain.ErrNotFound, orderID)
		}
		return domain.Review{}, err
	}
	return rv, nil
}

type orderTx struct {
	tx    pgx.Tx
	order domain.Order
}

func (t *orderTx) Order() domain.Order { return t.order }

func (t *orderTx) SaveOrder(ctx context.Context, o domain.Order) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE orders
		SET pickup_address = $2, status = $3, collector_id = $4, collector_note = $5,
		    image_urls = $6, total_amount_paid = $7, updated_at = $8
		WHERE id = $1`,
		o.ID, o.PickupAddress, o.Status, o.CollectorID, o.CollectorNote, imageURLs(o.ImageURLs), o.TotalAmountPaid, o.UpdatedAt)
	return err
}

func (t *orderTx) InsertItem(ctx context.Context, it domain.OrderItem) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO order_items (id, order_id, category_id, quantity, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		it.ID, it.OrderID, it.CategoryID, it.Quantity, it.CreatedAt, it.UpdatedAt)
	if platformpg.IsUniqueViolation(err) {
		return fmt.Errorf("%w: category already on this order", domain.ErrInvalidInput)
	}
	return err
}

func (t *orderTx) UpdateItemQuantity(ctx context.Context, itemID uuid.UUID, qty decimal.Decimal) error {
	ct, err := t.tx.Exec(ctx, `UPDATE order_items SET quantity = $3, updated_at = now() WHERE id = $1 AND order_id = $2`,
		itemID, t.order.ID, qty)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("%w: item %s", domain.ErrNotFound, itemID)
	}
	return nil
}

func (t *orderTx) DeleteItem(ctx context.Context, itemID uuid.UUID) error {
	ct, err := t.tx.Exec(ctx, `DELETE FROM order_items WHERE id = $1 AND order_id = $2`, itemID, t.order.ID)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("%w: item %s", domain.ErrNotFound, itemID)
	}
	return nil
}

func (t *orderTx) InsertReview(ctx context.Context, rv domain.Review) error {
	ct, err := t.tx.Exec(ctx, `
		INSERT INTO reviews (id, order_id, user_id, rating, comment, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (order_id) DO NOTHING`,
		rv.ID, rv.OrderID, rv.UserID, rv.Rating, rv.Comment, rv.CreatedAt)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("%w: order already reviewed", domain.ErrConflict)
	}
	return nil
}

func (t *orderTx) Enqueue(ctx context.Context, msg outbox.Message) error {
	return platformpg.InsertOutbox(ctx, t.tx, msg)
}

// imageURLs keeps the NOT NULL column happy for orders without images.
func imageURLs(urls []string) []string {
	if urls == nil {
		return []string{}
	}
	return urls
}
