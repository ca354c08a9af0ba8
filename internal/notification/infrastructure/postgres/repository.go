package postgres

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dmehra2102/scrap-pickup/internal/notification/domain"
)

type Repository struct {
	log  *slog.Logger
	pool *pgxpool.Pool
}

func NewRepository(log *slog.Logger, pool *pgxpool.Pool) *Repository {
	return &Repository{log: log, pool: pool}
}

func (r *Repository) Save(ctx context.Context, ns []domain.Notification) (int, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	added := 0
	for _, n := range ns {
		ct, err := tx.Exec(ctx, `
			INSERT INTO user_notifications (user_id, order_id, kind, message, event_key, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (event_key, user_id) DO NOTHING`,
			n.UserID, n.OrderID, n.Kind, n.Message, n.EventKey, n.CreatedAt)
		if err != nil {
			return 0, err
		}
		added += int(ct.RowsAffected())
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return added, nil
}

func (r *Repository) ListForUser(ctx context.Context, userID uuid.UUID, limit int) ([]domain.Notification, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, user_id, order_id, kind, message, event_key, is_read, created_at
		FROM user_notifications
		WHERE user_id = $1
		ORDER BY id DESC
		LIMIT $2`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.Notification, 0)
	for rows.Next() {
		var n domain.Notification
		if err := rows.Scan(&n.ID, &n.UserID, &n.OrderID, &n.Kind, &n.Message, &n.EventKey, &n.IsRead, &n.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}
