package postgres

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dmehra2102/scrap-pickup/pkg/outbox"
)

type OutboxStore struct {
	log        *slog.Logger
	pool       *pgxpool.Pool
	maxRetries int
}

func NewOutboxStore(log *slog.Logger, pool *pgxpool.Pool) *OutboxStore {
	return &OutboxStore{log: log, pool: pool, maxRetries: outbox.DefaultMaxRetries}
}

// LockBatch leases pending rows, plus in-progress rows whose lease has run
// out because their relay died.
func (s *OutboxStore) LockBatch(ctx context.Context, relayID string, batchSize int, lease time.Duration) ([]outbox.Event, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	rows, err := tx.Query(ctx, `
		SELECT id, aggregate_type, aggregate_id, type, payload, headers, traceparent, created_at, retry_count
		FROM outbox
		WHERE status = 'pending'
		   OR (status = 'in_progress' AND lease_until < now())
		ORDER BY id
		FOR UPDATE SKIP LOCKED
		LIMIT $1
	`, batchSize)
	if err != nil {
		return nil, err
	}

	var events []outbox.Event
	for rows.Next() {
		var event outbox.Event
		var headers map[string]string
		if err := rows.Scan(&event.ID, &event.AggregateType, &event.AggregateID, &event.Type, &event.Payload, &headers, &event.Traceparent, &event.CreatedAt, &event.RetryCount); err != nil {
			rows.Close()
			return nil, err
		}
		event.Headers = headers
		event.Status = outbox.StatusInProgress
		event.RelayID = relayID
		events = append(events, event)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, tx.Commit(ctx)
	}

	ids := make([]int64, 0, len(events))
	for _, ev := range events {
		ids = append(ids, ev.ID)
	}

	_, err = tx.Exec(ctx, `
		UPDATE outbox
		SET status = 'in_progress', relay_id = $1, lease_until = now() + make_interval(secs => $2)
		WHERE id = ANY($3)`, relayID, lease.Seconds(), ids)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return events, nil
}

func (s *OutboxStore) MarkSent(ctx context.Context, ids []int64) error {
	ct, err := s.pool.Exec(ctx, `UPDATE outbox SET status = 'sent', relay_id = NULL, lease_until = NULL WHERE id = ANY($1)`, ids)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return errors.New("no rows updated")
	}
	return nil
}

// MarkFailed puts the row back in the queue until it has failed maxRetries
// times, then parks it as failed.
func (s *OutboxStore) MarkFailed(ctx context.Context, id int64, errMsg string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE outbox
		SET retry_count = retry_count + 1,
		    last_error = $2,
		    relay_id = NULL,
		    lease_until = NULL,
		    status = CASE WHEN retry_count + 1 >= $3 THEN 'failed' ELSE 'pending' END
		WHERE id = $1`, id, errMsg, s.maxRetries)
	if err == nil {
		s.log.Warn("outbox event failed", "event_id", id, "err", errMsg)
	}
	return err
}

func (s *OutboxStore) ExtendLease(ctx context.Context, relayID string, ids []int64, lease time.Duration) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE outbox SET lease_until = now() + make_interval(secs => $1)
		WHERE id = ANY($2) AND relay_id = $3 AND status = 'in_progress'`, lease.Seconds(), ids, relayID)
	return err
}
