package memory

import (
	"context"
	"time"

	"github.com/dmehra2102/scrap-pickup/pkg/outbox"
)

type outboxRow struct {
	event      outbox.Event
	leaseUntil time.Time
}

// enqueue must be called with s.mu held.
func (s *Store) enqueue(msg outbox.Message) {
	s.nextID++
	s.events = append(s.events, &outboxRow{event: outbox.Event{
		ID:            s.nextID,
		AggregateType: msg.AggregateType,
		AggregateID:   msg.AggregateID,
		Type:          msg.Type,
		Payload:       msg.Payload,
		Headers:       msg.Headers,
		Traceparent:   msg.Traceparent,
		CreatedAt:     s.now().UTC(),
		Status:        outbox.StatusPending,
	}})
}

// Events returns a snapshot of every outbox row in insertion order.
func (s *Store) Events() []outbox.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]outbox.Event, len(s.events))
	for i, r := range s.events {
		out[i] = r.event
	}
	return out
}

func (s *Store) LockBatch(_ context.Context, relayID string, batchSize int, lease time.Duration) ([]outbox.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	out := make([]outbox.Event, 0, batchSize)
	for _, r := range s.events {
		if len(out) == batchSize {
			break
		}
		expired := r.event.Status == outbox.StatusInProgress && now.After(r.leaseUntil)
		if r.event.Status != outbox.StatusPending && !expired {
			continue
		}
		r.event.Status = outbox.StatusInProgress
		r.event.RelayID = relayID
		r.leaseUntil = now.Add(lease)
		out = append(out, r.event)
	}
	return out, nil
}

func (s *Store) MarkSent(_ context.Context, ids []int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.rows(ids) {
		r.event.Status = outbox.StatusSent
		r.event.RelayID = ""
	}
	return nil
}

func (s *Store) MarkFailed(_ context.Context, id int64, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.rows([]int64{id}) {
		r.event.RetryCount++
		msg := errMsg
		r.event.LastError = &msg
		r.event.RelayID = ""
		if r.event.RetryCount >= s.maxRetries {
			r.event.Status = outbox.StatusFailed
		} else {
			r.event.Status = outbox.StatusPending
		}
	}
	return nil
}

func (s *Store) ExtendLease(_ context.Context, relayID string, ids []int64, lease time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	until := s.now().Add(lease)
	for _, r := range s.rows(ids) {
		if r.event.Status == outbox.StatusInProgress && r.event.RelayID == relayID {
			r.leaseUntil = until
		}
	}
	return nil
}

func (s *Store) rows(ids []int64) []*outboxRow {
	want := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		want[id] = struct{}{}
	}
	out := make([]*outboxRow, 0, len(ids))
	for _, r := range s.events {
		if _, ok := want[r.event.ID]; ok {
			out = append(out, r)
		}
	}
	return out
}
