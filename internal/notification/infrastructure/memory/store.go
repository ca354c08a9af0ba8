package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/dmehra2102/scrap-pickup/internal/notification/domain"
)

type key struct {
	event string
	user  uuid.UUID
}

type Store struct {
	mu     sync.Mutex
	nextID int64
	rows   map[key]domain.Notification
}

func NewStore() *Store {
	return &Store{rows: make(map[key]domain.Notification)}
}

func (s *Store) Save(_ context.Context, ns []domain.Notification) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	added := 0
	for _, n := range ns {
		k := key{event: n.EventKey, user: n.UserID}
		if _, ok := s.rows[k]; ok {
			continue
		}
		s.nextID++
		n.ID = s.nextID
		s.rows[k] = n
		added++
	}
	return added, nil
}

func (s *Store) ListForUser(_ context.Context, userID uuid.UUID, limit int) ([]domain.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.Notification, 0)
	for _, n := range s.rows {
		if n.UserID == userID {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
