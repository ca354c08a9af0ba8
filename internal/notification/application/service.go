package application

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dmehra2102/scrap-pickup/internal/notification/domain"
)

type Repository interface {
	// Save stores notifications, skipping any (event_key, user_id) pair that
	// already exists. It returns how many rows were new.
	Save(ctx context.Context, ns []domain.Notification) (int, error)
	ListForUser(ctx context.Context, userID uuid.UUID, limit int) ([]domain.Notification, error)
}

type Service struct {
	log  *slog.Logger
	repo Repository
	now  func() time.Time
}

func NewService(log *slog.Logger, repo Repository) *Service {
	return &Service{log: log, repo: repo, now: func() time.Time { return time.Now().UTC() }}
}

// Handle records the notifications caused by one event. Malformed payloads
// are returned as errors; the caller decides whether to retry.
func (s *Service) Handle(ctx context.Context, eventType string, payload []byte) error {
	ns, err := domain.FromEvent(eventType, payload, s.now())
	if err != nil {
		return err
	}
	if len(ns) == 0 {
		s.log.Debug("event ignored", "type", eventType)
		return nil
	}
	n, err := s.repo.Save(ctx, ns)
	if err != nil {
		return err
	}
	s.log.Info("notifications stored", "type", eventType, "order_id", ns[0].OrderID, "new", n)
	return nil
}

func (s *Service) List(ctx context.Context, userID uuid.UUID, limit int) ([]domain.Notification, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.repo.ListForUser(ctx, userID, limit)
}
