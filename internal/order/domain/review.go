package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type Review struct {
	ID        uuid.UUID
	OrderID   uuid.UUID
	UserID    uuid.UUID
	Rating    int
	Comment   string
	CreatedAt time.Time
}

func (o Order) CanReview(actor uuid.UUID, rating int) error {
	if !o.IsOwner(actor) {
		return fmt.Errorf("%w: you can only review orders you created", ErrForbidden)
	}
	if o.Status != StatusCompleted {
		return fmt.Errorf("%w: can only review completed orders", ErrInvalidState)
	}
	if rating < 1 || rating > 5 {
		return fmt.Errorf("%w: rating must be between 1 and 5", ErrInvalidInput)
	}
	return nil
}
