package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/dmehra2102/scrap-pickup/pkg/geo"
)

type OrderStatus string

const (
	StatusPending   OrderStatus = "pending"
	StatusAccepted  OrderStatus = "accepted"
	StatusCompleted OrderStatus = "completed"
	StatusCancelled OrderStatus = "cancelled"
)

var transitions = map[OrderStatus][]OrderStatus{
	StatusPending:  {StatusAccepted, StatusCancelled},
	StatusAccepted: {StatusCompleted, StatusCancelled},
}

func (s OrderStatus) Valid() bool {
	switch s {
	case StatusPending, StatusAccepted, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

func (s OrderStatus) IsTerminal() bool {
	return len(transitions[s]) == 0
}

type Order struct {
	ID              uuid.UUID
	OwnerID         uuid.UUID
	CollectorID     *uuid.UUID
	PickupAddress   string
	Location        geo.Point
	Status          OrderStatus
	TotalAmountPaid *decimal.Decimal
	CollectorNote   string
	ImageURLs       []string
	Items           []OrderItem
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

type OrderItem struct {
	ID         uuid.UUID
	OrderID    uuid.UUID
	CategoryID uuid.UUID
	Quantity   decimal.Decimal
	// PricePerUnit is written at settlement with the category price that was
	// charged. It is never used to price anything.
	PricePerUnit *decimal.Decimal
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Category is the read-only view of a scrap category.
type Category struct {
	ID                    uuid.UUID
	Name                  string
	Unit                  string
	EstimatedPricePerUnit *decimal.Decimal
}

func NewOrder(id, owner uuid.UUID, address string, loc geo.Point, items []OrderItem, now time.Time) Order {
	for i := range items {
		items[i].OrderID = id
		items[i].CreatedAt = now
		items[i].UpdatedAt = now
	}
	return Order{
		ID:            id,
		OwnerID:       owner,
		PickupAddress: address,
		Location:      loc,
		Status:        StatusPending,
		Items:         items,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func (o Order) IsOwner(actor uuid.UUID) bool { return o.OwnerID == actor }

func (o Order) IsCollector(actor uuid.UUID) bool {
	return o.CollectorID != nil && *o.CollectorID == actor
}

// VisibleTo reports whether actor may read the order: its owner, its
// collector, or any collector while it is still unassigned.
func (o Order) VisibleTo(actor uuid.UUID, isCollector bool) bool {
	if o.IsOwner(actor) || o.IsCollector(actor) {
		return true
	}
	return isCollector && o.CollectorID == nil
}

func (o Order) Item(id uuid.UUID) (OrderItem, bool) {
	for _, it := range o.Items {
		if it.ID == id {
			return it, true
		}
	}
	return OrderItem{}, false
}

// CanAccept checks accept preconditions in the order NOT_FOUND is already
// ruled out by the caller: state first, then the existing claim.
func (o Order) CanAccept(collector uuid.UUID) error {
	if o.Status != StatusPending {
		return fmt.Errorf("%w: order is %s", ErrInvalidState, o.Status)
	}
	if o.CollectorID != nil && *o.CollectorID != collector {
		return fmt.Errorf("%w: order already assigned", ErrConflict)
	}
	return nil
}

func (o *Order) Accept(collector uuid.UUID, note string, now time.Time) error {
	if err := o.CanAccept(collector); err != nil {
		return err
	}
	o.CollectorID = &collector
	o.Status = StatusAccepted
	o.CollectorNote = note
	o.UpdatedAt = now
	return nil
}

// ClassifyClaimFailure explains why a conditional claim affected no rows,
// given the state re-read afterwards. It never returns nil.
func ClassifyClaimFailure(o Order, collector uuid.UUID) error {
	if err := o.CanAccept(collector); err != nil {
		return err
	}
	return fmt.Errorf("%w: order was claimed concurrently", ErrConflict)
}

// Cancel is allowed to the owner while PENDING or ACCEPTED, and to the
// assigned collector while ACCEPTED.
func (o *Order) Cancel(actor uuid.UUID, now time.Time) error {
	if !o.IsOwner(actor) && !o.IsCollector(actor) {
		return fmt.Errorf("%w: not a party to this order", ErrForbidden)
	}
	if !o.Status.CanTransitionTo(StatusCancelled) {
		return fmt.Errorf("%w: order is %s", ErrInvalidState, o.Status)
	}
	o.Status = StatusCancelled
	o.UpdatedAt = now
	return nil
}

func (o Order) EnsureItemsEditableBy(actor uuid.UUID) error {
	if !o.IsOwner(actor) {
		return fmt.Errorf("%w: only the owner can change items", ErrForbidden)
	}
	if o.Status != StatusPending {
		return fmt.Errorf("%w: items are frozen once the order is %s", ErrInvalidState, o.Status)
	}
	return nil
}

func (o Order) CanComplete(collector uuid.UUID) error {
	if !o.IsCollector(collector) {
		return fmt.Errorf("%w: you are not the collector of this order", ErrForbidden)
	}
	if o.Status != StatusAccepted {
		return fmt.Errorf("%w: order is %s", ErrInvalidState, o.Status)
	}
	return nil
}

func (o *Order) Complete(collector uuid.UUID, total decimal.Decimal, now time.Time) error {
	if err := o.CanComplete(collector); err != nil {
		return err
	}
	o.Status = StatusCompleted
	o.TotalAmountPaid = &total
	o.UpdatedAt = now
	return nil
}

// AttachImages records proof-of-pickup references.
func (o *Order) AttachImages(collector uuid.UUID, urls []string, now time.Time) error {
	if !o.IsCollector(collector) {
		return fmt.Errorf("%w: only the assigned collector can attach images", ErrForbidden)
	}
	if o.Status != StatusAccepted {
		return fmt.Errorf("%w: order is %s", ErrInvalidState, o.Status)
	}
	if len(urls) == 0 || len(urls) > MaxImages {
		return fmt.Errorf("%w: between 1 and %d image urls required", ErrInvalidInput, MaxImages)
	}
	o.ImageURLs = append([]string(nil), urls...)
	o.UpdatedAt = now
	return nil
}

const MaxImages = 2

// Quantities are stored as NUMERIC(12,3) and amounts as NUMERIC(12,2).
const QuantityScale = 3

var (
	MaxQuantity = decimal.New(1, 9)
	MaxAmount   = decimal.New(1, 10)
)

// ValidateQuantity accepts a positive quantity below MaxQuantity with at most
// QuantityScale decimals. Trailing zeros do not count.
func ValidateQuantity(q decimal.Decimal) error {
	if !q.IsPositive() {
		return fmt.Errorf("%w: quantity must be positive", ErrInvalidInput)
	}
	if !q.Equal(q.Truncate(QuantityScale)) {
		return fmt.Errorf("%w: quantity allows at most %d decimals", ErrInvalidInput, QuantityScale)
	}
	if !q.LessThan(MaxQuantity) {
		return fmt.Errorf("%w: quantity must be below %s", ErrInvalidInput, MaxQuantity)
	}
	return nil
}

// ValidateAmount rejects amounts that do not fit the money column.
func ValidateAmount(a decimal.Decimal) error {
	if !a.Round(2).LessThan(MaxAmount) {
		return fmt.Errorf("%w: amount %s exceeds %s", ErrInvalidInput, a.StringFixed(2), MaxAmount)
	}
	return nil
}

// CheckInvariants verifies the collector/status and total/status couplings.
func (o Order) CheckInvariants() error {
	if !o.Status.Valid() {
		return fmt.Errorf("unknown status %q", o.Status)
	}
	switch o.Status {
	case StatusPending:
		if o.CollectorID != nil {
			return fmt.Errorf("pending order %s has a collector", o.ID)
		}
	case StatusAccepted, StatusCompleted:
		if o.CollectorID == nil {
			return fmt.Errorf("%s order %s has no collector", o.Status, o.ID)
		}
	}
	if (o.Status == StatusCompleted) != (o.TotalAmountPaid != nil) {
		return fmt.Errorf("order %s: total must be set iff completed", o.ID)
	}
	for _, it := range o.Items {
		if !it.Quantity.IsPositive() {
			return fmt.Errorf("item %s has non-positive quantity", it.ID)
		}
	}
	return nil
}
