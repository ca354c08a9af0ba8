// Package memory is a single-process store used for local runs and tests. It
// implements the order and settlement repositories and the outbox store on
// top of one mutex, so every unit of work is serialised.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/dmehra2102/scrap-pickup/internal/order/application"
	"github.com/dmehra2102/scrap-pickup/internal/order/domain"
	paymentdomain "github.com/dmehra2102/scrap-pickup/internal/payment/domain"
	"github.com/dmehra2102/scrap-pickup/pkg/geo"
	"github.com/dmehra2102/scrap-pickup/pkg/outbox"
)

type Store struct {
	mu           sync.Mutex
	orders       map[uuid.UUID]domain.Order
	categories   map[uuid.UUID]domain.Category
	users        map[uuid.UUID]paymentdomain.Party
	reviews      map[uuid.UUID]domain.Review
	transactions map[uuid.UUID]paymentdomain.Transaction

	events     []*outboxRow
	nextID     int64
	maxRetries int
	now        func() time.Time
}

func NewStore() *Store {
	return &Store{
		orders:       make(map[uuid.UUID]domain.Order),
		categories:   make(map[uuid.UUID]domain.Category),
		users:        make(map[uuid.UUID]paymentdomain.Party),
		reviews:      make(map[uuid.UUID]domain.Review),
		transactions: make(map[uuid.UUID]paymentdomain.Transaction),
		maxRetries:   outbox.DefaultMaxRetries,
		now:          time.Now,
	}
}

// SetClock replaces the time source used for outbox leases and item stamps.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *Store) AddCategory(c domain.Category) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.categories[c.ID] = c
}

func (s *Store) AddUser(p paymentdomain.Party) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[p.ID] = p
}

// Ping always succeeds; it lets the store back the health check.
func (s *Store) Ping(context.Context) error { return nil }

func (s *Store) Create(_ context.Context, o domain.Order, msg outbox.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.orders[o.ID]; ok {
		return fmt.Errorf("%w: order %s exists", domain.ErrConflict, o.ID)
	}
	s.orders[o.ID] = clone(o)
	s.enqueue(msg)
	return nil
}

func (s *Store) Get(_ context.Context, id uuid.UUID) (domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return domain.Order{}, fmt.Errorf("%w: order %s", domain.ErrNotFound, id)
	}
	return clone(o), nil
}

func (s *Store) ListByOwner(_ context.Context, owner uuid.UUID) ([]domain.Order, error) {
	return s.list(func(o domain.Order) bool { return o.OwnerID == owner }), nil
}

func (s *Store) ListByCollector(_ context.Context, collector uuid.UUID) ([]domain.Order, error) {
	return s.list(func(o domain.Order) bool { return o.IsCollector(collector) }), nil
}

func (s *Store) list(match func(domain.Order) bool) []domain.Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Order, 0)
	for _, o := range s.orders {
		if match(o) {
			out = append(out, clone(o))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID.String() < out[j].ID.String()
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

func (s *Store) Category(_ context.Context, id uuid.UUID) (domain.Category, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.categories[id]
	if !ok {
		return domain.Category{}, fmt.Errorf("%w: category %s", domain.ErrNotFound, id)
	}
	return c, nil
}

// FindNearbyPending prefilters with a bounding box and then checks the exact
// great-circle distance.
func (s *Store) FindNearbyPending(_ context.Context, q domain.NearbyQuery) ([]domain.Candidate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	box := geo.BoundingBox(q.Origin, q.RadiusKm)
	out := make([]domain.Candidate, 0)
	for _, o := range s.orders {
		if o.Status != domain.StatusPending || o.CollectorID != nil {
			continue
		}
		if !box.Contains(o.Location) {
			continue
		}
		d := geo.DistanceKm(q.Origin, o.Location)
		if d > q.RadiusKm {
			continue
		}
		out = append(out, domain.Candidate{Order: clone(o), DistanceKm: d})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DistanceKm == out[j].DistanceKm {
			return out[i].Order.ID.String() < out[j].Order.ID.String()
		}
		return out[i].DistanceKm < out[j].DistanceKm
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (s *Store) ClaimPending(_ context.Context, c application.Claim, event func(domain.Order) (outbox.Message, error)) (domain.Order, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[c.OrderID]
	if !ok || o.Status != domain.StatusPending {
		return domain.Order{}, false, nil
	}
	if o.CollectorID != nil && *o.CollectorID != c.CollectorID {
		return domain.Order{}, false, nil
	}
	o = clone(o)
	collector := c.CollectorID
	o.CollectorID = &collector
	o.Status = domain.StatusAccepted
	o.CollectorNote = c.Note
	o.UpdatedAt = c.At

	msg, err := event(o)
	if err != nil {
		return domain.Order{}, false, err
	}
	s.orders[o.ID] = o
	s.enqueue(msg)
	return clone(o), true, nil
}

func (s *Store) Review(_ context.Context, orderID uuid.UUID) (domain.Review, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reviews[orderID]
	if !ok {
		return domain.Review{}, fmt.Errorf("%w: review for order %s", domain.ErrNotFound, orderID)
	}
	return r, nil
}

// WithLock holds the store lock while fn runs and applies the staged writes
// only when fn succeeds.
func (s *Store) WithLock(ctx context.Context, id uuid.UUID, fn func(ctx context.Context, tx application.OrderTx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[id]
	if !ok {
		return fmt.Errorf("%w: order %s", domain.ErrNotFound, id)
	}
	tx := &orderTx{store: s, work: clone(o)}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	tx.commit()
	return nil
}

type orderTx struct {
	store   *Store
	work    domain.Order
	review  *domain.Review
	pending []outbox.Message
}

func (t *orderTx) Order() domain.Order { return clone(t.work) }

func (t *orderTx) SaveOrder(_ context.Context, o domain.Order) error {
	t.work = withScalars(t.work, o)
	return nil
}

func (t *orderTx) InsertItem(_ context.Context, it domain.OrderItem) error {
	for _, existing := range t.work.Items {
		if existing.CategoryID == it.CategoryID {
			return fmt.Errorf("%w: category already on this order", domain.ErrInvalidInput)
		}
	}
	t.work.Items = append(t.work.Items, it)
	return nil
}

func (t *orderTx) UpdateItemQuantity(_ context.Context, itemID uuid.UUID, qty decimal.Decimal) error {
	for i := range t.work.Items {
		if t.work.Items[i].ID == itemID {
			t.work.Items[i].Quantity = qty
			t.work.Items[i].UpdatedAt = t.store.now().UTC()
			return nil
		}
	}
	return fmt.Errorf("%w: item %s", domain.ErrNotFound, itemID)
}

func (t *orderTx) DeleteItem(_ context.Context, itemID uuid.UUID) error {
	for i := range t.work.Items {
		if t.work.Items[i].ID == itemID {
			t.work.Items = append(t.work.Items[:i], t.work.Items[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("%w: item %s", domain.ErrNotFound, itemID)
}

func (t *orderTx) InsertReview(_ context.Context, r domain.Review) error {
	if _, ok := t.store.reviews[r.OrderID]; ok || t.review != nil {
		return fmt.Errorf("%w: order already reviewed", domain.ErrConflict)
	}
	t.review = &r
	return nil
}

func (t *orderTx) Enqueue(_ context.Context, msg outbox.Message) error {
	t.pending = append(t.pending, msg)
	return nil
}

func (t *orderTx) commit() {
	t.store.orders[t.work.ID] = t.work
	if t.review != nil {
		t.store.reviews[t.review.OrderID] = *t.review
	}
	for _, msg := range t.pending {
		t.store.enqueue(msg)
	}
}

// withScalars copies the order's own columns from src onto dst, keeping dst's
// items the way an UPDATE on the orders table would.
func withScalars(dst, src domain.Order) domain.Order {
	items := dst.Items
	dst = clone(src)
	dst.Items = items
	return dst
}

func clone(o domain.Order) domain.Order {
	if o.CollectorID != nil {
		c := *o.CollectorID
		o.CollectorID = &c
	}
	if o.TotalAmountPaid != nil {
		t := *o.TotalAmountPaid
		o.TotalAmountPaid = &t
	}
	o.ImageURLs = append([]string(nil), o.ImageURLs...)
	items := make([]domain.OrderItem, len(o.Items))
	for i, it := range o.Items {
		if it.PricePerUnit != nil {
			p := *it.PricePerUnit
			it.PricePerUnit = &p
		}
		items[i] = it
	}
	o.Items = items
	return o
}
