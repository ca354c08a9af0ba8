package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/dmehra2102/scrap-pickup/internal/order/domain"
	"github.com/dmehra2102/scrap-pickup/pkg/geo"
	"github.com/dmehra2102/scrap-pickup/pkg/outbox"
)

// NearbyLimits bounds proximity queries. Defaults are applied by the HTTP
// layer when the caller omits a parameter.
type NearbyLimits struct {
	DefaultRadiusKm float64
	MaxRadiusKm     float64
	DefaultLimit    int
	MaxLimit        int
}

var DefaultNearbyLimits = NearbyLimits{
	DefaultRadiusKm: 5,
	MaxRadiusKm:     50,
	DefaultLimit:    10,
	MaxLimit:        50,
}

const defaultEnrichTimeout = 3 * time.Second

type Service struct {
	log           *slog.Logger
	repo          OrderRepository
	travel        TravelEstimator
	geocoder      Geocoder
	limits        NearbyLimits
	enrichTimeout time.Duration
	now           func() time.Time
}

type Option func(*Service)

func WithTravelEstimator(t TravelEstimator) Option { return func(s *Service) { s.travel = t } }

func WithGeocoder(g Geocoder) Option { return func(s *Service) { s.geocoder = g } }

func WithNearbyLimits(l NearbyLimits) Option { return func(s *Service) { s.limits = l } }

func WithEnrichTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.enrichTimeout = d
		}
	}
}

func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

func NewService(log *slog.Logger, repo OrderRepository, opts ...Option) *Service {
	s := &Service{
		log:           log,
		repo:          repo,
		limits:        DefaultNearbyLimits,
		enrichTimeout: defaultEnrichTimeout,
		now:           func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) Limits() NearbyLimits { return s.limits }

type NewItem struct {
	CategoryID uuid.UUID
	Quantity   decimal.Decimal
}

type CreateOrderCommand struct {
	OwnerID       uuid.UUID
	PickupAddress string
	// Location is geocoded from PickupAddress when nil.
	Location *geo.Point
	Items    []NewItem
}

func (s *Service) CreateOrder(ctx context.Context, cmd CreateOrderCommand) (domain.Order, error) {
	address := strings.TrimSpace(cmd.PickupAddress)
	if address == "" {
		return domain.Order{}, fmt.Errorf("%w: pickup_address is required", domain.ErrInvalidInput)
	}

	seen := make(map[uuid.UUID]struct{}, len(cmd.Items))
	items := make([]domain.OrderItem, 0, len(cmd.Items))
	for _, in := range cmd.Items {
		if _, dup := seen[in.CategoryID]; dup {
			return domain.Order{}, fmt.Errorf("%w: category %s listed twice", domain.ErrInvalidInput, in.CategoryID)
		}
		seen[in.CategoryID] = struct{}{}
		if err := s.checkItem(ctx, in); err != nil {
			return domain.Order{}, err
		}
		items = append(items, domain.OrderItem{
			ID:         uuid.New(),
			CategoryID: in.CategoryID,
			Quantity:   in.Quantity,
		})
	}

	loc, err := s.locate(ctx, address, cmd.Location)
	if err != nil {
		return domain.Order{}, err
	}

	o := domain.NewOrder(uuid.New(), cmd.OwnerID, address, loc, items, s.now())
	msg, err := outbox.NewMessage(ctx, domain.AggregateType, o.ID.String(), domain.EventOrderCreated, domain.OrderCreated{
		OrderID:   o.ID,
		OwnerID:   o.OwnerID,
		Address:   o.PickupAddress,
		Lat:       o.Location.Lat,
		Lon:       o.Location.Lon,
		ItemCount: len(o.Items),
		CreatedAt: o.CreatedAt,
	})
	if err != nil {
		return domain.Order{}, err
	}
	if err := s.repo.Create(ctx, o, msg); err != nil {
		return domain.Order{}, err
	}
	return o, nil
}

func (s *Service) locate(ctx context.Context, address string, given *geo.Point) (geo.Point, error) {
	if given != nil {
		if err := given.Validate(); err != nil {
			return geo.Point{}, fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
		}
		return *given, nil
	}
	if s.geocoder == nil {
		return geo.Point{}, fmt.Errorf("%w: coordinates are required", domain.ErrInvalidInput)
	}
	p, err := s.geocoder.Geocode(ctx, address)
	if err != nil {
		return geo.Point{}, err
	}
	return p, nil
}

func (s *Service) checkItem(ctx context.Context, in NewItem) error {
	if err := domain.ValidateQuantity(in.Quantity); err != nil {
		return err
	}
	if _, err := s.repo.Category(ctx, in.CategoryID); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("%w: unknown category %s", domain.ErrInvalidInput, in.CategoryID)
		}
		return err
	}
	return nil
}

// GetOrder returns the order if viewer may see it.
func (s *Service) GetOrder(ctx context.Context, id, viewer uuid.UUID, isCollector bool) (domain.Order, error) {
	o, err := s.repo.Get(ctx, id)
	if err != nil {
		return domain.Order{}, err
	}
	if !o.VisibleTo(viewer, isCollector) {
		return domain.Order{}, fmt.Errorf("%w: you cannot view this order", domain.ErrForbidden)
	}
	return o, nil
}

func (s *Service) ListOwned(ctx context.Context, owner uuid.UUID) ([]domain.Order, error) {
	return s.repo.ListByOwner(ctx, owner)
}

func (s *Service) ListAssigned(ctx context.Context, collector uuid.UUID) ([]domain.Order, error) {
	return s.repo.ListByCollector(ctx, collector)
}

func (s *Service) AddItem(ctx context.Context, orderID, actor uuid.UUID, in NewItem) (domain.Order, error) {
	if err := s.checkItem(ctx, in); err != nil {
		return domain.Order{}, err
	}
	return s.editItems(ctx, orderID, actor, func(ctx context.Context, tx OrderTx, o *domain.Order, now time.Time) error {
		for _, it := range o.Items {
			if it.CategoryID == in.CategoryID {
				return fmt.Errorf("%w: category already on this order", domain.ErrInvalidInput)
			}
		}
		it := domain.OrderItem{
			ID:         uuid.New(),
			OrderID:    o.ID,
			CategoryID: in.CategoryID,
			Quantity:   in.Quantity,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		if err := tx.InsertItem(ctx, it); err != nil {
			return err
		}
		o.Items = append(o.Items, it)
		return nil
	})
}

func (s *Service) UpdateItem(ctx context.Context, orderID, actor, itemID uuid.UUID, qty decimal.Decimal) (domain.Order, error) {
	if err := domain.ValidateQuantity(qty); err != nil {
		return domain.Order{}, err
	}
	return s.editItems(ctx, orderID, actor, func(ctx context.Context, tx OrderTx, o *domain.Order, now time.Time) error {
		for i := range o.Items {
			if o.Items[i].ID != itemID {
				continue
			}
			if err := tx.UpdateItemQuantity(ctx, itemID, qty); err != nil {
				return err
			}
			o.Items[i].Quantity = qty
			o.Items[i].UpdatedAt = now
			return nil
		}
		return fmt.Errorf("%w: item %s", domain.ErrNotFound, itemID)
	})
}

func (s *Service) DeleteItem(ctx context.Context, orderID, actor, itemID uuid.UUID) (domain.Order, error) {
	return s.editItems(ctx, orderID, actor, func(ctx context.Context, tx OrderTx, o *domain.Order, _ time.Time) error {
		for i := range o.Items {
			if o.Items[i].ID != itemID {
				continue
			}
			if err := tx.DeleteItem(ctx, itemID); err != nil {
				return err
			}
			o.Items = append(o.Items[:i], o.Items[i+1:]...)
			return nil
		}
		return fmt.Errorf("%w: item %s", domain.ErrNotFound, itemID)
	})
}

type itemEdit func(ctx context.Context, tx OrderTx, o *domain.Order, now time.Time) error

func (s *Service) editItems(ctx context.Context, orderID, actor uuid.UUID, edit itemEdit) (domain.Order, error) {
	var out domain.Order
	err := s.repo.WithLock(ctx, orderID, func(ctx context.Context, tx OrderTx) error {
		o := tx.Order()
		if err := o.EnsureItemsEditableBy(actor); err != nil {
			return err
		}
		now := s.now()
		if err := edit(ctx, tx, &o, now); err != nil {
			return err
		}
		o.UpdatedAt = now
		if err := tx.SaveOrder(ctx, o); err != nil {
			return err
		}
		msg, err := outbox.NewMessage(ctx, domain.AggregateType, o.ID.String(), domain.EventOrderItemsChanged, domain.OrderItemsChanged{
			OrderID:   o.ID,
			ItemCount: len(o.Items),
		})
		if err != nil {
			return err
		}
		if err := tx.Enqueue(ctx, msg); err != nil {
			return err
		}
		out = o
		return nil
	})
	return out, err
}

type NearbyRequest struct {
	Origin   geo.Point
	RadiusKm float64
	Limit    int
}

// FindNearby lists pending, unassigned orders around the origin, nearest
// first. Travel estimates are best effort: when the estimator fails or runs
// past the enrichment timeout the affected entries simply carry no travel
// fields.
func (s *Service) FindNearby(ctx context.Context, req NearbyRequest) ([]domain.NearbyOrder, error) {
	if err := req.Origin.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}
	if req.Limit <= 0 {
		return nil, fmt.Errorf("%w: limit must be positive", domain.ErrInvalidInput)
	}
	if req.RadiusKm <= 0 || req.RadiusKm > s.limits.MaxRadiusKm {
		return nil, fmt.Errorf("%w: radius_km must be in (0, %g]", domain.ErrInvalidInput, s.limits.MaxRadiusKm)
	}
	limit := min(req.Limit, s.limits.MaxLimit)

	cands, err := s.repo.FindNearbyPending(ctx, domain.NearbyQuery{
		Origin:   req.Origin,
		RadiusKm: req.RadiusKm,
		Limit:    limit,
	})
	if err != nil {
		return nil, err
	}
	return s.enrich(ctx, req.Origin, cands), nil
}

type estimate struct {
	infos []domain.TravelInfo
	err   error
}

func (s *Service) enrich(ctx context.Context, origin geo.Point, cands []domain.Candidate) []domain.NearbyOrder {
	out := make([]domain.NearbyOrder, len(cands))
	for i, c := range cands {
		out[i] = domain.NearbyOrder{Candidate: c}
	}
	if s.travel == nil || len(cands) == 0 {
		return out
	}

	ctx, cancel := context.WithTimeout(ctx, s.enrichTimeout)
	defer cancel()

	dests := make([]geo.Point, len(cands))
	for i, c := range cands {
		dests[i] = c.Order.Location
	}

	done := make(chan estimate, 1)
	go func() {
		infos, err := s.travel.Estimate(ctx, origin, dests)
		done <- estimate{infos: infos, err: err}
	}()

	var res estimate
	select {
	case res = <-done:
	case <-ctx.Done():
		s.log.Warn("travel enrichment timed out", "candidates", len(cands), "err", ctx.Err())
		return out
	}
	if res.err != nil {
		s.log.Warn("travel enrichment degraded", "candidates", len(cands), "results", len(res.infos), "err", res.err)
	}
	for i := 0; i < len(out) && i < len(res.infos); i++ {
		out[i].TravelTimeSeconds = res.infos[i].DurationSeconds
		out[i].TravelDistanceMeters = res.infos[i].DistanceMeters
	}
	return out
}

// Accept assigns a pending order to collector. Exactly one of several
// concurrent callers wins; the others get CONFLICT or INVALID_STATE based on
// the state they lost to.
func (s *Service) Accept(ctx context.Context, orderID, collector uuid.UUID, note string) (domain.Order, error) {
	claim := Claim{
		OrderID:     orderID,
		CollectorID: collector,
		Note:        strings.TrimSpace(note),
		At:          s.now(),
	}
	o, claimed, err := s.repo.ClaimPending(ctx, claim, func(o domain.Order) (outbox.Message, error) {
		return outbox.NewMessage(ctx, domain.AggregateType, o.ID.String(), domain.EventOrderAccepted, domain.OrderAccepted{
			OrderID:     o.ID,
			OwnerID:     o.OwnerID,
			CollectorID: collector,
			Note:        o.CollectorNote,
			AcceptedAt:  o.UpdatedAt,
		})
	})
	if err != nil {
		return domain.Order{}, err
	}
	if claimed {
		return o, nil
	}

	current, err := s.repo.Get(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	return domain.Order{}, domain.ClassifyClaimFailure(current, collector)
}

func (s *Service) Cancel(ctx context.Context, orderID, actor uuid.UUID) (domain.Order, error) {
	var out domain.Order
	err := s.repo.WithLock(ctx, orderID, func(ctx context.Context, tx OrderTx) error {
		o := tx.Order()
		if err := o.Cancel(actor, s.now()); err != nil {
			return err
		}
		if err := tx.SaveOrder(ctx, o); err != nil {
			return err
		}
		msg, err := outbox.NewMessage(ctx, domain.AggregateType, o.ID.String(), domain.EventOrderCancelled, domain.OrderCancelled{
			OrderID:     o.ID,
			OwnerID:     o.OwnerID,
			CollectorID: o.CollectorID,
			CancelledBy: actor,
			CancelledAt: o.UpdatedAt,
		})
		if err != nil {
			return err
		}
		if err := tx.Enqueue(ctx, msg); err != nil {
			return err
		}
		out = o
		return nil
	})
	return out, err
}

func (s *Service) AttachImages(ctx context.Context, orderID, collector uuid.UUID, urls []string) (domain.Order, error) {
	clean := make([]string, 0, len(urls))
	for _, u := range urls {
		if u = strings.TrimSpace(u); u != "" {
			clean = append(clean, u)
		}
	}
	var out domain.Order
	err := s.repo.WithLock(ctx, orderID, func(ctx context.Context, tx OrderTx) error {
		o := tx.Order()
		if err := o.AttachImages(collector, clean, s.now()); err != nil {
			return err
		}
		if err := tx.SaveOrder(ctx, o); err != nil {
			return err
		}
		msg, err := outbox.NewMessage(ctx, domain.AggregateType, o.ID.String(), domain.EventOrderImages, domain.OrderImagesAttached{
			OrderID:     o.ID,
			CollectorID: collector,
			ImageURLs:   o.ImageURLs,
		})
		if err != nil {
			return err
		}
		if err := tx.Enqueue(ctx, msg); err != nil {
			return err
		}
		out = o
		return nil
	})
	return out, err
}

func (s *Service) CreateReview(ctx context.Context, orderID, actor uuid.UUID, rating int, comment string) (domain.Review, error) {
	var out domain.Review
	err := s.repo.WithLock(ctx, orderID, func(ctx context.Context, tx OrderTx) error {
		o := tx.Order()
		if err := o.CanReview(actor, rating); err != nil {
			return err
		}
		r := domain.Review{
			ID:        uuid.New(),
			OrderID:   o.ID,
			UserID:    actor,
			Rating:    rating,
			Comment:   strings.TrimSpace(comment),
			CreatedAt: s.now(),
		}
		if err := tx.InsertReview(ctx, r); err != nil {
			return err
		}
		out = r
		return nil
	})
	return out, err
}

func (s *Service) GetReview(ctx context.Context, orderID, actor uuid.UUID) (domain.Review, error) {
	o, err := s.repo.Get(ctx, orderID)
	if err != nil {
		return domain.Review{}, err
	}
	if !o.IsOwner(actor) && !o.IsCollector(actor) {
		return domain.Review{}, fmt.Errorf("%w: not a party to this order", domain.ErrForbidden)
	}
	return s.repo.Review(ctx, orderID)
}
