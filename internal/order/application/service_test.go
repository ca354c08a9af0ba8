package application_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmehra2102/scrap-pickup/internal/order/application"
	"github.com/dmehra2102/scrap-pickup/internal/order/domain"
	"github.com/dmehra2102/scrap-pickup/internal/order/infrastructure/memory"
	"github.com/dmehra2102/scrap-pickup/pkg/geo"
)

var (
	discard = slog.New(slog.NewTextHandler(io.Discard, nil))
	origin  = geo.Point{Lat: 10.7769, Lon: 106.7009}
)

type fixture struct {
	store   *memory.Store
	svc     *application.Service
	paper   uuid.UUID
	plastic uuid.UUID
}

func newFixture(t *testing.T, opts ...application.Option) *fixture {
	t.Helper()
	price := decimal.NewFromInt(10)
	f := &fixture{store: memory.NewStore(), paper: uuid.New(), plastic: uuid.New()}
	f.store.AddCategory(domain.Category{ID: f.paper, Name: "paper", Unit: "kg", EstimatedPricePerUnit: &price})
	f.store.AddCategory(domain.Category{ID: f.plastic, Name: "plastic", Unit: "kg", EstimatedPricePerUnit: &price})
	f.svc = application.NewService(discard, f.store, opts...)
	return f
}

func (f *fixture) create(t *testing.T, owner uuid.UUID, at geo.Point) domain.Order {
	t.Helper()
	o, err := f.svc.CreateOrder(context.Background(), application.CreateOrderCommand{
		OwnerID:       owner,
		PickupAddress: "12 Le Loi, District 1",
		Location:      &at,
		Items:         []application.NewItem{{CategoryID: f.paper, Quantity: decimal.NewFromInt(3)}},
	})
	require.NoError(t, err)
	return o
}

type fakeGeocoder struct {
	p   geo.Point
	err error
}

func (g fakeGeocoder) Geocode(context.Context, string) (geo.Point, error) { return g.p, g.err }

type fakeTravel struct {
	mu    sync.Mutex
	calls int
	infos []domain.TravelInfo
	err   error
	block bool
}

func (f *fakeTravel) Estimate(ctx context.Context, _ geo.Point, dests []geo.Point) ([]domain.TravelInfo, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.block {
		<-ctx.Done()
		time.Sleep(50 * time.Millisecond)
		return nil, ctx.Err()
	}
	if f.infos != nil {
		return f.infos, f.err
	}
	out := make([]domain.TravelInfo, len(dests))
	for i := range dests {
		d, m := float64(60*(i+1)), float64(1000*(i+1))
		out[i] = domain.TravelInfo{DurationSeconds: &d, DistanceMeters: &m}
	}
	return out, f.err
}

func TestCreateOrder(t *testing.T) {
	f := newFixture(t)
	owner := uuid.New()

	o := f.create(t, owner, origin)
	assert.Equal(t, domain.StatusPending, o.Status)
	assert.Equal(t, owner, o.OwnerID)
	require.Len(t, o.Items, 1)
	assert.True(t, o.Items[0].Quantity.Equal(decimal.NewFromInt(3)))

	events := f.store.Events()
	require.Len(t, events, 1)
	assert.Equal(t, domain.EventOrderCreated, events[0].Type)
	assert.Equal(t, o.ID.String(), events[0].AggregateID)
}

func TestCreateOrderRejectsBadInput(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	loc := origin
	bad := geo.Point{Lat: 91, Lon: 0}

	dup := []application.NewItem{
		{CategoryID: f.paper, Quantity: decimal.NewFromInt(1)},
		{CategoryID: f.paper, Quantity: decimal.NewFromInt(2)},
	}
	unknown := []application.NewItem{{CategoryID: uuid.New(), Quantity: decimal.NewFromInt(1)}}
	zero := []application.NewItem{{CategoryID: f.paper, Quantity: decimal.Zero}}
	precise := []application.NewItem{{CategoryID: f.paper, Quantity: decimal.RequireFromString("2.2345")}}
	huge := []application.NewItem{{CategoryID: f.paper, Quantity: decimal.RequireFromString("1000000000000")}}

	cases := map[string]application.CreateOrderCommand{
		"blank address":         {OwnerID: uuid.New(), PickupAddress: "  ", Location: &loc},
		"unknown category":      {OwnerID: uuid.New(), PickupAddress: "a", Location: &loc, Items: unknown},
		"zero quantity":         {OwnerID: uuid.New(), PickupAddress: "a", Location: &loc, Items: zero},
		"four decimals":         {OwnerID: uuid.New(), PickupAddress: "a", Location: &loc, Items: precise},
		"quantity too large":    {OwnerID: uuid.New(), PickupAddress: "a", Location: &loc, Items: huge},
		"duplicate category":    {OwnerID: uuid.New(), PickupAddress: "a", Location: &loc, Items: dup},
		"latitude out of range": {OwnerID: uuid.New(), PickupAddress: "a", Location: &bad},
		"no coordinates":        {OwnerID: uuid.New(), PickupAddress: "a"},
	}
	for name, cmd := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.svc.CreateOrder(ctx, cmd)
			assert.ErrorIs(t, err, domain.ErrInvalidInput)
		})
	}
	assert.Empty(t, f.store.Events())
}

func TestCreateOrderGeocodesAddress(t *testing.T) {
	f := newFixture(t, application.WithGeocoder(fakeGeocoder{p: geo.Point{Lat: 21.03, Lon: 105.85}}))
	o, err := f.svc.CreateOrder(context.Background(), application.CreateOrderCommand{
		OwnerID:       uuid.New(),
		PickupAddress: "Hoan Kiem, Ha Noi",
	})
	require.NoError(t, err)
	assert.Equal(t, geo.Point{Lat: 21.03, Lon: 105.85}, o.Location)

	down := newFixture(t, application.WithGeocoder(fakeGeocoder{err: domain.ErrUpstreamUnavailable}))
	_, err = down.svc.CreateOrder(context.Background(), application.CreateOrderCommand{
		OwnerID:       uuid.New(),
		PickupAddress: "Hoan Kiem, Ha Noi",
	})
	assert.ErrorIs(t, err, domain.ErrUpstreamUnavailable)
}

func TestGetOrderVisibility(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner, collector, other := uuid.New(), uuid.New(), uuid.New()
	o := f.create(t, owner, origin)

	_, err := f.svc.GetOrder(ctx, o.ID, owner, false)
	require.NoError(t, err)
	_, err = f.svc.GetOrder(ctx, o.ID, other, true)
	require.NoError(t, err, "any collector may read an unassigned order")
	_, err = f.svc.GetOrder(ctx, o.ID, other, false)
	assert.ErrorIs(t, err, domain.ErrForbidden)

	_, err = f.svc.Accept(ctx, o.ID, collector, "")
	require.NoError(t, err)
	_, err = f.svc.GetOrder(ctx, o.ID, other, true)
	assert.ErrorIs(t, err, domain.ErrForbidden)
	_, err = f.svc.GetOrder(ctx, o.ID, collector, true)
	require.NoError(t, err)

	_, err = f.svc.GetOrder(ctx, uuid.New(), owner, false)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestListOwnedAndAssigned(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner, collector := uuid.New(), uuid.New()
	a := f.create(t, owner, origin)
	f.create(t, owner, origin)
	f.create(t, uuid.New(), origin)

	owned, err := f.svc.ListOwned(ctx, owner)
	require.NoError(t, err)
	assert.Len(t, owned, 2)

	_, err = f.svc.Accept(ctx, a.ID, collector, "")
	require.NoError(t, err)
	assigned, err := f.svc.ListAssigned(ctx, collector)
	require.NoError(t, err)
	require.Len(t, assigned, 1)
	assert.Equal(t, a.ID, assigned[0].ID)
}

func TestItemEditing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := uuid.New()
	o := f.create(t, owner, origin)

	o, err := f.svc.AddItem(ctx, o.ID, owner, application.NewItem{CategoryID: f.plastic, Quantity: decimal.NewFromFloat(1.5)})
	require.NoError(t, err)
	require.Len(t, o.Items, 2)

	_, err = f.svc.AddItem(ctx, o.ID, owner, application.NewItem{CategoryID: f.paper, Quantity: decimal.NewFromInt(1)})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	o, err = f.svc.UpdateItem(ctx, o.ID, owner, o.Items[0].ID, decimal.NewFromInt(7))
	require.NoError(t, err)
	assert.True(t, o.Items[0].Quantity.Equal(decimal.NewFromInt(7)))

	_, err = f.svc.UpdateItem(ctx, o.ID, owner, uuid.New(), decimal.NewFromInt(1))
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = f.svc.UpdateItem(ctx, o.ID, owner, o.Items[0].ID, decimal.NewFromInt(-1))
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	_, err = f.svc.UpdateItem(ctx, o.ID, owner, o.Items[0].ID, decimal.RequireFromString("7.0005"))
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	_, err = f.svc.UpdateItem(ctx, o.ID, owner, o.Items[0].ID, decimal.New(1, 9))
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	_, err = f.svc.AddItem(ctx, o.ID, owner, application.NewItem{CategoryID: f.plastic, Quantity: decimal.RequireFromString("0.0001")})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	_, err = f.svc.DeleteItem(ctx, o.ID, uuid.New(), o.Items[0].ID)
	assert.ErrorIs(t, err, domain.ErrForbidden)

	o, err = f.svc.DeleteItem(ctx, o.ID, owner, o.Items[1].ID)
	require.NoError(t, err)
	assert.Len(t, o.Items, 1)

	stored, err := f.store.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Len(t, stored.Items, 1)
	assert.True(t, stored.Items[0].Quantity.Equal(decimal.NewFromInt(7)))

	_, err = f.svc.Accept(ctx, o.ID, uuid.New(), "")
	require.NoError(t, err)
	_, err = f.svc.UpdateItem(ctx, o.ID, owner, o.Items[0].ID, decimal.NewFromInt(2))
	assert.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestFindNearby(t *testing.T) {
	travel := &fakeTravel{}
	f := newFixture(t, application.WithTravelEstimator(travel))
	ctx := context.Background()
	near := f.create(t, uuid.New(), geo.Point{Lat: 10.78, Lon: 106.70})
	far := f.create(t, uuid.New(), geo.Point{Lat: 10.80, Lon: 106.70})
	f.create(t, uuid.New(), geo.Point{Lat: 11.5, Lon: 106.70})

	got, err := f.svc.FindNearby(ctx, application.NearbyRequest{Origin: origin, RadiusKm: 5, Limit: 10})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, near.ID, got[0].Order.ID)
	assert.Equal(t, far.ID, got[1].Order.ID)
	require.NotNil(t, got[0].TravelTimeSeconds)
	assert.Equal(t, 60.0, *got[0].TravelTimeSeconds)
	assert.Equal(t, 2000.0, *got[1].TravelDistanceMeters)
	for _, n := range got {
		assert.LessOrEqual(t, n.DistanceKm, 5.0)
		assert.Equal(t, domain.StatusPending, n.Order.Status)
		assert.Nil(t, n.Order.CollectorID)
	}
}

func TestFindNearbyValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cases := map[string]application.NearbyRequest{
		"zero limit":      {Origin: origin, RadiusKm: 5, Limit: 0},
		"negative limit":  {Origin: origin, RadiusKm: 5, Limit: -3},
		"zero radius":     {Origin: origin, RadiusKm: 0, Limit: 10},
		"radius over max": {Origin: origin, RadiusKm: 500, Limit: 10},
		"bad longitude":   {Origin: geo.Point{Lat: 0, Lon: 181}, RadiusKm: 5, Limit: 10},
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.svc.FindNearby(ctx, req)
			assert.ErrorIs(t, err, domain.ErrInvalidInput)
		})
	}
}

func TestFindNearbyClampsLimit(t *testing.T) {
	f := newFixture(t, application.WithNearbyLimits(application.NearbyLimits{DefaultRadiusKm: 5, MaxRadiusKm: 50, DefaultLimit: 1, MaxLimit: 2}))
	for i := 0; i < 4; i++ {
		f.create(t, uuid.New(), origin)
	}
	got, err := f.svc.FindNearby(context.Background(), application.NearbyRequest{Origin: origin, RadiusKm: 5, Limit: 40})
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestFindNearbySkipsEnrichmentWhenEmpty(t *testing.T) {
	travel := &fakeTravel{}
	f := newFixture(t, application.WithTravelEstimator(travel))
	got, err := f.svc.FindNearby(context.Background(), application.NearbyRequest{Origin: origin, RadiusKm: 5, Limit: 10})
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Zero(t, travel.calls)
}

func TestFindNearbyDegradesOnEnrichmentFailure(t *testing.T) {
	d := 42.0
	travel := &fakeTravel{infos: []domain.TravelInfo{{DurationSeconds: &d}}, err: errors.New("matrix: 503")}
	f := newFixture(t, application.WithTravelEstimator(travel))
	f.create(t, uuid.New(), geo.Point{Lat: 10.78, Lon: 106.70})
	f.create(t, uuid.New(), geo.Point{Lat: 10.80, Lon: 106.70})

	got, err := f.svc.FindNearby(context.Background(), application.NearbyRequest{Origin: origin, RadiusKm: 5, Limit: 10})
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.NotNil(t, got[0].TravelTimeSeconds)
	assert.Equal(t, 42.0, *got[0].TravelTimeSeconds)
	assert.Nil(t, got[0].TravelDistanceMeters)
	assert.Nil(t, got[1].TravelTimeSeconds)
}

func TestFindNearbyEnrichmentTimeout(t *testing.T) {
	travel := &fakeTravel{block: true}
	f := newFixture(t, application.WithTravelEstimator(travel), application.WithEnrichTimeout(20*time.Millisecond))
	f.create(t, uuid.New(), origin)

	start := time.Now()
	got, err := f.svc.FindNearby(context.Background(), application.NearbyRequest{Origin: origin, RadiusKm: 5, Limit: 10})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Nil(t, got[0].TravelTimeSeconds)
	assert.Less(t, time.Since(start), time.Second)
}

func TestAcceptErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner, a, b := uuid.New(), uuid.New(), uuid.New()

	_, err := f.svc.Accept(ctx, uuid.New(), a, "")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	o := f.create(t, owner, origin)
	got, err := f.svc.Accept(ctx, o.ID, a, "  ten minutes  ")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusAccepted, got.Status)
	assert.Equal(t, "ten minutes", got.CollectorNote)
	require.NoError(t, got.CheckInvariants())

	_, err = f.svc.Accept(ctx, o.ID, b, "")
	assert.ErrorIs(t, err, domain.ErrInvalidState)

	c := f.create(t, owner, origin)
	_, err = f.svc.Cancel(ctx, c.ID, owner)
	require.NoError(t, err)
	_, err = f.svc.Accept(ctx, c.ID, a, "")
	assert.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestConcurrentAcceptHasOneWinner(t *testing.T) {
	f := newFixture(t)
	o := f.create(t, uuid.New(), origin)

	const n = 16
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners []uuid.UUID
		errs    []error
	)
	start := make(chan struct{})
	for i := 0; i < n; i++ {
		collector := uuid.New()
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := f.svc.Accept(context.Background(), o.ID, collector, "")
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				winners = append(winners, collector)
				return
			}
			errs = append(errs, err)
		}()
	}
	close(start)
	wg.Wait()

	require.Len(t, winners, 1)
	require.Len(t, errs, n-1)
	for _, err := range errs {
		assert.True(t, errors.Is(err, domain.ErrConflict) || errors.Is(err, domain.ErrInvalidState), err)
	}

	stored, err := f.store.Get(context.Background(), o.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.CollectorID)
	assert.Equal(t, winners[0], *stored.CollectorID)

	accepted := 0
	for _, e := range f.store.Events() {
		if e.Type == domain.EventOrderAccepted {
			accepted++
		}
	}
	assert.Equal(t, 1, accepted)
}

func TestCancel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner, collector, stranger := uuid.New(), uuid.New(), uuid.New()

	pending := f.create(t, owner, origin)
	_, err := f.svc.Cancel(ctx, pending.ID, stranger)
	assert.ErrorIs(t, err, domain.ErrForbidden)
	got, err := f.svc.Cancel(ctx, pending.ID, owner)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCancelled, got.Status)

	_, err = f.svc.Cancel(ctx, pending.ID, owner)
	assert.ErrorIs(t, err, domain.ErrInvalidState, "cancelling a terminal order is rejected")

	accepted := f.create(t, owner, origin)
	_, err = f.svc.Accept(ctx, accepted.ID, collector, "")
	require.NoError(t, err)
	got, err = f.svc.Cancel(ctx, accepted.ID, collector)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCancelled, got.Status)
	require.NotNil(t, got.CollectorID)

	_, err = f.svc.Cancel(ctx, uuid.New(), owner)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestAttachImages(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner, collector := uuid.New(), uuid.New()
	o := f.create(t, owner, origin)

	_, err := f.svc.AttachImages(ctx, o.ID, collector, []string{"a.jpg", "b.jpg"})
	assert.ErrorIs(t, err, domain.ErrForbidden)

	_, err = f.svc.Accept(ctx, o.ID, collector, "")
	require.NoError(t, err)
	_, err = f.svc.AttachImages(ctx, o.ID, collector, []string{"a.jpg", "b.jpg", "c.jpg"})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	got, err := f.svc.AttachImages(ctx, o.ID, collector, []string{" a.jpg ", "", "b.jpg"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a.jpg", "b.jpg"}, got.ImageURLs)
}

func TestReviewRequiresCompletedOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := uuid.New()
	o := f.create(t, owner, origin)

	_, err := f.svc.CreateReview(ctx, o.ID, owner, 5, "great")
	assert.ErrorIs(t, err, domain.ErrInvalidState)
	_, err = f.svc.GetReview(ctx, o.ID, owner)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = f.svc.GetReview(ctx, o.ID, uuid.New())
	assert.ErrorIs(t, err, domain.ErrForbidden)
}

// Random interleavings of lifecycle calls must never leave an order that
// breaks the status/collector/total couplings.
func TestLifecycleKeepsInvariants(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rng := rand.New(rand.NewSource(7))
	owners := []uuid.UUID{uuid.New(), uuid.New()}
	collectors := []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}

	var ids []uuid.UUID
	for i := 0; i < 10; i++ {
		ids = append(ids, f.create(t, owners[i%2], origin).ID)
	}
	for i := 0; i < 300; i++ {
		id := ids[rng.Intn(len(ids))]
		switch rng.Intn(4) {
		case 0:
			_, _ = f.svc.Accept(ctx, id, collectors[rng.Intn(len(collectors))], "")
		case 1:
			_, _ = f.svc.Cancel(ctx, id, owners[rng.Intn(len(owners))])
		case 2:
			_, _ = f.svc.Cancel(ctx, id, collectors[rng.Intn(len(collectors))])
		case 3:
			_, _ = f.svc.AddItem(ctx, id, owners[rng.Intn(len(owners))], application.NewItem{CategoryID: f.plastic, Quantity: decimal.NewFromInt(1)})
		}
	}
	for _, id := range ids {
		o, err := f.store.Get(ctx, id)
		require.NoError(t, err)
		assert.NoError(t, o.CheckInvariants())
	}
}
