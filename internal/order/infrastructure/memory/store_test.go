package memory

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmehra2102/scrap-pickup/internal/order/application"
	"github.com/dmehra2102/scrap-pickup/internal/order/domain"
	"github.com/dmehra2102/scrap-pickup/pkg/geo"
	"github.com/dmehra2102/scrap-pickup/pkg/outbox"
)

var t0 = time.Date(2026, 10, 17, 9, 0, 0, 0, time.UTC)

func seed(t *testing.T, s *Store, loc geo.Point) domain.Order {
	t.Helper()
	o := domain.NewOrder(uuid.New(), uuid.New(), "addr", loc, []domain.OrderItem{
		{ID: uuid.New(), CategoryID: uuid.New(), Quantity: decimal.NewFromInt(1)},
	}, t0)
	require.NoError(t, s.Create(context.Background(), o, outbox.Message{Type: domain.EventOrderCreated}))
	return o
}

func noEvent(o domain.Order) (outbox.Message, error) {
	return outbox.Message{AggregateID: o.ID.String(), Type: domain.EventOrderAccepted}, nil
}

func TestFindNearbyPendingOrdersByDistance(t *testing.T) {
	s := NewStore()
	origin := geo.Point{Lat: 10.7769, Lon: 106.7009}

	far := seed(t, s, geo.Point{Lat: 10.80, Lon: 106.70})
	near := seed(t, s, geo.Point{Lat: 10.78, Lon: 106.70})
	seed(t, s, geo.Point{Lat: 11.20, Lon: 106.70})
	taken := seed(t, s, geo.Point{Lat: 10.777, Lon: 106.701})

	ctx := context.Background()
	_, ok, err := s.ClaimPending(ctx, application.Claim{OrderID: taken.ID, CollectorID: uuid.New(), At: t0}, noEvent)
	require.NoError(t, err)
	require.True(t, ok)

	got, err := s.FindNearbyPending(ctx, domain.NearbyQuery{Origin: origin, RadiusKm: 5, Limit: 10})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, near.ID, got[0].Order.ID)
	assert.Equal(t, far.ID, got[1].Order.ID)
	assert.LessOrEqual(t, got[0].DistanceKm, got[1].DistanceKm)

	got, err = s.FindNearbyPending(ctx, domain.NearbyQuery{Origin: origin, RadiusKm: 5, Limit: 1})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, near.ID, got[0].Order.ID)

	got, err = s.FindNearbyPending(ctx, domain.NearbyQuery{Origin: geo.Point{Lat: -33, Lon: 151}, RadiusKm: 5, Limit: 10})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestFindNearbyAcrossAntimeridian(t *testing.T) {
	s := NewStore()
	o := seed(t, s, geo.Point{Lat: 0, Lon: -179.99})

	got, err := s.FindNearbyPending(context.Background(), domain.NearbyQuery{
		Origin:   geo.Point{Lat: 0, Lon: 179.99},
		RadiusKm: 5,
		Limit:    10,
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, o.ID, got[0].Order.ID)
}

func TestFindNearbyMatchesBruteForce(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	origins := []geo.Point{
		{Lat: 10.7769, Lon: 106.7009},
		{Lat: 0.2, Lon: 179.9},
		{Lat: -45, Lon: -179.95},
		{Lat: 89.8, Lon: 30},
	}
	ctx := context.Background()
	for _, origin := range origins {
		s := NewStore()
		var pending []domain.Order
		for i := 0; i < 300; i++ {
			lon := origin.Lon + (rng.Float64()*2-1)*1.5
			if lon > 180 {
				lon -= 360
			} else if lon < -180 {
				lon += 360
			}
			loc := geo.Point{Lat: math.Max(-90, math.Min(90, origin.Lat+(rng.Float64()*2-1)*1.5)), Lon: lon}
			o := seed(t, s, loc)
			if rng.Intn(10) == 0 {
				_, ok, err := s.ClaimPending(ctx, application.Claim{OrderID: o.ID, CollectorID: uuid.New(), At: t0}, noEvent)
				require.NoError(t, err)
				require.True(t, ok)
				continue
			}
			pending = append(pending, o)
		}

		for i := 0; i < 20; i++ {
			r := 0.5 + rng.Float64()*80
			got, err := s.FindNearbyPending(ctx, domain.NearbyQuery{Origin: origin, RadiusKm: r, Limit: 1000})
			require.NoError(t, err)

			want := make(map[uuid.UUID]bool)
			for _, o := range pending {
				if geo.DistanceKm(origin, o.Location) <= r {
					want[o.ID] = true
				}
			}
			require.Len(t, got, len(want), "origin=%v r=%v", origin, r)
			for j, c := range got {
				assert.True(t, want[c.Order.ID], "unexpected order at origin=%v r=%v", origin, r)
				assert.LessOrEqual(t, c.DistanceKm, r)
				assert.InDelta(t, geo.DistanceKm(origin, c.Order.Location), c.DistanceKm, 1e-9)
				if j > 0 {
					assert.LessOrEqual(t, got[j-1].DistanceKm, c.DistanceKm)
				}
			}
		}
	}
}

func TestClaimPending(t *testing.T) {
	s := NewStore()
	o := seed(t, s, geo.Point{Lat: 1, Lon: 1})
	a, b := uuid.New(), uuid.New()
	ctx := context.Background()

	got, ok, err := s.ClaimPending(ctx, application.Claim{OrderID: o.ID, CollectorID: a, Note: "on my way", At: t0}, noEvent)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, domain.StatusAccepted, got.Status)
	assert.Equal(t, "on my way", got.CollectorNote)

	_, ok, err = s.ClaimPending(ctx, application.Claim{OrderID: o.ID, CollectorID: b, At: t0}, noEvent)
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = s.ClaimPending(ctx, application.Claim{OrderID: uuid.New(), CollectorID: b, At: t0}, noEvent)
	require.NoError(t, err)
	assert.False(t, ok)

	events := s.Events()
	require.Len(t, events, 2)
	assert.Equal(t, domain.EventOrderAccepted, events[1].Type)
}

func TestWithLockDiscardsWritesOnError(t *testing.T) {
	s := NewStore()
	o := seed(t, s, geo.Point{Lat: 1, Lon: 1})
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.WithLock(ctx, o.ID, func(ctx context.Context, tx application.OrderTx) error {
		w := tx.Order()
		require.NoError(t, w.Cancel(w.OwnerID, t0))
		require.NoError(t, tx.SaveOrder(ctx, w))
		require.NoError(t, tx.DeleteItem(ctx, w.Items[0].ID))
		require.NoError(t, tx.Enqueue(ctx, outbox.Message{Type: domain.EventOrderCancelled}))
		return boom
	})
	require.ErrorIs(t, err, boom)

	got, err := s.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, got.Status)
	assert.Len(t, got.Items, 1)
	assert.Len(t, s.Events(), 1)

	err = s.WithLock(ctx, uuid.New(), func(context.Context, application.OrderTx) error { return nil })
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSaveOrderKeepsStoredItems(t *testing.T) {
	s := NewStore()
	o := seed(t, s, geo.Point{Lat: 1, Lon: 1})
	ctx := context.Background()

	err := s.WithLock(ctx, o.ID, func(ctx context.Context, tx application.OrderTx) error {
		w := tx.Order()
		w.Items = nil
		w.PickupAddress = "moved"
		return tx.SaveOrder(ctx, w)
	})
	require.NoError(t, err)

	got, err := s.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, "moved", got.PickupAddress)
	assert.Len(t, got.Items, 1)
}

func TestOutboxLeaseAndRetries(t *testing.T) {
	s := NewStore()
	clock := t0
	s.SetClock(func() time.Time { return clock })
	seed(t, s, geo.Point{Lat: 1, Lon: 1})
	ctx := context.Background()

	batch, err := s.LockBatch(ctx, "relay-a", 10, 5*time.Second)
	require.NoError(t, err)
	require.Len(t, batch, 1)

	again, err := s.LockBatch(ctx, "relay-b", 10, 5*time.Second)
	require.NoError(t, err)
	assert.Empty(t, again, "leased rows are invisible to other relays")

	clock = clock.Add(6 * time.Second)
	again, err = s.LockBatch(ctx, "relay-b", 10, 5*time.Second)
	require.NoError(t, err)
	require.Len(t, again, 1, "expired lease is reclaimed")
	assert.Equal(t, "relay-b", again[0].RelayID)

	id := again[0].ID
	for i := 0; i < outbox.DefaultMaxRetries; i++ {
		require.NoError(t, s.MarkFailed(ctx, id, "broker down"))
	}
	ev := s.Events()[0]
	assert.Equal(t, outbox.StatusFailed, ev.Status)
	assert.Equal(t, outbox.DefaultMaxRetries, ev.RetryCount)
	require.NotNil(t, ev.LastError)
	assert.Equal(t, "broker down", *ev.LastError)
}

func TestOutboxMarkSent(t *testing.T) {
	s := NewStore()
	seed(t, s, geo.Point{Lat: 1, Lon: 1})
	seed(t, s, geo.Point{Lat: 2, Lon: 2})
	ctx := context.Background()

	batch, err := s.LockBatch(ctx, "relay", 1, time.Second)
	require.NoError(t, err)
	require.Len(t, batch, 1)
	require.NoError(t, s.MarkSent(ctx, []int64{batch[0].ID}))

	batch, err = s.LockBatch(ctx, "relay", 10, time.Second)
	require.NoError(t, err)
	require.Len(t, batch, 1)
	assert.Equal(t, int64(2), batch[0].ID)
	assert.Equal(t, outbox.StatusSent, s.Events()[0].Status)
}
