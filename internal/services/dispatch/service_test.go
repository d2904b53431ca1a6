package dispatch

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rotafood/dispatchbox/internal/models"
	"github.com/rotafood/dispatchbox/internal/storage/pgdispatch"
)

func f64(v float64) *float64 { return &v }
func i(v int) *int           { return &v }
func i64(v int64) *int64     { return &v }

type reassignCall struct {
	deliveryID, courierID int64
	note                  string
}

type manualCall struct {
	orderID, courierID int64
	distanceKm, value  float64
	note               string
}

type releaseCall struct {
	courierID int64
	reason    string
}

type fakeRepo struct {
	settings    map[int64]*models.DispatchSettings
	restaurants map[int64]*models.Restaurant
	orders      []*models.Order
	couriers    []*models.Courier
	deliveries  map[int64]*models.Delivery

	activeByCourier map[int64]int
	activeByRest    map[int64]int
	pendingByCour   map[int64][]*models.Delivery

	lockCalls    int
	settingsHits int
	cancelled    map[int64]string
	delayed      []int64
	batches      []pgdispatch.RouteBatch
	reassigned   []reassignCall
	created      []manualCall
	released     []releaseCall
	applied      []pgdispatch.DeliveryStatusUpdate

	commitErr error
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		settings:        map[int64]*models.DispatchSettings{},
		restaurants:     map[int64]*models.Restaurant{},
		deliveries:      map[int64]*models.Delivery{},
		activeByCourier: map[int64]int{},
		activeByRest:    map[int64]int{},
		pendingByCour:   map[int64][]*models.Delivery{},
		cancelled:       map[int64]string{},
	}
}

func (r *fakeRepo) LockRestaurant(_ context.Context, _ int64) (func(), error) {
	r.lockCalls++
	return func() {}, nil
}

func (r *fakeRepo) GetDispatchSettings(_ context.Context, restaurantID int64) (*models.DispatchSettings, bool, error) {
	r.settingsHits++
	st, ok := r.settings[restaurantID]
	return st, ok, nil
}

func (r *fakeRepo) GetRestaurant(_ context.Context, restaurantID int64) (*models.Restaurant, bool, error) {
	rest, ok := r.restaurants[restaurantID]
	return rest, ok, nil
}

func (r *fakeRepo) GetOrder(_ context.Context, id int64) (*models.Order, bool, error) {
	for _, o := range r.orders {
		if o.ID == id {
			return o, true, nil
		}
	}
	return nil, false, nil
}

func (r *fakeRepo) ListReadyDeliveryOrders(_ context.Context, restaurantID int64) ([]*models.Order, error) {
	var out []*models.Order
	for _, o := range r.orders {
		if o.RestaurantID == restaurantID && o.Type == models.OrderTypeDelivery &&
			o.Status == models.OrderStatusReady && !o.Dispatched {
			out = append(out, o)
		}
	}
	return out, nil
}

func (r *fakeRepo) ListDelayableOrders(_ context.Context, restaurantID int64) ([]*models.Order, error) {
	var out []*models.Order
	for _, o := range r.orders {
		if o.RestaurantID != restaurantID || o.Delayed {
			continue
		}
		if o.Status == models.OrderStatusPending || o.Status == models.OrderStatusInPrep {
			out = append(out, o)
		}
	}
	return out, nil
}

func (r *fakeRepo) MarkOrderDelayed(_ context.Context, orderID int64) error {
	r.delayed = append(r.delayed, orderID)
	for _, o := range r.orders {
		if o.ID == orderID {
			o.Delayed = true
		}
	}
	return nil
}

func (r *fakeRepo) CancelOrderOutOfZone(_ context.Context, orderID int64, note string) error {
	r.cancelled[orderID] = note
	for _, o := range r.orders {
		if o.ID == orderID {
			o.Status = models.OrderStatusCancelled
		}
	}
	return nil
}

func (r *fakeRepo) GetCourier(_ context.Context, id int64) (*models.Courier, bool, error) {
	for _, c := range r.couriers {
		if c.ID == id {
			return c, true, nil
		}
	}
	return nil, false, nil
}

func (r *fakeRepo) ListActiveCouriers(_ context.Context, restaurantID int64) ([]*models.Courier, error) {
	var out []*models.Courier
	for _, c := range r.couriers {
		if c.RestaurantID == restaurantID && c.Status == models.CourierStatusActive {
			out = append(out, c)
		}
	}
	return out, nil
}

func (r *fakeRepo) CountCourierActiveDeliveries(_ context.Context, courierID int64) (int, error) {
	return r.activeByCourier[courierID], nil
}

func (r *fakeRepo) CountRestaurantActiveDeliveries(_ context.Context, restaurantID int64) (int, error) {
	return r.activeByRest[restaurantID], nil
}

func (r *fakeRepo) GetActiveDeliveryByOrder(_ context.Context, orderID int64) (*models.Delivery, bool, error) {
	for _, d := range r.deliveries {
		if d.OrderID == orderID && d.Status != models.DeliveryStatusCancelled {
			return d, true, nil
		}
	}
	return nil, false, nil
}

func (r *fakeRepo) ListCourierPendingDeliveries(_ context.Context, courierID int64) ([]*models.Delivery, error) {
	return r.pendingByCour[courierID], nil
}

func (r *fakeRepo) ReassignDelivery(_ context.Context, deliveryID, courierID int64, note string, _ time.Time) error {
	r.reassigned = append(r.reassigned, reassignCall{deliveryID, courierID, note})
	if d, ok := r.deliveries[deliveryID]; ok {
		d.CourierID = &courierID
	}
	return nil
}

func (r *fakeRepo) CreateManualDelivery(_ context.Context, orderID, courierID int64, distanceKm, value float64, note string, _ time.Time) (int64, error) {
	r.created = append(r.created, manualCall{orderID, courierID, distanceKm, value, note})
	return int64(len(r.created)), nil
}

func (r *fakeRepo) ReleaseCourierPendingDeliveries(_ context.Context, courierID int64, reason string) (int, error) {
	r.released = append(r.released, releaseCall{courierID, reason})
	n := len(r.pendingByCour[courierID])
	r.pendingByCour[courierID] = nil
	return n, nil
}

func (r *fakeRepo) ApplyDeliveryStatus(_ context.Context, upd pgdispatch.DeliveryStatusUpdate) error {
	r.applied = append(r.applied, upd)
	return nil
}

func (r *fakeRepo) CommitRouteBatch(_ context.Context, batch pgdispatch.RouteBatch) (int64, error) {
	if r.commitErr != nil {
		return 0, r.commitErr
	}
	r.batches = append(r.batches, batch)
	for _, d := range batch.Deliveries {
		for _, o := range r.orders {
			if o.ID == d.OrderID {
				o.Dispatched = true
				o.Status = models.OrderStatusOutForDelivery
			}
		}
	}
	return int64(len(r.batches)), nil
}

type notifyCall struct {
	kind, title, message string
	restaurantID         *int64
	courierID            *int64
}

type fakeNotifier struct {
	mu    sync.Mutex
	calls []notifyCall
}

func (n *fakeNotifier) Notify(_ context.Context, kind, title, message string, restaurantID, courierID *int64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, notifyCall{kind, title, message, restaurantID, courierID})
}

func (n *fakeNotifier) kinds() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, 0, len(n.calls))
	for _, c := range n.calls {
		out = append(out, c.kind)
	}
	return out
}

// memCache is an in-process stand-in for the redis cache.
type memCache struct {
	data map[string][]byte
}

func newMemCache() *memCache { return &memCache{data: map[string][]byte{}} }

func (c *memCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	b, ok := c.data[key]
	return b, ok, nil
}

func (c *memCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	c.data[key] = value
	return nil
}

func defaultSettings() *models.DispatchSettings {
	return &models.DispatchSettings{
		RestaurantID:        1,
		AutomaticDispatch:   true,
		MaxCoverageRadiusKm: 10,
		AveragePrepMinutes:  30,
		Mode:                models.DispatchModeAutoEconomic,
		BaseFee:             5,
		BaseDistanceKm:      3,
		PerKmFee:            1.5,
	}
}

func newTestService(repo *fakeRepo, notifier *fakeNotifier) *Service {
	return New(repo, notifier, nil, 0)
}

func TestSnapshot(t *testing.T) {
	repo := newFakeRepo()
	repo.couriers = []*models.Courier{
		{ID: 1, RestaurantID: 1, Status: models.CourierStatusActive, Capacity: 3},
		{ID: 2, RestaurantID: 1, Status: models.CourierStatusActive, Capacity: 2},
		{ID: 3, RestaurantID: 1, Status: models.CourierStatusInactive, Capacity: 5},
		{ID: 4, RestaurantID: 2, Status: models.CourierStatusActive, Capacity: 4},
	}
	repo.activeByRest[1] = 2

	svc := newTestService(repo, &fakeNotifier{})
	snap, err := svc.Snapshot(context.Background(), 1)
	require.NoError(t, err)

	require.Equal(t, 2, snap.CouriersOnline)
	require.Equal(t, 5, snap.TotalCapacity)
	require.Equal(t, 2, snap.CapacityInUse)
	require.Equal(t, 3, snap.CapacityAvailable)
}

func TestSnapshotNegativeAvailable(t *testing.T) {
	repo := newFakeRepo()
	repo.couriers = []*models.Courier{
		{ID: 1, RestaurantID: 1, Status: models.CourierStatusActive, Capacity: 2},
	}
	repo.activeByRest[1] = 3

	svc := newTestService(repo, &fakeNotifier{})
	snap, err := svc.Snapshot(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, -1, snap.CapacityAvailable)
}

func TestFlagDelayedOrders(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	repo := newFakeRepo()
	repo.settings[1] = defaultSettings()
	repo.orders = []*models.Order{
		// budget 30+15=45 min, 50 elapsed: delayed
		{ID: 1, RestaurantID: 1, Ticket: "A1", Status: models.OrderStatusInPrep,
			EstimatedPrepMinutes: i(15), CreatedAt: now.Add(-50 * time.Minute)},
		// budget 30+30(default)=60 min, 50 elapsed: on time
		{ID: 2, RestaurantID: 1, Ticket: "A2", Status: models.OrderStatusPending,
			CreatedAt: now.Add(-50 * time.Minute)},
		// exactly on budget is not delayed
		{ID: 3, RestaurantID: 1, Ticket: "A3", Status: models.OrderStatusInPrep,
			EstimatedPrepMinutes: i(20), CreatedAt: now.Add(-50 * time.Minute)},
	}

	notifier := &fakeNotifier{}
	svc := newTestService(repo, notifier)
	svc.now = func() time.Time { return now }

	require.NoError(t, svc.FlagDelayedOrders(context.Background(), 1))
	require.Equal(t, []int64{1}, repo.delayed)
	require.Len(t, notifier.calls, 1)
	require.Equal(t, "order_delayed", notifier.calls[0].kind)
	require.Contains(t, notifier.calls[0].message, "order A1 is delayed, elapsed: 50 min")

	// Already-flagged orders are skipped on the next pass.
	require.NoError(t, svc.FlagDelayedOrders(context.Background(), 1))
	require.Equal(t, []int64{1}, repo.delayed)
	require.Len(t, notifier.calls, 1)
}

func TestLoadSettingsUsesCache(t *testing.T) {
	repo := newFakeRepo()
	repo.settings[1] = defaultSettings()

	svc := New(repo, &fakeNotifier{}, newMemCache(), time.Minute)

	st, ok, err := svc.loadSettings(context.Background(), 1)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 10.0, st.MaxCoverageRadiusKm)
	require.Equal(t, 1, repo.settingsHits)

	st, ok, err = svc.loadSettings(context.Background(), 1)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 10.0, st.MaxCoverageRadiusKm)
	require.Equal(t, 1, repo.settingsHits)
}

func TestDeliveryValue(t *testing.T) {
	st := defaultSettings()

	require.Equal(t, 5.0, deliveryValue(st, 2))
	require.Equal(t, 5.0, deliveryValue(st, 3))
	require.Equal(t, 6.5, deliveryValue(st, 4))
	require.Equal(t, 5.75, deliveryValue(st, 3.5))
}
