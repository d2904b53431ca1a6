package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/pkg/errors"
	"github.com/rotafood/dispatchbox/internal/broker/messages"
	"github.com/rotafood/dispatchbox/internal/cache"
	"github.com/rotafood/dispatchbox/internal/models"
	"github.com/rotafood/dispatchbox/internal/storage/pgdispatch"
)

type Repository interface {
	LockRestaurant(ctx context.Context, restaurantID int64) (func(), error)

	GetDispatchSettings(ctx context.Context, restaurantID int64) (*models.DispatchSettings, bool, error)
	GetRestaurant(ctx context.Context, restaurantID int64) (*models.Restaurant, bool, error)

	GetOrder(ctx context.Context, id int64) (*models.Order, bool, error)
	ListReadyDeliveryOrders(ctx context.Context, restaurantID int64) ([]*models.Order, error)
	ListDelayableOrders(ctx context.Context, restaurantID int64) ([]*models.Order, error)
	MarkOrderDelayed(ctx context.Context, orderID int64) error
	CancelOrderOutOfZone(ctx context.Context, orderID int64, note string) error

	GetCourier(ctx context.Context, id int64) (*models.Courier, bool, error)
	ListActiveCouriers(ctx context.Context, restaurantID int64) ([]*models.Courier, error)
	CountCourierActiveDeliveries(ctx context.Context, courierID int64) (int, error)
	CountRestaurantActiveDeliveries(ctx context.Context, restaurantID int64) (int, error)

	GetActiveDeliveryByOrder(ctx context.Context, orderID int64) (*models.Delivery, bool, error)
	ListCourierPendingDeliveries(ctx context.Context, courierID int64) ([]*models.Delivery, error)
	ReassignDelivery(ctx context.Context, deliveryID, courierID int64, note string, at time.Time) error
	CreateManualDelivery(ctx context.Context, orderID, courierID int64, distanceKm, value float64, note string, at time.Time) (int64, error)
	ReleaseCourierPendingDeliveries(ctx context.Context, courierID int64, reason string) (int, error)
	ApplyDeliveryStatus(ctx context.Context, upd pgdispatch.DeliveryStatusUpdate) error

	CommitRouteBatch(ctx context.Context, batch pgdispatch.RouteBatch) (int64, error)
}

// Notifier is fire-and-forget: implementations log failures and never
// surface them into the dispatch outcome.
type Notifier interface {
	Notify(ctx context.Context, kind, title, message string, restaurantID, courierID *int64)
}

// defaultPrepMinutes is assumed when an order has no kitchen estimate.
const defaultPrepMinutes = 30

type Service struct {
	repo     Repository
	notifier Notifier

	cache       cache.BytesCache
	settingsTTL time.Duration

	now func() time.Time
}

func New(repo Repository, notifier Notifier, c cache.BytesCache, settingsTTL time.Duration) *Service {
	return &Service{
		repo:        repo,
		notifier:    notifier,
		cache:       c,
		settingsTTL: settingsTTL,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Settings are read-only to the engine, so a short TTL cache in front of the
// store is safe (best effort: the cache is never required to be there).
func (s *Service) loadSettings(ctx context.Context, restaurantID int64) (*models.DispatchSettings, bool, error) {
	key := settingsKey(restaurantID)
	if s.cache != nil && s.settingsTTL > 0 {
		if b, ok, err := s.cache.Get(ctx, key); err == nil && ok {
			var st models.DispatchSettings
			if json.Unmarshal(b, &st) == nil {
				return &st, true, nil
			}
		}
	}

	st, ok, err := s.repo.GetDispatchSettings(ctx, restaurantID)
	if err != nil || !ok {
		return nil, ok, err
	}

	if s.cache != nil && s.settingsTTL > 0 {
		b, _ := json.Marshal(st)
		_ = s.cache.Set(ctx, key, b, s.settingsTTL)
	}
	return st, true, nil
}

func settingsKey(restaurantID int64) string {
	return fmt.Sprintf("dispatch:settings:%d", restaurantID)
}

type CapacitySnapshot struct {
	CouriersOnline    int `json:"couriersOnline"`
	TotalCapacity     int `json:"totalCapacity"`
	CapacityInUse     int `json:"capacityInUse"`
	CapacityAvailable int `json:"capacityAvailable"`
}

// Snapshot computes the restaurant's current delivery capacity. Zero
// couriers online is a reported state, not an error; the caller decides
// policy. CapacityAvailable can be transiently negative, callers treat
// negative as zero available.
func (s *Service) Snapshot(ctx context.Context, restaurantID int64) (CapacitySnapshot, error) {
	couriers, err := s.repo.ListActiveCouriers(ctx, restaurantID)
	if err != nil {
		return CapacitySnapshot{}, errors.Wrap(err, "list active couriers")
	}

	total := 0
	for _, c := range couriers {
		total += c.Capacity
	}

	inUse, err := s.repo.CountRestaurantActiveDeliveries(ctx, restaurantID)
	if err != nil {
		return CapacitySnapshot{}, errors.Wrap(err, "count active deliveries")
	}

	return CapacitySnapshot{
		CouriersOnline:    len(couriers),
		TotalCapacity:     total,
		CapacityInUse:     inUse,
		CapacityAvailable: total - inUse,
	}, nil
}

// FlagDelayedOrders marks orders that blew their prep+delivery budget and
// alerts the restaurant. Idempotent: an order already flagged is never
// re-evaluated, and the flag is never cleared here.
func (s *Service) FlagDelayedOrders(ctx context.Context, restaurantID int64) error {
	settings, ok, err := s.loadSettings(ctx, restaurantID)
	if err != nil {
		return errors.Wrap(err, "load settings")
	}
	if !ok {
		return nil
	}

	orders, err := s.repo.ListDelayableOrders(ctx, restaurantID)
	if err != nil {
		return errors.Wrap(err, "list delayable orders")
	}

	now := s.now()
	for _, o := range orders {
		est := defaultPrepMinutes
		if o.EstimatedPrepMinutes != nil {
			est = *o.EstimatedPrepMinutes
		}

		elapsed := now.Sub(o.CreatedAt).Minutes()
		if elapsed <= float64(settings.AveragePrepMinutes+est) {
			continue
		}

		if err := s.repo.MarkOrderDelayed(ctx, o.ID); err != nil {
			return errors.Wrap(err, "mark order delayed")
		}
		s.notifier.Notify(ctx, messages.NotificationOrderDelayed,
			"order delayed",
			fmt.Sprintf("order %s is delayed, elapsed: %d min", o.Ticket, int(elapsed)),
			&o.RestaurantID, nil)
	}
	return nil
}

// deliveryValue prices a delivery from the restaurant's fee schedule: the
// base fee covers the first BaseDistanceKm, every extra km adds PerKmFee.
func deliveryValue(st *models.DispatchSettings, distanceKm float64) float64 {
	v := st.BaseFee
	if distanceKm > st.BaseDistanceKm {
		v += (distanceKm - st.BaseDistanceKm) * st.PerKmFee
	}
	return math.Round(v*100) / 100
}
