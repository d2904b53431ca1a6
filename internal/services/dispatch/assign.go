package dispatch

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/pkg/errors"
	"github.com/rotafood/dispatchbox/internal/broker/messages"
	"github.com/rotafood/dispatchbox/internal/geo"
	"github.com/rotafood/dispatchbox/internal/models"
	"github.com/rotafood/dispatchbox/internal/storage/pgdispatch"
)

type ManualResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// AssignManual is the operator override: one order straight to one courier,
// bypassing batching and route optimization. It checks only the target
// courier's own capacity, never the restaurant-wide snapshot.
func (s *Service) AssignManual(ctx context.Context, orderID, courierID int64, operator string) (ManualResult, error) {
	order, ok, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return ManualResult{}, errors.Wrap(err, "get order")
	}
	if !ok {
		return ManualResult{Message: "order not found"}, nil
	}

	courier, ok, err := s.repo.GetCourier(ctx, courierID)
	if err != nil {
		return ManualResult{}, errors.Wrap(err, "get courier")
	}
	if !ok {
		return ManualResult{Message: "courier not found"}, nil
	}

	if courier.RestaurantID != order.RestaurantID {
		return ManualResult{Message: "courier does not belong to this restaurant"}, nil
	}

	release, err := s.repo.LockRestaurant(ctx, order.RestaurantID)
	if err != nil {
		return ManualResult{}, errors.Wrap(err, "lock restaurant")
	}
	defer release()

	active, err := s.repo.CountCourierActiveDeliveries(ctx, courierID)
	if err != nil {
		return ManualResult{}, errors.Wrap(err, "count courier deliveries")
	}
	if active >= courier.Capacity {
		return ManualResult{Message: fmt.Sprintf("courier at capacity, %d deliveries", courier.Capacity)}, nil
	}

	note := fmt.Sprintf("[MANUAL] assigned by %s", operator)
	now := s.now()

	existing, ok, err := s.repo.GetActiveDeliveryByOrder(ctx, orderID)
	if err != nil {
		return ManualResult{}, errors.Wrap(err, "get active delivery")
	}
	if ok {
		// Reassign in place instead of duplicating the execution record.
		if err := s.repo.ReassignDelivery(ctx, existing.ID, courierID, note, now); err != nil {
			return ManualResult{}, errors.Wrap(err, "reassign delivery")
		}
	} else {
		distance, value := s.manualDeliveryPricing(ctx, order)
		if _, err := s.repo.CreateManualDelivery(ctx, orderID, courierID, distance, value, note, now); err != nil {
			return ManualResult{}, errors.Wrap(err, "create delivery")
		}
	}

	s.notifier.Notify(ctx, messages.NotificationNewDelivery,
		"new delivery (manual)",
		fmt.Sprintf("order %s assigned manually", order.Ticket),
		nil, &courierID)

	return ManualResult{
		Success: true,
		Message: fmt.Sprintf("order %s assigned to courier %s", order.Ticket, courier.Name),
	}, nil
}

// Manual assignments still get a distance and payout when the data allows;
// missing coordinates or settings just leave them zero.
func (s *Service) manualDeliveryPricing(ctx context.Context, order *models.Order) (float64, float64) {
	if order.ClientLat == nil || order.ClientLon == nil {
		return 0, 0
	}
	rest, ok, err := s.repo.GetRestaurant(ctx, order.RestaurantID)
	if err != nil || !ok || rest.Lat == nil || rest.Lon == nil {
		return 0, 0
	}
	distance := geo.DistanceKm(geo.Point{Lat: *rest.Lat, Lon: *rest.Lon}, geo.Point{Lat: *order.ClientLat, Lon: *order.ClientLon})

	settings, ok, err := s.loadSettings(ctx, order.RestaurantID)
	if err != nil || !ok {
		return distance, 0
	}
	return distance, deliveryValue(settings, distance)
}

type ReleaseResult struct {
	Success       bool   `json:"success"`
	Message       string `json:"message"`
	ReleasedCount int    `json:"releasedCount"`
	PendingCount  int    `json:"pendingCount,omitempty"`
}

// ReleaseCourierPendingDeliveries handles a courier going offline in two
// phases. Unauthorized calls only report: they notify the restaurant about
// the unstarted deliveries and mutate nothing. Only an authorized call
// cancels the pending deliveries, returns the orders to the pool and
// re-runs automatic dispatch. En-route deliveries are never touched.
func (s *Service) ReleaseCourierPendingDeliveries(ctx context.Context, courierID int64, authorized bool) (ReleaseResult, error) {
	courier, ok, err := s.repo.GetCourier(ctx, courierID)
	if err != nil {
		return ReleaseResult{}, errors.Wrap(err, "get courier")
	}
	if !ok {
		return ReleaseResult{Message: "courier not found"}, nil
	}

	pending, err := s.repo.ListCourierPendingDeliveries(ctx, courierID)
	if err != nil {
		return ReleaseResult{}, errors.Wrap(err, "list pending deliveries")
	}
	if len(pending) == 0 {
		return ReleaseResult{Success: true, Message: "no pending deliveries"}, nil
	}

	if !authorized {
		s.notifier.Notify(ctx, messages.NotificationCourierOffline,
			fmt.Sprintf("courier %s offline", courier.Name),
			fmt.Sprintf("%d pending delivery(ies), authorize release or wait for the courier to come back", len(pending)),
			&courier.RestaurantID, nil)
		return ReleaseResult{
			Message:      "awaiting operator authorization",
			PendingCount: len(pending),
		}, nil
	}

	released, err := s.repo.ReleaseCourierPendingDeliveries(ctx, courierID,
		fmt.Sprintf("courier %s offline, released by operator", courier.Name))
	if err != nil {
		return ReleaseResult{}, errors.Wrap(err, "release deliveries")
	}

	// Redistribute right away. The release itself already committed, so a
	// failed re-dispatch is logged, not propagated: the next periodic pass
	// will pick the orders up.
	if _, err := s.RunAutomaticDispatch(ctx, courier.RestaurantID); err != nil {
		slog.Error("release: re-dispatch", "restaurantID", courier.RestaurantID, "err", err)
	}

	return ReleaseResult{
		Success:       true,
		Message:       fmt.Sprintf("%d delivery(ies) released", released),
		ReleasedCount: released,
	}, nil
}

// ApplyStatusUpdate consumes a courier-app status event from the broker and
// advances the delivery plus everything linked to it.
func (s *Service) ApplyStatusUpdate(ctx context.Context, msg messages.DeliveryStatusChanged) error {
	if msg.DeliveryID == 0 {
		return errors.New("delivery_id is required")
	}

	status := models.DeliveryStatus(msg.Status)
	switch status {
	case models.DeliveryStatusEnRoute, models.DeliveryStatusDelivered, models.DeliveryStatusCustomerAbsent:
	default:
		return errors.Errorf("unsupported delivery status %q", msg.Status)
	}

	occurredAt := msg.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = s.now()
	}

	return s.repo.ApplyDeliveryStatus(ctx, pgdispatch.DeliveryStatusUpdate{
		DeliveryID: msg.DeliveryID,
		CourierID:  msg.CourierID,
		Status:     status,
		Reason:     msg.Reason,
		OccurredAt: occurredAt,
	})
}

// HandleCourierOffline runs the detection half of the release flow for an
// offline event from the broker: report and wait for authorization.
func (s *Service) HandleCourierOffline(ctx context.Context, msg messages.CourierWentOffline) error {
	if msg.CourierID == 0 {
		return errors.New("courier_id is required")
	}
	_, err := s.ReleaseCourierPendingDeliveries(ctx, msg.CourierID, false)
	return err
}
