package dispatch

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	"github.com/rotafood/dispatchbox/internal/broker/messages"
	"github.com/rotafood/dispatchbox/internal/geo"
	"github.com/rotafood/dispatchbox/internal/models"
	"github.com/rotafood/dispatchbox/internal/routeplan"
	"github.com/rotafood/dispatchbox/internal/storage/pgdispatch"
)

// DispatchResult is the structured outcome of one orchestrator pass.
// Success=false with a message is a business outcome, not a fault; faults
// come back as a separate error.
type DispatchResult struct {
	Success         bool     `json:"success"`
	Message         string   `json:"message"`
	DispatchedCount int      `json:"dispatchedCount"`
	RoutesCreated   int      `json:"routesCreated"`
	Alerts          []string `json:"alerts,omitempty"`
}

// RunAutomaticDispatch is one full automatic-dispatch pass for a
// restaurant: a linear pipeline with early-exit guards, fresh and idempotent
// on every call. The whole pass holds the restaurant's advisory lock, so
// concurrent runs for the same restaurant cannot claim the same order or
// oversubscribe a courier.
func (s *Service) RunAutomaticDispatch(ctx context.Context, restaurantID int64) (DispatchResult, error) {
	release, err := s.repo.LockRestaurant(ctx, restaurantID)
	if err != nil {
		return DispatchResult{}, errors.Wrap(err, "lock restaurant")
	}
	defer release()

	// 1. Config guards.
	settings, ok, err := s.loadSettings(ctx, restaurantID)
	if err != nil {
		return DispatchResult{}, errors.Wrap(err, "load settings")
	}
	if !ok {
		return DispatchResult{Message: "configuration not found"}, nil
	}
	if !settings.AutomaticDispatch {
		return DispatchResult{Message: "automatic dispatch disabled"}, nil
	}

	// 2. SLA side effect; does not block dispatch.
	if err := s.FlagDelayedOrders(ctx, restaurantID); err != nil {
		return DispatchResult{}, err
	}

	// 3. Dispatch queue, FIFO by creation time.
	orders, err := s.repo.ListReadyDeliveryOrders(ctx, restaurantID)
	if err != nil {
		return DispatchResult{}, errors.Wrap(err, "list ready orders")
	}
	if len(orders) == 0 {
		return DispatchResult{Success: true, Message: "no orders to dispatch"}, nil
	}

	// 4. Capacity guards.
	snap, err := s.Snapshot(ctx, restaurantID)
	if err != nil {
		return DispatchResult{}, err
	}
	if snap.CouriersOnline == 0 {
		s.notifier.Notify(ctx, messages.NotificationCapacityAlert,
			"no couriers online",
			fmt.Sprintf("%d order(s) waiting for dispatch, but no courier is online", len(orders)),
			&restaurantID, nil)
		return DispatchResult{
			Message: "no couriers online",
			Alerts:  []string{"no couriers available"},
		}, nil
	}

	var alerts []string
	if snap.CapacityAvailable < len(orders) {
		warn := fmt.Sprintf("capacity insufficient: %d order(s) for %d available slot(s), some orders will be delayed",
			len(orders), max(snap.CapacityAvailable, 0))
		alerts = append(alerts, warn)
		s.notifier.Notify(ctx, messages.NotificationCapacityAlert, "capacity insufficient", warn, &restaurantID, nil)
	}

	// 5. Restaurant origin.
	rest, ok, err := s.repo.GetRestaurant(ctx, restaurantID)
	if err != nil {
		return DispatchResult{}, errors.Wrap(err, "get restaurant")
	}
	if !ok || rest.Lat == nil || rest.Lon == nil {
		return DispatchResult{Message: "restaurant coordinates not configured"}, nil
	}
	origin := geo.Point{Lat: *rest.Lat, Lon: *rest.Lon}

	// 6. Coverage filter. Out-of-zone orders are cancelled for good; orders
	// without coordinates are reported but left untouched for the operator.
	var valid []*models.Order
	var rejected []string
	for _, o := range orders {
		if o.ClientLat == nil || o.ClientLon == nil {
			rejected = append(rejected, fmt.Sprintf("order %s: client coordinates missing", o.Ticket))
			continue
		}
		cov := geo.CheckCoverage(origin, geo.Point{Lat: *o.ClientLat, Lon: *o.ClientLon}, settings.MaxCoverageRadiusKm)
		if !cov.WithinZone {
			if err := s.repo.CancelOrderOutOfZone(ctx, o.ID, cov.Message); err != nil {
				return DispatchResult{}, errors.Wrap(err, "cancel out-of-zone order")
			}
			rejected = append(rejected, fmt.Sprintf("order %s: %s", o.Ticket, cov.Message))
			continue
		}
		valid = append(valid, o)
	}

	// 7.
	if len(valid) == 0 {
		return DispatchResult{
			Message: "all orders outside coverage zone",
			Alerts:  append(alerts, rejected...),
		}, nil
	}

	// FIFO position in the full valid queue, before any optimization.
	fifoPos := make(map[int64]int, len(valid))
	for i, o := range valid {
		fifoPos[o.ID] = i + 1
	}

	// 8.
	couriers, err := s.repo.ListActiveCouriers(ctx, restaurantID)
	if err != nil {
		return DispatchResult{}, errors.Wrap(err, "list active couriers")
	}

	// 9-10. Greedy FCFS partitioning, then per-batch optimization and an
	// all-or-nothing commit per courier.
	queue := valid
	dispatched := 0
	routesCreated := 0
	now := s.now()

	for _, courier := range couriers {
		if len(queue) == 0 {
			break
		}

		active, err := s.repo.CountCourierActiveDeliveries(ctx, courier.ID)
		if err != nil {
			return s.partialResult(dispatched, routesCreated, alerts, rejected), errors.Wrap(err, "count courier deliveries")
		}
		slots := courier.Capacity - active
		if slots <= 0 {
			continue
		}
		if slots > len(queue) {
			slots = len(queue)
		}

		batch := queue[:slots]
		queue = queue[slots:]

		stops := make([]routeplan.Stop, 0, len(batch))
		byID := make(map[int64]*models.Order, len(batch))
		for _, o := range batch {
			stops = append(stops, routeplan.Stop{
				OrderID: o.ID,
				Point:   geo.Point{Lat: *o.ClientLat, Lon: *o.ClientLon},
			})
			byID[o.ID] = o
		}

		ordered := routeplan.Optimize(origin, stops)
		metrics := routeplan.Metrics(origin, ordered)

		rb := pgdispatch.RouteBatch{
			RestaurantID:    restaurantID,
			CourierID:       courier.ID,
			TotalDistanceKm: metrics.TotalDistanceKm,
			TotalTimeMin:    metrics.TotalTimeMin,
			AssignedAt:      now,
		}
		for idx, stop := range ordered {
			direct := geo.DistanceKm(origin, stop.Point)
			rb.Deliveries = append(rb.Deliveries, pgdispatch.BatchDelivery{
				OrderID:                stop.OrderID,
				DistanceKm:             direct,
				RoutePositionOriginal:  fifoPos[stop.OrderID],
				RoutePositionOptimized: idx + 1,
				PrepTimeMinutes:        settings.AveragePrepMinutes,
				Value:                  deliveryValue(settings, direct),
			})
		}

		if _, err := s.repo.CommitRouteBatch(ctx, rb); err != nil {
			// The failed batch rolled back whole; prior batches stay.
			return s.partialResult(dispatched, routesCreated, alerts, rejected), errors.Wrap(err, "commit route batch")
		}

		dispatched += len(batch)
		routesCreated++

		s.notifier.Notify(ctx, messages.NotificationNewRoute,
			fmt.Sprintf("new route (%d deliveries)", len(batch)),
			fmt.Sprintf("optimized route with %d deliveries, distance: %.2f km", len(batch), metrics.TotalDistanceKm),
			nil, &courier.ID)
	}

	// 11. Leftovers stay ready and undispatched for the next pass.
	if len(queue) > 0 {
		warn := fmt.Sprintf("%d order(s) not dispatched for lack of capacity", len(queue))
		alerts = append(alerts, warn)
		s.notifier.Notify(ctx, messages.NotificationCapacityAlert,
			"orders not dispatched",
			fmt.Sprintf("%d order(s) waiting for more couriers online", len(queue)),
			&restaurantID, nil)
	}

	// 12.
	return DispatchResult{
		Success:         true,
		Message:         fmt.Sprintf("%d order(s) dispatched in %d route(s)", dispatched, routesCreated),
		DispatchedCount: dispatched,
		RoutesCreated:   routesCreated,
		Alerts:          append(alerts, rejected...),
	}, nil
}

func (s *Service) partialResult(dispatched, routes int, alerts, rejected []string) DispatchResult {
	return DispatchResult{
		Message:         "dispatch interrupted",
		DispatchedCount: dispatched,
		RoutesCreated:   routes,
		Alerts:          append(alerts, rejected...),
	}
}
