package pgdispatch

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
	"github.com/rotafood/dispatchbox/internal/models"
)

type BatchDelivery struct {
	OrderID                int64
	DistanceKm             float64
	RoutePositionOriginal  int
	RoutePositionOptimized int
	PrepTimeMinutes        int
	Value                  float64
}

type RouteBatch struct {
	RestaurantID    int64
	CourierID       int64
	TotalDistanceKm float64
	TotalTimeMin    int
	// Deliveries come already in optimized visiting order; their order ids
	// become the route's ordered_order_ids.
	Deliveries []BatchDelivery
	AssignedAt time.Time
}

// ErrOrderAlreadyClaimed means another dispatch run claimed one of the batch
// orders between our read and this commit. The batch rolls back whole.
var ErrOrderAlreadyClaimed = errors.New("order already dispatched by a concurrent run")

// CommitRouteBatch persists one courier's route and its deliveries, and
// flips the orders to out-for-delivery, all-or-nothing. Prior batches of the
// same run are independent transactions and stay committed.
func (s *Storage) CommitRouteBatch(ctx context.Context, batch RouteBatch) (int64, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	at := batch.AssignedAt.UTC()
	orderIDs := make([]int64, 0, len(batch.Deliveries))
	for _, d := range batch.Deliveries {
		orderIDs = append(orderIDs, d.OrderID)
	}

	var routeID int64
	err = tx.QueryRow(ctx, `
INSERT INTO routes (
  restaurant_id, courier_id, total_orders,
  total_distance_km, total_time_minutes, ordered_order_ids,
  status, created_at
)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
RETURNING id
`, batch.RestaurantID, batch.CourierID, len(batch.Deliveries),
		batch.TotalDistanceKm, batch.TotalTimeMin, orderIDs,
		models.RouteStatusPending, at).Scan(&routeID)
	if err != nil {
		return 0, errors.Wrap(err, "insert route")
	}

	for _, d := range batch.Deliveries {
		_, err = tx.Exec(ctx, `
INSERT INTO deliveries (
  order_id, courier_id, route_id, distance_km,
  route_position_original, route_position_optimized,
  prep_time_minutes, value, status, assigned_at
)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
`, d.OrderID, batch.CourierID, routeID, d.DistanceKm,
			d.RoutePositionOriginal, d.RoutePositionOptimized,
			d.PrepTimeMinutes, d.Value, models.DeliveryStatusPending, at)
		if err != nil {
			return 0, errors.Wrap(err, "insert delivery")
		}

		// Claim the order; dispatched = FALSE re-checks that no concurrent
		// run took it since we read the queue.
		ct, err := tx.Exec(ctx, `
UPDATE orders
SET dispatched = TRUE, status = $2, route_position = $3
WHERE id = $1
  AND dispatched = FALSE
`, d.OrderID, models.OrderStatusOutForDelivery, d.RoutePositionOptimized)
		if err != nil {
			return 0, errors.Wrap(err, "update order")
		}
		if ct.RowsAffected() == 0 {
			return 0, ErrOrderAlreadyClaimed
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, errors.Wrap(err, "commit tx")
	}
	return routeID, nil
}
