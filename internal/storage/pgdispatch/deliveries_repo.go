package pgdispatch

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
	"github.com/rotafood/dispatchbox/internal/models"
)

// activeDeliveryStatuses are the statuses that occupy a courier capacity slot.
var activeDeliveryStatuses = []string{
	string(models.DeliveryStatusPending),
	string(models.DeliveryStatusEnRoute),
}

const deliveryColumns = `
  id, order_id, courier_id, distance_km,
  route_position_original, route_position_optimized, prep_time_minutes,
  value, status, assigned_at, delivered_at, cancellation_reason`

func scanDelivery(row pgx.Row) (*models.Delivery, error) {
	var d models.Delivery
	err := row.Scan(
		&d.ID, &d.OrderID, &d.CourierID, &d.DistanceKm,
		&d.RoutePositionOriginal, &d.RoutePositionOptimized, &d.PrepTimeMinutes,
		&d.Value, &d.Status, &d.AssignedAt, &d.DeliveredAt, &d.CancellationReason,
	)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// GetActiveDeliveryByOrder returns the order's non-cancelled delivery, if
// any. The partial unique index guarantees there is at most one.
func (s *Storage) GetActiveDeliveryByOrder(ctx context.Context, orderID int64) (*models.Delivery, bool, error) {
	d, err := scanDelivery(s.db.QueryRow(ctx, `
SELECT`+deliveryColumns+`
FROM deliveries
WHERE order_id = $1
  AND status <> $2
`, orderID, models.DeliveryStatusCancelled))
	if err == pgx.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrap(err, "select active delivery")
	}
	return d, true, nil
}

// CountRestaurantActiveDeliveries counts capacity in use across the whole
// restaurant (deliveries pending or en route).
func (s *Storage) CountRestaurantActiveDeliveries(ctx context.Context, restaurantID int64) (int, error) {
	var n int
	err := s.db.QueryRow(ctx, `
SELECT count(*)
FROM deliveries d
JOIN orders o ON o.id = d.order_id
WHERE o.restaurant_id = $1
  AND d.status = ANY($2)
`, restaurantID, activeDeliveryStatuses).Scan(&n)
	if err != nil {
		return 0, errors.Wrap(err, "count restaurant deliveries")
	}
	return n, nil
}

func (s *Storage) ListCourierPendingDeliveries(ctx context.Context, courierID int64) ([]*models.Delivery, error) {
	rows, err := s.db.Query(ctx, `
SELECT`+deliveryColumns+`
FROM deliveries
WHERE courier_id = $1
  AND status = $2
`, courierID, models.DeliveryStatusPending)
	if err != nil {
		return nil, errors.Wrap(err, "select pending deliveries")
	}
	defer rows.Close()

	var out []*models.Delivery
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan delivery")
		}
		out = append(out, d)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

// ReassignDelivery moves an existing delivery to another courier in place:
// courier swapped, status reset to pending, assignment clock restarted. The
// order gets the audit note and is marked dispatched again.
func (s *Storage) ReassignDelivery(ctx context.Context, deliveryID, courierID int64, note string, at time.Time) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var orderID int64
	err = tx.QueryRow(ctx, `
UPDATE deliveries
SET courier_id = $2, status = $3, assigned_at = $4
WHERE id = $1
RETURNING order_id
`, deliveryID, courierID, models.DeliveryStatusPending, at.UTC()).Scan(&orderID)
	if err != nil {
		return errors.Wrap(err, "reassign delivery")
	}

	_, err = tx.Exec(ctx, `
UPDATE orders
SET dispatched = TRUE,
    status = $2,
    observations = observations || E'\n' || $3
WHERE id = $1
`, orderID, models.OrderStatusOutForDelivery, note)
	if err != nil {
		return errors.Wrap(err, "update order")
	}

	return errors.Wrap(tx.Commit(ctx), "commit tx")
}

// CreateManualDelivery makes the 1:1 execution record for an operator-driven
// assignment. Manual deliveries carry no route positions.
func (s *Storage) CreateManualDelivery(ctx context.Context, orderID, courierID int64, distanceKm, value float64, note string, at time.Time) (int64, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var id int64
	err = tx.QueryRow(ctx, `
INSERT INTO deliveries (order_id, courier_id, distance_km, value, status, assigned_at)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING id
`, orderID, courierID, distanceKm, value, models.DeliveryStatusPending, at.UTC()).Scan(&id)
	if err != nil {
		return 0, errors.Wrap(err, "insert delivery")
	}

	_, err = tx.Exec(ctx, `
UPDATE orders
SET dispatched = TRUE,
    status = $2,
    observations = observations || E'\n' || $3
WHERE id = $1
`, orderID, models.OrderStatusOutForDelivery, note)
	if err != nil {
		return 0, errors.Wrap(err, "update order")
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, errors.Wrap(err, "commit tx")
	}
	return id, nil
}

// ReleaseCourierPendingDeliveries cancels a courier's unstarted deliveries
// and puts the linked orders back in the dispatch pool, all in one tx. Only
// pending rows are touched: a courier already moving keeps its en-route work.
func (s *Storage) ReleaseCourierPendingDeliveries(ctx context.Context, courierID int64, reason string) (int, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx, `
UPDATE deliveries
SET status = $2, cancellation_reason = $3
WHERE courier_id = $1
  AND status = $4
RETURNING order_id
`, courierID, models.DeliveryStatusCancelled, reason, models.DeliveryStatusPending)
	if err != nil {
		return 0, errors.Wrap(err, "cancel deliveries")
	}
	var orderIDs []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, errors.Wrap(err, "scan order id")
		}
		orderIDs = append(orderIDs, id)
	}
	rows.Close()
	if rows.Err() != nil {
		return 0, errors.Wrap(rows.Err(), "rows")
	}

	if len(orderIDs) > 0 {
		_, err = tx.Exec(ctx, `
UPDATE orders
SET status = $2, dispatched = FALSE, route_position = NULL
WHERE id = ANY($1)
`, orderIDs, models.OrderStatusReady)
		if err != nil {
			return 0, errors.Wrap(err, "reset orders")
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, errors.Wrap(err, "commit tx")
	}
	return len(orderIDs), nil
}

type DeliveryStatusUpdate struct {
	DeliveryID int64
	CourierID  int64
	Status     models.DeliveryStatus
	Reason     string
	OccurredAt time.Time
}

// ApplyDeliveryStatus advances one delivery and everything hanging off it:
// the order status, the route status and the courier's running totals.
func (s *Storage) ApplyDeliveryStatus(ctx context.Context, upd DeliveryStatusUpdate) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var orderID int64
	var routeID *int64
	var value float64
	err = tx.QueryRow(ctx, `
SELECT order_id, route_id, value
FROM deliveries
WHERE id = $1
`, upd.DeliveryID).Scan(&orderID, &routeID, &value)
	if err != nil {
		return errors.Wrap(err, "select delivery")
	}

	switch upd.Status {
	case models.DeliveryStatusEnRoute:
		_, err = tx.Exec(ctx, `UPDATE deliveries SET status = $2 WHERE id = $1`,
			upd.DeliveryID, models.DeliveryStatusEnRoute)
		if err != nil {
			return errors.Wrap(err, "update delivery (en route)")
		}
		if routeID != nil {
			_, err = tx.Exec(ctx, `UPDATE routes SET status = $2 WHERE id = $1 AND status = $3`,
				*routeID, models.RouteStatusStarted, models.RouteStatusPending)
			if err != nil {
				return errors.Wrap(err, "update route (started)")
			}
		}

	case models.DeliveryStatusDelivered:
		_, err = tx.Exec(ctx, `UPDATE deliveries SET status = $2, delivered_at = $3 WHERE id = $1`,
			upd.DeliveryID, models.DeliveryStatusDelivered, upd.OccurredAt.UTC())
		if err != nil {
			return errors.Wrap(err, "update delivery (delivered)")
		}
		_, err = tx.Exec(ctx, `UPDATE orders SET status = $2 WHERE id = $1`,
			orderID, models.OrderStatusDelivered)
		if err != nil {
			return errors.Wrap(err, "update order (delivered)")
		}
		_, err = tx.Exec(ctx, `
UPDATE couriers
SET total_deliveries = total_deliveries + 1,
    total_earnings = total_earnings + $2
WHERE id = $1
`, upd.CourierID, value)
		if err != nil {
			return errors.Wrap(err, "update courier stats")
		}
		if routeID != nil {
			// Route completes when its last delivery lands.
			_, err = tx.Exec(ctx, `
UPDATE routes r
SET status = $2
WHERE r.id = $1
  AND NOT EXISTS (
    SELECT 1 FROM deliveries d
    WHERE d.route_id = r.id
      AND d.id <> $3
      AND d.status = ANY($4)
  )
`, *routeID, models.RouteStatusCompleted, upd.DeliveryID, activeDeliveryStatuses)
			if err != nil {
				return errors.Wrap(err, "update route (completed)")
			}
		}

	case models.DeliveryStatusCustomerAbsent:
		_, err = tx.Exec(ctx, `UPDATE deliveries SET status = $2, cancellation_reason = $3 WHERE id = $1`,
			upd.DeliveryID, models.DeliveryStatusCustomerAbsent, upd.Reason)
		if err != nil {
			return errors.Wrap(err, "update delivery (customer absent)")
		}

	default:
		return errors.Errorf("unsupported delivery status %q", upd.Status)
	}

	return errors.Wrap(tx.Commit(ctx), "commit tx")
}
