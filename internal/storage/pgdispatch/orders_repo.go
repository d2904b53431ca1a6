package pgdispatch

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
	"github.com/rotafood/dispatchbox/internal/models"
)

const orderColumns = `
  id, restaurant_id, ticket, type, status,
  client_lat, client_lon, value,
  estimated_prep_minutes, dispatched, route_position, delayed,
  observations, created_at`

func scanOrder(row pgx.Row) (*models.Order, error) {
	var o models.Order
	err := row.Scan(
		&o.ID, &o.RestaurantID, &o.Ticket, &o.Type, &o.Status,
		&o.ClientLat, &o.ClientLon, &o.Value,
		&o.EstimatedPrepMinutes, &o.Dispatched, &o.RoutePosition, &o.Delayed,
		&o.Observations, &o.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (s *Storage) GetOrder(ctx context.Context, id int64) (*models.Order, bool, error) {
	o, err := scanOrder(s.db.QueryRow(ctx, `SELECT`+orderColumns+` FROM orders WHERE id = $1`, id))
	if err == pgx.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrap(err, "select order")
	}
	return o, true, nil
}

// ListReadyDeliveryOrders returns the dispatch queue: delivery orders that
// are ready and not yet dispatched, oldest first. created_at is the only
// ordering guarantee the engine gives.
func (s *Storage) ListReadyDeliveryOrders(ctx context.Context, restaurantID int64) ([]*models.Order, error) {
	rows, err := s.db.Query(ctx, `
SELECT`+orderColumns+`
FROM orders
WHERE restaurant_id = $1
  AND type = $2
  AND status = $3
  AND dispatched = FALSE
ORDER BY created_at ASC
`, restaurantID, models.OrderTypeDelivery, models.OrderStatusReady)
	if err != nil {
		return nil, errors.Wrap(err, "select ready orders")
	}
	defer rows.Close()

	var out []*models.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan order")
		}
		out = append(out, o)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

// ListDelayableOrders returns orders the SLA monitor still has to look at:
// pending/in-prep and not yet flagged.
func (s *Storage) ListDelayableOrders(ctx context.Context, restaurantID int64) ([]*models.Order, error) {
	rows, err := s.db.Query(ctx, `
SELECT`+orderColumns+`
FROM orders
WHERE restaurant_id = $1
  AND status = ANY($2)
  AND delayed = FALSE
`, restaurantID, []string{string(models.OrderStatusPending), string(models.OrderStatusInPrep)})
	if err != nil {
		return nil, errors.Wrap(err, "select delayable orders")
	}
	defer rows.Close()

	var out []*models.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan order")
		}
		out = append(out, o)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

// MarkOrderDelayed is one-way: the SLA monitor never clears the flag.
func (s *Storage) MarkOrderDelayed(ctx context.Context, orderID int64) error {
	_, err := s.db.Exec(ctx, `UPDATE orders SET delayed = TRUE WHERE id = $1`, orderID)
	return errors.Wrap(err, "mark order delayed")
}

// CancelOrderOutOfZone terminally cancels an order that failed the coverage
// check and appends the coverage message to its observations.
func (s *Storage) CancelOrderOutOfZone(ctx context.Context, orderID int64, note string) error {
	_, err := s.db.Exec(ctx, `
UPDATE orders
SET status = $2,
    observations = observations || E'\n[SYSTEM] ' || $3
WHERE id = $1
`, orderID, models.OrderStatusCancelled, note)
	return errors.Wrap(err, "cancel order out of zone")
}
