package pgdispatch

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
	"github.com/rotafood/dispatchbox/internal/models"
)

const courierColumns = `
  id, restaurant_id, name, status, capacity,
  current_lat, current_lon, total_deliveries, total_earnings`

func scanCourier(row pgx.Row) (*models.Courier, error) {
	var c models.Courier
	err := row.Scan(
		&c.ID, &c.RestaurantID, &c.Name, &c.Status, &c.Capacity,
		&c.CurrentLat, &c.CurrentLon, &c.TotalDeliveries, &c.TotalEarnings,
	)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *Storage) GetCourier(ctx context.Context, id int64) (*models.Courier, bool, error) {
	c, err := scanCourier(s.db.QueryRow(ctx, `SELECT`+courierColumns+` FROM couriers WHERE id = $1`, id))
	if err == pgx.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrap(err, "select courier")
	}
	return c, true, nil
}

// ListActiveCouriers returns couriers eligible for automatic assignment,
// in listing order (the partitioner iterates them as-is).
func (s *Storage) ListActiveCouriers(ctx context.Context, restaurantID int64) ([]*models.Courier, error) {
	rows, err := s.db.Query(ctx, `
SELECT`+courierColumns+`
FROM couriers
WHERE restaurant_id = $1
  AND status = $2
ORDER BY id
`, restaurantID, models.CourierStatusActive)
	if err != nil {
		return nil, errors.Wrap(err, "select active couriers")
	}
	defer rows.Close()

	var out []*models.Courier
	for rows.Next() {
		c, err := scanCourier(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan courier")
		}
		out = append(out, c)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

// CountCourierActiveDeliveries counts deliveries that occupy a capacity
// slot: pending or en route.
func (s *Storage) CountCourierActiveDeliveries(ctx context.Context, courierID int64) (int, error) {
	var n int
	err := s.db.QueryRow(ctx, `
SELECT count(*)
FROM deliveries
WHERE courier_id = $1
  AND status = ANY($2)
`, courierID, activeDeliveryStatuses).Scan(&n)
	if err != nil {
		return 0, errors.Wrap(err, "count courier deliveries")
	}
	return n, nil
}
