package pgdispatch

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
	"github.com/rotafood/dispatchbox/internal/models"
)

// GetDispatchSettings returns (nil, false, nil) when the restaurant has no
// dispatch configuration. Absence is an expected state, not an error.
func (s *Storage) GetDispatchSettings(ctx context.Context, restaurantID int64) (*models.DispatchSettings, bool, error) {
	var st models.DispatchSettings
	err := s.db.QueryRow(ctx, `
SELECT
  restaurant_id, automatic_dispatch, max_coverage_radius_km,
  average_prep_minutes, mode,
  base_fee, base_distance_km, per_km_fee
FROM dispatch_settings
WHERE restaurant_id = $1
`, restaurantID).Scan(
		&st.RestaurantID, &st.AutomaticDispatch, &st.MaxCoverageRadiusKm,
		&st.AveragePrepMinutes, &st.Mode,
		&st.BaseFee, &st.BaseDistanceKm, &st.PerKmFee,
	)
	if err == pgx.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrap(err, "select dispatch settings")
	}
	return &st, true, nil
}

func (s *Storage) GetRestaurant(ctx context.Context, restaurantID int64) (*models.Restaurant, bool, error) {
	var r models.Restaurant
	err := s.db.QueryRow(ctx, `
SELECT id, name, lat, lon
FROM restaurants
WHERE id = $1
`, restaurantID).Scan(&r.ID, &r.Name, &r.Lat, &r.Lon)
	if err == pgx.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrap(err, "select restaurant")
	}
	return &r, true, nil
}

// ListAutoDispatchRestaurantIDs feeds the scheduler: every restaurant whose
// settings keep automatic dispatch on.
func (s *Storage) ListAutoDispatchRestaurantIDs(ctx context.Context) ([]int64, error) {
	rows, err := s.db.Query(ctx, `
SELECT restaurant_id
FROM dispatch_settings
WHERE automatic_dispatch = TRUE
ORDER BY restaurant_id
`)
	if err != nil {
		return nil, errors.Wrap(err, "select auto dispatch restaurants")
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, errors.Wrap(err, "scan restaurant id")
		}
		out = append(out, id)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}
