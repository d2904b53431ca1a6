package pgdispatch

import (
	"context"

	"github.com/pkg/errors"
)

func (s *Storage) initSchema(ctx context.Context) error {
	stmts := []string{
		`
CREATE TABLE IF NOT EXISTS restaurants (
  id BIGSERIAL PRIMARY KEY,
  name TEXT NOT NULL,
  lat DOUBLE PRECISION NULL,
  lon DOUBLE PRECISION NULL
)`,
		`
CREATE TABLE IF NOT EXISTS dispatch_settings (
  id BIGSERIAL PRIMARY KEY,
  restaurant_id BIGINT NOT NULL REFERENCES restaurants(id) ON DELETE CASCADE,
  automatic_dispatch BOOLEAN NOT NULL DEFAULT TRUE,
  max_coverage_radius_km DOUBLE PRECISION NOT NULL DEFAULT 10.0,
  average_prep_minutes INT NOT NULL DEFAULT 30,
  mode TEXT NOT NULL DEFAULT 'auto_economic',
  base_fee DOUBLE PRECISION NOT NULL DEFAULT 5.0,
  base_distance_km DOUBLE PRECISION NOT NULL DEFAULT 3.0,
  per_km_fee DOUBLE PRECISION NOT NULL DEFAULT 1.5,
  UNIQUE (restaurant_id)
)`,
		`
CREATE TABLE IF NOT EXISTS couriers (
  id BIGSERIAL PRIMARY KEY,
  restaurant_id BIGINT NOT NULL REFERENCES restaurants(id) ON DELETE CASCADE,
  name TEXT NOT NULL,
  status TEXT NOT NULL DEFAULT 'pending',
  capacity INT NOT NULL DEFAULT 3,
  current_lat DOUBLE PRECISION NULL,
  current_lon DOUBLE PRECISION NULL,
  total_deliveries BIGINT NOT NULL DEFAULT 0,
  total_earnings DOUBLE PRECISION NOT NULL DEFAULT 0
)`,
		`CREATE INDEX IF NOT EXISTS idx_couriers_restaurant_status ON couriers(restaurant_id, status)`,
		`
CREATE TABLE IF NOT EXISTS orders (
  id BIGSERIAL PRIMARY KEY,
  restaurant_id BIGINT NOT NULL REFERENCES restaurants(id) ON DELETE CASCADE,
  ticket TEXT NOT NULL,
  type TEXT NOT NULL,
  status TEXT NOT NULL DEFAULT 'pending',
  client_lat DOUBLE PRECISION NULL,
  client_lon DOUBLE PRECISION NULL,
  value DOUBLE PRECISION NOT NULL DEFAULT 0,
  estimated_prep_minutes INT NULL,
  dispatched BOOLEAN NOT NULL DEFAULT FALSE,
  route_position INT NULL,
  delayed BOOLEAN NOT NULL DEFAULT FALSE,
  observations TEXT NOT NULL DEFAULT '',
  created_at TIMESTAMPTZ NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_orders_dispatch_queue ON orders(restaurant_id, status, dispatched, created_at)`,
		`
CREATE TABLE IF NOT EXISTS routes (
  id BIGSERIAL PRIMARY KEY,
  restaurant_id BIGINT NOT NULL REFERENCES restaurants(id) ON DELETE CASCADE,
  courier_id BIGINT NOT NULL REFERENCES couriers(id),
  total_orders INT NOT NULL,
  total_distance_km DOUBLE PRECISION NOT NULL,
  total_time_minutes INT NOT NULL,
  ordered_order_ids BIGINT[] NOT NULL,
  status TEXT NOT NULL DEFAULT 'pending',
  created_at TIMESTAMPTZ NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_routes_courier_status ON routes(courier_id, status)`,
		`
CREATE TABLE IF NOT EXISTS deliveries (
  id BIGSERIAL PRIMARY KEY,
  order_id BIGINT NOT NULL REFERENCES orders(id) ON DELETE CASCADE,
  courier_id BIGINT NULL REFERENCES couriers(id) ON DELETE SET NULL,
  route_id BIGINT NULL REFERENCES routes(id),
  distance_km DOUBLE PRECISION NOT NULL DEFAULT 0,
  route_position_original INT NULL,
  route_position_optimized INT NULL,
  prep_time_minutes INT NULL,
  value DOUBLE PRECISION NOT NULL DEFAULT 0,
  status TEXT NOT NULL DEFAULT 'pending',
  assigned_at TIMESTAMPTZ NOT NULL,
  delivered_at TIMESTAMPTZ NULL,
  cancellation_reason TEXT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_deliveries_courier_status ON deliveries(courier_id, status)`,
		// At most one non-cancelled delivery per order.
		`CREATE UNIQUE INDEX IF NOT EXISTS uq_deliveries_active_order ON deliveries(order_id) WHERE status <> 'cancelled'`,
	}

	for _, q := range stmts {
		if _, err := s.db.Exec(ctx, q); err != nil {
			return errors.Wrap(err, "init schema")
		}
	}
	return nil
}
