package pgtracking

import (
	"context"

	"github.com/pkg/errors"
)

func (s *Storage) initSchema(ctx context.Context) error {
	stmts := []string{
		`
CREATE TABLE IF NOT EXISTS location_records (
  id BIGSERIAL PRIMARY KEY,
  delivery_id TEXT NOT NULL,
  driver_id TEXT NOT NULL,
  latitude DOUBLE PRECISION NOT NULL,
  longitude DOUBLE PRECISION NOT NULL,
  accuracy DOUBLE PRECISION NULL,
  speed DOUBLE PRECISION NULL,
  heading DOUBLE PRECISION NULL,
  status TEXT NOT NULL DEFAULT 'active',
  captured_at TIMESTAMPTZ NOT NULL,
  created_at TIMESTAMPTZ NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_location_records_delivery_captured_at ON location_records(delivery_id, captured_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_location_records_driver_id ON location_records(driver_id)`,
		`
CREATE TABLE IF NOT EXISTS tracking_sessions (
  id BIGSERIAL PRIMARY KEY,
  delivery_id TEXT NOT NULL,
  driver_id TEXT NOT NULL,
  status TEXT NOT NULL DEFAULT 'active',
  started_at TIMESTAMPTZ NOT NULL,
  ended_at TIMESTAMPTZ NULL,
  distance_km DOUBLE PRECISION NULL,
  avg_speed_kmh DOUBLE PRECISION NULL
)`,
		// Инвариант: не больше одной активной сессии на доставку.
		`CREATE UNIQUE INDEX IF NOT EXISTS uq_tracking_sessions_active ON tracking_sessions(delivery_id) WHERE status = 'active'`,
		`CREATE INDEX IF NOT EXISTS idx_tracking_sessions_status ON tracking_sessions(status)`,
	}

	for _, q := range stmts {
		if _, err := s.db.Exec(ctx, q); err != nil {
			return errors.Wrap(err, "init schema")
		}
	}
	return nil
}
