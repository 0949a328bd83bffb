package pgtracking

import (
	"context"
	"time"

	"github.com/courierlane/trackhub/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

// StartSession opens an active session for a delivery/driver pairing. If one
// is already active for the delivery, the existing session is returned: the
// unique partial index makes the insert a no-op.
func (s *Storage) StartSession(ctx context.Context, deliveryID, driverID string) (*models.TrackingSession, error) {
	now := time.Now().UTC()
	_, err := s.db.Exec(ctx, `
INSERT INTO tracking_sessions (delivery_id, driver_id, status, started_at)
VALUES ($1, $2, 'active', $3)
ON CONFLICT (delivery_id) WHERE status = 'active' DO NOTHING
`, deliveryID, driverID, now)
	if err != nil {
		return nil, errors.Wrap(err, "insert session")
	}
	return s.ActiveSessionByDelivery(ctx, deliveryID)
}

// ActiveSessionByDelivery returns the current session or nil when the
// delivery is not being tracked.
func (s *Storage) ActiveSessionByDelivery(ctx context.Context, deliveryID string) (*models.TrackingSession, error) {
	row := s.db.QueryRow(ctx, `
SELECT id, delivery_id, driver_id, status, started_at, ended_at, distance_km, avg_speed_kmh
FROM tracking_sessions
WHERE delivery_id = $1 AND status = 'active'
`, deliveryID)

	var sess models.TrackingSession
	err := row.Scan(
		&sess.ID, &sess.DeliveryID, &sess.DriverID, &sess.Status,
		&sess.StartedAt, &sess.EndedAt, &sess.DistanceKM, &sess.AvgSpeedKMH,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "select active session")
	}
	return &sess, nil
}

// StaleActiveSessions returns active sessions with no location report since
// cutoff (falling back to started_at for sessions that never got one).
func (s *Storage) StaleActiveSessions(ctx context.Context, cutoff time.Time, limit int) ([]*models.TrackingSession, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := s.db.Query(ctx, `
SELECT id, delivery_id, driver_id, status, started_at, ended_at, distance_km, avg_speed_kmh
FROM tracking_sessions s
WHERE s.status = 'active'
  AND COALESCE(
        (SELECT MAX(l.captured_at) FROM location_records l
          WHERE l.delivery_id = s.delivery_id AND l.driver_id = s.driver_id),
        s.started_at
      ) < $1
ORDER BY s.started_at ASC
LIMIT $2
`, cutoff, limit)
	if err != nil {
		return nil, errors.Wrap(err, "select stale sessions")
	}
	defer rows.Close()

	var out []*models.TrackingSession
	for rows.Next() {
		var sess models.TrackingSession
		if err := rows.Scan(
			&sess.ID, &sess.DeliveryID, &sess.DriverID, &sess.Status,
			&sess.StartedAt, &sess.EndedAt, &sess.DistanceKM, &sess.AvgSpeedKMH,
		); err != nil {
			return nil, errors.Wrap(err, "scan session")
		}
		out = append(out, &sess)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

// CompleteSession closes a session and records its aggregates.
func (s *Storage) CompleteSession(ctx context.Context, id uint64, endedAt time.Time, distanceKM, avgSpeedKMH *float64) error {
	_, err := s.db.Exec(ctx, `
UPDATE tracking_sessions
SET status = 'completed', ended_at = $2, distance_km = $3, avg_speed_kmh = $4
WHERE id = $1 AND status = 'active'
`, id, endedAt, distanceKM, avgSpeedKMH)
	if err != nil {
		return errors.Wrap(err, "complete session")
	}
	return nil
}
