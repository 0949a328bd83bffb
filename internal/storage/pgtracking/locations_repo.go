package pgtracking

import (
	"context"
	"time"

	"github.com/courierlane/trackhub/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

// AppendLocation stores one immutable location fact. captured_at is assigned
// here, not taken from the client.
func (s *Storage) AppendLocation(ctx context.Context, in models.LocationCreateInput, status string) (*models.LocationRecord, error) {
	if status == "" {
		status = models.LocationStatusActive
	}
	now := time.Now().UTC()

	rec := models.LocationRecord{
		DeliveryID:  in.DeliveryID,
		DriverID:    in.DriverID,
		Coordinates: in.Coordinates,
		Speed:       in.Speed,
		Heading:     in.Heading,
		Status:      status,
		CapturedAt:  now,
		CreatedAt:   now,
	}

	err := s.db.QueryRow(ctx, `
INSERT INTO location_records
  (delivery_id, driver_id, latitude, longitude, accuracy, speed, heading, status, captured_at, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
RETURNING id
`,
		in.DeliveryID, in.DriverID,
		in.Coordinates.Latitude, in.Coordinates.Longitude, in.Coordinates.Accuracy,
		in.Speed, in.Heading, status, now, now,
	).Scan(&rec.ID)
	if err != nil {
		return nil, errors.Wrap(err, "insert location record")
	}
	return &rec, nil
}

// LatestLocationByDelivery returns the most recent record for a delivery, or
// nil when the delivery has никогда не трекалась. Absence is not an error.
func (s *Storage) LatestLocationByDelivery(ctx context.Context, deliveryID string) (*models.LocationRecord, error) {
	row := s.db.QueryRow(ctx, `
SELECT id, delivery_id, driver_id, latitude, longitude, accuracy, speed, heading, status, captured_at, created_at
FROM location_records
WHERE delivery_id = $1
ORDER BY captured_at DESC
LIMIT 1
`, deliveryID)

	var rec models.LocationRecord
	err := row.Scan(
		&rec.ID, &rec.DeliveryID, &rec.DriverID,
		&rec.Coordinates.Latitude, &rec.Coordinates.Longitude, &rec.Coordinates.Accuracy,
		&rec.Speed, &rec.Heading, &rec.Status, &rec.CapturedAt, &rec.CreatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "select latest location")
	}
	return &rec, nil
}

// LocationsBetween lists a delivery's records inside a time window, oldest
// first — used by the janitor to compute session aggregates.
func (s *Storage) LocationsBetween(ctx context.Context, deliveryID, driverID string, from, to time.Time) ([]*models.LocationRecord, error) {
	rows, err := s.db.Query(ctx, `
SELECT id, delivery_id, driver_id, latitude, longitude, accuracy, speed, heading, status, captured_at, created_at
FROM location_records
WHERE delivery_id = $1 AND driver_id = $2 AND captured_at >= $3 AND captured_at <= $4
ORDER BY captured_at ASC
`, deliveryID, driverID, from, to)
	if err != nil {
		return nil, errors.Wrap(err, "select locations")
	}
	defer rows.Close()

	var out []*models.LocationRecord
	for rows.Next() {
		var rec models.LocationRecord
		if err := rows.Scan(
			&rec.ID, &rec.DeliveryID, &rec.DriverID,
			&rec.Coordinates.Latitude, &rec.Coordinates.Longitude, &rec.Coordinates.Accuracy,
			&rec.Speed, &rec.Heading, &rec.Status, &rec.CapturedAt, &rec.CreatedAt,
		); err != nil {
			return nil, errors.Wrap(err, "scan location")
		}
		out = append(out, &rec)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}
