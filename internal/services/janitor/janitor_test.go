package janitor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/courierlane/trackhub/internal/models"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

type completed struct {
	id      uint64
	endedAt time.Time
	dist    *float64
	avg     *float64
}

type fakeRepo struct {
	mu        sync.Mutex
	stale     []*models.TrackingSession
	staleErr  error
	locs      map[string][]*models.LocationRecord
	completed []completed
	complErr  error
}

func (f *fakeRepo) StaleActiveSessions(ctx context.Context, cutoff time.Time, limit int) ([]*models.TrackingSession, error) {
	return f.stale, f.staleErr
}

func (f *fakeRepo) LocationsBetween(ctx context.Context, deliveryID, driverID string, from, to time.Time) ([]*models.LocationRecord, error) {
	return f.locs[deliveryID], nil
}

func (f *fakeRepo) CompleteSession(ctx context.Context, id uint64, endedAt time.Time, distanceKM, avgSpeedKMH *float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.complErr != nil {
		return f.complErr
	}
	f.completed = append(f.completed, completed{id: id, endedAt: endedAt, dist: distanceKM, avg: avgSpeedKMH})
	return nil
}

func TestJanitor_CompletesStaleWithAggregates(t *testing.T) {
	start := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	f := &fakeRepo{
		stale: []*models.TrackingSession{
			{ID: 1, DeliveryID: "del-1", DriverID: "drv-9", Status: models.SessionStatusActive, StartedAt: start},
		},
		locs: map[string][]*models.LocationRecord{
			"del-1": {
				{Coordinates: models.Coordinates{Latitude: 0, Longitude: 0}, CapturedAt: start},
				// ~один градус долготы на экваторе это ~111.19 км
				{Coordinates: models.Coordinates{Latitude: 0, Longitude: 1}, CapturedAt: start.Add(time.Hour)},
			},
		},
	}

	j := New(f).WithSettings(time.Minute, 30*time.Minute)
	j.runOnce(context.Background())

	require.Len(t, f.completed, 1)
	c := f.completed[0]
	require.Equal(t, uint64(1), c.id)
	require.Equal(t, start.Add(time.Hour), c.endedAt)
	require.NotNil(t, c.dist)
	require.InDelta(t, 111.19, *c.dist, 0.5)
	require.NotNil(t, c.avg)
	require.InDelta(t, 111.19, *c.avg, 0.5) // час пути

	require.Equal(t, int64(1), j.Stats().TotalCompleted)
}

func TestJanitor_SessionWithoutLocations(t *testing.T) {
	start := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	f := &fakeRepo{
		stale: []*models.TrackingSession{
			{ID: 2, DeliveryID: "del-2", DriverID: "drv-1", Status: models.SessionStatusActive, StartedAt: start},
		},
	}

	j := New(f)
	j.runOnce(context.Background())

	require.Len(t, f.completed, 1)
	c := f.completed[0]
	require.Nil(t, c.dist)
	require.Nil(t, c.avg)
	require.Equal(t, start, c.endedAt)
}

func TestJanitor_RecordsErrors(t *testing.T) {
	f := &fakeRepo{staleErr: errors.New("pg down")}
	j := New(f)
	j.runOnce(context.Background())

	st := j.Stats()
	require.Equal(t, int64(1), st.TotalErrors)
	require.Contains(t, st.LastError, "pg down")
}

func TestJanitor_RunStopsOnContextCancel(t *testing.T) {
	f := &fakeRepo{}
	j := New(f).WithSettings(10*time.Millisecond, time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- j.Run(ctx) }()

	j.Trigger()
	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("janitor did not stop")
	}
}
