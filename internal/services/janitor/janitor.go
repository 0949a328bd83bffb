package janitor

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/courierlane/trackhub/internal/models"
)

type Repository interface {
	StaleActiveSessions(ctx context.Context, cutoff time.Time, limit int) ([]*models.TrackingSession, error)
	LocationsBetween(ctx context.Context, deliveryID, driverID string, from, to time.Time) ([]*models.LocationRecord, error)
	CompleteSession(ctx context.Context, id uint64, endedAt time.Time, distanceKM, avgSpeedKMH *float64) error
}

// Janitor completes tracking sessions nobody reports into anymore and
// records their aggregates. Водитель, пропавший на полчаса, доставку уже
// не везёт.
type Janitor struct {
	repo Repository

	interval   time.Duration
	staleAfter time.Duration
	batchSize  int

	triggerCh chan struct{}

	startedAtUnixNano int64
	lastCycleUnixNano atomic.Int64
	totalCompleted    atomic.Int64
	totalErrors       atomic.Int64
	lastErrorMu       sync.Mutex
	lastError         string
}

func New(repo Repository) *Janitor {
	return &Janitor{
		repo:              repo,
		interval:          60 * time.Second,
		staleAfter:        30 * time.Minute,
		batchSize:         100,
		triggerCh:         make(chan struct{}, 1),
		startedAtUnixNano: time.Now().UTC().UnixNano(),
	}
}

func (j *Janitor) WithSettings(interval, staleAfter time.Duration) *Janitor {
	if interval > 0 {
		j.interval = interval
	}
	if staleAfter > 0 {
		j.staleAfter = staleAfter
	}
	return j
}

// Trigger forces an immediate cycle (best-effort, non-blocking).
func (j *Janitor) Trigger() {
	select {
	case j.triggerCh <- struct{}{}:
	default:
	}
}

type Stats struct {
	StartedAt      time.Time  `json:"startedAt"`
	LastCycleAt    *time.Time `json:"lastCycleAt,omitempty"`
	TotalCompleted int64      `json:"totalCompleted"`
	TotalErrors    int64      `json:"totalErrors"`
	LastError      string     `json:"lastError,omitempty"`
}

func (j *Janitor) Stats() Stats {
	st := Stats{
		StartedAt:      time.Unix(0, j.startedAtUnixNano).UTC(),
		TotalCompleted: j.totalCompleted.Load(),
		TotalErrors:    j.totalErrors.Load(),
	}
	if n := j.lastCycleUnixNano.Load(); n > 0 {
		t := time.Unix(0, n).UTC()
		st.LastCycleAt = &t
	}
	j.lastErrorMu.Lock()
	st.LastError = j.lastError
	j.lastErrorMu.Unlock()
	return st
}

func (j *Janitor) Run(ctx context.Context) error {
	t := time.NewTicker(j.interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			j.runOnce(ctx)
		case <-j.triggerCh:
			j.runOnce(ctx)
		}
	}
}

func (j *Janitor) noteError(err error) {
	j.totalErrors.Add(1)
	j.lastErrorMu.Lock()
	j.lastError = err.Error()
	j.lastErrorMu.Unlock()
}

func (j *Janitor) runOnce(ctx context.Context) {
	now := time.Now().UTC()
	j.lastCycleUnixNano.Store(now.UnixNano())

	stale, err := j.repo.StaleActiveSessions(ctx, now.Add(-j.staleAfter), j.batchSize)
	if err != nil {
		slog.Error("select stale sessions", "error", err.Error())
		j.noteError(err)
		return
	}

	for _, sess := range stale {
		if err := j.completeOne(ctx, sess, now); err != nil {
			slog.Error("complete session", "session_id", sess.ID, "delivery_id", sess.DeliveryID, "error", err.Error())
			j.noteError(err)
			continue
		}
		j.totalCompleted.Add(1)
		slog.Info("session completed by janitor", "session_id", sess.ID, "delivery_id", sess.DeliveryID)
	}
}

func (j *Janitor) completeOne(ctx context.Context, sess *models.TrackingSession, now time.Time) error {
	locs, err := j.repo.LocationsBetween(ctx, sess.DeliveryID, sess.DriverID, sess.StartedAt, now)
	if err != nil {
		return err
	}

	var distKM, avgKMH *float64
	if len(locs) >= 2 {
		d := pathDistanceKM(locs)
		distKM = &d
		dur := locs[len(locs)-1].CapturedAt.Sub(locs[0].CapturedAt)
		if dur > 0 {
			v := d / dur.Hours()
			avgKMH = &v
		}
	}

	endedAt := sess.StartedAt
	if len(locs) > 0 {
		endedAt = locs[len(locs)-1].CapturedAt
	}
	return j.repo.CompleteSession(ctx, sess.ID, endedAt, distKM, avgKMH)
}

func pathDistanceKM(locs []*models.LocationRecord) float64 {
	var total float64
	for i := 1; i < len(locs); i++ {
		total += haversineKM(locs[i-1].Coordinates, locs[i].Coordinates)
	}
	return total
}

const earthRadiusKM = 6371.0

func haversineKM(a, b models.Coordinates) float64 {
	lat1 := a.Latitude * math.Pi / 180
	lat2 := b.Latitude * math.Pi / 180
	dLat := (b.Latitude - a.Latitude) * math.Pi / 180
	dLng := (b.Longitude - a.Longitude) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * earthRadiusKM * math.Asin(math.Sqrt(h))
}
