package pgtracking

import (
	"context"
	"testing"
	"time"

	"github.com/courierlane/trackhub/internal/models"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func TestPGTracking_RepoFlow(t *testing.T) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:15-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "admin",
			"POSTGRES_PASSWORD": "admin",
			"POSTGRES_DB":       "trackhub_test",
		},
		WaitingFor: wait.ForListeningPort("5432/tcp").WithStartupTimeout(60 * time.Second),
	}
	pgC, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = pgC.Terminate(ctx) })

	host, err := pgC.Host(ctx)
	require.NoError(t, err)
	port, err := pgC.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)

	dsn := "postgres://admin:admin@" + host + ":" + port.Port() + "/trackhub_test?sslmode=disable"
	st, err := New(dsn)
	require.NoError(t, err)
	t.Cleanup(st.Close)

	// Пустая доставка: нет записей — нет ошибки.
	rec, err := st.LatestLocationByDelivery(ctx, "del-1")
	require.NoError(t, err)
	require.Nil(t, rec)

	speed := 42.0
	first, err := st.AppendLocation(ctx, models.LocationCreateInput{
		DeliveryID:  "del-1",
		DriverID:    "drv-9",
		Coordinates: models.Coordinates{Latitude: 1.0, Longitude: 2.0},
		Speed:       &speed,
	}, models.LocationStatusActive)
	require.NoError(t, err)
	require.NotZero(t, first.ID)

	second, err := st.AppendLocation(ctx, models.LocationCreateInput{
		DeliveryID:  "del-1",
		DriverID:    "drv-9",
		Coordinates: models.Coordinates{Latitude: 1.5, Longitude: 2.5},
	}, models.LocationStatusActive)
	require.NoError(t, err)

	latest, err := st.LatestLocationByDelivery(ctx, "del-1")
	require.NoError(t, err)
	require.Equal(t, second.ID, latest.ID)
	require.Equal(t, 1.5, latest.Coordinates.Latitude)

	locs, err := st.LocationsBetween(ctx, "del-1", "drv-9", first.CapturedAt.Add(-time.Second), time.Now().UTC().Add(time.Second))
	require.NoError(t, err)
	require.Len(t, locs, 2)
	require.Equal(t, first.ID, locs[0].ID) // oldest first

	// Сессии: повторный старт не плодит вторую активную.
	sess, err := st.StartSession(ctx, "del-1", "drv-9")
	require.NoError(t, err)
	require.Equal(t, models.SessionStatusActive, sess.Status)

	again, err := st.StartSession(ctx, "del-1", "drv-9")
	require.NoError(t, err)
	require.Equal(t, sess.ID, again.ID)

	// Свежая сессия со свежими точками не считается протухшей.
	stale, err := st.StaleActiveSessions(ctx, time.Now().UTC().Add(-time.Minute), 10)
	require.NoError(t, err)
	require.Empty(t, stale)

	// А с точкой зрения "будущего" протухла.
	stale, err = st.StaleActiveSessions(ctx, time.Now().UTC().Add(time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	require.Equal(t, sess.ID, stale[0].ID)

	dist := 0.08
	avg := 9.6
	require.NoError(t, st.CompleteSession(ctx, sess.ID, time.Now().UTC(), &dist, &avg))

	active, err := st.ActiveSessionByDelivery(ctx, "del-1")
	require.NoError(t, err)
	require.Nil(t, active)

	// Завершённая сессия не мешает начать новую.
	fresh, err := st.StartSession(ctx, "del-1", "drv-9")
	require.NoError(t, err)
	require.NotEqual(t, sess.ID, fresh.ID)
}
