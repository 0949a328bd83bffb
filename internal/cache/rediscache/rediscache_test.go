package rediscache

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
)

func TestClient_GetSet(t *testing.T) {
	mr := miniredis.RunT(t)
	c := New(mr.Addr())

	ctx := context.Background()

	_, ok, err := c.Get(ctx, "missing")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, c.Set(ctx, DeliveryLocationKey("del-1"), []byte(`{"lat":1}`), time.Minute))

	b, ok, err := c.Get(ctx, DeliveryLocationKey("del-1"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte(`{"lat":1}`), b)
}

func TestClient_Allow(t *testing.T) {
	mr := miniredis.RunT(t)
	c := New(mr.Addr())

	ctx := context.Background()
	now := time.Now().UTC()
	key := DriverReportsKey("drv-1", now)

	ok, n, err := c.Allow(ctx, key, 2, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(1), n)

	ok, n, _ = c.Allow(ctx, key, 2, time.Minute)
	require.True(t, ok)
	require.Equal(t, int64(2), n)

	ok, n, _ = c.Allow(ctx, key, 2, time.Minute)
	require.False(t, ok)
	require.Equal(t, int64(3), n)

	// Другой водитель — отдельный счётчик.
	ok, _, _ = c.Allow(ctx, DriverReportsKey("drv-2", now), 2, time.Minute)
	require.True(t, ok)
}
