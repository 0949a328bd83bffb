package rediscache

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// Client wraps the one redis connection the hub needs: a byte cache for the
// "последняя точка по доставке" lookups and a counter-based rate limiter for
// driver reports.
type Client struct {
	c *redis.Client
}

func New(addr string) *Client {
	return &Client{
		c: redis.NewClient(&redis.Options{
			Addr: addr,
		}),
	}
}

func (r *Client) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := r.c.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrap(err, "redis get")
	}
	return val, true, nil
}

func (r *Client) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := r.c.Set(ctx, key, value, ttl).Err(); err != nil {
		return errors.Wrap(err, "redis set")
	}
	return nil
}

// Allow делает INCR по ключу и ставит TTL при первом создании ключа.
// Возвращает (allowed, currentCount).
func (r *Client) Allow(ctx context.Context, key string, limit int64, window time.Duration) (bool, int64, error) {
	pipe := r.c.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, window)
	_, err := pipe.Exec(ctx)
	if err != nil {
		return false, 0, errors.Wrap(err, "redis ratelimit")
	}
	n := incr.Val()
	return n <= limit, n, nil
}

// DeliveryLocationKey is the cache key for the latest known location of one
// delivery.
func DeliveryLocationKey(deliveryID string) string {
	return fmt.Sprintf("delivery:%s:location", deliveryID)
}

// DriverReportsKey bucketizes driver location reports per minute.
func DriverReportsKey(driverID string, now time.Time) string {
	return fmt.Sprintf("rl:driver:%s:%s", driverID, now.UTC().Format("200601021504"))
}
