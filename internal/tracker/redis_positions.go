package tracker

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisPositions mirrors cache writes into Redis GEO structures so sibling
// processes can read driver positions. The read path of this process never
// depends on it.
type RedisPositions struct {
	client *redis.Client
	key    string
}

func NewRedisPositions(addr, password, key string) *RedisPositions {
	c := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	return &RedisPositions{client: c, key: key}
}

func (r *RedisPositions) Mirror(ctx context.Context, p Position) error {
	if _, err := r.client.GeoAdd(ctx, r.key, &redis.GeoLocation{
		Longitude: p.Location.Lng,
		Latitude:  p.Location.Lat,
		Name:      p.DriverID,
	}).Result(); err != nil {
		return err
	}
	return r.client.HSet(ctx, metaKey(p.DriverID), map[string]interface{}{
		"trip_id": p.TripID,
		"lat":     strconv.FormatFloat(p.Location.Lat, 'f', 6, 64),
		"lng":     strconv.FormatFloat(p.Location.Lng, 'f', 6, 64),
		"updated": p.Timestamp.Format(time.RFC3339),
	}).Err()
}

func (r *RedisPositions) Close() error { return r.client.Close() }

func metaKey(driverID string) string { return "driver:pos:" + driverID }
