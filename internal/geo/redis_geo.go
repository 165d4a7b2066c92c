package geo

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/driver-assignment/internal/models"
)

// RedisIndex implements LocationIndex on Redis GEO commands so the HTTP
// ingest path and the Kafka consumer share one view of driver positions.
type RedisIndex struct {
	client *redis.Client
	key    string
}

func NewRedisIndex(addr, password, key string) *RedisIndex {
	c := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	return &RedisIndex{client: c, key: key}
}

func NewRedisIndexWithClient(client *redis.Client, key string) *RedisIndex {
	return &RedisIndex{client: client, key: key}
}

func (r *RedisIndex) Upsert(ctx context.Context, driverID string, loc models.Coord) error {
	if err := r.client.GeoAdd(ctx, r.key, &redis.GeoLocation{
		Name:      driverID,
		Longitude: loc.Lon,
		Latitude:  loc.Lat,
	}).Err(); err != nil {
		return err
	}
	return r.client.HSet(ctx, pingKey(driverID), map[string]interface{}{
		"updated": time.Now().UTC().Format(time.RFC3339),
	}).Err()
}

func (r *RedisIndex) Get(ctx context.Context, driverID string) (models.Coord, bool, error) {
	pos, err := r.client.GeoPos(ctx, r.key, driverID).Result()
	if err != nil {
		return models.Coord{}, false, err
	}
	if len(pos) == 0 || pos[0] == nil {
		return models.Coord{}, false, nil
	}
	return models.Coord{Lat: pos[0].Latitude, Lon: pos[0].Longitude}, true, nil
}

func (r *RedisIndex) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func pingKey(id string) string { return "driver:ping:" + id }
