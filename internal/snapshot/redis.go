package snapshot

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/task-dispatch/internal/models"
)

// RedisSnapshotter mirrors rider runtime state into Redis (GEOADD for
// position, HSET for presence metadata). Writes are best-effort and
// never read back by the matching path; the actor stays authoritative.
type RedisSnapshotter struct {
	client *redis.Client
	key    string
	logger *slog.Logger
}

func NewRedisSnapshotter(addr, password, geoKey string, logger *slog.Logger) *RedisSnapshotter {
	c := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	return &RedisSnapshotter{client: c, key: geoKey, logger: logger}
}

func (s *RedisSnapshotter) SnapshotRider(id string, presence models.Presence, loc *models.Location) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if loc != nil {
		if err := s.client.GeoAdd(ctx, s.key, &redis.GeoLocation{
			Longitude: loc.Longitude,
			Latitude:  loc.Latitude,
			Name:      id,
		}).Err(); err != nil {
			s.logger.Warn("rider geo snapshot failed", "rider_id", id, "error", err)
		}
	}
	fields := map[string]interface{}{
		"presence": string(presence),
		"updated":  time.Now().Format(time.RFC3339),
	}
	if loc != nil {
		fields["location_ts"] = strconv.FormatInt(loc.Timestamp, 10)
	}
	if err := s.client.HSet(ctx, metaKey(id), fields).Err(); err != nil {
		s.logger.Warn("rider meta snapshot failed", "rider_id", id, "error", err)
	}
}

func (s *RedisSnapshotter) Close() error { return s.client.Close() }

func metaKey(id string) string { return "rider:meta:" + id }
