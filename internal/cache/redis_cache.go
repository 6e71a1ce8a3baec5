package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	Address  string
	Password string
	DB       int
	Prefix   string
	TTL      time.Duration
}

type redisPresenceCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisPresenceCache connects to Redis and returns a PresenceCache.
func NewRedisPresenceCache(cfg RedisConfig) (PresenceCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return newRedisPresenceCache(client, cfg.Prefix, cfg.TTL), nil
}

func newRedisPresenceCache(client *redis.Client, prefix string, ttl time.Duration) *redisPresenceCache {
	if prefix == "" {
		prefix = "dm"
	}
	return &redisPresenceCache{client: client, prefix: prefix, ttl: ttl}
}

// Key pattern:
// {prefix}:presence:{user_id}  HASH
//   - status: "online" | "offline"
//   - last_seen: unix millis
func (c *redisPresenceCache) keyFor(userID string) string {
	return fmt.Sprintf("%s:presence:%s", c.prefix, userID)
}

func (c *redisPresenceCache) Record(ctx context.Context, userID, status string, at time.Time) error {
	key := c.keyFor(userID)

	pipe := c.client.TxPipeline()
	pipe.HSet(ctx, key, map[string]any{
		"status":    status,
		"last_seen": at.UnixMilli(),
	})
	if c.ttl > 0 {
		pipe.Expire(ctx, key, c.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to record presence: %w", err)
	}
	return nil
}

func (c *redisPresenceCache) Snapshots(ctx context.Context, userIDs []string) (map[string]Snapshot, error) {
	out := make(map[string]Snapshot, len(userIDs))
	if len(userIDs) == 0 {
		return out, nil
	}

	pipe := c.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(userIDs))
	for i, id := range userIDs {
		cmds[i] = pipe.HGetAll(ctx, c.keyFor(id))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("failed to read presence: %w", err)
	}

	for i, cmd := range cmds {
		fields, err := cmd.Result()
		if err != nil || len(fields) == 0 {
			continue
		}
		millis, err := strconv.ParseInt(fields["last_seen"], 10, 64)
		if err != nil {
			continue
		}
		out[userIDs[i]] = Snapshot{
			Status:   fields["status"],
			LastSeen: time.UnixMilli(millis).UTC(),
		}
	}
	return out, nil
}

func (c *redisPresenceCache) Close() error {
	return c.client.Close()
}
