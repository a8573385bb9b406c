// internal/common/database/redis.go
package database

import (
	"context"
	"fmt"
	"strings"
	"time"

	"package-orchestrator/internal/common/config"

	"github.com/redis/go-redis/v9"
)

// requiredEvictionPolicy is the only maxmemory policy under which Redis never
// drops queued jobs or dedup keys.
const requiredEvictionPolicy = "noeviction"

// RedisClient holds the connection the job queue runs on.
type RedisClient struct {
	Client *redis.Client
}

func NewRedis(cfg config.RedisConfig) (*RedisClient, error) {
	if cfg.Address == "" {
		return nil, fmt.Errorf("redis address is empty")
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		ClientName:   "package-orchestrator",
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     20,
		MinIdleConns: 2,
	})
	return &RedisClient{Client: rdb}, nil
}

func (c *RedisClient) Ping(ctx context.Context) error {
	if err := c.Client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

// EvictionPolicy reports the server's maxmemory-policy and whether it is safe
// for the queue. Managed services that forbid CONFIG report "" and true.
func (c *RedisClient) EvictionPolicy(ctx context.Context) (string, bool, error) {
	return evictionPolicy(ctx, c.Client)
}

func evictionPolicy(ctx context.Context, rdb redis.Cmdable) (string, bool, error) {
	vals, err := rdb.ConfigGet(ctx, "maxmemory-policy").Result()
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "unknown command") {
			return "", true, nil
		}
		return "", false, fmt.Errorf("read maxmemory-policy: %w", err)
	}
	policy := vals["maxmemory-policy"]
	return policy, policy == "" || policy == requiredEvictionPolicy, nil
}

func (c *RedisClient) Close() error {
	if c.Client != nil {
		return c.Client.Close()
	}
	return nil
}
