package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/mapsmith/backend/pkg/circuitbreaker"
	"github.com/mapsmith/backend/pkg/logger"
)

const keyPrefix = "fieldstats:"

// Client caches computed custom field statistics. Only derived aggregates
// live here; correction lookups always go to storage so learned boosts stay
// fresh. A circuit breaker guards every call so a down Redis degrades to
// direct reads instead of adding a timeout to each stats request.
type Client struct {
	client  *redis.Client
	ttl     time.Duration
	breaker *circuitbreaker.CircuitBreaker
}

func NewClient(host string, port int, password string, db int, ttl time.Duration) (*Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", host, port),
		Password: password,
		DB:       db,
	})

	ctx := context.Background()
	if _, err := client.Ping(ctx).Result(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info("Redis client initialized",
		zap.String("addr", fmt.Sprintf("%s:%d", host, port)),
		zap.Duration("stats_ttl", ttl),
	)

	breaker := circuitbreaker.NewCircuitBreaker("redis-stats", circuitbreaker.Config{
		Timeout: 30 * time.Second,
		Logger:  logger.Log,
	})

	return &Client{client: client, ttl: ttl, breaker: breaker}, nil
}

func (c *Client) Close() error {
	return c.client.Close()
}

func (c *Client) Set(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal stats: %w", err)
	}

	err = c.breaker.Execute(ctx, func() error {
		return c.client.Set(ctx, keyPrefix+key, data, c.ttl).Err()
	})
	if err != nil {
		return fmt.Errorf("failed to set stats cache: %w", err)
	}

	logger.Debug("Stats cached", zap.String("key", key), zap.Duration("ttl", c.ttl))
	return nil
}

func (c *Client) Get(ctx context.Context, key string, v any) (bool, error) {
	var data []byte
	found := true
	err := c.breaker.Execute(ctx, func() error {
		var err error
		data, err = c.client.Get(ctx, keyPrefix+key).Bytes()
		if err == redis.Nil {
			// A miss is a healthy response, not a failure.
			found = false
			return nil
		}
		return err
	})
	if errors.Is(err, circuitbreaker.ErrCircuitOpen) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to get stats cache: %w", err)
	}
	if !found {
		return false, nil
	}

	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("failed to unmarshal stats: %w", err)
	}

	logger.Debug("Stats cache hit", zap.String("key", key))
	return true, nil
}

// InvalidateClient drops every cached aggregate for one client. Called after
// field discovery and deletes so dashboards never serve a stale catalog.
func (c *Client) InvalidateClient(ctx context.Context, clientID string) error {
	err := c.breaker.Execute(ctx, func() error {
		iter := c.client.Scan(ctx, 0, keyPrefix+"*:"+clientID, 0).Iterator()
		for iter.Next(ctx) {
			if err := c.client.Del(ctx, iter.Val()).Err(); err != nil {
				logger.Warn("Failed to delete cache key", zap.String("key", iter.Val()), zap.Error(err))
			}
		}
		return iter.Err()
	})
	if err != nil {
		return fmt.Errorf("failed to iterate cache keys: %w", err)
	}

	logger.Debug("Stats cache invalidated", zap.String("client_id", clientID))
	return nil
}
