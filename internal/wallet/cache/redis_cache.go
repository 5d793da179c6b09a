// Package cache provides the Redis-backed balance cache for the wallet module
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/coinpulse/walletcore/internal/wallet/interfaces"
)

// ErrCacheMiss indicates a cache miss
var ErrCacheMiss = errors.New("cache miss")

// RedisBalanceCache implements interfaces.BalanceCache using Redis. Entries
// are written with a TTL and invalidated after every balance mutation, so the
// worst-case staleness is one TTL on a missed invalidation.
type RedisBalanceCache struct {
	client redis.Cmdable
	log    *zap.Logger
	prefix string
}

// NewRedisBalanceCache creates a new Redis-based balance cache
func NewRedisBalanceCache(client redis.Cmdable, log *zap.Logger, prefix string) *RedisBalanceCache {
	if prefix == "" {
		prefix = "walletcore"
	}
	return &RedisBalanceCache{
		client: client,
		log:    log,
		prefix: prefix,
	}
}

// GetBalances retrieves a cached balance response
func (c *RedisBalanceCache) GetBalances(ctx context.Context, userID uuid.UUID) (*interfaces.BalanceResponse, error) {
	key := c.balancesKey(userID)

	data, err := c.client.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrCacheMiss
		}
		c.log.Error("failed to get balances from cache", zap.Error(err), zap.String("key", key))
		return nil, err
	}

	var resp interfaces.BalanceResponse
	if err := json.Unmarshal([]byte(data), &resp); err != nil {
		c.log.Error("failed to unmarshal cached balances", zap.Error(err), zap.String("key", key))
		return nil, err
	}

	return &resp, nil
}

// SetBalances stores a balance response in cache
func (c *RedisBalanceCache) SetBalances(ctx context.Context, userID uuid.UUID, resp *interfaces.BalanceResponse, ttl time.Duration) error {
	key := c.balancesKey(userID)

	data, err := json.Marshal(resp)
	if err != nil {
		c.log.Error("failed to marshal balances for cache", zap.Error(err))
		return err
	}

	if err := c.client.Set(ctx, key, data, ttl).Err(); err != nil {
		c.log.Error("failed to set balances in cache", zap.Error(err), zap.String("key", key))
		return err
	}

	return nil
}

// InvalidateBalances removes the user's balances from cache
func (c *RedisBalanceCache) InvalidateBalances(ctx context.Context, userID uuid.UUID) error {
	key := c.balancesKey(userID)

	if err := c.client.Del(ctx, key).Err(); err != nil {
		c.log.Error("failed to invalidate balance cache", zap.Error(err), zap.String("key", key))
		return err
	}

	return nil
}

func (c *RedisBalanceCache) balancesKey(userID uuid.UUID) string {
	return fmt.Sprintf("%s:balances:%s", c.prefix, userID.String())
}
