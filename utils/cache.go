package utils

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/go-redis/redis/v8"

	"mation/config"
)

// Cache is an explicitly injected read cache for dashboard list queries.
// Keys are namespaced per user and invalidated on every automation write;
// when Redis is disabled every lookup is a miss.
type Cache struct {
	rdb    *redis.Client
	ttl    time.Duration
	logger *log.Logger
}

func NewCache(cfg config.RedisConfig, logger *log.Logger) *Cache {
	if !cfg.Enabled {
		return &Cache{logger: logger}
	}
	return &Cache{
		rdb: redis.NewClient(&redis.Options{
			Addr:     cfg.Address,
			Password: cfg.Password,
			DB:       cfg.DB,
		}),
		ttl:    cfg.TTL,
		logger: logger,
	}
}

func automationsKey(userID uint) string {
	return fmt.Sprintf("automations:%d", userID)
}

// GetAutomations returns the cached automation-list payload for the user.
func (c *Cache) GetAutomations(ctx context.Context, userID uint) ([]byte, bool) {
	if c.rdb == nil {
		return nil, false
	}
	data, err := c.rdb.Get(ctx, automationsKey(userID)).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.logger.Printf("cache read failed for user %d: %v", userID, err)
		}
		return nil, false
	}
	return data, true
}

// SetAutomations stores the automation-list payload for the user.
func (c *Cache) SetAutomations(ctx context.Context, userID uint, payload []byte) {
	if c.rdb == nil {
		return
	}
	if err := c.rdb.Set(ctx, automationsKey(userID), payload, c.ttl).Err(); err != nil {
		c.logger.Printf("cache write failed for user %d: %v", userID, err)
	}
}

// InvalidateAutomations drops the user's cached list. Called after every
// automation write so reads never serve stale builder state.
func (c *Cache) InvalidateAutomations(ctx context.Context, userID uint) {
	if c.rdb == nil {
		return
	}
	if err := c.rdb.Del(ctx, automationsKey(userID)).Err(); err != nil {
		c.logger.Printf("cache invalidation failed for user %d: %v", userID, err)
	}
}
