// Package cache provides a Redis-backed read cache for quest definitions.
// Definitions are configuration: rarely written, read on every tracked event.
// Balances and any debit decision never go through this cache.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/seandahissiho/murya-api-sub000/internal/config"
	"github.com/seandahissiho/murya-api-sub000/internal/models"
	"github.com/seandahissiho/murya-api-sub000/internal/repository"
	"github.com/seandahissiho/murya-api-sub000/pkg/logger"
)

const (
	keyActiveDefinitions = "quests:definitions:active"
	keyByEventPrefix     = "quests:definitions:event:"
	keyByCodePrefix      = "quests:definitions:code:"
)

// NewRedisClient builds the shared Redis client from configuration.
func NewRedisClient(cfg *config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return client, nil
}

// DefinitionCache serves quest definitions from Redis with the repository as
// the source of truth. Cache failures degrade to repository reads, never to
// request failures.
type DefinitionCache struct {
	client *redis.Client
	repo   *repository.QuestRepository
	ttl    time.Duration
	log    *logger.Logger
}

// NewDefinitionCache creates a new definition cache.
func NewDefinitionCache(client *redis.Client, repo *repository.QuestRepository, ttl time.Duration, log *logger.Logger) *DefinitionCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &DefinitionCache{client: client, repo: repo, ttl: ttl, log: log}
}

// ActiveByEventKey returns the active definitions listening for an event key.
func (c *DefinitionCache) ActiveByEventKey(ctx context.Context, eventKey string) ([]models.QuestDefinition, error) {
	key := keyByEventPrefix + eventKey
	var defs []models.QuestDefinition
	if c.lookup(ctx, key, &defs) {
		return defs, nil
	}

	defs, err := c.repo.GetActiveDefinitionsByEventKey(eventKey)
	if err != nil {
		return nil, err
	}
	c.store(ctx, key, defs)
	return defs, nil
}

// ByCode returns one definition by its unique code.
func (c *DefinitionCache) ByCode(ctx context.Context, code string) (*models.QuestDefinition, error) {
	key := keyByCodePrefix + code
	var def models.QuestDefinition
	if c.lookup(ctx, key, &def) {
		return &def, nil
	}

	loaded, err := c.repo.GetDefinitionByCode(code)
	if err != nil {
		return nil, err
	}
	c.store(ctx, key, loaded)
	return loaded, nil
}

// Active returns all active definitions.
func (c *DefinitionCache) Active(ctx context.Context) ([]models.QuestDefinition, error) {
	var defs []models.QuestDefinition
	if c.lookup(ctx, keyActiveDefinitions, &defs) {
		return defs, nil
	}

	defs, err := c.repo.GetActiveDefinitions()
	if err != nil {
		return nil, err
	}
	c.store(ctx, keyActiveDefinitions, defs)
	return defs, nil
}

// Invalidate drops every cached definition view. Called by the admin surface
// after a definition write.
func (c *DefinitionCache) Invalidate(ctx context.Context) error {
	if c.client == nil {
		return nil
	}
	iter := c.client.Scan(ctx, 0, "quests:definitions:*", 0).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("failed to scan definition keys: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("failed to invalidate definition cache: %w", err)
	}
	return nil
}

// lookup loads and decodes one cached value; any failure is a miss.
func (c *DefinitionCache) lookup(ctx context.Context, key string, dest interface{}) bool {
	if c.client == nil {
		return false
	}
	raw, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.log.Warn().Err(err).Str("key", key).Msg("Definition cache read failed")
		}
		return false
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		c.log.Warn().Err(err).Str("key", key).Msg("Definition cache entry malformed")
		return false
	}
	return true
}

// store writes one cached value best-effort.
func (c *DefinitionCache) store(ctx context.Context, key string, value interface{}) {
	if c.client == nil {
		return
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, key, raw, c.ttl).Err(); err != nil {
		c.log.Warn().Err(err).Str("key", key).Msg("Definition cache write failed")
	}
}
