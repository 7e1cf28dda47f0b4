package cache

import (
	"context"
	"crypto/md5"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tokenscale/inference-gateway/src/config"
	"github.com/tokenscale/inference-gateway/src/models"
)

// GenerationCache memoizes completed non-streaming generations in Redis.
// Streaming requests never touch it.
type GenerationCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewGenerationCache(cfg *config.CacheConfig) (*GenerationCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return &GenerationCache{
		client: client,
		ttl:    cfg.TTL,
	}, nil
}

// Key derives the cache key for one generation. Everything that changes the
// output feeds the digest.
func Key(model, prompt string, maxTokens int, temperature float32) string {
	sum := md5.Sum([]byte(fmt.Sprintf("%s|%s|%d|%g", model, prompt, maxTokens, temperature)))
	return fmt.Sprintf("generation:%x", sum)
}

// Get returns (nil, nil) on a miss so callers can fall through to the queue.
func (c *GenerationCache) Get(ctx context.Context, key string) (*models.CachedGeneration, error) {
	val, err := c.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var gen models.CachedGeneration
	if err := json.Unmarshal([]byte(val), &gen); err != nil {
		return nil, err
	}

	return &gen, nil
}

func (c *GenerationCache) Set(ctx context.Context, key string, gen *models.CachedGeneration) error {
	data, err := json.Marshal(gen)
	if err != nil {
		return err
	}

	return c.client.Set(ctx, key, data, c.ttl).Err()
}

func (c *GenerationCache) Delete(ctx context.Context, key string) error {
	return c.client.Del(ctx, key).Err()
}

func (c *GenerationCache) Close() error {
	return c.client.Close()
}
