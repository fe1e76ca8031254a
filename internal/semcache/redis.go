package semcache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ent0n29/aegis/internal/vectorstore"
)

// RedisCache keeps recent entries as JSON in a capped Redis list and scans
// candidate embeddings client-side. Linear scan is fine at the configured
// cap; entries beyond it age out via LTRIM.
type RedisCache struct {
	client     *redis.Client
	key        string
	maxEntries int
	threshold  float64
}

// RedisConfig controls cache construction.
type RedisConfig struct {
	Addr       string
	Password   string
	DB         int
	Key        string
	MaxEntries int
	Threshold  float64
}

func NewRedisCache(cfg RedisConfig) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}

	key := cfg.Key
	if key == "" {
		key = "aegis:semcache"
	}
	maxEntries := cfg.MaxEntries
	if maxEntries <= 0 {
		maxEntries = 256
	}

	return &RedisCache{
		client:     client,
		key:        key,
		maxEntries: maxEntries,
		threshold:  cfg.Threshold,
	}, nil
}

func (c *RedisCache) Lookup(ctx context.Context, embedding []float32) (*Entry, error) {
	raw, err := c.client.LRange(ctx, c.key, 0, int64(c.maxEntries-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("cache lrange: %w", err)
	}

	var (
		best      *Entry
		bestScore float64
	)
	for _, item := range raw {
		var e Entry
		if err := json.Unmarshal([]byte(item), &e); err != nil {
			// Skip corrupt entries rather than failing the lookup.
			continue
		}
		score := vectorstore.Cosine(embedding, e.Embedding)
		if score < c.threshold {
			continue
		}
		if best == nil || score > bestScore {
			entry := e
			best = &entry
			bestScore = score
		}
	}
	return best, nil
}

func (c *RedisCache) Store(ctx context.Context, entry Entry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal cache entry: %w", err)
	}

	pipe := c.client.TxPipeline()
	pipe.LPush(ctx, c.key, payload)
	pipe.LTrim(ctx, c.key, 0, int64(c.maxEntries-1))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("cache store: %w", err)
	}
	return nil
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}
