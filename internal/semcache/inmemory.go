package semcache

import (
	"context"
	"sync"
	"time"

	"github.com/ent0n29/aegis/internal/vectorstore"
)

// InMemoryCache is a capped in-process cache for local/dev use.
type InMemoryCache struct {
	mu         sync.RWMutex
	entries    []Entry
	maxEntries int
	threshold  float64
}

func NewInMemoryCache(maxEntries int, threshold float64) *InMemoryCache {
	if maxEntries <= 0 {
		maxEntries = 256
	}
	return &InMemoryCache{maxEntries: maxEntries, threshold: threshold}
}

func (c *InMemoryCache) Lookup(_ context.Context, embedding []float32) (*Entry, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var (
		best      *Entry
		bestScore float64
	)
	for i := range c.entries {
		score := vectorstore.Cosine(embedding, c.entries[i].Embedding)
		if score < c.threshold {
			continue
		}
		if best == nil || score > bestScore {
			entry := c.entries[i]
			best = &entry
			bestScore = score
		}
	}
	return best, nil
}

func (c *InMemoryCache) Store(_ context.Context, entry Entry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = append([]Entry{entry}, c.entries...)
	if len(c.entries) > c.maxEntries {
		c.entries = c.entries[:c.maxEntries]
	}
	return nil
}

func (c *InMemoryCache) Close() error { return nil }
