package semcache

import (
	"context"
	"fmt"
	"testing"

	"github.com/alicebob/miniredis/v2"
)

func setupTestCache(t *testing.T, threshold float64, maxEntries int) *RedisCache {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run error = %v", err)
	}
	t.Cleanup(mr.Close)

	c, err := NewRedisCache(RedisConfig{
		Addr:       mr.Addr(),
		Key:        "test:semcache",
		MaxEntries: maxEntries,
		Threshold:  threshold,
	})
	if err != nil {
		t.Fatalf("NewRedisCache error = %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestRedisCacheHitWithinThreshold(t *testing.T) {
	c := setupTestCache(t, 0.9, 16)
	ctx := context.Background()

	if err := c.Store(ctx, Entry{
		Question:  "what is the refund policy",
		Response:  "Refunds are issued within 30 days.",
		Embedding: []float32{1, 0, 0},
	}); err != nil {
		t.Fatalf("Store error = %v", err)
	}

	hit, err := c.Lookup(ctx, []float32{1, 0, 0})
	if err != nil {
		t.Fatalf("Lookup error = %v", err)
	}
	if hit == nil {
		t.Fatalf("Lookup = nil, want hit for identical embedding")
	}
	if hit.Response != "Refunds are issued within 30 days." {
		t.Fatalf("hit.Response = %q, want stored response", hit.Response)
	}
}

func TestRedisCacheMissBeyondThreshold(t *testing.T) {
	c := setupTestCache(t, 0.9, 16)
	ctx := context.Background()

	_ = c.Store(ctx, Entry{Question: "q", Response: "r", Embedding: []float32{1, 0, 0}})

	hit, err := c.Lookup(ctx, []float32{0, 1, 0})
	if err != nil {
		t.Fatalf("Lookup error = %v", err)
	}
	if hit != nil {
		t.Fatalf("Lookup = %+v, want nil for orthogonal embedding", hit)
	}
}

func TestRedisCachePicksBestCandidate(t *testing.T) {
	c := setupTestCache(t, 0.5, 16)
	ctx := context.Background()

	_ = c.Store(ctx, Entry{Question: "close", Response: "close-answer", Embedding: []float32{0.9, 0.43, 0}})
	_ = c.Store(ctx, Entry{Question: "exact", Response: "exact-answer", Embedding: []float32{1, 0, 0}})

	hit, err := c.Lookup(ctx, []float32{1, 0, 0})
	if err != nil {
		t.Fatalf("Lookup error = %v", err)
	}
	if hit == nil || hit.Response != "exact-answer" {
		t.Fatalf("Lookup = %+v, want exact-answer", hit)
	}
}

func TestRedisCacheCapsEntries(t *testing.T) {
	c := setupTestCache(t, 0.99, 2)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		vec := []float32{float32(i), 1, 0}
		_ = c.Store(ctx, Entry{Question: fmt.Sprintf("q%d", i), Response: fmt.Sprintf("r%d", i), Embedding: vec})
	}

	// The oldest entries were trimmed away.
	hit, err := c.Lookup(ctx, []float32{0, 1, 0})
	if err != nil {
		t.Fatalf("Lookup error = %v", err)
	}
	if hit != nil {
		t.Fatalf("Lookup = %+v, want nil after oldest entry trimmed", hit)
	}
}
