package embed

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
)

// MockClient produces deterministic unit-norm vectors from token hashing.
// Identical texts embed identically and texts sharing words land close
// together, which is enough for offline dev and tests.
type MockClient struct {
	dims int
}

func NewMockClient(dims int) *MockClient {
	if dims <= 0 {
		dims = 1536
	}
	return &MockClient{dims: dims}
}

func (c *MockClient) Dimensions() int { return c.dims }

func (c *MockClient) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	return c.embed(text), nil
}

func (c *MockClient) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		out[i] = c.embed(t)
	}
	return out, nil
}

func (c *MockClient) embed(text string) []float32 {
	vec := make([]float32, c.dims)
	for _, tok := range strings.Fields(strings.ToLower(text)) {
		tok = strings.Trim(tok, ".,!?;:\"'()")
		if tok == "" {
			continue
		}
		h := fnv.New32a()
		_, _ = h.Write([]byte(tok))
		sum := h.Sum32()
		idx := int(sum) % c.dims
		if idx < 0 {
			idx += c.dims
		}
		sign := float32(1)
		if sum&1 == 1 {
			sign = -1
		}
		vec[idx] += sign
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		vec[0] = 1
		return vec
	}
	scale := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= scale
	}
	return vec
}
