package vectorstore

import (
	"context"
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// InMemoryStore is a linear-scan store for local/dev use and tests.
type InMemoryStore struct {
	mu   sync.RWMutex
	docs map[string]Document
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{docs: make(map[string]Document)}
}

func (s *InMemoryStore) Upsert(_ context.Context, docs []Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, doc := range docs {
		if doc.ID == "" {
			doc.ID = uuid.NewString()
		}
		s.docs[doc.ID] = doc
	}
	return nil
}

func (s *InMemoryStore) Search(_ context.Context, embedding []float32, k int, minScore float64) ([]Fragment, error) {
	if k <= 0 {
		k = 5
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Fragment, 0, len(s.docs))
	for _, doc := range s.docs {
		score := Cosine(embedding, doc.Embedding)
		if score < minScore {
			continue
		}
		out = append(out, Fragment{Content: doc.Content, Score: score, Metadata: doc.Metadata})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		// Deterministic ordering for equal scores.
		return strings.Compare(out[i].Content, out[j].Content) < 0
	})
	if len(out) > k {
		out = out[:k]
	}
	return out, nil
}

func (s *InMemoryStore) Close() error { return nil }

// Cosine computes cosine similarity between two vectors. Mismatched or empty
// vectors score zero.
func Cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
