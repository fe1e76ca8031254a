package vectorstore

import "context"

// Document is one chunk of indexed knowledge.
type Document struct {
	ID        string            `json:"id"`
	Content   string            `json:"content"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Embedding []float32         `json:"-"`
}

// Fragment is one retrieval result, ordered by descending score.
type Fragment struct {
	Content  string            `json:"content"`
	Score    float64           `json:"score"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Store persists document embeddings and serves nearest-neighbor queries.
type Store interface {
	Upsert(ctx context.Context, docs []Document) error
	// Search returns up to k fragments with cosine similarity >= minScore,
	// best first. An empty result is not an error.
	Search(ctx context.Context, embedding []float32, k int, minScore float64) ([]Fragment, error)
	Close() error
}
