package semcache

import (
	"context"
	"time"
)

// Entry is one cached question/response pair keyed by the question's
// embedding. Response is always the fully sanitized output; the pipeline
// stores entries only after output sanitization.
type Entry struct {
	Question  string    `json:"question"`
	Response  string    `json:"response"`
	Embedding []float32 `json:"embedding"`
	CreatedAt time.Time `json:"created_at"`
}

// Cache maps semantically similar questions to previously generated
// responses. Lookup returns nil when no stored embedding is within the
// similarity threshold.
type Cache interface {
	Lookup(ctx context.Context, embedding []float32) (*Entry, error)
	Store(ctx context.Context, entry Entry) error
	Close() error
}
