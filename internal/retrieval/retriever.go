package retrieval

import (
	"context"
	"fmt"

	"github.com/ent0n29/aegis/internal/embed"
	"github.com/ent0n29/aegis/internal/vectorstore"
)

// Result carries the retrieved fragments together with the query embedding
// so callers can reuse the vector for semantic cache lookups without a
// second embedding call.
type Result struct {
	Fragments   []vectorstore.Fragment
	QueryVector []float32
}

// Retriever answers "which indexed chunks are relevant to this question".
type Retriever struct {
	embedder embed.Client
	store    vectorstore.Store
	topK     int
	minScore float64
}

func New(embedder embed.Client, store vectorstore.Store, topK int, minScore float64) *Retriever {
	if topK <= 0 {
		topK = 5
	}
	return &Retriever{embedder: embedder, store: store, topK: topK, minScore: minScore}
}

// Retrieve embeds the question and runs a top-k similarity search. An empty
// index yields an empty fragment list and no error; embedding or store
// failures propagate to the caller.
func (r *Retriever) Retrieve(ctx context.Context, question string) (Result, error) {
	vec, err := r.embedder.EmbedQuery(ctx, question)
	if err != nil {
		return Result{}, fmt.Errorf("embed question: %w", err)
	}

	fragments, err := r.store.Search(ctx, vec, r.topK, r.minScore)
	if err != nil {
		return Result{}, fmt.Errorf("search vector store: %w", err)
	}

	return Result{Fragments: fragments, QueryVector: vec}, nil
}
