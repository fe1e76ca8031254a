package retrieval

import (
	"context"
	"errors"
	"testing"

	"github.com/ent0n29/aegis/internal/embed"
	"github.com/ent0n29/aegis/internal/vectorstore"
)

type failingStore struct{}

func (failingStore) Upsert(context.Context, []vectorstore.Document) error { return nil }
func (failingStore) Search(context.Context, []float32, int, float64) ([]vectorstore.Fragment, error) {
	return nil, errors.New("connection refused")
}
func (failingStore) Close() error { return nil }

func TestRetrieveReturnsFragmentsAndQueryVector(t *testing.T) {
	embedder := embed.NewMockClient(64)
	store := vectorstore.NewInMemoryStore()
	ctx := context.Background()

	vec, err := embedder.EmbedQuery(ctx, "refund policy details")
	if err != nil {
		t.Fatalf("EmbedQuery error = %v", err)
	}
	if err := store.Upsert(ctx, []vectorstore.Document{
		{ID: "a", Content: "Refunds are issued within 30 days.", Embedding: vec},
	}); err != nil {
		t.Fatalf("Upsert error = %v", err)
	}

	r := New(embedder, store, 5, 0)
	res, err := r.Retrieve(ctx, "refund policy details")
	if err != nil {
		t.Fatalf("Retrieve error = %v", err)
	}
	if len(res.Fragments) != 1 {
		t.Fatalf("len(Fragments) = %d, want 1", len(res.Fragments))
	}
	if len(res.QueryVector) != 64 {
		t.Fatalf("len(QueryVector) = %d, want 64", len(res.QueryVector))
	}
}

func TestRetrieveEmptyIndexIsNotAnError(t *testing.T) {
	r := New(embed.NewMockClient(16), vectorstore.NewInMemoryStore(), 5, 0)

	res, err := r.Retrieve(context.Background(), "anything")
	if err != nil {
		t.Fatalf("Retrieve error = %v, want nil", err)
	}
	if len(res.Fragments) != 0 {
		t.Fatalf("len(Fragments) = %d, want 0", len(res.Fragments))
	}
}

func TestRetrieveSurfacesStoreFailure(t *testing.T) {
	r := New(embed.NewMockClient(16), failingStore{}, 5, 0)

	if _, err := r.Retrieve(context.Background(), "anything"); err == nil {
		t.Fatalf("Retrieve error = nil, want store failure surfaced")
	}
}
