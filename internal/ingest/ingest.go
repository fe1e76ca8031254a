package ingest

import (
	"context"
	"fmt"
	"log"
	"strconv"

	"github.com/ent0n29/aegis/internal/embed"
	"github.com/ent0n29/aegis/internal/policy"
	"github.com/ent0n29/aegis/internal/vectorstore"
)

const embedBatchSize = 64

// Report summarizes one ingestion run.
type Report struct {
	Files          int `json:"files"`
	Chunks         int `json:"chunks"`
	Indexed        int `json:"indexed"`
	RedactedChunks int `json:"redacted_chunks"`
	SkippedSuspect int `json:"skipped_suspect"`
}

// Ingestor loads source documents, chunks them, and indexes the embeddings.
// Chunks are pattern-redacted before indexing so PII in source documents
// never reaches the vector store, and chunks that look like planted model
// instructions are skipped rather than indexed.
type Ingestor struct {
	chunker  *Chunker
	embedder embed.Client
	store    vectorstore.Store
}

func NewIngestor(chunker *Chunker, embedder embed.Client, store vectorstore.Store) *Ingestor {
	return &Ingestor{chunker: chunker, embedder: embedder, store: store}
}

// Run ingests every supported file under dir.
func (in *Ingestor) Run(ctx context.Context, dir string) (Report, error) {
	files, err := LoadDir(dir)
	if err != nil {
		return Report{}, err
	}

	var report Report
	report.Files = len(files)

	var pending []vectorstore.Document
	for _, file := range files {
		for i, chunk := range in.chunker.Split(file.Content) {
			report.Chunks++

			if policy.LooksLikeInjection(chunk) {
				report.SkippedSuspect++
				log.Printf("ingest: skipping suspect chunk %s#%d", file.Path, i)
				continue
			}

			content, changed := policy.RedactLocal(chunk)
			if changed {
				report.RedactedChunks++
			}

			pending = append(pending, vectorstore.Document{
				ID:      file.Path + "#" + strconv.Itoa(i),
				Content: content,
				Metadata: map[string]string{
					"source": file.Path,
					"chunk":  strconv.Itoa(i),
				},
			})
			if len(pending) >= embedBatchSize {
				if err := in.flush(ctx, pending); err != nil {
					return report, err
				}
				report.Indexed += len(pending)
				pending = pending[:0]
			}
		}
	}
	if len(pending) > 0 {
		if err := in.flush(ctx, pending); err != nil {
			return report, err
		}
		report.Indexed += len(pending)
	}

	return report, nil
}

func (in *Ingestor) flush(ctx context.Context, docs []vectorstore.Document) error {
	texts := make([]string, len(docs))
	for i, doc := range docs {
		texts[i] = doc.Content
	}

	vectors, err := in.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return fmt.Errorf("embed batch: %w", err)
	}
	if len(vectors) != len(docs) {
		return fmt.Errorf("embedding count mismatch: got %d for %d documents", len(vectors), len(docs))
	}
	for i := range docs {
		docs[i].Embedding = vectors[i]
	}

	if err := in.store.Upsert(ctx, docs); err != nil {
		return fmt.Errorf("upsert batch: %w", err)
	}
	return nil
}
