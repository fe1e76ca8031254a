package main

import (
	"context"
	"flag"
	"log"
	"time"

	"github.com/ent0n29/aegis/internal/app"
	"github.com/ent0n29/aegis/internal/config"
)

func main() {
	var (
		dir     = flag.String("dir", "./knowledge", "directory of .txt/.md documents to index")
		size    = flag.Int("chunk-size", 1000, "maximum chunk size in characters")
		overlap = flag.Int("chunk-overlap", 200, "overlap between consecutive chunks in characters")
		timeout = flag.Duration("timeout", 30*time.Minute, "overall ingestion deadline")
	)
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	ingestor, closeStore, err := app.BuildIngestor(ctx, cfg, *size, *overlap)
	if err != nil {
		log.Fatalf("ingestor init failed: %v", err)
	}
	defer func() {
		if err := closeStore(); err != nil {
			log.Printf("close vector store: %v", err)
		}
	}()

	started := time.Now()
	report, err := ingestor.Run(ctx, *dir)
	if err != nil {
		log.Fatalf("ingestion failed: %v", err)
	}

	log.Printf("ingestion complete in %s: files=%d chunks=%d indexed=%d redacted=%d skipped_suspect=%d",
		time.Since(started).Round(time.Millisecond),
		report.Files, report.Chunks, report.Indexed, report.RedactedChunks, report.SkippedSuspect)
}
