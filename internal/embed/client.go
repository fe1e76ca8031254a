package embed

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Client turns text into fixed-dimension vectors.
type Client interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
}

// Config controls client construction.
type Config struct {
	Mode       string
	URL        string
	APIKey     string
	Model      string
	Dimensions int
	Timeout    time.Duration
}

// NewClient builds an embedding client for the configured mode. "auto"
// prefers the HTTP endpoint when a URL is set and falls back to the
// deterministic mock so the service can run offline.
func NewClient(cfg Config) (Client, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	if mode == "" {
		mode = "auto"
	}

	switch mode {
	case "auto":
		if strings.TrimSpace(cfg.URL) != "" {
			return NewHTTPClient(cfg), nil
		}
		return NewMockClient(cfg.Dimensions), nil
	case "http":
		if strings.TrimSpace(cfg.URL) == "" {
			return nil, fmt.Errorf("embed url is required for http mode")
		}
		return NewHTTPClient(cfg), nil
	case "mock":
		return NewMockClient(cfg.Dimensions), nil
	default:
		return nil, fmt.Errorf("unsupported embed mode %q", cfg.Mode)
	}
}
