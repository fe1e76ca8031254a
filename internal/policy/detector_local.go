package policy

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// LocalDetector applies the local patterns as a standalone detector. Used in
// dev and as the fallback when no remote detection endpoint is configured.
// It catches less than a real detection service.
type LocalDetector struct{}

func NewLocalDetector() *LocalDetector { return &LocalDetector{} }

func (d *LocalDetector) Redact(ctx context.Context, text string, _ []string) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}
	out, _ := RedactLocal(text)
	return out, nil
}

// DetectorConfig controls detector construction.
type DetectorConfig struct {
	Mode    string
	URL     string
	APIKey  string
	Timeout time.Duration
}

// NewDetector builds a detector for the configured mode. "auto" prefers the
// remote endpoint when a URL is set and falls back to the local patterns.
func NewDetector(cfg DetectorConfig) (Detector, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	if mode == "" {
		mode = "auto"
	}

	switch mode {
	case "auto":
		if strings.TrimSpace(cfg.URL) != "" {
			return NewHTTPDetector(cfg.URL, cfg.APIKey, cfg.Timeout), nil
		}
		return NewLocalDetector(), nil
	case "http":
		if strings.TrimSpace(cfg.URL) == "" {
			return nil, fmt.Errorf("dlp url is required for http mode")
		}
		return NewHTTPDetector(cfg.URL, cfg.APIKey, cfg.Timeout), nil
	case "local":
		return NewLocalDetector(), nil
	default:
		return nil, fmt.Errorf("unsupported detector mode %q", cfg.Mode)
	}
}
