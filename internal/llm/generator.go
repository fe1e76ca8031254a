package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ent0n29/aegis/internal/prompt"
)

// GenerateRequest is the normalized request sent to the model endpoint.
type GenerateRequest struct {
	SessionKey string           `json:"session_key"`
	TurnID     string           `json:"turn_id"`
	Messages   []prompt.Message `json:"messages"`
}

// GenerateResponse is the final response after any streaming deltas.
type GenerateResponse struct {
	Text string `json:"text"`
}

// DeltaHandler receives streaming text fragments.
type DeltaHandler func(delta string) error

// Generator invokes the language model. A nil onDelta requests blocking
// mode; a non-nil onDelta receives fragments as they are produced and the
// full text is still returned at the end. A stream is not restartable; a
// new call must be issued to regenerate.
type Generator interface {
	Generate(ctx context.Context, req GenerateRequest, onDelta DeltaHandler) (GenerateResponse, error)
}

// Config controls generator construction.
type Config struct {
	Mode    string
	URL     string
	APIKey  string
	Model   string
	Timeout time.Duration
}

// NewGenerator builds a generator for the configured mode. "auto" prefers
// the HTTP endpoint when a URL is set and falls back to the mock.
func NewGenerator(cfg Config) (Generator, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	if mode == "" {
		mode = "auto"
	}

	switch mode {
	case "auto":
		if strings.TrimSpace(cfg.URL) != "" {
			return NewHTTPGenerator(cfg), nil
		}
		return NewMockGenerator(), nil
	case "http":
		if strings.TrimSpace(cfg.URL) == "" {
			return nil, fmt.Errorf("llm url is required for http mode")
		}
		return NewHTTPGenerator(cfg), nil
	case "mock":
		return NewMockGenerator(), nil
	default:
		return nil, fmt.Errorf("unsupported llm mode %q", cfg.Mode)
	}
}
