package llm

import (
	"context"
	"strings"

	"github.com/ent0n29/aegis/internal/prompt"
)

// MockGenerator produces a deterministic reply built from the question.
// It is used in tests and when no model endpoint is configured.
type MockGenerator struct{}

// NewMockGenerator builds a mock generator.
func NewMockGenerator() *MockGenerator {
	return &MockGenerator{}
}

// Generate echoes the last user message. With a non-nil onDelta the reply
// is streamed word by word before the aggregate is returned.
func (g *MockGenerator) Generate(ctx context.Context, req GenerateRequest, onDelta DeltaHandler) (GenerateResponse, error) {
	question := lastUserContent(req.Messages)
	text := "You asked: " + question

	if onDelta != nil {
		words := strings.Fields(text)
		for i, word := range words {
			if err := ctx.Err(); err != nil {
				return GenerateResponse{}, err
			}
			delta := word
			if i < len(words)-1 {
				delta += " "
			}
			if err := onDelta(delta); err != nil {
				return GenerateResponse{}, err
			}
		}
	}
	return GenerateResponse{Text: text}, nil
}

func lastUserContent(messages []prompt.Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == prompt.RoleUser {
			return strings.TrimPrefix(messages[i].Content, "User question: ")
		}
	}
	return ""
}
