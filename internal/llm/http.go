package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ent0n29/aegis/internal/prompt"
	"github.com/ent0n29/aegis/internal/reliability"
)

// HTTPGenerator talks to an OpenAI-compatible chat completions endpoint.
type HTTPGenerator struct {
	baseURL string
	apiKey  string
	model   string
	client  *http.Client
}

// NewHTTPGenerator builds an HTTP generator from config.
func NewHTTPGenerator(cfg Config) *HTTPGenerator {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = "gpt-4o-mini"
	}
	return &HTTPGenerator{
		baseURL: strings.TrimRight(strings.TrimSpace(cfg.URL), "/"),
		apiKey:  strings.TrimSpace(cfg.APIKey),
		model:   model,
		client:  &http.Client{Timeout: timeout},
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

type chatStreamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

// Generate sends the conversation to the completions endpoint. With a
// non-nil onDelta the request is made in streaming mode and each SSE
// delta is forwarded before the aggregate is returned.
func (g *HTTPGenerator) Generate(ctx context.Context, req GenerateRequest, onDelta DeltaHandler) (GenerateResponse, error) {
	payload := chatRequest{
		Model:    g.model,
		Messages: toChatMessages(req.Messages),
		Stream:   onDelta != nil,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return GenerateResponse{}, fmt.Errorf("marshal chat request: %w", err)
	}

	if onDelta != nil {
		resp, err := g.post(ctx, body)
		if err != nil {
			return GenerateResponse{}, err
		}
		defer resp.Body.Close()
		return g.consumeStream(resp.Body, onDelta)
	}

	// Blocking calls can be safely retried on throttling or transient
	// upstream failure; a stream cannot once deltas have been delivered.
	var out GenerateResponse
	err = reliability.Do(ctx, 2, 500*time.Millisecond, 2*time.Second, func() error {
		resp, err := g.post(ctx, body)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		out, err = g.consumeBlocking(resp.Body)
		return err
	})
	return out, err
}

func (g *HTTPGenerator) post(ctx context.Context, body []byte) (*http.Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build chat request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if g.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+g.apiKey)
	}

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("chat completions request: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close()
		return nil, &reliability.StatusError{Provider: "llm", Code: resp.StatusCode, Detail: strings.TrimSpace(string(snippet))}
	}
	return resp, nil
}

func (g *HTTPGenerator) consumeBlocking(body io.Reader) (GenerateResponse, error) {
	var decoded chatResponse
	if err := json.NewDecoder(body).Decode(&decoded); err != nil {
		return GenerateResponse{}, fmt.Errorf("decode chat response: %w", err)
	}
	if len(decoded.Choices) == 0 {
		return GenerateResponse{}, fmt.Errorf("chat response contained no choices")
	}
	return GenerateResponse{Text: decoded.Choices[0].Message.Content}, nil
}

func (g *HTTPGenerator) consumeStream(body io.Reader, onDelta DeltaHandler) (GenerateResponse, error) {
	var full strings.Builder
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "" {
			continue
		}
		if data == "[DONE]" {
			break
		}

		var chunk chatStreamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			// Skip malformed keepalive frames.
			continue
		}
		for _, choice := range chunk.Choices {
			if choice.Delta.Content == "" {
				continue
			}
			full.WriteString(choice.Delta.Content)
			if err := onDelta(choice.Delta.Content); err != nil {
				return GenerateResponse{}, fmt.Errorf("deliver delta: %w", err)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return GenerateResponse{}, fmt.Errorf("read chat stream: %w", err)
	}
	return GenerateResponse{Text: full.String()}, nil
}

func toChatMessages(messages []prompt.Message) []chatMessage {
	out := make([]chatMessage, 0, len(messages))
	for _, m := range messages {
		out = append(out, chatMessage{Role: m.Role, Content: m.Content})
	}
	return out
}
