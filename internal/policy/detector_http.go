package policy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// HTTPDetector calls a DLP-style deidentification endpoint. The endpoint
// accepts the text plus the info types to look for and returns the text with
// every detected span replaced by its info-type marker.
type HTTPDetector struct {
	url    string
	apiKey string
	client *http.Client
}

func NewHTTPDetector(url, apiKey string, timeout time.Duration) *HTTPDetector {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPDetector{
		url:    strings.TrimSpace(url),
		apiKey: apiKey,
		client: &http.Client{Timeout: timeout},
	}
}

type deidentifyRequest struct {
	Text      string   `json:"text"`
	InfoTypes []string `json:"info_types"`
}

type deidentifyResponse struct {
	Text string `json:"text"`
}

func (d *HTTPDetector) Redact(ctx context.Context, text string, infoTypes []string) (string, error) {
	payload, err := json.Marshal(deidentifyRequest{Text: text, InfoTypes: infoTypes})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if d.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+d.apiKey)
	}

	res, err := d.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("send request: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return "", fmt.Errorf("dlp http status %d: %s", res.StatusCode, string(body))
	}

	var out deidentifyResponse
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if out.Text == "" && text != "" {
		return "", errors.New("dlp returned empty redaction")
	}
	return out.Text, nil
}
