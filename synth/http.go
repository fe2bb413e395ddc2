package synth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
)

const systemPrompt = "You write short, natural live-chat messages for a book club audience. You always answer with JSON only."

// HTTPBackend talks to an OpenAI-compatible chat completions endpoint.
type HTTPBackend struct {
	// Endpoint is the API base URL, e.g. https://api.openai.com/v1.
	Endpoint   string
	APIKey     string
	Model      string
	HTTPClient *http.Client
}

func (b *HTTPBackend) http() *http.Client {
	if b.HTTPClient != nil {
		return b.HTTPClient
	}
	return http.DefaultClient
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model,omitempty"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Complete sends prompt and returns the first choice's content. A body that is not a
// completions envelope is returned as-is so the parse policy can look at it.
func (b *HTTPBackend) Complete(ctx context.Context, prompt string) (string, error) {
	if b.Endpoint == "" {
		return "", fmt.Errorf("synth endpoint not configured")
	}
	payload, err := json.Marshal(chatRequest{
		Model: b.Model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: prompt},
		},
		Temperature: 0.9,
	})
	if err != nil {
		return "", err
	}
	url := strings.TrimRight(b.Endpoint, "/") + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if b.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+b.APIKey)
	}
	resp, err := b.http().Do(req)
	if err != nil {
		return "", fmt.Errorf("synth request: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("synth read body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("%w: status %d", ErrGenerationFailed, resp.StatusCode)
	}
	var env chatResponse
	if err := json.Unmarshal(raw, &env); err == nil && len(env.Choices) > 0 {
		return env.Choices[0].Message.Content, nil
	}
	return string(raw), nil
}
