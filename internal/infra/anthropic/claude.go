package anthropic

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"tomme-assistant/internal/infra"
)

const (
	defaultBaseURL = "https://api.anthropic.com/v1"
	defaultModel   = "claude-sonnet-4-20250514"
	apiVersion     = "2023-06-01"

	// The interpreter always answers with a JSON object; starting the assistant turn
	// with its opening brace keeps the model from wrapping it in prose.
	jsonPrefill = "{"
)

type Config struct {
	APIKey    string
	Model     string
	BaseURL   string
	Attempts  int
	MaxTokens int
}

// ClaudeClient asks the Messages API to interpret an utterance.
type ClaudeClient struct {
	cfg        Config
	header     http.Header
	httpClient *http.Client
	backoff    infra.Backoff
}

func NewClaudeClient(cfg Config) *ClaudeClient {
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 256
	}

	header := http.Header{}
	header.Set("x-api-key", cfg.APIKey)
	header.Set("anthropic-version", apiVersion)

	return &ClaudeClient{
		cfg:        cfg,
		header:     header,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		backoff:    infra.DefaultBackoff().WithAttempts(cfg.Attempts),
	}
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type request struct {
	Model       string    `json:"model"`
	MaxTokens   int       `json:"max_tokens"`
	Temperature float64   `json:"temperature"`
	System      string    `json:"system,omitempty"`
	Messages    []message `json:"messages"`
}

type response struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
}

// Complete returns the model's JSON answer to prompt, including the prefilled brace.
func (c *ClaudeClient) Complete(ctx context.Context, system, prompt string) (string, error) {
	req := request{
		Model:       c.cfg.Model,
		MaxTokens:   c.cfg.MaxTokens,
		Temperature: 0.3,
		System:      system,
		Messages: []message{
			{Role: "user", Content: prompt},
			{Role: "assistant", Content: jsonPrefill},
		},
	}

	var resp response
	err := infra.Do(ctx, c.backoff, func(ctx context.Context) error {
		return infra.PostJSON(ctx, c.httpClient, "claude", c.cfg.BaseURL+"/messages", c.header, req, &resp)
	})
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	for _, block := range resp.Content {
		if block.Type == "" || block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	text := strings.TrimSpace(sb.String())
	if text == "" {
		return "", errors.New("empty response from claude")
	}
	if !strings.HasPrefix(text, jsonPrefill) {
		text = jsonPrefill + text
	}
	return text, nil
}
