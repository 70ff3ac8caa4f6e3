package gemini

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"tomme-assistant/internal/infra"
)

const (
	defaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"
	defaultModel   = "gemini-2.0-flash"
)

type Config struct {
	APIKey   string
	Model    string
	BaseURL  string
	Attempts int
}

// Client calls generateContent with JSON output enforced through the response MIME type.
type Client struct {
	endpoint   string
	httpClient *http.Client
	backoff    infra.Backoff
}

func NewClient(cfg Config) *Client {
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	endpoint := fmt.Sprintf("%s/models/%s:generateContent?key=%s",
		strings.TrimRight(cfg.BaseURL, "/"), url.PathEscape(cfg.Model), url.QueryEscape(cfg.APIKey))

	return &Client{
		endpoint:   endpoint,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		backoff:    infra.DefaultBackoff().WithAttempts(cfg.Attempts),
	}
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text"`
}

type request struct {
	Contents          []content        `json:"contents"`
	SystemInstruction *content         `json:"systemInstruction,omitempty"`
	GenerationConfig  generationConfig `json:"generationConfig"`
}

type generationConfig struct {
	MaxOutputTokens  int     `json:"maxOutputTokens"`
	Temperature      float64 `json:"temperature"`
	ResponseMimeType string  `json:"responseMimeType"`
}

type candidate struct {
	Content      content `json:"content"`
	FinishReason string  `json:"finishReason"`
}

type response struct {
	Candidates []candidate `json:"candidates"`
	Error      *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (c *Client) Complete(ctx context.Context, system, prompt string) (string, error) {
	req := request{
		Contents: []content{{Role: "user", Parts: []part{{Text: prompt}}}},
		GenerationConfig: generationConfig{
			MaxOutputTokens:  256,
			Temperature:      0.3,
			ResponseMimeType: "application/json",
		},
	}
	if system != "" {
		req.SystemInstruction = &content{Parts: []part{{Text: system}}}
	}

	var resp response
	err := infra.Do(ctx, c.backoff, func(ctx context.Context) error {
		resp = response{}
		if err := infra.PostJSON(ctx, c.httpClient, "gemini", c.endpoint, nil, req, &resp); err != nil {
			return err
		}
		// Errors can also arrive inside a 200 body.
		if resp.Error != nil {
			statusErr := &infra.StatusError{Service: "gemini", Code: resp.Error.Code, Body: resp.Error.Message}
			if statusErr.Retryable() {
				return statusErr
			}
			return infra.Permanent(statusErr)
		}
		return nil
	})
	if err != nil {
		return "", err
	}

	for _, cand := range resp.Candidates {
		var sb strings.Builder
		for _, p := range cand.Content.Parts {
			sb.WriteString(p.Text)
		}
		if text := strings.TrimSpace(sb.String()); text != "" {
			return text, nil
		}
	}
	return "", errors.New("empty response from gemini")
}
