package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"tomme-assistant/internal/infra"
)

const (
	defaultBaseURL = "https://api.openai.com/v1"
	defaultModel   = "whisper-1"

	// Segments Whisper itself rates as probably silent are dropped; on short
	// microphone clips they are where hallucinated captions come from.
	noSpeechThreshold = 0.6
)

type WhisperConfig struct {
	APIKey   string
	Language string
	Model    string
	BaseURL  string
	Attempts int

	// Vocabulary biases recognition toward words the assistant listens for, such as
	// the wake phrases and the assistant's name.
	Vocabulary []string
}

type WhisperClient struct {
	cfg        WhisperConfig
	prompt     string
	httpClient *http.Client
	backoff    infra.Backoff
}

func NewWhisperClient(cfg WhisperConfig) *WhisperClient {
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Attempts <= 0 {
		cfg.Attempts = 2
	}
	return &WhisperClient{
		cfg:        cfg,
		prompt:     strings.Join(cfg.Vocabulary, ", "),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		backoff:    infra.DefaultBackoff().WithAttempts(cfg.Attempts),
	}
}

type segment struct {
	Text         string  `json:"text"`
	NoSpeechProb float64 `json:"no_speech_prob"`
}

type transcription struct {
	Text     string    `json:"text"`
	Segments []segment `json:"segments"`
}

func (t transcription) spokenText() string {
	if len(t.Segments) == 0 {
		return strings.TrimSpace(t.Text)
	}
	parts := make([]string, 0, len(t.Segments))
	for _, s := range t.Segments {
		if s.NoSpeechProb >= noSpeechThreshold {
			continue
		}
		if text := strings.TrimSpace(s.Text); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, " ")
}

// Transcribe sends a WAV clip and returns what was said, or "" for silence.
func (c *WhisperClient) Transcribe(ctx context.Context, wav []byte) (string, error) {
	body, contentType, err := c.form(wav)
	if err != nil {
		return "", err
	}

	var result transcription
	err = infra.Do(ctx, c.backoff, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/audio/transcriptions", bytes.NewReader(body))
		if err != nil {
			return infra.Permanent(fmt.Errorf("creating whisper request: %w", err))
		}
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
		req.Header.Set("Content-Type", contentType)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("calling whisper: %w", err)
		}
		defer resp.Body.Close()

		if err := infra.CheckStatus("whisper", resp); err != nil {
			return err
		}
		result = transcription{}
		if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
			return fmt.Errorf("decoding whisper response: %w", err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}

	return result.spokenText(), nil
}

func (c *WhisperClient) form(wav []byte) ([]byte, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	file, err := w.CreateFormFile("file", "utterance.wav")
	if err != nil {
		return nil, "", fmt.Errorf("creating form file: %w", err)
	}
	if _, err := file.Write(wav); err != nil {
		return nil, "", fmt.Errorf("writing audio: %w", err)
	}

	fields := [][2]string{
		{"model", c.cfg.Model},
		{"language", c.cfg.Language},
		{"response_format", "verbose_json"},
		{"temperature", "0"},
		{"prompt", c.prompt},
	}
	for _, f := range fields {
		if f[1] == "" {
			continue
		}
		if err := w.WriteField(f[0], f[1]); err != nil {
			return nil, "", fmt.Errorf("writing %s field: %w", f[0], err)
		}
	}

	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("closing form: %w", err)
	}
	return buf.Bytes(), w.FormDataContentType(), nil
}
