package pushover

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"tomme-assistant/internal/infra"
)

const defaultEndpoint = "https://api.pushover.net/1/messages.json"

type Config struct {
	Token    string
	UserKey  string
	Device   string
	Priority int
	Endpoint string
}

// Client forwards assistant notices, such as a blocked microphone, to a phone.
type Client struct {
	cfg        Config
	httpClient *http.Client
	backoff    infra.Backoff
}

func NewClient(cfg Config) *Client {
	if cfg.Endpoint == "" {
		cfg.Endpoint = defaultEndpoint
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		backoff:    infra.DefaultBackoff().WithAttempts(2),
	}
}

type apiResponse struct {
	Status int      `json:"status"`
	Errors []string `json:"errors"`
}

// Notify is a no-op until both token and user key are configured.
func (c *Client) Notify(ctx context.Context, message string) error {
	if c.cfg.Token == "" || c.cfg.UserKey == "" {
		return nil
	}

	form := url.Values{}
	form.Set("token", c.cfg.Token)
	form.Set("user", c.cfg.UserKey)
	form.Set("title", "Tomme")
	form.Set("message", message)
	if c.cfg.Device != "" {
		form.Set("device", c.cfg.Device)
	}
	if c.cfg.Priority != 0 {
		form.Set("priority", strconv.Itoa(c.cfg.Priority))
	}
	encoded := form.Encode()

	return infra.Do(ctx, c.backoff, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, strings.NewReader(encoded))
		if err != nil {
			return infra.Permanent(fmt.Errorf("creating pushover request: %w", err))
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("sending notification: %w", err)
		}
		defer resp.Body.Close()

		if err := infra.CheckStatus("pushover", resp); err != nil {
			return err
		}

		var body apiResponse
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			return infra.Permanent(fmt.Errorf("decoding pushover response: %w", err))
		}
		if body.Status != 1 {
			return infra.Permanent(errors.New("pushover rejected notification: " + strings.Join(body.Errors, "; ")))
		}
		return nil
	})
}
