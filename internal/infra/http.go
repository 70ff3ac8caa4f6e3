package infra

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// StatusError is a non-2xx answer from an upstream API.
type StatusError struct {
	Service string
	Code    int
	Body    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s API error %d: %s", e.Service, e.Code, e.Body)
}

// Retryable reports whether the upstream may succeed if asked again.
func (e *StatusError) Retryable() bool {
	return e.Code == http.StatusTooManyRequests || e.Code >= 500
}

// CheckStatus returns nil for a 2xx response. Otherwise it reads the body into a
// StatusError, marked Permanent unless the code is retryable.
func CheckStatus(service string, resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	err := &StatusError{Service: service, Code: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	if err.Retryable() {
		return err
	}
	return Permanent(err)
}

// PostJSON sends in as a JSON body and decodes a successful answer into out.
func PostJSON(ctx context.Context, client *http.Client, service, url string, header http.Header, in, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return Permanent(fmt.Errorf("encoding %s request: %w", service, err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return Permanent(fmt.Errorf("creating %s request: %w", service, err))
	}
	req.Header.Set("Content-Type", "application/json")
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("calling %s: %w", service, err)
	}
	defer resp.Body.Close()

	if err := CheckStatus(service, resp); err != nil {
		return err
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s response: %w", service, err)
	}
	return nil
}
