package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/hyperjump/shiori/internal/errs"
)

// maxErrorBody caps how much of an error response is kept in the error message.
const maxErrorBody = 512

// Client posts JSON to an OpenAI-compatible HTTP API under a retry policy and throttle.
type Client struct {
	Name     string
	BaseURL  string
	APIKey   string
	HTTP     *http.Client
	Retry    RetryPolicy
	Throttle *Throttle
}

// PostJSON sends in to BaseURL+path and decodes the response into out.
// Non-2xx responses become *errs.ProviderError carrying the status code.
func (c *Client) PostJSON(ctx context.Context, op, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("failed to marshal %s request: %w", op, err)
	}
	return c.Retry.Do(ctx, c.Name, op, func(ctx context.Context) error {
		release, err := c.Throttle.Acquire(ctx)
		if err != nil {
			return err
		}
		defer release()
		return c.post(ctx, op, path, body, out)
	})
}

func (c *Client) post(ctx context.Context, op, path string, body []byte, out any) error {
	url := strings.TrimRight(c.BaseURL, "/") + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create %s request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}

	httpClient := c.HTTP
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return &errs.ProviderError{Provider: c.Name, Op: op, Err: err}
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return &errs.ProviderError{Provider: c.Name, Op: op, Err: fmt.Errorf("read response: %w", err)}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &errs.ProviderError{Provider: c.Name, Op: op, StatusCode: resp.StatusCode, Err: errors.New(errorMessage(payload))}
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return &errs.ProviderError{Provider: c.Name, Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

// errorMessage extracts the OpenAI-style {"error":{"message":...}} text, falling
// back to the raw body.
func errorMessage(payload []byte) string {
	var e struct {
		Error *struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(payload, &e); err == nil && e.Error != nil && e.Error.Message != "" {
		return e.Error.Message
	}
	msg := strings.TrimSpace(string(payload))
	if len(msg) > maxErrorBody {
		msg = msg[:maxErrorBody]
	}
	if msg == "" {
		msg = "empty response body"
	}
	return msg
}
