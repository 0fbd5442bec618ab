// Package dweet posts progress summaries to a dweet.io-style notification
// service. Pushes are best-effort per tick; only the final shutdown push is
// retried.
package dweet

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// DefaultBaseURL is the public dweet.io endpoint prefix.
const DefaultBaseURL = "https://dweet.io/dweet/for"

const (
	finalPushAttempts = 5
	finalPushInterval = time.Second
)

// Client publishes JSON payloads for a named thing.
type Client struct {
	name    string
	apiKey  string
	baseURL string
	client  *http.Client

	// retryInterval spaces the final-push attempts; tests shrink it.
	retryInterval time.Duration
}

// NewClient builds a client for the given thing name. The API key is
// optional and appended as a query parameter when present.
func NewClient(name, apiKey string) *Client {
	return &Client{
		name:          name,
		apiKey:        apiKey,
		baseURL:       DefaultBaseURL,
		client:        &http.Client{Timeout: 10 * time.Second},
		retryInterval: finalPushInterval,
	}
}

// SetBaseURL overrides the service endpoint (tests, self-hosted freeboard).
func (c *Client) SetBaseURL(base string) {
	c.baseURL = base
}

// Publish posts one payload. A non-2xx response is an error; the caller
// decides whether that is fatal.
func (c *Client) Publish(ctx context.Context, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("dweet: encode payload: %w", err)
	}
	target := fmt.Sprintf("%s/%s", c.baseURL, url.PathEscape(c.name))
	if c.apiKey != "" {
		target += "?key=" + url.QueryEscape(c.apiKey)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("dweet: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("dweet: post: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("dweet: unexpected status %d", resp.StatusCode)
	}
	return nil
}

// PublishFinal makes the bounded shutdown push: up to 5 attempts spaced one
// second apart, returning the last error when every attempt fails.
func (c *Client) PublishFinal(ctx context.Context, payload interface{}) error {
	var lastErr error
	for attempt := 1; attempt <= finalPushAttempts; attempt++ {
		lastErr = c.Publish(ctx, payload)
		if lastErr == nil {
			return nil
		}
		if attempt == finalPushAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.retryInterval):
		}
	}
	return fmt.Errorf("dweet: final push failed after %d attempts: %w", finalPushAttempts, lastErr)
}
