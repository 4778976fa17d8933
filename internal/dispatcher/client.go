package dispatcher

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/fsotosa-ops/oasis-api/internal/config"
)

// maxResponseBodySize bounds how much of a downstream response is read.
const maxResponseBodySize = 4096

// StatusError is a non-success response from the journey service.
type StatusError struct {
	StatusCode int
	Summary    string
}

func (e *StatusError) Error() string {
	if e.Summary != "" {
		return fmt.Sprintf("downstream returned HTTP %d: %s", e.StatusCode, e.Summary)
	}
	return fmt.Sprintf("downstream returned HTTP %d", e.StatusCode)
}

// RateLimitedError is a 429 carrying an optional Retry-After hint.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("downstream rate limited, retry after %s", e.RetryAfter)
	}
	return "downstream rate limited"
}

// ackEnvelope is the journey service's response envelope. A 2xx carrying
// success=false is an application-level rejection and counts as failure.
type ackEnvelope struct {
	Success *bool `json:"success"`
}

// Client delivers normalized events to the journey service's external-event
// endpoint.
type Client struct {
	url        string
	token      string
	httpClient *http.Client
}

func NewClient(cfg *config.DispatcherConfig) *Client {
	return &Client{
		url:   cfg.JourneyServiceURL + "/api/v1/tracking/external-event",
		token: cfg.ServiceToken,
		httpClient: &http.Client{
			Timeout: cfg.AttemptTimeout,
		},
	}
}

// Send performs one delivery attempt. Only an explicit success
// acknowledgment returns nil; any transport error, non-2xx status or
// success=false envelope is a failure.
func (c *Client) Send(ctx context.Context, normalizedPayload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(normalizedPayload))
	if err != nil {
		return fmt.Errorf("failed to create dispatch request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("X-Event-Source", "webhook-gateway")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("dispatch request failed: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodySize))

	if resp.StatusCode == http.StatusTooManyRequests {
		retryAfter, _ := ParseRetryAfter(resp.Header.Get("Retry-After"))
		return &RateLimitedError{RetryAfter: retryAfter}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{StatusCode: resp.StatusCode, Summary: summarize(body)}
	}

	var ack ackEnvelope
	if len(body) > 0 && json.Unmarshal(body, &ack) == nil {
		if ack.Success != nil && !*ack.Success {
			return &StatusError{StatusCode: resp.StatusCode, Summary: "downstream rejected event (success=false)"}
		}
	}

	return nil
}

func summarize(body []byte) string {
	const maxSummary = 500
	s := string(body)
	if len(s) > maxSummary {
		return s[:maxSummary] + "..."
	}
	return s
}
