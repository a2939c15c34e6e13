// Package identity is a thin client for the external identity
// provider's user-metadata API. Billing state is mirrored into user
// metadata so frontends can read it straight off the session token.
package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/plinthhq/plinth/internal/circuitbreaker"
	"github.com/plinthhq/plinth/internal/retry"
)

// Errors
var (
	// ErrDisabled means no provider is configured; calls are no-ops.
	ErrDisabled = errors.New("identity: provider not configured")
	// ErrUnavailable means the circuit is open after repeated provider
	// failures; callers should skip the mirror and move on.
	ErrUnavailable = errors.New("identity: provider unavailable")
)

// breakerKey is the single circuit key; there is one upstream.
const breakerKey = "identity"

// Metadata is the billing slice of a user's public metadata.
type Metadata struct {
	Plan   string `json:"plan,omitempty"`
	Status string `json:"subscriptionStatus,omitempty"`
}

// Client talks to the identity provider's management API. Calls are
// retried with backoff on transient failures and sit behind a circuit
// breaker so a dead provider cannot stall the webhook path.
type Client struct {
	baseURL string
	secret  string
	http    *http.Client
	breaker *circuitbreaker.Breaker

	maxAttempts int
	baseDelay   time.Duration
}

// NewClient creates a metadata client. An empty baseURL or secret
// disables the client; every call then returns ErrDisabled.
func NewClient(baseURL, secret string) *Client {
	return &Client{
		baseURL: baseURL,
		secret:  secret,
		http: &http.Client{
			Timeout: 5 * time.Second,
		},
		breaker:     circuitbreaker.New(5, 30*time.Second),
		maxAttempts: 3,
		baseDelay:   200 * time.Millisecond,
	}
}

// Enabled reports whether the client is configured.
func (c *Client) Enabled() bool {
	return c.baseURL != "" && c.secret != ""
}

// GetMetadata fetches the current billing metadata for a user.
func (c *Client) GetMetadata(ctx context.Context, userID string) (*Metadata, error) {
	if !c.Enabled() {
		return nil, ErrDisabled
	}

	var result struct {
		PublicMetadata Metadata `json:"public_metadata"`
	}
	err := c.do(ctx, func() (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet,
			c.baseURL+"/v1/users/"+userID, nil)
	}, &result)
	if err != nil {
		return nil, err
	}
	return &result.PublicMetadata, nil
}

// PatchMetadata merges the billing fields into the user's public
// metadata. The provider merges server-side; unrelated keys survive.
func (c *Client) PatchMetadata(ctx context.Context, userID string, md *Metadata) error {
	if !c.Enabled() {
		return ErrDisabled
	}

	payload, err := json.Marshal(map[string]any{
		"public_metadata": md,
	})
	if err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}

	return c.do(ctx, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPatch,
			c.baseURL+"/v1/users/"+userID+"/metadata", bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	}, nil)
}

// do runs one logical API call: circuit check, up to three attempts
// with backoff, JSON decode into out when non-nil. The build function
// is invoked per attempt so request bodies are re-readable.
func (c *Client) do(ctx context.Context, build func() (*http.Request, error), out any) error {
	if !c.breaker.Allow(breakerKey) {
		return ErrUnavailable
	}

	err := retry.Do(ctx, c.maxAttempts, c.baseDelay, func() error {
		req, err := build()
		if err != nil {
			return retry.Permanent(fmt.Errorf("failed to create request: %w", err))
		}
		req.Header.Set("Authorization", "Bearer "+c.secret)

		resp, err := c.http.Do(req)
		if err != nil {
			return fmt.Errorf("identity API request failed: %w", err)
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusOK:
		case resp.StatusCode >= 500:
			// Transient upstream trouble, worth another attempt.
			return fmt.Errorf("identity API returned status %d", resp.StatusCode)
		default:
			_, _ = io.Copy(io.Discard, resp.Body)
			return retry.Permanent(fmt.Errorf("identity API returned status %d", resp.StatusCode))
		}

		if out != nil {
			if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
				return retry.Permanent(fmt.Errorf("failed to decode response: %w", err))
			}
		}
		return nil
	})
	if err != nil {
		c.breaker.RecordFailure(breakerKey)
		return err
	}
	c.breaker.RecordSuccess(breakerKey)
	return nil
}
