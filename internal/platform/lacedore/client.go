package lacedore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// ErrMissingTaskID signals a successful submission response without a task id.
var ErrMissingTaskID = errors.New("missing task id")

// HTTPClient matches net/http.Client Do signature for testability.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// RemoteError is a non-2xx response from the lacedore service.
type RemoteError struct {
	StatusCode int
	Body       string
	Detail     string
}

func (e *RemoteError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Detail)
	}
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Body)
}

// retryableStatus lists codes retried uniformly at the transport layer.
var retryableStatus = map[int]bool{
	http.StatusTooManyRequests:     true,
	http.StatusInternalServerError: true,
	http.StatusBadGateway:          true,
	http.StatusServiceUnavailable:  true,
	http.StatusGatewayTimeout:      true,
}

// Config defines settings for the lacedore client.
type Config struct {
	BaseURL      string
	APIKey       string
	MaxRetries   int
	RetryBackoff time.Duration
	UserAgent    string
}

// Client wraps the lacedore.org verification API with a shared retry policy.
type Client struct {
	baseURL      string
	apiKey       string
	httpClient   HTTPClient
	maxRetries   int
	retryBackoff time.Duration
	userAgent    string
	log          zerolog.Logger

	sleep func(time.Duration)
}

// New creates a lacedore client. A nil httpClient falls back to a default
// client with connection reuse and a 30s timeout.
func New(httpClient HTTPClient, cfg Config, log zerolog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	base := cfg.BaseURL
	if base == "" {
		base = "http://lacedore.org:6789"
	}
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	backoff := cfg.RetryBackoff
	if backoff <= 0 {
		backoff = time.Second
	}

	return &Client{
		baseURL:      base,
		apiKey:       cfg.APIKey,
		httpClient:   httpClient,
		maxRetries:   maxRetries,
		retryBackoff: backoff,
		userAgent:    cfg.UserAgent,
		log:          log,
		sleep:        time.Sleep,
	}
}

// do performs one logical request with the shared retry policy. The body is
// rebuilt per attempt so POST payloads survive retries.
func (c *Client) do(ctx context.Context, method, path string, payload any) (int, []byte, error) {
	var encoded []byte
	if payload != nil {
		var err error
		encoded, err = json.Marshal(payload)
		if err != nil {
			return 0, nil, fmt.Errorf("encode request: %w", err)
		}
	}

	var lastErr error
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		if attempt > 0 {
			// Linear backoff between transport-level attempts.
			c.sleep(time.Duration(attempt) * c.retryBackoff)
		}

		var body io.Reader
		if encoded != nil {
			body = bytes.NewReader(encoded)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
		if err != nil {
			return 0, nil, fmt.Errorf("build request: %w", err)
		}
		req.Header.Set("X-API-Key", c.apiKey)
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")
		if c.userAgent != "" {
			req.Header.Set("User-Agent", c.userAgent)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			if ctx.Err() != nil {
				return 0, nil, err
			}
			continue
		}

		data, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("read response: %w", err)
			continue
		}

		if retryableStatus[resp.StatusCode] && attempt < c.maxRetries-1 {
			c.log.Debug().Int("status", resp.StatusCode).Str("path", path).Msg("retrying request")
			continue
		}
		return resp.StatusCode, data, nil
	}
	return 0, nil, fmt.Errorf("request: %w", lastErr)
}

// doJSON runs a request and decodes a 200 response into out. Non-2xx statuses
// become a *RemoteError carrying any detail/message field from the body.
func (c *Client) doJSON(ctx context.Context, method, path string, payload, out any) error {
	status, data, err := c.do(ctx, method, path, payload)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return &RemoteError{StatusCode: status, Body: string(data), Detail: errorDetail(data)}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// errorDetail extracts the detail or message field from a JSON error body.
func errorDetail(data []byte) string {
	var body struct {
		Detail  string `json:"detail"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(data, &body); err != nil {
		return ""
	}
	if body.Detail != "" {
		return body.Detail
	}
	return body.Message
}
