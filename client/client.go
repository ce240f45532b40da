// Package client is the resilient caller for the inference gateway. It
// applies bounded retries with exponential backoff, retrying only failures
// the gateway tags as transient, and degrades the error detail to a calm
// generic message once attempts are exhausted.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
)

const (
	defaultMaxRetries     = 3
	defaultAttemptTimeout = 60 * time.Second

	baseDelay        = 1 * time.Second
	unavailableScale = 3
	unavailableCap   = 30 * time.Second
	delayCap         = 15 * time.Second
)

// ErrExhausted is returned after the final retry fails. The per-attempt
// diagnostics are logged, not surfaced: end users get a calm message.
var ErrExhausted = errors.New("the service is currently experiencing issues, please try again later")

// Result is the gateway's normalized answer.
type Result struct {
	Answer    string          `json:"answer"`
	SQL       string          `json:"sql,omitempty"`
	QueryData json.RawMessage `json:"queryData,omitempty"`
}

// APIError is a non-2xx gateway response. Retryable is taken from the
// response envelope (or implied by a 503), never inferred from the text.
type APIError struct {
	StatusCode int
	Message    string
	Retryable  bool
}

func (e *APIError) Error() string {
	return e.Message
}

// retryable reports whether the failure may be re-attempted.
func retryable(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Retryable || apiErr.StatusCode == http.StatusServiceUnavailable
	}
	// Per-attempt timeouts and transport errors are transient.
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// unavailability reports whether the failure was a 503, which backs off
// harder than other transient failures.
func unavailability(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusServiceUnavailable
}

type envelope struct {
	Success   bool            `json:"success"`
	Data      *Result         `json:"data"`
	Error     string          `json:"error"`
	Retryable bool            `json:"retryable"`
	RequestID string          `json:"requestId"`
	ErrorType string          `json:"errorType"`
	Details   json.RawMessage `json:"details"`
}

// Client calls the gateway's /inference endpoint.
type Client struct {
	baseURL        string
	token          string
	maxRetries     int
	attemptTimeout time.Duration
	httpClient     *http.Client
	logger         *zap.Logger
	sleep          func(ctx context.Context, d time.Duration) error
}

// Option configures a Client.
type Option func(*Client)

// WithToken attaches a bearer credential to every request.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithMaxRetries bounds the attempt loop. Values below 1 are clamped to 1.
func WithMaxRetries(n int) Option {
	return func(c *Client) {
		if n < 1 {
			n = 1
		}
		c.maxRetries = n
	}
}

// WithAttemptTimeout bounds each individual attempt.
func WithAttemptTimeout(d time.Duration) Option {
	return func(c *Client) { c.attemptTimeout = d }
}

// WithHTTPClient substitutes the underlying transport.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithLogger sets the logger for retry and exhaustion diagnostics.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// New creates a client for the gateway at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:        baseURL,
		maxRetries:     defaultMaxRetries,
		attemptTimeout: defaultAttemptTimeout,
		httpClient:     &http.Client{},
		logger:         zap.NewNop(),
		sleep:          sleepCtx,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Infer sends the prompt to the gateway, retrying transient failures.
// Fatal failures (validation, quota, generic upstream errors) surface
// immediately with the gateway-provided message. Cancelling ctx aborts the
// in-flight attempt and schedules no further ones.
func (c *Client) Infer(ctx context.Context, prompt string) (*Result, error) {
	var lastErr error

	for attempt := 1; attempt <= c.maxRetries; attempt++ {
		result, err := c.attempt(ctx, prompt)
		if err == nil {
			return result, nil
		}

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !retryable(err) {
			return nil, err
		}

		lastErr = err

		if attempt == c.maxRetries {
			break
		}

		delay := backoffDelay(attempt, unavailability(err))
		c.logger.Warn("attempt failed, backing off",
			zap.Int("attempt", attempt),
			zap.Int("max_retries", c.maxRetries),
			zap.Duration("delay", delay),
			zap.Error(err),
		)

		if err := c.sleep(ctx, delay); err != nil {
			return nil, err
		}
	}

	c.logger.Error("all attempts exhausted",
		zap.Int("attempts", c.maxRetries),
		zap.Error(lastErr),
	)

	return nil, ErrExhausted
}

func (c *Client) attempt(ctx context.Context, prompt string) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, c.attemptTimeout)
	defer cancel()

	body, err := json.Marshal(map[string]string{"prompt": prompt})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/inference", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var env envelope
	decodeErr := json.NewDecoder(resp.Body).Decode(&env)

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if decodeErr != nil {
			return nil, fmt.Errorf("invalid gateway response: %w", decodeErr)
		}
		if env.Data == nil {
			return nil, fmt.Errorf("gateway response missing data")
		}
		return env.Data, nil
	}

	message := env.Error
	if decodeErr != nil || message == "" {
		message = fmt.Sprintf("gateway returned status %d", resp.StatusCode)
	}

	return nil, &APIError{
		StatusCode: resp.StatusCode,
		Message:    message,
		Retryable:  env.Retryable,
	}
}

// backoffDelay computes the sleep before the attempt following a failed
// attempt (1-based): base doubling per attempt, tripled and capped at 30s
// when the cause was unavailability, always capped at 15s.
func backoffDelay(attempt int, unavailable bool) time.Duration {
	delay := baseDelay << (attempt - 1)

	if unavailable {
		delay *= unavailableScale
		if delay > unavailableCap {
			delay = unavailableCap
		}
	}

	if delay > delayCap {
		delay = delayCap
	}

	return delay
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
