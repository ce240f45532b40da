package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scripted returns a server that answers each attempt with the next status
// in the list, serving the success envelope for 200s.
func scripted(t *testing.T, statuses ...int) (*httptest.Server, *int) {
	t.Helper()

	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		status := statuses[len(statuses)-1]
		if attempts < len(statuses) {
			status = statuses[attempts]
		}
		attempts++

		w.Header().Set("Content-Type", "application/json")
		if status == http.StatusOK {
			json.NewEncoder(w).Encode(map[string]any{
				"success": true,
				"data":    map[string]any{"answer": "final answer", "sql": "SELECT 1"},
			})
			return
		}
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(map[string]any{
			"success": false,
			"error":   http.StatusText(status),
		})
	}))
	t.Cleanup(srv.Close)

	return srv, &attempts
}

// instrument replaces the backoff sleep with a recorder so tests assert
// the exact delays without waiting them out.
func instrument(c *Client) *[]time.Duration {
	var delays []time.Duration
	c.sleep = func(ctx context.Context, d time.Duration) error {
		delays = append(delays, d)
		return ctx.Err()
	}
	return &delays
}

func TestInfer_SucceedsAfterTransientUnavailability(t *testing.T) {
	srv, attempts := scripted(t, http.StatusServiceUnavailable, http.StatusServiceUnavailable, http.StatusOK)

	c := New(srv.URL, WithMaxRetries(3))
	delays := instrument(c)

	result, err := c.Infer(context.Background(), "revenue trend")
	require.NoError(t, err)

	assert.Equal(t, "final answer", result.Answer)
	assert.Equal(t, 3, *attempts)
	// 1s and 2s bases, tripled for the 503 cause.
	assert.Equal(t, []time.Duration{3 * time.Second, 6 * time.Second}, *delays)
}

func TestInfer_ExhaustionYieldsGenericError(t *testing.T) {
	srv, attempts := scripted(t, http.StatusServiceUnavailable)

	c := New(srv.URL, WithMaxRetries(3))
	instrument(c)

	_, err := c.Infer(context.Background(), "q")
	require.Error(t, err)

	// The per-attempt diagnostics are degraded to the calm generic message.
	assert.ErrorIs(t, err, ErrExhausted)
	assert.NotContains(t, err.Error(), "Service Unavailable")
	assert.Equal(t, 3, *attempts, "exactly maxRetries attempts, never more")
}

func TestInfer_FatalErrorSurfacesImmediately(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]any{"success": false, "error": "bad prompt"})
	}))
	t.Cleanup(srv.Close)

	c := New(srv.URL, WithMaxRetries(3))
	instrument(c)

	_, err := c.Infer(context.Background(), "")
	require.Error(t, err)

	assert.EqualError(t, err, "bad prompt")
	assert.Equal(t, 1, attempts)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
}

func TestInfer_RetryableFlagInBodyTriggersRetry(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 2 {
			w.WriteHeader(http.StatusGatewayTimeout)
			json.NewEncoder(w).Encode(map[string]any{
				"success":   false,
				"error":     "upstream request timed out",
				"errorType": "timeout",
				"retryable": true,
			})
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"success": true,
			"data":    map[string]any{"answer": "recovered"},
		})
	}))
	t.Cleanup(srv.Close)

	c := New(srv.URL, WithMaxRetries(3))
	delays := instrument(c)

	result, err := c.Infer(context.Background(), "q")
	require.NoError(t, err)

	assert.Equal(t, "recovered", result.Answer)
	assert.Equal(t, 2, attempts)
	// 504 is not the unavailability cause, so no tripling.
	assert.Equal(t, []time.Duration{time.Second}, *delays)
}

func TestInfer_UnparsableErrorBodyGetsGenericMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		w.Write([]byte("<html>not json</html>"))
	}))
	t.Cleanup(srv.Close)

	c := New(srv.URL)
	instrument(c)

	_, err := c.Infer(context.Background(), "q")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "409")
}

func TestInfer_CancellationStopsRetryLoop(t *testing.T) {
	srv, attempts := scripted(t, http.StatusServiceUnavailable)

	ctx, cancel := context.WithCancel(context.Background())

	c := New(srv.URL, WithMaxRetries(5))
	c.sleep = func(ctx context.Context, d time.Duration) error {
		cancel() // caller navigates away mid-backoff
		return ctx.Err()
	}

	_, err := c.Infer(ctx, "q")
	require.Error(t, err)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, *attempts, "no further attempts after cancellation")
}

func TestInfer_PerAttemptTimeoutIsRetryable(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 2 {
			select {
			case <-r.Context().Done():
			case <-time.After(2 * time.Second):
			}
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"success": true,
			"data":    map[string]any{"answer": "eventually"},
		})
	}))
	t.Cleanup(srv.Close)

	c := New(srv.URL, WithMaxRetries(2), WithAttemptTimeout(50*time.Millisecond))
	instrument(c)

	result, err := c.Infer(context.Background(), "q")
	require.NoError(t, err)
	assert.Equal(t, "eventually", result.Answer)
	assert.Equal(t, 2, attempts)
}

func TestBackoffDelay(t *testing.T) {
	tests := []struct {
		attempt     int
		unavailable bool
		want        time.Duration
	}{
		{1, false, 1 * time.Second},
		{2, false, 2 * time.Second},
		{3, false, 4 * time.Second},
		{5, false, 15 * time.Second}, // 16s capped
		{1, true, 3 * time.Second},
		{2, true, 6 * time.Second},
		{3, true, 12 * time.Second},
		{4, true, 15 * time.Second}, // 24s, under the 30s unavailability cap, then final cap
		{6, true, 15 * time.Second}, // 96s hits the 30s cap first, then the final cap
	}

	for _, tt := range tests {
		got := backoffDelay(tt.attempt, tt.unavailable)
		assert.Equal(t, tt.want, got, "attempt %d unavailable=%v", tt.attempt, tt.unavailable)
	}
}

func TestInfer_SendsPromptAndToken(t *testing.T) {
	var gotAuth string
	var gotBody map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		json.NewDecoder(r.Body).Decode(&gotBody)
		json.NewEncoder(w).Encode(map[string]any{
			"success": true,
			"data":    map[string]any{"answer": "ok"},
		})
	}))
	t.Cleanup(srv.Close)

	c := New(srv.URL, WithToken("secret-token"))
	_, err := c.Infer(context.Background(), "inventory turnover by SKU")
	require.NoError(t, err)

	assert.Equal(t, "Bearer secret-token", gotAuth)
	assert.Equal(t, "inventory turnover by SKU", gotBody["prompt"])
}
