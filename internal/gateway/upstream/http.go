package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sgconsulting/inference-gateway/internal/shared/errs"
)

// upstreamRequest is the wire shape the text-to-SQL service accepts.
type upstreamRequest struct {
	Query string `json:"query"`
	Email string `json:"email,omitempty"`
}

// upstreamResponse is the wire shape the text-to-SQL service returns. The
// field names are the upstream's, remapped to Result so clients are
// insulated from its schema.
type upstreamResponse struct {
	Inference string          `json:"inference"`
	SQL       string          `json:"sql"`
	Data      json.RawMessage `json:"data"`
}

// HTTPUpstream forwards prompts to the text-to-SQL microservice with a
// hard per-call timeout. The timeout aborts the in-flight request, it does
// not merely stop waiting for it.
type HTTPUpstream struct {
	name    string
	url     string
	timeout time.Duration
	client  *http.Client
}

func NewHTTPUpstream(name, url string, timeout time.Duration) *HTTPUpstream {
	return &HTTPUpstream{
		name:    name,
		url:     url,
		timeout: timeout,
		// Per-call deadlines come from the request context; no client-level
		// timeout so a caller-supplied shorter deadline wins.
		client: &http.Client{},
	}
}

func (u *HTTPUpstream) Name() string {
	return u.name
}

func (u *HTTPUpstream) Query(ctx context.Context, req Request) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, u.timeout)
	defer cancel()

	body, err := json.Marshal(upstreamRequest{Query: req.Prompt, Email: req.Email})
	if err != nil {
		return nil, errs.Upstream("failed to encode upstream request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, u.url, bytes.NewReader(body))
	if err != nil {
		return nil, errs.Upstream("failed to build upstream request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := u.client.Do(httpReq)
	if err != nil {
		if isTimeout(err) {
			return nil, errs.Timeout(err)
		}
		return nil, errs.Upstream("upstream request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusServiceUnavailable {
		return nil, errs.Unavailable(fmt.Sprintf("upstream %s unavailable: %s", u.name, readDiagnostic(resp.Body)))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, errs.Upstream(
			fmt.Sprintf("upstream %s returned status %d: %s", u.name, resp.StatusCode, readDiagnostic(resp.Body)),
			nil,
		)
	}

	var upResp upstreamResponse
	if err := json.NewDecoder(resp.Body).Decode(&upResp); err != nil {
		return nil, errs.Upstream("invalid upstream response", err)
	}

	return &Result{
		Answer:    upResp.Inference,
		SQL:       upResp.SQL,
		QueryData: upResp.Data,
	}, nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr interface{ Timeout() bool }
	return errors.As(err, &netErr) && netErr.Timeout()
}

// readDiagnostic returns up to 2KB of the upstream body for error
// embedding. The full text goes to logs; responses stay bounded.
func readDiagnostic(r io.Reader) string {
	b, err := io.ReadAll(io.LimitReader(r, 2048))
	if err != nil || len(b) == 0 {
		return "(no diagnostic body)"
	}
	return strings.TrimSpace(string(b))
}
