package upstream

import (
	"context"
	"encoding/json"
)

// Request is what the gateway forwards on behalf of a caller.
type Request struct {
	Prompt string
	Email  string
}

// Result is the normalized answer, independent of which upstream produced
// it or what field names it used on the wire.
type Result struct {
	Answer    string          `json:"answer"`
	SQL       string          `json:"sql,omitempty"`
	QueryData json.RawMessage `json:"queryData,omitempty"`
}

// Upstream is the interface all inference backends implement.
type Upstream interface {
	Query(ctx context.Context, req Request) (*Result, error)
	Name() string
}
