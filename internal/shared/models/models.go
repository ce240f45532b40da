package models

import "time"

// UsageRecord is one user's rolling quota counter. Created lazily on the
// user's first request, reset whenever the window has elapsed, never deleted.
type UsageRecord struct {
	UserID    string
	UsedCount int
	LastReset time.Time
}

// InferenceLog is the per-request audit row
type InferenceLog struct {
	ID           string
	RequestID    string
	UserID       *string
	Endpoint     string
	Upstream     string
	LatencyMs    int
	FailoverUsed bool
	StatusCode   int
	ErrorKind    *string
	ErrorMessage *string
	CreatedAt    time.Time
}
