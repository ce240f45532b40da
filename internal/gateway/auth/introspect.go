// Package auth resolves bearer tokens to user identities via the identity
// provider's introspection endpoint.
package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Identity is the result of a successful token introspection.
type Identity struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
}

// Anonymous reports whether no identity was resolved.
func (id Identity) Anonymous() bool {
	return id.UserID == ""
}

// Introspector calls the identity provider. Resolution failures are
// deliberately non-fatal: the caller proceeds as anonymous, which also
// means anonymous callers are not rate-limited. Every fallback is logged
// at WARN so the permissiveness stays observable.
type Introspector struct {
	url    string
	client *http.Client
	logger *zap.Logger
}

func NewIntrospector(url string, logger *zap.Logger) *Introspector {
	return &Introspector{
		url:    url,
		client: &http.Client{Timeout: 5 * time.Second},
		logger: logger,
	}
}

// Resolve exchanges a bearer token for an identity. Returns the zero
// Identity (anonymous) when the token is empty, the endpoint is not
// configured, or introspection fails.
func (i *Introspector) Resolve(ctx context.Context, token string) Identity {
	if token == "" {
		return Identity{}
	}
	if i.url == "" {
		i.logger.Warn("no introspection endpoint configured, treating caller as anonymous")
		return Identity{}
	}

	identity, err := i.introspect(ctx, token)
	if err != nil {
		i.logger.Warn("token introspection failed, treating caller as anonymous",
			zap.Error(err),
		)
		return Identity{}
	}

	return identity
}

func (i *Introspector) introspect(ctx context.Context, token string) (Identity, error) {
	body, err := json.Marshal(map[string]string{"token": token})
	if err != nil {
		return Identity{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, i.url, bytes.NewReader(body))
	if err != nil {
		return Identity{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := i.client.Do(req)
	if err != nil {
		return Identity{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Identity{}, fmt.Errorf("introspection returned status %d", resp.StatusCode)
	}

	var identity Identity
	if err := json.NewDecoder(resp.Body).Decode(&identity); err != nil {
		return Identity{}, fmt.Errorf("invalid introspection response: %w", err)
	}
	if identity.UserID == "" {
		return Identity{}, fmt.Errorf("introspection response missing user_id")
	}

	return identity, nil
}
