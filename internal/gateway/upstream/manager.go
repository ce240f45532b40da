package upstream

import (
	"context"

	"go.uber.org/zap"

	"github.com/sgconsulting/inference-gateway/internal/shared/errs"
)

// Manager routes a query to the primary upstream and fails over to the
// fallback when the primary's error is tagged retryable (timeouts and 503s
// — fatal upstream errors like a rejected prompt are returned as-is).
type Manager struct {
	primary  Upstream
	fallback Upstream
	logger   *zap.Logger
}

func NewManager(primary, fallback Upstream, logger *zap.Logger) *Manager {
	return &Manager{
		primary:  primary,
		fallback: fallback,
		logger:   logger,
	}
}

// Query returns the result, the name of the upstream that produced it, and
// whether failover was used.
func (m *Manager) Query(ctx context.Context, req Request) (*Result, string, bool, error) {
	result, err := m.primary.Query(ctx, req)
	if err == nil {
		return result, m.primary.Name(), false, nil
	}

	if m.fallback == nil || !errs.IsRetryable(err) {
		return nil, m.primary.Name(), false, err
	}

	m.logger.Warn("primary upstream failed, trying fallback",
		zap.String("primary", m.primary.Name()),
		zap.String("fallback", m.fallback.Name()),
		zap.Error(err),
	)

	result, fbErr := m.fallback.Query(ctx, req)
	if fbErr != nil {
		m.logger.Error("fallback upstream also failed",
			zap.String("fallback", m.fallback.Name()),
			zap.Error(fbErr),
		)
		// Surface the primary's error: it carries the retryable tag the
		// client's backoff decisions key off.
		return nil, m.primary.Name(), false, err
	}

	return result, m.fallback.Name(), true, nil
}
