package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sgconsulting/inference-gateway/internal/gateway/quota"
	"github.com/sgconsulting/inference-gateway/internal/gateway/upstream"
	"github.com/sgconsulting/inference-gateway/internal/shared/database"
	"github.com/sgconsulting/inference-gateway/internal/shared/errs"
	"github.com/sgconsulting/inference-gateway/internal/shared/models"
)

// InferenceRequest is the gateway's public request body.
type InferenceRequest struct {
	Prompt string `json:"prompt"`
	Email  string `json:"email,omitempty"`
}

// envelope is the stable response shape returned regardless of what the
// upstream's own schema looks like.
type envelope struct {
	Success   bool             `json:"success"`
	RequestID string           `json:"requestId,omitempty"`
	Data      *upstream.Result `json:"data,omitempty"`
	Error     string           `json:"error,omitempty"`
	ErrorType string           `json:"errorType,omitempty"`
	Retryable bool             `json:"retryable,omitempty"`
	Details   string           `json:"details,omitempty"`
	Status    int              `json:"status,omitempty"`
}

type InferenceHandler struct {
	inference *upstream.Manager
	charts    *upstream.Manager
	limiter   *quota.Limiter
	db        *database.DB
	logger    *zap.Logger
}

// NewInferenceHandler builds the handler. Either manager may be nil when
// the corresponding upstream URL is not deployed; requests to that
// endpoint answer 500 "Server misconfiguration".
func NewInferenceHandler(inference, charts *upstream.Manager, limiter *quota.Limiter, db *database.DB, logger *zap.Logger) *InferenceHandler {
	return &InferenceHandler{
		inference: inference,
		charts:    charts,
		limiter:   limiter,
		db:        db,
		logger:    logger,
	}
}

// HandleInference handles POST /inference
func (h *InferenceHandler) HandleInference(w http.ResponseWriter, r *http.Request) {
	h.handle(w, r, "/inference", h.inference)
}

// HandleCharts handles POST /charts
func (h *InferenceHandler) HandleCharts(w http.ResponseWriter, r *http.Request) {
	h.handle(w, r, "/charts", h.charts)
}

func (h *InferenceHandler) handle(w http.ResponseWriter, r *http.Request, endpoint string, mgr *upstream.Manager) {
	startTime := time.Now()
	requestID := uuid.NewString()
	identity := identityFrom(r.Context())

	logger := h.logger.With(
		zap.String("request_id", requestID),
		zap.String("endpoint", endpoint),
	)

	var req InferenceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, logger, endpoint, requestID, identity.UserID, startTime, "",
			errs.Validation("request body must be JSON with a prompt field"))
		return
	}
	if strings.TrimSpace(req.Prompt) == "" {
		h.respondError(w, logger, endpoint, requestID, identity.UserID, startTime, "",
			errs.Validation("prompt is required"))
		return
	}

	// Quota applies only to identified callers. Anonymous requests skip it
	// by design (public demo mode); the auth layer already logged the fact.
	if !identity.Anonymous() {
		decision := h.limiter.Allow(r.Context(), identity.UserID)

		w.Header().Set("X-Quota-Limit", fmt.Sprintf("%d", h.limiter.Ceiling()))
		w.Header().Set("X-Quota-Remaining", fmt.Sprintf("%d", decision.Remaining))

		if !decision.Allowed {
			retryAfter := int(time.Until(decision.ResetAt).Seconds())
			if retryAfter < 0 {
				retryAfter = 0
			}
			w.Header().Set("Retry-After", fmt.Sprintf("%d", retryAfter))
			h.respondError(w, logger, endpoint, requestID, identity.UserID, startTime, "",
				errs.QuotaExceeded())
			return
		}
	}

	if mgr == nil {
		h.respondError(w, logger, endpoint, requestID, identity.UserID, startTime, "",
			errs.Misconfigured("Server misconfiguration"))
		return
	}

	email := identity.Email
	if email == "" {
		email = req.Email
	}

	result, upstreamName, failoverUsed, err := mgr.Query(r.Context(), upstream.Request{
		Prompt: req.Prompt,
		Email:  email,
	})
	if err != nil {
		h.respondError(w, logger, endpoint, requestID, identity.UserID, startTime, upstreamName, err)
		return
	}

	latency := time.Since(startTime)
	logger.Info("inference completed",
		zap.String("upstream", upstreamName),
		zap.Bool("failover_used", failoverUsed),
		zap.Duration("latency", latency),
	)

	h.logRequest(endpoint, requestID, identity.UserID, upstreamName, latency, failoverUsed, http.StatusOK, nil)

	w.Header().Set("Content-Type", "application/json")
	if failoverUsed {
		w.Header().Set("X-Failover", "true")
	}
	json.NewEncoder(w).Encode(envelope{
		Success:   true,
		RequestID: requestID,
		Data:      result,
	})
}

func (h *InferenceHandler) respondError(w http.ResponseWriter, logger *zap.Logger, endpoint, requestID, userID string, startTime time.Time, upstreamName string, err error) {
	var tagged *errs.Error
	if !errors.As(err, &tagged) {
		tagged = errs.Upstream("internal error", err)
	}

	status := tagged.HTTPStatus()
	env := envelope{
		Success:   false,
		RequestID: requestID,
		Error:     tagged.Message,
		Retryable: tagged.Retryable,
	}

	switch tagged.Kind {
	case errs.KindTimeout:
		env.ErrorType = "timeout"
	case errs.KindUnavailable, errs.KindUpstream:
		env.ErrorType = "general"
		env.Status = status
		if tagged.Err != nil {
			env.Details = tagged.Err.Error()
		}
	}

	// Full diagnostics go to logs; the envelope stays bounded.
	logger.Error("request failed",
		zap.String("kind", string(tagged.Kind)),
		zap.Int("status", status),
		zap.Error(err),
	)

	h.logRequest(endpoint, requestID, userID, upstreamName, time.Since(startTime), false, status, tagged)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(env)
}

// logRequest writes the audit row asynchronously so a slow database never
// adds latency to the response path.
func (h *InferenceHandler) logRequest(endpoint, requestID, userID, upstreamName string, latency time.Duration, failoverUsed bool, status int, tagged *errs.Error) {
	if h.db == nil {
		return
	}

	logRow := &models.InferenceLog{
		RequestID:    requestID,
		Endpoint:     endpoint,
		Upstream:     upstreamName,
		LatencyMs:    int(latency.Milliseconds()),
		FailoverUsed: failoverUsed,
		StatusCode:   status,
	}
	if userID != "" {
		logRow.UserID = &userID
	}
	if tagged != nil {
		kind := string(tagged.Kind)
		msg := tagged.Error()
		logRow.ErrorKind = &kind
		logRow.ErrorMessage = &msg
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := h.db.LogInference(ctx, logRow); err != nil {
			h.logger.Warn("failed to write inference log", zap.Error(err))
		}
	}()
}
