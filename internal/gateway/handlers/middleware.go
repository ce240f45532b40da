package handlers

import (
	"context"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/sgconsulting/inference-gateway/internal/gateway/auth"
	"github.com/sgconsulting/inference-gateway/internal/shared/config"
)

type contextKey string

const identityKey contextKey = "identity"

type Middleware struct {
	cfg          *config.Config
	introspector *auth.Introspector
	logger       *zap.Logger
}

func NewMiddleware(cfg *config.Config, introspector *auth.Introspector, logger *zap.Logger) *Middleware {
	return &Middleware{
		cfg:          cfg,
		introspector: introspector,
		logger:       logger,
	}
}

// CORSMiddleware enforces the origin allow-list. It runs before any
// business logic: a disallowed origin gets a bare 403 and never reaches
// auth or quota. Requests without an Origin header (curl, server-to-server)
// pass through without CORS headers.
func (m *Middleware) CORSMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin == "" {
			next.ServeHTTP(w, r)
			return
		}

		if !m.originAllowed(origin) {
			m.logger.Warn("rejected origin", zap.String("origin", origin))
			w.WriteHeader(http.StatusForbidden)
			return
		}

		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Vary", "Origin")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("ok"))
			return
		}

		next.ServeHTTP(w, r)
	})
}

// originAllowed matches exact allow-list entries plus the verified-domain
// suffix wildcard (https only for the wildcard).
func (m *Middleware) originAllowed(origin string) bool {
	for _, allowed := range m.cfg.AllowedOrigins {
		if origin == allowed {
			return true
		}
	}

	if m.cfg.AllowedOriginSuffix != "" {
		host, ok := strings.CutPrefix(origin, "https://")
		if ok && strings.HasSuffix(host, m.cfg.AllowedOriginSuffix) && !strings.Contains(host, "/") {
			return true
		}
	}

	return false
}

// AuthMiddleware resolves an optional bearer token to an identity. A
// missing or unresolvable token does not reject the request; the caller
// proceeds anonymous (and, being unidentified, unmetered).
func (m *Middleware) AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r.Header.Get("Authorization"))
		identity := m.introspector.Resolve(r.Context(), token)

		ctx := context.WithValue(r.Context(), identityKey, identity)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func bearerToken(header string) string {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// identityFrom extracts the resolved identity, zero-valued if the auth
// middleware did not run or the caller is anonymous.
func identityFrom(ctx context.Context) auth.Identity {
	identity, _ := ctx.Value(identityKey).(auth.Identity)
	return identity
}
