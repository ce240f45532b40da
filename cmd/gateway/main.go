package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/sgconsulting/inference-gateway/internal/gateway/auth"
	"github.com/sgconsulting/inference-gateway/internal/gateway/handlers"
	"github.com/sgconsulting/inference-gateway/internal/gateway/quota"
	"github.com/sgconsulting/inference-gateway/internal/gateway/upstream"
	"github.com/sgconsulting/inference-gateway/internal/shared/config"
	"github.com/sgconsulting/inference-gateway/internal/shared/database"
	"github.com/sgconsulting/inference-gateway/internal/shared/redis"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := newLogger(cfg.Env)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("starting inference gateway",
		zap.String("port", cfg.Port),
		zap.String("env", cfg.Env),
	)

	// Setup context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize database
	db, err := database.New(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer db.Close()
	logger.Info("connected to PostgreSQL")

	// Initialize quota stores: Redis primary, Postgres fallback. A missing
	// Redis is survivable; the database row keeps the counter correct.
	var primary quota.Store
	redisClient, err := redis.New(ctx, cfg.RedisURL)
	if err != nil {
		logger.Warn("Redis unavailable, quota falls back to PostgreSQL", zap.Error(err))
	} else {
		defer redisClient.Close()
		primary = quota.NewRedisStore(redisClient)
		logger.Info("connected to Redis")
	}

	pgStore := quota.NewPostgresStore(db)
	if primary == nil {
		primary = pgStore
	}
	limiter := quota.NewLimiter(primary, pgStore, cfg.QuotaCeiling, cfg.QuotaWindow, logger)

	// Initialize upstream managers
	inferenceMgr := buildManager(cfg, cfg.UpstreamURL, cfg.UpstreamTimeout, "text-to-sql", logger)
	chartsMgr := buildManager(cfg, cfg.ChartUpstreamURL, cfg.ChartUpstreamTimeout, "chart-generation", logger)

	// Initialize handlers
	introspector := auth.NewIntrospector(cfg.IntrospectionURL, logger)
	inferenceHandler := handlers.NewInferenceHandler(inferenceMgr, chartsMgr, limiter, db, logger)
	middleware := handlers.NewMiddleware(cfg, introspector, logger)

	// Setup router
	r := chi.NewRouter()

	// Global middleware; CORS runs first so a rejected origin never
	// reaches auth or quota.
	r.Use(middleware.CORSMiddleware)
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(cfg.ChartUpstreamTimeout + 10*time.Second))

	// Health check (no auth required)
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	r.Group(func(r chi.Router) {
		r.Use(middleware.AuthMiddleware)

		r.Post("/inference", inferenceHandler.HandleInference)
		r.Post("/charts", inferenceHandler.HandleCharts)
	})

	// HTTP server
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: cfg.ChartUpstreamTimeout + 10*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		logger.Info("server listening",
			zap.String("addr", srv.Addr),
		)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("failed to start server", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down gracefully")

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}

	logger.Info("server stopped")
}

// buildManager wires an upstream manager for one endpoint, or returns nil
// when the upstream URL is not deployed (the handler answers 500).
func buildManager(cfg *config.Config, url string, timeout time.Duration, name string, logger *zap.Logger) *upstream.Manager {
	if url == "" {
		logger.Warn("upstream not configured", zap.String("upstream", name))
		return nil
	}

	primary := upstream.NewHTTPUpstream(name, url, timeout)

	var fallback upstream.Upstream
	if cfg.OpenAIAPIKey != "" {
		fallback = upstream.NewOpenAIUpstream(cfg.OpenAIAPIKey, cfg.OpenAIModel)
	}

	return upstream.NewManager(primary, fallback, logger)
}

func newLogger(env string) (*zap.Logger, error) {
	if env == "production" {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}
