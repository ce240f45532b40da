package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/sgconsulting/inference-gateway/internal/shared/models"
)

type DB struct {
	conn *sql.DB
}

// New creates a new database connection
func New(databaseURL string) (*DB, error) {
	conn, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Configure connection pool
	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(10)
	conn.SetConnMaxLifetime(5 * time.Minute)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := conn.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("database ping failed: %w", err)
	}

	return &DB{conn: conn}, nil
}

// NewFromConn wraps an existing connection. Used by tests with sqlmock.
func NewFromConn(conn *sql.DB) *DB {
	return &DB{conn: conn}
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.conn.Close()
}

// IncrementUsage bumps the user's rolling counter and returns the
// post-increment record. The window reset and the increment happen in one
// statement, so two concurrent requests can never both observe the same
// pre-increment count (the read-then-write race the in-process limiter had).
func (db *DB) IncrementUsage(ctx context.Context, userID string, window time.Duration) (*models.UsageRecord, error) {
	query := `
		INSERT INTO usage_records (user_id, used_count, last_reset)
		VALUES ($1, 1, NOW())
		ON CONFLICT (user_id) DO UPDATE SET
			used_count = CASE
				WHEN usage_records.last_reset < NOW() - $2 * interval '1 second'
				THEN 1
				ELSE usage_records.used_count + 1
			END,
			last_reset = CASE
				WHEN usage_records.last_reset < NOW() - $2 * interval '1 second'
				THEN NOW()
				ELSE usage_records.last_reset
			END
		RETURNING user_id, used_count, last_reset
	`

	var rec models.UsageRecord
	err := db.conn.QueryRowContext(ctx, query, userID, int64(window.Seconds())).Scan(
		&rec.UserID,
		&rec.UsedCount,
		&rec.LastReset,
	)
	if err != nil {
		return nil, fmt.Errorf("usage increment failed: %w", err)
	}

	return &rec, nil
}

// GetUsage retrieves the current counter for a user, if one exists.
func (db *DB) GetUsage(ctx context.Context, userID string) (*models.UsageRecord, error) {
	query := `SELECT user_id, used_count, last_reset FROM usage_records WHERE user_id = $1`

	var rec models.UsageRecord
	err := db.conn.QueryRowContext(ctx, query, userID).Scan(
		&rec.UserID,
		&rec.UsedCount,
		&rec.LastReset,
	)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("no usage record for %s", userID)
	}
	if err != nil {
		return nil, fmt.Errorf("database error: %w", err)
	}

	return &rec, nil
}

// LogInference logs a gateway request
func (db *DB) LogInference(ctx context.Context, log *models.InferenceLog) error {
	query := `
		INSERT INTO inference_logs (
			request_id, user_id, endpoint, upstream, latency_ms,
			failover_used, status_code, error_kind, error_message
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err := db.conn.ExecContext(ctx,
		query,
		log.RequestID,
		log.UserID,
		log.Endpoint,
		log.Upstream,
		log.LatencyMs,
		log.FailoverUsed,
		log.StatusCode,
		log.ErrorKind,
		log.ErrorMessage,
	)

	return err
}
