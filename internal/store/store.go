// Package store holds the PostgreSQL persistence layer: suppression
// entries, canonical email events, send attempt audit records, and
// provider health snapshots.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// Open connects to PostgreSQL and verifies the connection.
func Open(ctx context.Context, databaseURL string) (*sql.DB, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

// EnsureSchema creates the tables and indexes this service needs.
// Idempotent; safe to run at every startup.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS email_suppressions (
			id VARCHAR(100) PRIMARY KEY,
			email VARCHAR(255) NOT NULL UNIQUE,
			reason VARCHAR(50) NOT NULL,
			source VARCHAR(50) NOT NULL,
			event_id VARCHAR(100),
			detail TEXT,
			active BOOLEAN NOT NULL DEFAULT TRUE,
			expires_at TIMESTAMP WITH TIME ZONE,
			soft_bounce_count INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
			updated_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_suppressions_active ON email_suppressions(active)`,
		`CREATE INDEX IF NOT EXISTS idx_suppressions_reason ON email_suppressions(reason)`,

		`CREATE TABLE IF NOT EXISTS email_events (
			id VARCHAR(100) PRIMARY KEY,
			provider_id VARCHAR(100) NOT NULL,
			kind VARCHAR(50) NOT NULL,
			provider_event_id VARCHAR(255) NOT NULL,
			event_type VARCHAR(50) NOT NULL,
			message_id VARCHAR(255),
			recipient VARCHAR(255),
			event_timestamp TIMESTAMP WITH TIME ZONE NOT NULL,
			bounce_class VARCHAR(20),
			bounce_reason TEXT,
			complaint_type VARCHAR(100),
			click_url TEXT,
			user_agent TEXT,
			geo_ip VARCHAR(100),
			created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
			UNIQUE(kind, provider_event_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_provider ON email_events(provider_id)`,
		`CREATE INDEX IF NOT EXISTS idx_events_type_ts ON email_events(event_type, event_timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_events_message ON email_events(message_id)`,

		`CREATE TABLE IF NOT EXISTS send_attempts (
			id VARCHAR(100) PRIMARY KEY,
			message_id VARCHAR(255),
			provider_id VARCHAR(100),
			kind VARCHAR(50),
			message_type VARCHAR(50),
			category VARCHAR(100),
			recipient VARCHAR(255),
			success BOOLEAN NOT NULL,
			error TEXT,
			error_class VARCHAR(50),
			duration_ms BIGINT,
			failovers JSONB,
			sent_at TIMESTAMP WITH TIME ZONE,
			created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_attempts_provider_ts ON send_attempts(provider_id, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_attempts_success ON send_attempts(success)`,

		`CREATE TABLE IF NOT EXISTS provider_health_snapshots (
			provider_id VARCHAR(100) PRIMARY KEY,
			status VARCHAR(20) NOT NULL,
			health_score DOUBLE PRECISION NOT NULL,
			consecutive_failures INTEGER NOT NULL,
			sent BIGINT NOT NULL,
			delivered BIGINT NOT NULL,
			failed BIGINT NOT NULL,
			bounced BIGINT NOT NULL,
			complained BIGINT NOT NULL,
			avg_response_time_ms DOUBLE PRECISION NOT NULL,
			updated_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
		)`,
	}

	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}
