package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/titledesk/mailroom/internal/domain"
)

// AttemptRepo writes the per-send audit trail and provider health
// snapshots.
type AttemptRepo struct{ db *sql.DB }

// NewAttemptRepo creates a Postgres-backed attempt repository.
func NewAttemptRepo(db *sql.DB) *AttemptRepo { return &AttemptRepo{db: db} }

// SaveSendResult records one terminal dispatch outcome, including the
// failover chain when the message moved across providers.
func (r *AttemptRepo) SaveSendResult(ctx context.Context, msg *domain.EmailData, result domain.SendResult) error {
	var failovers []byte
	if len(result.Failovers) > 0 {
		b, err := json.Marshal(result.Failovers)
		if err != nil {
			return fmt.Errorf("marshal failovers: %w", err)
		}
		failovers = b
	}

	recipient := ""
	if len(msg.To) > 0 {
		recipient = msg.To[0]
	}

	var sentAt sql.NullTime
	if !result.SentAt.IsZero() {
		sentAt = sql.NullTime{Time: result.SentAt, Valid: true}
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO send_attempts
			(id, message_id, provider_id, kind, message_type, category, recipient,
			 success, error, error_class, duration_ms, failovers, sent_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, uuid.New().String(), result.MessageID, result.ProviderID, result.Kind,
		msg.MessageType, msg.Category, recipient,
		result.Success, result.Error, result.ErrorClass, result.DurationMs, failovers, sentAt)
	if err != nil {
		return fmt.Errorf("save send attempt: %w", err)
	}
	return nil
}

// SaveHealthSnapshot upserts the latest health state for one provider so
// counters survive restarts.
func (r *AttemptRepo) SaveHealthSnapshot(ctx context.Context, s domain.ProviderHealthStatus) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO provider_health_snapshots
			(provider_id, status, health_score, consecutive_failures,
			 sent, delivered, failed, bounced, complained, avg_response_time_ms, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW())
		ON CONFLICT (provider_id) DO UPDATE SET
			status = $2, health_score = $3, consecutive_failures = $4,
			sent = $5, delivered = $6, failed = $7, bounced = $8, complained = $9,
			avg_response_time_ms = $10, updated_at = NOW()
	`, s.ProviderID, s.Status, s.HealthScore, s.ConsecutiveFailures,
		s.Sent, s.Delivered, s.Failed, s.Bounced, s.Complained, s.AvgResponseTimeMs)
	if err != nil {
		return fmt.Errorf("save health snapshot: %w", err)
	}
	return nil
}

// LoadHealthSnapshots returns every persisted snapshot, keyed by provider.
func (r *AttemptRepo) LoadHealthSnapshots(ctx context.Context) (map[string]domain.ProviderHealthStatus, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT provider_id, status, health_score, consecutive_failures,
		       sent, delivered, failed, bounced, complained, avg_response_time_ms, updated_at
		FROM provider_health_snapshots
	`)
	if err != nil {
		return nil, fmt.Errorf("load health snapshots: %w", err)
	}
	defer rows.Close()

	out := make(map[string]domain.ProviderHealthStatus)
	for rows.Next() {
		var s domain.ProviderHealthStatus
		if err := rows.Scan(&s.ProviderID, &s.Status, &s.HealthScore, &s.ConsecutiveFailures,
			&s.Sent, &s.Delivered, &s.Failed, &s.Bounced, &s.Complained,
			&s.AvgResponseTimeMs, &s.LastCheckedAt); err != nil {
			return nil, fmt.Errorf("scan health snapshot: %w", err)
		}
		out[s.ProviderID] = s
	}
	return out, rows.Err()
}
