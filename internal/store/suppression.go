package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/titledesk/mailroom/internal/domain"
	"github.com/titledesk/mailroom/internal/suppression"
)

// SuppressionRepo implements suppression.Repository against PostgreSQL.
type SuppressionRepo struct{ db *sql.DB }

// NewSuppressionRepo creates a Postgres-backed suppression repository.
func NewSuppressionRepo(db *sql.DB) *SuppressionRepo { return &SuppressionRepo{db: db} }

// Upsert inserts or replaces the entry for its email. The registry owns
// escalation and expiry logic; the row mirrors its decision.
func (r *SuppressionRepo) Upsert(ctx context.Context, e *domain.SuppressionEntry) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO email_suppressions
			(id, email, reason, source, event_id, detail, active, expires_at, soft_bounce_count, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW(), NOW())
		ON CONFLICT (email) DO UPDATE SET
			reason = $3, source = $4, event_id = $5, detail = $6,
			active = $7, expires_at = $8, soft_bounce_count = $9, updated_at = NOW()
	`, e.ID, e.Email, e.Reason, e.Source, e.EventID, e.Detail, e.Active, e.ExpiresAt, e.SoftBounceCount)
	if err != nil {
		return fmt.Errorf("upsert suppression: %w", err)
	}
	return nil
}

// Deactivate marks the entry for email inactive. Returns
// suppression.ErrNotFound when no active row exists.
func (r *SuppressionRepo) Deactivate(ctx context.Context, email string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE email_suppressions SET active = false, updated_at = NOW() WHERE email = $1 AND active = true`,
		email,
	)
	if err != nil {
		return fmt.Errorf("deactivate suppression: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return suppression.ErrNotFound
	}
	return nil
}

// LoadActive returns every active entry for the registry's in-memory cache.
func (r *SuppressionRepo) LoadActive(ctx context.Context) ([]domain.SuppressionEntry, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, email, reason, source, event_id, detail, active, expires_at, soft_bounce_count, created_at, updated_at
		FROM email_suppressions
		WHERE active = true
	`)
	if err != nil {
		return nil, fmt.Errorf("load active suppressions: %w", err)
	}
	defer rows.Close()

	var out []domain.SuppressionEntry
	for rows.Next() {
		e, err := scanSuppression(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// List returns a page of active entries plus the total active count.
func (r *SuppressionRepo) List(ctx context.Context, limit, offset int) ([]domain.SuppressionEntry, int, error) {
	var total int
	if err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM email_suppressions WHERE active = true`,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count suppressions: %w", err)
	}

	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, email, reason, source, event_id, detail, active, expires_at, soft_bounce_count, created_at, updated_at
		FROM email_suppressions
		WHERE active = true
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list suppressions: %w", err)
	}
	defer rows.Close()

	var out []domain.SuppressionEntry
	for rows.Next() {
		e, err := scanSuppression(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, e)
	}
	return out, total, rows.Err()
}

func scanSuppression(rows *sql.Rows) (domain.SuppressionEntry, error) {
	var e domain.SuppressionEntry
	var eventID, detail sql.NullString
	var expiresAt sql.NullTime
	if err := rows.Scan(&e.ID, &e.Email, &e.Reason, &e.Source, &eventID, &detail,
		&e.Active, &expiresAt, &e.SoftBounceCount, &e.CreatedAt, &e.UpdatedAt); err != nil {
		return e, fmt.Errorf("scan suppression: %w", err)
	}
	e.EventID = eventID.String
	e.Detail = detail.String
	if expiresAt.Valid {
		t := expiresAt.Time
		e.ExpiresAt = &t
	}
	return e, nil
}
