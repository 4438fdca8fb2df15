package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/titledesk/mailroom/internal/domain"
)

// EventRepo persists canonical email events. The (kind, provider_event_id)
// unique constraint makes InsertEventOnce the authoritative dedup gate.
type EventRepo struct{ db *sql.DB }

// NewEventRepo creates a Postgres-backed event repository.
func NewEventRepo(db *sql.DB) *EventRepo { return &EventRepo{db: db} }

// InsertEventOnce inserts the event and reports whether it was new.
// A conflicting (kind, provider_event_id) pair inserts nothing and
// returns false.
func (r *EventRepo) InsertEventOnce(ctx context.Context, e domain.EmailEvent) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO email_events
			(id, provider_id, kind, provider_event_id, event_type, message_id, recipient,
			 event_timestamp, bounce_class, bounce_reason, complaint_type, click_url, user_agent, geo_ip)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (kind, provider_event_id) DO NOTHING
	`, e.ID, e.ProviderID, e.Kind, e.ProviderEventID, e.Type, e.MessageID, e.Recipient,
		e.Timestamp, e.BounceClass, e.BounceReason, e.ComplaintType, e.ClickURL, e.UserAgent, e.GeoIP)
	if err != nil {
		return false, fmt.Errorf("insert event: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert event rows: %w", err)
	}
	return n > 0, nil
}

// Metrics aggregates delivery outcomes over the query window. Sent and
// failed counts come from the attempt audit trail; everything downstream
// of the provider comes from reconciled events.
func (r *EventRepo) Metrics(ctx context.Context, q domain.MetricsQuery) (domain.EmailMetrics, error) {
	var m domain.EmailMetrics

	err := r.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE success),
			COUNT(*) FILTER (WHERE NOT success)
		FROM send_attempts
		WHERE created_at >= $1 AND created_at < $2
		  AND ($3 = '' OR provider_id = $3)
		  AND ($4 = '' OR message_type = $4)
		  AND ($5 = '' OR category = $5)
	`, q.From, q.To, q.ProviderID, q.MessageType, q.Category).Scan(&m.Sent, &m.Failed)
	if err != nil {
		return m, fmt.Errorf("aggregate attempts: %w", err)
	}

	// Event rows carry no message_type/category; the provider filter is
	// the only breakdown that applies to them.
	err = r.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE event_type = 'DELIVERED'),
			COUNT(*) FILTER (WHERE event_type = 'BOUNCED'),
			COUNT(*) FILTER (WHERE event_type = 'SPAM_REPORT'),
			COUNT(*) FILTER (WHERE event_type = 'OPENED'),
			COUNT(*) FILTER (WHERE event_type = 'CLICKED'),
			COUNT(*) FILTER (WHERE event_type = 'UNSUBSCRIBED')
		FROM email_events
		WHERE event_timestamp >= $1 AND event_timestamp < $2
		  AND ($3 = '' OR provider_id = $3)
	`, q.From, q.To, q.ProviderID).Scan(&m.Delivered, &m.Bounced, &m.Complained, &m.Opened, &m.Clicked, &m.Unsubscribed)
	if err != nil {
		return m, fmt.Errorf("aggregate events: %w", err)
	}

	m.ComputeRates()
	return m, nil
}

// MetricsByProvider returns the window broken down per provider.
func (r *EventRepo) MetricsByProvider(ctx context.Context, q domain.MetricsQuery, providers []domain.ProviderConfig) ([]domain.ProviderMetrics, error) {
	out := make([]domain.ProviderMetrics, 0, len(providers))
	for _, p := range providers {
		pq := q
		pq.ProviderID = p.ID
		m, err := r.Metrics(ctx, pq)
		if err != nil {
			return nil, err
		}
		out = append(out, domain.ProviderMetrics{ProviderID: p.ID, Kind: p.Kind, EmailMetrics: m})
	}
	return out, nil
}
