package store

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/titledesk/mailroom/internal/domain"
)

func TestInsertEventOnceNewEvent(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("INSERT INTO email_events").
		WillReturnResult(sqlmock.NewResult(0, 1))

	repo := NewEventRepo(db)
	inserted, err := repo.InsertEventOnce(context.Background(), domain.EmailEvent{
		ID:              "evt-uuid-1",
		ProviderID:      "sp-1",
		Kind:            domain.ProviderSparkPost,
		ProviderEventID: "sp-evt-1",
		Type:            domain.EventBounced,
		Recipient:       "gone@example.com",
		Timestamp:       time.Now(),
	})
	require.NoError(t, err)
	assert.True(t, inserted)
}

func TestInsertEventOnceDuplicateReturnsFalse(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	// ON CONFLICT DO NOTHING: the duplicate inserts zero rows.
	mock.ExpectExec("INSERT INTO email_events").
		WillReturnResult(sqlmock.NewResult(0, 0))

	repo := NewEventRepo(db)
	inserted, err := repo.InsertEventOnce(context.Background(), domain.EmailEvent{
		ID:              "evt-uuid-2",
		Kind:            domain.ProviderSparkPost,
		ProviderEventID: "sp-evt-1",
		Type:            domain.EventBounced,
	})
	require.NoError(t, err)
	assert.False(t, inserted)
}

func TestMetricsAggregatesAndComputesRates(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	q := domain.MetricsQuery{
		From: time.Now().Add(-24 * time.Hour),
		To:   time.Now(),
	}

	mock.ExpectQuery("FROM send_attempts").
		WithArgs(q.From, q.To, "", "", "").
		WillReturnRows(sqlmock.NewRows([]string{"sent", "failed"}).AddRow(1000, 25))
	mock.ExpectQuery("FROM email_events").
		WithArgs(q.From, q.To, "").
		WillReturnRows(sqlmock.NewRows([]string{
			"delivered", "bounced", "complained", "opened", "clicked", "unsubscribed",
		}).AddRow(950, 30, 2, 400, 120, 5))

	repo := NewEventRepo(db)
	m, err := repo.Metrics(context.Background(), q)
	require.NoError(t, err)

	assert.Equal(t, int64(1000), m.Sent)
	assert.Equal(t, int64(25), m.Failed)
	assert.Equal(t, int64(950), m.Delivered)
	assert.InDelta(t, 95.0, m.DeliveryRate, 0.01)
	assert.InDelta(t, 3.0, m.BounceRate, 0.01)
	assert.InDelta(t, 42.1, m.OpenRate, 0.1)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMetricsByProviderQueriesEachProvider(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	q := domain.MetricsQuery{From: time.Now().Add(-time.Hour), To: time.Now()}
	providers := []domain.ProviderConfig{
		{ID: "sp-1", Kind: domain.ProviderSparkPost},
		{ID: "ses-1", Kind: domain.ProviderSES},
	}

	for _, p := range providers {
		mock.ExpectQuery("FROM send_attempts").
			WithArgs(q.From, q.To, p.ID, "", "").
			WillReturnRows(sqlmock.NewRows([]string{"sent", "failed"}).AddRow(10, 0))
		mock.ExpectQuery("FROM email_events").
			WithArgs(q.From, q.To, p.ID).
			WillReturnRows(sqlmock.NewRows([]string{
				"delivered", "bounced", "complained", "opened", "clicked", "unsubscribed",
			}).AddRow(10, 0, 0, 0, 0, 0))
	}

	repo := NewEventRepo(db)
	out, err := repo.MetricsByProvider(context.Background(), q, providers)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "sp-1", out[0].ProviderID)
	assert.Equal(t, "ses-1", out[1].ProviderID)
	assert.NoError(t, mock.ExpectationsWereMet())
}
