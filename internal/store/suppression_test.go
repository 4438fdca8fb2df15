package store

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/titledesk/mailroom/internal/domain"
	"github.com/titledesk/mailroom/internal/suppression"
)

func suppressionColumns() []string {
	return []string{"id", "email", "reason", "source", "event_id", "detail",
		"active", "expires_at", "soft_bounce_count", "created_at", "updated_at"}
}

func TestSuppressionUpsertAssignsID(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	entry := &domain.SuppressionEntry{
		Email:  "gone@example.com",
		Reason: domain.ReasonHardBounce,
		Source: domain.SourceWebhook,
		Active: true,
	}

	mock.ExpectExec("INSERT INTO email_suppressions").
		WithArgs(sqlmock.AnyArg(), entry.Email, entry.Reason, entry.Source,
			entry.EventID, entry.Detail, entry.Active, entry.ExpiresAt, entry.SoftBounceCount).
		WillReturnResult(sqlmock.NewResult(0, 1))

	repo := NewSuppressionRepo(db)
	require.NoError(t, repo.Upsert(context.Background(), entry))
	assert.NotEmpty(t, entry.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSuppressionDeactivate(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("UPDATE email_suppressions SET active = false").
		WithArgs("gone@example.com").
		WillReturnResult(sqlmock.NewResult(0, 1))

	repo := NewSuppressionRepo(db)
	assert.NoError(t, repo.Deactivate(context.Background(), "gone@example.com"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSuppressionDeactivateNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("UPDATE email_suppressions SET active = false").
		WithArgs("unknown@example.com").
		WillReturnResult(sqlmock.NewResult(0, 0))

	repo := NewSuppressionRepo(db)
	err = repo.Deactivate(context.Background(), "unknown@example.com")
	assert.ErrorIs(t, err, suppression.ErrNotFound)
}

func TestSuppressionLoadActive(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	now := time.Now()
	expires := now.Add(7 * 24 * time.Hour)
	rows := sqlmock.NewRows(suppressionColumns()).
		AddRow("id-1", "hard@example.com", "hard_bounce", "webhook", "evt-1", "550 user unknown",
			true, nil, 0, now, now).
		AddRow("id-2", "soft@example.com", "soft_bounce", "webhook", "evt-2", "mailbox full",
			true, expires, 1, now, now)

	mock.ExpectQuery("SELECT (.+) FROM email_suppressions").WillReturnRows(rows)

	repo := NewSuppressionRepo(db)
	entries, err := repo.LoadActive(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, domain.ReasonHardBounce, entries[0].Reason)
	assert.Nil(t, entries[0].ExpiresAt)
	assert.Equal(t, domain.ReasonSoftBounce, entries[1].Reason)
	require.NotNil(t, entries[1].ExpiresAt)
	assert.WithinDuration(t, expires, *entries[1].ExpiresAt, time.Second)
	assert.Equal(t, 1, entries[1].SoftBounceCount)
}

func TestSuppressionList(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	now := time.Now()
	mock.ExpectQuery("SELECT COUNT").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(42))
	mock.ExpectQuery("SELECT (.+) FROM email_suppressions").
		WithArgs(10, 20).
		WillReturnRows(sqlmock.NewRows(suppressionColumns()).
			AddRow("id-1", "a@example.com", "manual", "manual", "", "",
				true, nil, 0, now, now))

	repo := NewSuppressionRepo(db)
	entries, total, err := repo.List(context.Background(), 10, 20)
	require.NoError(t, err)
	assert.Equal(t, 42, total)
	require.Len(t, entries, 1)
	assert.Equal(t, "a@example.com", entries[0].Email)
	assert.NoError(t, mock.ExpectationsWereMet())
}
