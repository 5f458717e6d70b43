package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
)

func TestSettingsRepositoryGet(t *testing.T) {
	db, mock, cleanup := newMockDB(t)
	defer cleanup()
	repo := NewSettingsRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT key, value, updated_at FROM plugin_settings WHERE key = $1")).
		WithArgs("anonymization_salt").
		WillReturnRows(sqlmock.NewRows([]string{"key", "value", "updated_at"}).AddRow("anonymization_salt", "abc123", time.Now()))

	setting, err := repo.Get(context.Background(), "anonymization_salt")
	require.NoError(t, err)
	require.Equal(t, "abc123", setting.Value)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSettingsRepositoryGetMissing(t *testing.T) {
	db, mock, cleanup := newMockDB(t)
	defer cleanup()
	repo := NewSettingsRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("FROM plugin_settings WHERE key = $1")).
		WithArgs("anonymization_salt").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.Get(context.Background(), "anonymization_salt")
	require.ErrorIs(t, err, sql.ErrNoRows)
}

func TestSettingsRepositoryUpsert(t *testing.T) {
	db, mock, cleanup := newMockDB(t)
	defer cleanup()
	repo := NewSettingsRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO plugin_settings (key, value, updated_at)")).
		WithArgs("anonymization_salt", "def456", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Upsert(context.Background(), "anonymization_salt", "def456"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSettingsRepositoryInsertIfAbsent(t *testing.T) {
	db, mock, cleanup := newMockDB(t)
	defer cleanup()
	repo := NewSettingsRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("ON CONFLICT (key) DO NOTHING")).
		WithArgs("anonymization_salt", "first", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("ON CONFLICT (key) DO NOTHING")).
		WithArgs("anonymization_salt", "second", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	created, err := repo.InsertIfAbsent(context.Background(), "anonymization_salt", "first")
	require.NoError(t, err)
	require.True(t, created)

	created, err = repo.InsertIfAbsent(context.Background(), "anonymization_salt", "second")
	require.NoError(t, err)
	require.False(t, created)
	require.NoError(t, mock.ExpectationsWereMet())
}
