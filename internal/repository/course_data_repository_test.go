package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCourseDataRepositoryEnrolledSubjects(t *testing.T) {
	db, mock, cleanup := newMockDB(t)
	defer cleanup()
	repo := NewCourseDataRepository(db)

	enrolled := time.Date(2026, 8, 20, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery(regexp.QuoteMeta("FROM mdl_user_enrolments ue")).
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"user_id", "enrolled_at"}).
			AddRow(101, enrolled).
			AddRow(102, enrolled))

	subjects, err := repo.EnrolledSubjects(context.Background(), 7)
	require.NoError(t, err)
	require.Len(t, subjects, 2)
	assert.Equal(t, int64(101), subjects[0].ID)
	assert.Equal(t, enrolled, subjects[1].EnrolledAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCourseDataRepositoryActivitySummary(t *testing.T) {
	db, mock, cleanup := newMockDB(t)
	defer cleanup()
	repo := NewCourseDataRepository(db)

	from := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 1, 0)
	last := to.Add(-48 * time.Hour)
	mock.ExpectQuery(regexp.QuoteMeta("timecreated BETWEEN $3 AND $4")).
		WithArgs(int64(7), int64(101), from.Unix(), to.Unix(), loginEvent).
		WillReturnRows(sqlmock.NewRows([]string{"logins", "views", "creates", "updates", "active_days"}).
			AddRow(12, 140, 6, 3, 9))
	mock.ExpectQuery(regexp.QuoteMeta("MAX(timecreated)")).
		WithArgs(int64(7), int64(101), to.Unix()).
		WillReturnRows(sqlmock.NewRows([]string{"last_access"}).AddRow(last))

	facts, err := repo.ActivitySummary(context.Background(), 7, 101, from, to)
	require.NoError(t, err)
	assert.Equal(t, 12, facts.Logins)
	assert.Equal(t, 140, facts.Views)
	assert.Equal(t, 9, facts.ActiveDays)
	require.NotNil(t, facts.LastAccess)
	assert.Equal(t, last, *facts.LastAccess)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCourseDataRepositoryActivitySummaryLastAccessBeforeWindow(t *testing.T) {
	db, mock, cleanup := newMockDB(t)
	defer cleanup()
	repo := NewCourseDataRepository(db)

	from := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 0, 30)
	last := to.AddDate(0, 0, -40)
	mock.ExpectQuery(regexp.QuoteMeta("timecreated BETWEEN $3 AND $4")).
		WithArgs(int64(7), int64(101), from.Unix(), to.Unix(), loginEvent).
		WillReturnRows(sqlmock.NewRows([]string{"logins", "views", "creates", "updates", "active_days"}).
			AddRow(0, 0, 0, 0, 0))
	// Only bounded by the end of the window.
	mock.ExpectQuery(regexp.QuoteMeta("timecreated <= $3")).
		WithArgs(int64(7), int64(101), to.Unix()).
		WillReturnRows(sqlmock.NewRows([]string{"last_access"}).AddRow(last))

	facts, err := repo.ActivitySummary(context.Background(), 7, 101, from, to)
	require.NoError(t, err)
	assert.Zero(t, facts.Views)
	require.NotNil(t, facts.LastAccess)
	assert.True(t, facts.LastAccess.Before(from))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCourseDataRepositoryActivitySummaryNeverAccessed(t *testing.T) {
	db, mock, cleanup := newMockDB(t)
	defer cleanup()
	repo := NewCourseDataRepository(db)

	from := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 0, 30)
	mock.ExpectQuery(regexp.QuoteMeta("timecreated BETWEEN $3 AND $4")).
		WillReturnRows(sqlmock.NewRows([]string{"logins", "views", "creates", "updates", "active_days"}).
			AddRow(0, 0, 0, 0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("MAX(timecreated)")).
		WillReturnRows(sqlmock.NewRows([]string{"last_access"}).AddRow(nil))

	facts, err := repo.ActivitySummary(context.Background(), 7, 101, from, to)
	require.NoError(t, err)
	assert.Nil(t, facts.LastAccess)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCourseDataRepositoryGradeSummaryWithoutCourseTotal(t *testing.T) {
	db, mock, cleanup := newMockDB(t)
	defer cleanup()
	repo := NewCourseDataRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("gi.itemtype = 'course'")).
		WithArgs(int64(7), int64(101)).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery(regexp.QuoteMeta("gi.itemtype = 'mod'")).
		WithArgs(int64(7), int64(101)).
		WillReturnRows(sqlmock.NewRows([]string{"percent"}).AddRow(72.5).AddRow(64.0))

	facts, err := repo.GradeSummary(context.Background(), 7, 101)
	require.NoError(t, err)
	assert.Nil(t, facts.FinalGrade)
	assert.Equal(t, []float64{72.5, 64.0}, facts.ItemPercents)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCourseDataRepositoryCompletionStatus(t *testing.T) {
	db, mock, cleanup := newMockDB(t)
	defer cleanup()
	repo := NewCourseDataRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("FROM mdl_course_modules cm")).
		WithArgs(int64(7), int64(101)).
		WillReturnRows(sqlmock.NewRows([]string{"completed", "total"}).AddRow(3, 12))

	facts, err := repo.CompletionStatus(context.Background(), 7, 101)
	require.NoError(t, err)
	assert.Equal(t, 0.25, facts.Rate())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCourseDataRepositoryAccessTimestamps(t *testing.T) {
	db, mock, cleanup := newMockDB(t)
	defer cleanup()
	repo := NewCourseDataRepository(db)

	from := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 0, 30)
	first := from.Add(2 * time.Hour)
	second := first.Add(10 * time.Minute)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT to_timestamp(timecreated)")).
		WithArgs(int64(7), int64(101), from.Unix(), to.Unix()).
		WillReturnRows(sqlmock.NewRows([]string{"to_timestamp"}).AddRow(first).AddRow(second))

	stamps, err := repo.AccessTimestamps(context.Background(), 7, 101, from, to)
	require.NoError(t, err)
	assert.Equal(t, []time.Time{first, second}, stamps)
	require.NoError(t, mock.ExpectationsWereMet())
}
