package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/course-insights-bridge/internal/models"
)

var reportRowColumns = []string{"id", "course_id", "report_type", "trigger_type", "date_from", "date_to", "status", "retry_count", "error_message", "response_data", "triggered_by", "subject_count", "activity_count", "created_at", "updated_at"}

func newMockDB(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func TestReportRepositoryCreateAndGet(t *testing.T) {
	db, mock, cleanup := newMockDB(t)
	defer cleanup()

	repo := NewReportRepository(db)
	from := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 1, 0)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO analytics_reports")).
		WithArgs(sqlmock.AnyArg(), int64(7), "scheduled", "cron", from, to, "pending", 0, nil, nil, nil, 0, 0, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	report := &models.Report{
		CourseID:    7,
		ReportType:  models.ReportTypeScheduled,
		TriggerType: models.TriggerCron,
		DateFrom:    from,
		DateTo:      to,
	}
	require.NoError(t, repo.Create(context.Background(), report))
	require.NotEmpty(t, report.ID)
	require.Equal(t, models.ReportStatusPending, report.Status)

	rows := sqlmock.NewRows(reportRowColumns).
		AddRow(report.ID, 7, "scheduled", "cron", from, to, "pending", 0, nil, nil, nil, 0, 0, time.Now(), time.Now())
	mock.ExpectQuery(regexp.QuoteMeta("FROM analytics_reports WHERE id = $1")).
		WithArgs(report.ID).
		WillReturnRows(rows)

	fetched, err := repo.GetByID(context.Background(), report.ID)
	require.NoError(t, err)
	require.Equal(t, report.ID, fetched.ID)
	require.Equal(t, int64(7), fetched.CourseID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReportRepositoryUpdate(t *testing.T) {
	db, mock, cleanup := newMockDB(t)
	defer cleanup()
	repo := NewReportRepository(db)

	status := models.ReportStatusSending
	retries := 2
	mock.ExpectExec(regexp.QuoteMeta("UPDATE analytics_reports SET status = $1, retry_count = $2, updated_at = $3 WHERE id = $4")).
		WithArgs(status, retries, sqlmock.AnyArg(), "report-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.Update(context.Background(), "report-1", UpdateReportParams{Status: &status, RetryCount: &retries})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReportRepositoryUpdateNoop(t *testing.T) {
	db, mock, cleanup := newMockDB(t)
	defer cleanup()
	repo := NewReportRepository(db)

	require.NoError(t, repo.Update(context.Background(), "report-1", UpdateReportParams{}))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReportRepositoryListByCourse(t *testing.T) {
	db, mock, cleanup := newMockDB(t)
	defer cleanup()
	repo := NewReportRepository(db)

	now := time.Now()
	rows := sqlmock.NewRows(reportRowColumns).
		AddRow("report-2", 7, "on_demand", "manual", now, now, "sent", 1, nil, `{"success":true}`, 12, 30, 120, now, now).
		AddRow("report-1", 7, "scheduled", "cron", now, now, "failed", 3, "HTTP 503", nil, nil, 30, 110, now, now)
	mock.ExpectQuery(regexp.QuoteMeta("FROM analytics_reports WHERE course_id = $1 ORDER BY created_at DESC LIMIT $2")).
		WithArgs(int64(7), 20).
		WillReturnRows(rows)

	reports, err := repo.ListByCourse(context.Background(), 7, 0)
	require.NoError(t, err)
	require.Len(t, reports, 2)
	require.Equal(t, models.ReportStatusSent, reports[0].Status)
	require.NotNil(t, reports[0].TriggeredBy)
	require.Equal(t, "HTTP 503", *reports[1].ErrorMessage)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReportRepositoryListByStatus(t *testing.T) {
	db, mock, cleanup := newMockDB(t)
	defer cleanup()
	repo := NewReportRepository(db)

	now := time.Now()
	rows := sqlmock.NewRows(reportRowColumns).
		AddRow("report-1", 7, "scheduled", "cron", now, now, "failed", 3, "HTTP 503", nil, nil, 30, 110, now, now)
	mock.ExpectQuery(regexp.QuoteMeta("FROM analytics_reports WHERE status = $1 ORDER BY created_at ASC LIMIT $2")).
		WithArgs(models.ReportStatusFailed, 50).
		WillReturnRows(rows)

	reports, err := repo.ListByStatus(context.Background(), models.ReportStatusFailed, 0)
	require.NoError(t, err)
	require.Len(t, reports, 1)
	require.NoError(t, mock.ExpectationsWereMet())
}
