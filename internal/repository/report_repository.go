package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/course-insights-bridge/internal/models"
)

const reportColumns = `id, course_id, report_type, trigger_type, date_from, date_to, status, retry_count, error_message, response_data, triggered_by, subject_count, activity_count, created_at, updated_at`

// ReportRepository persists analytics report rows.
type ReportRepository struct {
	db *sqlx.DB
}

// NewReportRepository constructs the repository.
func NewReportRepository(db *sqlx.DB) *ReportRepository {
	return &ReportRepository{db: db}
}

// Create inserts a new report row with generated defaults.
func (r *ReportRepository) Create(ctx context.Context, report *models.Report) error {
	if report.ID == "" {
		report.ID = uuid.NewString()
	}
	if report.Status == "" {
		report.Status = models.ReportStatusPending
	}
	now := time.Now().UTC()
	if report.CreatedAt.IsZero() {
		report.CreatedAt = now
	}
	report.UpdatedAt = report.CreatedAt
	const query = `INSERT INTO analytics_reports (` + reportColumns + `)
VALUES (:id, :course_id, :report_type, :trigger_type, :date_from, :date_to, :status, :retry_count, :error_message, :response_data, :triggered_by, :subject_count, :activity_count, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, report); err != nil {
		return fmt.Errorf("create analytics report: %w", err)
	}
	return nil
}

// GetByID returns a report row by its identifier.
func (r *ReportRepository) GetByID(ctx context.Context, id string) (*models.Report, error) {
	const query = `SELECT ` + reportColumns + ` FROM analytics_reports WHERE id = $1`
	var report models.Report
	if err := r.db.GetContext(ctx, &report, query, id); err != nil {
		return nil, fmt.Errorf("get analytics report: %w", err)
	}
	return &report, nil
}

// UpdateReportParams defines the mutable fields. Nil fields are left untouched;
// updated_at is always refreshed.
type UpdateReportParams struct {
	Status        *models.ReportStatus
	RetryCount    *int
	ErrorMessage  *string
	ResponseData  *string
	SubjectCount  *int
	ActivityCount *int
}

// Update persists the provided changes for a report row.
func (r *ReportRepository) Update(ctx context.Context, id string, params UpdateReportParams) error {
	set := make([]string, 0, 7)
	args := make([]interface{}, 0, 8)

	add := func(column string, value interface{}) {
		args = append(args, value)
		set = append(set, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if params.Status != nil {
		add("status", *params.Status)
	}
	if params.RetryCount != nil {
		add("retry_count", *params.RetryCount)
	}
	if params.ErrorMessage != nil {
		add("error_message", *params.ErrorMessage)
	}
	if params.ResponseData != nil {
		add("response_data", *params.ResponseData)
	}
	if params.SubjectCount != nil {
		add("subject_count", *params.SubjectCount)
	}
	if params.ActivityCount != nil {
		add("activity_count", *params.ActivityCount)
	}

	if len(set) == 0 {
		return nil
	}
	add("updated_at", time.Now().UTC())

	query := fmt.Sprintf("UPDATE analytics_reports SET %s WHERE id = $%d", strings.Join(set, ", "), len(args)+1)
	args = append(args, id)

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("update analytics report: %w", err)
	}
	return nil
}

// ListByCourse returns the most recent reports for a course.
func (r *ReportRepository) ListByCourse(ctx context.Context, courseID int64, limit int) ([]models.Report, error) {
	if limit <= 0 {
		limit = 20
	}
	const query = `SELECT ` + reportColumns + ` FROM analytics_reports WHERE course_id = $1 ORDER BY created_at DESC LIMIT $2`
	var reports []models.Report
	if err := r.db.SelectContext(ctx, &reports, query, courseID, limit); err != nil {
		return nil, fmt.Errorf("list analytics reports: %w", err)
	}
	return reports, nil
}

// ListByStatus returns reports currently in the given status, oldest first.
func (r *ReportRepository) ListByStatus(ctx context.Context, status models.ReportStatus, limit int) ([]models.Report, error) {
	if limit <= 0 {
		limit = 50
	}
	const query = `SELECT ` + reportColumns + ` FROM analytics_reports WHERE status = $1 ORDER BY created_at ASC LIMIT $2`
	var reports []models.Report
	if err := r.db.SelectContext(ctx, &reports, query, status, limit); err != nil {
		return nil, fmt.Errorf("list analytics reports by status: %w", err)
	}
	return reports, nil
}
