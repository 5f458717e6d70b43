package service

import (
	"context"
	"database/sql"
	"errors"

	"go.uber.org/zap"

	"github.com/noah-isme/course-insights-bridge/internal/dto"
	"github.com/noah-isme/course-insights-bridge/internal/models"
	"github.com/noah-isme/course-insights-bridge/internal/repository"
	appErrors "github.com/noah-isme/course-insights-bridge/pkg/errors"
)

type reportQueryStore interface {
	GetByID(ctx context.Context, id string) (*models.Report, error)
	Update(ctx context.Context, id string, params repository.UpdateReportParams) error
	ListByCourse(ctx context.Context, courseID int64, limit int) ([]models.Report, error)
	ListByStatus(ctx context.Context, status models.ReportStatus, limit int) ([]models.Report, error)
}

// ReportService exposes persisted report state and cleans up runs interrupted by a
// process restart.
type ReportService struct {
	repo   reportQueryStore
	logger *zap.Logger
}

// NewReportService constructs the report service.
func NewReportService(repo reportQueryStore, logger *zap.Logger) *ReportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReportService{repo: repo, logger: logger}
}

// Get returns one report, enforcing course access for the caller.
func (s *ReportService) Get(ctx context.Context, id string, caller *models.JWTClaims) (*dto.ReportStatusResponse, error) {
	report, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrNotFound
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load report")
	}
	if !caller.CanAccessCourse(report.CourseID) {
		// Indistinguishable from a missing report for callers outside the course.
		return nil, appErrors.ErrNotFound
	}
	resp := dto.NewReportStatusResponse(report)
	return &resp, nil
}

// ListByCourse returns the most recent reports for a course.
func (s *ReportService) ListByCourse(ctx context.Context, courseID int64, limit int, caller *models.JWTClaims) ([]dto.ReportStatusResponse, error) {
	if !caller.CanAccessCourse(courseID) {
		return nil, appErrors.ErrForbidden
	}
	reports, err := s.repo.ListByCourse(ctx, courseID, clampLimit(limit))
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list reports")
	}
	return toStatusResponses(reports), nil
}

// ListByStatus returns reports in a status across all courses. Administrators and the
// scheduler use it to find failed runs.
func (s *ReportService) ListByStatus(ctx context.Context, status models.ReportStatus, limit int) ([]dto.ReportStatusResponse, error) {
	if !status.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "unknown report status")
	}
	reports, err := s.repo.ListByStatus(ctx, status, clampLimit(limit))
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list reports")
	}
	return toStatusResponses(reports), nil
}

// FailInterrupted marks reports left pending or sending by a previous process as failed.
// Runs are never resumed, so such rows would otherwise stay non-terminal forever. It
// must run before the worker queue starts accepting work.
func (s *ReportService) FailInterrupted(ctx context.Context) int {
	const msg = "report run interrupted by service restart"
	failed := 0
	for _, status := range []models.ReportStatus{models.ReportStatusPending, models.ReportStatusSending} {
		reports, err := s.repo.ListByStatus(ctx, status, 500)
		if err != nil {
			s.logger.Warn("failed to list interrupted reports", zap.String("status", string(status)), zap.Error(err))
			continue
		}
		for i := range reports {
			report := &reports[i]
			if err := transition(ctx, s.repo, report, models.ReportStatusFailed, repository.UpdateReportParams{ErrorMessage: stringPtr(msg)}); err != nil {
				s.logger.Warn("failed to mark interrupted report", zap.String("report_id", report.ID), zap.Error(err))
				continue
			}
			failed++
		}
	}
	if failed > 0 {
		s.logger.Warn("marked interrupted reports as failed", zap.Int("count", failed))
	}
	return failed
}

func toStatusResponses(reports []models.Report) []dto.ReportStatusResponse {
	out := make([]dto.ReportStatusResponse, 0, len(reports))
	for i := range reports {
		out = append(out, dto.NewReportStatusResponse(&reports[i]))
	}
	return out
}

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return 20
	case limit > 100:
		return 100
	default:
		return limit
	}
}
