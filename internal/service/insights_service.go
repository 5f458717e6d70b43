package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/course-insights-bridge/internal/client/insights"
	"github.com/noah-isme/course-insights-bridge/internal/models"
	appErrors "github.com/noah-isme/course-insights-bridge/pkg/errors"
)

type insightsPoller interface {
	PollStatus(ctx context.Context, jobID string) (*insights.Response, error)
}

type reportReader interface {
	GetByID(ctx context.Context, id string) (*models.Report, error)
}

// LatestInsights is the most recent analysis received for a course.
type LatestInsights struct {
	ReportID    string            `json:"report_id"`
	CourseID    int64             `json:"course_id"`
	JobID       string            `json:"job_id,omitempty"`
	Pending     bool              `json:"pending"`
	Insights    insights.Insights `json:"insights,omitempty"`
	GeneratedAt time.Time         `json:"generated_at"`
}

// InsightsService keeps the latest insights per course in the cache and resolves
// asynchronous analysis jobs.
type InsightsService struct {
	cache   *CacheService
	poller  insightsPoller
	reports reportReader
	ttl     time.Duration
	logger  *zap.Logger
}

// NewInsightsService constructs the service.
func NewInsightsService(cache *CacheService, poller insightsPoller, reports reportReader, ttl time.Duration, logger *zap.Logger) *InsightsService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &InsightsService{cache: cache, poller: poller, reports: reports, ttl: ttl, logger: logger}
}

func latestKey(courseID int64) string {
	return fmt.Sprintf("insights:course:%d", courseID)
}

// StoreLatest caches insights for a course, replacing the previous entry.
func (s *InsightsService) StoreLatest(ctx context.Context, courseID int64, latest LatestInsights) error {
	return s.cache.Set(ctx, latestKey(courseID), latest, s.ttl)
}

// Latest returns the cached insights for a course.
func (s *InsightsService) Latest(ctx context.Context, courseID int64) (*LatestInsights, error) {
	var latest LatestInsights
	hit, err := s.cache.Get(ctx, latestKey(courseID), &latest)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to read cached insights")
	}
	if !hit {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "no insights available for course")
	}
	return &latest, nil
}

// Poll asks the analytics service for the result of a sent report's async job. Ready
// insights replace the cached entry for the course.
func (s *InsightsService) Poll(ctx context.Context, reportID string) (*LatestInsights, error) {
	report, err := s.reports.GetByID(ctx, reportID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrNotFound
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load report")
	}
	if report.Status != models.ReportStatusSent {
		return nil, appErrors.Clone(appErrors.ErrValidation, "report has not been delivered")
	}
	jobID := jobIDFromResponse(report.ResponseData)
	if jobID == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "report was not processed asynchronously")
	}

	resp, err := s.poller.PollStatus(ctx, jobID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrDeliveryFailed.Code, appErrors.ErrDeliveryFailed.Status, "failed to poll analytics job")
	}
	if resp.Kind == insights.KindError {
		return nil, appErrors.Clone(appErrors.ErrDeliveryRejected, resp.ErrorMessage())
	}

	latest := &LatestInsights{
		ReportID:    report.ID,
		CourseID:    report.CourseID,
		JobID:       jobID,
		Pending:     resp.Kind != insights.KindInsights || len(resp.Insights) == 0,
		Insights:    resp.Insights,
		GeneratedAt: time.Now().UTC(),
	}
	if !latest.Pending {
		if err := s.StoreLatest(ctx, report.CourseID, *latest); err != nil {
			s.logger.Warn("failed to cache polled insights", zap.String("report_id", report.ID), zap.Error(err))
		}
	}
	return latest, nil
}

func jobIDFromResponse(raw *string) string {
	if raw == nil || *raw == "" {
		return ""
	}
	var body struct {
		JobID string `json:"job_id"`
	}
	if err := json.Unmarshal([]byte(*raw), &body); err != nil {
		return ""
	}
	return body.JobID
}
