package service

import (
	"context"
	"fmt"
	"time"

	"github.com/noah-isme/course-insights-bridge/internal/models"
	"github.com/noah-isme/course-insights-bridge/internal/repository"
	appErrors "github.com/noah-isme/course-insights-bridge/pkg/errors"
)

type reportUpdater interface {
	Update(ctx context.Context, id string, params repository.UpdateReportParams) error
}

// transition moves report to next, persisting params alongside the new status. The
// in-memory report is updated even when persistence fails so callers keep an accurate
// view of the run.
func transition(ctx context.Context, store reportUpdater, report *models.Report, next models.ReportStatus, params repository.UpdateReportParams) error {
	if !report.Status.CanTransition(next) {
		return appErrors.Clone(appErrors.ErrInvalidTransition, fmt.Sprintf("report %s cannot move from %s to %s", report.ID, report.Status, next))
	}
	params.Status = &next
	report.Status = next
	if params.RetryCount != nil {
		report.RetryCount = *params.RetryCount
	}
	if params.ErrorMessage != nil {
		report.ErrorMessage = params.ErrorMessage
	}
	if params.ResponseData != nil {
		report.ResponseData = params.ResponseData
	}
	report.UpdatedAt = time.Now().UTC()
	if err := store.Update(ctx, report.ID, params); err != nil {
		return fmt.Errorf("persist report %s status %s: %w", report.ID, next, err)
	}
	return nil
}

// Sleeper blocks for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// SleepContext is the production Sleeper.
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func stringPtr(v string) *string {
	return &v
}

func intPtr(v int) *int {
	return &v
}
