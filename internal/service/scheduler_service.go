package service

import (
	"context"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/course-insights-bridge/internal/dto"
	"github.com/noah-isme/course-insights-bridge/internal/models"
	appErrors "github.com/noah-isme/course-insights-bridge/pkg/errors"
	"github.com/noah-isme/course-insights-bridge/pkg/jobs"
)

// ReportTaskType labels report jobs on the worker queue.
const ReportTaskType = "course_report"

// ReportTask is the payload carried by the worker queue.
type ReportTask struct {
	Request     BuildRequest
	RequestedBy int64
}

type reportRunner interface {
	BuildAndSend(ctx context.Context, req BuildRequest) (*ReportResult, error)
}

type reportTaskQueue interface {
	Enqueue(job jobs.Job[ReportTask]) error
}

// SchedulerService is the entry point for whoever triggers report runs: it validates
// requests, enforces course access, and either enqueues the run or executes it inline.
type SchedulerService struct {
	runner    reportRunner
	queue     reportTaskQueue
	validator *validator.Validate
	logger    *zap.Logger
	now       func() time.Time
}

// NewSchedulerService constructs the service. The queue is attached separately because
// the queue's handler is the service itself.
func NewSchedulerService(runner reportRunner, validate *validator.Validate, logger *zap.Logger) *SchedulerService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	svc := &SchedulerService{runner: runner, validator: validate, logger: logger, now: time.Now}
	_ = svc.validator.RegisterValidation("report_type", func(fl validator.FieldLevel) bool {
		switch models.ReportType(fl.Field().String()) {
		case models.ReportTypeOnDemand, models.ReportTypeScheduled, models.ReportTypeRealTime, models.ReportTypeEndOfCourse:
			return true
		default:
			return false
		}
	})
	_ = svc.validator.RegisterValidation("trigger_type", func(fl validator.FieldLevel) bool {
		switch models.TriggerType(fl.Field().String()) {
		case models.TriggerManual, models.TriggerCron, models.TriggerEvent, models.TriggerCompletion:
			return true
		default:
			return false
		}
	})
	return svc
}

// AttachQueue wires the worker queue used by Enqueue.
func (s *SchedulerService) AttachQueue(queue reportTaskQueue) {
	s.queue = queue
}

// Enqueue validates the request and schedules a background run.
func (s *SchedulerService) Enqueue(ctx context.Context, courseID int64, req dto.ReportRequest, caller *models.JWTClaims) (*dto.ReportQueuedResponse, error) {
	build, err := s.buildRequest(courseID, req, caller)
	if err != nil {
		return nil, err
	}
	if s.queue == nil {
		return nil, appErrors.ErrQueueUnavailable
	}
	job := jobs.Job[ReportTask]{
		ID:       uuid.NewString(),
		Type:     ReportTaskType,
		Payload:  ReportTask{Request: build, RequestedBy: callerID(caller)},
		Enqueued: s.now().UTC(),
	}
	if err := s.queue.Enqueue(job); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrQueueUnavailable.Code, appErrors.ErrQueueUnavailable.Status, "failed to enqueue report")
	}
	s.logger.Info("report run queued", zap.String("task_id", job.ID), zap.Int64("course_id", courseID), zap.Int64("requested_by", callerID(caller)))
	return &dto.ReportQueuedResponse{TaskID: job.ID, CourseID: courseID, Status: "queued", Queued: job.Enqueued}, nil
}

// RunNow validates the request and runs the report inline.
func (s *SchedulerService) RunNow(ctx context.Context, courseID int64, req dto.ReportRequest, caller *models.JWTClaims) (*ReportResult, error) {
	build, err := s.buildRequest(courseID, req, caller)
	if err != nil {
		return nil, err
	}
	return s.runner.BuildAndSend(ctx, build)
}

// HandleTask is the queue handler. A run that created its report row is never retried:
// every run owns exactly one report and is never resumed. Only a failure to start the
// run at all is handed back to the queue for another attempt.
func (s *SchedulerService) HandleTask(ctx context.Context, job jobs.Job[ReportTask]) error {
	log := s.logger.With(zap.String("task_id", job.ID), zap.Int64("course_id", job.Payload.Request.CourseID), zap.Int("attempt", job.Attempt))
	result, err := s.runner.BuildAndSend(ctx, job.Payload.Request)
	if result == nil {
		if err == nil {
			err = fmt.Errorf("report run returned no result")
		}
		return err
	}
	if err != nil {
		log.Error("report run failed", zap.String("report_id", result.ReportID), zap.Error(err))
		return nil
	}
	log.Info("report run completed", zap.String("report_id", result.ReportID), zap.Bool("success", result.Success), zap.String("message", result.Message))
	return nil
}

func (s *SchedulerService) buildRequest(courseID int64, req dto.ReportRequest, caller *models.JWTClaims) (BuildRequest, error) {
	if courseID <= 0 {
		return BuildRequest{}, appErrors.Clone(appErrors.ErrValidation, "invalid course id")
	}
	if !caller.CanAccessCourse(courseID) {
		return BuildRequest{}, appErrors.ErrForbidden
	}
	if err := s.validator.Struct(req); err != nil {
		return BuildRequest{}, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid report request")
	}

	build := BuildRequest{
		CourseID:    courseID,
		ReportType:  models.ReportType(req.ReportType),
		TriggerType: models.TriggerType(req.TriggerType),
		TriggeredBy: req.TriggeredBy,
	}
	if build.TriggeredBy == nil && caller != nil && caller.Role != models.RoleScheduler {
		build.TriggeredBy = &caller.UserID
	}
	if req.DateFrom != nil {
		build.DateFrom = req.DateFrom.UTC()
	}
	if req.DateTo != nil {
		build.DateTo = req.DateTo.UTC()
	}
	if !build.DateFrom.IsZero() && !build.DateTo.IsZero() && !build.DateFrom.Before(build.DateTo) {
		return BuildRequest{}, appErrors.Clone(appErrors.ErrValidation, "date_from must be before date_to")
	}
	if !build.DateFrom.IsZero() && build.DateTo.IsZero() && !build.DateFrom.Before(s.now()) {
		return BuildRequest{}, appErrors.Clone(appErrors.ErrValidation, "date_from must be in the past")
	}
	return build, nil
}

func callerID(caller *models.JWTClaims) int64 {
	if caller == nil {
		return 0
	}
	return caller.UserID
}
