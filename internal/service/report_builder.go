package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/course-insights-bridge/internal/client/insights"
	"github.com/noah-isme/course-insights-bridge/internal/models"
	"github.com/noah-isme/course-insights-bridge/internal/repository"
	appErrors "github.com/noah-isme/course-insights-bridge/pkg/errors"
	"github.com/noah-isme/course-insights-bridge/pkg/logger"
)

type courseRoster interface {
	Course(ctx context.Context, courseID int64) (*models.Course, error)
	EnrolledSubjects(ctx context.Context, courseID int64) ([]models.Subject, error)
	CourseGrades(ctx context.Context, courseID int64) ([]float64, error)
}

type reportStore interface {
	Create(ctx context.Context, report *models.Report) error
	Update(ctx context.Context, id string, params repository.UpdateReportParams) error
}

type subjectAnonymizer interface {
	Anonymize(ctx context.Context, subjectID int64) (string, error)
}

type subjectMetrics interface {
	Metrics(ctx context.Context, courseID, subjectID int64, window Window, cohort []float64) (models.EngagementMetrics, models.GradeMetrics, models.RiskIndicators)
	Timeline(ctx context.Context, courseID, subjectID int64, window Window) ([]models.TimelineDay, error)
	AggregatedInsights(bundles []models.SubjectBundle) models.AggregatedInsights
	CompletionBreakdown(bundles []models.SubjectBundle) models.CompletionBreakdown
}

type reportDeliverer interface {
	Deliver(ctx context.Context, report *models.Report, payload *models.ReportPayload) (*DeliveryOutcome, error)
}

type insightsSink interface {
	StoreLatest(ctx context.Context, courseID int64, latest LatestInsights) error
}

// BuildRequest describes one report run.
type BuildRequest struct {
	CourseID    int64
	ReportType  models.ReportType
	TriggerType models.TriggerType
	DateFrom    time.Time
	DateTo      time.Time
	TriggeredBy *int64
}

// ReportResult is returned to whoever triggered the run.
type ReportResult struct {
	Success  bool                `json:"success"`
	ReportID string              `json:"report_id"`
	Status   models.ReportStatus `json:"status"`
	Insights insights.Insights   `json:"insights,omitempty"`
	JobID    string              `json:"job_id,omitempty"`
	Message  string              `json:"message"`
}

// ReportBuilderConfig controls batching and windows.
type ReportBuilderConfig struct {
	BatchSize      int
	BatchPause     time.Duration
	TimelineWindow time.Duration
	PluginVersion  string
	Sleep          Sleeper
	Now            func() time.Time
}

// ReportBuilder runs a full report for one course: roster, per-student metrics,
// aggregation, payload assembly and delivery.
type ReportBuilder struct {
	roster     courseRoster
	reports    reportStore
	anonymizer subjectAnonymizer
	metrics    subjectMetrics
	delivery   reportDeliverer
	sink       insightsSink
	stats      *MetricsService
	cfg        ReportBuilderConfig
	logger     *zap.Logger
}

// NewReportBuilder constructs the builder. sink and stats are optional.
func NewReportBuilder(roster courseRoster, reports reportStore, anonymizer subjectAnonymizer, metrics subjectMetrics, delivery reportDeliverer, sink insightsSink, stats *MetricsService, cfg ReportBuilderConfig, logger *zap.Logger) *ReportBuilder {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.BatchPause < 0 {
		cfg.BatchPause = 0
	}
	if cfg.TimelineWindow <= 0 {
		cfg.TimelineWindow = 30 * 24 * time.Hour
	}
	if cfg.PluginVersion == "" {
		cfg.PluginVersion = "1.0.0"
	}
	if cfg.Sleep == nil {
		cfg.Sleep = SleepContext
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &ReportBuilder{
		roster:     roster,
		reports:    reports,
		anonymizer: anonymizer,
		metrics:    metrics,
		delivery:   delivery,
		sink:       sink,
		stats:      stats,
		cfg:        cfg,
		logger:     logger,
	}
}

// subjectOutcome is the result of processing one student: a bundle or an error.
type subjectOutcome struct {
	subjectID int64
	bundle    models.SubjectBundle
	err       error
}

// BuildAndSend executes one report run. Structured failures (empty roster, rejected or
// undeliverable report) come back as a result with Success=false and a nil error; an
// error is returned when the run could not be carried out or delivery ended on a
// channel error. In every case past report creation the report row is left in a
// terminal status.
func (b *ReportBuilder) BuildAndSend(ctx context.Context, req BuildRequest) (*ReportResult, error) {
	started := b.cfg.Now()
	req = b.normalize(req)

	report := &models.Report{
		CourseID:    req.CourseID,
		ReportType:  req.ReportType,
		TriggerType: req.TriggerType,
		DateFrom:    req.DateFrom,
		DateTo:      req.DateTo,
		Status:      models.ReportStatusPending,
		TriggeredBy: req.TriggeredBy,
	}
	if err := b.reports.Create(ctx, report); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create report")
	}
	log := logger.ForReport(b.logger, report.ID, report.CourseID)
	log.Info("report run started", zap.String("report_type", string(req.ReportType)), zap.String("trigger_type", string(req.TriggerType)))

	result, err := b.run(ctx, log, report, req)
	if result == nil {
		result = &ReportResult{ReportID: report.ID}
	}
	result.ReportID = report.ID
	result.Status = report.Status
	b.stats.ObserveReportRun(string(report.Status), b.cfg.Now().Sub(started))
	return result, err
}

func (b *ReportBuilder) run(ctx context.Context, log *zap.Logger, report *models.Report, req BuildRequest) (*ReportResult, error) {
	course, err := b.roster.Course(ctx, req.CourseID)
	if err != nil {
		return b.abort(ctx, log, report, "failed to load course", err)
	}
	subjects, err := b.roster.EnrolledSubjects(ctx, req.CourseID)
	if err != nil {
		return b.abort(ctx, log, report, "failed to load roster", err)
	}
	if len(subjects) == 0 {
		return b.fail(ctx, log, report, appErrors.ErrEmptyRoster.Message), nil
	}

	cohort, err := b.roster.CourseGrades(ctx, req.CourseID)
	if err != nil {
		log.Warn("course grades unavailable, percentiles default to zero", zap.Error(err))
		cohort = nil
	}

	bundles, dropped, err := b.processRoster(ctx, log, req, subjects, cohort)
	if err != nil {
		return b.abort(ctx, log, report, "report run interrupted", err)
	}
	b.stats.RecordSubjects(len(bundles), dropped)
	if len(bundles) == 0 {
		return b.fail(ctx, log, report, fmt.Sprintf("none of the %d enrolled students could be processed", len(subjects))), nil
	}

	payload := b.assemble(report, course, len(subjects), bundles)
	if err := b.reports.Update(ctx, report.ID, repository.UpdateReportParams{
		SubjectCount:  intPtr(len(payload.Students)),
		ActivityCount: intPtr(payload.Summary.TotalActivity),
	}); err != nil {
		log.Error("failed to record report counts", zap.Error(err))
	}
	report.SubjectCount = len(payload.Students)
	report.ActivityCount = payload.Summary.TotalActivity

	outcome, err := b.delivery.Deliver(ctx, report, payload)
	if outcome == nil {
		return b.abort(ctx, log, report, "delivery failed", err)
	}
	result := &ReportResult{Success: outcome.Sent(), Message: outcome.Message}
	if outcome.Sent() {
		result.Message = "report delivered"
		if resp := outcome.Response; resp != nil {
			result.Insights = resp.Insights
			if resp.Job != nil {
				result.JobID = resp.Job.ID
			}
		}
		b.storeInsights(ctx, log, report, result)
	}
	log.Info("report run finished",
		zap.String("status", string(report.Status)),
		zap.Int("students", len(bundles)),
		zap.Int("dropped", dropped),
		zap.Int("attempts", outcome.Attempts),
	)
	return result, err
}

// processRoster computes every student's bundle. Rosters of BatchSize or more are split
// into chunks of BatchSize with a pause in between to spread database load; chunking
// never changes the result.
func (b *ReportBuilder) processRoster(ctx context.Context, log *zap.Logger, req BuildRequest, subjects []models.Subject, cohort []float64) ([]models.SubjectBundle, int, error) {
	chunks := [][]models.Subject{subjects}
	if len(subjects) >= b.cfg.BatchSize {
		chunks = chunkSubjects(subjects, b.cfg.BatchSize)
		log.Info("processing roster in batches", zap.Int("students", len(subjects)), zap.Int("batches", len(chunks)))
	}

	window := Window{From: req.DateFrom, To: req.DateTo}
	timeline := Window{From: req.DateTo.Add(-b.cfg.TimelineWindow), To: req.DateTo}

	bundles := make([]models.SubjectBundle, 0, len(subjects))
	dropped := 0
	for i, chunk := range chunks {
		if i > 0 && b.cfg.BatchPause > 0 {
			if err := b.cfg.Sleep(ctx, b.cfg.BatchPause); err != nil {
				return nil, 0, err
			}
		}
		for _, subject := range chunk {
			out := b.processSubject(ctx, req.CourseID, subject, window, timeline, cohort)
			if out.err != nil {
				dropped++
				log.Warn("student dropped from report", zap.Int64("subject_id", out.subjectID), zap.Error(out.err))
				continue
			}
			bundles = append(bundles, out.bundle)
		}
	}
	return bundles, dropped, nil
}

// processSubject never lets a failure escape: errors and panics become the outcome's err.
func (b *ReportBuilder) processSubject(ctx context.Context, courseID int64, subject models.Subject, window, timeline Window, cohort []float64) (out subjectOutcome) {
	out.subjectID = subject.ID
	defer func() {
		if r := recover(); r != nil {
			out.err = fmt.Errorf("processing panicked: %v", r)
		}
	}()

	pseudonym, err := b.anonymizer.Anonymize(ctx, subject.ID)
	if err != nil {
		out.err = fmt.Errorf("anonymize: %w", err)
		return out
	}
	engagement, grades, risk := b.metrics.Metrics(ctx, courseID, subject.ID, window, cohort)
	days, err := b.metrics.Timeline(ctx, courseID, subject.ID, timeline)
	if err != nil {
		out.err = err
		return out
	}

	bundle := models.SubjectBundle{
		PseudonymID: pseudonym,
		Engagement:  engagement,
		Grades:      grades,
		Risk:        risk,
		Timeline:    days,
	}
	if !subject.EnrolledAt.IsZero() {
		enrolled := subject.EnrolledAt.UTC()
		bundle.EnrolledAt = &enrolled
	}
	out.bundle = bundle
	return out
}

func (b *ReportBuilder) assemble(report *models.Report, course *models.Course, enrolled int, bundles []models.SubjectBundle) *models.ReportPayload {
	activity := 0
	for _, bundle := range bundles {
		activity += bundle.Engagement.TotalActions()
	}
	return &models.ReportPayload{
		Course: models.CourseInfo{ID: course.ID, FullName: course.FullName, ShortName: course.ShortName},
		Metadata: models.ReportMetadata{
			ReportID:      report.ID,
			ReportType:    report.ReportType,
			TriggerType:   report.TriggerType,
			DateFrom:      report.DateFrom,
			DateTo:        report.DateTo,
			GeneratedAt:   b.cfg.Now().UTC(),
			PluginVersion: b.cfg.PluginVersion,
			SchemaVersion: models.PayloadSchemaVersion,
		},
		Summary: models.CourseSummary{
			TotalEnrolled:    enrolled,
			ReportedStudents: len(bundles),
			SkippedStudents:  enrolled - len(bundles),
			TotalActivity:    activity,
			CourseStartDate:  course.StartDate,
			CourseEndDate:    course.EndDate,
		},
		Students:           bundles,
		AggregatedInsights: b.metrics.AggregatedInsights(bundles),
		CompletionStats:    b.metrics.CompletionBreakdown(bundles),
	}
}

func (b *ReportBuilder) storeInsights(ctx context.Context, log *zap.Logger, report *models.Report, result *ReportResult) {
	if b.sink == nil || (result.Insights == nil && result.JobID == "") {
		return
	}
	latest := LatestInsights{
		ReportID:    report.ID,
		CourseID:    report.CourseID,
		JobID:       result.JobID,
		Insights:    result.Insights,
		Pending:     result.Insights == nil,
		GeneratedAt: b.cfg.Now().UTC(),
	}
	if err := b.sink.StoreLatest(ctx, report.CourseID, latest); err != nil {
		log.Warn("failed to cache insights", zap.Error(err))
	}
}

// fail marks the report failed and produces a structured failure result.
func (b *ReportBuilder) fail(ctx context.Context, log *zap.Logger, report *models.Report, msg string) *ReportResult {
	if err := transition(context.WithoutCancel(ctx), b.reports, report, models.ReportStatusFailed, repository.UpdateReportParams{ErrorMessage: stringPtr(msg)}); err != nil {
		log.Error("failed to mark report failed", zap.Error(err))
	}
	log.Warn("report run failed", zap.String("reason", msg))
	return &ReportResult{Success: false, Message: msg}
}

// abort is fail plus an error for the caller.
func (b *ReportBuilder) abort(ctx context.Context, log *zap.Logger, report *models.Report, msg string, cause error) (*ReportResult, error) {
	if cause == nil {
		cause = errors.New(msg)
	}
	full := fmt.Sprintf("%s: %v", msg, cause)
	if !report.Status.IsTerminal() {
		b.fail(ctx, log, report, full)
	}
	var appErr *appErrors.Error
	if errors.As(cause, &appErr) {
		return &ReportResult{Message: full}, cause
	}
	return &ReportResult{Message: full}, appErrors.Wrap(cause, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, msg)
}

func (b *ReportBuilder) normalize(req BuildRequest) BuildRequest {
	if req.ReportType == "" {
		req.ReportType = models.ReportTypeOnDemand
	}
	if req.TriggerType == "" {
		req.TriggerType = models.TriggerManual
	}
	if req.DateTo.IsZero() {
		req.DateTo = b.cfg.Now()
	}
	if req.DateFrom.IsZero() {
		req.DateFrom = req.DateTo.Add(-b.cfg.TimelineWindow)
	}
	req.DateFrom = req.DateFrom.UTC()
	req.DateTo = req.DateTo.UTC()
	return req
}

func chunkSubjects(subjects []models.Subject, size int) [][]models.Subject {
	chunks := make([][]models.Subject, 0, (len(subjects)+size-1)/size)
	for start := 0; start < len(subjects); start += size {
		end := start + size
		if end > len(subjects) {
			end = len(subjects)
		}
		chunks = append(chunks, subjects[start:end])
	}
	return chunks
}
