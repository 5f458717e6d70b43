package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/course-insights-bridge/internal/client/insights"
	"github.com/noah-isme/course-insights-bridge/internal/models"
	"github.com/noah-isme/course-insights-bridge/internal/repository"
	appErrors "github.com/noah-isme/course-insights-bridge/pkg/errors"
)

type insightsChannel interface {
	SubmitReport(ctx context.Context, payload interface{}) (*insights.Response, error)
}

// BackoffPolicy returns how long to wait after the given failed attempt (1-based).
type BackoffPolicy interface {
	Delay(attempt int) time.Duration
}

// ExponentialBackoff waits Base * 2^attempt: 2s then 4s for a one second base.
type ExponentialBackoff struct {
	Base time.Duration
}

// Delay implements BackoffPolicy.
func (b ExponentialBackoff) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	base := b.Base
	if base <= 0 {
		base = time.Second
	}
	return base << uint(attempt)
}

// DeliveryConfig bounds the retry loop.
type DeliveryConfig struct {
	MaxAttempts int
	Backoff     BackoffPolicy
	Sleep       Sleeper
}

// DeliveryOutcome is the terminal state of one delivery.
type DeliveryOutcome struct {
	Status   models.ReportStatus
	Attempts int
	Response *insights.Response
	Message  string
}

// Sent reports whether the analytics service accepted the report.
func (o *DeliveryOutcome) Sent() bool {
	return o != nil && o.Status == models.ReportStatusSent
}

// DeliveryService submits report payloads to the analytics service with bounded
// retries, persisting every status transition of the report.
type DeliveryService struct {
	channel insightsChannel
	reports reportUpdater
	metrics *MetricsService
	cfg     DeliveryConfig
	logger  *zap.Logger
}

// NewDeliveryService constructs the delivery service.
func NewDeliveryService(channel insightsChannel, reports reportUpdater, metrics *MetricsService, cfg DeliveryConfig, logger *zap.Logger) *DeliveryService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.Backoff == nil {
		cfg.Backoff = ExponentialBackoff{Base: time.Second}
	}
	if cfg.Sleep == nil {
		cfg.Sleep = SleepContext
	}
	return &DeliveryService{channel: channel, reports: reports, metrics: metrics, cfg: cfg, logger: logger}
}

// Deliver runs the retry loop for one report:
//   - 200/202 with a success flag marks the report sent;
//   - 4xx marks it failed at once;
//   - anything else is retried with backoff until MaxAttempts.
//
// A failed outcome is returned with a nil error, except when the final attempt ended in
// a channel error (transport, decoding or a panic), which is returned as well.
func (s *DeliveryService) Deliver(ctx context.Context, report *models.Report, payload *models.ReportPayload) (*DeliveryOutcome, error) {
	log := s.logger.With(zap.String("report_id", report.ID), zap.Int64("course_id", report.CourseID))
	outcome := &DeliveryOutcome{}

	var (
		lastMsg     string
		lastChanErr error
	)
	for attempt := 1; attempt <= s.cfg.MaxAttempts; attempt++ {
		outcome.Attempts = attempt
		if err := transition(ctx, s.reports, report, models.ReportStatusSending, repository.UpdateReportParams{RetryCount: intPtr(attempt - 1)}); err != nil {
			if errors.Is(err, appErrors.ErrInvalidTransition) {
				return outcome, err
			}
			log.Error("failed to record delivery attempt", zap.Int("attempt", attempt), zap.Error(err))
		}

		resp, err := s.submit(ctx, payload)
		outcome.Response = resp
		switch {
		case err != nil:
			lastChanErr = err
			lastMsg = err.Error()
			s.metrics.ObserveDeliveryAttempt("error")
		case resp.Accepted():
			s.metrics.ObserveDeliveryAttempt("sent")
			s.finish(ctx, log, report, outcome, models.ReportStatusSent, repository.UpdateReportParams{ResponseData: stringPtr(string(resp.Raw))}, "")
			log.Info("report delivered", zap.Int("attempt", attempt), zap.Int("status_code", resp.StatusCode), zap.String("kind", string(resp.Kind)))
			return outcome, nil
		case resp.StatusCode >= http.StatusBadRequest && resp.StatusCode < http.StatusInternalServerError:
			s.metrics.ObserveDeliveryAttempt("rejected")
			msg := resp.ErrorMessage()
			s.finish(ctx, log, report, outcome, models.ReportStatusFailed, repository.UpdateReportParams{ErrorMessage: stringPtr(msg), ResponseData: rawOrNil(resp.Raw)}, msg)
			log.Warn("report rejected by analytics service", zap.Int("status_code", resp.StatusCode), zap.String("error", msg))
			return outcome, nil
		default:
			lastChanErr = nil
			lastMsg = resp.ErrorMessage()
			s.metrics.ObserveDeliveryAttempt("retryable")
		}

		if attempt == s.cfg.MaxAttempts {
			break
		}
		delay := s.cfg.Backoff.Delay(attempt)
		log.Warn("delivery attempt failed, retrying", zap.Int("attempt", attempt), zap.Duration("delay", delay), zap.String("error", lastMsg))
		if err := s.cfg.Sleep(ctx, delay); err != nil {
			msg := fmt.Sprintf("delivery interrupted after attempt %d: %v", attempt, err)
			s.finish(ctx, log, report, outcome, models.ReportStatusFailed, repository.UpdateReportParams{ErrorMessage: stringPtr(msg)}, msg)
			return outcome, appErrors.Wrap(err, appErrors.ErrDeliveryFailed.Code, appErrors.ErrDeliveryFailed.Status, msg)
		}
	}

	msg := fmt.Sprintf("delivery failed after %d attempts: %s", outcome.Attempts, lastMsg)
	s.finish(ctx, log, report, outcome, models.ReportStatusFailed, repository.UpdateReportParams{ErrorMessage: stringPtr(msg)}, msg)
	log.Error("report delivery exhausted retries", zap.Int("attempts", outcome.Attempts), zap.String("error", lastMsg))
	if lastChanErr != nil {
		return outcome, appErrors.Wrap(lastChanErr, appErrors.ErrDeliveryFailed.Code, appErrors.ErrDeliveryFailed.Status, msg)
	}
	return outcome, nil
}

// submit calls the channel, turning a panic into an error so it follows the retry path.
func (s *DeliveryService) submit(ctx context.Context, payload *models.ReportPayload) (resp *insights.Response, err error) {
	defer func() {
		if r := recover(); r != nil {
			resp = nil
			err = fmt.Errorf("analytics channel panicked: %v", r)
		}
	}()
	resp, err = s.channel.SubmitReport(ctx, payload)
	if err == nil && resp == nil {
		err = errors.New("analytics channel returned no response")
	}
	return resp, err
}

func (s *DeliveryService) finish(ctx context.Context, log *zap.Logger, report *models.Report, outcome *DeliveryOutcome, status models.ReportStatus, params repository.UpdateReportParams, msg string) {
	outcome.Status = status
	outcome.Message = msg
	// Terminal states are recorded even when the caller's context is already done.
	if err := transition(context.WithoutCancel(ctx), s.reports, report, status, params); err != nil {
		log.Error("failed to record delivery outcome", zap.String("status", string(status)), zap.Error(err))
	}
}

func rawOrNil(raw []byte) *string {
	if len(raw) == 0 {
		return nil
	}
	return stringPtr(string(raw))
}
