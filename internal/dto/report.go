package dto

import (
	"time"

	"github.com/noah-isme/course-insights-bridge/internal/models"
)

// ReportRequest is the body of POST /courses/:courseId/reports and .../reports/run.
// Every field is optional: the type defaults to on_demand, the trigger to manual and the
// window to the last 30 days.
type ReportRequest struct {
	ReportType  string     `json:"report_type" validate:"omitempty,report_type"`
	TriggerType string     `json:"trigger_type" validate:"omitempty,trigger_type"`
	DateFrom    *time.Time `json:"date_from"`
	DateTo      *time.Time `json:"date_to"`
	TriggeredBy *int64     `json:"triggered_by" validate:"omitempty,gt=0"`
}

// ReportQueuedResponse acknowledges an enqueued report run.
type ReportQueuedResponse struct {
	TaskID   string    `json:"task_id"`
	CourseID int64     `json:"course_id"`
	Status   string    `json:"status"`
	Queued   time.Time `json:"queued_at"`
}

// ReportStatusResponse exposes the persisted state of a report run.
type ReportStatusResponse struct {
	ID            string              `json:"id"`
	CourseID      int64               `json:"course_id"`
	ReportType    models.ReportType   `json:"report_type"`
	TriggerType   models.TriggerType  `json:"trigger_type"`
	DateFrom      time.Time           `json:"date_from"`
	DateTo        time.Time           `json:"date_to"`
	Status        models.ReportStatus `json:"status"`
	RetryCount    int                 `json:"retry_count"`
	Error         *string             `json:"error,omitempty"`
	SubjectCount  int                 `json:"subject_count"`
	ActivityCount int                 `json:"activity_count"`
	CreatedAt     time.Time           `json:"created_at"`
	UpdatedAt     time.Time           `json:"updated_at"`
}

// NewReportStatusResponse maps a report row to its API shape. The raw analytics response
// is deliberately left out.
func NewReportStatusResponse(r *models.Report) ReportStatusResponse {
	return ReportStatusResponse{
		ID:            r.ID,
		CourseID:      r.CourseID,
		ReportType:    r.ReportType,
		TriggerType:   r.TriggerType,
		DateFrom:      r.DateFrom,
		DateTo:        r.DateTo,
		Status:        r.Status,
		RetryCount:    r.RetryCount,
		Error:         r.ErrorMessage,
		SubjectCount:  r.SubjectCount,
		ActivityCount: r.ActivityCount,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
	}
}

// SaltRotationResponse is returned by POST /admin/salt/rotate. The salt itself is never
// echoed back.
type SaltRotationResponse struct {
	RotatedAt time.Time `json:"rotated_at"`
	Warning   string    `json:"warning"`
}
