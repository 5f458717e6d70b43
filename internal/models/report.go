package models

import "time"

// ReportType enumerates why a report was produced.
type ReportType string

const (
	ReportTypeOnDemand    ReportType = "on_demand"
	ReportTypeScheduled   ReportType = "scheduled"
	ReportTypeRealTime    ReportType = "real_time"
	ReportTypeEndOfCourse ReportType = "end_of_course"
)

// TriggerType enumerates what started a report run.
type TriggerType string

const (
	TriggerManual     TriggerType = "manual"
	TriggerCron       TriggerType = "cron"
	TriggerEvent      TriggerType = "event"
	TriggerCompletion TriggerType = "completion"
)

// ReportStatus captures the report delivery lifecycle.
type ReportStatus string

const (
	ReportStatusPending ReportStatus = "pending"
	ReportStatusSending ReportStatus = "sending"
	ReportStatusSent    ReportStatus = "sent"
	ReportStatusFailed  ReportStatus = "failed"
)

// Valid reports whether s is a known status.
func (s ReportStatus) Valid() bool {
	switch s {
	case ReportStatusPending, ReportStatusSending, ReportStatusSent, ReportStatusFailed:
		return true
	}
	return false
}

// IsTerminal reports whether no further transition is allowed.
func (s ReportStatus) IsTerminal() bool {
	return s == ReportStatusSent || s == ReportStatusFailed
}

// CanTransition validates a lifecycle move. A sending report may re-enter sending for
// each delivery attempt; pending may fail directly when the build aborts before delivery.
func (s ReportStatus) CanTransition(next ReportStatus) bool {
	switch s {
	case ReportStatusPending:
		return next == ReportStatusSending || next == ReportStatusFailed
	case ReportStatusSending:
		return next == ReportStatusSending || next == ReportStatusSent || next == ReportStatusFailed
	default:
		return false
	}
}

// Report is one analytics computation-and-delivery run for a course. Rows are never
// reused: every run inserts a new one.
type Report struct {
	ID            string       `db:"id" json:"id"`
	CourseID      int64        `db:"course_id" json:"course_id"`
	ReportType    ReportType   `db:"report_type" json:"report_type"`
	TriggerType   TriggerType  `db:"trigger_type" json:"trigger_type"`
	DateFrom      time.Time    `db:"date_from" json:"date_from"`
	DateTo        time.Time    `db:"date_to" json:"date_to"`
	Status        ReportStatus `db:"status" json:"status"`
	RetryCount    int          `db:"retry_count" json:"retry_count"`
	ErrorMessage  *string      `db:"error_message" json:"error_message,omitempty"`
	ResponseData  *string      `db:"response_data" json:"response_data,omitempty"`
	TriggeredBy   *int64       `db:"triggered_by" json:"triggered_by,omitempty"`
	SubjectCount  int          `db:"subject_count" json:"subject_count"`
	ActivityCount int          `db:"activity_count" json:"activity_count"`
	CreatedAt     time.Time    `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time    `db:"updated_at" json:"updated_at"`
}
