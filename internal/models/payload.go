package models

import "time"

// Payload schema version understood by the analytics service.
const PayloadSchemaVersion = "1.0"

// CourseInfo identifies the course in a payload.
type CourseInfo struct {
	ID        int64  `json:"id"`
	FullName  string `json:"fullname"`
	ShortName string `json:"shortname"`
}

// ReportMetadata describes the run that produced a payload.
type ReportMetadata struct {
	ReportID      string      `json:"report_id"`
	ReportType    ReportType  `json:"report_type"`
	TriggerType   TriggerType `json:"trigger_type"`
	DateFrom      time.Time   `json:"date_from"`
	DateTo        time.Time   `json:"date_to"`
	GeneratedAt   time.Time   `json:"generated_at"`
	PluginVersion string      `json:"plugin_version"`
	SchemaVersion string      `json:"schema_version"`
}

// CourseSummary describes the roster the payload was built from.
type CourseSummary struct {
	TotalEnrolled    int        `json:"total_enrolled"`
	ReportedStudents int        `json:"reported_students"`
	SkippedStudents  int        `json:"skipped_students"`
	TotalActivity    int        `json:"total_activity"`
	CourseStartDate  *time.Time `json:"course_start_date,omitempty"`
	CourseEndDate    *time.Time `json:"course_end_date,omitempty"`
}

// ReportPayload is the full structure submitted to the analytics service.
type ReportPayload struct {
	Course             CourseInfo          `json:"course"`
	Metadata           ReportMetadata      `json:"report_metadata"`
	Summary            CourseSummary       `json:"course_summary"`
	Students           []SubjectBundle     `json:"students"`
	AggregatedInsights AggregatedInsights  `json:"aggregated_insights"`
	CompletionStats    CompletionBreakdown `json:"completion_stats"`
}
