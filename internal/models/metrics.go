package models

import "time"

// GradeTrend is the three-state grade direction.
type GradeTrend string

const (
	TrendImproving GradeTrend = "improving"
	TrendStable    GradeTrend = "stable"
	TrendDeclining GradeTrend = "declining"
)

// RiskLevel classifies a risk score.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// EngagementMetrics is the per-student activity bundle. Numeric fields default to 0 and
// nullable fields to nil when the host platform has no data.
type EngagementMetrics struct {
	TotalLogins           int        `json:"total_logins"`
	TotalViews            int        `json:"total_views"`
	CreateActions         int        `json:"create_actions"`
	UpdateActions         int        `json:"update_actions"`
	EstimatedMinutes      int        `json:"estimated_minutes"`
	LastAccess            *time.Time `json:"last_access"`
	DaysSinceLastAccess   int        `json:"days_since_last_access"`
	ActiveDays            int        `json:"active_days"`
	ForumPosts            int        `json:"forum_posts"`
	ForumReplies          int        `json:"forum_replies"`
	DiscussionsStarted    int        `json:"discussions_started"`
	AssignmentSubmissions int        `json:"assignment_submissions"`
	LateSubmissions       int        `json:"late_submissions"`
	QuizAttempts          int        `json:"quiz_attempts"`
	CompletionRate        float64    `json:"completion_rate"`
	ActivitiesCompleted   int        `json:"activities_completed"`
	ActivitiesTotal       int        `json:"activities_total"`
}

// TotalActions counts every logged view, create and update.
func (e EngagementMetrics) TotalActions() int {
	return e.TotalViews + e.CreateActions + e.UpdateActions
}

// GradeMetrics is the per-student grade bundle.
type GradeMetrics struct {
	CurrentGrade      *float64   `json:"current_grade"`
	QuizAverage       *float64   `json:"quiz_average"`
	AssignmentAverage *float64   `json:"assignment_average"`
	ItemAverage       *float64   `json:"item_average"`
	PercentileRank    float64    `json:"percentile_rank"`
	Trend             GradeTrend `json:"trend"`
}

// RiskIndicators is the derived risk judgement for a student.
type RiskIndicators struct {
	RiskScore            float64   `json:"risk_score"`
	RiskLevel            RiskLevel `json:"risk_level"`
	AtRisk               bool      `json:"at_risk"`
	Factors              []string  `json:"risk_factors"`
	PredictionConfidence float64   `json:"prediction_confidence"`
}

// TimelineDay is the number of logged events for one UTC day.
type TimelineDay struct {
	Date    string `json:"date"`
	Actions int    `json:"actions"`
}

// SubjectBundle is everything reported for one student. It carries only the
// pseudonymous identifier, never the platform user id.
type SubjectBundle struct {
	PseudonymID string            `json:"student_id"`
	EnrolledAt  *time.Time        `json:"enrolled_at,omitempty"`
	Engagement  EngagementMetrics `json:"engagement"`
	Grades      GradeMetrics      `json:"grades"`
	Risk        RiskIndicators    `json:"risk"`
	Timeline    []TimelineDay     `json:"activity_timeline"`
}

// AggregatedInsights rolls student bundles up to the course.
type AggregatedInsights struct {
	TotalStudents         int               `json:"total_students"`
	AtRiskCount           int               `json:"at_risk_count"`
	HighPerformerCount    int               `json:"high_performer_count"`
	AverageEngagement     float64           `json:"average_engagement"`
	AverageGrade          *float64          `json:"average_grade"`
	AverageCompletionRate float64           `json:"average_completion_rate"`
	RiskDistribution      map[RiskLevel]int `json:"risk_distribution"`
}

// CompletionBreakdown counts students by completion state.
type CompletionBreakdown struct {
	Completed  int `json:"completed"`
	InProgress int `json:"in_progress"`
	NotStarted int `json:"not_started"`
}
