package service

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/course-insights-bridge/internal/models"
)

// Risk weighting, in points out of 100.
const (
	riskPointsLongInactive    = 30
	riskPointsRecentInactive  = 15
	riskPointsVeryFewLogins   = 20
	riskPointsFewLogins       = 10
	riskPointsVeryLowComplete = 25
	riskPointsLowComplete     = 12
	riskPointsFailingGrade    = 25
	riskPointsLowGrade        = 15
	riskPointsDeclining       = 10
	riskPointsLowQuiz         = 10

	riskThresholdHigh   = 0.7
	riskThresholdMedium = 0.5

	confidenceSignals = 5
)

type courseFactSource interface {
	ActivitySummary(ctx context.Context, courseID, subjectID int64, from, to time.Time) (*models.ActivityFacts, error)
	GradeSummary(ctx context.Context, courseID, subjectID int64) (*models.GradeFacts, error)
	QuizSummary(ctx context.Context, courseID, subjectID int64) (*models.QuizFacts, error)
	AssignmentSummary(ctx context.Context, courseID, subjectID int64) (*models.AssignmentFacts, error)
	ForumSummary(ctx context.Context, courseID, subjectID int64) (*models.ForumFacts, error)
	CompletionStatus(ctx context.Context, courseID, subjectID int64) (*models.CompletionFacts, error)
	AccessTimestamps(ctx context.Context, courseID, subjectID int64, from, to time.Time) ([]time.Time, error)
}

// Window is an inclusive time range.
type Window struct {
	From time.Time
	To   time.Time
}

// MetricsCalculatorConfig tunes derived metrics.
type MetricsCalculatorConfig struct {
	// SessionGap is the longest pause between two events still counted as time spent.
	SessionGap time.Duration
	Now        func() time.Time
}

// MetricsCalculator turns raw platform facts into engagement, grade and risk bundles.
// A fact category that cannot be read degrades to its defaults and never aborts the
// rest of the student's bundle.
type MetricsCalculator struct {
	source courseFactSource
	cfg    MetricsCalculatorConfig
	logger *zap.Logger
}

// NewMetricsCalculator constructs the calculator.
func NewMetricsCalculator(source courseFactSource, cfg MetricsCalculatorConfig, logger *zap.Logger) *MetricsCalculator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.SessionGap <= 0 {
		cfg.SessionGap = 30 * time.Minute
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &MetricsCalculator{source: source, cfg: cfg, logger: logger}
}

// subjectFacts holds every fact category for one student. A nil field means the
// category could not be read.
type subjectFacts struct {
	activity   *models.ActivityFacts
	stamps     []time.Time
	grades     *models.GradeFacts
	quiz       *models.QuizFacts
	assignment *models.AssignmentFacts
	forum      *models.ForumFacts
	completion *models.CompletionFacts
}

func (m *MetricsCalculator) gather(ctx context.Context, courseID, subjectID int64, window Window, engagement, grades bool) subjectFacts {
	var f subjectFacts
	var err error
	if engagement {
		if f.activity, err = m.source.ActivitySummary(ctx, courseID, subjectID, window.From, window.To); err != nil {
			m.degraded("activity", courseID, subjectID, err)
		}
		if f.stamps, err = m.source.AccessTimestamps(ctx, courseID, subjectID, window.From, window.To); err != nil {
			m.degraded("time_spent", courseID, subjectID, err)
		}
		if f.forum, err = m.source.ForumSummary(ctx, courseID, subjectID); err != nil {
			m.degraded("forum", courseID, subjectID, err)
		}
		if f.completion, err = m.source.CompletionStatus(ctx, courseID, subjectID); err != nil {
			m.degraded("completion", courseID, subjectID, err)
		}
	}
	if grades {
		if f.grades, err = m.source.GradeSummary(ctx, courseID, subjectID); err != nil {
			m.degraded("grades", courseID, subjectID, err)
		}
	}
	if f.quiz, err = m.source.QuizSummary(ctx, courseID, subjectID); err != nil {
		m.degraded("quiz", courseID, subjectID, err)
	}
	if f.assignment, err = m.source.AssignmentSummary(ctx, courseID, subjectID); err != nil {
		m.degraded("assignment", courseID, subjectID, err)
	}
	return f
}

// Engagement collects the activity facts for one student inside window.
func (m *MetricsCalculator) Engagement(ctx context.Context, courseID, subjectID int64, window Window) models.EngagementMetrics {
	return m.engagementFrom(m.gather(ctx, courseID, subjectID, window, true, false))
}

// Grades computes the grade bundle. cohort holds every graded student's course total
// percentage and is used for the percentile rank.
func (m *MetricsCalculator) Grades(ctx context.Context, courseID, subjectID int64, cohort []float64) models.GradeMetrics {
	return gradesFrom(m.gather(ctx, courseID, subjectID, Window{}, false, true), cohort)
}

// Metrics reads every fact category once and derives the engagement, grade and risk
// bundles for one student.
func (m *MetricsCalculator) Metrics(ctx context.Context, courseID, subjectID int64, window Window, cohort []float64) (models.EngagementMetrics, models.GradeMetrics, models.RiskIndicators) {
	facts := m.gather(ctx, courseID, subjectID, window, true, true)
	engagement := m.engagementFrom(facts)
	grades := gradesFrom(facts, cohort)
	return engagement, grades, m.Risk(engagement, grades)
}

func (m *MetricsCalculator) engagementFrom(f subjectFacts) models.EngagementMetrics {
	var out models.EngagementMetrics
	if a := f.activity; a != nil {
		out.TotalLogins = a.Logins
		out.TotalViews = a.Views
		out.CreateActions = a.Creates
		out.UpdateActions = a.Updates
		out.ActiveDays = a.ActiveDays
		if a.LastAccess != nil {
			last := a.LastAccess.UTC()
			out.LastAccess = &last
			out.DaysSinceLastAccess = daysBetween(last, m.cfg.Now())
		}
	}
	out.EstimatedMinutes = EstimateMinutes(f.stamps, m.cfg.SessionGap)
	if fo := f.forum; fo != nil {
		out.ForumPosts = fo.Posts
		out.ForumReplies = fo.Replies
		out.DiscussionsStarted = fo.DiscussionsStarted
	}
	if as := f.assignment; as != nil {
		out.AssignmentSubmissions = as.Submissions
		out.LateSubmissions = as.LateSubmissions
	}
	if q := f.quiz; q != nil {
		out.QuizAttempts = q.Attempts
	}
	if c := f.completion; c != nil {
		out.CompletionRate = round2(c.Rate())
		out.ActivitiesCompleted = c.Completed
		out.ActivitiesTotal = c.Total
	}
	return out
}

func gradesFrom(f subjectFacts, cohort []float64) models.GradeMetrics {
	out := models.GradeMetrics{Trend: models.TrendStable}
	var raw *float64
	if g := f.grades; g != nil {
		if g.FinalGrade != nil && g.MaxGrade > 0 {
			raw = floatPtr(*g.FinalGrade / g.MaxGrade * 100)
			out.CurrentGrade = floatPtr(round2(*raw))
		}
		if len(g.ItemPercents) > 0 {
			out.ItemAverage = floatPtr(round2(mean(g.ItemPercents)))
		}
	}
	if q := f.quiz; q != nil && q.AveragePercent != nil {
		out.QuizAverage = floatPtr(round2(*q.AveragePercent))
	}
	if as := f.assignment; as != nil && as.AveragePercent != nil {
		out.AssignmentAverage = floatPtr(round2(*as.AveragePercent))
	}
	if raw != nil {
		out.PercentileRank = PercentileRank(*raw, cohort)
	}
	out.Trend = GradeTrendOf(out.CurrentGrade, out.ItemAverage)
	return out
}

// Timeline groups the student's events inside window per UTC day, oldest first. Days
// without events are omitted.
func (m *MetricsCalculator) Timeline(ctx context.Context, courseID, subjectID int64, window Window) ([]models.TimelineDay, error) {
	stamps, err := m.source.AccessTimestamps(ctx, courseID, subjectID, window.From, window.To)
	if err != nil {
		return nil, fmt.Errorf("activity timeline: %w", err)
	}
	counts := make(map[string]int)
	for _, ts := range stamps {
		counts[ts.UTC().Format(time.DateOnly)]++
	}
	days := make([]models.TimelineDay, 0, len(counts))
	for day, n := range counts {
		days = append(days, models.TimelineDay{Date: day, Actions: n})
	}
	sort.Slice(days, func(i, j int) bool { return days[i].Date < days[j].Date })
	return days, nil
}

// Risk scores a student from the weighted factor table. Each factor contributes
// independently; the sum is capped at 100 points and scaled to [0,1].
func (m *MetricsCalculator) Risk(engagement models.EngagementMetrics, grades models.GradeMetrics) models.RiskIndicators {
	points := 0
	factors := make([]string, 0, 6)

	switch days := engagement.DaysSinceLastAccess; {
	case days > 14:
		points += riskPointsLongInactive
		factors = append(factors, fmt.Sprintf("No access in %d days", days))
	case days >= 8:
		points += riskPointsRecentInactive
		factors = append(factors, "Low recent activity")
	}

	switch logins := engagement.TotalLogins; {
	case logins < 5:
		points += riskPointsVeryFewLogins
		factors = append(factors, "Very few logins")
	case logins < 10:
		points += riskPointsFewLogins
	}

	switch rate := completionRatio(engagement); {
	case rate < 0.3:
		points += riskPointsVeryLowComplete
		factors = append(factors, fmt.Sprintf("Low completion rate (%.0f%%)", rate*100))
	case rate < 0.5:
		points += riskPointsLowComplete
	}

	if grade := grades.CurrentGrade; grade != nil {
		switch {
		case *grade < 50:
			points += riskPointsFailingGrade
			factors = append(factors, fmt.Sprintf("Failing grade (%.1f%%)", *grade))
		case *grade < 60:
			points += riskPointsLowGrade
			factors = append(factors, fmt.Sprintf("Low grade (%.1f%%)", *grade))
		}
	}

	if grades.Trend == models.TrendDeclining {
		points += riskPointsDeclining
		factors = append(factors, "Declining grade trend")
	}

	if grades.QuizAverage != nil && *grades.QuizAverage < 50 {
		points += riskPointsLowQuiz
		factors = append(factors, "Low quiz performance")
	}

	if points > 100 {
		points = 100
	}
	score := math.Min(float64(points)/100, 1)

	level := models.RiskLow
	switch {
	case score >= riskThresholdHigh:
		level = models.RiskHigh
	case score >= riskThresholdMedium:
		level = models.RiskMedium
	}

	return models.RiskIndicators{
		RiskScore:            round2(score),
		RiskLevel:            level,
		AtRisk:               score >= riskThresholdMedium,
		Factors:              factors,
		PredictionConfidence: predictionConfidence(engagement, grades),
	}
}

// AggregatedInsights rolls bundles up to course level. An empty slice yields zeros.
func (m *MetricsCalculator) AggregatedInsights(bundles []models.SubjectBundle) models.AggregatedInsights {
	out := models.AggregatedInsights{
		TotalStudents: len(bundles),
		RiskDistribution: map[models.RiskLevel]int{
			models.RiskLow:    0,
			models.RiskMedium: 0,
			models.RiskHigh:   0,
		},
	}
	if len(bundles) == 0 {
		return out
	}

	var engagementSum, completionSum, gradeSum float64
	graded := 0
	for _, b := range bundles {
		if b.Risk.AtRisk {
			out.AtRiskCount++
		}
		if b.Risk.RiskLevel != "" {
			out.RiskDistribution[b.Risk.RiskLevel]++
		}
		if g := b.Grades.CurrentGrade; g != nil {
			gradeSum += *g
			graded++
			if *g > 80 && completionRatio(b.Engagement) > 0.7 {
				out.HighPerformerCount++
			}
		}
		engagementSum += EngagementScore(b.Engagement)
		completionSum += completionRatio(b.Engagement)
	}

	n := float64(len(bundles))
	out.AverageEngagement = round2(engagementSum / n)
	out.AverageCompletionRate = round2(completionSum / n)
	if graded > 0 {
		out.AverageGrade = floatPtr(round2(gradeSum / float64(graded)))
	}
	return out
}

// CompletionBreakdown counts students who completed everything, some, or nothing.
func (m *MetricsCalculator) CompletionBreakdown(bundles []models.SubjectBundle) models.CompletionBreakdown {
	var out models.CompletionBreakdown
	for _, b := range bundles {
		switch rate := completionRatio(b.Engagement); {
		case rate >= 1:
			out.Completed++
		case rate > 0:
			out.InProgress++
		default:
			out.NotStarted++
		}
	}
	return out
}

func (m *MetricsCalculator) degraded(category string, courseID, subjectID int64, err error) {
	m.logger.Warn("metric category unavailable, using defaults",
		zap.String("category", category),
		zap.Int64("course_id", courseID),
		zap.Int64("subject_id", subjectID),
		zap.Error(err),
	)
}

// EngagementScore is min(logins*5 + completion*50, 100) scaled to [0,1].
func EngagementScore(e models.EngagementMetrics) float64 {
	raw := float64(e.TotalLogins)*5 + completionRatio(e)*50
	return math.Min(raw, 100) / 100
}

// PercentileRank returns the fraction of the other graded students whose grade is
// strictly below grade, rounded to 2 decimals. cohort is expected to include the
// student's own grade. Grades are compared at 2 decimals so the student's own entry,
// computed by the database, never counts as below them.
func PercentileRank(grade float64, cohort []float64) float64 {
	others := len(cohort) - 1
	if others <= 0 {
		return 0
	}
	grade = round2(grade)
	below := 0
	for _, g := range cohort {
		if round2(g) < grade {
			below++
		}
	}
	if below > others {
		below = others
	}
	return round2(float64(below) / float64(others))
}

// completionRatio is the unrounded completion rate used for scoring. CompletionRate is
// rounded for the payload, so it is only used when no activity counts are known.
func completionRatio(e models.EngagementMetrics) float64 {
	if e.ActivitiesTotal > 0 {
		return models.CompletionFacts{Completed: e.ActivitiesCompleted, Total: e.ActivitiesTotal}.Rate()
	}
	return e.CompletionRate
}

// GradeTrendOf compares the current grade with the student's own mean item grade. This
// is a proxy: no historical grade snapshots exist to compare against.
func GradeTrendOf(current, itemAverage *float64) models.GradeTrend {
	if current == nil || itemAverage == nil {
		return models.TrendStable
	}
	switch {
	case *current > *itemAverage*1.1:
		return models.TrendImproving
	case *current < *itemAverage*0.9:
		return models.TrendDeclining
	default:
		return models.TrendStable
	}
}

// EstimateMinutes sums the gaps between consecutive events that are no longer than
// sessionGap. Every session counts for at least one minute.
func EstimateMinutes(stamps []time.Time, sessionGap time.Duration) int {
	if len(stamps) == 0 {
		return 0
	}
	sorted := make([]time.Time, len(stamps))
	copy(sorted, stamps)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Before(sorted[j]) })

	total := 0
	var session time.Duration
	for i := 1; i < len(sorted); i++ {
		gap := sorted[i].Sub(sorted[i-1])
		if gap <= sessionGap {
			session += gap
			continue
		}
		total += sessionMinutes(session)
		session = 0
	}
	return total + sessionMinutes(session)
}

func sessionMinutes(d time.Duration) int {
	if m := int(d / time.Minute); m > 1 {
		return m
	}
	return 1
}

func predictionConfidence(e models.EngagementMetrics, g models.GradeMetrics) float64 {
	signals := 0
	if e.TotalLogins > 0 {
		signals++
	}
	if e.CompletionRate > 0 {
		signals++
	}
	if g.CurrentGrade != nil {
		signals++
	}
	if e.QuizAttempts > 0 {
		signals++
	}
	if e.AssignmentSubmissions > 0 {
		signals++
	}
	return math.Min(round2(float64(signals)/confidenceSignals), 1)
}

func daysBetween(from, to time.Time) int {
	if !to.After(from) {
		return 0
	}
	return int(to.Sub(from) / (24 * time.Hour))
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func floatPtr(v float64) *float64 {
	return &v
}
