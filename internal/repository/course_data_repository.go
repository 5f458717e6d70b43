package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/course-insights-bridge/internal/models"
)

// CourseDataRepository reads the host platform's gradebook, activity log and enrollment
// tables. The schema is owned by the platform and is only ever queried, never written.
// Timestamps are stored by the platform as unix seconds.
type CourseDataRepository struct {
	db *sqlx.DB
}

// NewCourseDataRepository constructs the repository.
func NewCourseDataRepository(db *sqlx.DB) *CourseDataRepository {
	return &CourseDataRepository{db: db}
}

const loginEvent = `\core\event\user_loggedin`

// Course returns course metadata.
func (r *CourseDataRepository) Course(ctx context.Context, courseID int64) (*models.Course, error) {
	const query = `SELECT id, fullname, shortname,
        CASE WHEN startdate > 0 THEN to_timestamp(startdate) END AS startdate,
        CASE WHEN enddate > 0 THEN to_timestamp(enddate) END AS enddate
        FROM mdl_course WHERE id = $1`
	var course models.Course
	if err := r.db.GetContext(ctx, &course, query, courseID); err != nil {
		return nil, fmt.Errorf("get course %d: %w", courseID, err)
	}
	return &course, nil
}

// EnrolledSubjects lists active student enrolments ordered by user id.
func (r *CourseDataRepository) EnrolledSubjects(ctx context.Context, courseID int64) ([]models.Subject, error) {
	const query = `SELECT ue.userid AS user_id,
        to_timestamp(MIN(CASE WHEN ue.timestart > 0 THEN ue.timestart ELSE ue.timecreated END)) AS enrolled_at
        FROM mdl_user_enrolments ue
        JOIN mdl_enrol e ON e.id = ue.enrolid
        JOIN mdl_context ctx ON ctx.instanceid = e.courseid AND ctx.contextlevel = 50
        JOIN mdl_role_assignments ra ON ra.contextid = ctx.id AND ra.userid = ue.userid
        JOIN mdl_role ro ON ro.id = ra.roleid AND ro.shortname = 'student'
        WHERE e.courseid = $1 AND e.status = 0 AND ue.status = 0
        GROUP BY ue.userid
        ORDER BY ue.userid`
	var subjects []models.Subject
	if err := r.db.SelectContext(ctx, &subjects, query, courseID); err != nil {
		return nil, fmt.Errorf("list enrolled subjects for course %d: %w", courseID, err)
	}
	return subjects, nil
}

// ActivitySummary aggregates log events for one student within [from, to]. Logins are
// site-wide events so they are counted regardless of course. LastAccess is the latest
// course event up to to, however long before from it happened, so a student absent for
// the whole window still reports how long they have been away.
func (r *CourseDataRepository) ActivitySummary(ctx context.Context, courseID, subjectID int64, from, to time.Time) (*models.ActivityFacts, error) {
	const query = `SELECT
        COUNT(*) FILTER (WHERE eventname = $5) AS logins,
        COUNT(*) FILTER (WHERE courseid = $1 AND crud = 'r') AS views,
        COUNT(*) FILTER (WHERE courseid = $1 AND crud = 'c') AS creates,
        COUNT(*) FILTER (WHERE courseid = $1 AND crud = 'u') AS updates,
        COUNT(DISTINCT to_timestamp(timecreated)::date) FILTER (WHERE courseid = $1) AS active_days
        FROM mdl_logstore_standard_log
        WHERE userid = $2 AND timecreated BETWEEN $3 AND $4 AND (courseid = $1 OR eventname = $5)`
	var facts models.ActivityFacts
	if err := r.db.GetContext(ctx, &facts, query, courseID, subjectID, from.Unix(), to.Unix(), loginEvent); err != nil {
		return nil, fmt.Errorf("activity summary for user %d: %w", subjectID, err)
	}

	const lastAccessQuery = `SELECT to_timestamp(MAX(timecreated)) AS last_access
        FROM mdl_logstore_standard_log
        WHERE courseid = $1 AND userid = $2 AND timecreated <= $3`
	var last sql.NullTime
	if err := r.db.GetContext(ctx, &last, lastAccessQuery, courseID, subjectID, to.Unix()); err != nil {
		return nil, fmt.Errorf("last access for user %d: %w", subjectID, err)
	}
	if last.Valid {
		at := last.Time
		facts.LastAccess = &at
	}
	return &facts, nil
}

// GradeSummary returns the course total and the percentage of every graded activity.
// A student without a course total yields empty facts rather than an error.
func (r *CourseDataRepository) GradeSummary(ctx context.Context, courseID, subjectID int64) (*models.GradeFacts, error) {
	const totalQuery = `SELECT gg.finalgrade AS final_grade, gi.grademax AS max_grade
        FROM mdl_grade_items gi
        JOIN mdl_grade_grades gg ON gg.itemid = gi.id AND gg.userid = $2
        WHERE gi.courseid = $1 AND gi.itemtype = 'course'`
	var facts models.GradeFacts
	if err := r.db.GetContext(ctx, &facts, totalQuery, courseID, subjectID); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("course grade for user %d: %w", subjectID, err)
	}

	const itemsQuery = `SELECT (gg.finalgrade / gi.grademax) * 100
        FROM mdl_grade_items gi
        JOIN mdl_grade_grades gg ON gg.itemid = gi.id AND gg.userid = $2
        WHERE gi.courseid = $1 AND gi.itemtype = 'mod' AND gg.finalgrade IS NOT NULL AND gi.grademax > 0`
	if err := r.db.SelectContext(ctx, &facts.ItemPercents, itemsQuery, courseID, subjectID); err != nil {
		return nil, fmt.Errorf("item grades for user %d: %w", subjectID, err)
	}
	return &facts, nil
}

// CourseGrades returns every graded student's course total as a percentage.
func (r *CourseDataRepository) CourseGrades(ctx context.Context, courseID int64) ([]float64, error) {
	const query = `SELECT (gg.finalgrade / gi.grademax) * 100
        FROM mdl_grade_items gi
        JOIN mdl_grade_grades gg ON gg.itemid = gi.id
        WHERE gi.courseid = $1 AND gi.itemtype = 'course' AND gg.finalgrade IS NOT NULL AND gi.grademax > 0`
	var grades []float64
	if err := r.db.SelectContext(ctx, &grades, query, courseID); err != nil {
		return nil, fmt.Errorf("course grades for course %d: %w", courseID, err)
	}
	return grades, nil
}

// QuizSummary aggregates finished quiz attempts.
func (r *CourseDataRepository) QuizSummary(ctx context.Context, courseID, subjectID int64) (*models.QuizFacts, error) {
	const query = `SELECT COUNT(qa.id) AS attempts,
        AVG(CASE WHEN q.sumgrades > 0 THEN (qa.sumgrades / q.sumgrades) * 100 END) AS average_percent
        FROM mdl_quiz_attempts qa
        JOIN mdl_quiz q ON q.id = qa.quiz
        WHERE q.course = $1 AND qa.userid = $2 AND qa.state = 'finished'`
	var facts models.QuizFacts
	if err := r.db.GetContext(ctx, &facts, query, courseID, subjectID); err != nil {
		return nil, fmt.Errorf("quiz summary for user %d: %w", subjectID, err)
	}
	return &facts, nil
}

// AssignmentSummary aggregates the latest submitted attempt of each assignment.
func (r *CourseDataRepository) AssignmentSummary(ctx context.Context, courseID, subjectID int64) (*models.AssignmentFacts, error) {
	const query = `SELECT COUNT(s.id) AS submissions,
        COUNT(s.id) FILTER (WHERE a.duedate > 0 AND s.timemodified > a.duedate) AS late_submissions,
        AVG(CASE WHEN g.grade >= 0 AND a.grade > 0 THEN (g.grade / a.grade) * 100 END) AS average_percent
        FROM mdl_assign_submission s
        JOIN mdl_assign a ON a.id = s.assignment
        LEFT JOIN mdl_assign_grades g ON g.assignment = a.id AND g.userid = s.userid AND g.attemptnumber = s.attemptnumber
        WHERE a.course = $1 AND s.userid = $2 AND s.status = 'submitted' AND s.latest = 1`
	var facts models.AssignmentFacts
	if err := r.db.GetContext(ctx, &facts, query, courseID, subjectID); err != nil {
		return nil, fmt.Errorf("assignment summary for user %d: %w", subjectID, err)
	}
	return &facts, nil
}

// ForumSummary counts posts, replies and started discussions.
func (r *CourseDataRepository) ForumSummary(ctx context.Context, courseID, subjectID int64) (*models.ForumFacts, error) {
	const query = `SELECT COUNT(p.id) AS posts,
        COUNT(p.id) FILTER (WHERE p.parent > 0) AS replies,
        COUNT(p.id) FILTER (WHERE p.parent = 0) AS discussions_started
        FROM mdl_forum_posts p
        JOIN mdl_forum_discussions d ON d.id = p.discussion
        WHERE d.course = $1 AND p.userid = $2`
	var facts models.ForumFacts
	if err := r.db.GetContext(ctx, &facts, query, courseID, subjectID); err != nil {
		return nil, fmt.Errorf("forum summary for user %d: %w", subjectID, err)
	}
	return &facts, nil
}

// CompletionStatus counts completed activities among those with completion tracking.
func (r *CourseDataRepository) CompletionStatus(ctx context.Context, courseID, subjectID int64) (*models.CompletionFacts, error) {
	const query = `SELECT
        COUNT(cmc.id) FILTER (WHERE cmc.completionstate IN (1, 2)) AS completed,
        COUNT(cm.id) AS total
        FROM mdl_course_modules cm
        LEFT JOIN mdl_course_modules_completion cmc ON cmc.coursemoduleid = cm.id AND cmc.userid = $2
        WHERE cm.course = $1 AND cm.completion > 0 AND cm.deletioninprogress = 0`
	var facts models.CompletionFacts
	if err := r.db.GetContext(ctx, &facts, query, courseID, subjectID); err != nil {
		return nil, fmt.Errorf("completion status for user %d: %w", subjectID, err)
	}
	return &facts, nil
}

// AccessTimestamps returns the ordered times of every course event for a student within
// [from, to].
func (r *CourseDataRepository) AccessTimestamps(ctx context.Context, courseID, subjectID int64, from, to time.Time) ([]time.Time, error) {
	const query = `SELECT to_timestamp(timecreated)
        FROM mdl_logstore_standard_log
        WHERE courseid = $1 AND userid = $2 AND timecreated BETWEEN $3 AND $4
        ORDER BY timecreated ASC`
	var stamps []time.Time
	if err := r.db.SelectContext(ctx, &stamps, query, courseID, subjectID, from.Unix(), to.Unix()); err != nil {
		return nil, fmt.Errorf("access timestamps for user %d: %w", subjectID, err)
	}
	return stamps, nil
}
