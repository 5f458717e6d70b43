package models

import "time"

// The types below mirror what the host platform's gradebook, activity log and enrollment
// store expose per student. Absence of data is expressed as zero values or nil pointers.

// Course is the host platform course record.
type Course struct {
	ID        int64      `db:"id" json:"id"`
	FullName  string     `db:"fullname" json:"fullname"`
	ShortName string     `db:"shortname" json:"shortname"`
	StartDate *time.Time `db:"startdate" json:"startdate,omitempty"`
	EndDate   *time.Time `db:"enddate" json:"enddate,omitempty"`
}

// Subject is an enrolled course participant.
type Subject struct {
	ID         int64     `db:"user_id" json:"user_id"`
	EnrolledAt time.Time `db:"enrolled_at" json:"enrolled_at"`
}

// ActivityFacts summarises activity log events inside a report window.
type ActivityFacts struct {
	Logins     int        `db:"logins"`
	Views      int        `db:"views"`
	Creates    int        `db:"creates"`
	Updates    int        `db:"updates"`
	ActiveDays int        `db:"active_days"`
	LastAccess *time.Time `db:"last_access"`
}

// GradeFacts holds the course total plus each graded item's percentage.
type GradeFacts struct {
	FinalGrade   *float64  `db:"final_grade"`
	MaxGrade     float64   `db:"max_grade"`
	ItemPercents []float64 `db:"-"`
}

// QuizFacts summarises finished quiz attempts.
type QuizFacts struct {
	Attempts       int      `db:"attempts"`
	AveragePercent *float64 `db:"average_percent"`
}

// AssignmentFacts summarises assignment submissions.
type AssignmentFacts struct {
	Submissions     int      `db:"submissions"`
	LateSubmissions int      `db:"late_submissions"`
	AveragePercent  *float64 `db:"average_percent"`
}

// ForumFacts summarises forum participation.
type ForumFacts struct {
	Posts              int `db:"posts"`
	Replies            int `db:"replies"`
	DiscussionsStarted int `db:"discussions_started"`
}

// CompletionFacts counts completed activities against those tracking completion.
type CompletionFacts struct {
	Completed int `db:"completed"`
	Total     int `db:"total"`
}

// Rate returns the completion ratio in [0,1].
func (c CompletionFacts) Rate() float64 {
	if c.Total <= 0 || c.Completed <= 0 {
		return 0
	}
	if c.Completed >= c.Total {
		return 1
	}
	return float64(c.Completed) / float64(c.Total)
}
