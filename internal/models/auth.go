package models

import "github.com/golang-jwt/jwt/v5"

// CallerRole identifies who is calling the bridge.
type CallerRole string

const (
	// RoleScheduler is the host platform's task runner.
	RoleScheduler CallerRole = "scheduler"
	// RoleTeacher may trigger and read reports for courses they teach.
	RoleTeacher CallerRole = "teacher"
	// RoleAdmin may additionally rotate the anonymization salt.
	RoleAdmin CallerRole = "admin"
)

// JWTClaims is the payload of tokens minted by the host platform for this service.
type JWTClaims struct {
	UserID    int64      `json:"user_id"`
	Role      CallerRole `json:"role"`
	CourseIDs []int64    `json:"course_ids,omitempty"`
	jwt.RegisteredClaims
}

// CanAccessCourse reports whether the caller may act on courseID.
func (c *JWTClaims) CanAccessCourse(courseID int64) bool {
	if c == nil {
		return false
	}
	if c.Role == RoleAdmin || c.Role == RoleScheduler {
		return true
	}
	for _, id := range c.CourseIDs {
		if id == courseID {
			return true
		}
	}
	return false
}
