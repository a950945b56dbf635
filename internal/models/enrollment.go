package models

import "time"

// EnrollmentStatus represents the lifecycle of an enrollment.
type EnrollmentStatus string

// Possible enrollment statuses. DROPPED and COMPLETED are terminal for a
// (student, course, semester) tuple; a later re-enrollment after a drop is a
// fresh row.
const (
	EnrollmentStatusActive    EnrollmentStatus = "ACTIVE"
	EnrollmentStatusDropped   EnrollmentStatus = "DROPPED"
	EnrollmentStatusCompleted EnrollmentStatus = "COMPLETED"
)

// Grade is the recorded result of a completed enrollment.
type Grade string

const (
	GradeA Grade = "A"
	GradeB Grade = "B"
	GradeC Grade = "C"
	GradeD Grade = "D"
	GradeF Grade = "F"
)

// Valid reports whether the grade is a supported value.
func (g Grade) Valid() bool {
	switch g {
	case GradeA, GradeB, GradeC, GradeD, GradeF:
		return true
	default:
		return false
	}
}

// Passing reports whether the grade satisfies a prerequisite.
func (g Grade) Passing() bool {
	return g.Valid() && g != GradeF
}

// PassingGrades is the set accepted by the prerequisite checker.
var PassingGrades = []Grade{GradeA, GradeB, GradeC, GradeD}

// Enrollment captures a student's registration to a course within a semester.
type Enrollment struct {
	ID         string           `db:"id" json:"id"`
	StudentID  string           `db:"student_id" json:"student_id"`
	CourseID   string           `db:"course_id" json:"course_id"`
	Semester   string           `db:"semester" json:"semester"`
	Status     EnrollmentStatus `db:"status" json:"status"`
	Grade      *Grade           `db:"grade" json:"grade,omitempty"`
	EnrolledAt time.Time        `db:"enrolled_at" json:"enrolled_at"`
	UpdatedAt  time.Time        `db:"updated_at" json:"updated_at"`
}

// EnrollmentDetail enriches Enrollment with student and course info.
type EnrollmentDetail struct {
	Enrollment
	StudentName  string `db:"student_name" json:"student_name"`
	StudentEmail string `db:"student_email" json:"student_email"`
	CourseCode   string `db:"course_code" json:"course_code"`
	CourseTitle  string `db:"course_title" json:"course_title"`
}

// EnrollmentFilter provides filters for listing enrollments.
type EnrollmentFilter struct {
	StudentID string
	CourseID  string
	Semester  string
	Status    EnrollmentStatus
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}

// EnrollmentOutcomeStatus describes the result of an enroll request.
type EnrollmentOutcomeStatus string

const (
	EnrollmentOutcomeActive     EnrollmentOutcomeStatus = "ACTIVE"
	EnrollmentOutcomeWaitlisted EnrollmentOutcomeStatus = "WAITLISTED"
)

// EnrollmentOutcome is the caller-facing result of Enroll. Position is set
// only for waitlisted outcomes.
type EnrollmentOutcome struct {
	Status     EnrollmentOutcomeStatus `json:"status"`
	CourseID   string                  `json:"course_id"`
	Enrollment *Enrollment             `json:"enrollment,omitempty"`
	Position   int                     `json:"position,omitempty"`
}

// BatchEnrollmentResult reports one per-course outcome of a batch request.
// Exactly one of Outcome or Error is set.
type BatchEnrollmentResult struct {
	CourseID string             `json:"course_id"`
	Outcome  *EnrollmentOutcome `json:"outcome,omitempty"`
	Error    *BatchError        `json:"error,omitempty"`
}

// BatchError is the serialisable error slice of a batch result.
type BatchError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
