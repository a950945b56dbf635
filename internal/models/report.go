package models

import "time"

// CourseAvailability is the read-only seat projection for a course.
type CourseAvailability struct {
	CourseID          string `db:"course_id" json:"course_id"`
	Code              string `db:"code" json:"code"`
	Title             string `db:"title" json:"title"`
	Semester          string `db:"semester" json:"semester"`
	Capacity          int    `db:"capacity" json:"capacity"`
	CurrentEnrollment int    `db:"current_enrollment" json:"current_enrollment"`
	AvailableSeats    int    `db:"available_seats" json:"available_seats"`
	WaitlistLength    int    `db:"waitlist_length" json:"waitlist_length"`
}

// WaitlistStatus reports a student's place on a course waitlist, including
// the estimated distance to a seat (position plus the seat deficit).
type WaitlistStatus struct {
	CourseID       string `db:"course_id" json:"course_id"`
	StudentID      string `db:"student_id" json:"student_id"`
	Position       int    `db:"position" json:"position"`
	WaitlistLength int    `db:"waitlist_length" json:"waitlist_length"`
	SeatsToGo      int    `db:"seats_to_go" json:"seats_to_go"`
}

// StudentScheduleEntry lists an active enrollment with course metadata.
type StudentScheduleEntry struct {
	EnrollmentID string    `db:"enrollment_id" json:"enrollment_id"`
	CourseID     string    `db:"course_id" json:"course_id"`
	Code         string    `db:"code" json:"code"`
	Title        string    `db:"title" json:"title"`
	Semester     string    `db:"semester" json:"semester"`
	EnrolledAt   time.Time `db:"enrolled_at" json:"enrolled_at"`
}
