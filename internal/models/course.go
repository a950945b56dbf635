package models

import "time"

// Course represents an offered course within a semester. The semester is an
// opaque partition key: enrollments and waitlists never cross it.
type Course struct {
	ID                string    `db:"id" json:"id"`
	Code              string    `db:"code" json:"code"`
	Title             string    `db:"title" json:"title"`
	Semester          string    `db:"semester" json:"semester"`
	Capacity          int       `db:"capacity" json:"capacity"`
	CurrentEnrollment int       `db:"current_enrollment" json:"current_enrollment"`
	CreatedAt         time.Time `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time `db:"updated_at" json:"updated_at"`
}

// AvailableSeats derives the remaining capacity.
func (c Course) AvailableSeats() int {
	seats := c.Capacity - c.CurrentEnrollment
	if seats < 0 {
		return 0
	}
	return seats
}

// CourseFilter defines filter criteria for listing courses.
type CourseFilter struct {
	Semester  string
	Search    string
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}
