package models

import "time"

// WaitlistEntry is one student's place in a course waitlist. Positions within
// a course are contiguous from 1 with no gaps or duplicates at any settled
// instant; compaction happens in the same transaction as removal.
type WaitlistEntry struct {
	ID        string    `db:"id" json:"id"`
	CourseID  string    `db:"course_id" json:"course_id"`
	StudentID string    `db:"student_id" json:"student_id"`
	Position  int       `db:"position" json:"position"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// WaitlistEntryDetail enriches an entry with student info for reporting.
type WaitlistEntryDetail struct {
	WaitlistEntry
	StudentName  string `db:"student_name" json:"student_name"`
	StudentEmail string `db:"student_email" json:"student_email"`
}
