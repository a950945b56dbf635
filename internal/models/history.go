package models

import "time"

// HistoryAction enumerates recorded state transitions.
type HistoryAction string

const (
	HistoryActionEnrolled   HistoryAction = "ENROLLED"
	HistoryActionWaitlisted HistoryAction = "WAITLISTED"
	HistoryActionPromoted   HistoryAction = "PROMOTED"
	HistoryActionDropped    HistoryAction = "DROPPED"
	HistoryActionCompleted  HistoryAction = "COMPLETED"
)

// HistoryEntry is one append-only audit row. Student and course ids are plain
// text on purpose: history survives removal of the referenced rows.
type HistoryEntry struct {
	ID        string        `db:"id" json:"id"`
	StudentID string        `db:"student_id" json:"student_id"`
	CourseID  string        `db:"course_id" json:"course_id"`
	Action    HistoryAction `db:"action" json:"action"`
	Detail    []byte        `db:"detail" json:"detail,omitempty"`
	CreatedAt time.Time     `db:"created_at" json:"created_at"`
}

// Valid reports whether the action is one of the recorded transitions.
func (a HistoryAction) Valid() bool {
	switch a {
	case HistoryActionEnrolled, HistoryActionWaitlisted, HistoryActionPromoted, HistoryActionDropped, HistoryActionCompleted:
		return true
	}
	return false
}

// HistoryFilter scopes history scans by student, course, or time range.
type HistoryFilter struct {
	StudentID string
	CourseID  string
	Action    HistoryAction
	From      *time.Time
	To        *time.Time
	Page      int
	PageSize  int
}
