package models

import "time"

// Prerequisite is a directed edge course -> prerequisite course. The graph is
// kept acyclic and free of self-loops at edge-insertion time.
type Prerequisite struct {
	CourseID       string    `db:"course_id" json:"course_id"`
	PrerequisiteID string    `db:"prerequisite_id" json:"prerequisite_id"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
}

// PrerequisiteDetail includes the prerequisite course's metadata.
type PrerequisiteDetail struct {
	Prerequisite
	PrerequisiteCode  string `db:"prerequisite_code" json:"prerequisite_code"`
	PrerequisiteTitle string `db:"prerequisite_title" json:"prerequisite_title"`
}
