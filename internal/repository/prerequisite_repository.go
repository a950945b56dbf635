package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/course-reg-api/internal/models"
)

// PrerequisiteRepository maintains the prerequisite adjacency structure and
// answers eligibility queries against a student's completion history.
type PrerequisiteRepository struct {
	db *sqlx.DB
}

// NewPrerequisiteRepository constructs the repository.
func NewPrerequisiteRepository(db *sqlx.DB) *PrerequisiteRepository {
	return &PrerequisiteRepository{db: db}
}

// Add inserts a course -> prerequisite edge inside the caller's transaction.
func (r *PrerequisiteRepository) Add(ctx context.Context, exec sqlx.ExtContext, courseID, prerequisiteID string) error {
	const query = `INSERT INTO prerequisites (course_id, prerequisite_id, created_at) VALUES ($1, $2, $3)`
	if _, err := exec.ExecContext(ctx, query, courseID, prerequisiteID, time.Now().UTC()); err != nil {
		return fmt.Errorf("add prerequisite: %w", err)
	}
	return nil
}

// Remove deletes a course -> prerequisite edge.
func (r *PrerequisiteRepository) Remove(ctx context.Context, courseID, prerequisiteID string) error {
	const query = `DELETE FROM prerequisites WHERE course_id = $1 AND prerequisite_id = $2`
	result, err := r.db.ExecContext(ctx, query, courseID, prerequisiteID)
	if err != nil {
		return fmt.Errorf("remove prerequisite: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("remove prerequisite: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// ListForCourse returns the declared prerequisite set with course metadata.
func (r *PrerequisiteRepository) ListForCourse(ctx context.Context, courseID string) ([]models.PrerequisiteDetail, error) {
	const query = `SELECT p.course_id, p.prerequisite_id, p.created_at,
        c.code AS prerequisite_code, c.title AS prerequisite_title
        FROM prerequisites p
        JOIN courses c ON c.id = p.prerequisite_id
        WHERE p.course_id = $1 ORDER BY c.code ASC`
	var prerequisites []models.PrerequisiteDetail
	if err := r.db.SelectContext(ctx, &prerequisites, query, courseID); err != nil {
		return nil, fmt.Errorf("list prerequisites: %w", err)
	}
	return prerequisites, nil
}

// Reachable walks the prerequisite graph from fromID and reports whether
// targetID is reachable. Used for cycle detection before edge insertion:
// adding course -> prereq is illegal when course is reachable from prereq.
func (r *PrerequisiteRepository) Reachable(ctx context.Context, exec sqlx.ExtContext, fromID, targetID string) (bool, error) {
	const query = `WITH RECURSIVE reach(course_id) AS (
            SELECT prerequisite_id FROM prerequisites WHERE course_id = $1
        UNION
            SELECT p.prerequisite_id FROM prerequisites p JOIN reach r ON p.course_id = r.course_id
        )
        SELECT 1 FROM reach WHERE course_id = $2 LIMIT 1`
	var one int
	if err := sqlx.GetContext(ctx, exec, &one, query, fromID, targetID); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("prerequisite reachability: %w", err)
	}
	return true, nil
}

// MissingFor returns the prerequisite course ids the student has not completed
// with a passing grade, across all semesters. An empty result means eligible.
// Must run inside the same transaction as the enrollment decision so the check
// cannot race concurrent grade changes.
func (r *PrerequisiteRepository) MissingFor(ctx context.Context, exec sqlx.ExtContext, studentID, courseID string) ([]string, error) {
	const query = `SELECT p.prerequisite_id FROM prerequisites p
        WHERE p.course_id = $1
          AND NOT EXISTS (
            SELECT 1 FROM enrollments e
            WHERE e.student_id = $2 AND e.course_id = p.prerequisite_id
              AND e.status = $3 AND e.grade IN ('A', 'B', 'C', 'D')
          )
        ORDER BY p.prerequisite_id`
	var missing []string
	if err := sqlx.SelectContext(ctx, exec, &missing, query, courseID, studentID, models.EnrollmentStatusCompleted); err != nil {
		return nil, fmt.Errorf("check prerequisites: %w", err)
	}
	return missing, nil
}
