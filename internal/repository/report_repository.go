package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/course-reg-api/internal/models"
)

// ReportRepository serves read-only projections. Multi-read projections run
// in a repeatable-read, read-only transaction so a report never observes a
// mix of pre- and post-commit state, and never blocks writers.
type ReportRepository struct {
	db *sqlx.DB
}

// NewReportRepository constructs the repository.
func NewReportRepository(db *sqlx.DB) *ReportRepository {
	return &ReportRepository{db: db}
}

func (r *ReportRepository) snapshot(ctx context.Context) (*sqlx.Tx, error) {
	return r.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
}

// CourseAvailability returns the seat projection for one course.
func (r *ReportRepository) CourseAvailability(ctx context.Context, courseID string) (*models.CourseAvailability, error) {
	const query = `SELECT c.id AS course_id, c.code, c.title, c.semester, c.capacity, c.current_enrollment,
        c.capacity - c.current_enrollment AS available_seats,
        (SELECT COUNT(*) FROM waitlist_entries w WHERE w.course_id = c.id) AS waitlist_length
        FROM courses c WHERE c.id = $1`
	var availability models.CourseAvailability
	if err := r.db.GetContext(ctx, &availability, query, courseID); err != nil {
		return nil, err
	}
	return &availability, nil
}

// ListAvailability returns seat projections for a semester.
func (r *ReportRepository) ListAvailability(ctx context.Context, semester string) ([]models.CourseAvailability, error) {
	tx, err := r.snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin availability snapshot: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	const query = `SELECT c.id AS course_id, c.code, c.title, c.semester, c.capacity, c.current_enrollment,
        c.capacity - c.current_enrollment AS available_seats,
        (SELECT COUNT(*) FROM waitlist_entries w WHERE w.course_id = c.id) AS waitlist_length
        FROM courses c WHERE c.semester = $1 ORDER BY c.code ASC`
	var availability []models.CourseAvailability
	if err := tx.SelectContext(ctx, &availability, query, semester); err != nil {
		return nil, fmt.Errorf("list availability: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("close availability snapshot: %w", err)
	}
	return availability, nil
}

// WaitlistStatus reports a student's waitlist standing for a course, with the
// seats-to-go distance: how many more seats must free up before the student is
// promoted, i.e. position minus currently available seats, floored at zero.
func (r *ReportRepository) WaitlistStatus(ctx context.Context, courseID, studentID string) (*models.WaitlistStatus, error) {
	tx, err := r.snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin waitlist snapshot: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	const query = `SELECT w.course_id, w.student_id, w.position,
        (SELECT COUNT(*) FROM waitlist_entries x WHERE x.course_id = w.course_id) AS waitlist_length,
        GREATEST(w.position - (c.capacity - c.current_enrollment), 0) AS seats_to_go
        FROM waitlist_entries w
        JOIN courses c ON c.id = w.course_id
        WHERE w.course_id = $1 AND w.student_id = $2`
	var status models.WaitlistStatus
	if err := tx.GetContext(ctx, &status, query, courseID, studentID); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("close waitlist snapshot: %w", err)
	}
	return &status, nil
}

// StudentSchedule lists a student's active enrollments with course metadata.
func (r *ReportRepository) StudentSchedule(ctx context.Context, studentID string) ([]models.StudentScheduleEntry, error) {
	tx, err := r.snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin schedule snapshot: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	const query = `SELECT e.id AS enrollment_id, c.id AS course_id, c.code, c.title, c.semester, e.enrolled_at
        FROM enrollments e
        JOIN courses c ON c.id = e.course_id
        WHERE e.student_id = $1 AND e.status = $2
        ORDER BY c.code ASC`
	var schedule []models.StudentScheduleEntry
	if err := tx.SelectContext(ctx, &schedule, query, studentID, models.EnrollmentStatusActive); err != nil {
		return nil, fmt.Errorf("list student schedule: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("close schedule snapshot: %w", err)
	}
	return schedule, nil
}
