package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/course-reg-api/internal/models"
)

// WaitlistRepository owns per-course waitlist ordering. Positions form a
// contiguous {1..N} sequence; every removal compacts the remainder inside the
// caller's transaction so intermediate gaps are never observable.
type WaitlistRepository struct {
	db *sqlx.DB
}

// NewWaitlistRepository constructs the repository.
func NewWaitlistRepository(db *sqlx.DB) *WaitlistRepository {
	return &WaitlistRepository{db: db}
}

// Exists reports whether the student already holds a waitlist entry.
func (r *WaitlistRepository) Exists(ctx context.Context, exec sqlx.ExtContext, courseID, studentID string) (bool, error) {
	const query = `SELECT 1 FROM waitlist_entries WHERE course_id = $1 AND student_id = $2 LIMIT 1`
	var one int
	if err := sqlx.GetContext(ctx, exec, &one, query, courseID, studentID); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("check waitlist entry: %w", err)
	}
	return true, nil
}

// Enqueue appends the student at the tail and returns the assigned position.
func (r *WaitlistRepository) Enqueue(ctx context.Context, exec sqlx.ExtContext, courseID, studentID string) (int, error) {
	const query = `INSERT INTO waitlist_entries (id, course_id, student_id, position, created_at)
        SELECT $1, $2, $3, COALESCE(MAX(position), 0) + 1, $4 FROM waitlist_entries WHERE course_id = $2
        RETURNING position`
	var position int
	if err := sqlx.GetContext(ctx, exec, &position, query, uuid.NewString(), courseID, studentID, time.Now().UTC()); err != nil {
		return 0, fmt.Errorf("enqueue waitlist entry: %w", err)
	}
	return position, nil
}

// DequeueFront removes the position-1 entry and shifts the rest down by one.
// Returns nil when the waitlist is empty.
func (r *WaitlistRepository) DequeueFront(ctx context.Context, exec sqlx.ExtContext, courseID string) (*models.WaitlistEntry, error) {
	const deleteQuery = `DELETE FROM waitlist_entries WHERE course_id = $1 AND position = 1
        RETURNING id, course_id, student_id, position, created_at`
	var entry models.WaitlistEntry
	if err := sqlx.GetContext(ctx, exec, &entry, deleteQuery, courseID); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("dequeue waitlist entry: %w", err)
	}

	const compactQuery = `UPDATE waitlist_entries SET position = position - 1 WHERE course_id = $1`
	if _, err := exec.ExecContext(ctx, compactQuery, courseID); err != nil {
		return nil, fmt.Errorf("compact waitlist: %w", err)
	}
	return &entry, nil
}

// Remove deletes the student's entry and compacts positions after it.
// Returns sql.ErrNoRows when the student holds no entry.
func (r *WaitlistRepository) Remove(ctx context.Context, exec sqlx.ExtContext, courseID, studentID string) error {
	const deleteQuery = `DELETE FROM waitlist_entries WHERE course_id = $1 AND student_id = $2 RETURNING position`
	var removed int
	if err := sqlx.GetContext(ctx, exec, &removed, deleteQuery, courseID, studentID); err != nil {
		if err == sql.ErrNoRows {
			return sql.ErrNoRows
		}
		return fmt.Errorf("remove waitlist entry: %w", err)
	}

	const compactQuery = `UPDATE waitlist_entries SET position = position - 1 WHERE course_id = $1 AND position > $2`
	if _, err := exec.ExecContext(ctx, compactQuery, courseID, removed); err != nil {
		return fmt.Errorf("compact waitlist: %w", err)
	}
	return nil
}

// ListByStudent returns every waitlist entry the student holds, across
// courses. Runs inside the caller's transaction.
func (r *WaitlistRepository) ListByStudent(ctx context.Context, exec sqlx.ExtContext, studentID string) ([]models.WaitlistEntry, error) {
	const query = `SELECT id, course_id, student_id, position, created_at
        FROM waitlist_entries WHERE student_id = $1 ORDER BY course_id ASC`
	var entries []models.WaitlistEntry
	if err := sqlx.SelectContext(ctx, exec, &entries, query, studentID); err != nil {
		return nil, fmt.Errorf("list waitlist entries by student: %w", err)
	}
	return entries, nil
}

// ListByCourse returns the ordered waitlist with student metadata.
func (r *WaitlistRepository) ListByCourse(ctx context.Context, courseID string) ([]models.WaitlistEntryDetail, error) {
	const query = `SELECT w.id, w.course_id, w.student_id, w.position, w.created_at,
        s.full_name AS student_name, s.email AS student_email
        FROM waitlist_entries w
        JOIN students s ON s.id = w.student_id
        WHERE w.course_id = $1 ORDER BY w.position ASC`
	var entries []models.WaitlistEntryDetail
	if err := r.db.SelectContext(ctx, &entries, query, courseID); err != nil {
		return nil, fmt.Errorf("list waitlist: %w", err)
	}
	return entries, nil
}
