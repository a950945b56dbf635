package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/course-reg-api/internal/models"
)

// CourseRepository handles persistence of courses and owns the seat counter.
// current_enrollment is mutated only through TryReserveSeat and ReleaseSeat;
// every other write path leaves it untouched.
type CourseRepository struct {
	db *sqlx.DB
}

// NewCourseRepository constructs the repository.
func NewCourseRepository(db *sqlx.DB) *CourseRepository {
	return &CourseRepository{db: db}
}

// List returns courses filtered by the provided criteria.
func (r *CourseRepository) List(ctx context.Context, filter models.CourseFilter) ([]models.Course, int, error) {
	base := "FROM courses c"
	var conditions []string
	var args []interface{}

	if filter.Semester != "" {
		conditions = append(conditions, fmt.Sprintf("c.semester = $%d", len(args)+1))
		args = append(args, filter.Semester)
	}
	if filter.Search != "" {
		conditions = append(conditions, fmt.Sprintf("(c.code ILIKE $%d OR c.title ILIKE $%d)", len(args)+1, len(args)+1))
		args = append(args, "%"+filter.Search+"%")
	}

	clause := ""
	if len(conditions) > 0 {
		clause = " WHERE " + strings.Join(conditions, " AND ")
	}

	allowedSorts := map[string]string{
		"code":       "c.code",
		"title":      "c.title",
		"created_at": "c.created_at",
	}
	orderBy := allowedSorts[filter.SortBy]
	if orderBy == "" {
		orderBy = "c.code"
	}
	order := strings.ToUpper(filter.SortOrder)
	if order != "ASC" && order != "DESC" {
		order = "ASC"
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	offset := (page - 1) * size

	query := fmt.Sprintf(`SELECT c.id, c.code, c.title, c.semester, c.capacity, c.current_enrollment, c.created_at, c.updated_at
        %s ORDER BY %s %s LIMIT %d OFFSET %d`, base+clause, orderBy, order, size, offset)

	var courses []models.Course
	if err := r.db.SelectContext(ctx, &courses, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list courses: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base+clause)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count courses: %w", err)
	}
	return courses, total, nil
}

// FindByID returns a course by its ID.
func (r *CourseRepository) FindByID(ctx context.Context, id string) (*models.Course, error) {
	const query = `SELECT id, code, title, semester, capacity, current_enrollment, created_at, updated_at FROM courses WHERE id = $1`
	var course models.Course
	if err := r.db.GetContext(ctx, &course, query, id); err != nil {
		return nil, err
	}
	return &course, nil
}

// GetTx reads a course inside the caller's transaction.
func (r *CourseRepository) GetTx(ctx context.Context, exec sqlx.ExtContext, id string) (*models.Course, error) {
	const query = `SELECT id, code, title, semester, capacity, current_enrollment, created_at, updated_at FROM courses WHERE id = $1`
	var course models.Course
	if err := sqlx.GetContext(ctx, exec, &course, query, id); err != nil {
		return nil, err
	}
	return &course, nil
}

// Create persists a new course record.
func (r *CourseRepository) Create(ctx context.Context, course *models.Course) error {
	now := time.Now().UTC()
	if course.ID == "" {
		course.ID = uuid.NewString()
	}
	course.CurrentEnrollment = 0
	course.CreatedAt = now
	course.UpdatedAt = now
	const query = `INSERT INTO courses (id, code, title, semester, capacity, current_enrollment, created_at, updated_at)
        VALUES (:id, :code, :title, :semester, :capacity, :current_enrollment, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, course); err != nil {
		return fmt.Errorf("create course: %w", err)
	}
	return nil
}

// Update changes course metadata and capacity. Capacity may never fall below
// the seats already taken.
func (r *CourseRepository) Update(ctx context.Context, exec sqlx.ExtContext, id, title string, capacity int) (*models.Course, error) {
	const query = `UPDATE courses SET title = $2, capacity = $3, updated_at = $4
        WHERE id = $1 AND current_enrollment <= $3
        RETURNING id, code, title, semester, capacity, current_enrollment, created_at, updated_at`
	var course models.Course
	if err := sqlx.GetContext(ctx, exec, &course, query, id, title, capacity, time.Now().UTC()); err != nil {
		return nil, err
	}
	return &course, nil
}

// Delete removes a course. The store restricts deletion while enrollment rows
// still reference it; callers translate the constraint error.
func (r *CourseRepository) Delete(ctx context.Context, id string) error {
	const query = `DELETE FROM courses WHERE id = $1`
	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("delete course: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete course: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// TryReserveSeat atomically claims one seat when capacity allows. It reports
// false with no mutation when the course is full. This conditional update is
// the single write path that can grow current_enrollment.
func (r *CourseRepository) TryReserveSeat(ctx context.Context, exec sqlx.ExtContext, courseID string) (bool, error) {
	const query = `UPDATE courses SET current_enrollment = current_enrollment + 1, updated_at = $2
        WHERE id = $1 AND current_enrollment < capacity`
	result, err := exec.ExecContext(ctx, query, courseID, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("reserve seat: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("reserve seat: %w", err)
	}
	return affected == 1, nil
}

// ReleaseSeat atomically frees one seat, never dropping below zero.
func (r *CourseRepository) ReleaseSeat(ctx context.Context, exec sqlx.ExtContext, courseID string) error {
	const query = `UPDATE courses SET current_enrollment = current_enrollment - 1, updated_at = $2
        WHERE id = $1 AND current_enrollment > 0`
	result, err := exec.ExecContext(ctx, query, courseID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("release seat: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("release seat: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("release seat: course %s has no seats to release", courseID)
	}
	return nil
}
