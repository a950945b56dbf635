package service

import (
	"context"
	"database/sql"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/course-reg-api/internal/models"
	"github.com/noah-isme/course-reg-api/internal/repository"
	appErrors "github.com/noah-isme/course-reg-api/pkg/errors"
)

type courseRepository interface {
	List(ctx context.Context, filter models.CourseFilter) ([]models.Course, int, error)
	FindByID(ctx context.Context, id string) (*models.Course, error)
	Create(ctx context.Context, course *models.Course) error
	Update(ctx context.Context, exec sqlx.ExtContext, id, title string, capacity int) (*models.Course, error)
	Delete(ctx context.Context, id string) error
}

type courseEnrollmentReader interface {
	ExistsActiveByCourse(ctx context.Context, courseID string) (bool, error)
}

type waitlistPromoter interface {
	PromoteEligible(ctx context.Context, courseID string) (int, error)
}

// CreateCourseRequest describes course creation.
type CreateCourseRequest struct {
	Code     string `json:"code" validate:"required"`
	Title    string `json:"title" validate:"required"`
	Semester string `json:"semester" validate:"required"`
	Capacity int    `json:"capacity" validate:"required,gt=0"`
}

// UpdateCourseRequest describes an administrative course update.
type UpdateCourseRequest struct {
	Title    string `json:"title" validate:"required"`
	Capacity int    `json:"capacity" validate:"required,gt=0"`
}

// CourseService orchestrates course administration.
type CourseService struct {
	repo        courseRepository
	enrollments courseEnrollmentReader
	promoter    waitlistPromoter
	db          *sqlx.DB
	validator   *validator.Validate
	logger      *zap.Logger
}

// NewCourseService constructs CourseService.
func NewCourseService(repo courseRepository, enrollments courseEnrollmentReader, promoter waitlistPromoter, db *sqlx.DB, validate *validator.Validate, logger *zap.Logger) *CourseService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CourseService{repo: repo, enrollments: enrollments, promoter: promoter, db: db, validator: validate, logger: logger}
}

// List returns courses with pagination metadata.
func (s *CourseService) List(ctx context.Context, filter models.CourseFilter) ([]models.Course, *models.Pagination, error) {
	courses, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list courses")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = 20
	}
	pagination := &models.Pagination{Page: page, PageSize: size, TotalCount: total}
	return courses, pagination, nil
}

// Get returns a single course.
func (s *CourseService) Get(ctx context.Context, id string) (*models.Course, error) {
	course, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}
	return course, nil
}

// Create registers a new course offering.
func (s *CourseService) Create(ctx context.Context, req CreateCourseRequest) (*models.Course, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid course payload")
	}
	course := &models.Course{Code: req.Code, Title: req.Title, Semester: req.Semester, Capacity: req.Capacity}
	if err := s.repo.Create(ctx, course); err != nil {
		if repository.IsUniqueViolation(err) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "course code already exists")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create course")
	}
	return course, nil
}

// Update changes title and capacity. Raising the capacity promotes waitlisted
// students into the newly opened seats.
func (s *CourseService) Update(ctx context.Context, id string, req UpdateCourseRequest) (*models.Course, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid course payload")
	}
	existing, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}

	course, err := s.repo.Update(ctx, s.db, id, req.Title, req.Capacity)
	if err != nil {
		if err == sql.ErrNoRows {
			// The guarded UPDATE matches nothing both when the capacity is too
			// low and when the course vanished after the pre-check; re-probe
			// to tell them apart.
			if _, probeErr := s.repo.FindByID(ctx, id); probeErr == sql.ErrNoRows {
				return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
			}
			return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "capacity below current enrollment")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update course")
	}

	if s.promoter != nil && req.Capacity > existing.Capacity {
		promoted, err := s.promoter.PromoteEligible(ctx, id)
		if err != nil {
			s.logger.Warn("capacity raise promotion failed", zap.String("course_id", id), zap.Error(err))
		} else if promoted > 0 {
			s.logger.Info("promoted waitlisted students after capacity raise",
				zap.String("course_id", id),
				zap.Int("promoted", promoted),
			)
			refreshed, err := s.repo.FindByID(ctx, id)
			if err == nil {
				course = refreshed
			}
		}
	}
	return course, nil
}

// Delete removes a course. Deletion is restricted while active enrollments
// reference it.
func (s *CourseService) Delete(ctx context.Context, id string) error {
	active, err := s.enrollments.ExistsActiveByCourse(ctx, id)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check course enrollments")
	}
	if active {
		return appErrors.ErrCourseInUse
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		if err == sql.ErrNoRows {
			return appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		if repository.IsConstraintViolation(err) {
			return appErrors.Clone(appErrors.ErrCourseInUse, "")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete course")
	}
	return nil
}
