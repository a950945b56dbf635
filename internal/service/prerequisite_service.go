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

type prerequisiteStore interface {
	Add(ctx context.Context, exec sqlx.ExtContext, courseID, prerequisiteID string) error
	Remove(ctx context.Context, courseID, prerequisiteID string) error
	ListForCourse(ctx context.Context, courseID string) ([]models.PrerequisiteDetail, error)
	Reachable(ctx context.Context, exec sqlx.ExtContext, fromID, targetID string) (bool, error)
}

type prereqCourseReader interface {
	FindByID(ctx context.Context, id string) (*models.Course, error)
}

// AddPrerequisiteRequest declares a prerequisite edge.
type AddPrerequisiteRequest struct {
	PrerequisiteID string `json:"prerequisite_id" validate:"required"`
}

// PrerequisiteService maintains the prerequisite graph. Cycle detection runs
// at edge-insertion time inside a serializable transaction, so two concurrent
// inserts cannot sneak a cycle past the reachability check.
type PrerequisiteService struct {
	tx        txProvider
	repo      prerequisiteStore
	courses   prereqCourseReader
	validator *validator.Validate
	logger    *zap.Logger
}

// NewPrerequisiteService constructs PrerequisiteService.
func NewPrerequisiteService(tx txProvider, repo prerequisiteStore, courses prereqCourseReader, validate *validator.Validate, logger *zap.Logger) *PrerequisiteService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PrerequisiteService{tx: tx, repo: repo, courses: courses, validator: validate, logger: logger}
}

// List returns the declared prerequisites for a course.
func (s *PrerequisiteService) List(ctx context.Context, courseID string) ([]models.PrerequisiteDetail, error) {
	if _, err := s.courses.FindByID(ctx, courseID); err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}
	prerequisites, err := s.repo.ListForCourse(ctx, courseID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list prerequisites")
	}
	return prerequisites, nil
}

// Add declares prerequisite -> course, rejecting self-references and any edge
// that would close a cycle.
func (s *PrerequisiteService) Add(ctx context.Context, courseID string, req AddPrerequisiteRequest) error {
	if err := s.validator.Struct(req); err != nil {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid prerequisite payload")
	}
	if courseID == req.PrerequisiteID {
		return appErrors.ErrSelfPrerequisite
	}
	if _, err := s.courses.FindByID(ctx, courseID); err != nil {
		if err == sql.ErrNoRows {
			return appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}
	if _, err := s.courses.FindByID(ctx, req.PrerequisiteID); err != nil {
		if err == sql.ErrNoRows {
			return appErrors.Clone(appErrors.ErrNotFound, "prerequisite course not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load prerequisite course")
	}

	tx, err := s.tx.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to begin transaction")
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	// A cycle closes iff the course is already reachable from the proposed
	// prerequisite.
	cyclic, err := s.repo.Reachable(ctx, tx, req.PrerequisiteID, courseID)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check prerequisite graph")
	}
	if cyclic {
		return appErrors.ErrCircularPrerequisite
	}

	if err := s.repo.Add(ctx, tx, courseID, req.PrerequisiteID); err != nil {
		if repository.IsUniqueViolation(err) {
			return appErrors.Clone(appErrors.ErrConflict, "prerequisite already declared")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to add prerequisite")
	}

	if err := tx.Commit(); err != nil {
		if repository.IsSerializationFailure(err) {
			return appErrors.Clone(appErrors.ErrConcurrencyConflict, "")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to commit prerequisite")
	}
	committed = true
	return nil
}

// Remove deletes a prerequisite edge.
func (s *PrerequisiteService) Remove(ctx context.Context, courseID, prerequisiteID string) error {
	if err := s.repo.Remove(ctx, courseID, prerequisiteID); err != nil {
		if err == sql.ErrNoRows {
			return appErrors.Clone(appErrors.ErrNotFound, "prerequisite not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to remove prerequisite")
	}
	return nil
}
