package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/course-reg-api/internal/models"
	"github.com/noah-isme/course-reg-api/internal/repository"
	appErrors "github.com/noah-isme/course-reg-api/pkg/errors"
)

type enrollmentStore interface {
	List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, int, error)
	FindActive(ctx context.Context, exec sqlx.ExtContext, studentID, courseID, semester string) (*models.Enrollment, error)
	ExistsActive(ctx context.Context, exec sqlx.ExtContext, studentID, courseID, semester string) (bool, error)
	ExistsCompleted(ctx context.Context, exec sqlx.ExtContext, studentID, courseID, semester string) (bool, error)
	ListActiveByStudent(ctx context.Context, exec sqlx.ExtContext, studentID string) ([]models.Enrollment, error)
	Create(ctx context.Context, exec sqlx.ExtContext, enrollment *models.Enrollment) error
	UpdateStatus(ctx context.Context, exec sqlx.ExtContext, id string, status models.EnrollmentStatus, grade *models.Grade) error
}

type seatController interface {
	GetTx(ctx context.Context, exec sqlx.ExtContext, id string) (*models.Course, error)
	TryReserveSeat(ctx context.Context, exec sqlx.ExtContext, courseID string) (bool, error)
	ReleaseSeat(ctx context.Context, exec sqlx.ExtContext, courseID string) error
}

type waitlistQueue interface {
	Exists(ctx context.Context, exec sqlx.ExtContext, courseID, studentID string) (bool, error)
	Enqueue(ctx context.Context, exec sqlx.ExtContext, courseID, studentID string) (int, error)
	DequeueFront(ctx context.Context, exec sqlx.ExtContext, courseID string) (*models.WaitlistEntry, error)
	Remove(ctx context.Context, exec sqlx.ExtContext, courseID, studentID string) error
	ListByStudent(ctx context.Context, exec sqlx.ExtContext, studentID string) ([]models.WaitlistEntry, error)
}

type prerequisiteChecker interface {
	MissingFor(ctx context.Context, exec sqlx.ExtContext, studentID, courseID string) ([]string, error)
}

type historyRecorder interface {
	Record(ctx context.Context, exec sqlx.ExtContext, entry *models.HistoryEntry) error
}

type engineStudentStore interface {
	FindByID(ctx context.Context, id string) (*models.Student, error)
	Delete(ctx context.Context, exec sqlx.ExtContext, id string) error
}

type txProvider interface {
	BeginTxx(ctx context.Context, opts *sql.TxOptions) (*sqlx.Tx, error)
}

type reportInvalidator interface {
	DeleteByPattern(ctx context.Context, pattern string) error
}

type engineObserver interface {
	ObserveEnrollmentOutcome(outcome string)
	ObservePromotion()
	ObserveSerializationRetry(op string)
}

// EnrollRequest describes a single enrollment attempt.
type EnrollRequest struct {
	StudentID string `json:"student_id" validate:"required"`
	CourseID  string `json:"course_id" validate:"required"`
}

// DropRequest describes a drop.
type DropRequest struct {
	StudentID string `json:"student_id" validate:"required"`
	CourseID  string `json:"course_id" validate:"required"`
}

// BatchEnrollRequest enrolls one student into several courses. Each course is
// its own atomic unit; partial success is expected.
type BatchEnrollRequest struct {
	StudentID string   `json:"student_id" validate:"required"`
	CourseIDs []string `json:"course_ids" validate:"required,min=1,dive,required"`
}

// CompleteRequest records a final grade for an active enrollment.
type CompleteRequest struct {
	StudentID string `json:"student_id" validate:"required"`
	CourseID  string `json:"course_id" validate:"required"`
	Grade     string `json:"grade" validate:"required"`
}

// DropResult reports the drop and any promotion it triggered.
type DropResult struct {
	Dropped           *models.Enrollment `json:"dropped"`
	PromotedStudentID string             `json:"promoted_student_id,omitempty"`
}

// EngineConfig tunes conflict retries.
type EngineConfig struct {
	MaxRetries   int
	RetryBackoff time.Duration
}

// EnrollmentService is the enrollment engine. Every public operation runs as
// one serializable transaction against the shared course state: the capacity
// check, waitlist mutation, enrollment row, and history entry commit together
// or not at all. Serialization conflicts are retried up to the configured
// budget before surfacing as a transient failure.
type EnrollmentService struct {
	tx        txProvider
	repo      enrollmentStore
	seats     seatController
	waitlist  waitlistQueue
	prereqs   prerequisiteChecker
	history   historyRecorder
	students  engineStudentStore
	cache     reportInvalidator
	observer  engineObserver
	validator *validator.Validate
	logger    *zap.Logger
	cfg       EngineConfig
}

// NewEnrollmentService wires the engine.
func NewEnrollmentService(
	tx txProvider,
	repo enrollmentStore,
	seats seatController,
	waitlist waitlistQueue,
	prereqs prerequisiteChecker,
	history historyRecorder,
	students engineStudentStore,
	cache reportInvalidator,
	observer engineObserver,
	validate *validator.Validate,
	logger *zap.Logger,
	cfg EngineConfig,
) *EnrollmentService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxRetries < 1 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 25 * time.Millisecond
	}
	return &EnrollmentService{
		tx:        tx,
		repo:      repo,
		seats:     seats,
		waitlist:  waitlist,
		prereqs:   prereqs,
		history:   history,
		students:  students,
		cache:     cache,
		observer:  observer,
		validator: validate,
		logger:    logger,
		cfg:       cfg,
	}
}

// List returns enrollments with pagination metadata.
func (s *EnrollmentService) List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, *models.Pagination, error) {
	enrollments, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list enrollments")
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
	return enrollments, pagination, nil
}

// Enroll registers a student into a course: a seat when one is free, the
// waitlist tail otherwise. Exactly one terminal outcome results per logical
// request even when the transaction is retried.
func (s *EnrollmentService) Enroll(ctx context.Context, req EnrollRequest) (*models.EnrollmentOutcome, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid enrollment payload")
	}
	student, err := s.students.FindByID(ctx, req.StudentID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}
	if !student.Active {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "student inactive")
	}

	var outcome *models.EnrollmentOutcome
	err = s.withSerializable(ctx, "enroll", func(tx *sqlx.Tx) error {
		course, err := s.seats.GetTx(ctx, tx, req.CourseID)
		if err != nil {
			if err == sql.ErrNoRows {
				return appErrors.Clone(appErrors.ErrNotFound, "course not found")
			}
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
		}

		active, err := s.repo.ExistsActive(ctx, tx, req.StudentID, course.ID, course.Semester)
		if err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to validate enrollment")
		}
		if active {
			return appErrors.ErrDuplicateEnrollment
		}
		completed, err := s.repo.ExistsCompleted(ctx, tx, req.StudentID, course.ID, course.Semester)
		if err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to validate enrollment")
		}
		if completed {
			return appErrors.ErrAlreadyCompleted
		}
		waitlisted, err := s.waitlist.Exists(ctx, tx, course.ID, req.StudentID)
		if err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to validate waitlist")
		}
		if waitlisted {
			return appErrors.ErrAlreadyWaitlisted
		}

		missing, err := s.prereqs.MissingFor(ctx, tx, req.StudentID, course.ID)
		if err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check prerequisites")
		}
		if len(missing) > 0 {
			return appErrors.Clone(appErrors.ErrPrerequisitesNotMet, fmt.Sprintf("missing passing grade in %d prerequisite course(s)", len(missing)))
		}

		reserved, err := s.seats.TryReserveSeat(ctx, tx, course.ID)
		if err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to reserve seat")
		}
		if reserved {
			enrollment := &models.Enrollment{
				StudentID: req.StudentID,
				CourseID:  course.ID,
				Semester:  course.Semester,
				Status:    models.EnrollmentStatusActive,
			}
			if err := s.repo.Create(ctx, tx, enrollment); err != nil {
				return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create enrollment")
			}
			if err := s.recordHistory(ctx, tx, req.StudentID, course.ID, models.HistoryActionEnrolled, map[string]interface{}{"enrollment_id": enrollment.ID}); err != nil {
				return err
			}
			outcome = &models.EnrollmentOutcome{Status: models.EnrollmentOutcomeActive, CourseID: course.ID, Enrollment: enrollment}
			return nil
		}

		position, err := s.waitlist.Enqueue(ctx, tx, course.ID, req.StudentID)
		if err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to join waitlist")
		}
		if err := s.recordHistory(ctx, tx, req.StudentID, course.ID, models.HistoryActionWaitlisted, map[string]interface{}{"position": position}); err != nil {
			return err
		}
		outcome = &models.EnrollmentOutcome{Status: models.EnrollmentOutcomeWaitlisted, CourseID: course.ID, Position: position}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.invalidateProjections(ctx, req.CourseID, req.StudentID)
	if s.observer != nil {
		s.observer.ObserveEnrollmentOutcome(string(outcome.Status))
	}
	return outcome, nil
}

// Drop releases the student's seat and promotes the head of the waitlist in
// the same transaction, so the freed seat is never visible to a racing
// direct enrollment.
func (s *EnrollmentService) Drop(ctx context.Context, req DropRequest) (*DropResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid drop payload")
	}

	var result *DropResult
	err := s.withSerializable(ctx, "drop", func(tx *sqlx.Tx) error {
		course, err := s.seats.GetTx(ctx, tx, req.CourseID)
		if err != nil {
			if err == sql.ErrNoRows {
				return appErrors.Clone(appErrors.ErrNotFound, "course not found")
			}
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
		}

		enrollment, err := s.repo.FindActive(ctx, tx, req.StudentID, course.ID, course.Semester)
		if err != nil {
			if err == sql.ErrNoRows {
				return appErrors.Clone(appErrors.ErrNotFound, "active enrollment not found")
			}
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
		}

		if err := s.repo.UpdateStatus(ctx, tx, enrollment.ID, models.EnrollmentStatusDropped, nil); err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to drop enrollment")
		}
		if err := s.recordHistory(ctx, tx, req.StudentID, course.ID, models.HistoryActionDropped, map[string]interface{}{"enrollment_id": enrollment.ID}); err != nil {
			return err
		}
		if err := s.seats.ReleaseSeat(ctx, tx, course.ID); err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to release seat")
		}

		enrollment.Status = models.EnrollmentStatusDropped
		result = &DropResult{Dropped: enrollment}

		promoted, err := s.promoteFront(ctx, tx, course)
		if err != nil {
			return err
		}
		if promoted != nil {
			result.PromotedStudentID = promoted.StudentID
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.invalidateProjections(ctx, req.CourseID, req.StudentID)
	if result.PromotedStudentID != "" && s.observer != nil {
		s.observer.ObservePromotion()
	}
	return result, nil
}

// BatchEnroll runs independent per-course enrollments, aggregating per-course
// outcomes. No cross-course invariant exists, so each course commits alone.
func (s *EnrollmentService) BatchEnroll(ctx context.Context, req BatchEnrollRequest) ([]models.BatchEnrollmentResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid batch payload")
	}

	results := make([]models.BatchEnrollmentResult, 0, len(req.CourseIDs))
	for _, courseID := range req.CourseIDs {
		outcome, err := s.Enroll(ctx, EnrollRequest{StudentID: req.StudentID, CourseID: courseID})
		if err != nil {
			appErr := appErrors.FromError(err)
			results = append(results, models.BatchEnrollmentResult{
				CourseID: courseID,
				Error:    &models.BatchError{Code: appErr.Code, Message: appErr.Message},
			})
			continue
		}
		results = append(results, models.BatchEnrollmentResult{CourseID: courseID, Outcome: outcome})
	}
	return results, nil
}

// Complete records a final grade for an active enrollment. The seat stays
// consumed for the semester; completion never promotes from the waitlist.
func (s *EnrollmentService) Complete(ctx context.Context, req CompleteRequest) (*models.Enrollment, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid completion payload")
	}
	grade := models.Grade(req.Grade)
	if !grade.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "grade must be one of A, B, C, D, F")
	}

	var completed *models.Enrollment
	err := s.withSerializable(ctx, "complete", func(tx *sqlx.Tx) error {
		course, err := s.seats.GetTx(ctx, tx, req.CourseID)
		if err != nil {
			if err == sql.ErrNoRows {
				return appErrors.Clone(appErrors.ErrNotFound, "course not found")
			}
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
		}
		enrollment, err := s.repo.FindActive(ctx, tx, req.StudentID, course.ID, course.Semester)
		if err != nil {
			if err == sql.ErrNoRows {
				return appErrors.Clone(appErrors.ErrNotFound, "active enrollment not found")
			}
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
		}
		if err := s.repo.UpdateStatus(ctx, tx, enrollment.ID, models.EnrollmentStatusCompleted, &grade); err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to complete enrollment")
		}
		if err := s.recordHistory(ctx, tx, req.StudentID, course.ID, models.HistoryActionCompleted, map[string]interface{}{"grade": string(grade)}); err != nil {
			return err
		}
		enrollment.Status = models.EnrollmentStatusCompleted
		enrollment.Grade = &grade
		completed = enrollment
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.invalidateProjections(ctx, req.CourseID, req.StudentID)
	return completed, nil
}

// LeaveWaitlist removes the student's waitlist entry and compacts the
// remaining positions.
func (s *EnrollmentService) LeaveWaitlist(ctx context.Context, studentID, courseID string) error {
	if studentID == "" || courseID == "" {
		return appErrors.Clone(appErrors.ErrValidation, "student and course required")
	}
	err := s.withSerializable(ctx, "leave_waitlist", func(tx *sqlx.Tx) error {
		if err := s.waitlist.Remove(ctx, tx, courseID, studentID); err != nil {
			if err == sql.ErrNoRows {
				return appErrors.Clone(appErrors.ErrNotFound, "waitlist entry not found")
			}
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to leave waitlist")
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.invalidateProjections(ctx, courseID, studentID)
	return nil
}

// PromoteEligible fills newly freed seats from the waitlist, e.g. after an
// administrative capacity raise. Each promotion consumes one reserved seat
// and appends a Promoted history entry.
func (s *EnrollmentService) PromoteEligible(ctx context.Context, courseID string) (int, error) {
	promotions := 0
	err := s.withSerializable(ctx, "promote_eligible", func(tx *sqlx.Tx) error {
		promotions = 0
		course, err := s.seats.GetTx(ctx, tx, courseID)
		if err != nil {
			if err == sql.ErrNoRows {
				return appErrors.Clone(appErrors.ErrNotFound, "course not found")
			}
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
		}
		for {
			reserved, err := s.seats.TryReserveSeat(ctx, tx, course.ID)
			if err != nil {
				return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to reserve seat")
			}
			if !reserved {
				return nil
			}
			promoted, err := s.promoteReserved(ctx, tx, course)
			if err != nil {
				return err
			}
			if promoted == nil {
				// Nobody waitlisted; hand the reserved seat back.
				if err := s.seats.ReleaseSeat(ctx, tx, course.ID); err != nil {
					return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to release seat")
				}
				return nil
			}
			promotions++
		}
	})
	if err != nil {
		return 0, err
	}
	if promotions > 0 {
		s.invalidateProjections(ctx, courseID, "")
		if s.observer != nil {
			for i := 0; i < promotions; i++ {
				s.observer.ObservePromotion()
			}
		}
	}
	return promotions, nil
}

// RemoveStudent deletes a student and settles every course the student
// touches in the same transaction: waitlist entries go first so no promotion
// can pick the departing student, then each active seat is released and
// refilled from that course's waitlist, and the student row is deleted last.
// Remaining enrollment rows cascade away; history rows survive with the
// tombstoned id.
func (s *EnrollmentService) RemoveStudent(ctx context.Context, studentID string) error {
	if studentID == "" {
		return appErrors.Clone(appErrors.ErrValidation, "student required")
	}

	var courseIDs []string
	promotions := 0
	err := s.withSerializable(ctx, "remove_student", func(tx *sqlx.Tx) error {
		courseIDs = courseIDs[:0]
		promotions = 0

		entries, err := s.waitlist.ListByStudent(ctx, tx, studentID)
		if err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list waitlist entries")
		}
		for _, entry := range entries {
			if err := s.waitlist.Remove(ctx, tx, entry.CourseID, studentID); err != nil {
				return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to leave waitlist")
			}
			courseIDs = append(courseIDs, entry.CourseID)
		}

		enrollments, err := s.repo.ListActiveByStudent(ctx, tx, studentID)
		if err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list enrollments")
		}
		for _, enrollment := range enrollments {
			course, err := s.seats.GetTx(ctx, tx, enrollment.CourseID)
			if err != nil {
				return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
			}
			if err := s.recordHistory(ctx, tx, studentID, course.ID, models.HistoryActionDropped, map[string]interface{}{"enrollment_id": enrollment.ID}); err != nil {
				return err
			}
			if err := s.seats.ReleaseSeat(ctx, tx, course.ID); err != nil {
				return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to release seat")
			}
			promoted, err := s.promoteFront(ctx, tx, course)
			if err != nil {
				return err
			}
			if promoted != nil {
				promotions++
			}
			courseIDs = append(courseIDs, course.ID)
		}

		if err := s.students.Delete(ctx, tx, studentID); err != nil {
			if err == sql.ErrNoRows {
				return appErrors.Clone(appErrors.ErrNotFound, "student not found")
			}
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete student")
		}
		return nil
	})
	if err != nil {
		return err
	}

	for _, courseID := range courseIDs {
		s.invalidateProjections(ctx, courseID, "")
	}
	s.invalidateProjections(ctx, "", studentID)
	if s.observer != nil {
		for i := 0; i < promotions; i++ {
			s.observer.ObservePromotion()
		}
	}
	return nil
}

// promoteFront dequeues the head of the waitlist and turns it into an active
// enrollment. The seat was freed in this transaction, so the reservation must
// succeed; anything else is a broken invariant.
func (s *EnrollmentService) promoteFront(ctx context.Context, tx *sqlx.Tx, course *models.Course) (*models.Enrollment, error) {
	entry, err := s.waitlist.DequeueFront(ctx, tx, course.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to dequeue waitlist")
	}
	if entry == nil {
		return nil, nil
	}
	reserved, err := s.seats.TryReserveSeat(ctx, tx, course.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to reserve seat for promotion")
	}
	if !reserved {
		return nil, appErrors.Clone(appErrors.ErrInternal, "freed seat unavailable during promotion")
	}
	return s.createPromotion(ctx, tx, course, entry)
}

// promoteReserved consumes an already reserved seat for the waitlist head.
func (s *EnrollmentService) promoteReserved(ctx context.Context, tx *sqlx.Tx, course *models.Course) (*models.Enrollment, error) {
	entry, err := s.waitlist.DequeueFront(ctx, tx, course.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to dequeue waitlist")
	}
	if entry == nil {
		return nil, nil
	}
	return s.createPromotion(ctx, tx, course, entry)
}

func (s *EnrollmentService) createPromotion(ctx context.Context, tx *sqlx.Tx, course *models.Course, entry *models.WaitlistEntry) (*models.Enrollment, error) {
	enrollment := &models.Enrollment{
		StudentID: entry.StudentID,
		CourseID:  course.ID,
		Semester:  course.Semester,
		Status:    models.EnrollmentStatusActive,
	}
	if err := s.repo.Create(ctx, tx, enrollment); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create promoted enrollment")
	}
	if err := s.recordHistory(ctx, tx, entry.StudentID, course.ID, models.HistoryActionPromoted, map[string]interface{}{"enrollment_id": enrollment.ID, "from_position": entry.Position}); err != nil {
		return nil, err
	}
	return enrollment, nil
}

func (s *EnrollmentService) recordHistory(ctx context.Context, tx *sqlx.Tx, studentID, courseID string, action models.HistoryAction, detail map[string]interface{}) error {
	var payload []byte
	if detail != nil {
		payload, _ = json.Marshal(detail)
	}
	entry := &models.HistoryEntry{StudentID: studentID, CourseID: courseID, Action: action, Detail: payload}
	if err := s.history.Record(ctx, tx, entry); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record history")
	}
	return nil
}

// withSerializable runs fn inside a serializable transaction, retrying whole
// units that abort with a serialization failure. Business-rule errors are
// never retried.
func (s *EnrollmentService) withSerializable(ctx context.Context, op string, fn func(tx *sqlx.Tx) error) error {
	var lastErr error
	for attempt := 1; attempt <= s.cfg.MaxRetries; attempt++ {
		lastErr = s.runSerializable(ctx, fn)
		if lastErr == nil {
			return nil
		}
		if !repository.IsSerializationFailure(lastErr) {
			if repository.IsConstraintViolation(lastErr) {
				return appErrors.Wrap(lastErr, appErrors.ErrConstraint.Code, appErrors.ErrConstraint.Status, appErrors.ErrConstraint.Message)
			}
			return lastErr
		}
		if s.observer != nil {
			s.observer.ObserveSerializationRetry(op)
		}
		s.logger.Debug("serialization conflict, retrying",
			zap.String("op", op),
			zap.Int("attempt", attempt),
		)
		if attempt < s.cfg.MaxRetries {
			select {
			case <-ctx.Done():
				return appErrors.Wrap(ctx.Err(), appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "operation cancelled")
			case <-time.After(s.cfg.RetryBackoff * time.Duration(attempt)):
			}
		}
	}
	return appErrors.Wrap(lastErr, appErrors.ErrConcurrencyConflict.Code, appErrors.ErrConcurrencyConflict.Status, appErrors.ErrConcurrencyConflict.Message)
}

func (s *EnrollmentService) runSerializable(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.tx.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to begin transaction")
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	return nil
}

// invalidateProjections drops cached reporting projections touched by a
// committed mutation. Best effort: the cache is TTL-bound anyway.
func (s *EnrollmentService) invalidateProjections(ctx context.Context, courseID, studentID string) {
	if s.cache == nil {
		return
	}
	if courseID != "" {
		if err := s.cache.DeleteByPattern(ctx, fmt.Sprintf("reports:course:%s:*", courseID)); err != nil {
			s.logger.Warn("failed to invalidate course projections", zap.String("course_id", courseID), zap.Error(err))
		}
		if err := s.cache.DeleteByPattern(ctx, "reports:availability:*"); err != nil {
			s.logger.Warn("failed to invalidate availability projections", zap.Error(err))
		}
	}
	if studentID != "" {
		if err := s.cache.DeleteByPattern(ctx, fmt.Sprintf("reports:student:%s:*", studentID)); err != nil {
			s.logger.Warn("failed to invalidate student projections", zap.String("student_id", studentID), zap.Error(err))
		}
	}
}
