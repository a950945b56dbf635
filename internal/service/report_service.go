package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/course-reg-api/internal/models"
	appErrors "github.com/noah-isme/course-reg-api/pkg/errors"
)

type reportStore interface {
	CourseAvailability(ctx context.Context, courseID string) (*models.CourseAvailability, error)
	ListAvailability(ctx context.Context, semester string) ([]models.CourseAvailability, error)
	WaitlistStatus(ctx context.Context, courseID, studentID string) (*models.WaitlistStatus, error)
	StudentSchedule(ctx context.Context, studentID string) ([]models.StudentScheduleEntry, error)
}

type reportCache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
}

type cacheObserver interface {
	RecordCacheOperation(hit bool)
}

// ReportService serves the read-only projections, fronted by a short-TTL
// cache. Keys follow the reports:* namespace the engine invalidates after
// seat- or waitlist-changing commits.
type ReportService struct {
	repo     reportStore
	cache    reportCache
	observer cacheObserver
	ttl      time.Duration
	logger   *zap.Logger
}

// NewReportService constructs ReportService.
func NewReportService(repo reportStore, cache reportCache, observer cacheObserver, ttl time.Duration, logger *zap.Logger) *ReportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &ReportService{repo: repo, cache: cache, observer: observer, ttl: ttl, logger: logger}
}

// CourseAvailability returns the seat projection for a course.
func (s *ReportService) CourseAvailability(ctx context.Context, courseID string) (*models.CourseAvailability, error) {
	key := fmt.Sprintf("reports:course:%s:availability", courseID)
	var cached models.CourseAvailability
	if s.cacheGet(ctx, key, &cached) {
		return &cached, nil
	}

	availability, err := s.repo.CourseAvailability(ctx, courseID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course availability")
	}
	s.cacheSet(ctx, key, availability)
	return availability, nil
}

// ListAvailability returns seat projections for every course in a semester.
func (s *ReportService) ListAvailability(ctx context.Context, semester string) ([]models.CourseAvailability, error) {
	key := fmt.Sprintf("reports:availability:%s", semester)
	var cached []models.CourseAvailability
	if s.cacheGet(ctx, key, &cached) {
		return cached, nil
	}

	availability, err := s.repo.ListAvailability(ctx, semester)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list availability")
	}
	s.cacheSet(ctx, key, availability)
	return availability, nil
}

// WaitlistStatus reports a student's waitlist standing for a course.
func (s *ReportService) WaitlistStatus(ctx context.Context, courseID, studentID string) (*models.WaitlistStatus, error) {
	key := fmt.Sprintf("reports:course:%s:waitlist:%s", courseID, studentID)
	var cached models.WaitlistStatus
	if s.cacheGet(ctx, key, &cached) {
		return &cached, nil
	}

	status, err := s.repo.WaitlistStatus(ctx, courseID, studentID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student is not waitlisted for this course")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load waitlist status")
	}
	s.cacheSet(ctx, key, status)
	return status, nil
}

// StudentSchedule lists a student's active enrollments with course metadata.
func (s *ReportService) StudentSchedule(ctx context.Context, studentID string) ([]models.StudentScheduleEntry, error) {
	key := fmt.Sprintf("reports:student:%s:schedule", studentID)
	var cached []models.StudentScheduleEntry
	if s.cacheGet(ctx, key, &cached) {
		return cached, nil
	}

	schedule, err := s.repo.StudentSchedule(ctx, studentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student schedule")
	}
	s.cacheSet(ctx, key, schedule)
	return schedule, nil
}

func (s *ReportService) cacheGet(ctx context.Context, key string, dest interface{}) bool {
	if s.cache == nil {
		return false
	}
	err := s.cache.Get(ctx, key, dest)
	if err == nil {
		if s.observer != nil {
			s.observer.RecordCacheOperation(true)
		}
		return true
	}
	if !errors.Is(err, appErrors.ErrCacheMiss) {
		s.logger.Warn("report cache read failed", zap.String("key", key), zap.Error(err))
	}
	if s.observer != nil {
		s.observer.RecordCacheOperation(false)
	}
	return false
}

func (s *ReportService) cacheSet(ctx context.Context, key string, value interface{}) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Set(ctx, key, value, s.ttl); err != nil {
		s.logger.Warn("report cache write failed", zap.String("key", key), zap.Error(err))
	}
}
