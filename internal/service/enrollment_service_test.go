package service

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/course-reg-api/internal/models"
	appErrors "github.com/noah-isme/course-reg-api/pkg/errors"
)

func enrollmentKey(studentID, courseID, semester string) string {
	return studentID + "|" + courseID + "|" + semester
}

type stubEnrollmentStore struct {
	active    map[string]*models.Enrollment
	completed map[string]bool
	created   []*models.Enrollment
	updates   []models.EnrollmentStatus
}

func (s *stubEnrollmentStore) List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, int, error) {
	return nil, 0, nil
}

func (s *stubEnrollmentStore) FindActive(ctx context.Context, exec sqlx.ExtContext, studentID, courseID, semester string) (*models.Enrollment, error) {
	if enrollment, ok := s.active[enrollmentKey(studentID, courseID, semester)]; ok {
		return enrollment, nil
	}
	return nil, sql.ErrNoRows
}

func (s *stubEnrollmentStore) ExistsActive(ctx context.Context, exec sqlx.ExtContext, studentID, courseID, semester string) (bool, error) {
	_, ok := s.active[enrollmentKey(studentID, courseID, semester)]
	return ok, nil
}

func (s *stubEnrollmentStore) ExistsCompleted(ctx context.Context, exec sqlx.ExtContext, studentID, courseID, semester string) (bool, error) {
	return s.completed[enrollmentKey(studentID, courseID, semester)], nil
}

func (s *stubEnrollmentStore) ListActiveByStudent(ctx context.Context, exec sqlx.ExtContext, studentID string) ([]models.Enrollment, error) {
	var enrollments []models.Enrollment
	for _, enrollment := range s.active {
		if enrollment.StudentID == studentID && enrollment.Status == models.EnrollmentStatusActive {
			enrollments = append(enrollments, *enrollment)
		}
	}
	sort.Slice(enrollments, func(i, j int) bool { return enrollments[i].CourseID < enrollments[j].CourseID })
	return enrollments, nil
}

func (s *stubEnrollmentStore) Create(ctx context.Context, exec sqlx.ExtContext, enrollment *models.Enrollment) error {
	enrollment.ID = fmt.Sprintf("enr-%d", len(s.created)+1)
	s.created = append(s.created, enrollment)
	s.active[enrollmentKey(enrollment.StudentID, enrollment.CourseID, enrollment.Semester)] = enrollment
	return nil
}

func (s *stubEnrollmentStore) UpdateStatus(ctx context.Context, exec sqlx.ExtContext, id string, status models.EnrollmentStatus, grade *models.Grade) error {
	s.updates = append(s.updates, status)
	return nil
}

type stubSeats struct {
	courses      map[string]*models.Course
	seatsLeft    map[string]int
	reserveCalls int
	releaseCalls int
}

func (s *stubSeats) GetTx(ctx context.Context, exec sqlx.ExtContext, id string) (*models.Course, error) {
	if course, ok := s.courses[id]; ok {
		return course, nil
	}
	return nil, sql.ErrNoRows
}

func (s *stubSeats) TryReserveSeat(ctx context.Context, exec sqlx.ExtContext, courseID string) (bool, error) {
	s.reserveCalls++
	if s.seatsLeft[courseID] > 0 {
		s.seatsLeft[courseID]--
		return true, nil
	}
	return false, nil
}

func (s *stubSeats) ReleaseSeat(ctx context.Context, exec sqlx.ExtContext, courseID string) error {
	s.releaseCalls++
	s.seatsLeft[courseID]++
	return nil
}

type stubWaitlist struct {
	entries map[string][]models.WaitlistEntry
}

func (s *stubWaitlist) Exists(ctx context.Context, exec sqlx.ExtContext, courseID, studentID string) (bool, error) {
	for _, entry := range s.entries[courseID] {
		if entry.StudentID == studentID {
			return true, nil
		}
	}
	return false, nil
}

func (s *stubWaitlist) Enqueue(ctx context.Context, exec sqlx.ExtContext, courseID, studentID string) (int, error) {
	position := len(s.entries[courseID]) + 1
	s.entries[courseID] = append(s.entries[courseID], models.WaitlistEntry{
		ID: fmt.Sprintf("w-%s-%d", courseID, position), CourseID: courseID, StudentID: studentID, Position: position,
	})
	return position, nil
}

func (s *stubWaitlist) DequeueFront(ctx context.Context, exec sqlx.ExtContext, courseID string) (*models.WaitlistEntry, error) {
	queue := s.entries[courseID]
	if len(queue) == 0 {
		return nil, nil
	}
	front := queue[0]
	rest := make([]models.WaitlistEntry, 0, len(queue)-1)
	for _, entry := range queue[1:] {
		entry.Position--
		rest = append(rest, entry)
	}
	s.entries[courseID] = rest
	return &front, nil
}

func (s *stubWaitlist) Remove(ctx context.Context, exec sqlx.ExtContext, courseID, studentID string) error {
	queue := s.entries[courseID]
	for i, entry := range queue {
		if entry.StudentID == studentID {
			rest := append([]models.WaitlistEntry{}, queue[:i]...)
			for _, after := range queue[i+1:] {
				after.Position--
				rest = append(rest, after)
			}
			s.entries[courseID] = rest
			return nil
		}
	}
	return sql.ErrNoRows
}

func (s *stubWaitlist) ListByStudent(ctx context.Context, exec sqlx.ExtContext, studentID string) ([]models.WaitlistEntry, error) {
	courseIDs := make([]string, 0, len(s.entries))
	for courseID := range s.entries {
		courseIDs = append(courseIDs, courseID)
	}
	sort.Strings(courseIDs)
	var held []models.WaitlistEntry
	for _, courseID := range courseIDs {
		for _, entry := range s.entries[courseID] {
			if entry.StudentID == studentID {
				held = append(held, entry)
			}
		}
	}
	return held, nil
}

type stubPrereqs struct {
	missing map[string][]string
}

func (s *stubPrereqs) MissingFor(ctx context.Context, exec sqlx.ExtContext, studentID, courseID string) ([]string, error) {
	return s.missing[studentID+"|"+courseID], nil
}

type stubHistory struct {
	entries []*models.HistoryEntry
}

func (s *stubHistory) Record(ctx context.Context, exec sqlx.ExtContext, entry *models.HistoryEntry) error {
	s.entries = append(s.entries, entry)
	return nil
}

func (s *stubHistory) actions() []models.HistoryAction {
	actions := make([]models.HistoryAction, 0, len(s.entries))
	for _, entry := range s.entries {
		actions = append(actions, entry.Action)
	}
	return actions
}

type stubStudents struct {
	students map[string]*models.Student
}

func (s *stubStudents) FindByID(ctx context.Context, id string) (*models.Student, error) {
	if student, ok := s.students[id]; ok {
		return student, nil
	}
	return nil, sql.ErrNoRows
}

func (s *stubStudents) Delete(ctx context.Context, exec sqlx.ExtContext, id string) error {
	if _, ok := s.students[id]; !ok {
		return sql.ErrNoRows
	}
	delete(s.students, id)
	return nil
}

type stubCache struct {
	patterns []string
}

func (s *stubCache) DeleteByPattern(ctx context.Context, pattern string) error {
	s.patterns = append(s.patterns, pattern)
	return nil
}

type stubObserver struct {
	outcomes   []string
	promotions int
	retries    map[string]int
}

func (s *stubObserver) ObserveEnrollmentOutcome(outcome string) { s.outcomes = append(s.outcomes, outcome) }
func (s *stubObserver) ObservePromotion()                       { s.promotions++ }
func (s *stubObserver) ObserveSerializationRetry(op string) {
	if s.retries == nil {
		s.retries = map[string]int{}
	}
	s.retries[op]++
}

type engineFixture struct {
	mock        sqlmock.Sqlmock
	enrollments *stubEnrollmentStore
	seats       *stubSeats
	waitlist    *stubWaitlist
	prereqs     *stubPrereqs
	history     *stubHistory
	students    *stubStudents
	cache       *stubCache
	observer    *stubObserver
	svc         *EnrollmentService
}

func newEngineFixture(t *testing.T) *engineFixture {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	f := &engineFixture{
		mock:        mock,
		enrollments: &stubEnrollmentStore{active: map[string]*models.Enrollment{}, completed: map[string]bool{}},
		seats: &stubSeats{
			courses: map[string]*models.Course{
				"course-1": {ID: "course-1", Code: "CS101", Title: "Intro", Semester: "2026A", Capacity: 2},
			},
			seatsLeft: map[string]int{"course-1": 2},
		},
		waitlist: &stubWaitlist{entries: map[string][]models.WaitlistEntry{}},
		prereqs:  &stubPrereqs{missing: map[string][]string{}},
		history:  &stubHistory{},
		students: &stubStudents{students: map[string]*models.Student{
			"stu-1": {ID: "stu-1", Email: "ada@example.edu", FullName: "Ada", Year: 2, Active: true},
		}},
		cache:    &stubCache{},
		observer: &stubObserver{},
	}
	f.svc = NewEnrollmentService(
		sqlx.NewDb(db, "sqlmock"),
		f.enrollments, f.seats, f.waitlist, f.prereqs, f.history, f.students, f.cache, f.observer,
		validator.New(), zap.NewNop(),
		EngineConfig{MaxRetries: 3, RetryBackoff: time.Millisecond},
	)
	return f
}

func TestEnrollAssignsSeat(t *testing.T) {
	f := newEngineFixture(t)
	f.mock.ExpectBegin()
	f.mock.ExpectCommit()

	outcome, err := f.svc.Enroll(context.Background(), EnrollRequest{StudentID: "stu-1", CourseID: "course-1"})
	require.NoError(t, err)
	require.Equal(t, models.EnrollmentOutcomeActive, outcome.Status)
	require.NotNil(t, outcome.Enrollment)
	require.Equal(t, []models.HistoryAction{models.HistoryActionEnrolled}, f.history.actions())
	require.Equal(t, []string{"ACTIVE"}, f.observer.outcomes)
	require.Contains(t, f.cache.patterns, "reports:course:course-1:*")
	require.Contains(t, f.cache.patterns, "reports:student:stu-1:*")
	require.NoError(t, f.mock.ExpectationsWereMet())
}

func TestEnrollFullCourseJoinsWaitlist(t *testing.T) {
	f := newEngineFixture(t)
	f.seats.seatsLeft["course-1"] = 0
	f.mock.ExpectBegin()
	f.mock.ExpectCommit()

	outcome, err := f.svc.Enroll(context.Background(), EnrollRequest{StudentID: "stu-1", CourseID: "course-1"})
	require.NoError(t, err)
	require.Equal(t, models.EnrollmentOutcomeWaitlisted, outcome.Status)
	require.Equal(t, 1, outcome.Position)
	require.Nil(t, outcome.Enrollment)
	require.Equal(t, []models.HistoryAction{models.HistoryActionWaitlisted}, f.history.actions())
	require.Equal(t, []string{"WAITLISTED"}, f.observer.outcomes)
	require.NoError(t, f.mock.ExpectationsWereMet())
}

func TestEnrollRejectsDuplicateActive(t *testing.T) {
	f := newEngineFixture(t)
	f.enrollments.active[enrollmentKey("stu-1", "course-1", "2026A")] = &models.Enrollment{ID: "enr-0", Status: models.EnrollmentStatusActive}
	f.mock.ExpectBegin()
	f.mock.ExpectRollback()

	_, err := f.svc.Enroll(context.Background(), EnrollRequest{StudentID: "stu-1", CourseID: "course-1"})
	require.ErrorIs(t, err, appErrors.ErrDuplicateEnrollment)
	require.Empty(t, f.history.entries)
	require.NoError(t, f.mock.ExpectationsWereMet())
}

func TestEnrollRejectsCompletedCourse(t *testing.T) {
	f := newEngineFixture(t)
	f.enrollments.completed[enrollmentKey("stu-1", "course-1", "2026A")] = true
	f.mock.ExpectBegin()
	f.mock.ExpectRollback()

	_, err := f.svc.Enroll(context.Background(), EnrollRequest{StudentID: "stu-1", CourseID: "course-1"})
	require.ErrorIs(t, err, appErrors.ErrAlreadyCompleted)
	require.NoError(t, f.mock.ExpectationsWereMet())
}

func TestEnrollRejectsDoubleWaitlisting(t *testing.T) {
	f := newEngineFixture(t)
	f.waitlist.entries["course-1"] = []models.WaitlistEntry{{CourseID: "course-1", StudentID: "stu-1", Position: 1}}
	f.mock.ExpectBegin()
	f.mock.ExpectRollback()

	_, err := f.svc.Enroll(context.Background(), EnrollRequest{StudentID: "stu-1", CourseID: "course-1"})
	require.ErrorIs(t, err, appErrors.ErrAlreadyWaitlisted)
	require.NoError(t, f.mock.ExpectationsWereMet())
}

func TestEnrollRejectsMissingPrerequisites(t *testing.T) {
	f := newEngineFixture(t)
	f.prereqs.missing["stu-1|course-1"] = []string{"course-0"}
	f.mock.ExpectBegin()
	f.mock.ExpectRollback()

	_, err := f.svc.Enroll(context.Background(), EnrollRequest{StudentID: "stu-1", CourseID: "course-1"})
	require.Error(t, err)
	require.Equal(t, appErrors.ErrPrerequisitesNotMet.Code, appErrors.FromError(err).Code)
	require.Zero(t, f.seats.reserveCalls)
	require.Empty(t, f.waitlist.entries["course-1"])
	require.NoError(t, f.mock.ExpectationsWereMet())
}

func TestEnrollRejectsInactiveStudent(t *testing.T) {
	f := newEngineFixture(t)
	f.students.students["stu-1"].Active = false

	_, err := f.svc.Enroll(context.Background(), EnrollRequest{StudentID: "stu-1", CourseID: "course-1"})
	require.Error(t, err)
	require.Equal(t, appErrors.ErrPreconditionFailed.Code, appErrors.FromError(err).Code)
	require.NoError(t, f.mock.ExpectationsWereMet())
}

func TestEnrollUnknownStudent(t *testing.T) {
	f := newEngineFixture(t)

	_, err := f.svc.Enroll(context.Background(), EnrollRequest{StudentID: "stu-9", CourseID: "course-1"})
	require.Error(t, err)
	require.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
	require.NoError(t, f.mock.ExpectationsWereMet())
}

func TestEnrollUnknownCourse(t *testing.T) {
	f := newEngineFixture(t)
	f.mock.ExpectBegin()
	f.mock.ExpectRollback()

	_, err := f.svc.Enroll(context.Background(), EnrollRequest{StudentID: "stu-1", CourseID: "course-9"})
	require.Error(t, err)
	require.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
	require.NoError(t, f.mock.ExpectationsWereMet())
}

func TestDropRetriesSerializationConflict(t *testing.T) {
	f := newEngineFixture(t)
	f.enrollments.active[enrollmentKey("stu-1", "course-1", "2026A")] = &models.Enrollment{
		ID: "enr-1", StudentID: "stu-1", CourseID: "course-1", Semester: "2026A", Status: models.EnrollmentStatusActive,
	}
	f.mock.ExpectBegin()
	f.mock.ExpectCommit().WillReturnError(&pq.Error{Code: "40001"})
	f.mock.ExpectBegin()
	f.mock.ExpectCommit()

	result, err := f.svc.Drop(context.Background(), DropRequest{StudentID: "stu-1", CourseID: "course-1"})
	require.NoError(t, err)
	require.Equal(t, models.EnrollmentStatusDropped, result.Dropped.Status)
	require.Equal(t, 1, f.observer.retries["drop"])
	require.NoError(t, f.mock.ExpectationsWereMet())
}

func TestDropSurfacesConflictAfterRetryBudget(t *testing.T) {
	f := newEngineFixture(t)
	f.enrollments.active[enrollmentKey("stu-1", "course-1", "2026A")] = &models.Enrollment{
		ID: "enr-1", StudentID: "stu-1", CourseID: "course-1", Semester: "2026A", Status: models.EnrollmentStatusActive,
	}
	for i := 0; i < 3; i++ {
		f.mock.ExpectBegin()
		f.mock.ExpectCommit().WillReturnError(&pq.Error{Code: "40001"})
	}

	_, err := f.svc.Drop(context.Background(), DropRequest{StudentID: "stu-1", CourseID: "course-1"})
	require.Error(t, err)
	require.Equal(t, appErrors.ErrConcurrencyConflict.Code, appErrors.FromError(err).Code)
	require.Equal(t, 3, f.observer.retries["drop"])
	require.NoError(t, f.mock.ExpectationsWereMet())
}

func TestDropPromotesWaitlistHead(t *testing.T) {
	f := newEngineFixture(t)
	f.seats.seatsLeft["course-1"] = 0
	f.enrollments.active[enrollmentKey("stu-1", "course-1", "2026A")] = &models.Enrollment{
		ID: "enr-1", StudentID: "stu-1", CourseID: "course-1", Semester: "2026A", Status: models.EnrollmentStatusActive,
	}
	f.waitlist.entries["course-1"] = []models.WaitlistEntry{
		{ID: "w-1", CourseID: "course-1", StudentID: "stu-2", Position: 1},
		{ID: "w-2", CourseID: "course-1", StudentID: "stu-3", Position: 2},
	}
	f.mock.ExpectBegin()
	f.mock.ExpectCommit()

	result, err := f.svc.Drop(context.Background(), DropRequest{StudentID: "stu-1", CourseID: "course-1"})
	require.NoError(t, err)
	require.Equal(t, models.EnrollmentStatusDropped, result.Dropped.Status)
	require.Equal(t, "stu-2", result.PromotedStudentID)
	require.Equal(t, []models.HistoryAction{models.HistoryActionDropped, models.HistoryActionPromoted}, f.history.actions())
	require.Len(t, f.waitlist.entries["course-1"], 1)
	require.Equal(t, 1, f.waitlist.entries["course-1"][0].Position)
	require.Equal(t, 1, f.observer.promotions)
	require.NoError(t, f.mock.ExpectationsWereMet())
}

func TestDropWithEmptyWaitlistFreesSeat(t *testing.T) {
	f := newEngineFixture(t)
	f.seats.seatsLeft["course-1"] = 0
	f.enrollments.active[enrollmentKey("stu-1", "course-1", "2026A")] = &models.Enrollment{
		ID: "enr-1", StudentID: "stu-1", CourseID: "course-1", Semester: "2026A", Status: models.EnrollmentStatusActive,
	}
	f.mock.ExpectBegin()
	f.mock.ExpectCommit()

	result, err := f.svc.Drop(context.Background(), DropRequest{StudentID: "stu-1", CourseID: "course-1"})
	require.NoError(t, err)
	require.Empty(t, result.PromotedStudentID)
	require.Equal(t, 1, f.seats.seatsLeft["course-1"])
	require.Zero(t, f.observer.promotions)
	require.Equal(t, []models.HistoryAction{models.HistoryActionDropped}, f.history.actions())
	require.NoError(t, f.mock.ExpectationsWereMet())
}

func TestDropWithoutActiveEnrollment(t *testing.T) {
	f := newEngineFixture(t)
	f.mock.ExpectBegin()
	f.mock.ExpectRollback()

	_, err := f.svc.Drop(context.Background(), DropRequest{StudentID: "stu-1", CourseID: "course-1"})
	require.Error(t, err)
	require.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
	require.NoError(t, f.mock.ExpectationsWereMet())
}

func TestBatchEnrollPartialSuccess(t *testing.T) {
	f := newEngineFixture(t)
	f.seats.courses["course-2"] = &models.Course{ID: "course-2", Code: "CS201", Title: "Algorithms", Semester: "2026A", Capacity: 1}
	f.seats.seatsLeft["course-2"] = 1
	f.enrollments.active[enrollmentKey("stu-1", "course-1", "2026A")] = &models.Enrollment{ID: "enr-0", Status: models.EnrollmentStatusActive}
	f.mock.ExpectBegin()
	f.mock.ExpectRollback()
	f.mock.ExpectBegin()
	f.mock.ExpectCommit()

	results, err := f.svc.BatchEnroll(context.Background(), BatchEnrollRequest{StudentID: "stu-1", CourseIDs: []string{"course-1", "course-2"}})
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.Nil(t, results[0].Outcome)
	require.Equal(t, appErrors.ErrDuplicateEnrollment.Code, results[0].Error.Code)
	require.NotNil(t, results[1].Outcome)
	require.Equal(t, models.EnrollmentOutcomeActive, results[1].Outcome.Status)
	require.NoError(t, f.mock.ExpectationsWereMet())
}

func TestCompleteRecordsGradeAndKeepsSeat(t *testing.T) {
	f := newEngineFixture(t)
	f.seats.seatsLeft["course-1"] = 0
	f.enrollments.active[enrollmentKey("stu-1", "course-1", "2026A")] = &models.Enrollment{
		ID: "enr-1", StudentID: "stu-1", CourseID: "course-1", Semester: "2026A", Status: models.EnrollmentStatusActive,
	}
	f.waitlist.entries["course-1"] = []models.WaitlistEntry{{ID: "w-1", CourseID: "course-1", StudentID: "stu-2", Position: 1}}
	f.mock.ExpectBegin()
	f.mock.ExpectCommit()

	completed, err := f.svc.Complete(context.Background(), CompleteRequest{StudentID: "stu-1", CourseID: "course-1", Grade: "A"})
	require.NoError(t, err)
	require.Equal(t, models.EnrollmentStatusCompleted, completed.Status)
	require.Equal(t, models.GradeA, *completed.Grade)
	require.Zero(t, f.seats.releaseCalls)
	require.Len(t, f.waitlist.entries["course-1"], 1)
	require.Equal(t, []models.HistoryAction{models.HistoryActionCompleted}, f.history.actions())
	require.NoError(t, f.mock.ExpectationsWereMet())
}

func TestCompleteRejectsUnknownGrade(t *testing.T) {
	f := newEngineFixture(t)

	_, err := f.svc.Complete(context.Background(), CompleteRequest{StudentID: "stu-1", CourseID: "course-1", Grade: "E"})
	require.Error(t, err)
	require.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
	require.NoError(t, f.mock.ExpectationsWereMet())
}

func TestLeaveWaitlistCompactsPositions(t *testing.T) {
	f := newEngineFixture(t)
	f.waitlist.entries["course-1"] = []models.WaitlistEntry{
		{ID: "w-1", CourseID: "course-1", StudentID: "stu-2", Position: 1},
		{ID: "w-2", CourseID: "course-1", StudentID: "stu-3", Position: 2},
	}
	f.mock.ExpectBegin()
	f.mock.ExpectCommit()

	err := f.svc.LeaveWaitlist(context.Background(), "stu-2", "course-1")
	require.NoError(t, err)
	require.Len(t, f.waitlist.entries["course-1"], 1)
	require.Equal(t, "stu-3", f.waitlist.entries["course-1"][0].StudentID)
	require.Equal(t, 1, f.waitlist.entries["course-1"][0].Position)
	require.NoError(t, f.mock.ExpectationsWereMet())
}

func TestLeaveWaitlistMissingEntry(t *testing.T) {
	f := newEngineFixture(t)
	f.mock.ExpectBegin()
	f.mock.ExpectRollback()

	err := f.svc.LeaveWaitlist(context.Background(), "stu-1", "course-1")
	require.Error(t, err)
	require.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
	require.NoError(t, f.mock.ExpectationsWereMet())
}

func TestRemoveStudentReleasesSeatAndPromotes(t *testing.T) {
	f := newEngineFixture(t)
	f.seats.seatsLeft["course-1"] = 0
	f.enrollments.active[enrollmentKey("stu-1", "course-1", "2026A")] = &models.Enrollment{
		ID: "enr-1", StudentID: "stu-1", CourseID: "course-1", Semester: "2026A", Status: models.EnrollmentStatusActive,
	}
	f.waitlist.entries["course-1"] = []models.WaitlistEntry{{ID: "w-1", CourseID: "course-1", StudentID: "stu-2", Position: 1}}
	f.mock.ExpectBegin()
	f.mock.ExpectCommit()

	err := f.svc.RemoveStudent(context.Background(), "stu-1")
	require.NoError(t, err)
	require.NotContains(t, f.students.students, "stu-1")
	require.Equal(t, []models.HistoryAction{models.HistoryActionDropped, models.HistoryActionPromoted}, f.history.actions())
	require.Empty(t, f.waitlist.entries["course-1"])
	// The freed seat went straight to the promoted student.
	require.Equal(t, 0, f.seats.seatsLeft["course-1"])
	require.Equal(t, "stu-2", f.enrollments.created[0].StudentID)
	require.Equal(t, 1, f.observer.promotions)
	require.Contains(t, f.cache.patterns, "reports:course:course-1:*")
	require.Contains(t, f.cache.patterns, "reports:student:stu-1:*")
	require.NoError(t, f.mock.ExpectationsWereMet())
}

func TestRemoveStudentCompactsHeldWaitlists(t *testing.T) {
	f := newEngineFixture(t)
	f.waitlist.entries["course-1"] = []models.WaitlistEntry{
		{ID: "w-1", CourseID: "course-1", StudentID: "stu-1", Position: 1},
		{ID: "w-2", CourseID: "course-1", StudentID: "stu-2", Position: 2},
	}
	f.mock.ExpectBegin()
	f.mock.ExpectCommit()

	err := f.svc.RemoveStudent(context.Background(), "stu-1")
	require.NoError(t, err)
	require.NotContains(t, f.students.students, "stu-1")
	require.Len(t, f.waitlist.entries["course-1"], 1)
	require.Equal(t, "stu-2", f.waitlist.entries["course-1"][0].StudentID)
	require.Equal(t, 1, f.waitlist.entries["course-1"][0].Position)
	require.Zero(t, f.observer.promotions)
	require.Zero(t, f.seats.releaseCalls)
	require.NoError(t, f.mock.ExpectationsWereMet())
}

func TestRemoveStudentUnknown(t *testing.T) {
	f := newEngineFixture(t)
	f.mock.ExpectBegin()
	f.mock.ExpectRollback()

	err := f.svc.RemoveStudent(context.Background(), "stu-9")
	require.Error(t, err)
	require.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
	require.NoError(t, f.mock.ExpectationsWereMet())
}

func TestPromoteEligibleFillsFreedSeats(t *testing.T) {
	f := newEngineFixture(t)
	f.seats.seatsLeft["course-1"] = 2
	f.waitlist.entries["course-1"] = []models.WaitlistEntry{{ID: "w-1", CourseID: "course-1", StudentID: "stu-2", Position: 1}}
	f.mock.ExpectBegin()
	f.mock.ExpectCommit()

	promoted, err := f.svc.PromoteEligible(context.Background(), "course-1")
	require.NoError(t, err)
	require.Equal(t, 1, promoted)
	require.Empty(t, f.waitlist.entries["course-1"])
	// The spare reserved seat is handed back once the queue drains.
	require.Equal(t, 1, f.seats.seatsLeft["course-1"])
	require.Equal(t, 1, f.observer.promotions)
	require.Equal(t, []models.HistoryAction{models.HistoryActionPromoted}, f.history.actions())
	require.NoError(t, f.mock.ExpectationsWereMet())
}

func TestPromoteEligibleNobodyWaiting(t *testing.T) {
	f := newEngineFixture(t)
	f.seats.seatsLeft["course-1"] = 1
	f.mock.ExpectBegin()
	f.mock.ExpectCommit()

	promoted, err := f.svc.PromoteEligible(context.Background(), "course-1")
	require.NoError(t, err)
	require.Zero(t, promoted)
	require.Equal(t, 1, f.seats.seatsLeft["course-1"])
	require.NoError(t, f.mock.ExpectationsWereMet())
}
