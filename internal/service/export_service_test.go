package service

import (
	"context"
	"database/sql"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/course-reg-api/internal/models"
	appErrors "github.com/noah-isme/course-reg-api/pkg/errors"
	"github.com/noah-isme/course-reg-api/pkg/jobs"
	"github.com/noah-isme/course-reg-api/pkg/storage"
)

type stubRosterReader struct {
	roster []models.EnrollmentDetail
}

func (s *stubRosterReader) ListActiveByCourse(ctx context.Context, courseID string) ([]models.EnrollmentDetail, error) {
	return s.roster, nil
}

type stubWaitlistLister struct {
	entries []models.WaitlistEntryDetail
}

func (s *stubWaitlistLister) ListByCourse(ctx context.Context, courseID string) ([]models.WaitlistEntryDetail, error) {
	return s.entries, nil
}

type stubExportCourses struct {
	courses map[string]*models.Course
}

func (s *stubExportCourses) FindByID(ctx context.Context, id string) (*models.Course, error) {
	if course, ok := s.courses[id]; ok {
		return course, nil
	}
	return nil, sql.ErrNoRows
}

type stubDispatcher struct {
	enqueued []jobs.Job
	err      error
}

func (s *stubDispatcher) Enqueue(job jobs.Job) error {
	if s.err != nil {
		return s.err
	}
	s.enqueued = append(s.enqueued, job)
	return nil
}

func newExportFixture(t *testing.T) (*stubDispatcher, *ExportService) {
	localStorage, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	signer := storage.NewSignedURLSigner("test-secret", time.Hour)

	roster := &stubRosterReader{roster: []models.EnrollmentDetail{
		{
			Enrollment:   models.Enrollment{ID: "enr-1", StudentID: "stu-1", Status: models.EnrollmentStatusActive, EnrolledAt: time.Date(2026, 8, 20, 9, 0, 0, 0, time.UTC)},
			StudentName:  "Ada Lovelace",
			StudentEmail: "ada@example.edu",
		},
	}}
	waitlist := &stubWaitlistLister{entries: []models.WaitlistEntryDetail{
		{
			WaitlistEntry: models.WaitlistEntry{ID: "w-1", CourseID: "course-1", StudentID: "stu-2", Position: 1, CreatedAt: time.Date(2026, 8, 21, 9, 0, 0, 0, time.UTC)},
			StudentName:   "Bob",
			StudentEmail:  "bob@example.edu",
		},
	}}
	courses := &stubExportCourses{courses: map[string]*models.Course{
		"course-1": {ID: "course-1", Code: "CS101", Title: "Intro", Semester: "2026A", Capacity: 30},
	}}

	dispatcher := &stubDispatcher{}
	svc := NewExportService(roster, waitlist, courses, localStorage, signer,
		ExportConfig{APIPrefix: "/api/v1", ResultTTL: time.Hour, MaxRetries: 2}, nil)
	svc.SetQueue(dispatcher)
	return dispatcher, svc
}

func TestExportCreateJobQueues(t *testing.T) {
	dispatcher, svc := newExportFixture(t)

	job, err := svc.CreateJob(context.Background(), CreateExportRequest{Type: models.ExportTypeRoster, CourseID: "course-1", Format: models.ExportFormatCSV})
	require.NoError(t, err)
	require.Equal(t, models.ExportStatusQueued, job.Status)
	require.Len(t, dispatcher.enqueued, 1)
	require.Equal(t, job.ID, dispatcher.enqueued[0].ID)
}

func TestExportCreateJobRejectsUnknownType(t *testing.T) {
	_, svc := newExportFixture(t)

	_, err := svc.CreateJob(context.Background(), CreateExportRequest{Type: "transcript", CourseID: "course-1", Format: models.ExportFormatCSV})
	require.Error(t, err)
	require.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestExportCreateJobUnknownCourse(t *testing.T) {
	_, svc := newExportFixture(t)

	_, err := svc.CreateJob(context.Background(), CreateExportRequest{Type: models.ExportTypeRoster, CourseID: "course-9", Format: models.ExportFormatCSV})
	require.Error(t, err)
	require.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestExportHandleProducesDownloadableCSV(t *testing.T) {
	_, svc := newExportFixture(t)
	ctx := context.Background()

	job, err := svc.CreateJob(ctx, CreateExportRequest{Type: models.ExportTypeRoster, CourseID: "course-1", Format: models.ExportFormatCSV})
	require.NoError(t, err)

	require.NoError(t, svc.Handle(ctx, jobs.Job{ID: job.ID, Type: string(job.Type)}))

	finished, err := svc.GetStatus(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, models.ExportStatusFinished, finished.Status)
	require.NotNil(t, finished.ResultURL)
	require.True(t, strings.HasPrefix(*finished.ResultURL, "/api/v1/exports/download/"))

	token := (*finished.ResultURL)[strings.LastIndex(*finished.ResultURL, "/")+1:]
	download, err := svc.ResolveDownload(ctx, token)
	require.NoError(t, err)
	defer download.File.Close()

	content, err := io.ReadAll(download.File)
	require.NoError(t, err)
	require.Contains(t, string(content), "Student,Email,Status,Enrolled At")
	require.Contains(t, string(content), "Ada Lovelace")
	require.Equal(t, models.ExportFormatCSV, download.Format)
}

func TestExportHandleWaitlistPDF(t *testing.T) {
	_, svc := newExportFixture(t)
	ctx := context.Background()

	job, err := svc.CreateJob(ctx, CreateExportRequest{Type: models.ExportTypeWaitlist, CourseID: "course-1", Format: models.ExportFormatPDF})
	require.NoError(t, err)

	require.NoError(t, svc.Handle(ctx, jobs.Job{ID: job.ID, Type: string(job.Type)}))

	finished, err := svc.GetStatus(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, models.ExportStatusFinished, finished.Status)
}

func TestExportResolveDownloadRejectsTamperedToken(t *testing.T) {
	_, svc := newExportFixture(t)
	ctx := context.Background()

	job, err := svc.CreateJob(ctx, CreateExportRequest{Type: models.ExportTypeRoster, CourseID: "course-1", Format: models.ExportFormatCSV})
	require.NoError(t, err)
	require.NoError(t, svc.Handle(ctx, jobs.Job{ID: job.ID, Type: string(job.Type)}))

	finished, err := svc.GetStatus(ctx, job.ID)
	require.NoError(t, err)
	token := (*finished.ResultURL)[strings.LastIndex(*finished.ResultURL, "/")+1:]
	tampered := token[:len(token)-2] + "xx"

	_, err = svc.ResolveDownload(ctx, tampered)
	require.Error(t, err)
	require.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestExportStatusUnknownJob(t *testing.T) {
	_, svc := newExportFixture(t)

	_, err := svc.GetStatus(context.Background(), "nope")
	require.Error(t, err)
	require.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestExportCreateJobWithoutQueue(t *testing.T) {
	localStorage, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	signer := storage.NewSignedURLSigner("test-secret", time.Hour)
	courses := &stubExportCourses{courses: map[string]*models.Course{
		"course-1": {ID: "course-1", Code: "CS101", Semester: "2026A"},
	}}
	svc := NewExportService(&stubRosterReader{}, &stubWaitlistLister{}, courses, localStorage, signer, ExportConfig{}, nil)

	_, err = svc.CreateJob(context.Background(), CreateExportRequest{Type: models.ExportTypeRoster, CourseID: "course-1", Format: models.ExportFormatCSV})
	require.Error(t, err)
	require.Equal(t, appErrors.ErrInternal.Code, appErrors.FromError(err).Code)
}
