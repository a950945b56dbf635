package service

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/course-reg-api/internal/models"
	appErrors "github.com/noah-isme/course-reg-api/pkg/errors"
	"github.com/noah-isme/course-reg-api/pkg/export"
	"github.com/noah-isme/course-reg-api/pkg/jobs"
	"github.com/noah-isme/course-reg-api/pkg/storage"
)

type rosterReader interface {
	ListActiveByCourse(ctx context.Context, courseID string) ([]models.EnrollmentDetail, error)
}

type waitlistLister interface {
	ListByCourse(ctx context.Context, courseID string) ([]models.WaitlistEntryDetail, error)
}

type exportCourseReader interface {
	FindByID(ctx context.Context, id string) (*models.Course, error)
}

type exportFileStorage interface {
	Save(filename string, data []byte) (string, error)
	Open(filename string) (*os.File, error)
	Delete(filename string) error
	CleanupOlderThan(ttl time.Duration) ([]string, error)
}

type csvRenderer interface {
	Render(data export.Dataset) ([]byte, error)
}

type pdfRenderer interface {
	Render(data export.Dataset, title string) ([]byte, error)
}

type jobDispatcher interface {
	Enqueue(job jobs.Job) error
}

// ExportConfig tunes export behaviour.
type ExportConfig struct {
	APIPrefix       string
	ResultTTL       time.Duration
	CleanupInterval time.Duration
	MaxRetries      int
}

// ExportDownload aggregates resolved download data.
type ExportDownload struct {
	File      *os.File
	Filename  string
	Format    models.ExportFormat
	ExpiresAt time.Time
}

// CreateExportRequest asks for a roster or waitlist export of one course.
type CreateExportRequest struct {
	Type     models.ExportType   `json:"type"`
	CourseID string              `json:"course_id"`
	Format   models.ExportFormat `json:"format"`
}

// exportJobStore tracks jobs in memory. Exports are point-in-time artifacts;
// a restart loses pending jobs and clients simply request them again.
type exportJobStore struct {
	mu   sync.RWMutex
	jobs map[string]*models.ExportJob
}

func newExportJobStore() *exportJobStore {
	return &exportJobStore{jobs: make(map[string]*models.ExportJob)}
}

func (s *exportJobStore) create(job *models.ExportJob) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = job
}

func (s *exportJobStore) get(id string) (*models.ExportJob, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, false
	}
	copied := *job
	return &copied, true
}

func (s *exportJobStore) update(id string, fn func(*models.ExportJob)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if job, ok := s.jobs[id]; ok {
		fn(job)
	}
}

func (s *exportJobStore) deleteFinishedBefore(cutoff time.Time) []models.ExportJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	var removed []models.ExportJob
	for id, job := range s.jobs {
		if job.FinishedAt != nil && job.FinishedAt.Before(cutoff) {
			removed = append(removed, *job)
			delete(s.jobs, id)
		}
	}
	sort.Slice(removed, func(i, j int) bool { return removed[i].ID < removed[j].ID })
	return removed
}

// ExportService builds roster and waitlist exports asynchronously. Jobs flow
// through the in-memory queue; finished files are served via signed tokens.
type ExportService struct {
	enrollments rosterReader
	waitlist    waitlistLister
	courses     exportCourseReader
	storage     exportFileStorage
	csv         csvRenderer
	pdf         pdfRenderer
	signer      *storage.SignedURLSigner
	store       *exportJobStore
	queue       jobDispatcher
	logger      *zap.Logger
	cfg         ExportConfig
}

// NewExportService constructs an ExportService. Attach a queue with
// SetQueue before accepting requests.
func NewExportService(
	enrollments rosterReader,
	waitlist waitlistLister,
	courses exportCourseReader,
	fileStorage exportFileStorage,
	signer *storage.SignedURLSigner,
	cfg ExportConfig,
	logger *zap.Logger,
) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ResultTTL <= 0 {
		cfg.ResultTTL = 24 * time.Hour
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	return &ExportService{
		enrollments: enrollments,
		waitlist:    waitlist,
		courses:     courses,
		storage:     fileStorage,
		csv:         export.NewCSVExporter(),
		pdf:         export.NewPDFExporter(),
		signer:      signer,
		store:       newExportJobStore(),
		logger:      logger,
		cfg:         cfg,
	}
}

// SetQueue attaches the dispatch queue. Wired separately because the queue
// handler needs the service.
func (s *ExportService) SetQueue(queue jobDispatcher) {
	s.queue = queue
}

// CreateJob validates the request, records the job, and enqueues processing.
func (s *ExportService) CreateJob(ctx context.Context, req CreateExportRequest) (*models.ExportJob, error) {
	if req.Type != models.ExportTypeRoster && req.Type != models.ExportTypeWaitlist {
		return nil, appErrors.Clone(appErrors.ErrValidation, "unsupported export type")
	}
	if req.Format != models.ExportFormatCSV && req.Format != models.ExportFormatPDF {
		return nil, appErrors.Clone(appErrors.ErrValidation, "unsupported export format")
	}
	if req.CourseID == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "course_id is required")
	}
	if _, err := s.courses.FindByID(ctx, req.CourseID); err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}
	if s.queue == nil {
		return nil, appErrors.Clone(appErrors.ErrInternal, "export queue not running")
	}

	job := &models.ExportJob{
		ID:        uuid.NewString(),
		Type:      req.Type,
		CourseID:  req.CourseID,
		Format:    req.Format,
		Status:    models.ExportStatusQueued,
		CreatedAt: time.Now().UTC(),
	}
	s.store.create(job)

	if err := s.queue.Enqueue(jobs.Job{ID: job.ID, Type: string(job.Type)}); err != nil {
		now := time.Now().UTC()
		msg := "failed to enqueue job"
		s.store.update(job.ID, func(j *models.ExportJob) {
			j.Status = models.ExportStatusFailed
			j.ErrorMessage = &msg
			j.FinishedAt = &now
		})
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to enqueue export job")
	}
	copied := *job
	return &copied, nil
}

// GetStatus returns job metadata.
func (s *ExportService) GetStatus(ctx context.Context, id string) (*models.ExportJob, error) {
	job, ok := s.store.get(id)
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "export job not found")
	}
	return job, nil
}

// ResolveDownload validates a token and opens the stored export file.
func (s *ExportService) ResolveDownload(ctx context.Context, token string) (*ExportDownload, error) {
	jobID, relPath, expiresAt, err := s.signer.Parse(token, false)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "invalid or expired download token")
	}
	job, ok := s.store.get(jobID)
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "export job not found")
	}
	if job.ResultURL == nil || !strings.HasSuffix(*job.ResultURL, token) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "token mismatch")
	}
	if job.Status != models.ExportStatusFinished {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "export not ready")
	}
	file, err := s.storage.Open(relPath)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to open export file")
	}
	return &ExportDownload{
		File:      file,
		Filename:  filepath.Base(relPath),
		Format:    job.Format,
		ExpiresAt: expiresAt,
	}, nil
}

// Handle processes one queued export job. Wire this as the queue handler.
func (s *ExportService) Handle(ctx context.Context, job jobs.Job) error {
	record, ok := s.store.get(job.ID)
	if !ok {
		return fmt.Errorf("export job %s not found", job.ID)
	}
	s.store.update(job.ID, func(j *models.ExportJob) {
		j.Status = models.ExportStatusProcessing
	})

	url, err := s.generate(ctx, record)
	if err != nil {
		msg := err.Error()
		if job.Attempt >= s.cfg.MaxRetries {
			now := time.Now().UTC()
			s.store.update(job.ID, func(j *models.ExportJob) {
				j.Status = models.ExportStatusFailed
				j.ErrorMessage = &msg
				j.FinishedAt = &now
			})
		} else {
			s.store.update(job.ID, func(j *models.ExportJob) {
				j.Status = models.ExportStatusQueued
				j.ErrorMessage = &msg
			})
		}
		return err
	}

	now := time.Now().UTC()
	s.store.update(job.ID, func(j *models.ExportJob) {
		j.Status = models.ExportStatusFinished
		j.ResultURL = &url
		j.ErrorMessage = nil
		j.FinishedAt = &now
	})
	return nil
}

// StartCleanup boots a goroutine that purges expired export files.
func (s *ExportService) StartCleanup(ctx context.Context) {
	if s.cfg.CleanupInterval <= 0 {
		return
	}
	ticker := time.NewTicker(s.cfg.CleanupInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.cleanupExpired()
			}
		}
	}()
}

func (s *ExportService) cleanupExpired() {
	removed := s.store.deleteFinishedBefore(time.Now().Add(-s.cfg.ResultTTL))
	for _, job := range removed {
		if job.ResultURL == nil {
			continue
		}
		parts := strings.Split(*job.ResultURL, "/")
		token := parts[len(parts)-1]
		_, relPath, _, err := s.signer.Parse(token, true)
		if err != nil {
			continue
		}
		if err := s.storage.Delete(relPath); err != nil {
			s.logger.Warn("cleanup delete failed", zap.String("job_id", job.ID), zap.Error(err))
		}
	}
	if _, err := s.storage.CleanupOlderThan(s.cfg.ResultTTL); err != nil {
		s.logger.Warn("filesystem cleanup failed", zap.Error(err))
	}
}

func (s *ExportService) generate(ctx context.Context, job *models.ExportJob) (string, error) {
	course, err := s.courses.FindByID(ctx, job.CourseID)
	if err != nil {
		return "", fmt.Errorf("load course %s: %w", job.CourseID, err)
	}

	var dataset export.Dataset
	var title string
	switch job.Type {
	case models.ExportTypeRoster:
		dataset, title, err = s.buildRosterDataset(ctx, course)
	case models.ExportTypeWaitlist:
		dataset, title, err = s.buildWaitlistDataset(ctx, course)
	default:
		err = fmt.Errorf("unsupported export type %s", job.Type)
	}
	if err != nil {
		return "", err
	}

	var payload []byte
	switch job.Format {
	case models.ExportFormatCSV:
		payload, err = s.csv.Render(dataset)
	case models.ExportFormatPDF:
		payload, err = s.pdf.Render(dataset, title)
	default:
		err = fmt.Errorf("unsupported format %s", job.Format)
	}
	if err != nil {
		return "", err
	}

	filename := s.buildFilename(job, course)
	relPath, err := s.storage.Save(filename, payload)
	if err != nil {
		return "", err
	}

	token, _, err := s.signer.Generate(job.ID, relPath)
	if err != nil {
		return "", err
	}
	prefix := strings.TrimRight(s.cfg.APIPrefix, "/")
	if prefix == "" {
		prefix = "/api/v1"
	}
	return fmt.Sprintf("%s/exports/download/%s", prefix, token), nil
}

func (s *ExportService) buildRosterDataset(ctx context.Context, course *models.Course) (export.Dataset, string, error) {
	rows, err := s.enrollments.ListActiveByCourse(ctx, course.ID)
	if err != nil {
		return export.Dataset{}, "", err
	}
	dataRows := make([]map[string]string, 0, len(rows))
	for _, row := range rows {
		dataRows = append(dataRows, map[string]string{
			"Student":     row.StudentName,
			"Email":       row.StudentEmail,
			"Status":      string(row.Status),
			"Enrolled At": row.EnrolledAt.UTC().Format(time.RFC3339),
		})
	}
	dataset := export.Dataset{
		Headers: []string{"Student", "Email", "Status", "Enrolled At"},
		Rows:    dataRows,
	}
	title := fmt.Sprintf("Roster %s %s", course.Code, course.Semester)
	return dataset, title, nil
}

func (s *ExportService) buildWaitlistDataset(ctx context.Context, course *models.Course) (export.Dataset, string, error) {
	entries, err := s.waitlist.ListByCourse(ctx, course.ID)
	if err != nil {
		return export.Dataset{}, "", err
	}
	dataRows := make([]map[string]string, 0, len(entries))
	for _, entry := range entries {
		dataRows = append(dataRows, map[string]string{
			"Position":  fmt.Sprintf("%d", entry.Position),
			"Student":   entry.StudentName,
			"Email":     entry.StudentEmail,
			"Joined At": entry.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	dataset := export.Dataset{
		Headers: []string{"Position", "Student", "Email", "Joined At"},
		Rows:    dataRows,
	}
	title := fmt.Sprintf("Waitlist %s %s", course.Code, course.Semester)
	return dataset, title, nil
}

func (s *ExportService) buildFilename(job *models.ExportJob, course *models.Course) string {
	timestamp := time.Now().UTC().Format("20060102_150405")
	code := sanitizeFilename(course.Code)
	return fmt.Sprintf("%s_%s_%s.%s", job.Type, code, timestamp, job.Format)
}

func sanitizeFilename(raw string) string {
	if raw == "" {
		return "na"
	}
	replacer := strings.NewReplacer(" ", "_", "/", "-", "\\", "-", ":", "-", "..", ".", "__", "_")
	result := replacer.Replace(raw)
	if len(result) > 100 {
		return result[:100]
	}
	return result
}
