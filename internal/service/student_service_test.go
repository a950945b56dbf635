package service

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/course-reg-api/internal/models"
	appErrors "github.com/noah-isme/course-reg-api/pkg/errors"
)

type stubStudentRepo struct {
	students map[string]*models.Student
	emails   map[string]string
}

func (s *stubStudentRepo) List(ctx context.Context, filter models.StudentFilter) ([]models.Student, int, error) {
	return nil, 0, nil
}

func (s *stubStudentRepo) FindByID(ctx context.Context, id string) (*models.Student, error) {
	if student, ok := s.students[id]; ok {
		copied := *student
		return &copied, nil
	}
	return nil, sql.ErrNoRows
}

func (s *stubStudentRepo) ExistsByEmail(ctx context.Context, email, excludeID string) (bool, error) {
	id, ok := s.emails[email]
	if !ok {
		return false, nil
	}
	return id != excludeID, nil
}

func (s *stubStudentRepo) Create(ctx context.Context, student *models.Student) error {
	student.ID = "stu-new"
	s.students[student.ID] = student
	s.emails[student.Email] = student.ID
	return nil
}

func (s *stubStudentRepo) Update(ctx context.Context, student *models.Student) error {
	if _, ok := s.students[student.ID]; !ok {
		return sql.ErrNoRows
	}
	s.students[student.ID] = student
	return nil
}

type stubStudentDetacher struct {
	removed []string
	err     error
}

func (s *stubStudentDetacher) RemoveStudent(ctx context.Context, studentID string) error {
	if s.err != nil {
		return s.err
	}
	s.removed = append(s.removed, studentID)
	return nil
}

func newStudentFixture() (*stubStudentRepo, *stubStudentDetacher, *StudentService) {
	repo := &stubStudentRepo{
		students: map[string]*models.Student{
			"stu-1": {ID: "stu-1", Email: "ada@example.edu", FullName: "Ada", Year: 2, Active: true},
		},
		emails: map[string]string{"ada@example.edu": "stu-1"},
	}
	detacher := &stubStudentDetacher{}
	return repo, detacher, NewStudentService(repo, detacher, nil, nil)
}

func TestStudentCreate(t *testing.T) {
	_, _, svc := newStudentFixture()

	student, err := svc.Create(context.Background(), CreateStudentRequest{Email: "bob@example.edu", FullName: "Bob", Year: 1})
	require.NoError(t, err)
	require.NotEmpty(t, student.ID)
	require.True(t, student.Active)
}

func TestStudentCreateRejectsDuplicateEmail(t *testing.T) {
	_, _, svc := newStudentFixture()

	_, err := svc.Create(context.Background(), CreateStudentRequest{Email: "ada@example.edu", FullName: "Ada Clone", Year: 1})
	require.Error(t, err)
	require.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
}

func TestStudentCreateRejectsInvalidYear(t *testing.T) {
	_, _, svc := newStudentFixture()

	_, err := svc.Create(context.Background(), CreateStudentRequest{Email: "bob@example.edu", FullName: "Bob", Year: 5})
	require.Error(t, err)
	require.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestStudentUpdateKeepsOwnEmail(t *testing.T) {
	repo, _, svc := newStudentFixture()

	active := false
	student, err := svc.Update(context.Background(), "stu-1", UpdateStudentRequest{Email: "ada@example.edu", FullName: "Ada L", Year: 3, Active: &active})
	require.NoError(t, err)
	require.Equal(t, "Ada L", student.FullName)
	require.False(t, student.Active)
	require.False(t, repo.students["stu-1"].Active)
}

func TestStudentDeleteSettlesThroughEngine(t *testing.T) {
	_, detacher, svc := newStudentFixture()

	err := svc.Delete(context.Background(), "stu-1")
	require.NoError(t, err)
	require.Equal(t, []string{"stu-1"}, detacher.removed)
}

func TestStudentDeleteMissing(t *testing.T) {
	_, detacher, svc := newStudentFixture()
	detacher.err = appErrors.Clone(appErrors.ErrNotFound, "student not found")

	err := svc.Delete(context.Background(), "stu-9")
	require.Error(t, err)
	require.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
	require.Empty(t, detacher.removed)
}
