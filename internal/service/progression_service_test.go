package service

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shs-ims/registrar-api/internal/models"
	"github.com/shs-ims/registrar-api/internal/repository"
	appErrors "github.com/shs-ims/registrar-api/pkg/errors"
)

type mockProgressionRepo struct {
	advanced    map[string]string
	summer      map[string]models.SummerClass
	advanceErr  error
	lastAdvance repository.AdvanceParams
}

func (m *mockProgressionRepo) Advance(ctx context.Context, params repository.AdvanceParams) (*models.ProgressionResult, error) {
	m.lastAdvance = params
	if m.advanceErr != nil {
		return nil, m.advanceErr
	}
	key := params.StudentID + ":" + params.ToPeriodID
	if id, ok := m.advanced[key]; ok {
		return &models.ProgressionResult{NewEnrollmentID: id, AlreadyProgressed: true}, nil
	}
	if m.advanced == nil {
		m.advanced = make(map[string]string)
	}
	m.advanced[key] = "enr-new"
	return &models.ProgressionResult{NewEnrollmentID: "enr-new"}, nil
}

func (m *mockProgressionRepo) ListByEnrollment(ctx context.Context, enrollmentID string) ([]models.SemesterProgression, error) {
	return nil, nil
}

func (m *mockProgressionRepo) CreateSummerClass(ctx context.Context, enrollmentID, periodID string, subjectIDs []string) (*models.SummerClass, error) {
	if m.summer == nil {
		m.summer = make(map[string]models.SummerClass)
	}
	if existing, ok := m.summer[enrollmentID]; ok {
		return &existing, nil
	}
	subjects := make([]models.SummerClassSubject, 0, len(subjectIDs))
	for _, id := range subjectIDs {
		subjects = append(subjects, models.SummerClassSubject{SubjectID: id})
	}
	summer := models.SummerClass{ID: "sum-1", EnrollmentID: enrollmentID, PeriodID: periodID, Status: models.SummerClassOngoing, Subjects: subjects}
	m.summer[enrollmentID] = summer
	return &summer, nil
}

func (m *mockProgressionRepo) RecordSummerResult(ctx context.Context, summerClassID, subjectID string, grade float64) (*models.SummerClass, error) {
	for _, s := range m.summer {
		if s.ID == summerClassID {
			return &s, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *mockProgressionRepo) FindSummerByEnrollment(ctx context.Context, enrollmentID string) (*models.SummerClass, error) {
	if s, ok := m.summer[enrollmentID]; ok {
		return &s, nil
	}
	return nil, sql.ErrNoRows
}

type mockPeriodReader struct {
	periods map[string]models.Period
}

func (m *mockPeriodReader) FindByID(ctx context.Context, id string) (*models.Period, error) {
	if p, ok := m.periods[id]; ok {
		return &p, nil
	}
	return nil, sql.ErrNoRows
}

func newProgressionFixture() (*ProgressionService, *mockProgressionRepo, *mockEnrollmentRepo, *mockGradeRepo, *mockNotifier) {
	repo := &mockProgressionRepo{advanced: make(map[string]string), summer: make(map[string]models.SummerClass)}
	enrollments := &mockEnrollmentRepo{enrollments: map[string]models.Enrollment{
		"enr-1": {ID: "enr-1", StudentID: "stu-1", PeriodID: "period-1", GradeLevel: 11, Status: models.EnrollmentStatusEnrolled},
	}}
	periods := &mockPeriodReader{periods: map[string]models.Period{
		"period-1": {ID: "period-1", Semester: models.SemesterFirst},
		"period-2": {ID: "period-2", Semester: models.SemesterSecond, AllowProgression: true},
		"period-3": {ID: "period-3", Semester: models.SemesterFirst, AllowProgression: true},
		"period-4": {ID: "period-4", Semester: models.SemesterFirst, AllowProgression: false},
	}}
	grades := &mockGradeRepo{}
	notify := &mockNotifier{}
	svc := NewProgressionService(repo, enrollments, periods, grades, notify, nil, nil, nil)
	return svc, repo, enrollments, grades, notify
}

func TestProgressToNextGrade(t *testing.T) {
	svc, repo, _, _, notify := newProgressionFixture()

	result, err := svc.ProgressToNextGrade(context.Background(), "enr-1", ProgressRequest{ToPeriodID: "period-3"})
	require.NoError(t, err)
	assert.Equal(t, "enr-new", result.NewEnrollmentID)
	assert.False(t, result.AlreadyProgressed)
	assert.Equal(t, 12, repo.lastAdvance.ToGradeLevel)
	assert.Equal(t, models.ProgressionGradeAdvance, repo.lastAdvance.Type)
	assert.Contains(t, notify.events, EventStudentProgressed)
}

func TestProgressToNextGradeIdempotent(t *testing.T) {
	svc, repo, _, _, notify := newProgressionFixture()
	repo.advanced["stu-1:period-3"] = "enr-existing"

	result, err := svc.ProgressToNextGrade(context.Background(), "enr-1", ProgressRequest{ToPeriodID: "period-3"})
	require.NoError(t, err)
	assert.Equal(t, "enr-existing", result.NewEnrollmentID)
	assert.True(t, result.AlreadyProgressed)
	assert.Empty(t, notify.events)
}

func TestProgressToNextGradeTerminalLevel(t *testing.T) {
	svc, _, enrollments, _, _ := newProgressionFixture()
	enrollments.enrollments["enr-1"] = models.Enrollment{ID: "enr-1", StudentID: "stu-1", PeriodID: "period-1", GradeLevel: 12, Status: models.EnrollmentStatusEnrolled}

	_, err := svc.ProgressToNextGrade(context.Background(), "enr-1", ProgressRequest{ToPeriodID: "period-3"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrPreconditionFailed.Code, appErrors.FromError(err).Code)
}

func TestProgressToNextGradeDisabledPeriod(t *testing.T) {
	svc, _, _, _, _ := newProgressionFixture()

	_, err := svc.ProgressToNextGrade(context.Background(), "enr-1", ProgressRequest{ToPeriodID: "period-4"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrProgressionDisabled.Code, appErrors.FromError(err).Code)
}

func TestProgressToNextGradeBlockedByFailures(t *testing.T) {
	svc, repo, _, grades, _ := newProgressionFixture()
	grades.failed = []models.Grade{{ID: "g-1", SubjectID: "sub-1"}}

	_, err := svc.ProgressToNextGrade(context.Background(), "enr-1", ProgressRequest{ToPeriodID: "period-3"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrPreconditionFailed.Code, appErrors.FromError(err).Code)

	// An ongoing summer class is not enough.
	repo.summer["enr-1"] = models.SummerClass{ID: "sum-1", EnrollmentID: "enr-1", Status: models.SummerClassOngoing}
	_, err = svc.ProgressToNextGrade(context.Background(), "enr-1", ProgressRequest{ToPeriodID: "period-3"})
	require.Error(t, err)

	// A completed one clears the block.
	repo.summer["enr-1"] = models.SummerClass{ID: "sum-1", EnrollmentID: "enr-1", Status: models.SummerClassCompleted}
	_, err = svc.ProgressToNextGrade(context.Background(), "enr-1", ProgressRequest{ToPeriodID: "period-3"})
	require.NoError(t, err)
}

func TestProgressNoTargetSection(t *testing.T) {
	svc, repo, _, _, _ := newProgressionFixture()
	repo.advanceErr = repository.ErrNoTargetSection

	_, err := svc.ProgressToNextGrade(context.Background(), "enr-1", ProgressRequest{ToPeriodID: "period-3"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNoTargetSection.Code, appErrors.FromError(err).Code)
}

func TestProgressStateConflict(t *testing.T) {
	svc, repo, _, _, _ := newProgressionFixture()
	repo.advanceErr = repository.ErrStateConflict

	_, err := svc.ProgressToNextGrade(context.Background(), "enr-1", ProgressRequest{ToPeriodID: "period-3"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrStateConflict.Code, appErrors.FromError(err).Code)
}

func TestAdvanceSemester(t *testing.T) {
	svc, repo, _, _, _ := newProgressionFixture()

	result, err := svc.AdvanceSemester(context.Background(), "enr-1", ProgressRequest{ToPeriodID: "period-2"})
	require.NoError(t, err)
	assert.Equal(t, "enr-new", result.NewEnrollmentID)
	assert.Equal(t, 11, repo.lastAdvance.ToGradeLevel)
	assert.Equal(t, models.ProgressionSemesterAdvance, repo.lastAdvance.Type)
}

func TestAdvanceSemesterWrongTarget(t *testing.T) {
	svc, _, _, _, _ := newProgressionFixture()

	// period-3 is another 1st semester, not the follower of period-1.
	_, err := svc.AdvanceSemester(context.Background(), "enr-1", ProgressRequest{ToPeriodID: "period-3"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestAdvanceSemesterSamePeriod(t *testing.T) {
	svc, _, _, _, _ := newProgressionFixture()

	_, err := svc.AdvanceSemester(context.Background(), "enr-1", ProgressRequest{ToPeriodID: "period-1"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestCreateSummerRemedial(t *testing.T) {
	svc, _, _, grades, _ := newProgressionFixture()

	_, err := svc.CreateSummerRemedial(context.Background(), "enr-1", "period-2")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrPreconditionFailed.Code, appErrors.FromError(err).Code)

	grades.failed = []models.Grade{{ID: "g-1", SubjectID: "sub-1"}, {ID: "g-2", SubjectID: "sub-2"}}
	summer, err := svc.CreateSummerRemedial(context.Background(), "enr-1", "period-2")
	require.NoError(t, err)
	assert.Equal(t, models.SummerClassOngoing, summer.Status)
	assert.Len(t, summer.Subjects, 2)
}
