package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shs-ims/registrar-api/internal/models"
	"github.com/shs-ims/registrar-api/internal/repository"
	appErrors "github.com/shs-ims/registrar-api/pkg/errors"
)

type mockGradeRepo struct {
	grades map[string]models.Grade
	failed []models.Grade
}

func (m *mockGradeRepo) FindByID(ctx context.Context, id string) (*models.Grade, error) {
	if g, ok := m.grades[id]; ok {
		return &g, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockGradeRepo) FindByKey(ctx context.Context, studentID, subjectID, scheduleID, periodID string) (*models.Grade, error) {
	for _, g := range m.grades {
		if g.StudentID == studentID && g.SubjectID == subjectID && g.ScheduleID == scheduleID && g.PeriodID == periodID {
			return &g, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *mockGradeRepo) List(ctx context.Context, filter models.GradeFilter) ([]models.Grade, int, error) {
	out := make([]models.Grade, 0, len(m.grades))
	for _, g := range m.grades {
		out = append(out, g)
	}
	return out, len(out), nil
}

func (m *mockGradeRepo) Upsert(ctx context.Context, template *models.Grade, updates []repository.QuarterUpdate) (*models.Grade, error) {
	if m.grades == nil {
		m.grades = make(map[string]models.Grade)
	}
	existing, err := m.FindByKey(ctx, template.StudentID, template.SubjectID, template.ScheduleID, template.PeriodID)
	var grade models.Grade
	if err == nil {
		if !existing.Approval.Editable() {
			return nil, repository.ErrStateConflict
		}
		grade = *existing
	} else {
		grade = *template
		grade.ID = uuid.NewString()
		grade.Status = models.GradeStatusOngoing
		grade.Approval = models.GradeApprovalDraft
	}
	for _, update := range updates {
		slot := grade.Quarter(update.Quarter)
		*slot = update.Value
	}
	grade.Normalize()
	m.grades[grade.ID] = grade
	return &grade, nil
}

func (m *mockGradeRepo) TransitionApproval(ctx context.Context, id string, target models.GradeApprovalStatus, approverID *string, notes *string) (*models.Grade, error) {
	g, ok := m.grades[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	if !g.Approval.CanTransition(target) {
		return nil, repository.ErrStateConflict
	}
	g.Approval = target
	g.ApproverID = approverID
	g.ApprovalNotes = notes
	m.grades[id] = g
	return &g, nil
}

func (m *mockGradeRepo) ListFailed(ctx context.Context, enrollmentID string) ([]models.Grade, error) {
	return m.failed, nil
}

type mockGradeRequestRepo struct {
	requests map[string]models.GradeInputRequest
	granted  map[string]bool
}

func (m *mockGradeRequestRepo) Create(ctx context.Context, request *models.GradeInputRequest) error {
	if m.requests == nil {
		m.requests = make(map[string]models.GradeInputRequest)
	}
	request.ID = uuid.NewString()
	request.Status = models.GradeInputRequestPending
	m.requests[request.ID] = *request
	return nil
}

func (m *mockGradeRequestRepo) FindByID(ctx context.Context, id string) (*models.GradeInputRequest, error) {
	if r, ok := m.requests[id]; ok {
		return &r, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockGradeRequestRepo) ListByFaculty(ctx context.Context, facultyID string) ([]models.GradeInputRequest, error) {
	var out []models.GradeInputRequest
	for _, r := range m.requests {
		if r.FacultyID == facultyID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *mockGradeRequestRepo) Decide(ctx context.Context, id string, approve bool, deciderID string, expiresAt time.Time) (*models.GradeInputRequest, error) {
	r, ok := m.requests[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	if r.Status != models.GradeInputRequestPending {
		return nil, repository.ErrStateConflict
	}
	if approve {
		r.Status = models.GradeInputRequestApproved
		r.ExpiresAt = expiresAt
	} else {
		r.Status = models.GradeInputRequestRejected
	}
	r.DecidedBy = &deciderID
	m.requests[id] = r
	return &r, nil
}

func (m *mockGradeRequestRepo) HasActiveGrant(ctx context.Context, facultyID, scheduleID string, quarter int, now time.Time) (bool, error) {
	return m.granted[scheduleID], nil
}

type mockScheduleReader struct {
	schedules map[string]models.ClassSchedule
}

func (m *mockScheduleReader) FindSchedule(ctx context.Context, id string) (*models.ClassSchedule, error) {
	if s, ok := m.schedules[id]; ok {
		return &s, nil
	}
	return nil, sql.ErrNoRows
}

func newGradeFixture() (*GradeService, *mockGradeRepo, *mockGradeRequestRepo, *mockNotifier) {
	repo := &mockGradeRepo{grades: make(map[string]models.Grade)}
	requests := &mockGradeRequestRepo{requests: make(map[string]models.GradeInputRequest), granted: make(map[string]bool)}
	schedules := &mockScheduleReader{schedules: map[string]models.ClassSchedule{
		"sched-1": {ID: "sched-1", SectionID: "sec-1", SubjectID: "sub-1", FacultyID: "fac-1", PeriodID: "period-1", Semester: models.SemesterFirst, Active: true},
		"sched-2": {ID: "sched-2", SectionID: "sec-1", SubjectID: "sub-2", FacultyID: "fac-1", PeriodID: "period-0", Semester: models.SemesterFirst, Active: true},
	}}
	periods := &mockPeriodProvider{period: activeTestPeriod()}
	notify := &mockNotifier{}
	svc := NewGradeService(repo, requests, schedules, periods, notify, nil, time.Hour, nil, nil)
	return svc, repo, requests, notify
}

func upsertPayload(scheduleID string, entries ...QuarterEntry) UpsertGradeRequest {
	return UpsertGradeRequest{
		EnrollmentID: "enr-1",
		StudentID:    "stu-1",
		SubjectID:    "sub-1",
		ScheduleID:   scheduleID,
		Entries:      entries,
	}
}

func TestGradeUpsertCreatesDraft(t *testing.T) {
	svc, repo, _, _ := newGradeFixture()

	grade, err := svc.Upsert(context.Background(), "fac-1", models.RoleFaculty, upsertPayload("sched-1",
		QuarterEntry{Quarter: 1, Value: ptrFloat(85)},
		QuarterEntry{Quarter: 2, Value: ptrFloat(91)},
	))
	require.NoError(t, err)
	assert.Equal(t, models.GradeApprovalDraft, grade.Approval)
	require.NotNil(t, grade.SemesterGrade)
	assert.Equal(t, 88.0, *grade.SemesterGrade)
	assert.Len(t, repo.grades, 1)
}

func TestGradeUpsertQuarterOutsideSemester(t *testing.T) {
	svc, _, _, _ := newGradeFixture()

	_, err := svc.Upsert(context.Background(), "fac-1", models.RoleFaculty, upsertPayload("sched-1",
		QuarterEntry{Quarter: 3, Value: ptrFloat(85)},
	))
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInvalidQuarterForSemester.Code, appErrors.FromError(err).Code)
}

func TestGradeUpsertValueBounds(t *testing.T) {
	svc, _, _, _ := newGradeFixture()

	_, err := svc.Upsert(context.Background(), "fac-1", models.RoleFaculty, upsertPayload("sched-1",
		QuarterEntry{Quarter: 1, Value: ptrFloat(45)},
	))
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)

	// Zero is the "not yet entered" placeholder and must be accepted.
	_, err = svc.Upsert(context.Background(), "fac-1", models.RoleFaculty, upsertPayload("sched-1",
		QuarterEntry{Quarter: 1, Value: ptrFloat(0)},
	))
	require.NoError(t, err)
}

func TestGradeUpsertOwnership(t *testing.T) {
	svc, _, _, _ := newGradeFixture()

	_, err := svc.Upsert(context.Background(), "fac-2", models.RoleFaculty, upsertPayload("sched-1",
		QuarterEntry{Quarter: 1, Value: ptrFloat(85)},
	))
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)

	// Registrars bypass the ownership check.
	_, err = svc.Upsert(context.Background(), "reg-1", models.RoleRegistrar, upsertPayload("sched-1",
		QuarterEntry{Quarter: 1, Value: ptrFloat(85)},
	))
	require.NoError(t, err)
}

func TestGradeUpsertClosedPeriodNeedsGrant(t *testing.T) {
	pinClock(t, time.Now())
	svc, _, requests, _ := newGradeFixture()

	_, err := svc.Upsert(context.Background(), "fac-1", models.RoleFaculty, upsertPayload("sched-2",
		QuarterEntry{Quarter: 1, Value: ptrFloat(85)},
	))
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInputWindowExpired.Code, appErrors.FromError(err).Code)

	requests.granted["sched-2"] = true
	_, err = svc.Upsert(context.Background(), "fac-1", models.RoleFaculty, upsertPayload("sched-2",
		QuarterEntry{Quarter: 1, Value: ptrFloat(85)},
	))
	require.NoError(t, err)
}

func TestGradeUpsertLockedOutsideEditableStates(t *testing.T) {
	svc, repo, _, _ := newGradeFixture()
	repo.grades["g-1"] = models.Grade{
		ID: "g-1", StudentID: "stu-1", SubjectID: "sub-1", ScheduleID: "sched-1", PeriodID: "period-1",
		FacultyID: "fac-1", Semester: models.SemesterFirst, Approval: models.GradeApprovalPending,
	}

	_, err := svc.Upsert(context.Background(), "fac-1", models.RoleFaculty, upsertPayload("sched-1",
		QuarterEntry{Quarter: 1, Value: ptrFloat(85)},
	))
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrGradeLocked.Code, appErrors.FromError(err).Code)
}

func TestGradeSubmitForApproval(t *testing.T) {
	svc, repo, _, notify := newGradeFixture()
	repo.grades["g-1"] = models.Grade{ID: "g-1", FacultyID: "fac-1", Approval: models.GradeApprovalDraft}

	grade, err := svc.SubmitForApproval(context.Background(), "g-1", "fac-1")
	require.NoError(t, err)
	assert.Equal(t, models.GradeApprovalPending, grade.Approval)
	assert.Contains(t, notify.events, EventGradeSubmitted)

	_, err = svc.SubmitForApproval(context.Background(), "g-1", "fac-2")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}

func TestGradeApproveAndReopen(t *testing.T) {
	svc, repo, _, _ := newGradeFixture()
	repo.grades["g-1"] = models.Grade{ID: "g-1", FacultyID: "fac-1", Approval: models.GradeApprovalPending}

	grade, err := svc.Approve(context.Background(), "g-1", "coord-1", GradeDecisionRequest{})
	require.NoError(t, err)
	assert.Equal(t, models.GradeApprovalApproved, grade.Approval)

	grade, err = svc.Reopen(context.Background(), "g-1")
	require.NoError(t, err)
	assert.Equal(t, models.GradeApprovalDraft, grade.Approval)
}

func TestGradeRejectRequiresNotes(t *testing.T) {
	svc, repo, _, _ := newGradeFixture()
	repo.grades["g-1"] = models.Grade{ID: "g-1", Approval: models.GradeApprovalPending}

	_, err := svc.Reject(context.Background(), "g-1", "coord-1", GradeDecisionRequest{})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)

	notes := "second quarter looks wrong"
	grade, err := svc.Reject(context.Background(), "g-1", "coord-1", GradeDecisionRequest{Notes: &notes})
	require.NoError(t, err)
	assert.Equal(t, models.GradeApprovalRejected, grade.Approval)
}

func TestGradeRejectResubmitKeepsQuarters(t *testing.T) {
	svc, _, _, _ := newGradeFixture()

	grade, err := svc.Upsert(context.Background(), "fac-1", models.RoleFaculty, upsertPayload("sched-1",
		QuarterEntry{Quarter: 1, Value: ptrFloat(85)},
		QuarterEntry{Quarter: 2, Value: ptrFloat(91)},
	))
	require.NoError(t, err)

	_, err = svc.SubmitForApproval(context.Background(), grade.ID, "fac-1")
	require.NoError(t, err)

	notes := "second quarter looks wrong"
	rejected, err := svc.Reject(context.Background(), grade.ID, "coord-1", GradeDecisionRequest{Notes: &notes})
	require.NoError(t, err)
	assert.Equal(t, models.GradeApprovalRejected, rejected.Approval)

	resubmitted, err := svc.SubmitForApproval(context.Background(), grade.ID, "fac-1")
	require.NoError(t, err)
	assert.Equal(t, models.GradeApprovalPending, resubmitted.Approval)
	assert.Nil(t, resubmitted.ApprovalNotes)
	require.NotNil(t, resubmitted.FirstQuarter)
	require.NotNil(t, resubmitted.SecondQuarter)
	require.NotNil(t, resubmitted.SemesterGrade)
	assert.Equal(t, 85.0, *resubmitted.FirstQuarter)
	assert.Equal(t, 91.0, *resubmitted.SecondQuarter)
	assert.Equal(t, 88.0, *resubmitted.SemesterGrade)
}

func TestGradeTransitionConflict(t *testing.T) {
	svc, repo, _, _ := newGradeFixture()
	repo.grades["g-1"] = models.Grade{ID: "g-1", Approval: models.GradeApprovalDraft}

	_, err := svc.Approve(context.Background(), "g-1", "coord-1", GradeDecisionRequest{})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrStateConflict.Code, appErrors.FromError(err).Code)
}

func TestGradeRequestInputWindow(t *testing.T) {
	svc, _, requests, _ := newGradeFixture()

	request, err := svc.RequestInputWindow(context.Background(), "fac-1", GradeInputWindowRequest{
		ScheduleID: "sched-2",
		Quarter:    1,
		Reason:     "encoding backlog",
	})
	require.NoError(t, err)
	assert.Equal(t, models.GradeInputRequestPending, request.Status)
	assert.Len(t, requests.requests, 1)

	_, err = svc.RequestInputWindow(context.Background(), "fac-1", GradeInputWindowRequest{
		ScheduleID: "sched-2",
		Quarter:    3,
		Reason:     "encoding backlog",
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInvalidQuarterForSemester.Code, appErrors.FromError(err).Code)
}

func TestGradeDecideInputRequestStampsExpiry(t *testing.T) {
	at := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)
	pinClock(t, at)
	svc, _, requests, notify := newGradeFixture()
	requests.requests["req-1"] = models.GradeInputRequest{ID: "req-1", FacultyID: "fac-1", Status: models.GradeInputRequestPending}

	request, err := svc.DecideInputRequest(context.Background(), "req-1", true, "reg-1")
	require.NoError(t, err)
	assert.Equal(t, models.GradeInputRequestApproved, request.Status)
	assert.Equal(t, at.Add(time.Hour), request.ExpiresAt)
	assert.Contains(t, notify.events, EventGradeRequestDecided)

	_, err = svc.DecideInputRequest(context.Background(), "req-1", true, "reg-1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrStateConflict.Code, appErrors.FromError(err).Code)
}

func TestGradeListInputRequestsFoldsExpiry(t *testing.T) {
	at := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)
	pinClock(t, at)
	svc, _, requests, _ := newGradeFixture()
	requests.requests["req-1"] = models.GradeInputRequest{
		ID: "req-1", FacultyID: "fac-1",
		Status:    models.GradeInputRequestApproved,
		ExpiresAt: at.Add(-time.Minute),
	}

	list, err := svc.ListInputRequests(context.Background(), "fac-1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, models.GradeInputRequestExpired, list[0].Status)
}

func ptrFloat(v float64) *float64 { return &v }
