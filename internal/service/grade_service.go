package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/shs-ims/registrar-api/internal/models"
	"github.com/shs-ims/registrar-api/internal/repository"
	appErrors "github.com/shs-ims/registrar-api/pkg/errors"
)

type gradeRepository interface {
	FindByID(ctx context.Context, id string) (*models.Grade, error)
	FindByKey(ctx context.Context, studentID, subjectID, scheduleID, periodID string) (*models.Grade, error)
	List(ctx context.Context, filter models.GradeFilter) ([]models.Grade, int, error)
	Upsert(ctx context.Context, template *models.Grade, updates []repository.QuarterUpdate) (*models.Grade, error)
	TransitionApproval(ctx context.Context, id string, target models.GradeApprovalStatus, approverID *string, notes *string) (*models.Grade, error)
	ListFailed(ctx context.Context, enrollmentID string) ([]models.Grade, error)
}

type gradeRequestRepository interface {
	Create(ctx context.Context, request *models.GradeInputRequest) error
	FindByID(ctx context.Context, id string) (*models.GradeInputRequest, error)
	ListByFaculty(ctx context.Context, facultyID string) ([]models.GradeInputRequest, error)
	Decide(ctx context.Context, id string, approve bool, deciderID string, expiresAt time.Time) (*models.GradeInputRequest, error)
	HasActiveGrant(ctx context.Context, facultyID, scheduleID string, quarter int, now time.Time) (bool, error)
}

type scheduleReader interface {
	FindSchedule(ctx context.Context, id string) (*models.ClassSchedule, error)
}

// QuarterEntry sets or clears one quarter mark. A nil value clears the slot;
// a literal zero is stored but treated as not-yet-entered.
type QuarterEntry struct {
	Quarter int      `json:"quarter" validate:"required,min=1,max=4"`
	Value   *float64 `json:"value,omitempty"`
}

// UpsertGradeRequest writes quarter marks for one student in one class.
type UpsertGradeRequest struct {
	EnrollmentID string         `json:"enrollment_id" validate:"required"`
	StudentID    string         `json:"student_id" validate:"required"`
	SubjectID    string         `json:"subject_id" validate:"required"`
	ScheduleID   string         `json:"schedule_id" validate:"required"`
	Entries      []QuarterEntry `json:"entries" validate:"required,min=1,dive"`
}

// GradeDecisionRequest carries an approve/reject decision on a submitted
// grade record.
type GradeDecisionRequest struct {
	Notes *string `json:"notes,omitempty"`
}

// GradeInputWindowRequest asks for a time-boxed grant to write grades
// outside the default window.
type GradeInputWindowRequest struct {
	ScheduleID string `json:"schedule_id" validate:"required"`
	Quarter    int    `json:"quarter" validate:"required,min=1,max=4"`
	Reason     string `json:"reason" validate:"required"`
}

// GradeService orchestrates grade entry and the approval workflow. Content
// and review are independent axes: quarter values move only in editable
// review states, and the review state machine is closed.
type GradeService struct {
	repo       gradeRepository
	requests   gradeRequestRepository
	schedules  scheduleReader
	periods    activePeriodProvider
	notifier   notifier
	metrics    *MetricsService
	requestTTL time.Duration
	validator  *validator.Validate
	logger     *zap.Logger
}

// NewGradeService creates a new grade service instance.
func NewGradeService(repo gradeRepository, requests gradeRequestRepository, schedules scheduleReader, periods activePeriodProvider, notify notifier, metrics *MetricsService, requestTTL time.Duration, validate *validator.Validate, logger *zap.Logger) *GradeService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if requestTTL <= 0 {
		requestTTL = 72 * time.Hour
	}
	return &GradeService{
		repo:       repo,
		requests:   requests,
		schedules:  schedules,
		periods:    periods,
		notifier:   notify,
		metrics:    metrics,
		requestTTL: requestTTL,
		validator:  validate,
		logger:     logger,
	}
}

// Get returns a grade by ID.
func (s *GradeService) Get(ctx context.Context, id string) (*models.Grade, error) {
	grade, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "grade not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load grade")
	}
	return grade, nil
}

// List returns paginated grades.
func (s *GradeService) List(ctx context.Context, filter models.GradeFilter) ([]models.Grade, *models.Pagination, error) {
	grades, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list grades")
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
	return grades, pagination, nil
}

// Upsert writes quarter marks for one student in one class. The schedule's
// semester determines which quarters are writable; the faculty member must
// teach the class, and writes against a non-active period require an
// approved input grant.
func (s *GradeService) Upsert(ctx context.Context, facultyID string, actorRole models.UserRole, req UpsertGradeRequest) (*models.Grade, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid grade payload")
	}

	schedule, err := s.schedules.FindSchedule(ctx, req.ScheduleID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "class schedule not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load class schedule")
	}

	privileged := actorRole == models.RoleAdmin || actorRole == models.RoleRegistrar
	if !privileged && schedule.FacultyID != facultyID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "faculty member does not teach this class")
	}

	updates := make([]repository.QuarterUpdate, 0, len(req.Entries))
	for _, entry := range req.Entries {
		if !schedule.Semester.AllowsQuarter(entry.Quarter) {
			return nil, appErrors.ErrInvalidQuarterForSemester
		}
		if entry.Value != nil && *entry.Value != 0 && (*entry.Value < 60 || *entry.Value > 100) {
			return nil, appErrors.Clone(appErrors.ErrValidation, "quarter marks must be between 60 and 100")
		}
		updates = append(updates, repository.QuarterUpdate{Quarter: entry.Quarter, Value: entry.Value})
	}

	period, err := s.periods.GetActive(ctx)
	if err != nil {
		return nil, err
	}
	if !privileged && schedule.PeriodID != period.ID {
		// Writes against a closed period need an approved, unexpired grant
		// covering every touched quarter.
		now := timeNow()
		for _, entry := range req.Entries {
			granted, err := s.requests.HasActiveGrant(ctx, facultyID, req.ScheduleID, entry.Quarter, now)
			if err != nil {
				return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check input grant")
			}
			if !granted {
				return nil, appErrors.ErrInputWindowExpired
			}
		}
	}

	template := &models.Grade{
		EnrollmentID: req.EnrollmentID,
		StudentID:    req.StudentID,
		SubjectID:    req.SubjectID,
		ScheduleID:   req.ScheduleID,
		PeriodID:     schedule.PeriodID,
		FacultyID:    schedule.FacultyID,
		Semester:     schedule.Semester,
	}
	grade, err := s.repo.Upsert(ctx, template, updates)
	if err != nil {
		if errors.Is(err, repository.ErrStateConflict) {
			s.metrics.RecordStateConflict("grade")
			return nil, appErrors.ErrGradeLocked
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to upsert grade")
	}
	return grade, nil
}

// SubmitForApproval moves a draft or rejected grade into review. Quarter
// values freeze until the review concludes.
func (s *GradeService) SubmitForApproval(ctx context.Context, id, facultyID string) (*models.Grade, error) {
	current, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "grade not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load grade")
	}
	if current.FacultyID != facultyID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "faculty member does not own this grade record")
	}

	grade, err := s.transition(ctx, id, models.GradeApprovalPending, nil, nil)
	if err != nil {
		return nil, err
	}
	s.notifier.Notify(EventGradeSubmitted, map[string]interface{}{
		"grade_id":   grade.ID,
		"faculty_id": facultyID,
		"student_id": grade.StudentID,
	})
	return grade, nil
}

// Approve accepts a submitted grade record.
func (s *GradeService) Approve(ctx context.Context, id, approverID string, req GradeDecisionRequest) (*models.Grade, error) {
	grade, err := s.transition(ctx, id, models.GradeApprovalApproved, &approverID, req.Notes)
	if err != nil {
		return nil, err
	}
	s.notifier.Notify(EventGradeApproved, map[string]interface{}{
		"grade_id":    grade.ID,
		"approver_id": approverID,
		"student_id":  grade.StudentID,
	})
	return grade, nil
}

// Reject returns a submitted grade record to the faculty member with notes.
// Quarter values are preserved so the resubmission starts from them.
func (s *GradeService) Reject(ctx context.Context, id, approverID string, req GradeDecisionRequest) (*models.Grade, error) {
	if req.Notes == nil || *req.Notes == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "rejection requires notes")
	}
	grade, err := s.transition(ctx, id, models.GradeApprovalRejected, &approverID, req.Notes)
	if err != nil {
		return nil, err
	}
	s.notifier.Notify(EventGradeRejected, map[string]interface{}{
		"grade_id":    grade.ID,
		"approver_id": approverID,
		"student_id":  grade.StudentID,
	})
	return grade, nil
}

// Reopen returns an approved grade to DRAFT so corrections become possible.
// Registrar-level authority is enforced at the route.
func (s *GradeService) Reopen(ctx context.Context, id string) (*models.Grade, error) {
	return s.transition(ctx, id, models.GradeApprovalDraft, nil, nil)
}

func (s *GradeService) transition(ctx context.Context, id string, target models.GradeApprovalStatus, approverID, notes *string) (*models.Grade, error) {
	grade, err := s.repo.TransitionApproval(ctx, id, target, approverID, notes)
	if err != nil {
		if errors.Is(err, repository.ErrStateConflict) {
			s.metrics.RecordStateConflict("grade")
			return nil, appErrors.Clone(appErrors.ErrStateConflict, "grade cannot move to the requested review state")
		}
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "grade not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to transition grade")
	}
	s.metrics.RecordGradeTransition(string(target))
	return grade, nil
}

// ListFailedSubjects returns the approved failing grades for an enrollment.
func (s *GradeService) ListFailedSubjects(ctx context.Context, enrollmentID string) ([]models.Grade, error) {
	grades, err := s.repo.ListFailed(ctx, enrollmentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list failed grades")
	}
	return grades, nil
}

// RequestInputWindow files a grant request to write grades outside the
// default window.
func (s *GradeService) RequestInputWindow(ctx context.Context, facultyID string, req GradeInputWindowRequest) (*models.GradeInputRequest, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid input window payload")
	}

	schedule, err := s.schedules.FindSchedule(ctx, req.ScheduleID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "class schedule not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load class schedule")
	}
	if schedule.FacultyID != facultyID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "faculty member does not teach this class")
	}
	if !schedule.Semester.AllowsQuarter(req.Quarter) {
		return nil, appErrors.ErrInvalidQuarterForSemester
	}

	request := &models.GradeInputRequest{
		FacultyID:  facultyID,
		ScheduleID: req.ScheduleID,
		PeriodID:   schedule.PeriodID,
		Quarter:    req.Quarter,
		Reason:     req.Reason,
	}
	if err := s.requests.Create(ctx, request); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create input request")
	}
	return request, nil
}

// DecideInputRequest approves or rejects a pending grant. Approval stamps
// the expiry from the configured TTL.
func (s *GradeService) DecideInputRequest(ctx context.Context, id string, approve bool, deciderID string) (*models.GradeInputRequest, error) {
	expiresAt := timeNow().Add(s.requestTTL)
	request, err := s.requests.Decide(ctx, id, approve, deciderID, expiresAt)
	if err != nil {
		if errors.Is(err, repository.ErrStateConflict) {
			return nil, appErrors.Clone(appErrors.ErrStateConflict, "input request has already been decided")
		}
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "input request not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to decide input request")
	}

	s.notifier.Notify(EventGradeRequestDecided, map[string]interface{}{
		"request_id": request.ID,
		"faculty_id": request.FacultyID,
		"status":     request.Status,
	})
	return request, nil
}

// ListInputRequests returns a faculty member's grant requests with expiry
// folded into the reported status.
func (s *GradeService) ListInputRequests(ctx context.Context, facultyID string) ([]models.GradeInputRequest, error) {
	requests, err := s.requests.ListByFaculty(ctx, facultyID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list input requests")
	}
	now := timeNow()
	for i := range requests {
		requests[i].Status = requests[i].EffectiveStatus(now)
	}
	return requests, nil
}
