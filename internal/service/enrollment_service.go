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

// timeNow is swapped in tests to pin the clock.
var timeNow = func() time.Time { return time.Now().UTC() }

type enrollmentRepository interface {
	List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, int, error)
	FindByID(ctx context.Context, id string) (*models.Enrollment, error)
	FindDetailByID(ctx context.Context, id string) (*models.EnrollmentDetail, error)
	ExistsNonRejected(ctx context.Context, studentID, periodID string) (bool, error)
	Create(ctx context.Context, enrollment *models.Enrollment, previous *models.PreviousSchool) error
	RecordEvaluation(ctx context.Context, id, coordinatorID string, notes *string, credited []models.CreditedSubject) (*models.Enrollment, error)
	ReturnForRevision(ctx context.Context, id, coordinatorID, notes string) (*models.Enrollment, error)
	Decide(ctx context.Context, params repository.DecideParams) (*models.Enrollment, error)
	Finalize(ctx context.Context, id string) (*models.Enrollment, int, error)
	ListCreditedSubjects(ctx context.Context, enrollmentID string) ([]models.CreditedSubject, error)
	FindPreviousSchool(ctx context.Context, enrollmentID string) (*models.PreviousSchool, error)
}

type sectionReader interface {
	FindByID(ctx context.Context, id string) (*models.Section, error)
}

type studentReader interface {
	FindByID(ctx context.Context, id string) (*models.Student, error)
}

type activePeriodProvider interface {
	GetActive(ctx context.Context) (*models.Period, error)
}

type notifier interface {
	Notify(event string, payload map[string]interface{})
}

type loadRecomputeTrigger interface {
	Trigger(periodID string)
}

type classDetailStore interface {
	ListByEnrollment(ctx context.Context, enrollmentID string) ([]models.ClassDetail, error)
	FindByID(ctx context.Context, id string) (*models.ClassDetail, error)
	Override(ctx context.Context, id string, status models.ClassDetailStatus) error
}

// SubmitEnrollmentRequest is the intake payload. Transferees must include
// their previous school; regular students must not.
type SubmitEnrollmentRequest struct {
	StudentID         string                 `json:"student_id" validate:"required"`
	GradeLevel        int                    `json:"grade_level" validate:"required,oneof=11 12"`
	StrandPreferences []string               `json:"strand_preferences" validate:"required,min=1,max=3"`
	Type              models.EnrollmentType  `json:"enrollment_type" validate:"required,oneof=REGULAR TRANSFEREE"`
	PreviousSchool    *PreviousSchoolRequest `json:"previous_school,omitempty"`
}

// PreviousSchoolRequest records a transferee's school of origin.
type PreviousSchoolRequest struct {
	Name      string  `json:"name" validate:"required"`
	Address   *string `json:"address,omitempty"`
	LastLevel *string `json:"last_level,omitempty"`
}

// EvaluationRequest carries a coordinator's transferee evaluation.
type EvaluationRequest struct {
	Notes            *string                  `json:"notes,omitempty"`
	CreditedSubjects []CreditedSubjectRequest `json:"credited_subjects" validate:"dive"`
}

// CreditedSubjectRequest credits one subject taken at the previous school.
type CreditedSubjectRequest struct {
	SubjectID string  `json:"subject_id" validate:"required"`
	Grade     float64 `json:"grade" validate:"required,min=60,max=100"`
	Remarks   *string `json:"remarks,omitempty"`
}

// DecideEnrollmentRequest carries an approve/reject decision. Approval binds
// the student to a strand and section; rejection requires a reason.
type DecideEnrollmentRequest struct {
	Approve   bool    `json:"approve"`
	Strand    string  `json:"strand,omitempty"`
	SectionID string  `json:"section_id,omitempty"`
	Notes     *string `json:"notes,omitempty"`
}

// EnrollmentService orchestrates the enrollment lifecycle from submission to
// finalization, including the transferee evaluation sub-flow.
type EnrollmentService struct {
	repo         enrollmentRepository
	sections     sectionReader
	students     studentReader
	periods      activePeriodProvider
	classDetails classDetailStore
	notifier     notifier
	loads        loadRecomputeTrigger
	metrics      *MetricsService
	validator    *validator.Validate
	logger       *zap.Logger
}

// NewEnrollmentService creates a new enrollment service instance.
func NewEnrollmentService(repo enrollmentRepository, sections sectionReader, students studentReader, periods activePeriodProvider, classDetails classDetailStore, notify notifier, loads loadRecomputeTrigger, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger) *EnrollmentService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EnrollmentService{
		repo:         repo,
		sections:     sections,
		students:     students,
		periods:      periods,
		classDetails: classDetails,
		notifier:     notify,
		loads:        loads,
		metrics:      metrics,
		validator:    validate,
		logger:       logger,
	}
}

// List returns paginated enrollments.
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

// Get returns an enrollment with contextual info, including the transferee
// sub-entities when present.
func (s *EnrollmentService) Get(ctx context.Context, id string) (*models.EnrollmentDetail, []models.CreditedSubject, *models.PreviousSchool, error) {
	detail, err := s.repo.FindDetailByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil, nil, appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
		}
		return nil, nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
	}

	if detail.Type != models.EnrollmentTypeTransferee {
		return detail, nil, nil, nil
	}

	credited, err := s.repo.ListCreditedSubjects(ctx, id)
	if err != nil {
		return nil, nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load credited subjects")
	}
	previous, err := s.repo.FindPreviousSchool(ctx, id)
	if err != nil && err != sql.ErrNoRows {
		return nil, nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load previous school")
	}
	return detail, credited, previous, nil
}

// Submit accepts a new enrollment for the active period. Transferees are
// routed to PENDING_EVALUATION; everyone else starts at PENDING. At most one
// non-rejected enrollment may exist per student and period.
func (s *EnrollmentService) Submit(ctx context.Context, req SubmitEnrollmentRequest) (*models.Enrollment, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid enrollment payload")
	}
	if req.Type == models.EnrollmentTypeTransferee && req.PreviousSchool == nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "transferee enrollment requires previous_school")
	}
	if req.Type == models.EnrollmentTypeRegular && req.PreviousSchool != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "previous_school only applies to transferees")
	}

	period, err := s.periods.GetActive(ctx)
	if err != nil {
		return nil, err
	}
	if !period.AcceptsEnrollment(timeNow()) {
		return nil, appErrors.ErrEnrollmentClosed
	}

	student, err := s.students.FindByID(ctx, req.StudentID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}
	if !student.Active {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "student record is inactive")
	}

	// Fast path for the common double-submit; the authoritative guard runs
	// inside the Create transaction under the student row lock.
	exists, err := s.repo.ExistsNonRejected(ctx, req.StudentID, period.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check existing enrollment")
	}
	if exists {
		return nil, appErrors.ErrAlreadyEnrolled
	}

	status := models.EnrollmentStatusPending
	var previous *models.PreviousSchool
	if req.Type == models.EnrollmentTypeTransferee {
		status = models.EnrollmentStatusPendingEvaluation
		previous = &models.PreviousSchool{
			Name:      req.PreviousSchool.Name,
			Address:   req.PreviousSchool.Address,
			LastLevel: req.PreviousSchool.LastLevel,
		}
	}

	enrollment := &models.Enrollment{
		StudentID:         req.StudentID,
		PeriodID:          period.ID,
		GradeLevel:        req.GradeLevel,
		StrandPreferences: req.StrandPreferences,
		Status:            status,
		Type:              req.Type,
	}
	if err := s.repo.Create(ctx, enrollment, previous); err != nil {
		if errors.Is(err, repository.ErrDuplicateEnrollment) {
			return nil, appErrors.ErrAlreadyEnrolled
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create enrollment")
	}

	s.metrics.RecordEnrollmentTransition(string(enrollment.Status))
	s.notifier.Notify(EventEnrollmentSubmitted, map[string]interface{}{
		"enrollment_id": enrollment.ID,
		"student_id":    enrollment.StudentID,
		"period_id":     enrollment.PeriodID,
		"type":          enrollment.Type,
		"status":        enrollment.Status,
	})
	return enrollment, nil
}

// RecordEvaluation stores a coordinator's transferee evaluation, moving the
// enrollment to EVALUATED.
func (s *EnrollmentService) RecordEvaluation(ctx context.Context, id, coordinatorID string, req EvaluationRequest) (*models.Enrollment, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid evaluation payload")
	}

	current, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
	}
	if current.Type != models.EnrollmentTypeTransferee {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "evaluation only applies to transferee enrollments")
	}

	credited := make([]models.CreditedSubject, 0, len(req.CreditedSubjects))
	for _, c := range req.CreditedSubjects {
		credited = append(credited, models.CreditedSubject{
			SubjectID: c.SubjectID,
			Grade:     c.Grade,
			Remarks:   c.Remarks,
		})
	}

	enrollment, err := s.repo.RecordEvaluation(ctx, id, coordinatorID, req.Notes, credited)
	if err != nil {
		if errors.Is(err, repository.ErrStateConflict) {
			s.metrics.RecordStateConflict("enrollment")
			return nil, appErrors.Clone(appErrors.ErrStateConflict, "enrollment is not awaiting evaluation")
		}
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record evaluation")
	}

	s.metrics.RecordEnrollmentTransition(string(enrollment.Status))
	s.notifier.Notify(EventEnrollmentEvaluated, map[string]interface{}{
		"enrollment_id":  enrollment.ID,
		"coordinator_id": coordinatorID,
		"credited_count": len(credited),
	})
	return enrollment, nil
}

// ReturnForRevision bounces an evaluated transferee back to the evaluation
// queue. The only backward edge in the enrollment lifecycle, and notes are
// mandatory so the evaluator knows what to fix.
func (s *EnrollmentService) ReturnForRevision(ctx context.Context, id, coordinatorID, notes string) (*models.Enrollment, error) {
	if notes == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "revision notes are required")
	}

	enrollment, err := s.repo.ReturnForRevision(ctx, id, coordinatorID, notes)
	if err != nil {
		if errors.Is(err, repository.ErrStateConflict) {
			s.metrics.RecordStateConflict("enrollment")
			return nil, appErrors.Clone(appErrors.ErrStateConflict, "only evaluated enrollments can be returned for revision")
		}
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to return enrollment for revision")
	}

	s.metrics.RecordEnrollmentTransition(string(enrollment.Status))
	s.notifier.Notify(EventEnrollmentReturned, map[string]interface{}{
		"enrollment_id":  enrollment.ID,
		"coordinator_id": coordinatorID,
	})
	return enrollment, nil
}

// Decide approves or rejects an enrollment. Approval binds the student to
// one of their requested strands (defaulting to the first preference) and
// requires a section matching that strand, the enrollment's grade level and
// period; rejection requires a reason. Concurrent decisions serialize on the
// row lock and the loser receives a state conflict.
func (s *EnrollmentService) Decide(ctx context.Context, id, coordinatorID string, req DecideEnrollmentRequest) (*models.Enrollment, error) {
	current, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
	}

	if req.Approve {
		if req.SectionID == "" {
			return nil, appErrors.Clone(appErrors.ErrValidation, "approval requires section_id")
		}
		if req.Strand == "" {
			req.Strand = current.RequestedStrand()
		}
		if !current.RequestsStrand(req.Strand) {
			return nil, appErrors.Clone(appErrors.ErrSectionStrandMismatch, "strand is not among the student's requested strands")
		}
		section, err := s.sections.FindByID(ctx, req.SectionID)
		if err != nil {
			if err == sql.ErrNoRows {
				return nil, appErrors.Clone(appErrors.ErrNotFound, "section not found")
			}
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load section")
		}
		if section.Strand != req.Strand {
			return nil, appErrors.ErrSectionStrandMismatch
		}
		if section.GradeLevel != current.GradeLevel {
			return nil, appErrors.Clone(appErrors.ErrSectionStrandMismatch, "section grade level does not match the enrollment")
		}
		if section.PeriodID != current.PeriodID {
			return nil, appErrors.Clone(appErrors.ErrSectionStrandMismatch, "section belongs to a different period")
		}
	} else if req.Notes == nil || *req.Notes == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "rejection requires notes")
	}

	enrollment, err := s.repo.Decide(ctx, repository.DecideParams{
		EnrollmentID:  id,
		Approve:       req.Approve,
		SectionID:     req.SectionID,
		Strand:        req.Strand,
		CoordinatorID: coordinatorID,
		Notes:         req.Notes,
	})
	if err != nil {
		if errors.Is(err, repository.ErrStateConflict) {
			s.metrics.RecordStateConflict("enrollment")
			return nil, appErrors.Clone(appErrors.ErrStateConflict, "enrollment has already been decided")
		}
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to decide enrollment")
	}

	s.metrics.RecordEnrollmentTransition(string(enrollment.Status))
	event := EventEnrollmentRejected
	if req.Approve {
		event = EventEnrollmentApproved
	}
	s.notifier.Notify(event, map[string]interface{}{
		"enrollment_id":  enrollment.ID,
		"student_id":     enrollment.StudentID,
		"coordinator_id": coordinatorID,
		"status":         enrollment.Status,
	})
	return enrollment, nil
}

// Finalize moves an approved enrollment to ENROLLED, creating its class
// memberships in the same transaction. A faculty load recompute is enqueued
// after commit since membership affects class rosters.
func (s *EnrollmentService) Finalize(ctx context.Context, id string) (*models.Enrollment, int, error) {
	enrollment, created, err := s.repo.Finalize(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrStateConflict) {
			s.metrics.RecordStateConflict("enrollment")
			return nil, 0, appErrors.Clone(appErrors.ErrStateConflict, "only approved enrollments can be finalized")
		}
		if err == sql.ErrNoRows {
			return nil, 0, appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
		}
		return nil, 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to finalize enrollment")
	}

	if s.loads != nil {
		s.loads.Trigger(enrollment.PeriodID)
	}
	s.metrics.RecordEnrollmentTransition(string(enrollment.Status))
	s.notifier.Notify(EventEnrollmentFinalized, map[string]interface{}{
		"enrollment_id": enrollment.ID,
		"student_id":    enrollment.StudentID,
		"class_count":   created,
	})
	return enrollment, created, nil
}

// ListClassDetails returns the class memberships created at finalization.
func (s *EnrollmentService) ListClassDetails(ctx context.Context, enrollmentID string) ([]models.ClassDetail, error) {
	if _, err := s.repo.FindByID(ctx, enrollmentID); err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
	}

	details, err := s.classDetails.ListByEnrollment(ctx, enrollmentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list class details")
	}
	return details, nil
}

// OverrideClassDetail applies a per-subject coordinator decision on one class
// membership. The enrollment itself is untouched; a load recompute is
// triggered because approval toggles roster membership.
func (s *EnrollmentService) OverrideClassDetail(ctx context.Context, id string, status models.ClassDetailStatus) (*models.ClassDetail, error) {
	switch status {
	case models.ClassDetailApproved, models.ClassDetailRejected:
	default:
		return nil, appErrors.Clone(appErrors.ErrValidation, "status must be APPROVED or REJECTED")
	}

	detail, err := s.classDetails.FindByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "class detail not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load class detail")
	}

	if err := s.classDetails.Override(ctx, id, status); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to override class detail")
	}
	detail.Status = status
	detail.IsEnrolled = status == models.ClassDetailApproved

	if s.loads != nil {
		s.loads.Trigger(detail.PeriodID)
	}
	return detail, nil
}
