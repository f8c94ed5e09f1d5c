package service

import (
	"context"
	"database/sql"
	"errors"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/shs-ims/registrar-api/internal/models"
	"github.com/shs-ims/registrar-api/internal/repository"
	appErrors "github.com/shs-ims/registrar-api/pkg/errors"
)

type progressionRepository interface {
	Advance(ctx context.Context, params repository.AdvanceParams) (*models.ProgressionResult, error)
	ListByEnrollment(ctx context.Context, enrollmentID string) ([]models.SemesterProgression, error)
	CreateSummerClass(ctx context.Context, enrollmentID, periodID string, subjectIDs []string) (*models.SummerClass, error)
	RecordSummerResult(ctx context.Context, summerClassID, subjectID string, grade float64) (*models.SummerClass, error)
	FindSummerByEnrollment(ctx context.Context, enrollmentID string) (*models.SummerClass, error)
}

type enrollmentReader interface {
	FindByID(ctx context.Context, id string) (*models.Enrollment, error)
}

type periodReader interface {
	FindByID(ctx context.Context, id string) (*models.Period, error)
}

type failedGradesReader interface {
	ListFailed(ctx context.Context, enrollmentID string) ([]models.Grade, error)
}

// ProgressRequest names the period an enrollment advances into.
type ProgressRequest struct {
	ToPeriodID string `json:"to_period_id" validate:"required"`
}

// SummerResultRequest records one remedial grade.
type SummerResultRequest struct {
	SubjectID string  `json:"subject_id" validate:"required"`
	Grade     float64 `json:"grade" validate:"required,min=60,max=100"`
}

// ProgressionService moves enrollments forward between semesters and grade
// levels, and tracks summer remediation for students with failed subjects.
// Advancement is idempotent: repeating a progression returns the existing
// target instead of duplicating it.
type ProgressionService struct {
	repo        progressionRepository
	enrollments enrollmentReader
	periods     periodReader
	grades      failedGradesReader
	notifier    notifier
	metrics     *MetricsService
	validator   *validator.Validate
	logger      *zap.Logger
}

// NewProgressionService creates a new progression service instance.
func NewProgressionService(repo progressionRepository, enrollments enrollmentReader, periods periodReader, grades failedGradesReader, notify notifier, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger) *ProgressionService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProgressionService{
		repo:        repo,
		enrollments: enrollments,
		periods:     periods,
		grades:      grades,
		notifier:    notify,
		metrics:     metrics,
		validator:   validate,
		logger:      logger,
	}
}

// ProgressToNextGrade advances an enrolled student to the next grade level
// in the target period. Students carrying failed subjects must first close
// them through summer remediation.
func (s *ProgressionService) ProgressToNextGrade(ctx context.Context, enrollmentID string, req ProgressRequest) (*models.ProgressionResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid progression payload")
	}

	source, target, err := s.loadPair(ctx, enrollmentID, req.ToPeriodID)
	if err != nil {
		return nil, err
	}
	if source.GradeLevel >= models.GradeLevel12 {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "student is already at the terminal grade level")
	}
	if !target.AllowProgression {
		return nil, appErrors.ErrProgressionDisabled
	}

	if err := s.requireNoOpenFailures(ctx, source.ID); err != nil {
		return nil, err
	}

	result, err := s.advance(ctx, repository.AdvanceParams{
		StudentID:      source.StudentID,
		FromPeriodID:   source.PeriodID,
		ToPeriodID:     target.ID,
		FromGradeLevel: source.GradeLevel,
		ToGradeLevel:   source.GradeLevel + 1,
		Type:           models.ProgressionGradeAdvance,
	})
	if err != nil {
		return nil, err
	}
	s.notifyProgressed(source, result, models.ProgressionGradeAdvance)
	return result, nil
}

// AdvanceSemester moves an enrolled student into the following semester at
// the same grade level.
func (s *ProgressionService) AdvanceSemester(ctx context.Context, enrollmentID string, req ProgressRequest) (*models.ProgressionResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid progression payload")
	}

	source, target, err := s.loadPair(ctx, enrollmentID, req.ToPeriodID)
	if err != nil {
		return nil, err
	}

	sourcePeriod, err := s.periods.FindByID(ctx, source.PeriodID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load source period")
	}
	if target.Semester != sourcePeriod.Semester.Next() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "target period is not the following semester")
	}

	result, err := s.advance(ctx, repository.AdvanceParams{
		StudentID:      source.StudentID,
		FromPeriodID:   source.PeriodID,
		ToPeriodID:     target.ID,
		FromGradeLevel: source.GradeLevel,
		ToGradeLevel:   source.GradeLevel,
		Type:           models.ProgressionSemesterAdvance,
	})
	if err != nil {
		return nil, err
	}
	s.notifyProgressed(source, result, models.ProgressionSemesterAdvance)
	return result, nil
}

// History returns the progression audit trail for an enrollment.
func (s *ProgressionService) History(ctx context.Context, enrollmentID string) ([]models.SemesterProgression, error) {
	progressions, err := s.repo.ListByEnrollment(ctx, enrollmentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list progressions")
	}
	return progressions, nil
}

// CreateSummerRemedial opens a summer class over the enrollment's failed
// subjects. Idempotent: an existing class is returned as-is.
func (s *ProgressionService) CreateSummerRemedial(ctx context.Context, enrollmentID, periodID string) (*models.SummerClass, error) {
	if _, err := s.enrollments.FindByID(ctx, enrollmentID); err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
	}

	failed, err := s.grades.ListFailed(ctx, enrollmentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list failed grades")
	}
	if len(failed) == 0 {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "enrollment has no failed subjects to remediate")
	}

	subjectIDs := make([]string, 0, len(failed))
	for _, grade := range failed {
		subjectIDs = append(subjectIDs, grade.SubjectID)
	}

	summer, err := s.repo.CreateSummerClass(ctx, enrollmentID, periodID, subjectIDs)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create summer class")
	}
	return summer, nil
}

// RecordSummerResult stores one remedial grade. The class closes itself once
// every subject has passed.
func (s *ProgressionService) RecordSummerResult(ctx context.Context, summerClassID string, req SummerResultRequest) (*models.SummerClass, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid summer result payload")
	}

	summer, err := s.repo.RecordSummerResult(ctx, summerClassID, req.SubjectID, req.Grade)
	if err != nil {
		if errors.Is(err, repository.ErrStateConflict) {
			return nil, appErrors.Clone(appErrors.ErrStateConflict, "summer class is already closed")
		}
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "summer class or subject not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record summer result")
	}
	return summer, nil
}

// GetSummer returns the summer class for an enrollment.
func (s *ProgressionService) GetSummer(ctx context.Context, enrollmentID string) (*models.SummerClass, error) {
	summer, err := s.repo.FindSummerByEnrollment(ctx, enrollmentID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "summer class not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load summer class")
	}
	return summer, nil
}

func (s *ProgressionService) loadPair(ctx context.Context, enrollmentID, toPeriodID string) (*models.Enrollment, *models.Period, error) {
	source, err := s.enrollments.FindByID(ctx, enrollmentID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil, appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
		}
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
	}

	target, err := s.periods.FindByID(ctx, toPeriodID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil, appErrors.Clone(appErrors.ErrNotFound, "target period not found")
		}
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load target period")
	}
	if target.ID == source.PeriodID {
		return nil, nil, appErrors.Clone(appErrors.ErrValidation, "target period must differ from the source period")
	}
	return source, target, nil
}

// requireNoOpenFailures blocks grade advancement while approved failing
// grades remain uncleared by summer remediation.
func (s *ProgressionService) requireNoOpenFailures(ctx context.Context, enrollmentID string) error {
	failed, err := s.grades.ListFailed(ctx, enrollmentID)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list failed grades")
	}
	if len(failed) == 0 {
		return nil
	}

	summer, err := s.repo.FindSummerByEnrollment(ctx, enrollmentID)
	if err != nil {
		if err == sql.ErrNoRows {
			return appErrors.Clone(appErrors.ErrPreconditionFailed, "failed subjects require summer remediation before progression")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load summer class")
	}
	if summer.Status != models.SummerClassCompleted {
		return appErrors.Clone(appErrors.ErrPreconditionFailed, "summer remediation is still in progress")
	}
	return nil
}

func (s *ProgressionService) advance(ctx context.Context, params repository.AdvanceParams) (*models.ProgressionResult, error) {
	result, err := s.repo.Advance(ctx, params)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrNoTargetSection):
			return nil, appErrors.ErrNoTargetSection
		case errors.Is(err, repository.ErrStateConflict):
			s.metrics.RecordStateConflict("progression")
			return nil, appErrors.Clone(appErrors.ErrStateConflict, "only enrolled students can progress")
		case err == sql.ErrNoRows:
			return nil, appErrors.Clone(appErrors.ErrNotFound, "source enrollment not found")
		default:
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to progress enrollment")
		}
	}
	return result, nil
}

func (s *ProgressionService) notifyProgressed(source *models.Enrollment, result *models.ProgressionResult, progressionType models.ProgressionType) {
	if result.AlreadyProgressed {
		return
	}
	s.metrics.RecordProgression(string(progressionType))
	s.notifier.Notify(EventStudentProgressed, map[string]interface{}{
		"student_id":         source.StudentID,
		"from_enrollment_id": source.ID,
		"to_enrollment_id":   result.NewEnrollmentID,
		"type":               progressionType,
	})
}
