package service

import (
	"context"
	"database/sql"

	"go.uber.org/zap"

	"github.com/shs-ims/registrar-api/internal/models"
	appErrors "github.com/shs-ims/registrar-api/pkg/errors"
)

type sectionCatalogRepository interface {
	FindByID(ctx context.Context, id string) (*models.Section, error)
	ListByPeriod(ctx context.Context, periodID string) ([]models.Section, error)
	ListSchedules(ctx context.Context, sectionID, periodID string) ([]models.ClassSchedule, error)
}

type subjectCatalogRepository interface {
	FindByID(ctx context.Context, id string) (*models.Subject, error)
	List(ctx context.Context, strand string) ([]models.Subject, error)
}

// CatalogService serves the section and subject reference data that the
// enrollment and grading workflows bind against.
type CatalogService struct {
	sections sectionCatalogRepository
	subjects subjectCatalogRepository
	logger   *zap.Logger
}

// NewCatalogService creates a new catalog service instance.
func NewCatalogService(sections sectionCatalogRepository, subjects subjectCatalogRepository, logger *zap.Logger) *CatalogService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CatalogService{sections: sections, subjects: subjects, logger: logger}
}

// ListSections returns the sections configured for a period.
func (s *CatalogService) ListSections(ctx context.Context, periodID string) ([]models.Section, error) {
	sections, err := s.sections.ListByPeriod(ctx, periodID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list sections")
	}
	return sections, nil
}

// GetSection returns one section with its active class schedules.
func (s *CatalogService) GetSection(ctx context.Context, id string) (*models.Section, []models.ClassSchedule, error) {
	section, err := s.sections.FindByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil, appErrors.Clone(appErrors.ErrNotFound, "section not found")
		}
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load section")
	}

	schedules, err := s.sections.ListSchedules(ctx, section.ID, section.PeriodID)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list section schedules")
	}
	return section, schedules, nil
}

// ListSubjects returns the subject catalog, optionally scoped to a strand.
func (s *CatalogService) ListSubjects(ctx context.Context, strand string) ([]models.Subject, error) {
	subjects, err := s.subjects.List(ctx, strand)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list subjects")
	}
	return subjects, nil
}

// GetSubject returns one subject.
func (s *CatalogService) GetSubject(ctx context.Context, id string) (*models.Subject, error) {
	subject, err := s.subjects.FindByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "subject not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load subject")
	}
	return subject, nil
}
