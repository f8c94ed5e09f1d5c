package service

import (
	"context"
	"database/sql"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/shs-ims/registrar-api/internal/models"
	appErrors "github.com/shs-ims/registrar-api/pkg/errors"
)

const activePeriodCacheKey = "periods:active"

type periodRepository interface {
	List(ctx context.Context, filter models.PeriodFilter) ([]models.Period, int, error)
	FindByID(ctx context.Context, id string) (*models.Period, error)
	FindActive(ctx context.Context) (*models.Period, error)
	ExistsByYearAndSemester(ctx context.Context, yearStart int, semester models.Semester, excludeID string) (bool, error)
	Create(ctx context.Context, period *models.Period) error
	Update(ctx context.Context, period *models.Period) error
	SetActive(ctx context.Context, id string) error
	SetEnrollmentWindow(ctx context.Context, id string, open bool, start, end *time.Time) error
	SetProgression(ctx context.Context, id string, allowed bool) error
}

type periodCache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	DeleteByPattern(ctx context.Context, pattern string) error
}

// CreatePeriodRequest describes payload for creating school periods.
type CreatePeriodRequest struct {
	YearStart int             `json:"year_start" validate:"required,min=2000"`
	YearEnd   int             `json:"year_end" validate:"required,min=2000"`
	Semester  models.Semester `json:"semester" validate:"required"`
	IsActive  bool            `json:"is_active"`
}

// UpdatePeriodRequest modifies the school year and semester of a period.
type UpdatePeriodRequest struct {
	YearStart int             `json:"year_start" validate:"required,min=2000"`
	YearEnd   int             `json:"year_end" validate:"required,min=2000"`
	Semester  models.Semester `json:"semester" validate:"required"`
}

// EnrollmentWindowRequest toggles the enrollment window of a period.
type EnrollmentWindowRequest struct {
	Open  bool       `json:"open"`
	Start *time.Time `json:"start,omitempty"`
	End   *time.Time `json:"end,omitempty"`
}

// ProgressionFlagRequest toggles grade progression for a period.
type ProgressionFlagRequest struct {
	Allowed bool `json:"allowed"`
}

// PeriodService orchestrates school period management. The active period is
// cached because every lifecycle operation resolves it first.
type PeriodService struct {
	repo      periodRepository
	cache     periodCache
	cacheTTL  time.Duration
	validator *validator.Validate
	logger    *zap.Logger
}

// NewPeriodService creates a new period service instance.
func NewPeriodService(repo periodRepository, cache periodCache, cacheTTL time.Duration, validate *validator.Validate, logger *zap.Logger) *PeriodService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cacheTTL <= 0 {
		cacheTTL = 5 * time.Minute
	}
	return &PeriodService{repo: repo, cache: cache, cacheTTL: cacheTTL, validator: validate, logger: logger}
}

// List returns paginated periods.
func (s *PeriodService) List(ctx context.Context, filter models.PeriodFilter) ([]models.Period, *models.Pagination, error) {
	periods, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list periods")
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
	return periods, pagination, nil
}

// Get returns a period by ID.
func (s *PeriodService) Get(ctx context.Context, id string) (*models.Period, error) {
	period, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "period not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load period")
	}
	return period, nil
}

// GetActive resolves the single active period, serving from cache when
// possible. The absence of an active period is an operator error surfaced as
// NO_ACTIVE_PERIOD, not a plain not-found.
func (s *PeriodService) GetActive(ctx context.Context) (*models.Period, error) {
	if s.cache != nil {
		var cached models.Period
		if err := s.cache.Get(ctx, activePeriodCacheKey, &cached); err == nil {
			return &cached, nil
		}
	}

	period, err := s.repo.FindActive(ctx)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.ErrNoActivePeriod
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load active period")
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, activePeriodCacheKey, period, s.cacheTTL); err != nil {
			s.logger.Warn("failed to cache active period", zap.Error(err))
		}
	}
	return period, nil
}

// Create adds a new period ensuring (year, semester) uniqueness.
func (s *PeriodService) Create(ctx context.Context, req CreatePeriodRequest) (*models.Period, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid period payload")
	}
	if !req.Semester.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "semester must be 1st or 2nd")
	}
	if req.YearEnd != req.YearStart+1 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "year_end must be year_start + 1")
	}

	exists, err := s.repo.ExistsByYearAndSemester(ctx, req.YearStart, req.Semester, "")
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check period uniqueness")
	}
	if exists {
		return nil, appErrors.Clone(appErrors.ErrConflict, "period already exists for school year and semester")
	}

	period := &models.Period{
		YearStart: req.YearStart,
		YearEnd:   req.YearEnd,
		Semester:  req.Semester,
	}
	if err := s.repo.Create(ctx, period); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create period")
	}

	if req.IsActive {
		if err := s.repo.SetActive(ctx, period.ID); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to activate period")
		}
		period.IsActive = true
		s.invalidateCache(ctx)
	}

	return period, nil
}

// Update changes a period's school year or semester, keeping the
// (year, semester) tuple unique across the registry.
func (s *PeriodService) Update(ctx context.Context, id string, req UpdatePeriodRequest) (*models.Period, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid period payload")
	}
	if !req.Semester.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "semester must be 1st or 2nd")
	}
	if req.YearEnd != req.YearStart+1 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "year_end must be year_start + 1")
	}

	period, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "period not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load period")
	}

	exists, err := s.repo.ExistsByYearAndSemester(ctx, req.YearStart, req.Semester, id)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check period uniqueness")
	}
	if exists {
		return nil, appErrors.Clone(appErrors.ErrConflict, "period already exists for school year and semester")
	}

	period.YearStart = req.YearStart
	period.YearEnd = req.YearEnd
	period.Semester = req.Semester
	if err := s.repo.Update(ctx, period); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update period")
	}

	s.invalidateCache(ctx)
	return period, nil
}

// SetActive designates a period as the single active one.
func (s *PeriodService) SetActive(ctx context.Context, id string) (*models.Period, error) {
	period, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "period not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load period")
	}

	if err := s.repo.SetActive(ctx, period.ID); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to activate period")
	}
	period.IsActive = true
	s.invalidateCache(ctx)
	return period, nil
}

// SetEnrollmentWindow opens or closes submissions for the period.
func (s *PeriodService) SetEnrollmentWindow(ctx context.Context, id string, req EnrollmentWindowRequest) (*models.Period, error) {
	if req.Start != nil && req.End != nil && !req.Start.Before(*req.End) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "window start must be before end")
	}

	period, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "period not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load period")
	}

	if err := s.repo.SetEnrollmentWindow(ctx, id, req.Open, req.Start, req.End); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to set enrollment window")
	}
	period.EnrollmentOpen = req.Open
	period.EnrollmentStart = req.Start
	period.EnrollmentEnd = req.End
	s.invalidateCache(ctx)
	return period, nil
}

// SetProgression enables or disables grade progression for the period.
func (s *PeriodService) SetProgression(ctx context.Context, id string, req ProgressionFlagRequest) (*models.Period, error) {
	period, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "period not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load period")
	}

	if err := s.repo.SetProgression(ctx, id, req.Allowed); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to set progression flag")
	}
	period.AllowProgression = req.Allowed
	s.invalidateCache(ctx)
	return period, nil
}

func (s *PeriodService) invalidateCache(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.DeleteByPattern(ctx, "periods:*"); err != nil {
		s.logger.Warn("failed to invalidate period cache", zap.Error(err))
	}
}
